// Package assistant is the boundary to the hosted assistant service.
//
// # Overview
//
// The assistant keeps conversational history in remote threads and reasons
// over them in runs. This package exposes the handful of calls the bridge
// needs as the Service interface:
//
//   - CreateThread: open a new empty thread
//   - AppendMessage: add one user message to a thread
//   - CreateRun / GetRun: start a run and observe its status
//   - SubmitToolOutputs: answer every pending tool call of a paused run
//   - LatestReply: read the newest assistant message of a thread
//
// # Run lifecycle
//
//	queued -> in_progress -> completed
//	              |  ^
//	              v  |
//	        requires_action        (tool outputs submitted)
//
//	in_progress -> failed | expired | cancelled | incomplete
//
// Pending reports whether a status is still moving; the conversation
// package owns the polling loop.
//
// # Errors
//
// Every failure is returned as *Error carrying the operation and a Kind,
// so callers branch on KindOf(err) instead of inspecting SDK error types.
package assistant
