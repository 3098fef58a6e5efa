// Package conversation drives assistant runs for incoming user messages.
//
// # Service
//
// A Service turns one user utterance into one user-facing reply:
//
//	svc := conversation.New(assistantSvc, registry, dispatcher, logger)
//	outcome := svc.Handle(ctx, caller, "I want pricing")
//
// Handle never returns an error. Every path ends in an Outcome whose Text is
// ready to hand to the reply formatter.
//
// # Run lifecycle
//
//  1. Acquire the caller's in-flight guard (overlapping messages get OutcomeBusy)
//  2. Resolve the caller's thread through the session registry
//  3. Append the utterance to the thread and create a run
//  4. Poll the run on a fixed interval, up to Policy.MaxPolls times
//  5. On requires_action, dispatch every pending tool call in order and submit
//     all outputs in a single batch
//  6. Map the terminal status to an Outcome
//
// Terminal mapping:
//
//   - completed: the newest assistant message in the thread
//   - failed, cancelled, incomplete: Messages.Failed
//   - expired: Messages.Expired
//   - poll ceiling reached: Messages.Technical (OutcomeTimedOut)
//   - any collaborator error: Messages.Technical (OutcomeError)
//
// The remote run is never cancelled when the ceiling is hit; its late result
// is simply discarded.
//
// # Events
//
// Progress is published on an EventBroadcaster keyed by user key, so callers
// can refresh typing indicators or observe runs without polling the service.
package conversation
