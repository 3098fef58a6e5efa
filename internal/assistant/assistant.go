// ABOUTME: Service interface and run types for the hosted assistant
// ABOUTME: Threads hold history, runs are polled until a terminal status

package assistant

import "context"

// RunStatus is the lifecycle state reported for a run.
type RunStatus string

const (
	StatusQueued         RunStatus = "queued"
	StatusInProgress     RunStatus = "in_progress"
	StatusRequiresAction RunStatus = "requires_action"
	StatusCompleted      RunStatus = "completed"
	StatusFailed         RunStatus = "failed"
	StatusExpired        RunStatus = "expired"
	StatusCancelling     RunStatus = "cancelling"
	StatusCancelled      RunStatus = "cancelled"
	StatusIncomplete     RunStatus = "incomplete"
)

// Pending reports whether a run in this status still needs polling.
func (s RunStatus) Pending() bool {
	switch s {
	case StatusQueued, StatusInProgress, StatusRequiresAction:
		return true
	}
	return false
}

// ToolCall is one function invocation requested by a paused run.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string // raw JSON as produced by the model
}

// Run is a snapshot of a run as last observed.
type Run struct {
	ID        string
	ThreadID  string
	Status    RunStatus
	ToolCalls []ToolCall // set only while Status is requires_action
	LastError string
}

// ToolOutput answers a single ToolCall.
type ToolOutput struct {
	ToolCallID string
	Output     string
}

// Service is the subset of the assistant API used by the bridge.
type Service interface {
	CreateThread(ctx context.Context) (string, error)
	AppendMessage(ctx context.Context, threadID, text string) error
	CreateRun(ctx context.Context, threadID string) (*Run, error)
	GetRun(ctx context.Context, threadID, runID string) (*Run, error)
	SubmitToolOutputs(ctx context.Context, threadID, runID string, outputs []ToolOutput) (*Run, error)
	LatestReply(ctx context.Context, threadID string) (string, error)
}
