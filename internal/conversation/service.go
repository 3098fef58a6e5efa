// ABOUTME: Service drives one assistant run per user message to a terminal outcome
// ABOUTME: Polls on a bounded policy, answers tool calls in one batch and maps statuses to replies

package conversation

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/nscnavi/leadbridge/internal/assistant"
	"github.com/nscnavi/leadbridge/internal/session"
	"github.com/nscnavi/leadbridge/internal/tools"
)

// Threads resolves thread handles and guards in-flight runs per user.
type Threads interface {
	GetOrCreate(ctx context.Context, key string) (string, error)
	Acquire(key string) (release func(), err error)
}

// ToolDispatcher executes tool calls requested by the assistant.
type ToolDispatcher interface {
	Dispatch(ctx context.Context, call assistant.ToolCall, caller tools.Caller) assistant.ToolOutput
}

// OutcomeKind classifies how a run ended.
type OutcomeKind string

const (
	OutcomeCompleted OutcomeKind = "completed"
	OutcomeFailed    OutcomeKind = "failed"
	OutcomeExpired   OutcomeKind = "expired"
	OutcomeTimedOut  OutcomeKind = "timed_out"
	OutcomeError     OutcomeKind = "error"
	OutcomeBusy      OutcomeKind = "busy"
)

// Outcome is the result of handling one utterance. Text is always set.
type Outcome struct {
	Kind      OutcomeKind
	Text      string
	ThreadID  string
	RunID     string
	Polls     int
	ToolCalls int
	Err       error // set for OutcomeError
}

// Messages are the fixed replies for non-completed outcomes.
type Messages struct {
	Failed    string
	Expired   string
	Technical string
	Busy      string
}

// DefaultMessages returns the built-in English replies.
func DefaultMessages() Messages {
	return ContactMessages("+7 (342) 225-29-58", "sale@nsc-navi.ru")
}

// ContactMessages returns the built-in replies pointing users at the given
// phone and email.
func ContactMessages(phone, email string) Messages {
	return Messages{
		Failed:    "😔 Sorry, something went wrong while processing your request. Please try again or contact us: " + phone,
		Expired:   "⏱️ The request took too long. Please try again with a shorter message.",
		Technical: "😔 Sorry, a technical error occurred. Please contact us directly: " + email + " or " + phone,
		Busy:      "⏳ I'm still working on your previous message, please wait for the answer.",
	}
}

// Policy bounds the polling loop.
type Policy struct {
	MaxPolls int
	Interval time.Duration
}

// DefaultPolicy polls 60 times at 500ms, a 30 second ceiling.
func DefaultPolicy() Policy {
	return Policy{MaxPolls: 60, Interval: 500 * time.Millisecond}
}

// Sleeper waits between polls.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type timerSleeper struct{}

func (timerSleeper) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Option configures a Service.
type Option func(*Service)

// WithPolicy overrides the polling policy.
func WithPolicy(p Policy) Option { return func(s *Service) { s.policy = p } }

// WithSleeper overrides how the service waits between polls.
func WithSleeper(sl Sleeper) Option { return func(s *Service) { s.sleeper = sl } }

// WithMessages overrides the fixed replies. Empty fields keep their defaults.
func WithMessages(m Messages) Option {
	return func(s *Service) {
		if m.Failed != "" {
			s.messages.Failed = m.Failed
		}
		if m.Expired != "" {
			s.messages.Expired = m.Expired
		}
		if m.Technical != "" {
			s.messages.Technical = m.Technical
		}
		if m.Busy != "" {
			s.messages.Busy = m.Busy
		}
	}
}

// WithBroadcaster publishes run progress on b.
func WithBroadcaster(b *EventBroadcaster) Option { return func(s *Service) { s.events = b } }

// Service orchestrates assistant runs.
type Service struct {
	assistant assistant.Service
	threads   Threads
	tools     ToolDispatcher
	policy    Policy
	sleeper   Sleeper
	messages  Messages
	events    *EventBroadcaster
	logger    *slog.Logger
}

// New creates a Service.
func New(svc assistant.Service, threads Threads, dispatcher ToolDispatcher, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		assistant: svc,
		threads:   threads,
		tools:     dispatcher,
		policy:    DefaultPolicy(),
		sleeper:   timerSleeper{},
		messages:  DefaultMessages(),
		logger:    logger.With("component", "conversation"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.policy.MaxPolls <= 0 {
		s.policy.MaxPolls = DefaultPolicy().MaxPolls
	}
	return s
}

// Messages returns the fixed replies in use.
func (s *Service) Messages() Messages { return s.messages }

// Handle sends text on the caller's thread and waits for the run to finish.
// At most one run per caller is in flight; an overlapping call returns
// OutcomeBusy without touching the thread.
func (s *Service) Handle(ctx context.Context, caller tools.Caller, text string) Outcome {
	key := caller.Key()
	release, err := s.threads.Acquire(key)
	if err != nil {
		if errors.Is(err, session.ErrBusy) {
			s.logger.Info("message rejected, run in flight", "user", key)
			return Outcome{Kind: OutcomeBusy, Text: s.messages.Busy}
		}
		return s.fail(key, Outcome{}, "acquire", err)
	}
	defer release()

	start := time.Now()
	out := s.run(ctx, caller, text)
	s.publish(&RunEvent{Type: EventFinished, UserKey: key, ThreadID: out.ThreadID, RunID: out.RunID, Poll: out.Polls, Outcome: out.Kind})

	s.logger.Info("run finished",
		"user", key,
		"thread_id", out.ThreadID,
		"run_id", out.RunID,
		"outcome", out.Kind,
		"polls", out.Polls,
		"tool_calls", out.ToolCalls,
		"duration", time.Since(start))
	return out
}

func (s *Service) run(ctx context.Context, caller tools.Caller, text string) Outcome {
	key := caller.Key()
	var out Outcome

	threadID, err := s.threads.GetOrCreate(ctx, key)
	if err != nil {
		return s.fail(key, out, "resolve thread", err)
	}
	out.ThreadID = threadID

	if err := s.assistant.AppendMessage(ctx, threadID, text); err != nil {
		return s.fail(key, out, "append message", err)
	}

	run, err := s.assistant.CreateRun(ctx, threadID)
	if err != nil {
		return s.fail(key, out, "create run", err)
	}
	out.RunID = run.ID
	s.publish(&RunEvent{Type: EventRunStarted, UserKey: key, ThreadID: threadID, RunID: run.ID, Status: run.Status})

	answered := make(map[string]bool)
	for run.Status.Pending() && out.Polls < s.policy.MaxPolls {
		if err := s.sleeper.Sleep(ctx, s.policy.Interval); err != nil {
			return s.fail(key, out, "wait", err)
		}
		out.Polls++

		run, err = s.assistant.GetRun(ctx, threadID, out.RunID)
		if err != nil {
			return s.fail(key, out, "get run", err)
		}
		s.publish(&RunEvent{Type: EventPolled, UserKey: key, ThreadID: threadID, RunID: run.ID, Status: run.Status, Poll: out.Polls})

		if run.Status != assistant.StatusRequiresAction {
			continue
		}
		outputs := s.answer(ctx, caller, run, answered)
		if len(outputs) == 0 {
			continue
		}
		out.ToolCalls += len(outputs)

		run, err = s.assistant.SubmitToolOutputs(ctx, threadID, out.RunID, outputs)
		if err != nil {
			return s.fail(key, out, "submit tool outputs", err)
		}
	}

	switch run.Status {
	case assistant.StatusCompleted:
		reply, err := s.assistant.LatestReply(ctx, threadID)
		if err != nil {
			return s.fail(key, out, "latest reply", err)
		}
		out.Kind, out.Text = OutcomeCompleted, reply
	case assistant.StatusExpired:
		out.Kind, out.Text = OutcomeExpired, s.messages.Expired
	case assistant.StatusFailed, assistant.StatusCancelled, assistant.StatusCancelling, assistant.StatusIncomplete:
		s.logger.Warn("run did not complete", "user", key, "run_id", out.RunID, "status", run.Status, "last_error", run.LastError)
		out.Kind, out.Text = OutcomeFailed, s.messages.Failed
	default:
		// Still pending after the last poll. The remote run is left alone.
		s.logger.Warn("run poll ceiling reached", "user", key, "run_id", out.RunID, "status", run.Status, "polls", out.Polls)
		out.Kind, out.Text = OutcomeTimedOut, s.messages.Technical
	}
	return out
}

// answer dispatches every not-yet-answered tool call of a paused run, in the
// order the assistant listed them.
func (s *Service) answer(ctx context.Context, caller tools.Caller, run *assistant.Run, answered map[string]bool) []assistant.ToolOutput {
	outputs := make([]assistant.ToolOutput, 0, len(run.ToolCalls))
	for _, call := range run.ToolCalls {
		if answered[call.ID] {
			continue
		}
		s.publish(&RunEvent{Type: EventToolCall, UserKey: caller.Key(), ThreadID: run.ThreadID, RunID: run.ID, Status: run.Status, Tool: call.Name})
		outputs = append(outputs, s.tools.Dispatch(ctx, call, caller))
		answered[call.ID] = true
	}
	if len(outputs) == 0 && len(run.ToolCalls) > 0 {
		s.logger.Debug("tool calls already answered, waiting", "run_id", run.ID)
	}
	return outputs
}

func (s *Service) fail(key string, out Outcome, op string, err error) Outcome {
	s.logger.Error("conversation error",
		"user", key,
		"op", op,
		"kind", assistant.KindOf(err),
		"thread_id", out.ThreadID,
		"run_id", out.RunID,
		"error", err)
	out.Kind, out.Text, out.Err = OutcomeError, s.messages.Technical, err
	return out
}

func (s *Service) publish(ev *RunEvent) {
	if s.events != nil {
		s.events.Publish(ev)
	}
}
