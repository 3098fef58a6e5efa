// ABOUTME: Tool dispatcher that turns assistant tool calls into serialized results
// ABOUTME: Never fails: unknown tools, bad input and panics all yield a failure Result

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/nscnavi/leadbridge/internal/assistant"
	"github.com/nscnavi/leadbridge/internal/crm"
	"github.com/nscnavi/leadbridge/internal/store"
)

// ErrToolCollision indicates a tool name is already registered.
var ErrToolCollision = errors.New("tool name collision")

// Fixed result messages.
const (
	MsgUnknownFunction  = "unknown function"
	MsgInvalidArguments = "invalid arguments"
	MsgConnectionError  = "connection error"
	MsgLeadRejected     = "failed to create lead in CRM"
	MsgInternalError    = "internal error"
)

// Caller identifies the end user on whose behalf a tool runs.
type Caller struct {
	Frontend string // "telegram", "matrix"
	UserID   string
	Username string
}

// Key is the session key of the caller.
func (c Caller) Key() string {
	return c.Frontend + ":" + c.UserID
}

// IdentityLine renders the caller for CRM comments, e.g. "Telegram ID: 123".
func (c Caller) IdentityLine() string {
	label := c.Frontend
	if label != "" {
		label = strings.ToUpper(label[:1]) + label[1:]
	}
	line := fmt.Sprintf("%s ID: %s", label, c.UserID)
	if c.Username != "" {
		line += " (@" + strings.TrimPrefix(c.Username, "@") + ")"
	}
	return line
}

// Result is the structured outcome of one tool call.
type Result struct {
	Success bool       `json:"success"`
	LeadID  crm.LeadID `json:"lead_id,omitempty"`
	Message string     `json:"message"`
	Error   string     `json:"error,omitempty"`
}

// Failure builds an unsuccessful result.
func Failure(message, errText string) Result {
	return Result{Success: false, Message: message, Error: errText}
}

// JSON serializes the result for the assistant.
func (r Result) JSON() string {
	b, err := json.Marshal(r)
	if err != nil {
		// Unreachable for the field types above; keep the output valid JSON anyway.
		b, _ = json.Marshal(Failure(MsgInternalError, err.Error()))
	}
	return string(b)
}

// Handler executes one tool.
type Handler func(ctx context.Context, caller Caller, args json.RawMessage) Result

// Recorder receives a ledger entry for every dispatched call.
type Recorder interface {
	RecordToolCall(ctx context.Context, rec *store.ToolCallRecord) error
}

// Dispatcher routes tool calls by name.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	recorder Recorder
	logger   *slog.Logger
}

// NewDispatcher creates an empty dispatcher. recorder may be nil.
func NewDispatcher(recorder Recorder, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		handlers: make(map[string]Handler),
		recorder: recorder,
		logger:   logger.With("component", "tools"),
	}
}

// Register adds a handler under one or more names.
func (d *Dispatcher) Register(h Handler, names ...string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, name := range names {
		if _, exists := d.handlers[name]; exists {
			return fmt.Errorf("%w: %s", ErrToolCollision, name)
		}
	}
	for _, name := range names {
		d.handlers[name] = h
	}
	return nil
}

// Names lists registered tool names in sorted order.
func (d *Dispatcher) Names() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	names := make([]string, 0, len(d.handlers))
	for name := range d.handlers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Dispatch runs a tool call and returns its output. It never fails.
func (d *Dispatcher) Dispatch(ctx context.Context, call assistant.ToolCall, caller Caller) assistant.ToolOutput {
	start := time.Now()
	res := d.run(ctx, call, caller)
	elapsed := time.Since(start)

	d.logger.Info("tool call",
		"tool", call.Name,
		"call_id", call.ID,
		"user", caller.Key(),
		"success", res.Success,
		"error", res.Error,
		"duration_ms", elapsed.Milliseconds(),
	)
	d.record(ctx, call, caller, res, elapsed)

	return assistant.ToolOutput{ToolCallID: call.ID, Output: res.JSON()}
}

func (d *Dispatcher) run(ctx context.Context, call assistant.ToolCall, caller Caller) (res Result) {
	d.mu.RLock()
	h, ok := d.handlers[call.Name]
	d.mu.RUnlock()

	if !ok {
		return Result{Success: false, Message: MsgUnknownFunction}
	}

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("tool panicked", "tool", call.Name, "panic", r)
			res = Failure(MsgInternalError, fmt.Sprint(r))
		}
	}()

	return h(ctx, caller, json.RawMessage(call.Arguments))
}

func (d *Dispatcher) record(ctx context.Context, call assistant.ToolCall, caller Caller, res Result, elapsed time.Duration) {
	if d.recorder == nil {
		return
	}
	rec := &store.ToolCallRecord{
		CallID:    call.ID,
		UserKey:   caller.Key(),
		Tool:      call.Name,
		Arguments: call.Arguments,
		Success:   res.Success,
		LeadID:    string(res.LeadID),
		Error:     res.Error,
		Duration:  elapsed,
	}
	// Bounded so a slow ledger cannot stall the paused run.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := d.recorder.RecordToolCall(ctx, rec); err != nil {
		d.logger.Warn("failed to record tool call", "call_id", call.ID, "error", err)
	}
}
