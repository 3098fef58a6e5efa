// ABOUTME: OpenAI Assistants API implementation of Service
// ABOUTME: Wraps openai-go beta thread/run calls and classifies their errors

package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIConfig configures the OpenAI client.
type OpenAIConfig struct {
	APIKey         string
	AssistantID    string
	BaseURL        string        // optional, for proxies and tests
	RequestTimeout time.Duration // per HTTP request, 0 uses the SDK default
	MaxRetries     int
}

// OpenAI talks to the Assistants API.
type OpenAI struct {
	client      openai.Client
	assistantID string
	logger      *slog.Logger
}

var _ Service = (*OpenAI)(nil)

// NewOpenAI creates a client bound to one assistant.
func NewOpenAI(cfg OpenAIConfig, logger *slog.Logger) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if cfg.AssistantID == "" {
		return nil, fmt.Errorf("assistant id is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.RequestTimeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.RequestTimeout))
	}

	return &OpenAI{
		client:      openai.NewClient(opts...),
		assistantID: cfg.AssistantID,
		logger:      logger.With("component", "assistant"),
	}, nil
}

// CreateThread opens an empty thread.
func (o *OpenAI) CreateThread(ctx context.Context) (string, error) {
	thread, err := o.client.Beta.Threads.New(ctx, openai.BetaThreadNewParams{})
	if err != nil {
		return "", classify("create thread", err)
	}
	o.logger.Debug("thread created", "thread_id", thread.ID)
	return thread.ID, nil
}

// AppendMessage adds a user-authored message to a thread.
func (o *OpenAI) AppendMessage(ctx context.Context, threadID, text string) error {
	_, err := o.client.Beta.Threads.Messages.New(ctx, threadID, openai.BetaThreadMessageNewParams{
		Role: openai.BetaThreadMessageNewParamsRoleUser,
		Content: openai.BetaThreadMessageNewParamsContentUnion{
			OfString: openai.String(text),
		},
	})
	if err != nil {
		return classify("append message", err)
	}
	return nil
}

// CreateRun starts the configured assistant on a thread.
func (o *OpenAI) CreateRun(ctx context.Context, threadID string) (*Run, error) {
	run, err := o.client.Beta.Threads.Runs.New(ctx, threadID, openai.BetaThreadRunNewParams{
		AssistantID: o.assistantID,
	})
	if err != nil {
		return nil, classify("create run", err)
	}
	return convertRun(run), nil
}

// GetRun retrieves the current state of a run.
func (o *OpenAI) GetRun(ctx context.Context, threadID, runID string) (*Run, error) {
	run, err := o.client.Beta.Threads.Runs.Get(ctx, threadID, runID)
	if err != nil {
		return nil, classify("get run", err)
	}
	return convertRun(run), nil
}

// SubmitToolOutputs answers all pending tool calls of a run in one request.
func (o *OpenAI) SubmitToolOutputs(ctx context.Context, threadID, runID string, outputs []ToolOutput) (*Run, error) {
	params := openai.BetaThreadRunSubmitToolOutputsParams{
		ToolOutputs: make([]openai.BetaThreadRunSubmitToolOutputsParamsToolOutput, 0, len(outputs)),
	}
	for _, out := range outputs {
		params.ToolOutputs = append(params.ToolOutputs, openai.BetaThreadRunSubmitToolOutputsParamsToolOutput{
			ToolCallID: openai.String(out.ToolCallID),
			Output:     openai.String(out.Output),
		})
	}

	run, err := o.client.Beta.Threads.Runs.SubmitToolOutputs(ctx, threadID, runID, params)
	if err != nil {
		return nil, classify("submit tool outputs", err)
	}
	return convertRun(run), nil
}

// LatestReply returns the text of the newest message in the thread, which
// must be assistant-authored.
func (o *OpenAI) LatestReply(ctx context.Context, threadID string) (string, error) {
	page, err := o.client.Beta.Threads.Messages.List(ctx, threadID, openai.BetaThreadMessageListParams{
		Order: openai.BetaThreadMessageListParamsOrderDesc,
		Limit: openai.Int(1),
	})
	if err != nil {
		return "", classify("list messages", err)
	}
	if len(page.Data) == 0 {
		return "", &Error{Op: "list messages", Kind: KindEmptyReply, Err: ErrNoReply}
	}

	msg := page.Data[0]
	if msg.Role != openai.MessageRoleAssistant {
		return "", &Error{Op: "list messages", Kind: KindEmptyReply, Err: fmt.Errorf("%w: latest message role is %q", ErrNoReply, msg.Role)}
	}

	var parts []string
	for _, c := range msg.Content {
		if c.Type == "text" && c.Text.Value != "" {
			parts = append(parts, c.Text.Value)
		}
	}
	if len(parts) == 0 {
		return "", &Error{Op: "list messages", Kind: KindEmptyReply, Err: ErrNoReply}
	}
	return strings.Join(parts, "\n"), nil
}

func convertRun(r *openai.Run) *Run {
	run := &Run{
		ID:        r.ID,
		ThreadID:  r.ThreadID,
		Status:    RunStatus(r.Status),
		LastError: r.LastError.Message,
	}
	if run.Status == StatusRequiresAction {
		for _, tc := range r.RequiredAction.SubmitToolOutputs.ToolCalls {
			run.ToolCalls = append(run.ToolCalls, ToolCall{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			})
		}
	}
	return run
}

// classify wraps an SDK error with the operation and its kind.
func classify(op string, err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &Error{Op: op, Kind: KindAPI, Err: err}
	}
	return &Error{Op: op, Kind: KindTransport, Err: err}
}
