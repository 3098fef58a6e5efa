// ABOUTME: Transport-neutral chat handler for start, reset, help and free-text messages
// ABOUTME: Runs the conversation service per message and delivers chunked replies

package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/nscnavi/leadbridge/internal/conversation"
	"github.com/nscnavi/leadbridge/internal/reply"
	"github.com/nscnavi/leadbridge/internal/session"
	"github.com/nscnavi/leadbridge/internal/tools"
)

// Message is an inbound chat event.
type Message struct {
	Frontend string // "telegram", "matrix"
	ChatID   string
	UserID   string
	Username string
	Text     string
}

// Caller identifies the message author to tools.
func (m Message) Caller() tools.Caller {
	return tools.Caller{Frontend: m.Frontend, UserID: m.UserID, Username: m.Username}
}

// Replier sends messages back to a chat.
type Replier interface {
	// SendText sends one message; rich enables the transport's markup.
	SendText(ctx context.Context, chatID, text string, rich bool) error
	SendTyping(ctx context.Context, chatID string) error
}

// Conversations runs utterances to an outcome.
type Conversations interface {
	Handle(ctx context.Context, caller tools.Caller, text string) conversation.Outcome
	Messages() conversation.Messages
}

// Sessions is the part of the session registry the handler drives.
type Sessions interface {
	Reset(ctx context.Context, key string) (string, error)
	State(key string) session.State
	SetState(key string, s session.State)
}

// typingRefreshPolls is how many polls pass between typing indicator refreshes.
// Telegram hides the indicator after about five seconds.
const typingRefreshPolls = 8

// Option configures a Handler.
type Option func(*Handler)

// WithTexts overrides fixed texts. Empty fields keep their defaults.
func WithTexts(t Texts) Option {
	return func(h *Handler) { h.texts = t.merge(h.texts) }
}

// WithChunkSize sets the maximum characters per outbound message.
func WithChunkSize(n int) Option {
	return func(h *Handler) { h.chunkSize = n }
}

// WithEvents refreshes typing indicators from run progress events.
func WithEvents(b *conversation.EventBroadcaster) Option {
	return func(h *Handler) { h.events = b }
}

// Handler handles chat events.
type Handler struct {
	conv      Conversations
	sessions  Sessions
	texts     Texts
	chunkSize int
	events    *conversation.EventBroadcaster
	logger    *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(conv Conversations, sessions Sessions, logger *slog.Logger, opts ...Option) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		conv:      conv,
		sessions:  sessions,
		texts:     DefaultTexts(DefaultContacts()),
		chunkSize: reply.MaxChunk,
		logger:    logger.With("component", "bot"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Start opens a fresh thread and greets the user.
func (h *Handler) Start(ctx context.Context, r Replier, msg Message) error {
	log := h.requestLogger(msg, "start")
	key := msg.Caller().Key()

	if _, err := h.sessions.Reset(ctx, key); err != nil {
		log.Error("failed to create thread", "error", err)
		return h.send(ctx, r, msg.ChatID, h.conv.Messages().Technical, false)
	}
	h.sessions.SetState(key, session.StateChatting)
	log.Info("session started")

	return h.send(ctx, r, msg.ChatID, h.texts.greeting(msg.Username), false)
}

// Reset discards the user's thread and starts a new one.
func (h *Handler) Reset(ctx context.Context, r Replier, msg Message) error {
	log := h.requestLogger(msg, "reset")
	key := msg.Caller().Key()

	if _, err := h.sessions.Reset(ctx, key); err != nil {
		log.Error("failed to reset thread", "error", err)
		return h.send(ctx, r, msg.ChatID, h.conv.Messages().Technical, false)
	}
	h.sessions.SetState(key, session.StateChatting)
	log.Info("session reset")

	return h.send(ctx, r, msg.ChatID, h.texts.ResetDone, false)
}

// Help sends the help text.
func (h *Handler) Help(ctx context.Context, r Replier, msg Message) error {
	return h.send(ctx, r, msg.ChatID, h.texts.Help, true)
}

// Message answers free text from a chatting user. Messages from users who
// have not started a conversation are ignored.
func (h *Handler) Message(ctx context.Context, r Replier, msg Message) (err error) {
	log := h.requestLogger(msg, "message")
	caller := msg.Caller()

	if strings.TrimSpace(msg.Text) == "" {
		return nil
	}
	if h.sessions.State(caller.Key()) != session.StateChatting {
		log.Debug("ignoring message outside a conversation")
		return nil
	}

	defer func() {
		if p := recover(); p != nil {
			log.Error("panic while handling message", "panic", p)
			err = errors.Join(fmt.Errorf("panic: %v", p), h.send(ctx, r, msg.ChatID, h.conv.Messages().Technical, false))
		}
	}()

	log.Info("received message", "content", truncate(msg.Text, 50))

	if err := r.SendTyping(ctx, msg.ChatID); err != nil {
		log.Debug("failed to send typing indicator", "error", err)
	}
	stopTyping := h.refreshTyping(ctx, r, msg.ChatID, caller.Key())
	defer stopTyping()
	outcome := h.conv.Handle(ctx, caller, msg.Text)

	log.Info("sending response",
		"outcome", outcome.Kind,
		"length", len(outcome.Text),
		"chunks", reply.Count(outcome.Text, h.chunkSize))

	rich := outcome.Kind == conversation.OutcomeCompleted
	var errs []error
	for chunk := range reply.Chunks(outcome.Text, h.chunkSize) {
		if err := r.SendText(ctx, msg.ChatID, chunk, rich); err != nil {
			log.Error("failed to send chunk", "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// refreshTyping re-sends the typing indicator while a run is being polled.
func (h *Handler) refreshTyping(ctx context.Context, r Replier, chatID, key string) (stop func()) {
	if h.events == nil {
		return func() {}
	}
	subCtx, cancel := context.WithCancel(ctx)
	events, _ := h.events.Subscribe(subCtx, key)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range events {
			if ev.Type == conversation.EventPolled && ev.Poll%typingRefreshPolls == 0 {
				_ = r.SendTyping(ctx, chatID)
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func (h *Handler) send(ctx context.Context, r Replier, chatID, text string, rich bool) error {
	if err := r.SendText(ctx, chatID, text, rich); err != nil {
		h.logger.Error("failed to send message", "chat", chatID, "error", err)
		return err
	}
	return nil
}

func (h *Handler) requestLogger(msg Message, event string) *slog.Logger {
	return h.logger.With(
		"request_id", uuid.New().String(),
		"event", event,
		"frontend", msg.Frontend,
		"chat", msg.ChatID,
		"user", msg.UserID,
	)
}

// truncate shortens a string to the given max rune count, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
