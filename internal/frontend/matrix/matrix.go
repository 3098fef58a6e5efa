// ABOUTME: Matrix frontend built on mautrix; syncs rooms and routes messages to the chat handler
// ABOUTME: Rich replies are rendered from Markdown to HTML formatted_body with goldmark

package matrix

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/nscnavi/leadbridge/internal/bot"
	"github.com/nscnavi/leadbridge/internal/dedupe"
)

// Name identifies this frontend in user keys and logs.
const Name = "matrix"

// typingTimeout is the duration the typing indicator shows.
const typingTimeout = 30 * time.Second

// networkTimeout is the timeout for Matrix API calls.
const networkTimeout = 30 * time.Second

// ChatHandler receives chat events.
type ChatHandler interface {
	Start(ctx context.Context, r bot.Replier, msg bot.Message) error
	Reset(ctx context.Context, r bot.Replier, msg bot.Message) error
	Help(ctx context.Context, r bot.Replier, msg bot.Message) error
	Message(ctx context.Context, r bot.Replier, msg bot.Message) error
}

// Client is the part of the Matrix client API used for replies.
type Client interface {
	SendMessageEvent(ctx context.Context, roomID id.RoomID, eventType event.Type, contentJSON any, extra ...mautrix.ReqSendEvent) (*mautrix.RespSendEvent, error)
	UserTyping(ctx context.Context, roomID id.RoomID, typing bool, timeout time.Duration) (*mautrix.RespTyping, error)
}

// Config configures the frontend.
type Config struct {
	Homeserver      string
	UserID          string
	AccessToken     string
	AllowedRooms    []string
	TypingIndicator bool
}

// Frontend connects a Matrix account to the chat handler.
type Frontend struct {
	cfg     Config
	matrix  *mautrix.Client
	api     Client
	chat    ChatHandler
	seen    *dedupe.Cache
	started time.Time
	logger  *slog.Logger

	// ctx is the parent context for message processing goroutines
	ctx context.Context
}

// New creates a Matrix frontend. seen may be nil to disable de-duplication.
func New(cfg Config, chat ChatHandler, seen *dedupe.Cache, logger *slog.Logger) (*Frontend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}
	return &Frontend{
		cfg:    cfg,
		matrix: client,
		api:    client,
		chat:   chat,
		seen:   seen,
		logger: logger.With("component", "matrix"),
		ctx:    context.Background(),
	}, nil
}

// Name returns the frontend name.
func (f *Frontend) Name() string { return Name }

// Run syncs with the homeserver and blocks until ctx is cancelled.
func (f *Frontend) Run(ctx context.Context) error {
	f.logger.Info("starting matrix frontend",
		"homeserver", f.cfg.Homeserver,
		"user_id", f.cfg.UserID,
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	f.ctx = ctx
	f.started = time.Now()

	syncer, ok := f.matrix.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return fmt.Errorf("unexpected syncer type: %T", f.matrix.Syncer)
	}
	syncer.OnEventType(event.EventMessage, f.handleMessageEvent)

	syncErr := make(chan error, 1)
	go func() {
		syncErr <- f.matrix.SyncWithContext(ctx)
	}()

	f.logger.Info("matrix frontend running")

	select {
	case <-ctx.Done():
		f.logger.Info("shutting down matrix frontend")
		return nil
	case err := <-syncErr:
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("matrix sync failed: %w", err)
	}
}

// handleMessageEvent filters sync events and hands text messages off.
func (f *Frontend) handleMessageEvent(ctx context.Context, evt *event.Event) {
	msg, ok := f.accept(evt)
	if !ok {
		return
	}
	// Runs take seconds; keep the sync loop moving.
	go f.dispatch(f.ctx, msg)
}

// accept converts evt into a chat message, or reports false if it should be ignored.
func (f *Frontend) accept(evt *event.Event) (bot.Message, bool) {
	if evt.Sender == id.UserID(f.cfg.UserID) {
		return bot.Message{}, false
	}
	// Initial sync replays room history.
	if !f.started.IsZero() && evt.Timestamp < f.started.UnixMilli() {
		return bot.Message{}, false
	}

	content, ok := evt.Content.Parsed.(*event.MessageEventContent)
	if !ok || content.MsgType != event.MsgText {
		return bot.Message{}, false
	}

	roomID := evt.RoomID.String()
	if !f.isRoomAllowed(roomID) {
		f.logger.Debug("ignoring message from non-allowed room", "room", roomID)
		return bot.Message{}, false
	}

	body := strings.TrimSpace(content.Body)
	if body == "" {
		return bot.Message{}, false
	}

	if f.seen != nil && f.seen.CheckAndMark(Name+":"+evt.ID.String()) {
		f.logger.Debug("dropping duplicate event", "event_id", evt.ID.String())
		return bot.Message{}, false
	}

	username := evt.Sender.String()
	if local, _, err := evt.Sender.Parse(); err == nil {
		username = local
	}

	return bot.Message{
		Frontend: Name,
		ChatID:   roomID,
		UserID:   evt.Sender.String(),
		Username: username,
		Text:     body,
	}, true
}

// dispatch routes one message to the chat handler.
func (f *Frontend) dispatch(ctx context.Context, msg bot.Message) {
	r := &replier{api: f.api, typing: f.cfg.TypingIndicator, logger: f.logger}

	var err error
	switch command(msg.Text) {
	case "start":
		err = f.chat.Start(ctx, r, msg)
	case "reset":
		err = f.chat.Reset(ctx, r, msg)
	case "help":
		err = f.chat.Help(ctx, r, msg)
	default:
		err = f.chat.Message(ctx, r, msg)
	}
	if err != nil {
		f.logger.Error("failed to handle message", "room", msg.ChatID, "error", err)
	}
}

// isRoomAllowed checks if the room is in the allowed list.
func (f *Frontend) isRoomAllowed(roomID string) bool {
	if len(f.cfg.AllowedRooms) == 0 {
		return true
	}
	return slices.Contains(f.cfg.AllowedRooms, roomID)
}

// command recognizes "/name" and "!name"; many Matrix clients swallow "/" commands.
func command(text string) string {
	if !strings.HasPrefix(text, "/") && !strings.HasPrefix(text, "!") {
		return ""
	}
	name := strings.ToLower(strings.Fields(text)[0][1:])
	switch name {
	case "start", "reset", "help":
		return name
	}
	return ""
}

// replier sends replies into a room.
type replier struct {
	api    Client
	typing bool
	logger *slog.Logger
}

func (r *replier) SendText(ctx context.Context, chatID, text string, rich bool) error {
	ctx, cancel := context.WithTimeout(ctx, networkTimeout)
	defer cancel()

	content := &event.MessageEventContent{MsgType: event.MsgText, Body: text}
	if rich {
		if html, err := renderMarkdown(text); err == nil {
			content.Format = event.FormatHTML
			content.FormattedBody = html
		} else {
			r.logger.Debug("markdown render failed, sending plain text", "error", err)
		}
	}

	_, err := r.api.SendMessageEvent(ctx, id.RoomID(chatID), event.EventMessage, content)
	if err != nil {
		return fmt.Errorf("sending to %s: %w", chatID, err)
	}
	return nil
}

func (r *replier) SendTyping(ctx context.Context, chatID string) error {
	if !r.typing {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, networkTimeout)
	defer cancel()
	_, err := r.api.UserTyping(ctx, id.RoomID(chatID), true, typingTimeout)
	return err
}

func renderMarkdown(text string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(text), &buf); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}
