// ABOUTME: Telegram frontend built on telego, via long polling or a webhook on the shared HTTP server
// ABOUTME: Routes /start, /reset, /help and text to the chat handler and sends replies with Markdown fallback

package telegram

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mymmrac/telego"
	th "github.com/mymmrac/telego/telegohandler"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/nscnavi/leadbridge/internal/bot"
	"github.com/nscnavi/leadbridge/internal/dedupe"
)

// Name identifies this frontend in user keys and logs.
const Name = "telegram"

// SecretHeader carries the webhook secret token on every update.
const SecretHeader = "X-Telegram-Bot-Api-Secret-Token"

// networkTimeout bounds each Bot API call made for a reply.
const networkTimeout = 30 * time.Second

// webhookBuffer is how many webhook updates may wait for the handler.
const webhookBuffer = 100

// ChatHandler receives chat events.
type ChatHandler interface {
	Start(ctx context.Context, r bot.Replier, msg bot.Message) error
	Reset(ctx context.Context, r bot.Replier, msg bot.Message) error
	Help(ctx context.Context, r bot.Replier, msg bot.Message) error
	Message(ctx context.Context, r bot.Replier, msg bot.Message) error
}

// Messenger is the part of the Bot API used for replies.
type Messenger interface {
	SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error)
	SendChatAction(ctx context.Context, params *telego.SendChatActionParams) error
}

// Config configures the frontend.
type Config struct {
	Token         string
	WebhookURL    string // empty selects long polling
	WebhookPath   string
	WebhookSecret string
	PollTimeout   int
}

// Frontend connects a Telegram bot to the chat handler.
type Frontend struct {
	cfg     Config
	bot     *telego.Bot
	api     Messenger
	chat    ChatHandler
	seen    *dedupe.Cache
	updates chan telego.Update // webhook mode only
	logger  *slog.Logger
}

// New creates a Telegram frontend. seen may be nil to disable de-duplication.
func New(cfg Config, chat ChatHandler, seen *dedupe.Cache, logger *slog.Logger) (*Frontend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	b, err := telego.NewBot(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("creating telegram bot: %w", err)
	}
	f := &Frontend{
		cfg:    cfg,
		bot:    b,
		api:    b,
		chat:   chat,
		seen:   seen,
		logger: logger.With("component", "telegram"),
	}
	if cfg.WebhookURL != "" {
		f.updates = make(chan telego.Update, webhookBuffer)
	}
	return f, nil
}

// Name returns the frontend name.
func (f *Frontend) Name() string { return Name }

// WebhookPath returns the HTTP route for updates, or "" in polling mode.
func (f *Frontend) WebhookPath() string {
	if f.updates == nil {
		return ""
	}
	return f.cfg.WebhookPath
}

// Run receives updates until ctx is cancelled.
func (f *Frontend) Run(ctx context.Context) error {
	updates, err := f.updateSource(ctx)
	if err != nil {
		return err
	}

	bh, err := th.NewBotHandler(f.bot, updates)
	if err != nil {
		return fmt.Errorf("creating bot handler: %w", err)
	}

	bh.HandleMessage(func(ctx *th.Context, message telego.Message) error {
		return f.dispatch(ctx, message)
	}, th.AnyMessage())

	f.logger.Info("telegram bot running", "mode", f.mode())
	f.runHandler(ctx, bh)
	return nil
}

// updateHandler is the lifecycle half of th.BotHandler.
type updateHandler interface {
	Start() error
	Stop() error
}

// runHandler starts h and stops it once ctx ends. Stop waits for in-flight
// handlers, so Start has returned by the time Stop does.
func (f *Frontend) runHandler(ctx context.Context, h updateHandler) {
	started := make(chan error, 1)
	go func() { started <- h.Start() }()

	<-ctx.Done()
	f.logger.Info("shutting down telegram bot")
	if err := h.Stop(); err != nil {
		f.logger.Error("failed to stop bot handler", "error", err)
	}
	if err := <-started; err != nil {
		f.logger.Warn("bot handler stopped with error", "error", err)
	}
}

func (f *Frontend) mode() string {
	if f.updates != nil {
		return "webhook"
	}
	return "polling"
}

// updateSource starts long polling, or registers the webhook and returns the
// channel fed by WebhookHandler.
func (f *Frontend) updateSource(ctx context.Context) (<-chan telego.Update, error) {
	if f.updates == nil {
		updates, err := f.bot.UpdatesViaLongPolling(ctx, &telego.GetUpdatesParams{
			Timeout: f.cfg.PollTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("starting long polling: %w", err)
		}
		return updates, nil
	}

	url := strings.TrimSuffix(f.cfg.WebhookURL, "/") + f.cfg.WebhookPath
	err := f.bot.SetWebhook(ctx, &telego.SetWebhookParams{
		URL:         url,
		SecretToken: f.cfg.WebhookSecret,
	})
	if err != nil {
		return nil, fmt.Errorf("setting webhook: %w", err)
	}
	f.logger.Info("webhook registered", "url", url)
	return f.updates, nil
}

// WebhookHandler accepts updates pushed by Telegram.
func (f *Frontend) WebhookHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if f.cfg.WebhookSecret != "" {
			got := r.Header.Get(SecretHeader)
			if subtle.ConstantTimeCompare([]byte(got), []byte(f.cfg.WebhookSecret)) != 1 {
				f.logger.Warn("webhook request with bad secret", "remote", r.RemoteAddr)
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
		}

		var update telego.Update
		if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
			f.logger.Debug("invalid webhook body", "error", err)
			http.Error(w, "invalid update", http.StatusBadRequest)
			return
		}

		select {
		case f.updates <- update:
			w.WriteHeader(http.StatusOK)
		default:
			// Telegram retries non-2xx deliveries.
			f.logger.Warn("webhook queue full, asking telegram to retry", "update_id", update.UpdateID)
			http.Error(w, "busy", http.StatusServiceUnavailable)
		}
	})
}

// dispatch routes one incoming message.
func (f *Frontend) dispatch(ctx context.Context, message telego.Message) error {
	if message.From == nil || message.Text == "" {
		return nil
	}
	if message.From.IsBot {
		return nil
	}

	if f.seen != nil {
		key := fmt.Sprintf("%s:%d:%d", Name, message.Chat.ID, message.MessageID)
		if f.seen.CheckAndMark(key) {
			f.logger.Debug("dropping duplicate message", "key", key)
			return nil
		}
	}

	msg := bot.Message{
		Frontend: Name,
		ChatID:   strconv.FormatInt(message.Chat.ID, 10),
		UserID:   strconv.FormatInt(message.From.ID, 10),
		Username: message.From.Username,
		Text:     message.Text,
	}
	r := &replier{api: f.api, logger: f.logger}

	var err error
	switch command(message.Text) {
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
		f.logger.Error("failed to handle message", "chat", msg.ChatID, "error", err)
	}
	// Already logged.
	return nil
}

// command extracts the command name from "/name@bot args", or "" for plain text.
func command(text string) string {
	if !strings.HasPrefix(text, "/") {
		return ""
	}
	name := strings.Fields(text)[0][1:]
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	return strings.ToLower(name)
}

// replier sends replies through the Bot API.
type replier struct {
	api    Messenger
	logger *slog.Logger
}

func (r *replier) SendText(ctx context.Context, chatID, text string, rich bool) error {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat id %q: %w", chatID, err)
	}

	ctx, cancel := context.WithTimeout(ctx, networkTimeout)
	defer cancel()

	params := tu.Message(tu.ID(id), text)
	if rich {
		params.ParseMode = telego.ModeMarkdown
	}
	_, err = r.api.SendMessage(ctx, params)
	if err == nil || !rich {
		return err
	}

	// Assistant text is not guaranteed to be valid Telegram Markdown.
	r.logger.Debug("markdown rejected, resending as plain text", "chat", chatID, "error", err)
	_, err = r.api.SendMessage(ctx, tu.Message(tu.ID(id), text))
	return err
}

func (r *replier) SendTyping(ctx context.Context, chatID string) error {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat id %q: %w", chatID, err)
	}
	ctx, cancel := context.WithTimeout(ctx, networkTimeout)
	defer cancel()
	return r.api.SendChatAction(ctx, tu.ChatAction(tu.ID(id), telego.ChatActionTyping))
}
