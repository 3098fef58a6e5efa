// ABOUTME: The serve command: wires config into the assistant, CRM, chat handler and frontends
// ABOUTME: Runs every frontend and the HTTP server until a signal arrives

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"golang.org/x/sync/errgroup"

	"github.com/nscnavi/leadbridge/internal/assistant"
	"github.com/nscnavi/leadbridge/internal/bot"
	"github.com/nscnavi/leadbridge/internal/config"
	"github.com/nscnavi/leadbridge/internal/conversation"
	"github.com/nscnavi/leadbridge/internal/crm"
	"github.com/nscnavi/leadbridge/internal/dedupe"
	"github.com/nscnavi/leadbridge/internal/frontend/matrix"
	"github.com/nscnavi/leadbridge/internal/frontend/telegram"
	"github.com/nscnavi/leadbridge/internal/server"
	"github.com/nscnavi/leadbridge/internal/session"
	"github.com/nscnavi/leadbridge/internal/store"
	"github.com/nscnavi/leadbridge/internal/tools"
)

// ServeCmd runs the bot.
type ServeCmd struct{}

func (c *ServeCmd) Execute(_ []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, source, err := loadConfig()
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", source)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	for _, name := range enabledFrontends(cfg) {
		green.Print("    ▶ ")
		fmt.Printf("Frontend:  %s", name)
		if name == telegram.Name && cfg.Frontends.Telegram.WebhookURL != "" {
			yellow.Print(" [webhook]")
		}
		fmt.Println()
	}
	if cfg.Database.Path != "" {
		green.Print("    ▶ ")
		fmt.Printf("Ledger:    %s\n", cfg.Database.Path)
	}
	if cfg.Server.EventsToken != "" {
		green.Print("    ▶ ")
		fmt.Println("Events:    /events (bearer token)")
	}
	fmt.Println()

	logger.Info("starting leadbridge",
		"config", source,
		"http_addr", cfg.Server.HTTPAddr,
		"frontends", enabledFrontends(cfg),
	)

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	return a.Run(ctx)
}

// frontend is a chat transport that runs until its context ends.
type frontend interface {
	Name() string
	Run(ctx context.Context) error
}

// app holds the wired process.
type app struct {
	ledger    *store.SQLiteStore // nil when the ledger is disabled
	sessions  *session.Registry
	events    *conversation.EventBroadcaster
	seen      *dedupe.Cache
	frontends []frontend
	server    *server.Server
	logger    *slog.Logger
}

func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{logger: logger}

	var recorder tools.Recorder
	var ledgerStats server.LedgerStats
	if cfg.Database.Path != "" {
		st, err := store.NewSQLiteStore(cfg.Database.Path)
		if err != nil {
			return nil, fmt.Errorf("opening ledger: %w", err)
		}
		a.ledger = st
		recorder = st
		ledgerStats = st
	}

	svc, err := assistant.NewOpenAI(assistant.OpenAIConfig{
		APIKey:         cfg.Assistant.APIKey,
		AssistantID:    cfg.Assistant.AssistantID,
		BaseURL:        cfg.Assistant.BaseURL,
		RequestTimeout: cfg.Assistant.RequestTimeout,
		MaxRetries:     cfg.Assistant.Retries(),
	}, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("creating assistant client: %w", err)
	}

	dispatcher := tools.NewDispatcher(recorder, logger)
	crmClient := crm.NewClient(cfg.CRM.WebhookURL, cfg.CRM.Timeout, logger)
	if err := tools.RegisterLeadTool(dispatcher, crmClient, leadToolConfig(cfg.CRM)); err != nil {
		a.Close()
		return nil, fmt.Errorf("registering lead tool: %w", err)
	}
	toolNames := dispatcher.Names()
	logger.Info("tools registered", "tools", toolNames)

	a.sessions = session.NewRegistry(svc, logger)
	a.events = conversation.NewEventBroadcaster(logger)
	a.seen = dedupe.New(dedupe.DefaultTTL, dedupe.DefaultMaxSize)

	conv := conversation.New(svc, a.sessions, dispatcher, logger,
		conversation.WithPolicy(conversation.Policy{
			MaxPolls: cfg.Assistant.MaxPolls,
			Interval: cfg.Assistant.PollInterval,
		}),
		conversation.WithMessages(conversationMessages(cfg.Bot)),
		conversation.WithBroadcaster(a.events),
	)

	handler := bot.NewHandler(conv, a.sessions, logger,
		bot.WithTexts(botTexts(cfg.Bot)),
		bot.WithChunkSize(cfg.Bot.ChunkSize),
		bot.WithEvents(a.events),
	)

	webhooks := map[string]http.Handler{}
	if tc := cfg.Frontends.Telegram; tc.Enabled {
		tg, err := telegram.New(telegram.Config{
			Token:         tc.Token,
			WebhookURL:    tc.WebhookURL,
			WebhookPath:   tc.WebhookPath,
			WebhookSecret: tc.WebhookSecret,
			PollTimeout:   tc.PollTimeout,
		}, handler, a.seen, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		if path := tg.WebhookPath(); path != "" {
			webhooks[path] = tg.WebhookHandler()
		}
		a.frontends = append(a.frontends, tg)
	}
	if mc := cfg.Frontends.Matrix; mc.Enabled {
		mx, err := matrix.New(matrix.Config{
			Homeserver:      mc.Homeserver,
			UserID:          mc.UserID,
			AccessToken:     mc.AccessToken,
			AllowedRooms:    mc.AllowedRooms,
			TypingIndicator: mc.TypingIndicator,
		}, handler, a.seen, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.frontends = append(a.frontends, mx)
	}

	names := make([]string, 0, len(a.frontends))
	for _, f := range a.frontends {
		names = append(names, f.Name())
	}
	a.server = server.New(server.Config{
		Addr:        cfg.Server.HTTPAddr,
		Frontends:   names,
		Tools:       toolNames,
		Webhooks:    webhooks,
		Sessions:    a.sessions,
		Ledger:      ledgerStats,
		Events:      a.events,
		EventsToken: cfg.Server.EventsToken,
		Logger:      logger,
	})

	return a, nil
}

// Run starts every frontend and the HTTP server. The first failure cancels
// the rest.
func (a *app) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, f := range a.frontends {
		g.Go(func() error {
			if err := f.Run(gctx); err != nil {
				return fmt.Errorf("%s frontend: %w", f.Name(), err)
			}
			return nil
		})
	}
	g.Go(func() error {
		return a.server.Run(gctx)
	})

	err := g.Wait()
	if err != nil {
		a.logger.Error("leadbridge stopped", "error", err)
	} else {
		a.logger.Info("leadbridge stopped")
	}
	return err
}

// Close releases everything newApp opened. Safe on a partially built app.
func (a *app) Close() {
	if a.seen != nil {
		a.seen.Close()
	}
	if a.events != nil {
		a.events.Close()
	}
	if a.ledger != nil {
		if err := a.ledger.Close(); err != nil {
			a.logger.Error("closing ledger", "error", err)
		}
	}
}

// leadToolConfig applies CRM lead defaults to unset fields.
func leadToolConfig(c config.CRMConfig) tools.LeadToolConfig {
	lc := tools.DefaultLeadToolConfig()
	if c.TitlePrefix != "" {
		lc.TitlePrefix = c.TitlePrefix
	}
	if c.StatusID != "" {
		lc.StatusID = c.StatusID
	}
	if c.SourceID != "" {
		lc.SourceID = c.SourceID
	}
	if c.DefaultComments != "" {
		lc.DefaultComments = c.DefaultComments
	}
	return lc
}

func contacts(c config.ContactsConfig) bot.Contacts {
	out := bot.DefaultContacts()
	if c.Email != "" {
		out.Email = c.Email
	}
	if c.Phone != "" {
		out.Phone = c.Phone
	}
	if c.Website != "" {
		out.Website = c.Website
	}
	return out
}

// conversationMessages builds the apology texts around the configured
// contacts, then applies explicit overrides.
func conversationMessages(c config.BotConfig) conversation.Messages {
	ct := contacts(c.Contacts)
	m := conversation.ContactMessages(ct.Phone, ct.Email)
	if c.Messages.Failed != "" {
		m.Failed = c.Messages.Failed
	}
	if c.Messages.Expired != "" {
		m.Expired = c.Messages.Expired
	}
	if c.Messages.Technical != "" {
		m.Technical = c.Messages.Technical
	}
	if c.Messages.Busy != "" {
		m.Busy = c.Messages.Busy
	}
	return m
}

// botTexts builds the handler texts from configured contacts and overrides.
func botTexts(c config.BotConfig) bot.Texts {
	t := bot.DefaultTexts(contacts(c.Contacts))
	m := c.Messages
	if m.Greeting != "" {
		t.Greeting = m.Greeting
	}
	if len(m.Topics) > 0 {
		t.Topics = m.Topics
	}
	if m.Help != "" {
		t.Help = m.Help
	}
	if m.Reset != "" {
		t.ResetDone = m.Reset
	}
	return t
}
