package bot

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"web2pdfbot/internal/domain"
	"web2pdfbot/internal/metrics"
)

// DefaultDeleteDeviceAfter is the message retention set on fresh accounts:
// 24 hours, in seconds.
const DefaultDeleteDeviceAfter = 60 * 60 * 24

const (
	defaultDisplayName = "Web to PDF"
	defaultStatus      = "I am a Delta Chat bot, send me /help for more info"
)

// Bot wires the web-to-PDF hooks to a chat client and a renderer.
type Bot struct {
	client      domain.Client
	renderer    domain.Renderer
	router      *Router
	logger      *slog.Logger
	displayName string
	status      string
	tempDir     string
}

// Config holds the collaborators and identity defaults of a Bot.
type Config struct {
	Client      domain.Client
	Renderer    domain.Renderer
	Logger      *slog.Logger
	DisplayName string // set on accounts that have none
	Status      string
	TempDir     string // where per-message PDFs are written (default: os.TempDir)
}

// New creates a Bot and registers its handlers.
func New(cfg Config) *Bot {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.DisplayName == "" {
		cfg.DisplayName = defaultDisplayName
	}
	if cfg.Status == "" {
		cfg.Status = defaultStatus
	}
	b := &Bot{
		client:      cfg.Client,
		renderer:    cfg.Renderer,
		router:      NewRouter(cfg.Client, cfg.Logger),
		logger:      cfg.Logger,
		displayName: cfg.DisplayName,
		status:      cfg.Status,
		tempDir:     cfg.TempDir,
	}

	b.router.OnEvent("log_event", b.onRawEvent)
	b.router.After("delete_msgs", b.deleteMsg)
	b.router.OnMessage("web2pdf", NotInfo(), b.web2pdf)
	b.router.OnCommand(HelpCommand, b.help)

	return b
}

// Router exposes the bot's router so callers can register extra handlers.
func (b *Bot) Router() *Router { return b.router }

// Init gives every account without a display name the bot identity and a
// 24h message retention. Accounts that already have a name are untouched.
func (b *Bot) Init(ctx context.Context) error {
	accounts, err := b.client.AccountIDs(ctx)
	if err != nil {
		return fmt.Errorf("list accounts: %w", err)
	}
	metrics.AccountsServed.Set(int64(len(accounts)))

	for _, acc := range accounts {
		if err := b.InitAccount(ctx, acc); err != nil {
			b.logger.Error("account init failed", "account", acc, "err", err)
		}
	}
	return nil
}

// InitAccount applies the identity defaults to a single account.
func (b *Bot) InitAccount(ctx context.Context, acc domain.AccountID) error {
	name, err := b.client.GetConfig(ctx, acc, domain.ConfigDisplayName)
	if err != nil {
		return fmt.Errorf("get displayname: %w", err)
	}
	if name != "" {
		return nil
	}

	settings := []struct{ key, value string }{
		{domain.ConfigDisplayName, b.displayName},
		{domain.ConfigSelfStatus, b.status},
		{domain.ConfigDeleteDeviceAfter, fmt.Sprint(DefaultDeleteDeviceAfter)},
	}
	for _, s := range settings {
		if err := b.client.SetConfig(ctx, acc, s.key, s.value); err != nil {
			return fmt.Errorf("set %s: %w", s.key, err)
		}
	}
	b.logger.Info("account initialized", "account", acc, "displayname", b.displayName)
	return nil
}

// Run initializes accounts, then processes events from src one at a time
// until ctx is cancelled or src is exhausted. Events already delivered when
// src stops are still handled.
func (b *Bot) Run(ctx context.Context, src domain.EventSource) error {
	if err := b.Init(ctx); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- src.Run(ctx) }()

	events := src.Events()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ae, ok := <-events:
			if !ok {
				if err := <-errCh; err != nil {
					return fmt.Errorf("event source: %w", err)
				}
				return nil
			}
			b.router.Dispatch(ctx, ae)
		}
	}
}

func (b *Bot) tempFile() (string, error) {
	dir := b.tempDir
	if dir == "" {
		dir = os.TempDir()
	}
	f, err := os.CreateTemp(dir, "web2pdf-*.pdf")
	if err != nil {
		return "", err
	}
	name := f.Name()
	if err := f.Close(); err != nil {
		os.Remove(name)
		return "", err
	}
	return name, nil
}
