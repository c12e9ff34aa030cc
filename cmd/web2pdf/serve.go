package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"web2pdfbot/internal/adapter/deltachat"
	"web2pdfbot/internal/adapter/discord"
	"web2pdfbot/internal/adapter/local"
	"web2pdfbot/internal/adapter/slackapp"
	"web2pdfbot/internal/adapter/telegram"
	"web2pdfbot/internal/bot"
	"web2pdfbot/internal/config"
	"web2pdfbot/internal/domain"
	"web2pdfbot/internal/metrics"
	"web2pdfbot/internal/render"
	"web2pdfbot/internal/security"
	"web2pdfbot/internal/store"
)

const shutdownTimeout = 10 * time.Second

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bot",
		Long:  "Connects the configured chat adapter and answers messages until interrupted. Press Ctrl+C to stop.",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	if err := config.CheckAdapter(cfg); err != nil {
		return err
	}
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(cfg.Store.DBPath, logger)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	defer st.Close()

	renderer, closeRenderer := newRenderer(cfg, logger)
	defer closeRenderer()

	ad, err := newAdapter(cfg, st, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := ad.Close(); err != nil {
			logger.Warn("adapter close failed", "adapter", ad.Name(), "err", err)
		}
	}()

	b := bot.New(bot.Config{
		Client:      ad,
		Renderer:    renderer,
		Logger:      logger,
		DisplayName: cfg.Bot.DisplayName,
		Status:      cfg.Bot.Status,
		TempDir:     cfg.Bot.TempDir,
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		// the metrics server lives only as long as the bot
		defer cancel()
		logger.Info("bot started", "adapter", ad.Name(), "renderer", cfg.Render.Engine)
		return b.Run(gctx, ad)
	})

	if cfg.Metrics.Enabled {
		srv := newMetricsServer(cfg.Metrics)
		g.Go(func() error {
			logger.Info("metrics endpoint listening", "addr", srv.Addr, "path", cfg.Metrics.Endpoint)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer shutdownCancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	logger.Info("bot stopped")
	return err
}

func newMetricsServer(cfg config.MetricsConfig) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Endpoint, metrics.Default.Handler())
	return &http.Server{
		Addr:              cfg.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// newRenderer builds the configured PDF engine. The returned func releases
// whatever the engine holds open.
func newRenderer(cfg *config.Config, logger *slog.Logger) (domain.Renderer, func()) {
	timeout := time.Duration(cfg.Render.TimeoutSeconds) * time.Second
	rc := cfg.Render

	if rc.Engine == config.EngineWkhtmltopdf {
		return render.NewWkhtmltopdf(render.WkhtmltopdfConfig{
			Path:      rc.WkhtmltopdfPath,
			Timeout:   timeout,
			Paper:     rc.Paper,
			Landscape: rc.Landscape,
			ExtraArgs: rc.WkhtmltopdfArgs,
			Logger:    logger,
		}), func() {}
	}

	chrome := render.NewChrome(render.ChromeConfig{
		ExecPath:        rc.ChromePath,
		Headless:        rc.Headless,
		NoSandbox:       rc.NoSandbox,
		UserAgent:       rc.UserAgent,
		Timeout:         timeout,
		Paper:           rc.Paper,
		Landscape:       rc.Landscape,
		PrintBackground: rc.PrintBackground,
		Logger:          logger,
	})
	return chrome, func() {
		if err := chrome.Close(); err != nil {
			logger.Warn("chrome close failed", "err", err)
		}
	}
}

// newAdapter connects the chat protocol selected in cfg. Adapters without
// server-side settings keep them in st.
func newAdapter(cfg *config.Config, st *store.Store, logger *slog.Logger) (domain.Adapter, error) {
	pairing := security.NewPairingService(security.PairingConfig{
		Required: cfg.Pairing.Required,
		TTL:      time.Duration(cfg.Pairing.TTLMinutes) * time.Minute,
		DB:       st.DB(),
		Logger:   logger,
	})

	switch cfg.Adapter {
	case config.AdapterDeltaChat:
		return connected(deltachat.Start(deltachat.Config{
			RPCServer:   cfg.DeltaChat.RPCServer,
			AccountsDir: cfg.DeltaChat.AccountsDir,
			Logger:      logger,
		}))
	case config.AdapterTelegram:
		return connected(telegram.New(telegram.Config{
			Tokens:           cfg.Telegram.Tokens,
			DeleteFromServer: cfg.Telegram.DeleteFromServer,
			PollTimeout:      cfg.Telegram.PollTimeout,
			Debug:            cfg.Telegram.Debug,
			Settings:         st.AccountConfig(config.AdapterTelegram),
			Pairing:          pairing,
			Logger:           logger,
		}))
	case config.AdapterDiscord:
		return connected(discord.New(discord.Config{
			Token:            cfg.Discord.Token,
			GuildID:          cfg.Discord.GuildID,
			DeleteFromServer: cfg.Discord.DeleteFromServer,
			Settings:         st.AccountConfig(config.AdapterDiscord),
			Logger:           logger,
		}))
	case config.AdapterSlack:
		return connected(slackapp.New(slackapp.Config{
			BotToken:         cfg.Slack.BotToken,
			AppToken:         cfg.Slack.AppToken,
			DeleteFromServer: cfg.Slack.DeleteFromServer,
			Settings:         st.AccountConfig(config.AdapterSlack),
			Logger:           logger,
		}))
	case config.AdapterLocal:
		return local.New(local.Config{
			UserName:  cfg.Local.UserName,
			OutputDir: cfg.Local.OutputDir,
			Settings:  st.AccountConfig(config.AdapterLocal),
			Logger:    logger,
		}), nil
	}
	return nil, fmt.Errorf("unknown adapter %q", cfg.Adapter)
}

// connected keeps a failed constructor from yielding a non-nil adapter.
func connected[T domain.Adapter](a T, err error) (domain.Adapter, error) {
	if err != nil {
		return nil, err
	}
	return a, nil
}
