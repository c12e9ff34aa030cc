package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"web2pdfbot/internal/config"
	"web2pdfbot/internal/domain"
	"web2pdfbot/internal/store"
)

// withAdapter connects the configured adapter without running it and hands
// it to fn along with the command's logger.
func withAdapter(fn func(ctx context.Context, ad domain.Adapter, logger *slog.Logger) error) error {
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

	ad, err := newAdapter(cfg, st, logger)
	if err != nil {
		return err
	}
	defer ad.Close()

	return fn(ctx, ad, logger)
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init <addr> <password>",
		Short: "Log the bot into an email account (Delta Chat)",
		Long:  "Creates an account if there is none yet, sets its address and password, marks it as a bot and runs the configure step.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAdapter(func(ctx context.Context, ad domain.Adapter, logger *slog.Logger) error {
				return initAccount(ctx, ad, args[0], args[1], logger)
			})
		},
	}
}

func initAccount(ctx context.Context, ad domain.Adapter, addr, password string, logger *slog.Logger) error {
	conf, ok := ad.(domain.Configurer)
	if !ok {
		return fmt.Errorf("%s: %w", ad.Name(), domain.ErrNotSupported)
	}

	accounts, err := ad.AccountIDs(ctx)
	if err != nil {
		return fmt.Errorf("list accounts: %w", err)
	}
	var acc domain.AccountID
	if len(accounts) == 0 {
		if acc, err = conf.AddAccount(ctx); err != nil {
			return fmt.Errorf("add account: %w", err)
		}
	} else {
		acc = accounts[0]
	}

	settings := []struct{ key, value string }{
		{domain.ConfigAddr, addr},
		{domain.ConfigMailPassword, password},
		{domain.ConfigBot, "1"},
	}
	for _, s := range settings {
		if err := ad.SetConfig(ctx, acc, s.key, s.value); err != nil {
			return fmt.Errorf("set %s: %w", s.key, err)
		}
	}

	logger.Info("configuring account", "account", acc, "addr", addr)
	if err := conf.Configure(ctx, acc); err != nil {
		return fmt.Errorf("configure account %d: %w", acc, err)
	}
	logger.Info("account configured", "account", acc)
	return nil
}

func linkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "link",
		Short: "Print the invite link of every account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAdapter(func(ctx context.Context, ad domain.Adapter, _ *slog.Logger) error {
				inv, ok := ad.(domain.Inviter)
				if !ok {
					return fmt.Errorf("%s: %w", ad.Name(), domain.ErrNotSupported)
				}
				accounts, err := ad.AccountIDs(ctx)
				if err != nil {
					return fmt.Errorf("list accounts: %w", err)
				}
				if len(accounts) == 0 {
					return errors.New("no accounts, run 'web2pdf init' first")
				}
				for _, acc := range accounts {
					link, err := inv.InviteLink(ctx, acc)
					if err != nil {
						return fmt.Errorf("account %d: %w", acc, err)
					}
					fmt.Printf("%d: %s\n", acc, link)
				}
				return nil
			})
		},
	}
}

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the bot's accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAdapter(func(ctx context.Context, ad domain.Adapter, _ *slog.Logger) error {
				accounts, err := ad.AccountIDs(ctx)
				if err != nil {
					return fmt.Errorf("list accounts: %w", err)
				}
				for _, acc := range accounts {
					name, err := ad.GetConfig(ctx, acc, domain.ConfigDisplayName)
					if err != nil {
						return fmt.Errorf("account %d: %w", acc, err)
					}
					addr, _ := ad.GetConfig(ctx, acc, domain.ConfigAddr)
					fmt.Printf("%d\t%s\t%s\n", acc, orDash(name), orDash(addr))
				}
				return nil
			})
		},
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
