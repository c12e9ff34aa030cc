package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"web2pdfbot/internal/config"
	"web2pdfbot/internal/logging"
)

var (
	version    = "1.0.0"
	configPath string // overridable via --config flag
	logLevel   string
	noTime     bool
)

func main() {
	// a missing .env is fine, everything can come from the real environment
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logging.New(logging.Options{}).Warn("cannot load .env", "err", err)
	}

	root := &cobra.Command{
		Use:           "web2pdf",
		Short:         "Chat bot that converts web pages to PDF",
		Long:          "web2pdf answers every message containing a URL with a PDF of that page. It speaks Delta Chat, Telegram, Discord, Slack or a local terminal session.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetVersionTemplate("web2pdf {{.Version}}\n")

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json or config.yaml (default: ~/.web2pdf/config.json)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error (default: from config)")
	root.PersistentFlags().BoolVar(&noTime, "no-time", false, "do not print timestamps in log messages")

	root.AddCommand(serveCmd())
	root.AddCommand(setupCmd())
	root.AddCommand(initCmd())
	root.AddCommand(linkCmd())
	root.AddCommand(listCmd())
	root.AddCommand(configCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(backupCmd())
	root.AddCommand(restoreCmd())
	root.AddCommand(installDaemonCmd())
	root.AddCommand(uninstallDaemonCmd())

	if err := root.Execute(); err != nil {
		newLogger(nil).Error("command failed", "err", err)
		os.Exit(1)
	}
}

// newLogger builds the logger for a command. Flags win over the config
// file; cfg may be nil.
func newLogger(cfg *config.Config) *slog.Logger {
	opts := logging.Options{Level: logLevel, NoTime: noTime}
	if cfg != nil {
		if opts.Level == "" {
			opts.Level = cfg.Log.Level
		}
		opts.NoTime = opts.NoTime || cfg.Log.NoTime
	}
	return logging.New(opts)
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

// loadConfig reads the config file.
func loadConfig() (*config.Config, string, error) {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config: %w", err)
	}
	return cfg, cfgPath, nil
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and list configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. render.engine)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			val, err := config.GetByPath(config.Sanitize(cfg), args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. render.paper letter)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, cfgPath, err := loadConfig()
			if err != nil {
				return err
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			newLogger(cfg).Info("config updated", "path", args[0], "file", cfgPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			settings := config.ListPaths(config.Sanitize(cfg))
			paths := make([]string, 0, len(settings))
			for path := range settings {
				paths = append(paths, path)
			}
			sort.Strings(paths)
			for _, path := range paths {
				data, _ := json.Marshal(settings[path])
				fmt.Printf("%s = %s\n", path, data)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}
