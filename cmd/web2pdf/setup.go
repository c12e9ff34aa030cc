package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"web2pdfbot/internal/config"
)

var knownAdapters = []struct {
	ID   string
	Desc string
}{
	{config.AdapterDeltaChat, "Delta Chat, over an email account"},
	{config.AdapterTelegram, "Telegram bot (token from @BotFather)"},
	{config.AdapterDiscord, "Discord bot"},
	{config.AdapterSlack, "Slack app in Socket Mode"},
	{config.AdapterLocal, "Terminal session, PDFs saved to a directory"},
}

var knownEngines = []struct {
	ID   string
	Desc string
}{
	{config.EngineChrome, "headless Chrome (needs chrome or chromium)"},
	{config.EngineWkhtmltopdf, "wkhtmltopdf"},
}

func setupCmd() *cobra.Command {
	var interactive, force bool

	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Write a config file",
		Long:  "Writes the default configuration to the path used by --config. With --interactive it asks for the chat adapter, its credentials and the PDF engine first.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if _, err := os.Stat(config.ExpandPath(cfgPath)); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", cfgPath)
			}

			cfg := config.Defaults()
			if interactive {
				if err := runWizard(cfg, os.Stdin, os.Stdout); err != nil {
					return err
				}
			}
			if err := config.Validate(cfg); err != nil {
				return fmt.Errorf("config validation: %w", err)
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			fmt.Printf("Config saved to %s\n", cfgPath)
			if cfg.Adapter == config.AdapterDeltaChat {
				fmt.Println("Next: run 'web2pdf init <addr> <password>', then 'web2pdf serve'.")
			} else {
				fmt.Println("Next: run 'web2pdf doctor', then 'web2pdf serve'.")
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "ask for the adapter and credentials")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}

// runWizard fills cfg from answers read off in.
func runWizard(cfg *config.Config, in io.Reader, out io.Writer) error {
	reader := bufio.NewReader(in)
	prompt := func(def string) (string, error) {
		if def != "" {
			fmt.Fprintf(out, " [%s]: ", def)
		} else {
			fmt.Fprint(out, ": ")
		}
		line, err := reader.ReadString('\n')
		// at EOF the defaults answer the remaining questions
		if err != nil && err != io.EOF {
			return "", err
		}
		s := strings.TrimSpace(line)
		if s == "" {
			return def, nil
		}
		return s, nil
	}
	choose := func(n int) (int, error) {
		fmt.Fprintf(out, "Choose (1-%d)", n)
		choice, err := prompt("1")
		if err != nil {
			return 0, err
		}
		var idx int
		if k, _ := fmt.Sscanf(choice, "%d", &idx); k != 1 || idx < 1 || idx > n {
			idx = 1
		}
		return idx - 1, nil
	}

	fmt.Fprintln(out, "\n--- Step 1: Chat adapter ---")
	for i, a := range knownAdapters {
		fmt.Fprintf(out, "  %d) %s: %s\n", i+1, a.ID, a.Desc)
	}
	idx, err := choose(len(knownAdapters))
	if err != nil {
		return err
	}
	cfg.Adapter = knownAdapters[idx].ID

	fmt.Fprintln(out, "\n--- Step 2: Credentials ---")
	switch cfg.Adapter {
	case config.AdapterDeltaChat:
		fmt.Fprint(out, "deltachat-rpc-server binary")
		if cfg.DeltaChat.RPCServer, err = prompt(cfg.DeltaChat.RPCServer); err != nil {
			return err
		}
	case config.AdapterTelegram:
		fmt.Fprint(out, "Bot token, or an env var such as ${TELEGRAM_TOKEN}")
		tok, err := prompt("${TELEGRAM_TOKEN}")
		if err != nil {
			return err
		}
		cfg.Telegram.Tokens = config.FlexStringList{tok}
	case config.AdapterDiscord:
		fmt.Fprint(out, "Bot token")
		if cfg.Discord.Token, err = prompt("${DISCORD_TOKEN}"); err != nil {
			return err
		}
	case config.AdapterSlack:
		fmt.Fprint(out, "Bot token (xoxb-)")
		if cfg.Slack.BotToken, err = prompt("${SLACK_BOT_TOKEN}"); err != nil {
			return err
		}
		fmt.Fprint(out, "App token (xapp-)")
		if cfg.Slack.AppToken, err = prompt("${SLACK_APP_TOKEN}"); err != nil {
			return err
		}
	case config.AdapterLocal:
		fmt.Fprint(out, "Directory for received PDFs")
		if cfg.Local.OutputDir, err = prompt(cfg.Local.OutputDir); err != nil {
			return err
		}
	}

	fmt.Fprintln(out, "\n--- Step 3: PDF engine ---")
	for i, e := range knownEngines {
		fmt.Fprintf(out, "  %d) %s: %s\n", i+1, e.ID, e.Desc)
	}
	if idx, err = choose(len(knownEngines)); err != nil {
		return err
	}
	cfg.Render.Engine = knownEngines[idx].ID

	fmt.Fprintf(out, "  Using %s with %s\n", cfg.Adapter, cfg.Render.Engine)
	return nil
}
