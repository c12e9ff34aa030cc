package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"time"

	"github.com/spf13/cobra"

	"web2pdfbot/internal/config"
	"web2pdfbot/internal/store"
)

// chromeNames are the binaries chromedp looks for when no path is set.
var chromeNames = []string{"google-chrome", "chromium", "chromium-browser", "google-chrome-stable", "headless-shell", "chrome"}

type doctor struct {
	passed, warned, failed int
}

func (d *doctor) pass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
	d.passed++
}

func (d *doctor) fail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
	d.failed++
}

func (d *doctor) warn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
	d.warned++
}

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your web2pdf installation",
		Long: `Verifies the configuration, the local database, the PDF engine and
the chat adapter credentials. Reports pass/fail for each check.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("web2pdf doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			d := &doctor{}
			if _, err := os.Stat(config.ExpandPath(cfgPath)); err != nil {
				d.fail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				fmt.Printf("\nRun 'web2pdf setup' to create a default configuration.\n")
				return fmt.Errorf("no config file")
			}
			d.pass("Config file", cfgPath)

			cfg, err := config.Load(cfgPath)
			if err != nil {
				d.fail("Config validation", err.Error())
				return d.summary()
			}
			d.pass("Config validation", "valid")

			if err := config.CheckAdapter(cfg); err != nil {
				d.fail("Adapter: "+cfg.Adapter, err.Error())
			} else {
				d.pass("Adapter: "+cfg.Adapter, "configured")
			}
			if cfg.Adapter == config.AdapterDeltaChat {
				d.binary("RPC server", cfg.DeltaChat.RPCServer)
			}

			if err := checkDatabase(cfg.Store.DBPath, newLogger(cfg)); err != nil {
				d.fail("Database", err.Error())
			} else {
				d.pass("Database", cfg.Store.DBPath)
			}

			switch cfg.Render.Engine {
			case config.EngineWkhtmltopdf:
				d.binary("wkhtmltopdf", cfg.Render.WkhtmltopdfPath)
			default:
				if cfg.Render.ChromePath != "" {
					d.binary("Chrome", cfg.Render.ChromePath)
				} else if path, ok := findChrome(); ok {
					d.pass("Chrome", path)
				} else {
					d.fail("Chrome", "no chrome or chromium binary in PATH, set render.chromePath")
				}
			}

			if cfg.Bot.TempDir != "" {
				if info, err := os.Stat(cfg.Bot.TempDir); err != nil || !info.IsDir() {
					d.fail("Temp dir", fmt.Sprintf("not a directory: %s", cfg.Bot.TempDir))
				} else {
					d.pass("Temp dir", cfg.Bot.TempDir)
				}
			}

			if cfg.Metrics.Enabled {
				if err := checkListen(cfg.Metrics.Listen); err != nil {
					d.warn("Metrics listen", fmt.Sprintf("%s may be in use: %v", cfg.Metrics.Listen, err))
				} else {
					d.pass("Metrics listen", cfg.Metrics.Listen+" available")
				}
			}

			return d.summary()
		},
	}
}

func (d *doctor) binary(check, name string) {
	path, err := exec.LookPath(name)
	if err != nil {
		d.fail(check, fmt.Sprintf("%s not found: %v", name, err))
		return
	}
	d.pass(check, path)
}

func (d *doctor) summary() error {
	fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
	fmt.Printf("Results: %d passed, %d warnings, %d failed\n", d.passed, d.warned, d.failed)
	if d.failed > 0 {
		fmt.Printf("\nPlease fix the failed checks before running 'web2pdf serve'.\n")
		return fmt.Errorf("%d check(s) failed", d.failed)
	}
	if d.warned > 0 {
		fmt.Printf("\nweb2pdf should work but consider fixing the warnings.\n")
	} else {
		fmt.Printf("\nAll checks passed! web2pdf is ready to run.\n")
	}
	return nil
}

func findChrome() (string, bool) {
	for _, name := range chromeNames {
		if path, err := exec.LookPath(name); err == nil {
			return path, true
		}
	}
	return "", false
}

// checkDatabase opens the store, which also applies migrations, and makes
// sure it accepts writes.
func checkDatabase(dbPath string, logger *slog.Logger) error {
	st, err := store.Open(dbPath, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := st.Ping(ctx); err != nil {
		return fmt.Errorf("cannot ping: %w", err)
	}
	if _, err := st.DB().ExecContext(ctx, "CREATE TABLE IF NOT EXISTS _doctor_test (id INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	st.DB().ExecContext(ctx, "DROP TABLE IF EXISTS _doctor_test")
	return nil
}

func checkListen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return ln.Close()
}
