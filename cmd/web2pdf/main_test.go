package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"web2pdfbot/internal/adapter/local"
	"web2pdfbot/internal/config"
	"web2pdfbot/internal/domain"
	"web2pdfbot/internal/render"
	"web2pdfbot/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// configurable is a local adapter that pretends to log into accounts.
type configurable struct {
	*local.Adapter
	accounts   []domain.AccountID
	settings   map[string]string
	configured []domain.AccountID
}

func (c *configurable) AccountIDs(context.Context) ([]domain.AccountID, error) {
	return c.accounts, nil
}

func (c *configurable) SetConfig(_ context.Context, _ domain.AccountID, key, value string) error {
	c.settings[key] = value
	return nil
}

func (c *configurable) AddAccount(context.Context) (domain.AccountID, error) {
	c.accounts = append(c.accounts, 5)
	return 5, nil
}

func (c *configurable) Configure(_ context.Context, acc domain.AccountID) error {
	c.configured = append(c.configured, acc)
	return nil
}

func newConfigurable() *configurable {
	return &configurable{
		Adapter:  local.New(local.Config{In: strings.NewReader(""), Out: &bytes.Buffer{}, Logger: testLogger()}),
		settings: map[string]string{},
	}
}

func TestInitAccount_AddsFirstAccount(t *testing.T) {
	ad := newConfigurable()
	if err := initAccount(context.Background(), ad, "bot@example.org", "secret", testLogger()); err != nil {
		t.Fatal(err)
	}
	if len(ad.configured) != 1 || ad.configured[0] != 5 {
		t.Fatalf("expected account 5 configured, got %v", ad.configured)
	}
	want := map[string]string{"addr": "bot@example.org", "mail_pw": "secret", "bot": "1"}
	for k, v := range want {
		if ad.settings[k] != v {
			t.Errorf("%s = %q, want %q", k, ad.settings[k], v)
		}
	}
}

func TestInitAccount_ReusesExistingAccount(t *testing.T) {
	ad := newConfigurable()
	ad.accounts = []domain.AccountID{2}
	if err := initAccount(context.Background(), ad, "bot@example.org", "secret", testLogger()); err != nil {
		t.Fatal(err)
	}
	if len(ad.accounts) != 1 || ad.configured[0] != 2 {
		t.Fatalf("expected account 2 reused, got accounts %v configured %v", ad.accounts, ad.configured)
	}
}

func TestInitAccount_NotSupported(t *testing.T) {
	ad := local.New(local.Config{In: strings.NewReader(""), Out: &bytes.Buffer{}, Logger: testLogger()})
	err := initAccount(context.Background(), ad, "bot@example.org", "secret", testLogger())
	if !errors.Is(err, domain.ErrNotSupported) {
		t.Fatalf("expected ErrNotSupported, got %v", err)
	}
}

func TestNewRenderer_Engine(t *testing.T) {
	cfg := config.Defaults()
	r, closeFn := newRenderer(cfg, testLogger())
	defer closeFn()
	if _, ok := r.(*render.Chrome); !ok {
		t.Fatalf("default engine should be chrome, got %T", r)
	}

	cfg.Render.Engine = config.EngineWkhtmltopdf
	r, closeFn = newRenderer(cfg, testLogger())
	defer closeFn()
	if _, ok := r.(*render.Wkhtmltopdf); !ok {
		t.Fatalf("expected wkhtmltopdf, got %T", r)
	}
}

func TestNewAdapter(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"), testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	cfg := config.Defaults()
	cfg.Adapter = config.AdapterLocal
	ad, err := newAdapter(cfg, st, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if ad.Name() != "local" {
		t.Fatalf("unexpected adapter %s", ad.Name())
	}

	// local settings survive in the store
	ctx := context.Background()
	if err := ad.SetConfig(ctx, 1, domain.ConfigDisplayName, "Web to PDF"); err != nil {
		t.Fatal(err)
	}
	if v, _ := st.AccountConfig(config.AdapterLocal).Get(ctx, 1, domain.ConfigDisplayName); v != "Web to PDF" {
		t.Fatalf("setting not stored, got %q", v)
	}

	cfg.Adapter = "irc"
	if ad, err := newAdapter(cfg, st, testLogger()); err == nil || ad != nil {
		t.Fatalf("expected error and nil adapter, got %v, %v", ad, err)
	}

	cfg.Adapter = config.AdapterSlack
	if ad, err := newAdapter(cfg, st, testLogger()); err == nil || ad != nil {
		t.Fatal("slack without tokens must fail with a nil adapter")
	}
}

func TestRunWizard(t *testing.T) {
	cfg := config.Defaults()
	in := strings.NewReader("2\n123:abc\n2\n")
	out := &bytes.Buffer{}
	if err := runWizard(cfg, in, out); err != nil {
		t.Fatal(err)
	}
	if cfg.Adapter != config.AdapterTelegram {
		t.Fatalf("adapter = %q", cfg.Adapter)
	}
	if len(cfg.Telegram.Tokens) != 1 || cfg.Telegram.Tokens[0] != "123:abc" {
		t.Fatalf("tokens = %v", cfg.Telegram.Tokens)
	}
	if cfg.Render.Engine != config.EngineWkhtmltopdf {
		t.Fatalf("engine = %q", cfg.Render.Engine)
	}
}

func TestRunWizard_DefaultsAtEOF(t *testing.T) {
	cfg := config.Defaults()
	if err := runWizard(cfg, strings.NewReader(""), &bytes.Buffer{}); err != nil {
		t.Fatal(err)
	}
	if cfg.Adapter != config.AdapterDeltaChat || cfg.Render.Engine != config.EngineChrome {
		t.Fatalf("expected defaults, got %s/%s", cfg.Adapter, cfg.Render.Engine)
	}
	if cfg.DeltaChat.RPCServer != "deltachat-rpc-server" {
		t.Fatalf("rpc server = %q", cfg.DeltaChat.RPCServer)
	}
}

func TestBackupRoundTrip(t *testing.T) {
	src := t.TempDir()
	dbPath := filepath.Join(src, "web2pdf.db")
	cfgPath := filepath.Join(src, "config.json")
	os.WriteFile(dbPath, []byte("sqlite"), 0o600)
	os.WriteFile(dbPath+"-wal", []byte("wal"), 0o600)
	os.WriteFile(cfgPath, []byte(`{"adapter":"local"}`), 0o600)

	archive := filepath.Join(t.TempDir(), "backup.tar.gz")
	if err := createTarGz(archive, []string{dbPath, dbPath + "-wal", cfgPath}); err != nil {
		t.Fatal(err)
	}

	dst := t.TempDir()
	newDB := filepath.Join(dst, "data", "web2pdf.db")
	newCfg := filepath.Join(dst, "config.json")
	restored, err := extractTarGz(archive, restoreTargets(newCfg, newDB))
	if err != nil {
		t.Fatal(err)
	}
	if len(restored) != 3 {
		t.Fatalf("expected 3 restored files, got %v", restored)
	}
	for path, want := range map[string]string{newDB: "sqlite", newDB + "-wal": "wal", newCfg: `{"adapter":"local"}`} {
		got, err := os.ReadFile(path)
		if err != nil || string(got) != want {
			t.Errorf("%s = %q, %v", path, got, err)
		}
	}
}

func TestExtractTarGz_SkipsUnknownEntries(t *testing.T) {
	dir := t.TempDir()
	other := filepath.Join(dir, "notes.txt")
	os.WriteFile(other, []byte("x"), 0o600)
	archive := filepath.Join(dir, "backup.tar.gz")
	if err := createTarGz(archive, []string{other}); err != nil {
		t.Fatal(err)
	}
	restored, err := extractTarGz(archive, restoreTargets(filepath.Join(dir, "c.json"), filepath.Join(dir, "d.db")))
	if err != nil {
		t.Fatal(err)
	}
	if len(restored) != 0 {
		t.Fatalf("unknown entries must be skipped, got %v", restored)
	}
}

func TestServiceFile(t *testing.T) {
	unit := serviceFile(systemdTemplate, map[string]string{"EXEC": "/usr/bin/web2pdf", "CONFIG": "/etc/web2pdf.json"})
	if !strings.Contains(unit, "ExecStart=/usr/bin/web2pdf serve --no-time --config /etc/web2pdf.json") {
		t.Fatalf("unexpected unit:\n%s", unit)
	}
	if strings.Contains(unit, "{{") {
		t.Fatal("placeholders left in unit")
	}
}

func TestNewLogger_FlagsWin(t *testing.T) {
	defer func() { logLevel, noTime = "", false }()

	cfg := config.Defaults()
	cfg.Log.Level = "error"

	logLevel = "debug"
	if !newLogger(cfg).Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("--log-level should override the config")
	}

	logLevel = ""
	if newLogger(cfg).Enabled(context.Background(), slog.LevelWarn) {
		t.Fatal("config level should apply without the flag")
	}
	if !newLogger(nil).Enabled(context.Background(), slog.LevelInfo) {
		t.Fatal("without config or flag the level should be info")
	}
}
