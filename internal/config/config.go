package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Adapter names accepted in Config.Adapter.
const (
	AdapterDeltaChat = "deltachat"
	AdapterTelegram  = "telegram"
	AdapterDiscord   = "discord"
	AdapterSlack     = "slack"
	AdapterLocal     = "local"
)

// Render engines accepted in RenderConfig.Engine.
const (
	EngineChrome      = "chrome"
	EngineWkhtmltopdf = "wkhtmltopdf"
)

// Config is the root configuration for the bot.
type Config struct {
	Bot       BotConfig       `json:"bot" yaml:"bot"`
	Adapter   string          `json:"adapter" yaml:"adapter"` // deltachat | telegram | discord | slack | local
	DeltaChat DeltaChatConfig `json:"deltachat" yaml:"deltachat"`
	Telegram  TelegramConfig  `json:"telegram" yaml:"telegram"`
	Discord   DiscordConfig   `json:"discord" yaml:"discord"`
	Slack     SlackConfig     `json:"slack" yaml:"slack"`
	Local     LocalConfig     `json:"local" yaml:"local"`
	Render    RenderConfig    `json:"render" yaml:"render"`
	Store     StoreConfig     `json:"store" yaml:"store"`
	Pairing   PairingConfig   `json:"pairing" yaml:"pairing"`
	Metrics   MetricsConfig   `json:"metrics" yaml:"metrics"`
	Log       LogConfig       `json:"log" yaml:"log"`
}

type BotConfig struct {
	DisplayName string `json:"displayName" yaml:"displayName"`
	Status      string `json:"status" yaml:"status"`
	TempDir     string `json:"tempDir,omitempty" yaml:"tempDir,omitempty"` // default: os.TempDir()
}

type DeltaChatConfig struct {
	RPCServer   string `json:"rpcServer" yaml:"rpcServer"` // deltachat-rpc-server binary
	AccountsDir string `json:"accountsDir" yaml:"accountsDir"`
}

type TelegramConfig struct {
	// Tokens holds one bot token per account; account ids start at 1.
	Tokens           FlexStringList `json:"tokens" yaml:"tokens"`
	DeleteFromServer bool           `json:"deleteFromServer,omitempty" yaml:"deleteFromServer,omitempty"`
	PollTimeout      int            `json:"pollTimeoutSeconds" yaml:"pollTimeoutSeconds"`
	Debug            bool           `json:"debug,omitempty" yaml:"debug,omitempty"`
}

type DiscordConfig struct {
	Token            string `json:"token" yaml:"token"`
	GuildID          string `json:"guildId,omitempty" yaml:"guildId,omitempty"` // optional: restrict to specific guild
	DeleteFromServer bool   `json:"deleteFromServer,omitempty" yaml:"deleteFromServer,omitempty"`
}

type SlackConfig struct {
	BotToken         string `json:"botToken" yaml:"botToken"`
	AppToken         string `json:"appToken" yaml:"appToken"` // required for Socket Mode
	DeleteFromServer bool   `json:"deleteFromServer,omitempty" yaml:"deleteFromServer,omitempty"`
}

type LocalConfig struct {
	UserName  string `json:"userName" yaml:"userName"`
	OutputDir string `json:"outputDir" yaml:"outputDir"` // where received PDFs are saved
}

type RenderConfig struct {
	Engine          string   `json:"engine" yaml:"engine"`                 // chrome | wkhtmltopdf
	TimeoutSeconds  int      `json:"timeoutSeconds" yaml:"timeoutSeconds"` // 0 = none
	ChromePath      string   `json:"chromePath,omitempty" yaml:"chromePath,omitempty"`
	Headless        bool     `json:"headless" yaml:"headless"`
	NoSandbox       bool     `json:"noSandbox,omitempty" yaml:"noSandbox,omitempty"`
	UserAgent       string   `json:"userAgent,omitempty" yaml:"userAgent,omitempty"`
	Paper           string   `json:"paper" yaml:"paper"` // a4 | letter | legal
	Landscape       bool     `json:"landscape,omitempty" yaml:"landscape,omitempty"`
	PrintBackground bool     `json:"printBackground" yaml:"printBackground"`
	WkhtmltopdfPath string   `json:"wkhtmltopdfPath" yaml:"wkhtmltopdfPath"`
	WkhtmltopdfArgs []string `json:"wkhtmltopdfArgs,omitempty" yaml:"wkhtmltopdfArgs,omitempty"`
}

type StoreConfig struct {
	DBPath string `json:"dbPath" yaml:"dbPath"`
}

// PairingConfig controls invite codes for adapters without native pairing.
type PairingConfig struct {
	Required   bool `json:"required" yaml:"required"`
	TTLMinutes int  `json:"ttlMinutes" yaml:"ttlMinutes"` // 0 = never expire
}

// MetricsConfig configures the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Listen   string `json:"listen" yaml:"listen"`
	Endpoint string `json:"endpoint" yaml:"endpoint"`
}

type LogConfig struct {
	Level  string `json:"level" yaml:"level"` // debug | info | warn | error
	NoTime bool   `json:"noTime,omitempty" yaml:"noTime,omitempty"`
}

// FlexStringList is a []string that can unmarshal from JSON arrays containing
// both strings and numbers (e.g. ["123", 456] both become "123", "456").
type FlexStringList []string

func (f *FlexStringList) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*f = splitList(single)
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			result = append(result, s)
			continue
		}
		var n float64
		if err := json.Unmarshal(item, &n); err == nil {
			result = append(result, strconv.FormatInt(int64(n), 10))
			continue
		}
		result = append(result, string(item))
	}
	*f = result
	return nil
}

// UnmarshalYAML accepts a sequence of scalars or a single comma-separated
// scalar, which is what ${VAR} expansion of a token list produces.
func (f *FlexStringList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		*f = splitList(value.Value)
		return nil
	case yaml.SequenceNode:
		result := make([]string, 0, len(value.Content))
		for _, item := range value.Content {
			if item.Kind != yaml.ScalarNode {
				return fmt.Errorf("line %d: expected a scalar list item", item.Line)
			}
			result = append(result, item.Value)
		}
		*f = result
		return nil
	default:
		return fmt.Errorf("line %d: expected a list of strings", value.Line)
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// DefaultConfigDir returns the default config directory (~/.web2pdf).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".web2pdf"
	}
	return filepath.Join(home, ".web2pdf")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if isYAML(path) {
		err = yaml.Unmarshal(data, cfg)
	} else {
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.DeltaChat.AccountsDir = ExpandPath(cfg.DeltaChat.AccountsDir)
	cfg.Store.DBPath = ExpandPath(cfg.Store.DBPath)
	cfg.Bot.TempDir = ExpandPath(cfg.Bot.TempDir)
	cfg.Local.OutputDir = ExpandPath(cfg.Local.OutputDir)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		hasDefault := len(groups) >= 3 && groups[2] != ""

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return groups[2]
			}
			return match // keep original if no env var and no default
		}
		return val
	})
}

// Save writes cfg to path, as YAML when the extension says so.
func Save(path string, cfg *Config) error {
	path = ExpandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	// tokens live in here
	return os.WriteFile(path, data, 0o600)
}

var (
	validAdapters = []string{AdapterDeltaChat, AdapterTelegram, AdapterDiscord, AdapterSlack, AdapterLocal}
	validEngines  = []string{EngineChrome, EngineWkhtmltopdf}
	validPapers   = []string{"a4", "letter", "legal"}
	validLevels   = []string{"debug", "info", "warn", "error"}
)

func oneOf(v string, allowed []string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

// Validate checks that the config has valid values. Credentials are checked
// separately by CheckAdapter so an incomplete config can still be edited.
func Validate(cfg *Config) error {
	var errs []string

	if !oneOf(cfg.Adapter, validAdapters) {
		errs = append(errs, "adapter must be one of: "+strings.Join(validAdapters, ", "))
	}
	if !oneOf(cfg.Render.Engine, validEngines) {
		errs = append(errs, "render.engine must be one of: "+strings.Join(validEngines, ", "))
	}
	if cfg.Render.TimeoutSeconds < 0 {
		errs = append(errs, "render.timeoutSeconds must be >= 0")
	}
	if !oneOf(strings.ToLower(cfg.Render.Paper), validPapers) {
		errs = append(errs, "render.paper must be one of: "+strings.Join(validPapers, ", "))
	}
	if !oneOf(strings.ToLower(cfg.Log.Level), validLevels) {
		errs = append(errs, "log.level must be one of: "+strings.Join(validLevels, ", "))
	}
	if cfg.Pairing.TTLMinutes < 0 {
		errs = append(errs, "pairing.ttlMinutes must be >= 0")
	}
	if cfg.Telegram.PollTimeout < 0 {
		errs = append(errs, "telegram.pollTimeoutSeconds must be >= 0")
	}
	if cfg.Store.DBPath == "" {
		errs = append(errs, "store.dbPath is required")
	}
	if cfg.Metrics.Enabled {
		if cfg.Metrics.Listen == "" {
			errs = append(errs, "metrics.listen is required when metrics are enabled")
		}
		if !strings.HasPrefix(cfg.Metrics.Endpoint, "/") {
			errs = append(errs, "metrics.endpoint must start with /")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// CheckAdapter reports missing settings for the selected adapter.
func CheckAdapter(cfg *Config) error {
	switch cfg.Adapter {
	case AdapterDeltaChat:
		if cfg.DeltaChat.RPCServer == "" {
			return fmt.Errorf("deltachat.rpcServer is required")
		}
		if cfg.DeltaChat.AccountsDir == "" {
			return fmt.Errorf("deltachat.accountsDir is required")
		}
	case AdapterTelegram:
		if len(cfg.Telegram.Tokens) == 0 {
			return fmt.Errorf("telegram.tokens needs at least one bot token")
		}
		for i, tok := range cfg.Telegram.Tokens {
			if strings.TrimSpace(tok) == "" {
				return fmt.Errorf("telegram.tokens.%d is empty", i)
			}
		}
	case AdapterDiscord:
		if cfg.Discord.Token == "" {
			return fmt.Errorf("discord.token is required")
		}
	case AdapterSlack:
		if cfg.Slack.BotToken == "" || cfg.Slack.AppToken == "" {
			return fmt.Errorf("slack.botToken and slack.appToken are required")
		}
	case AdapterLocal:
	default:
		return fmt.Errorf("unknown adapter %q", cfg.Adapter)
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
