package config

func Defaults() *Config {
	return &Config{
		Bot: BotConfig{
			DisplayName: "Web to PDF",
			Status:      "I am a Delta Chat bot, send me /help for more info",
		},
		Adapter: AdapterDeltaChat,
		DeltaChat: DeltaChatConfig{
			RPCServer:   "deltachat-rpc-server",
			AccountsDir: "~/.web2pdf/accounts",
		},
		Telegram: TelegramConfig{
			PollTimeout: 60,
		},
		Local: LocalConfig{
			UserName:  "you",
			OutputDir: ".",
		},
		Render: RenderConfig{
			Engine:          EngineChrome,
			TimeoutSeconds:  120,
			Headless:        true,
			Paper:           "a4",
			PrintBackground: true,
			WkhtmltopdfPath: "wkhtmltopdf",
		},
		Store: StoreConfig{
			DBPath: "~/.web2pdf/web2pdf.db",
		},
		Pairing: PairingConfig{
			Required:   false,
			TTLMinutes: 60 * 24,
		},
		Metrics: MetricsConfig{
			Enabled:  false,
			Listen:   "127.0.0.1:9464",
			Endpoint: "/metrics",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}
