package config

// Dispatch match modes.
const (
	MatchFirst = "first"
	MatchAll   = "all"
)

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:              "info",
			DataDir:               "~/.triger",
			MaxConcurrentMessages: 5,
		},
		Store: StoreConfig{
			DBPath: "~/.triger/triger.db",
		},
		Dispatch: DispatchConfig{
			MatchMode:          MatchFirst,
			DedupWindowSeconds: 600,
			SweepSchedule:      "@every 1m",
			NotifyFailures:     true,
			ReportErrorsToSelf: true,
		},
		Transports: TransportsConfig{
			WhatsApp: WhatsAppConfig{
				Enabled:           false,
				BridgeURL:         "ws://127.0.0.1:3001",
				SendRatePerSecond: 1,
				SendBurst:         3,
			},
			Telegram: TelegramConfig{
				Enabled: false,
			},
			CLI: CLIConfig{
				Enabled: true,
			},
		},
		Metrics: MetricsConfig{
			Enabled:  false,
			Addr:     "127.0.0.1:9090",
			Endpoint: "/metrics",
		},
	}
}
