package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Config is the root process configuration for Triger. Bot settings that
// commands can change at runtime (owner, admins, prefixes) live in the
// config store instead; see SnapshotSource.
type Config struct {
	General    GeneralConfig    `json:"general"`
	Store      StoreConfig      `json:"store"`
	Dispatch   DispatchConfig   `json:"dispatch"`
	Commands   CommandsConfig   `json:"commands"`
	Transports TransportsConfig `json:"transports"`
	Metrics    MetricsConfig    `json:"metrics"`
}

type GeneralConfig struct {
	LogLevel              string `json:"logLevel"`
	LogFile               string `json:"logFile,omitempty"` // optional log file path
	DataDir               string `json:"dataDir"`
	MaxConcurrentMessages int    `json:"maxConcurrentMessages"`
}

type StoreConfig struct {
	DBPath string `json:"dbPath"`
}

// DispatchConfig tunes the dispatcher.
type DispatchConfig struct {
	MatchMode          string `json:"matchMode"` // "first" | "all"
	DedupWindowSeconds int    `json:"dedupWindowSeconds"`
	SweepSchedule      string `json:"sweepSchedule"` // cron spec for the dedup sweep
	NotifyFailures     bool   `json:"notifyFailures"`
	ReportErrorsToSelf bool   `json:"reportErrorsToSelf"`
}

type CommandsConfig struct {
	ManifestPath string `json:"manifestPath,omitempty"` // optional YAML overrides
}

type TransportsConfig struct {
	WhatsApp WhatsAppConfig `json:"whatsapp"`
	Telegram TelegramConfig `json:"telegram"`
	CLI      CLIConfig      `json:"cli"`
}

// WhatsAppConfig configures the Baileys bridge client.
type WhatsAppConfig struct {
	Enabled           bool    `json:"enabled"`
	BridgeURL         string  `json:"bridgeUrl"`
	BridgeToken       string  `json:"bridgeToken,omitempty" secret:"true"`
	SendRatePerSecond float64 `json:"sendRatePerSecond"`
	SendBurst         int     `json:"sendBurst"`
}

type TelegramConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token" secret:"true"`
}

type CLIConfig struct {
	Enabled bool `json:"enabled"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled  bool   `json:"enabled"`
	Addr     string `json:"addr"`
	Endpoint string `json:"endpoint"`
}

// DefaultConfigDir returns the default config directory (~/.triger).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".triger"
	}
	return filepath.Join(home, ".triger")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
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
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.General.DataDir = ExpandPath(cfg.General.DataDir)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Store.DBPath = ExpandPath(cfg.Store.DBPath)
	cfg.Commands.ManifestPath = ExpandPath(cfg.Commands.ManifestPath)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault loads path, falling back to Defaults when the file does not
// exist.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(ExpandPath(path)); os.IsNotExist(err) {
		cfg := Defaults()
		cfg.General.DataDir = ExpandPath(cfg.General.DataDir)
		cfg.Store.DBPath = ExpandPath(cfg.Store.DBPath)
		return cfg, nil
	}
	return Load(path)
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty.
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
			return match
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	path = ExpandPath(path)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch strings.ToLower(cfg.General.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}
	if cfg.General.MaxConcurrentMessages < 1 || cfg.General.MaxConcurrentMessages > 100 {
		errs = append(errs, "general.maxConcurrentMessages must be between 1 and 100")
	}
	if cfg.Store.DBPath == "" {
		errs = append(errs, "store.dbPath is required")
	}

	switch cfg.Dispatch.MatchMode {
	case MatchFirst, MatchAll:
	default:
		errs = append(errs, "dispatch.matchMode must be one of: first, all")
	}
	if cfg.Dispatch.DedupWindowSeconds < 1 {
		errs = append(errs, "dispatch.dedupWindowSeconds must be >= 1")
	}
	if cfg.Dispatch.SweepSchedule == "" {
		errs = append(errs, "dispatch.sweepSchedule is required")
	}

	wa := cfg.Transports.WhatsApp
	if wa.Enabled {
		if !strings.HasPrefix(wa.BridgeURL, "ws://") && !strings.HasPrefix(wa.BridgeURL, "wss://") {
			errs = append(errs, "transports.whatsapp.bridgeUrl must be a ws:// or wss:// URL")
		}
		if wa.SendRatePerSecond <= 0 {
			errs = append(errs, "transports.whatsapp.sendRatePerSecond must be > 0")
		}
		if wa.SendBurst < 1 {
			errs = append(errs, "transports.whatsapp.sendBurst must be >= 1")
		}
	}
	if cfg.Transports.Telegram.Enabled && cfg.Transports.Telegram.Token == "" {
		errs = append(errs, "transports.telegram.token is required when telegram is enabled")
	}

	if cfg.Metrics.Enabled {
		if cfg.Metrics.Addr == "" {
			errs = append(errs, "metrics.addr is required when metrics are enabled")
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
