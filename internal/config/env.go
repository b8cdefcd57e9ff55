package config

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/caarlos0/env/v11"

	"triger/internal/domain"
)

// BotEnv holds the bot settings that may be provided through the process
// environment on first start.
type BotEnv struct {
	Owner   string `env:"OWNER"`
	Sudo    string `env:"SUDO"`
	Prefix  string `env:"PREFIX"`
	BotName string `env:"BOT_NAME"`
	Logs    string `env:"LOGS"`
}

func (e BotEnv) values() map[string]string {
	return map[string]string{
		domain.KeyOwner:   e.Owner,
		domain.KeySudo:    e.Sudo,
		domain.KeyPrefix:  e.Prefix,
		domain.KeyBotName: e.BotName,
		domain.KeyLogs:    e.Logs,
	}
}

// ParseBotEnv reads BotEnv from the environment.
func ParseBotEnv() (BotEnv, error) {
	var e BotEnv
	if err := env.Parse(&e); err != nil {
		return BotEnv{}, fmt.Errorf("parse env: %w", err)
	}
	return e, nil
}

// SeedFromEnv copies environment-provided settings into store for keys that
// are not already stored. Stored values always win, so commands that change
// a setting are not undone by a restart. It returns the number of keys
// written.
func SeedFromEnv(ctx context.Context, store domain.ConfigStore, logger *slog.Logger) (int, error) {
	e, err := ParseBotEnv()
	if err != nil {
		return 0, err
	}
	return seed(ctx, store, e.values(), logger)
}

func seed(ctx context.Context, store domain.ConfigStore, values map[string]string, logger *slog.Logger) (int, error) {
	current, err := store.Get(ctx)
	if err != nil {
		return 0, fmt.Errorf("read settings: %w", err)
	}

	written := 0
	for key, value := range values {
		if value == "" {
			continue
		}
		if _, exists := current[key]; exists {
			continue
		}
		if err := store.Set(ctx, key, value); err != nil {
			return written, fmt.Errorf("seed %s: %w", key, err)
		}
		logger.Info("setting seeded from environment", "key", key)
		written++
	}
	return written, nil
}
