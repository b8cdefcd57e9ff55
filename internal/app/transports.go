package app

import (
	"log/slog"

	"triger/internal/bus"
	"triger/internal/config"
	"triger/internal/domain"
	"triger/internal/transport/telegram"
	"triger/internal/transport/whatsapp"
)

// Transports builds the enabled network transports. The CLI transport is
// not included; it is started by the chat command.
func Transports(cfg *config.Config, events *bus.EventBus, logger *slog.Logger) []domain.Transport {
	var out []domain.Transport

	if wa := cfg.Transports.WhatsApp; wa.Enabled {
		out = append(out, whatsapp.New(whatsapp.Config{
			URL:       wa.BridgeURL,
			Token:     wa.BridgeToken,
			SendRate:  wa.SendRatePerSecond,
			SendBurst: wa.SendBurst,
			Events:    events,
			Logger:    logger.With("transport", "whatsapp"),
		}))
	}

	if tg := cfg.Transports.Telegram; tg.Enabled && tg.Token != "" {
		out = append(out, telegram.New(telegram.Config{
			Token:  tg.Token,
			Events: events,
			Logger: logger.With("transport", "telegram"),
		}))
	}

	return out
}
