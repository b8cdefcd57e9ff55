package plugins

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"triger/internal/domain"
)

func coreCommands(deps Deps) []domain.CommandDescriptor {
	return []domain.CommandDescriptor{
		{
			Name:        "ping",
			Pattern:     `ping ?(.*)`,
			Description: "Check bot responsiveness",
			Category:    "misc",
			Permission:  domain.PermissionOpen,
			Handler:     ping,
		},
		{
			Name:        "hello",
			Pattern:     `hello`,
			Description: "Say hello",
			Category:    "misc",
			Permission:  domain.PermissionOpen,
			Handler:     hello,
		},
		{
			Name:        "menu",
			Pattern:     `menu|help`,
			Description: "List available commands",
			Category:    "misc",
			Permission:  domain.PermissionOpen,
			Handler:     menu(deps.Commands),
		},
		{
			Name:        "status",
			Pattern:     `status|uptime|version`,
			Description: "Show uptime and version",
			Category:    "misc",
			Permission:  domain.PermissionOpen,
			Handler:     status(deps),
		},
	}
}

func ping(ctx context.Context, cc *domain.CommandContext) error {
	start := time.Now()
	if err := cc.Send(ctx, "Pinging..."); err != nil {
		return err
	}
	return cc.Send(ctx, fmt.Sprintf("Pong! %dms", time.Since(start).Milliseconds()))
}

func hello(ctx context.Context, cc *domain.CommandContext) error {
	return cc.Send(ctx, fmt.Sprintf("👋 Hello! %s is online and ready.", cc.Snapshot.BotName))
}

func menu(commands Lister) domain.Handler {
	return func(ctx context.Context, cc *domain.CommandContext) error {
		byCategory := make(map[string][]domain.CommandDescriptor)
		for _, d := range commands.List() {
			cat := d.Category
			if cat == "" {
				cat = "other"
			}
			byCategory[cat] = append(byCategory[cat], d)
		}
		categories := make([]string, 0, len(byCategory))
		for cat := range byCategory {
			categories = append(categories, cat)
		}
		sort.Strings(categories)

		var sb strings.Builder
		fmt.Fprintf(&sb, "*%s commands*\n", cc.Snapshot.BotName)
		for _, cat := range categories {
			fmt.Fprintf(&sb, "\n_%s_\n", strings.ToUpper(cat))
			for _, d := range byCategory[cat] {
				fmt.Fprintf(&sb, "%s%s", cc.Prefix, d.Name)
				if d.Description != "" {
					fmt.Fprintf(&sb, " - %s", d.Description)
				}
				sb.WriteByte('\n')
			}
		}
		return cc.Send(ctx, strings.TrimRight(sb.String(), "\n"))
	}
}

func status(deps Deps) domain.Handler {
	return func(ctx context.Context, cc *domain.CommandContext) error {
		uptime := time.Since(deps.Started).Round(time.Second)
		n := 0
		if deps.Commands != nil {
			n = len(deps.Commands.List())
		}
		return cc.Send(ctx, fmt.Sprintf("*%s* %s\nUptime: %s\nCommands: %d\nPrefixes: %s",
			cc.Snapshot.BotName, deps.Version, uptime, n, strings.Join(cc.Snapshot.Prefixes, " ")))
	}
}
