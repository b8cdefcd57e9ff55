// Package plugins contains the built-in command modules and the loader that
// registers them.
package plugins

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"triger/internal/command"
	"triger/internal/domain"
	"triger/internal/security"
)

// Lister exposes the registered commands, for menus.
type Lister interface {
	List() []domain.CommandDescriptor
}

// Deps are the collaborators built-in commands may use.
type Deps struct {
	Store    domain.ConfigStore
	Commands Lister
	Audit    *security.Engine // optional
	Started  time.Time
	Version  string
}

// Module is a named group of commands.
type Module struct {
	Name     string
	Commands func(deps Deps) []domain.CommandDescriptor
}

// Builtins returns the built-in modules in registration order.
func Builtins() []Module {
	return []Module{
		{Name: "core", Commands: coreCommands},
		{Name: "sudo", Commands: sudoCommands},
		{Name: "vars", Commands: varCommands},
	}
}

// Load registers every command of modules, applying manifest overrides. A
// command that fails validation is skipped and loading continues; all
// failures are returned joined.
func Load(reg command.Registrar, deps Deps, modules []Module, manifest *Manifest, logger *slog.Logger) error {
	if manifest == nil {
		manifest = &Manifest{}
	}

	var errs []error
	loaded := 0
	for _, mod := range modules {
		if !manifest.ModuleEnabled(mod.Name) {
			logger.Info("command module disabled", "module", mod.Name)
			continue
		}
		for _, desc := range mod.Commands(deps) {
			desc, enabled := manifest.Apply(desc)
			if !enabled {
				logger.Info("command disabled", "module", mod.Name, "command", desc.Name)
				continue
			}
			if err := reg.Register(desc); err != nil {
				logger.Error("command not registered", "module", mod.Name, "command", desc.Name, "err", err)
				errs = append(errs, fmt.Errorf("module %s: %w", mod.Name, err))
				continue
			}
			loaded++
		}
	}

	logger.Info("commands loaded", "count", loaded, "failed", len(errs))
	return errors.Join(errs...)
}
