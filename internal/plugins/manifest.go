package plugins

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"triger/internal/domain"
)

// Manifest adjusts built-in commands without code changes:
//
//	modules:
//	  vars: {enabled: false}
//	commands:
//	  ping: {enabled: false}
//	  getvar: {permission: restricted, scope: direct-only}
type Manifest struct {
	Modules  map[string]ModuleOverride  `yaml:"modules"`
	Commands map[string]CommandOverride `yaml:"commands"`
}

type ModuleOverride struct {
	Enabled *bool `yaml:"enabled"`
}

// CommandOverride replaces fields of one command, looked up by name.
// Scope "any" lifts a scope restriction.
type CommandOverride struct {
	Enabled     *bool  `yaml:"enabled"`
	Permission  string `yaml:"permission,omitempty"`
	Scope       string `yaml:"scope,omitempty"`
	Description string `yaml:"description,omitempty"`
	Category    string `yaml:"category,omitempty"`
}

// LoadManifest reads a manifest file. An empty path or a missing file yields
// an empty manifest.
func LoadManifest(path string) (*Manifest, error) {
	m := &Manifest{}
	if path == "" {
		return m, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read command manifest: %w", err)
	}
	if err := yaml.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("parse command manifest %s: %w", path, err)
	}
	return m, nil
}

// ModuleEnabled reports whether module name should load.
func (m *Manifest) ModuleEnabled(name string) bool {
	if o, ok := m.Modules[name]; ok && o.Enabled != nil {
		return *o.Enabled
	}
	return true
}

// Apply returns desc with its override applied and whether it is enabled.
// Invalid override values are passed through and rejected at registration.
func (m *Manifest) Apply(desc domain.CommandDescriptor) (domain.CommandDescriptor, bool) {
	o, ok := m.Commands[desc.Name]
	if !ok {
		return desc, true
	}
	if o.Permission != "" {
		desc.Permission = domain.PermissionMode(o.Permission)
	}
	switch o.Scope {
	case "":
	case "any":
		desc.Scope = domain.ScopeAny
	default:
		desc.Scope = domain.Scope(o.Scope)
	}
	if o.Description != "" {
		desc.Description = o.Description
	}
	if o.Category != "" {
		desc.Category = o.Category
	}
	return desc, o.Enabled == nil || *o.Enabled
}
