package plugins

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"triger/internal/command"
	"triger/internal/config"
	"triger/internal/domain"
	"triger/internal/identity"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeEndpoint struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeEndpoint) Send(ctx context.Context, chatID string, msg domain.OutboundMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg.Text)
	return nil
}

func (f *fakeEndpoint) SelfID() string                          { return "" }
func (f *fakeEndpoint) LookupAlias(alias string) (string, bool) { return "", false }

func (f *fakeEndpoint) last() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return ""
	}
	return f.sent[len(f.sent)-1]
}

type memStore struct {
	mu     sync.Mutex
	values map[string]string
}

func newMemStore(values map[string]string) *memStore {
	if values == nil {
		values = map[string]string{}
	}
	return &memStore{values: values}
}

func (m *memStore) Get(ctx context.Context) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.values))
	for k, v := range m.values {
		out[k] = v
	}
	return out, nil
}

func (m *memStore) Set(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *memStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

type harness struct {
	store *memStore
	reg   *command.Registry
	ep    *fakeEndpoint
}

func newHarness(t *testing.T, values map[string]string) *harness {
	t.Helper()
	h := &harness{
		store: newMemStore(values),
		reg:   command.NewRegistry(testLogger()),
		ep:    &fakeEndpoint{},
	}
	deps := Deps{Store: h.store, Commands: h.reg, Started: time.Now(), Version: "test"}
	if err := Load(h.reg, deps, Builtins(), nil, testLogger()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return h
}

// run matches body against the registry and invokes the handler the way the
// dispatcher would.
func (h *harness) run(t *testing.T, body string, ev domain.InboundMessage) string {
	t.Helper()
	m, ok := h.reg.Match(body)
	if !ok {
		t.Fatalf("no command matched %q", body)
	}
	values, _ := h.store.Get(context.Background())
	ev.Via = h.ep
	cc := &domain.CommandContext{
		Identity: identity.Canonical(ev.Sender, nil),
		Chat:     domain.Chat{ID: "chat"},
		Event:    ev,
		Captures: m.Captures,
		Body:     body,
		Prefix:   "!",
		Snapshot: config.ParseSnapshot(values),
	}
	if err := m.Command.Handler(context.Background(), cc); err != nil {
		t.Fatalf("handler %s: %v", m.Command.Name, err)
	}
	return h.ep.last()
}

func TestLoad_RegistersBuiltins(t *testing.T) {
	h := newHarness(t, nil)
	names := map[string]bool{}
	for _, d := range h.reg.List() {
		names[d.Name] = true
	}
	for _, want := range []string{"ping", "hello", "menu", "status", "listsudo", "addsudo", "removesudo", "setvar", "getvar", "delvar", "allvar"} {
		if !names[want] {
			t.Errorf("command %q not registered", want)
		}
	}
}

func TestBuiltins_Permissions(t *testing.T) {
	h := newHarness(t, nil)
	restricted := map[string]bool{"addsudo": true, "removesudo": true, "setvar": true, "delvar": true}
	for _, d := range h.reg.List() {
		want := domain.PermissionOpen
		if restricted[d.Name] {
			want = domain.PermissionRestricted
		}
		if d.Permission != want {
			t.Errorf("%s permission = %q, want %q", d.Name, d.Permission, want)
		}
	}
}

func TestLoad_ContinuesPastInvalidCommand(t *testing.T) {
	reg := command.NewRegistry(testLogger())
	bad := Module{Name: "bad", Commands: func(Deps) []domain.CommandDescriptor {
		return []domain.CommandDescriptor{
			{Name: "broken", Pattern: "(", Permission: domain.PermissionOpen, Handler: hello},
			{Name: "fine", Pattern: "fine", Permission: domain.PermissionOpen, Handler: hello},
		}
	}}

	err := Load(reg, Deps{}, []Module{bad}, nil, testLogger())
	if err == nil {
		t.Fatal("expected error for invalid pattern")
	}
	if !errors.Is(err, command.ErrInvalidDescriptor) {
		t.Errorf("error = %v, want ErrInvalidDescriptor", err)
	}
	if reg.Len() != 1 {
		t.Errorf("registered %d, want 1", reg.Len())
	}
}

func TestLoad_ManifestOverrides(t *testing.T) {
	no := false
	manifest := &Manifest{
		Modules: map[string]ModuleOverride{"vars": {Enabled: &no}},
		Commands: map[string]CommandOverride{
			"ping":  {Enabled: &no},
			"hello": {Permission: "restricted", Scope: "direct-only"},
		},
	}
	reg := command.NewRegistry(testLogger())
	if err := Load(reg, Deps{Commands: reg}, Builtins(), manifest, testLogger()); err != nil {
		t.Fatalf("Load: %v", err)
	}

	for _, d := range reg.List() {
		switch d.Name {
		case "ping", "setvar", "getvar", "delvar", "allvar":
			t.Errorf("%s should be disabled", d.Name)
		case "hello":
			if d.Permission != domain.PermissionRestricted || d.Scope != domain.ScopeDirect {
				t.Errorf("hello override not applied: %+v", d)
			}
		}
	}
}

func TestLoad_ManifestInvalidPermission(t *testing.T) {
	manifest := &Manifest{Commands: map[string]CommandOverride{"hello": {Permission: "everyone"}}}
	reg := command.NewRegistry(testLogger())
	err := Load(reg, Deps{Commands: reg}, Builtins(), manifest, testLogger())
	if err == nil {
		t.Fatal("expected error for invalid permission")
	}
	if _, ok := reg.Match("hello"); ok {
		t.Error("invalid hello should not be registered")
	}
	if _, ok := reg.Match("ping"); !ok {
		t.Error("other commands should still load")
	}
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "commands.yaml")
	data := "modules:\n  sudo:\n    enabled: false\ncommands:\n  getvar:\n    permission: restricted\n    scope: any\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	m, err := LoadManifest(path)
	if err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}
	if m.ModuleEnabled("sudo") {
		t.Error("sudo should be disabled")
	}
	if !m.ModuleEnabled("core") {
		t.Error("core should default to enabled")
	}
	got, enabled := m.Apply(domain.CommandDescriptor{Name: "getvar", Permission: domain.PermissionOpen, Scope: domain.ScopeGroup})
	if !enabled || got.Permission != domain.PermissionRestricted || got.Scope != domain.ScopeAny {
		t.Errorf("Apply = %+v, %v", got, enabled)
	}
}

func TestLoadManifest_Missing(t *testing.T) {
	m, err := LoadManifest(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("missing manifest should not error: %v", err)
	}
	if len(m.Commands) != 0 {
		t.Error("expected empty manifest")
	}
}

func TestLoadManifest_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(path, []byte("commands: [unclosed"), 0o600)
	if _, err := LoadManifest(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestPing(t *testing.T) {
	h := newHarness(t, nil)
	h.run(t, "ping", domain.InboundMessage{})
	if len(h.ep.sent) != 2 || h.ep.sent[0] != "Pinging..." || !strings.HasPrefix(h.ep.sent[1], "Pong! ") {
		t.Errorf("sent = %q", h.ep.sent)
	}
}

func TestHello_UsesBotName(t *testing.T) {
	h := newHarness(t, map[string]string{"BOT_NAME": "Nova"})
	if got := h.run(t, "HELLO", domain.InboundMessage{}); got != "👋 Hello! Nova is online and ready." {
		t.Errorf("reply = %q", got)
	}
}

func TestMenu_ListsCommandsWithPrefix(t *testing.T) {
	h := newHarness(t, nil)
	got := h.run(t, "help", domain.InboundMessage{})
	for _, want := range []string{"!ping", "!setvar", "ADMIN", "CONFIG"} {
		if !strings.Contains(got, want) {
			t.Errorf("menu missing %q:\n%s", want, got)
		}
	}
}

func TestStatus(t *testing.T) {
	h := newHarness(t, nil)
	got := h.run(t, "uptime", domain.InboundMessage{})
	if !strings.Contains(got, "Triger") || !strings.Contains(got, "Commands: 11") {
		t.Errorf("status = %q", got)
	}
}

func TestSudo_ListEmpty(t *testing.T) {
	h := newHarness(t, nil)
	if got := h.run(t, "listsudo", domain.InboundMessage{}); got != "No sudo users found." {
		t.Errorf("reply = %q", got)
	}
}

func TestSudo_AddAndRemove(t *testing.T) {
	h := newHarness(t, map[string]string{"SUDO": "15550000003"})

	if got := h.run(t, "addsudo 15550000009", domain.InboundMessage{}); got != "✅ sudo added = 15550000003, 15550000009" {
		t.Errorf("add reply = %q", got)
	}
	if h.store.values["SUDO"] != "15550000003,15550000009" {
		t.Errorf("SUDO = %q", h.store.values["SUDO"])
	}
	if got := h.run(t, "addsudo 15550000009", domain.InboundMessage{}); got != "✅ Already in sudo list." {
		t.Errorf("duplicate reply = %q", got)
	}
	if got := h.run(t, "listsudo", domain.InboundMessage{}); got != "👑 sudo added = 15550000003, 15550000009" {
		t.Errorf("list reply = %q", got)
	}
	if got := h.run(t, "removesudo 15550000003", domain.InboundMessage{}); got != "✅ sudo updated = 15550000009" {
		t.Errorf("remove reply = %q", got)
	}
	if got := h.run(t, "removesudo 15550000003", domain.InboundMessage{}); got != "❌ Not found in sudo list." {
		t.Errorf("missing reply = %q", got)
	}
	if got := h.run(t, "removesudo 15550000009", domain.InboundMessage{}); got != "✅ sudo list is now empty." {
		t.Errorf("last remove reply = %q", got)
	}
}

func TestSudo_QuotedParticipant(t *testing.T) {
	h := newHarness(t, nil)
	ev := domain.InboundMessage{QuotedParticipant: "15550000007:3@s.whatsapp.net"}
	if got := h.run(t, "addsudo", ev); got != "✅ sudo added = 15550000007" {
		t.Errorf("reply = %q", got)
	}
}

func TestSudo_TelegramTargets(t *testing.T) {
	h := newHarness(t, nil)
	owner := domain.InboundMessage{Transport: "telegram", Sender: "5550001@telegram"}

	quoted := owner
	quoted.QuotedParticipant = "1234567890@telegram"
	if got := h.run(t, "addsudo", quoted); got != "✅ sudo added = 1234567890@telegram" {
		t.Errorf("quoted add reply = %q", got)
	}
	if got := h.run(t, "addsudo 987654321", owner); got != "✅ sudo added = 1234567890@telegram, 987654321@telegram" {
		t.Errorf("short id add reply = %q", got)
	}
	if h.store.values["SUDO"] != "1234567890@telegram,987654321@telegram" {
		t.Errorf("SUDO = %q", h.store.values["SUDO"])
	}

	snap := config.ParseSnapshot(h.store.values)
	if !snap.IsAdmin("1234567890@telegram") || !snap.IsAdmin("987654321@telegram") {
		t.Errorf("admins = %v", snap.Admins)
	}
	if snap.IsAdmin("1234567890@s.whatsapp.net") {
		t.Error("telegram admin must not grant the same number on whatsapp")
	}

	if got := h.run(t, "removesudo 1234567890", owner); got != "✅ sudo updated = 987654321@telegram" {
		t.Errorf("remove reply = %q", got)
	}
	quoted.QuotedParticipant = "987654321@telegram"
	if got := h.run(t, "removesudo", quoted); got != "✅ sudo list is now empty." {
		t.Errorf("quoted remove reply = %q", got)
	}
}

func TestSudo_InvalidTarget(t *testing.T) {
	h := newHarness(t, nil)
	for _, body := range []string{"addsudo", "addsudo 12345", "removesudo"} {
		if got := h.run(t, body, domain.InboundMessage{}); got != "❌ Provide a valid number or reply to a user." {
			t.Errorf("%q reply = %q", body, got)
		}
	}
	if _, ok := h.store.values["SUDO"]; ok {
		t.Error("SUDO should not be written")
	}
}

func TestVars_SetGetDelete(t *testing.T) {
	h := newHarness(t, nil)

	if got := h.run(t, "setvar greeting=hi there", domain.InboundMessage{}); got != "✅ Set GREETING = hi there" {
		t.Errorf("set reply = %q", got)
	}
	if got := h.run(t, "getvar greeting", domain.InboundMessage{}); got != "📦 GREETING=hi there" {
		t.Errorf("get reply = %q", got)
	}
	if got := h.run(t, "delvar GREETING", domain.InboundMessage{}); got != "🗑️ Deleted GREETING" {
		t.Errorf("del reply = %q", got)
	}
	if got := h.run(t, "getvar greeting", domain.InboundMessage{}); got != "❌ GREETING not found" {
		t.Errorf("get after delete = %q", got)
	}
	if got := h.run(t, "delvar greeting", domain.InboundMessage{}); got != "❌ GREETING not found" {
		t.Errorf("delete missing = %q", got)
	}
}

func TestVars_HidesCredentials(t *testing.T) {
	h := newHarness(t, map[string]string{"AUTH_TOKEN": "secret", "SESSION_ID": "abc", "PREFIX": "."})

	if got := h.run(t, "getvar auth_token", domain.InboundMessage{}); got != "❌ AUTH_TOKEN not found" {
		t.Errorf("get hidden = %q", got)
	}
	got := h.run(t, "allvar", domain.InboundMessage{})
	if strings.Contains(got, "secret") || strings.Contains(got, "SESSION_ID") {
		t.Errorf("allvar leaked credentials: %q", got)
	}
	if !strings.Contains(got, "PREFIX=.") {
		t.Errorf("allvar = %q", got)
	}
}

func TestVars_AllEmpty(t *testing.T) {
	h := newHarness(t, nil)
	if got := h.run(t, "allvar", domain.InboundMessage{}); got != "No variables set." {
		t.Errorf("reply = %q", got)
	}
}
