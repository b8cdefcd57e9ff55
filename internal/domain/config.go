package domain

import "context"

// Well-known keys in the config store.
const (
	KeyOwner   = "OWNER"
	KeySudo    = "SUDO"
	KeyPrefix  = "PREFIX"
	KeyBotName = "BOT_NAME"
	KeyLogs    = "LOGS"
)

// ConfigStore is the durable key/value store holding bot settings.
// A successful Set or Delete is visible to the next Get.
type ConfigStore interface {
	Get(ctx context.Context) (map[string]string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// ConfigSnapshot is the authorization-relevant view of the store at one
// point in time.
type ConfigSnapshot struct {
	Owner       Identity
	Admins      []Identity
	Prefixes    []string
	BotName     string
	LogMessages bool
	Values      map[string]string
}

// IsOwner reports whether id is the configured owner.
func (s ConfigSnapshot) IsOwner(id Identity) bool {
	return !s.Owner.IsZero() && id == s.Owner
}

// IsAdmin reports whether id is a delegated admin.
func (s ConfigSnapshot) IsAdmin(id Identity) bool {
	if id.IsZero() {
		return false
	}
	for _, a := range s.Admins {
		if a == id {
			return true
		}
	}
	return false
}
