package identity

import (
	"strings"
	"sync"
)

// AliasTable is a concurrency-safe alias → primary number mapping, filled by
// a transport as it learns mappings.
type AliasTable struct {
	mu sync.RWMutex
	m  map[string]string
}

func NewAliasTable() *AliasTable {
	return &AliasTable{m: make(map[string]string)}
}

// Put records that alias refers to primary. Either side may be a full id or
// a bare user part. Empty or non-numeric primaries are ignored.
func (t *AliasTable) Put(alias, primary string) {
	key := aliasKey(alias)
	num := Digits(aliasKey(primary))
	if key == "" || num == "" {
		return
	}
	t.mu.Lock()
	t.m[key] = num
	t.mu.Unlock()
}

// LookupAlias implements AliasLookup.
func (t *AliasTable) LookupAlias(alias string) (string, bool) {
	key := aliasKey(alias)
	t.mu.RLock()
	defer t.mu.RUnlock()
	num, ok := t.m[key]
	return num, ok
}

// Len returns the number of known mappings.
func (t *AliasTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.m)
}

func aliasKey(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '@'); i >= 0 {
		s = s[:i]
	}
	return bareUser(s)
}
