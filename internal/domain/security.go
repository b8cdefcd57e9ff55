package domain

// AuditEntry is a persisted record of a security-relevant dispatch decision.
type AuditEntry struct {
	ID        int64  `json:"id"`
	Action    string `json:"action"` // command_denied | command_failed | owner_bootstrap | var_set
	Command   string `json:"command"`
	Identity  string `json:"identity"`
	ChatID    string `json:"chat_id"`
	Result    string `json:"result"` // allowed | denied | failed | updated
	Details   string `json:"details"`
	CreatedAt string `json:"created_at,omitempty"`
}
