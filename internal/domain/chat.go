package domain

// Role labels a message for the completion provider. The provider is sensitive
// to both order and labeling, so only these three values are ever stored.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// Message is the provider-agnostic chat message shape used by the store and
// LLM integrations.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}
