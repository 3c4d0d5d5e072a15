package domain

// ConversationRecord is the persisted, append-only history of one conversation.
// Messages[0], when present, is the system instruction seeded at creation.
type ConversationRecord struct {
	ConversationID string    `json:"conversationId"`
	Messages       []Message `json:"messages"`
}

// UpsertBatch returns the messages a store appends for one upsert: the system
// message first when the record does not exist yet, then msg.
func UpsertBatch(exists bool, systemPrompt string, msg Message) []Message {
	if exists {
		return []Message{msg}
	}
	return []Message{{Role: RoleSystem, Content: systemPrompt}, msg}
}
