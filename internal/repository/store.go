package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"voice-agent/internal/domain"
)

// ReadWriter defines the conversation state operations consumed by the
// orchestrator and the status handler.
type ReadWriter interface {
	Get(ctx context.Context, conversationID string) (domain.ConversationRecord, bool, error)
	Upsert(ctx context.Context, conversationID string, role domain.Role, content string) error
}

// Store is a ReadWriter that owns a connection or file handle.
type Store interface {
	ReadWriter
	Close() error
}

func validateUpsert(conversationID string, role domain.Role) error {
	if strings.TrimSpace(conversationID) == "" {
		return errors.New("repository: conversation id is required")
	}
	if !role.Valid() {
		return fmt.Errorf("repository: unknown role %q", role)
	}
	return nil
}

func validateSystemPrompt(systemPrompt string) error {
	if strings.TrimSpace(systemPrompt) == "" {
		return errors.New("repository: system prompt must not be empty")
	}
	return nil
}
