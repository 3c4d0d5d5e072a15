package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"voice-agent/internal/domain"
)

// pgxAPI is the subset of *pgxpool.Pool used by PostgresStore.
type pgxAPI interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// PostgresStore persists conversation messages as one row per message.
type PostgresStore struct {
	api          pgxAPI
	pool         *pgxpool.Pool
	systemPrompt string
	now          func() time.Time
}

// NewPostgresStore connects to databaseURL and creates the schema if needed.
func NewPostgresStore(ctx context.Context, databaseURL, systemPrompt string) (*PostgresStore, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, errors.New("repository: database url must not be empty")
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("repository: connect postgres: %w", err)
	}
	s, err := newPostgresStore(pool, systemPrompt)
	if err != nil {
		pool.Close()
		return nil, err
	}
	s.pool = pool
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func newPostgresStore(api pgxAPI, systemPrompt string) (*PostgresStore, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if err := validateSystemPrompt(systemPrompt); err != nil {
		return nil, err
	}
	return &PostgresStore{api: api, systemPrompt: systemPrompt, now: time.Now}, nil
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversation_messages (
			conversation_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (conversation_id, seq)
		);`,
	}
	for _, stmt := range stmts {
		if _, err := s.api.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("repository: init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

// Get returns all messages of a conversation in sequence order.
func (s *PostgresStore) Get(ctx context.Context, conversationID string) (domain.ConversationRecord, bool, error) {
	rows, err := s.api.Query(ctx,
		`SELECT role, content FROM conversation_messages WHERE conversation_id = $1 ORDER BY seq ASC`,
		conversationID,
	)
	if err != nil {
		return domain.ConversationRecord{}, false, fmt.Errorf("repository: Get query: %w", err)
	}
	defer rows.Close()

	var msgs []domain.Message
	for rows.Next() {
		var role, content string
		if err := rows.Scan(&role, &content); err != nil {
			return domain.ConversationRecord{}, false, fmt.Errorf("repository: Get scan: %w", err)
		}
		if !domain.Role(role).Valid() {
			return domain.ConversationRecord{}, false, fmt.Errorf("repository: Get: unknown role %q", role)
		}
		msgs = append(msgs, domain.Message{Role: domain.Role(role), Content: content})
	}
	if err := rows.Err(); err != nil {
		return domain.ConversationRecord{}, false, fmt.Errorf("repository: Get iterate: %w", err)
	}
	if len(msgs) == 0 {
		return domain.ConversationRecord{}, false, nil
	}
	return domain.ConversationRecord{ConversationID: conversationID, Messages: msgs}, true, nil
}

// Upsert appends one message in a transaction. An advisory lock on the
// conversation id serialises concurrent writers of the same conversation.
func (s *PostgresStore) Upsert(ctx context.Context, conversationID string, role domain.Role, content string) error {
	if err := validateUpsert(conversationID, role); err != nil {
		return err
	}
	tx, err := s.api.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("repository: Upsert begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, conversationID); err != nil {
		return fmt.Errorf("repository: Upsert lock: %w", err)
	}
	var next int
	if err := tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(seq) + 1, 0) FROM conversation_messages WHERE conversation_id = $1`,
		conversationID,
	).Scan(&next); err != nil {
		return fmt.Errorf("repository: Upsert next seq: %w", err)
	}

	now := s.now().UTC()
	batch := domain.UpsertBatch(next > 0, s.systemPrompt, domain.Message{Role: role, Content: content})
	for i, msg := range batch {
		if _, err := tx.Exec(ctx,
			`INSERT INTO conversation_messages (conversation_id, seq, role, content, created_at) VALUES ($1, $2, $3, $4, $5)`,
			conversationID, next+i, string(msg.Role), msg.Content, now,
		); err != nil {
			return fmt.Errorf("repository: Upsert insert: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("repository: Upsert commit: %w", err)
	}
	return nil
}

// Close closes the connection pool when the store owns one.
func (s *PostgresStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}
