package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eshoval/dbagent/internal/log"
)

// PostgresStore persists sessions in PostgreSQL.
//
// Appends run in a transaction that locks the session row, so concurrent
// writers cannot race on sequence numbers.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger log.Logger
}

// NewPostgresStore creates a store over an existing connection pool.
// The caller owns the pool lifecycle until Close is called.
func NewPostgresStore(pool *pgxpool.Pool, logger log.Logger) *PostgresStore {
	return &PostgresStore{pool: pool, logger: logger}
}

// CreateSession creates a new conversation session.
func (s *PostgresStore) CreateSession(ctx context.Context, title string) (*Session, error) {
	var titlePtr *string
	if title != "" {
		titlePtr = &title
	}

	sess := &Session{}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO sessions (title)
		VALUES ($1)
		RETURNING id, COALESCE(title, ''), created_at, updated_at, message_count`,
		titlePtr,
	).Scan(&sess.ID, &sess.Title, &sess.CreatedAt, &sess.UpdatedAt, &sess.MessageCount)
	if err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}

	s.logger.Debug("created session", "id", sess.ID, "title", title)
	return sess, nil
}

// GetSession retrieves a session by ID.
func (s *PostgresStore) GetSession(ctx context.Context, id uuid.UUID) (*Session, error) {
	sess := &Session{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, COALESCE(title, ''), created_at, updated_at, message_count
		FROM sessions WHERE id = $1`,
		id,
	).Scan(&sess.ID, &sess.Title, &sess.CreatedAt, &sess.UpdatedAt, &sess.MessageCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting session %s: %w", id, err)
	}
	return sess, nil
}

// ListSessions lists sessions ordered by most recently updated.
func (s *PostgresStore) ListSessions(ctx context.Context, limit, offset int) ([]*Session, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, COALESCE(title, ''), created_at, updated_at, message_count
		FROM sessions
		ORDER BY updated_at DESC, id
		LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	sessions := []*Session{}
	for rows.Next() {
		sess := &Session{}
		if err := rows.Scan(&sess.ID, &sess.Title, &sess.CreatedAt, &sess.UpdatedAt, &sess.MessageCount); err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	return sessions, nil
}

// DeleteSession deletes a session; its messages cascade.
func (s *PostgresStore) DeleteSession(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting session %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	s.logger.Debug("deleted session", "id", id)
	return nil
}

// AppendMessages adds turns to a session atomically.
func (s *PostgresStore) AppendMessages(ctx context.Context, sessionID uuid.UUID, messages []*ai.Message) error {
	if len(messages) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			s.logger.Debug("transaction rollback", "error", err)
		}
	}()

	// Lock the session row so concurrent appends serialize and sequence
	// numbers stay gapless.
	var locked uuid.UUID
	err = tx.QueryRow(ctx, `SELECT id FROM sessions WHERE id = $1 FOR UPDATE`, sessionID).Scan(&locked)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("locking session %s: %w", sessionID, err)
	}

	var maxSeq int
	err = tx.QueryRow(ctx, `
		SELECT COALESCE(MAX(sequence_number), 0)
		FROM session_messages WHERE session_id = $1`,
		sessionID,
	).Scan(&maxSeq)
	if err != nil {
		return fmt.Errorf("reading sequence number: %w", err)
	}

	for i, msg := range messages {
		content, err := json.Marshal(msg.Content)
		if err != nil {
			return fmt.Errorf("marshaling message %d content: %w", i, err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO session_messages (session_id, role, content, sequence_number)
			VALUES ($1, $2, $3, $4)`,
			sessionID, string(msg.Role), content, maxSeq+i+1,
		)
		if err != nil {
			return fmt.Errorf("inserting message %d: %w", i, err)
		}
	}

	_, err = tx.Exec(ctx, `
		UPDATE sessions SET message_count = $1, updated_at = now() WHERE id = $2`,
		maxSeq+len(messages), sessionID,
	)
	if err != nil {
		return fmt.Errorf("updating session metadata: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	s.logger.Debug("appended messages", "session_id", sessionID, "count", len(messages))
	return nil
}

// History returns all turns of a session in sequence order.
func (s *PostgresStore) History(ctx context.Context, sessionID uuid.UUID) ([]*ai.Message, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT role, content
		FROM session_messages
		WHERE session_id = $1
		ORDER BY sequence_number`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("loading history for %s: %w", sessionID, err)
	}
	defer rows.Close()

	messages := []*ai.Message{}
	for rows.Next() {
		var role string
		var content []byte
		if err := rows.Scan(&role, &content); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}

		var parts []*ai.Part
		if err := json.Unmarshal(content, &parts); err != nil {
			// A malformed row should not make the whole conversation
			// unloadable.
			s.logger.Warn("skipping unparseable message content",
				"session_id", sessionID, "error", err)
			continue
		}
		messages = append(messages, &ai.Message{Role: ai.Role(role), Content: parts})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("loading history for %s: %w", sessionID, err)
	}
	return messages, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}
