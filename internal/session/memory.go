package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/uuid"

	"github.com/eshoval/dbagent/internal/log"
)

// MemoryStore keeps sessions in process memory. Conversations do not
// survive a restart; it is the default for local development and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session
	messages map[uuid.UUID][]*Message
	logger   log.Logger
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(logger log.Logger) *MemoryStore {
	return &MemoryStore{
		sessions: make(map[uuid.UUID]*Session),
		messages: make(map[uuid.UUID][]*Message),
		logger:   logger,
	}
}

// CreateSession creates a new conversation session.
func (s *MemoryStore) CreateSession(_ context.Context, title string) (*Session, error) {
	now := time.Now().UTC()
	sess := &Session{
		ID:        uuid.New(),
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()

	s.logger.Debug("created session", "id", sess.ID, "title", title)
	return copySession(sess), nil
}

// GetSession retrieves a session by ID.
func (s *MemoryStore) GetSession(_ context.Context, id uuid.UUID) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copySession(sess), nil
}

// ListSessions lists sessions ordered by most recently updated.
func (s *MemoryStore) ListSessions(_ context.Context, limit, offset int) ([]*Session, error) {
	s.mu.RLock()
	all := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		all = append(all, copySession(sess))
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].UpdatedAt.Equal(all[j].UpdatedAt) {
			return all[i].ID.String() < all[j].ID.String()
		}
		return all[i].UpdatedAt.After(all[j].UpdatedAt)
	})

	if offset >= len(all) {
		return []*Session{}, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

// DeleteSession deletes a session and its messages.
func (s *MemoryStore) DeleteSession(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(s.sessions, id)
	delete(s.messages, id)

	s.logger.Debug("deleted session", "id", id)
	return nil
}

// AppendMessages adds turns to a session with sequential numbering.
func (s *MemoryStore) AppendMessages(_ context.Context, sessionID uuid.UUID, messages []*ai.Message) error {
	if len(messages) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}

	now := time.Now().UTC()
	seq := len(s.messages[sessionID])
	for _, msg := range messages {
		seq++
		s.messages[sessionID] = append(s.messages[sessionID], &Message{
			ID:             uuid.New(),
			SessionID:      sessionID,
			Role:           string(msg.Role),
			Content:        msg.Content,
			SequenceNumber: seq,
			CreatedAt:      now,
		})
	}
	sess.MessageCount = seq
	sess.UpdatedAt = now

	s.logger.Debug("appended messages", "session_id", sessionID, "count", len(messages))
	return nil
}

// History returns all turns of a session in sequence order.
func (s *MemoryStore) History(_ context.Context, sessionID uuid.UUID) ([]*ai.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.sessions[sessionID]; !ok {
		return nil, ErrNotFound
	}
	return ToAIMessages(s.messages[sessionID]), nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() {}

func copySession(sess *Session) *Session {
	cp := *sess
	return &cp
}
