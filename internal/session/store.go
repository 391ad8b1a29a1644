package session

import (
	"context"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/uuid"
)

// Store persists sessions and their conversation turns.
//
// Implementations are safe for concurrent use. Appended turns get
// sequential numbers per session; History returns them in order.
type Store interface {
	CreateSession(ctx context.Context, title string) (*Session, error)
	GetSession(ctx context.Context, id uuid.UUID) (*Session, error)
	ListSessions(ctx context.Context, limit, offset int) ([]*Session, error)
	DeleteSession(ctx context.Context, id uuid.UUID) error

	// AppendMessages adds turns to a session atomically, assigning
	// sequence numbers after any already stored.
	AppendMessages(ctx context.Context, sessionID uuid.UUID, messages []*ai.Message) error

	// History returns every turn of a session as model messages, in
	// sequence order.
	History(ctx context.Context, sessionID uuid.UUID) ([]*ai.Message, error)

	Close()
}
