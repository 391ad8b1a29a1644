// Package session persists conversations: sessions and their ordered
// message turns. Two stores implement the same interface, an in-memory
// one for development and tests and a PostgreSQL one for durable
// deployments; the config selects which.
package session

import (
	"errors"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/uuid"
)

// ErrNotFound is returned when a session does not exist.
var ErrNotFound = errors.New("session not found")

// Session is one conversation.
type Session struct {
	ID           uuid.UUID `json:"id"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
}

// Message is one conversation turn. Content holds the model framework's
// part slice so tool requests and responses survive persistence intact.
type Message struct {
	ID             uuid.UUID  `json:"id"`
	SessionID      uuid.UUID  `json:"session_id"`
	Role           string     `json:"role"`
	Content        []*ai.Part `json:"content"`
	SequenceNumber int        `json:"sequence_number"`
	CreatedAt      time.Time  `json:"created_at"`
}

// ToAIMessages converts stored turns back into model messages, in order.
func ToAIMessages(messages []*Message) []*ai.Message {
	out := make([]*ai.Message, len(messages))
	for i, msg := range messages {
		out[i] = &ai.Message{
			Role:    ai.Role(msg.Role),
			Content: msg.Content,
		}
	}
	return out
}

// FromAIMessages converts model messages into storable turns.
// IDs and sequence numbers are assigned by the store on append.
func FromAIMessages(messages []*ai.Message) []*Message {
	out := make([]*Message, len(messages))
	for i, msg := range messages {
		out[i] = &Message{
			Role:    string(msg.Role),
			Content: msg.Content,
		}
	}
	return out
}
