package coordinator

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatMessage is one entry in the append-only session transcript.
// Immutable once appended.
type ChatMessage struct {
	ID        string
	Role      Role
	Text      string
	CreatedAt time.Time
}

func newChatMessage(role Role, text string) ChatMessage {
	return ChatMessage{
		ID:        uuid.NewString(),
		Role:      role,
		Text:      text,
		CreatedAt: time.Now(),
	}
}
