package conversation

import "time"

// Speaker roles for a turn.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Input sources for a turn.
const (
	SourceText  = "text"
	SourceVoice = "voice"
)

// Turn persists a single message inside a conversation. Turns are immutable
// once appended.
type Turn struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	Source         string    `json:"source,omitempty"`
	ContextUsed    bool      `json:"contextUsed,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}
