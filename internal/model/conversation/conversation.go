package conversation

import "time"

// Conversation captures an append-only exchange of turns.
type Conversation struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
}

// Summary describes a conversation for listing endpoints.
type Summary struct {
	ID        string    `json:"id"`
	TurnCount int       `json:"turnCount"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
