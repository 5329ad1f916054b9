package model

// ChatMessage is one turn of the recipe assistant conversation.
type ChatMessage struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// Chat message types.
const (
	ChatUser = "user"
	ChatBot  = "bot"
)
