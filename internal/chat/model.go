package chat

import (
	"strconv"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// ---------------------------------------------
// Database models
// ---------------------------------------------

type Conversation struct {
	ID        int64
	UserID    int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Message is a stored message. Content is ciphertext sealed under Nonce.
type Message struct {
	ID             int64
	ConversationID int64
	Role           Role
	Content        []byte
	Nonce          []byte
	CreatedAt      time.Time
}

// ConversationState is the input to the history fingerprint.
type ConversationState struct {
	ConversationID int64
	UpdatedAt      time.Time
	MessageCount   int
}

// ---------------------------------------------
// API models
// ---------------------------------------------

type HistoryMessage struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

type HistoryResponse struct {
	ConversationID string           `json:"conversationId"`
	Messages       []HistoryMessage `json:"messages"`
}

type InboundMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

type CompletionRequest struct {
	Messages []InboundMessage `json:"messages"`
	ChatID   string           `json:"chatId,omitempty"`
}

// StreamEvent is one `data:` line of the completion stream. The first event
// acknowledges the stored user message, fragments carry Content, the last
// event has Done set and the stored assistant message id. Error events end
// the stream.
type StreamEvent struct {
	Content   string `json:"content,omitempty"`
	Role      Role   `json:"role,omitempty"`
	ChatID    string `json:"chatId,omitempty"`
	MessageID string `json:"messageId,omitempty"`
	Done      bool   `json:"done,omitempty"`
	Error     string `json:"error,omitempty"`
}

func FormatID(id int64) string {
	if id == 0 {
		return ""
	}
	return strconv.FormatInt(id, 10)
}

func ParseID(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}
