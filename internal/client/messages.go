package client

import (
	"time"

	"github.com/google/uuid"

	"llm-chat/internal/chat"
)

// StreamingID identifies the placeholder that accumulates an assistant
// reply while it streams. At most one message carries it.
const StreamingID = "streaming"

// Message is the client's view of a chat message.
type Message struct {
	ID      string
	TempID  string
	Role    chat.Role
	Content string
	// Timestamp is nil for the streaming placeholder.
	Timestamp *time.Time
	Status    DeliveryStatus
}

// Key is the identity to use for rendering: the server id once known,
// otherwise the temporary one.
func (m Message) Key() string {
	if m.ID != "" {
		return m.ID
	}
	return m.TempID
}

func newTempID() string {
	return "tmp-" + uuid.NewString()
}

// The functions below never modify the slice they are given. Each returns
// a new slice so a renderer holding the old one keeps a consistent view.

func addPending(list []Message, tempID, text string, now time.Time) []Message {
	out := make([]Message, len(list), len(list)+1)
	copy(out, list)
	return append(out, Message{
		TempID:    tempID,
		Role:      chat.RoleUser,
		Content:   text,
		Timestamp: &now,
		Status:    StatusPending,
	})
}

// applyDelivery moves the message keyed by tempID through ev and, when
// serverID is set, adopts the permanent id.
func applyDelivery(list []Message, tempID string, ev DeliveryEvent, serverID string) []Message {
	out := make([]Message, len(list))
	copy(out, list)
	for i := range out {
		if out[i].TempID != tempID {
			continue
		}
		out[i].Status = Transition(out[i].Status, ev)
		if serverID != "" && out[i].Status == StatusDelivered {
			out[i].ID = serverID
		}
	}
	return out
}

func statusOf(list []Message, tempID string) DeliveryStatus {
	for _, m := range list {
		if m.TempID == tempID {
			return m.Status
		}
	}
	return StatusNone
}

// upsertStreaming replaces the placeholder with one holding content.
func upsertStreaming(list []Message, content string) []Message {
	placeholder := Message{ID: StreamingID, Role: chat.RoleAssistant, Content: content}
	out := make([]Message, 0, len(list)+1)
	found := false
	for _, m := range list {
		if m.ID == StreamingID {
			out = append(out, placeholder)
			found = true
			continue
		}
		out = append(out, m)
	}
	if !found {
		out = append(out, placeholder)
	}
	return out
}

func dropStreaming(list []Message) []Message {
	out := make([]Message, 0, len(list))
	for _, m := range list {
		if m.ID != StreamingID {
			out = append(out, m)
		}
	}
	return out
}

// finalize swaps the placeholder for the stored assistant reply.
func finalize(list []Message, id, content string, now time.Time) []Message {
	out := dropStreaming(list)
	return append(out, Message{
		ID:        id,
		Role:      chat.RoleAssistant,
		Content:   content,
		Timestamp: &now,
		Status:    StatusDelivered,
	})
}

// appendFailedReply records a reply that broke off after the user message
// was delivered. Whatever streamed before the failure stays visible.
func appendFailedReply(list []Message, partial string, now time.Time) []Message {
	out := dropStreaming(list)
	return append(out, Message{
		TempID:    newTempID(),
		Role:      chat.RoleAssistant,
		Content:   partial,
		Timestamp: &now,
		Status:    StatusFailed,
	})
}

// prompt is the conversation sent upstream: everything except failed
// messages and the streaming placeholder.
func prompt(list []Message) []chat.InboundMessage {
	out := make([]chat.InboundMessage, 0, len(list))
	for _, m := range list {
		if m.ID == StreamingID || m.Status == StatusFailed || m.Content == "" {
			continue
		}
		out = append(out, chat.InboundMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

func fromHistory(in []chat.HistoryMessage) []Message {
	out := make([]Message, 0, len(in))
	for _, hm := range in {
		ts := hm.CreatedAt
		out = append(out, Message{ID: hm.ID, Role: hm.Role, Content: hm.Content, Timestamp: &ts, Status: StatusNone})
	}
	return out
}
