package chat

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"llm-chat/internal/llm"
	"llm-chat/internal/seal"
)

type memStore struct {
	mu         sync.Mutex
	nextConvID int64
	nextMsgID  int64
	clock      time.Time
	convs      map[int64]*Conversation
	msgs       map[int64][]*Message
	failAppend error
	failState  error
}

func newMemStore() *memStore {
	return &memStore{
		clock: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		convs: map[int64]*Conversation{},
		msgs:  map[int64][]*Message{},
	}
}

func (m *memStore) tick() time.Time {
	m.clock = m.clock.Add(time.Millisecond)
	return m.clock
}

func (m *memStore) ActiveConversation(_ context.Context, userID int) (*Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *Conversation
	for _, c := range m.convs {
		if c.UserID != userID {
			continue
		}
		if best == nil || c.UpdatedAt.After(best.UpdatedAt) || (c.UpdatedAt.Equal(best.UpdatedAt) && c.ID > best.ID) {
			best = c
		}
	}
	if best == nil {
		return nil, ErrConversationNotFound
	}
	cp := *best
	return &cp, nil
}

func (m *memStore) GetConversation(_ context.Context, userID int, id int64) (*Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.convs[id]
	if !ok || c.UserID != userID {
		return nil, ErrConversationNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memStore) CreateConversation(_ context.Context, userID int) (*Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextConvID++
	now := m.tick()
	c := &Conversation{ID: m.nextConvID, UserID: userID, CreatedAt: now, UpdatedAt: now}
	m.convs[c.ID] = c
	cp := *c
	return &cp, nil
}

func (m *memStore) DeleteConversation(_ context.Context, userID int, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.convs[id]; ok && c.UserID == userID {
		delete(m.convs, id)
		delete(m.msgs, id)
	}
	return nil
}

func (m *memStore) AppendMessage(_ context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAppend != nil {
		return m.failAppend
	}
	c, ok := m.convs[msg.ConversationID]
	if !ok {
		return ErrConversationNotFound
	}
	m.nextMsgID++
	msg.ID = m.nextMsgID
	msg.CreatedAt = m.tick()
	c.UpdatedAt = msg.CreatedAt
	cp := *msg
	m.msgs[msg.ConversationID] = append(m.msgs[msg.ConversationID], &cp)
	return nil
}

func (m *memStore) ListMessages(_ context.Context, id int64) ([]*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]*Message(nil), m.msgs[id]...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) setFailState(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failState = err
}

func (m *memStore) ActiveState(ctx context.Context, userID int) (*ConversationState, error) {
	m.mu.Lock()
	failState := m.failState
	m.mu.Unlock()
	if failState != nil {
		return nil, failState
	}
	c, err := m.ActiveConversation(ctx, userID)
	if errors.Is(err, ErrConversationNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return &ConversationState{ConversationID: c.ID, UpdatedAt: c.UpdatedAt, MessageCount: len(m.msgs[c.ID])}, nil
}

func (m *memStore) DeleteAll(_ context.Context, userID int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, c := range m.convs {
		if c.UserID == userID {
			delete(m.convs, id)
			delete(m.msgs, id)
			n++
		}
	}
	return n, nil
}

func (m *memStore) conversationCount(userID int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.convs {
		if c.UserID == userID {
			n++
		}
	}
	return n
}

// stubStreamer replays fragments and then returns err, if set.
type stubStreamer struct {
	mu        sync.Mutex
	fragments []string
	err       error
	prompts   [][]llm.Message
}

func (s *stubStreamer) StreamChat(_ context.Context, messages []llm.Message, onDelta func(string) error) (string, error) {
	s.mu.Lock()
	s.prompts = append(s.prompts, messages)
	s.mu.Unlock()

	var full bytes.Buffer
	for _, f := range s.fragments {
		full.WriteString(f)
		if err := onDelta(f); err != nil {
			return "", err
		}
	}
	if s.err != nil {
		return "", s.err
	}
	return full.String(), nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) HistoryChanged(_ context.Context, userID int, chatID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, chatID)
	return nil
}

func testCipher(t *testing.T) *seal.Cipher {
	t.Helper()
	c, err := seal.New(bytes.Repeat([]byte{7}, seal.KeySize))
	require.NoError(t, err)
	return c
}
