package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"llm-chat/internal/chat"
	"llm-chat/internal/logger"
)

var (
	// ErrBusy is returned by Send while another send is outstanding.
	ErrBusy       = errors.New("a message is already being sent")
	ErrEmptyInput = errors.New("message is empty")

	errNotModifiedWithoutCache = errors.New("history not modified but nothing is cached")
)

// Session is one chat view: its message list, its history cache and the
// single send it may have in flight. Methods are safe to call from several
// goroutines, but it is meant to be driven by one.
type Session struct {
	backend   Backend
	now       func() time.Time
	freshness time.Duration
	onChange  func([]Message)
	log       *logger.Logger

	mu       sync.Mutex
	slot     Slot
	messages []Message
	chatID   string
	sending  bool
	hits     int
	misses   int
}

type Option func(*Session)

func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

func WithFreshness(d time.Duration) Option {
	return func(s *Session) { s.freshness = d }
}

func WithLogger(log *logger.Logger) Option {
	return func(s *Session) { s.log = log }
}

// WithOnChange registers a callback that receives the message list every
// time it is replaced. It runs without the session lock held.
func WithOnChange(fn func([]Message)) Option {
	return func(s *Session) { s.onChange = fn }
}

func NewSession(backend Backend, opts ...Option) *Session {
	s := &Session{
		backend:   backend,
		now:       time.Now,
		freshness: DefaultFreshness,
		log:       logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Messages returns the current list. Callers must not modify it.
func (s *Session) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messages
}

func (s *Session) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chatID
}

// Busy reports whether a send is outstanding.
func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sending
}

// setMessages must be called with mu held; it returns the notify func to
// run after unlocking.
func (s *Session) setMessages(list []Message) func() {
	s.messages = list
	if s.onChange == nil {
		return func() {}
	}
	fn := s.onChange
	return func() { fn(list) }
}

// Load returns the conversation, from the cache when it is fresh and force
// is false. A failed fetch returns the error and leaves the list and cache
// as they were.
func (s *Session) Load(ctx context.Context, force bool) ([]Message, error) {
	s.mu.Lock()
	snap, state := s.slot.Lookup(s.now())
	if !force && state == SlotFresh {
		s.hits++
		notify := s.setMessages(snap.Messages)
		s.chatID = snap.ConversationID
		s.mu.Unlock()
		notify()
		return snap.Messages, nil
	}
	etag := ""
	if snap != nil {
		etag = snap.ETag
	}
	s.mu.Unlock()

	page, err := s.backend.History(ctx, etag)
	if err != nil {
		s.log.Warn("history load failed", "error", err)
		return nil, fmt.Errorf("load history: %w", err)
	}

	s.mu.Lock()
	now := s.now()
	current, _ := s.slot.Lookup(now)
	switch {
	case page.NotModified && current == nil:
		// The slot was cleared while the request was in flight.
		s.mu.Unlock()
		return nil, errNotModifiedWithoutCache
	case page.NotModified:
		s.hits++
		s.slot = s.slot.Revalidate(now, s.freshness)
	default:
		s.misses++
		s.slot = Fill(Snapshot{
			ConversationID: page.ConversationID,
			Messages:       fromHistory(page.Messages),
			ETag:           page.ETag,
		}, now, s.freshness)
	}
	snap, _ = s.slot.Lookup(now)
	s.chatID = snap.ConversationID
	notify := s.setMessages(snap.Messages)
	s.mu.Unlock()
	notify()
	return snap.Messages, nil
}

// Send inserts text as a pending message and streams the reply into the
// list. Only one Send may run at a time; a concurrent call gets ErrBusy.
// The returned error is also reflected in the list as a failed message.
func (s *Session) Send(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyInput
	}

	s.mu.Lock()
	if s.sending {
		s.mu.Unlock()
		return ErrBusy
	}
	s.sending = true
	tempID := newTempID()
	notify := s.setMessages(addPending(s.messages, tempID, text, s.now()))
	req := &chat.CompletionRequest{Messages: prompt(s.messages), ChatID: s.chatID}
	s.mu.Unlock()
	notify()

	defer func() {
		s.mu.Lock()
		s.sending = false
		s.mu.Unlock()
	}()

	var reply strings.Builder
	err := s.backend.Complete(ctx, req, func(ev chat.StreamEvent) error {
		s.mu.Lock()
		list := s.messages
		if ev.ChatID != "" {
			s.chatID = ev.ChatID
		}
		// Any event means the server accepted and stored the message.
		if statusOf(list, tempID) == StatusPending {
			serverID := ""
			if ev.Role == chat.RoleUser {
				serverID = ev.MessageID
			}
			list = applyDelivery(list, tempID, EventConfirmed, serverID)
		}
		switch {
		case ev.Done:
			list = finalize(list, ev.MessageID, reply.String(), s.now())
		case ev.Content != "":
			reply.WriteString(ev.Content)
			list = upsertStreaming(list, reply.String())
		}
		notify := s.setMessages(list)
		s.mu.Unlock()
		notify()
		return nil
	})

	s.mu.Lock()
	if err != nil {
		var list []Message
		if statusOf(s.messages, tempID) == StatusPending {
			list = applyDelivery(dropStreaming(s.messages), tempID, EventFailed, "")
		} else {
			list = appendFailedReply(s.messages, reply.String(), s.now())
		}
		notify := s.setMessages(list)
		s.mu.Unlock()
		notify()
		s.log.Warn("send failed", "error", err)
		return fmt.Errorf("send message: %w", err)
	}
	s.slot = s.slot.Touch(s.chatID, s.messages)
	s.mu.Unlock()
	return nil
}

// DeleteAll removes every conversation on the server, then drops the cache
// so the next Load cannot revalidate against the old fingerprint.
func (s *Session) DeleteAll(ctx context.Context) error {
	if err := s.backend.DeleteAll(ctx); err != nil {
		return fmt.Errorf("delete history: %w", err)
	}
	s.mu.Lock()
	s.slot = s.slot.Clear()
	s.chatID = ""
	notify := s.setMessages([]Message{})
	s.mu.Unlock()
	notify()
	return nil
}

// InvalidateCache marks the cached history stale, for example after
// another tab changed it. The list itself is untouched.
func (s *Session) InvalidateCache() {
	s.mu.Lock()
	s.slot = s.slot.Invalidate()
	s.mu.Unlock()
}

// ClearCache forgets the cached history and its fingerprint.
func (s *Session) ClearCache() {
	s.mu.Lock()
	s.slot = s.slot.Clear()
	s.mu.Unlock()
}

// Stats is the debug view of the cache.
type Stats struct {
	Hits         int
	Misses       int
	HitRate      float64
	State        SlotState
	ETag         string
	Age          time.Duration
	MessageCount int
	EmptyAccount bool
	Sending      bool
}

func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	snap, state := s.slot.Lookup(now)
	st := Stats{
		Hits:         s.hits,
		Misses:       s.misses,
		State:        state,
		MessageCount: len(s.messages),
		Sending:      s.sending,
	}
	if total := s.hits + s.misses; total > 0 {
		st.HitRate = float64(s.hits) / float64(total)
	}
	if snap != nil {
		st.ETag = snap.ETag
		if !snap.FetchedAt.IsZero() {
			st.Age = now.Sub(snap.FetchedAt)
		}
		st.EmptyAccount = snap.EmptyAccount()
	}
	return st
}
