package chat

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"llm-chat/internal/httpx"
	"llm-chat/internal/llm"
	"llm-chat/internal/logger"
	"llm-chat/internal/metrics"
	"llm-chat/internal/seal"
)

// UndecryptablePlaceholder replaces a stored message that fails authentication.
const UndecryptablePlaceholder = "[message could not be decrypted]"

const defaultUpstreamTimeout = 5 * time.Minute

var (
	ErrEmptyMessage  = errors.New("message content is empty")
	ErrNoUserMessage = errors.New("last message must be a user message")
	ErrInvalidChatID = errors.New("invalid chat id")
)

// Store is the conversation persistence the service needs; *Repository satisfies it.
type Store interface {
	ActiveConversation(ctx context.Context, userID int) (*Conversation, error)
	GetConversation(ctx context.Context, userID int, conversationID int64) (*Conversation, error)
	CreateConversation(ctx context.Context, userID int) (*Conversation, error)
	DeleteConversation(ctx context.Context, userID int, conversationID int64) error
	AppendMessage(ctx context.Context, msg *Message) error
	ListMessages(ctx context.Context, conversationID int64) ([]*Message, error)
	ActiveState(ctx context.Context, userID int) (*ConversationState, error)
	DeleteAll(ctx context.Context, userID int) (int64, error)
}

type Service struct {
	store    Store
	cipher   *seal.Cipher
	upstream llm.Streamer
	etags    FingerprintCache
	notifier Notifier
	metrics  *metrics.Metrics
	log      *logger.Logger

	// UpstreamTimeout bounds a relay once it is detached from the caller.
	UpstreamTimeout time.Duration
}

type ServiceDeps struct {
	Store    Store
	Cipher   *seal.Cipher
	Upstream llm.Streamer
	Etags    FingerprintCache
	Notifier Notifier
	Metrics  *metrics.Metrics
	Log      *logger.Logger
}

func NewService(d ServiceDeps) *Service {
	s := &Service{
		store:           d.Store,
		cipher:          d.Cipher,
		upstream:        d.Upstream,
		etags:           d.Etags,
		notifier:        d.Notifier,
		metrics:         d.Metrics,
		log:             d.Log,
		UpstreamTimeout: defaultUpstreamTimeout,
	}
	if s.etags == nil {
		s.etags = noFingerprintCache{}
	}
	if s.metrics == nil {
		s.metrics = metrics.New()
	}
	if s.log == nil {
		s.log = logger.Nop()
	}
	s.log = s.log.With("component", "chat")
	return s
}

// HistoryResult is either NotModified with only ETag set, or a full Payload.
type HistoryResult struct {
	NotModified bool
	ETag        string
	Payload     *HistoryResponse
}

// History serves the caller's active conversation. When ifNoneMatch names
// the current fingerprint the result is NotModified and nothing is decrypted.
func (s *Service) History(ctx context.Context, userID int, ifNoneMatch string) (*HistoryResult, error) {
	cached, gen, ok, lookupErr := s.etags.Lookup(ctx, userID)
	if lookupErr != nil {
		// The cache is an optimisation; fall through to Postgres.
		s.log.Warn("fingerprint cache lookup failed", "user_id", userID, "error", lookupErr)
		ok = false
	}
	if ok {
		s.metrics.FingerprintLookups.WithLabelValues("hit").Inc()
		if MatchesIfNoneMatch(ifNoneMatch, cached) {
			s.metrics.HistoryResponses.WithLabelValues("not_modified").Inc()
			return &HistoryResult{NotModified: true, ETag: cached}, nil
		}
	} else {
		s.metrics.FingerprintLookups.WithLabelValues("miss").Inc()
	}

	st, err := s.store.ActiveState(ctx, userID)
	if err != nil {
		s.metrics.HistoryResponses.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("load conversation state: %w", err)
	}
	etag := Fingerprint(st)
	// Without a generation from Lookup the write could land under a stale key.
	if lookupErr == nil {
		if err := s.etags.Store(ctx, userID, gen, etag); err != nil {
			s.log.Warn("fingerprint cache store failed", "user_id", userID, "error", err)
		}
	}

	if MatchesIfNoneMatch(ifNoneMatch, etag) {
		s.metrics.HistoryResponses.WithLabelValues("not_modified").Inc()
		return &HistoryResult{NotModified: true, ETag: etag}, nil
	}

	payload := &HistoryResponse{Messages: []HistoryMessage{}}
	if st != nil {
		payload.ConversationID = FormatID(st.ConversationID)
		msgs, err := s.store.ListMessages(ctx, st.ConversationID)
		if err != nil {
			s.metrics.HistoryResponses.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("list messages: %w", err)
		}
		for _, m := range msgs {
			payload.Messages = append(payload.Messages, s.open(m))
		}
	}

	s.metrics.HistoryResponses.WithLabelValues("full").Inc()
	return &HistoryResult{ETag: etag, Payload: payload}, nil
}

// open decrypts one stored message. A failure is contained to that message.
func (s *Service) open(m *Message) HistoryMessage {
	hm := HistoryMessage{ID: FormatID(m.ID), Role: m.Role, CreatedAt: m.CreatedAt}
	text, err := s.cipher.DecryptString(m.Content, m.Nonce)
	if err != nil {
		s.metrics.DecryptFailures.Inc()
		s.log.Warn("message failed to decrypt", "message_id", m.ID, "conversation_id", m.ConversationID)
		hm.Content = UndecryptablePlaceholder
		return hm
	}
	hm.Content = text
	return hm
}

// Relay is a completion in progress: the user message is already stored.
type Relay struct {
	UserID       int
	Conversation *Conversation
	UserMessage  *Message
	Prompt       []llm.Message
}

// Prepare validates req, resolves or creates the conversation and stores the
// new user message. Nothing upstream is contacted yet.
func (s *Service) Prepare(ctx context.Context, userID int, req *CompletionRequest) (*Relay, error) {
	prompt, last, err := buildPrompt(req.Messages)
	if err != nil {
		s.metrics.Completions.WithLabelValues("rejected").Inc()
		return nil, httpx.NewError(http.StatusBadRequest, "invalid_request", err)
	}

	conv, created, err := s.resolveConversation(ctx, userID, strings.TrimSpace(req.ChatID))
	if err != nil {
		s.metrics.Completions.WithLabelValues("rejected").Inc()
		return nil, err
	}

	msg, err := s.persist(ctx, conv, RoleUser, last)
	if err != nil {
		s.metrics.Completions.WithLabelValues("rejected").Inc()
		if created {
			// Do not leave an empty conversation behind as the new active one.
			if derr := s.store.DeleteConversation(ctx, userID, conv.ID); derr != nil {
				s.log.Error("failed to remove empty conversation", "conversation_id", conv.ID, "error", derr)
			}
		}
		return nil, err
	}

	return &Relay{UserID: userID, Conversation: conv, UserMessage: msg, Prompt: prompt}, nil
}

func buildPrompt(in []InboundMessage) ([]llm.Message, string, error) {
	if len(in) == 0 {
		return nil, "", ErrEmptyMessage
	}
	last := in[len(in)-1]
	if last.Role != RoleUser {
		return nil, "", ErrNoUserMessage
	}
	if strings.TrimSpace(last.Content) == "" {
		return nil, "", ErrEmptyMessage
	}

	prompt := make([]llm.Message, 0, len(in))
	for _, m := range in {
		if !m.Role.Valid() || strings.TrimSpace(m.Content) == "" {
			continue
		}
		prompt = append(prompt, llm.Message{Role: string(m.Role), Content: m.Content})
	}
	return prompt, last.Content, nil
}

// resolveConversation reports created=true when it had to make a new one.
// An unknown chatID falls back to the active conversation, or a new one.
func (s *Service) resolveConversation(ctx context.Context, userID int, chatID string) (*Conversation, bool, error) {
	if chatID != "" {
		id, err := ParseID(chatID)
		if err != nil || id <= 0 {
			return nil, false, httpx.NewError(http.StatusBadRequest, "invalid_chat_id", ErrInvalidChatID)
		}
		conv, err := s.store.GetConversation(ctx, userID, id)
		if err == nil {
			return conv, false, nil
		}
		if !errors.Is(err, ErrConversationNotFound) {
			return nil, false, err
		}
		// Gone (deleted from another tab) or not the caller's: continue in
		// the caller's own active conversation instead.
		s.log.Info("chat id not found; using active conversation", "user_id", userID, "chat_id", id)
	}

	conv, err := s.store.ActiveConversation(ctx, userID)
	if err == nil {
		return conv, false, nil
	}
	if !errors.Is(err, ErrConversationNotFound) {
		return nil, false, err
	}
	conv, err = s.store.CreateConversation(ctx, userID)
	if err != nil {
		return nil, false, fmt.Errorf("create conversation: %w", err)
	}
	s.log.Info("conversation created", "user_id", userID, "conversation_id", conv.ID)
	return conv, true, nil
}

// persist encrypts and stores one message, then tells caches and other tabs.
func (s *Service) persist(ctx context.Context, conv *Conversation, role Role, text string) (*Message, error) {
	ct, nonce, err := s.cipher.EncryptString(text)
	if err != nil {
		return nil, fmt.Errorf("encrypt message: %w", err)
	}
	msg := &Message{ConversationID: conv.ID, Role: role, Content: ct, Nonce: nonce}
	if err := s.store.AppendMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}
	s.changed(ctx, conv.UserID, conv.ID)
	return msg, nil
}

func (s *Service) changed(ctx context.Context, userID int, conversationID int64) {
	if err := s.etags.Invalidate(ctx, userID); err != nil {
		s.log.Error("fingerprint invalidation failed", "user_id", userID, "error", err)
	}
	if s.notifier == nil {
		return
	}
	if err := s.notifier.HistoryChanged(ctx, userID, FormatID(conversationID)); err != nil {
		s.log.Warn("history change notification failed", "user_id", userID, "error", err)
	}
}

// Stream runs the upstream completion for r, passing events to emit in
// order. The upstream call is detached from ctx's cancellation so a caller
// that disconnects mid-stream still gets its reply stored; once emit fails
// no further events are sent. Partial output is not stored on upstream error.
func (s *Service) Stream(ctx context.Context, r *Relay, emit func(StreamEvent) error) error {
	chatID := FormatID(r.Conversation.ID)
	log := s.log.With("user_id", r.UserID, "conversation_id", r.Conversation.ID)

	upCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.UpstreamTimeout)
	defer cancel()

	var callerGone bool
	send := func(ev StreamEvent) {
		if callerGone {
			return
		}
		if err := emit(ev); err != nil {
			callerGone = true
			log.Info("caller disconnected; finishing relay without it", "error", err)
		}
	}

	send(StreamEvent{Role: RoleUser, ChatID: chatID, MessageID: FormatID(r.UserMessage.ID)})

	full, err := s.upstream.StreamChat(upCtx, r.Prompt, func(delta string) error {
		s.metrics.StreamedFragments.Inc()
		send(StreamEvent{Content: delta, Role: RoleAssistant, ChatID: chatID})
		return nil
	})
	if err != nil {
		s.metrics.Completions.WithLabelValues("upstream_error").Inc()
		log.Error("upstream completion failed", "error", err)
		send(StreamEvent{Error: "upstream completion failed", ChatID: chatID})
		return err
	}

	msg, err := s.persist(upCtx, r.Conversation, RoleAssistant, full)
	if err != nil {
		s.metrics.Completions.WithLabelValues("upstream_error").Inc()
		log.Error("failed to store assistant reply", "error", err)
		send(StreamEvent{Error: "failed to store reply", ChatID: chatID})
		return err
	}

	s.metrics.Completions.WithLabelValues("ok").Inc()
	send(StreamEvent{Role: RoleAssistant, ChatID: chatID, MessageID: FormatID(msg.ID), Done: true})
	return nil
}

// DeleteAll removes every conversation the caller owns.
func (s *Service) DeleteAll(ctx context.Context, userID int) error {
	n, err := s.store.DeleteAll(ctx, userID)
	if err != nil {
		return fmt.Errorf("delete conversations: %w", err)
	}
	s.changed(ctx, userID, 0)
	s.log.Info("conversations deleted", "user_id", userID, "count", n)
	return nil
}
