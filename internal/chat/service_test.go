package chat

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llm-chat/internal/httpx"
	"llm-chat/internal/logger"
	"llm-chat/internal/metrics"
)

type serviceFixture struct {
	svc      *Service
	store    *memStore
	upstream *stubStreamer
	notifier *recordingNotifier
	metrics  *metrics.Metrics
}

func newServiceFixture(t *testing.T, etags FingerprintCache) *serviceFixture {
	t.Helper()
	f := &serviceFixture{
		store:    newMemStore(),
		upstream: &stubStreamer{fragments: []string{"Hel", "lo!"}},
		notifier: &recordingNotifier{},
		metrics:  metrics.New(),
	}
	f.svc = NewService(ServiceDeps{
		Store:    f.store,
		Cipher:   testCipher(t),
		Upstream: f.upstream,
		Etags:    etags,
		Notifier: f.notifier,
		Metrics:  f.metrics,
		Log:      logger.Nop(),
	})
	return f
}

func userSays(text string) *CompletionRequest {
	return &CompletionRequest{Messages: []InboundMessage{{Role: RoleUser, Content: text}}}
}

func (f *serviceFixture) send(t *testing.T, userID int, req *CompletionRequest) []StreamEvent {
	t.Helper()
	relay, err := f.svc.Prepare(context.Background(), userID, req)
	require.NoError(t, err)
	var events []StreamEvent
	_ = f.svc.Stream(context.Background(), relay, func(ev StreamEvent) error {
		events = append(events, ev)
		return nil
	})
	return events
}

func TestFirstMessageCreatesConversation(t *testing.T) {
	f := newServiceFixture(t, nil)

	events := f.send(t, 1, userSays("hello"))

	require.Len(t, events, 4)
	assert.Equal(t, RoleUser, events[0].Role)
	assert.NotEmpty(t, events[0].MessageID)
	assert.Equal(t, "Hel", events[1].Content)
	assert.Equal(t, "lo!", events[2].Content)
	assert.True(t, events[3].Done)
	assert.NotEmpty(t, events[3].MessageID)
	for _, ev := range events {
		assert.Equal(t, "1", ev.ChatID)
		assert.Empty(t, ev.Error)
	}

	res, err := f.svc.History(context.Background(), 1, "")
	require.NoError(t, err)
	require.False(t, res.NotModified)
	assert.Equal(t, "1", res.Payload.ConversationID)
	require.Len(t, res.Payload.Messages, 2)
	assert.Equal(t, HistoryMessage{ID: events[0].MessageID, Role: RoleUser, Content: "hello", CreatedAt: res.Payload.Messages[0].CreatedAt}, res.Payload.Messages[0])
	assert.Equal(t, "Hello!", res.Payload.Messages[1].Content)
	assert.Equal(t, events[3].MessageID, res.Payload.Messages[1].ID)

	stored, _ := f.store.ListMessages(context.Background(), 1)
	for _, m := range stored {
		assert.NotContains(t, string(m.Content), "hello")
	}
}

func TestSecondMessageReusesActiveConversation(t *testing.T) {
	f := newServiceFixture(t, nil)
	f.send(t, 1, userSays("one"))
	f.send(t, 1, &CompletionRequest{
		Messages: []InboundMessage{
			{Role: RoleUser, Content: "one"},
			{Role: RoleAssistant, Content: "Hello!"},
			{Role: "system", Content: "ignored"},
			{Role: RoleUser, Content: "two"},
		},
	})

	assert.Equal(t, 1, f.store.conversationCount(1))
	msgs, _ := f.store.ListMessages(context.Background(), 1)
	assert.Len(t, msgs, 4)

	require.Len(t, f.upstream.prompts, 2)
	assert.Len(t, f.upstream.prompts[1], 3, "unknown roles are not forwarded upstream")
}

func TestHistoryConditionalRequest(t *testing.T) {
	f := newServiceFixture(t, nil)
	f.send(t, 1, userSays("hello"))

	first, err := f.svc.History(context.Background(), 1, "")
	require.NoError(t, err)

	again, err := f.svc.History(context.Background(), 1, first.ETag)
	require.NoError(t, err)
	assert.True(t, again.NotModified)
	assert.Equal(t, first.ETag, again.ETag)
	assert.Nil(t, again.Payload)

	f.send(t, 1, userSays("more"))
	changed, err := f.svc.History(context.Background(), 1, first.ETag)
	require.NoError(t, err)
	assert.False(t, changed.NotModified)
	assert.NotEqual(t, first.ETag, changed.ETag)
	assert.Len(t, changed.Payload.Messages, 4)
}

func TestHistoryEmptyAccount(t *testing.T) {
	f := newServiceFixture(t, nil)

	res, err := f.svc.History(context.Background(), 9, "")
	require.NoError(t, err)
	assert.Equal(t, EmptyFingerprint, res.ETag)
	assert.Equal(t, "", res.Payload.ConversationID)
	assert.NotNil(t, res.Payload.Messages)
	assert.Empty(t, res.Payload.Messages)

	again, err := f.svc.History(context.Background(), 9, EmptyFingerprint)
	require.NoError(t, err)
	assert.True(t, again.NotModified)
}

func TestHistoryDecryptFailureIsPerMessage(t *testing.T) {
	f := newServiceFixture(t, nil)
	f.send(t, 1, userSays("hello"))

	f.store.mu.Lock()
	f.store.msgs[1][0].Content[0] ^= 0xff
	f.store.mu.Unlock()

	res, err := f.svc.History(context.Background(), 1, "")
	require.NoError(t, err)
	require.Len(t, res.Payload.Messages, 2)
	assert.Equal(t, UndecryptablePlaceholder, res.Payload.Messages[0].Content)
	assert.Equal(t, "Hello!", res.Payload.Messages[1].Content)
}

func TestUpstreamErrorDoesNotPersistPartialReply(t *testing.T) {
	f := newServiceFixture(t, nil)
	f.upstream.fragments = []string{"par", "tial"}
	f.upstream.err = errors.New("upstream exploded")

	events := f.send(t, 1, userSays("hello"))

	last := events[len(events)-1]
	assert.NotEmpty(t, last.Error)
	assert.NotContains(t, last.Error, "exploded", "upstream details stay in logs")
	assert.Equal(t, "par", events[1].Content)

	msgs, _ := f.store.ListMessages(context.Background(), 1)
	require.Len(t, msgs, 1, "only the user message is stored")
	assert.Equal(t, RoleUser, msgs[0].Role)
}

func TestCallerDisconnectStillStoresReply(t *testing.T) {
	f := newServiceFixture(t, nil)
	relay, err := f.svc.Prepare(context.Background(), 1, userSays("hello"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err = f.svc.Stream(ctx, relay, func(ev StreamEvent) error {
		calls++
		cancel()
		return errors.New("broken pipe")
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls, "no writes after the first failure")

	msgs, _ := f.store.ListMessages(context.Background(), 1)
	require.Len(t, msgs, 2)
	assert.Equal(t, RoleAssistant, msgs[1].Role)
}

func TestPrepareValidation(t *testing.T) {
	f := newServiceFixture(t, nil)

	cases := map[string]*CompletionRequest{
		"no messages":    {},
		"blank content":  userSays("   "),
		"assistant last": {Messages: []InboundMessage{{Role: RoleAssistant, Content: "hi"}}},
		"bad chat id":    {Messages: []InboundMessage{{Role: RoleUser, Content: "hi"}}, ChatID: "abc"},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.Prepare(context.Background(), 1, req)
			var apiErr *httpx.Error
			require.ErrorAs(t, err, &apiErr)
			assert.GreaterOrEqual(t, apiErr.Status, http.StatusBadRequest)
			assert.Less(t, apiErr.Status, http.StatusInternalServerError)
		})
	}
	assert.Equal(t, 0, f.store.conversationCount(1), "nothing persisted for rejected requests")
}

func TestUnknownChatIDStartsNewConversation(t *testing.T) {
	f := newServiceFixture(t, nil)
	ctx := context.Background()

	first := f.send(t, 1, userSays("hello"))
	oldChatID := first[0].ChatID
	require.NotEmpty(t, oldChatID)

	// Another tab wipes the history while this one still holds the old id.
	require.NoError(t, f.svc.DeleteAll(ctx, 1))

	req := userSays("still there?")
	req.ChatID = oldChatID
	events := f.send(t, 1, req)

	require.NotEmpty(t, events)
	assert.NotEqual(t, oldChatID, events[0].ChatID)
	assert.True(t, events[len(events)-1].Done)
	assert.Equal(t, 1, f.store.conversationCount(1))

	hist, err := f.svc.History(ctx, 1, "")
	require.NoError(t, err)
	assert.Equal(t, events[0].ChatID, hist.Payload.ConversationID)
	require.Len(t, hist.Payload.Messages, 2)
	assert.Equal(t, "still there?", hist.Payload.Messages[0].Content)
}

func TestForeignChatIDUsesOwnConversation(t *testing.T) {
	f := newServiceFixture(t, nil)
	ctx := context.Background()

	theirs := f.send(t, 2, userSays("private"))
	mine := f.send(t, 1, userSays("hello"))

	req := userSays("again")
	req.ChatID = theirs[0].ChatID
	events := f.send(t, 1, req)

	assert.Equal(t, mine[0].ChatID, events[0].ChatID)
	other, err := f.svc.History(ctx, 2, "")
	require.NoError(t, err)
	assert.Len(t, other.Payload.Messages, 2, "other user's conversation is untouched")
}

func TestPersistFailureRemovesNewConversation(t *testing.T) {
	f := newServiceFixture(t, nil)
	f.store.failAppend = errors.New("disk full")

	_, err := f.svc.Prepare(context.Background(), 1, userSays("hello"))
	require.Error(t, err)
	var apiErr *httpx.Error
	assert.False(t, errors.As(err, &apiErr), "storage errors surface as generic 500s")
	assert.Equal(t, 0, f.store.conversationCount(1))
}

func TestDeleteAllResetsHistory(t *testing.T) {
	_, rdb := newRedis(t)
	f := newServiceFixture(t, NewRedisFingerprintCache(rdb, time.Minute))
	f.send(t, 1, userSays("hello"))
	f.send(t, 2, userSays("other user"))

	before, err := f.svc.History(context.Background(), 1, "")
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteAll(context.Background(), 1))

	after, err := f.svc.History(context.Background(), 1, before.ETag)
	require.NoError(t, err)
	assert.False(t, after.NotModified, "old fingerprint must not match after delete-all")
	assert.Equal(t, EmptyFingerprint, after.ETag)
	assert.Empty(t, after.Payload.Messages)

	other, err := f.svc.History(context.Background(), 2, "")
	require.NoError(t, err)
	assert.Len(t, other.Payload.Messages, 2, "other users are untouched")
}

func TestFingerprintCacheShortCircuitsStore(t *testing.T) {
	_, rdb := newRedis(t)
	f := newServiceFixture(t, NewRedisFingerprintCache(rdb, time.Minute))
	f.send(t, 1, userSays("hello"))

	first, err := f.svc.History(context.Background(), 1, "")
	require.NoError(t, err)

	f.store.setFailState(errors.New("postgres down"))
	res, err := f.svc.History(context.Background(), 1, first.ETag)
	require.NoError(t, err, "a cached fingerprint match must not reach the store")
	assert.True(t, res.NotModified)

	f.store.setFailState(nil)
	f.send(t, 1, userSays("again"))
	res, err = f.svc.History(context.Background(), 1, first.ETag)
	require.NoError(t, err)
	assert.False(t, res.NotModified, "writes invalidate the cached fingerprint")
}

func TestNotifierSeesEveryWrite(t *testing.T) {
	f := newServiceFixture(t, nil)
	f.send(t, 1, userSays("hello"))
	require.NoError(t, f.svc.DeleteAll(context.Background(), 1))

	assert.Equal(t, []string{"1", "1", ""}, f.notifier.events)
}
