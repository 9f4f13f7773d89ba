package chat

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llm-chat/internal/logger"
	myMiddleware "llm-chat/internal/middleware"
)

func newTestHandler(t *testing.T) (*Handler, *serviceFixture) {
	t.Helper()
	f := newServiceFixture(t, nil)
	return NewHandler(f.svc, nil, 5*time.Minute, logger.Nop()), f
}

func authed(req *http.Request, userID int) *http.Request {
	return req.WithContext(myMiddleware.WithUser(req.Context(), userID, "u"))
}

func parseEvents(t *testing.T, body string) []StreamEvent {
	t.Helper()
	var events []StreamEvent
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev StreamEvent
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
		events = append(events, ev)
	}
	return events
}

func TestCompleteStreamsEvents(t *testing.T) {
	h, _ := newTestHandler(t)

	req := authed(httptest.NewRequest(http.MethodPost, "/api/chat/completions",
		strings.NewReader(`{"messages":[{"role":"user","content":"hello"}]}`)), 1)
	rec := httptest.NewRecorder()
	h.Complete(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	events := parseEvents(t, rec.Body.String())
	require.Len(t, events, 4)
	var text strings.Builder
	for _, ev := range events {
		text.WriteString(ev.Content)
	}
	assert.Equal(t, "Hello!", text.String())
	assert.True(t, events[3].Done)
}

func TestCompleteRejectsEmptyMessageBeforeStreaming(t *testing.T) {
	h, f := newTestHandler(t)

	req := authed(httptest.NewRequest(http.MethodPost, "/api/chat/completions",
		strings.NewReader(`{"messages":[{"role":"user","content":""}]}`)), 1)
	rec := httptest.NewRecorder()
	h.Complete(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")
	assert.Equal(t, 0, f.store.conversationCount(1))
	assert.Empty(t, f.upstream.prompts)
}

func TestHandlersRequireUser(t *testing.T) {
	h, f := newTestHandler(t)

	for _, tc := range []struct {
		name string
		fn   http.HandlerFunc
		req  *http.Request
	}{
		{"history", h.GetHistory, httptest.NewRequest(http.MethodGet, "/api/chat/history", nil)},
		{"complete", h.Complete, httptest.NewRequest(http.MethodPost, "/api/chat/completions", strings.NewReader(`{"messages":[{"role":"user","content":"x"}]}`))},
		{"delete", h.DeleteAll, httptest.NewRequest(http.MethodDelete, "/api/chat/history", nil)},
	} {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tc.fn(rec, tc.req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
	assert.Empty(t, f.upstream.prompts)
}

func TestGetHistoryConditional(t *testing.T) {
	h, f := newTestHandler(t)
	f.send(t, 1, userSays("hello"))

	rec := httptest.NewRecorder()
	h.GetHistory(rec, authed(httptest.NewRequest(http.MethodGet, "/api/chat/history", nil), 1))
	require.Equal(t, http.StatusOK, rec.Code)
	etag := rec.Header().Get("ETag")
	require.NotEmpty(t, etag)
	assert.Equal(t, "private, max-age=300, must-revalidate", rec.Header().Get("Cache-Control"))

	var payload HistoryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, "1", payload.ConversationID)
	assert.Len(t, payload.Messages, 2)

	req := authed(httptest.NewRequest(http.MethodGet, "/api/chat/history", nil), 1)
	req.Header.Set("If-None-Match", etag)
	rec = httptest.NewRecorder()
	h.GetHistory(rec, req)
	assert.Equal(t, http.StatusNotModified, rec.Code)
	assert.Empty(t, rec.Body.Bytes())
	assert.Equal(t, etag, rec.Header().Get("ETag"))
}

func TestDeleteAllThenHistoryIsEmpty(t *testing.T) {
	h, f := newTestHandler(t)
	f.send(t, 1, userSays("hello"))

	rec := httptest.NewRecorder()
	h.DeleteAll(rec, authed(httptest.NewRequest(http.MethodDelete, "/api/chat/history", nil), 1))
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	h.GetHistory(rec, authed(httptest.NewRequest(http.MethodGet, "/api/chat/history", nil), 1))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, EmptyFingerprint, rec.Header().Get("ETag"))
	assert.JSONEq(t, `{"conversationId":"","messages":[]}`, rec.Body.String())
}
