package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"llm-chat/internal/chat"
	"llm-chat/internal/httpx"
	"llm-chat/internal/llm"
	"llm-chat/internal/user"
)

// Backend is the server surface a Session drives.
type Backend interface {
	History(ctx context.Context, etag string) (*HistoryPage, error)
	Complete(ctx context.Context, req *chat.CompletionRequest, onEvent func(chat.StreamEvent) error) error
	DeleteAll(ctx context.Context) error
}

// HistoryPage is a history response. NotModified pages carry only ETag.
type HistoryPage struct {
	NotModified    bool
	ETag           string
	ConversationID string
	Messages       []chat.HistoryMessage
}

// StatusError is a non-2xx reply decoded from the server's error envelope.
type StatusError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.StatusCode)
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// StreamError is an error event received in the middle of a completion.
type StreamError struct {
	Message string
}

func (e *StreamError) Error() string { return "stream error: " + e.Message }

// ErrStreamTruncated means the completion stream closed without a final event.
var ErrStreamTruncated = errors.New("completion stream ended before it finished")

// API talks to the chat server over HTTP.
type API struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

func NewAPI(baseURL, token string) *API {
	return &API{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTP:    &http.Client{},
	}
}

func (a *API) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var rdr io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rdr = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.BaseURL+path, rdr)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if a.Token != "" {
		req.Header.Set("Authorization", "Bearer "+a.Token)
	}
	return req, nil
}

func decodeStatusError(resp *http.Response) error {
	se := &StatusError{StatusCode: resp.StatusCode}
	var env httpx.ErrorEnvelope
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if json.Unmarshal(body, &env) == nil {
		se.Code = env.Error.Code
		se.Message = env.Error.Message
	}
	return se
}

// Register creates an account.
func (a *API) Register(ctx context.Context, username, password string) error {
	req, err := a.newRequest(ctx, http.MethodPost, "/register", user.Credentials{Username: username, Password: password})
	if err != nil {
		return err
	}
	resp, err := a.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return decodeStatusError(resp)
	}
	return nil
}

// Login exchanges credentials for a token and keeps it for later calls.
func (a *API) Login(ctx context.Context, username, password string) (*user.LoginResponse, error) {
	req, err := a.newRequest(ctx, http.MethodPost, "/login", user.Credentials{Username: username, Password: password})
	if err != nil {
		return nil, err
	}
	resp, err := a.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, decodeStatusError(resp)
	}
	var out user.LoginResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode login response: %w", err)
	}
	a.Token = out.AccessToken
	return &out, nil
}

// History fetches the active conversation, conditional on etag when set.
func (a *API) History(ctx context.Context, etag string) (*HistoryPage, error) {
	req, err := a.newRequest(ctx, http.MethodGet, "/api/chat/history", nil)
	if err != nil {
		return nil, err
	}
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}
	resp, err := a.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNotModified:
		tag := resp.Header.Get("ETag")
		if tag == "" {
			tag = etag
		}
		return &HistoryPage{NotModified: true, ETag: tag}, nil
	case http.StatusOK:
		var payload chat.HistoryResponse
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			return nil, fmt.Errorf("decode history: %w", err)
		}
		return &HistoryPage{
			ETag:           resp.Header.Get("ETag"),
			ConversationID: payload.ConversationID,
			Messages:       payload.Messages,
		}, nil
	default:
		return nil, decodeStatusError(resp)
	}
}

// Complete posts req and calls onEvent for every streamed event in order.
// An in-band error event is returned as *StreamError.
func (a *API) Complete(ctx context.Context, creq *chat.CompletionRequest, onEvent func(chat.StreamEvent) error) error {
	req, err := a.newRequest(ctx, http.MethodPost, "/api/chat/completions", creq)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := a.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decodeStatusError(resp)
	}

	finished := false
	err = llm.ReadEvents(resp.Body, func(_, data string) error {
		var ev chat.StreamEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			return fmt.Errorf("decode stream event: %w", err)
		}
		if ev.Error != "" {
			return &StreamError{Message: ev.Error}
		}
		if err := onEvent(ev); err != nil {
			return err
		}
		if ev.Done {
			finished = true
		}
		return nil
	})
	if err != nil {
		return err
	}
	if !finished {
		return ErrStreamTruncated
	}
	return nil
}

// DeleteAll removes every conversation of the logged-in user.
func (a *API) DeleteAll(ctx context.Context) error {
	req, err := a.newRequest(ctx, http.MethodDelete, "/api/chat/history", nil)
	if err != nil {
		return err
	}
	resp, err := a.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return decodeStatusError(resp)
	}
	return nil
}
