package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Error carries the HTTP status and a stable machine code alongside the cause.
type Error struct {
	Status int
	Code   string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Code != "" {
		return e.Code
	}
	return fmt.Sprintf("api error (%d)", e.Status)
}

func (e *Error) Unwrap() error { return e.Err }

func NewError(status int, code string, err error) *Error {
	return &Error{Status: status, Code: code, Err: err}
}

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func RespondError(w http.ResponseWriter, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	WriteJSON(w, status, ErrorEnvelope{Error: APIError{Message: msg, Code: code}})
}

// RespondErr writes err using its *Error status when it has one. Anything
// else becomes an opaque 500 so storage details never reach the client.
func RespondErr(w http.ResponseWriter, err error) {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		RespondError(w, apiErr.Status, apiErr.Code, apiErr)
		return
	}
	RespondError(w, http.StatusInternalServerError, "internal_error", errors.New("internal server error"))
}
