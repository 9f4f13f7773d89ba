package myMiddleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"llm-chat/internal/httpx"
)

type contextKey string

const (
	UserKey     contextKey = "user_id"
	UsernameKey contextKey = "username"
)

var (
	errMissingToken = errors.New("missing authentication token")
	errBadToken     = errors.New("invalid token")
)

// TokenValidator decouples the middleware from the user package.
type TokenValidator interface {
	ValidateToken(tokenString string) (int, string, error)
}

type AuthMiddleware struct {
	validator TokenValidator
}

func NewAuthMiddleware(v TokenValidator) *AuthMiddleware {
	return &AuthMiddleware{validator: v}
}

// Handle rejects unauthenticated requests before any handler side effect runs.
func (am *AuthMiddleware) Handle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := bearerToken(r.Header.Get("Authorization"))

		// Browsers cannot set headers on websocket upgrades.
		if tokenString == "" {
			tokenString = r.URL.Query().Get("token")
		}

		if tokenString == "" {
			httpx.RespondError(w, http.StatusUnauthorized, "unauthorized", errMissingToken)
			return
		}

		userID, username, err := am.validator.ValidateToken(tokenString)
		if err != nil {
			httpx.RespondError(w, http.StatusUnauthorized, "unauthorized", errBadToken)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), userID, username)))
	})
}

func bearerToken(header string) string {
	parts := strings.Fields(header)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return parts[1]
	}
	return ""
}

func WithUser(ctx context.Context, userID int, username string) context.Context {
	ctx = context.WithValue(ctx, UserKey, userID)
	return context.WithValue(ctx, UsernameKey, username)
}

// UserID returns the authenticated caller, or false when the request never
// passed through Handle.
func UserID(ctx context.Context) (int, bool) {
	id, ok := ctx.Value(UserKey).(int)
	return id, ok && id > 0
}
