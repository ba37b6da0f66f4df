package auth

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/vindennt/gus-marketplace/internal/models"
)

type contextKey string

const UserContextKey contextKey = "user"

// UserFromContext returns the user injected by Authenticate or OptionalUser
func UserFromContext(ctx context.Context) (models.User, bool) {
	user, ok := ctx.Value(UserContextKey).(models.User)
	return user, ok
}

func WithUser(ctx context.Context, user models.User) context.Context {
	return context.WithValue(ctx, UserContextKey, user)
}

// BearerToken extracts the token from an Authorization: Bearer header
func BearerToken(r *http.Request) string {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// Authenticate rejects requests without a valid bearer token
func (c *Client) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := BearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		// Validate token across Supabase
		user, err := c.User(r.Context(), token)
		if err != nil {
			c.logger.Debug("token rejected", zap.Error(err))
			writeError(w, http.StatusUnauthorized, "Unauthorized: "+err.Error())
			return
		}

		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
	})
}

// OptionalUser injects the user when a valid token is present and lets the
// request through either way
func (c *Client) OptionalUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token := BearerToken(r); token != "" {
			if user, err := c.User(r.Context(), token); err == nil {
				r = r.WithContext(WithUser(r.Context(), user))
			}
		}
		next.ServeHTTP(w, r)
	})
}
