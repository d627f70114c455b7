package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/finlit-network/backend/internal/auth"
	"github.com/finlit-network/backend/internal/models"
	"github.com/sirupsen/logrus"
)

// UserIDKey is the request context key handlers read the caller's id from.
const UserIDKey = "user_id"

// Auth verifies bearer tokens and stores the user id in the request context.
type Auth struct {
	tokens *auth.Tokens
	log    logrus.FieldLogger
}

func NewAuth(tokens *auth.Tokens, log logrus.FieldLogger) *Auth {
	return &Auth{tokens: tokens, log: log.WithField("component", "auth_middleware")}
}

func (a *Auth) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			writeError(w, http.StatusUnauthorized, "Authorization header required")
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			writeError(w, http.StatusUnauthorized, "Invalid authorization header format")
			return
		}

		userID, err := a.tokens.Parse(strings.TrimSpace(parts[1]))
		if err != nil {
			a.log.WithError(err).WithField("path", r.URL.Path).Debug("token rejected")
			writeError(w, http.StatusUnauthorized, "Invalid or expired token")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
	})
}

// WithUserID returns ctx carrying userID under UserIDKey.
func WithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(models.ErrorResponse{Error: msg})
}
