package middleware

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"

	"github.com/cloo-solutions/servicechunks/internal/api"
	"github.com/cloo-solutions/servicechunks/internal/domain"
)

type contextKey string

const ClientIDKey contextKey = "client_id"

// clientIDHeader carries the client id back to middleware mounted outside
// the auth group, which only sees the outer request context
const clientIDHeader = "X-Client-ID"

// AuthValidator resolves a bearer token to the id of the calling client
type AuthValidator interface {
	ValidateAPIKey(ctx context.Context, token string) (string, error)
}

// StaticKeys validates tokens against a fixed list of API keys. The client
// id is the key's position in the list, so keys never reach the logs.
type StaticKeys struct {
	keys []string
}

func NewStaticKeys(keys []string) *StaticKeys {
	kept := make([]string, 0, len(keys))
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			kept = append(kept, k)
		}
	}
	return &StaticKeys{keys: kept}
}

func (s *StaticKeys) ValidateAPIKey(_ context.Context, token string) (string, error) {
	for i, k := range s.keys {
		if subtle.ConstantTimeCompare([]byte(k), []byte(token)) == 1 {
			return fmt.Sprintf("key-%d", i+1), nil
		}
	}
	return "", domain.ErrInvalidAPIKey
}

// Empty reports whether no keys are configured
func (s *StaticKeys) Empty() bool {
	return len(s.keys) == 0
}

func APIKeyAuth(validator AuthValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				api.Error(w, http.StatusUnauthorized, "missing authorization header")
				return
			}

			token, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok {
				api.Error(w, http.StatusUnauthorized, "invalid authorization format")
				return
			}

			clientID, err := validator.ValidateAPIKey(r.Context(), token)
			if err != nil {
				api.Error(w, http.StatusUnauthorized, "invalid api key")
				return
			}

			r.Header.Set(clientIDHeader, clientID)
			ctx := context.WithValue(r.Context(), ClientIDKey, clientID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func GetClientID(ctx context.Context) string {
	clientID, _ := ctx.Value(ClientIDKey).(string)
	return clientID
}

// clientIDOf reads the client id from the context, then from the header set
// by APIKeyAuth
func clientIDOf(r *http.Request) string {
	if id := GetClientID(r.Context()); id != "" {
		return id
	}
	return r.Header.Get(clientIDHeader)
}
