package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/servicechunks/internal/domain"
)

type MockAuthValidator struct {
	mock.Mock
}

func (m *MockAuthValidator) ValidateAPIKey(ctx context.Context, token string) (string, error) {
	args := m.Called(ctx, token)
	return args.String(0), args.Error(1)
}

func TestAPIKeyAuth_Success(t *testing.T) {
	mockValidator := new(MockAuthValidator)
	mockValidator.On("ValidateAPIKey", mock.Anything, "sk_live_0123").Return("key-1", nil)

	var capturedClientID string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedClientID = GetClientID(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer sk_live_0123")
	w := httptest.NewRecorder()

	APIKeyAuth(mockValidator)(handler).ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "key-1", capturedClientID)
	assert.Equal(t, "key-1", clientIDOf(req))
	mockValidator.AssertExpectations(t)
}

func TestAPIKeyAuth_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"missing header", "", "missing authorization header"},
		{"basic auth", "Basic abc123", "invalid authorization format"},
		{"unknown key", "Bearer nope", "invalid api key"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatal("handler should not be called")
			})

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()

			APIKeyAuth(NewStaticKeys([]string{"sk_live_0123"}))(handler).ServeHTTP(w, req)

			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Contains(t, w.Body.String(), tt.want)
		})
	}
}

func TestAPIKeyAuth_ValidatorError(t *testing.T) {
	mockValidator := new(MockAuthValidator)
	mockValidator.On("ValidateAPIKey", mock.Anything, "bad").Return("", errors.New("invalid key"))

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer bad")
	w := httptest.NewRecorder()

	APIKeyAuth(mockValidator)(handler).ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	mockValidator.AssertExpectations(t)
}

func TestStaticKeys(t *testing.T) {
	keys := NewStaticKeys([]string{" first ", "", "second"})

	id, err := keys.ValidateAPIKey(context.Background(), "second")
	require.NoError(t, err)
	assert.Equal(t, "key-2", id)

	_, err = keys.ValidateAPIKey(context.Background(), "")
	assert.ErrorIs(t, err, domain.ErrInvalidAPIKey)

	assert.False(t, keys.Empty())
	assert.True(t, NewStaticKeys(nil).Empty())
}

func TestGetClientID_MissingContext(t *testing.T) {
	assert.Equal(t, "", GetClientID(context.Background()))
}
