package middleware

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/ledgersync/internal/server/handlers"
	"github.com/iudanet/ledgersync/internal/server/jwt"
	"github.com/iudanet/ledgersync/pkg/api"
)

func TestAuthMiddleware(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := clockwork.NewFakeClockAt(time.Now())
	tokens := jwt.NewService("test-secret", 15*time.Minute, time.Hour).WithClock(clock)
	otherTokens := jwt.NewService("other-secret", 15*time.Minute, time.Hour).WithClock(clock)

	valid, _, err := tokens.GenerateAccessToken("user-123", "alice")
	require.NoError(t, err)
	foreign, _, err := otherTokens.GenerateAccessToken("user-123", "alice")
	require.NoError(t, err)

	tests := []struct {
		name           string
		headers        map[string]string
		expectedStatus int
		expectedUserID string
	}{
		{
			name:           "Token header",
			headers:        map[string]string{TokenHeader: valid},
			expectedStatus: http.StatusOK,
			expectedUserID: "user-123",
		},
		{
			name:           "Bearer token",
			headers:        map[string]string{"Authorization": "Bearer " + valid},
			expectedStatus: http.StatusOK,
			expectedUserID: "user-123",
		},
		{
			name: "Token header takes precedence",
			headers: map[string]string{
				TokenHeader:     valid,
				"Authorization": "Bearer garbage",
			},
			expectedStatus: http.StatusOK,
			expectedUserID: "user-123",
		},
		{
			name:           "Missing token",
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "Wrong scheme",
			headers:        map[string]string{"Authorization": "Basic " + valid},
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "Malformed token",
			headers:        map[string]string{TokenHeader: "not.a.jwt"},
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "Signed with another secret",
			headers:        map[string]string{TokenHeader: foreign},
			expectedStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotUserID string
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotUserID, _ = handlers.GetUserID(r.Context())
				username, _ := handlers.GetUsername(r.Context())
				assert.Equal(t, "alice", username)
				w.WriteHeader(http.StatusOK)
			})

			req := httptest.NewRequest(http.MethodPost, "/sync", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()

			AuthMiddleware(logger, tokens)(next).ServeHTTP(rec, req)

			assert.Equal(t, tt.expectedStatus, rec.Code)
			assert.Equal(t, tt.expectedUserID, gotUserID)

			if tt.expectedStatus == http.StatusUnauthorized {
				var resp api.ErrorResponse
				require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
				assert.Equal(t, api.ReasonUnauthorized, resp.Reason)
			}
		})
	}
}

func TestAuthMiddleware_ExpiredToken(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := clockwork.NewFakeClockAt(time.Now())
	tokens := jwt.NewService("test-secret", 15*time.Minute, time.Hour).WithClock(clock)

	token, _, err := tokens.GenerateAccessToken("user-123", "alice")
	require.NoError(t, err)

	called := false
	handler := AuthMiddleware(logger, tokens)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	clock.Advance(16 * time.Minute)

	req := httptest.NewRequest(http.MethodPost, "/sync", nil)
	req.Header.Set(TokenHeader, token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, called)
}
