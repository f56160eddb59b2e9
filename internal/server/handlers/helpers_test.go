package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/ledgersync/internal/models"
	"github.com/iudanet/ledgersync/internal/server/storage/sqlite"
	"github.com/iudanet/ledgersync/pkg/api"
)

func setupTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupTestStorage(t *testing.T) *sqlite.Storage {
	t.Helper()

	s, err := sqlite.New(context.Background(), filepath.Join(t.TempDir(), "relay.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}

func createTestUser(t *testing.T, s *sqlite.Storage, username, authKeyHash string) *models.User {
	t.Helper()

	user := &models.User{
		ID:          uuid.NewString(),
		Username:    username,
		AuthKeyHash: authKeyHash,
		PublicSalt:  "c2FsdA==",
	}
	require.NoError(t, s.CreateUser(context.Background(), user))
	return user
}

// jsonRequest собирает запрос с JSON телом от имени пользователя (пустой userID - анонимно)
func jsonRequest(t *testing.T, method, path, userID string, body any) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req = req.WithContext(WithUser(req.Context(), userID, "tester"))
	}
	return req
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) api.ErrorResponse {
	t.Helper()

	var resp api.ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Equal(t, api.StatusError, resp.Status)
	return resp
}
