package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syncBuffer потокобезопасный буфер для логов
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return bytes.Clone(b.buf.Bytes())
}

func (b *syncBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Len()
}

func TestLoggingMiddleware(t *testing.T) {
	tests := []struct {
		handler        http.HandlerFunc
		name           string
		method         string
		path           string
		expectedStatus int
		expectedLevel  string
	}{
		{
			name:   "GET request with 200 OK",
			method: http.MethodGet,
			path:   "/files",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte("success"))
			},
			expectedStatus: http.StatusOK,
			expectedLevel:  "INFO",
		},
		{
			name:   "POST request with 201 Created",
			method: http.MethodPost,
			path:   "/files",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusCreated)
				_, _ = w.Write([]byte(`{"status":"ok"}`))
			},
			expectedStatus: http.StatusCreated,
			expectedLevel:  "INFO",
		},
		{
			name:   "Rejected sync",
			method: http.MethodPost,
			path:   "/sync",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadRequest)
			},
			expectedStatus: http.StatusBadRequest,
			expectedLevel:  "WARN",
		},
		{
			name:   "Internal error",
			method: http.MethodPost,
			path:   "/sync",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
			expectedStatus: http.StatusInternalServerError,
			expectedLevel:  "ERROR",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &syncBuffer{}
			logger := slog.New(slog.NewJSONHandler(buf, nil))
			handler := LoggingMiddleware(logger)(tt.handler)

			req := httptest.NewRequest(tt.method, tt.path, nil)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.expectedStatus, rec.Code)
			assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))

			var entry map[string]any
			require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
			assert.Equal(t, "HTTP request", entry["msg"])
			assert.Equal(t, tt.expectedLevel, entry["level"])
			assert.Equal(t, tt.method, entry["method"])
			assert.Equal(t, tt.path, entry["path"])
			assert.InDelta(t, tt.expectedStatus, entry["status"], 0)
			assert.Equal(t, rec.Header().Get(RequestIDHeader), entry["request_id"])
			assert.InDelta(t, rec.Body.Len(), entry["bytes_written"], 0)
		})
	}
}

func TestLoggingMiddleware_RequestID(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(&syncBuffer{}, nil))

	var seen string
	handler := LoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestID(r.Context())
	}))

	t.Run("propagated from client", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/files", nil)
		req.Header.Set(RequestIDHeader, "req-42")
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, "req-42", seen)
		assert.Equal(t, "req-42", rec.Header().Get(RequestIDHeader))
	})

	t.Run("generated", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/files", nil))

		assert.NotEmpty(t, seen)
		assert.NotEqual(t, "req-42", seen)
	})
}

func TestLoggingMiddleware_SkipPaths(t *testing.T) {
	buf := &syncBuffer{}
	logger := slog.New(slog.NewJSONHandler(buf, nil))
	handler := LoggingMiddleware(logger, "/health", "/metrics")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for _, path := range []string{"/health", "/metrics"} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
	assert.Zero(t, buf.Len())

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/files", nil))
	assert.NotZero(t, buf.Len())
}

func TestLoggingMiddleware_NoSecretsLogged(t *testing.T) {
	buf := &syncBuffer{}
	logger := slog.New(slog.NewJSONHandler(buf, nil))
	handler := LoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodPost, "/sync", bytes.NewReader([]byte("secret-body")))
	req.Header.Set("Authorization", "Bearer secret-token")
	req.Header.Set(TokenHeader, "secret-token")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.NotContains(t, string(buf.Bytes()), "secret")
}
