package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/iudanet/ledgersync/internal/server/handlers"
	"github.com/iudanet/ledgersync/pkg/api"
)

// RecoveryMiddleware перехватывает panic, логирует стек и отвечает 500 с reason internal
func RecoveryMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					// http.ErrAbortHandler штатно прерывает ответ
					if err == http.ErrAbortHandler {
						panic(err)
					}

					logger.Error("Panic recovered",
						"error", err,
						"method", r.Method,
						"path", r.URL.Path,
						"remote_addr", r.RemoteAddr,
						"stack", string(debug.Stack()),
					)

					// детали клиенту не раскрываются
					handlers.WriteError(w, logger, http.StatusInternalServerError, api.ReasonInternal, "")
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
