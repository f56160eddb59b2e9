package middleware

import (
	"log/slog"
	"net/http"

	"github.com/iudanet/ledgersync/internal/server/handlers"
	"github.com/iudanet/ledgersync/internal/server/jwt"
	"github.com/iudanet/ledgersync/pkg/api"
)

// TokenHeader заголовок с токеном сессии, который отправляют клиенты синхронизации
const TokenHeader = "X-ACTUAL-TOKEN"

// AuthMiddleware проверяет access token.
// Токен берется из X-ACTUAL-TOKEN, а если его нет, из Authorization: Bearer.
func AuthMiddleware(logger *slog.Logger, tokens *jwt.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := r.Header.Get(TokenHeader)
			if token == "" {
				var ok bool
				if token, ok = handlers.BearerToken(r); !ok {
					logger.Warn("Missing access token", "path", r.URL.Path)
					handlers.WriteError(w, logger, http.StatusUnauthorized, api.ReasonUnauthorized, "missing token")
					return
				}
			}

			claims, err := tokens.ValidateAccessToken(token)
			if err != nil {
				logger.Warn("Invalid access token", "error", err)
				handlers.WriteError(w, logger, http.StatusUnauthorized, api.ReasonUnauthorized, "invalid token")
				return
			}

			logger.Debug("User authenticated", "user_id", claims.UserID)

			ctx := handlers.WithUser(r.Context(), claims.UserID, claims.Username)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
