package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/iudanet/ledgersync/pkg/api"
)

// maxJSONBody предел размера JSON запроса
const maxJSONBody = 1 << 20

// WriteJSON отправляет JSON ответ
func WriteJSON(w http.ResponseWriter, logger *slog.Logger, data any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("failed to encode JSON response", slog.Any("error", err))
	}
}

// WriteError отправляет ошибку в формате {status, reason, details}.
// По reason клиент решает, что делать дальше.
func WriteError(w http.ResponseWriter, logger *slog.Logger, statusCode int, reason, details string) {
	WriteJSON(w, logger, api.ErrorResponse{
		Status:  api.StatusError,
		Reason:  reason,
		Details: details,
	}, statusCode)
}

// writeOK отправляет пустой успешный ответ
func writeOK(w http.ResponseWriter, logger *slog.Logger) {
	WriteJSON(w, logger, api.OKResponse{Status: api.StatusOK}, http.StatusOK)
}

// decodeJSON читает тело запроса с ограничением размера
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(dst)
}
