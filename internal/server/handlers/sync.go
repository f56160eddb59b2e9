package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/iudanet/ledgersync/internal/server/metrics"
	"github.com/iudanet/ledgersync/internal/server/storage"
	"github.com/iudanet/ledgersync/pkg/api"
)

// DefaultMaxSyncBody предел размера тела запроса /sync
const DefaultMaxSyncBody = 20 << 20

// SyncHandler обрабатывает обмен сообщениями групп синхронизации.
// Сервер не расшифровывает сообщения: он хранит конверты и дерево
// меток для каждой группы.
type SyncHandler struct {
	logger   *slog.Logger
	files    storage.FileStorage
	messages storage.MessageStorage
	maxBody  int64
}

// NewSyncHandler creates a new sync handler
func NewSyncHandler(logger *slog.Logger, files storage.FileStorage, messages storage.MessageStorage, maxBody int64) *SyncHandler {
	if maxBody <= 0 {
		maxBody = DefaultMaxSyncBody
	}
	return &SyncHandler{
		logger:   logger,
		files:    files,
		messages: messages,
		maxBody:  maxBody,
	}
}

// Sync обрабатывает POST /sync (application/actual-sync)
func (h *SyncHandler) Sync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := GetUserID(ctx)
	if !ok {
		WriteError(w, h.logger, http.StatusUnauthorized, api.ReasonUnauthorized, "")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteError(w, h.logger, http.StatusRequestEntityTooLarge, api.ReasonInvalidRequest, "request body too large")
			return
		}
		h.logger.WarnContext(ctx, "failed to read sync request", slog.Any("error", err))
		WriteError(w, h.logger, http.StatusBadRequest, api.ReasonInvalidRequest, "")
		return
	}

	var req api.SyncRequest
	if err := req.Unmarshal(body); err != nil {
		h.logger.WarnContext(ctx, "failed to decode sync request", slog.Any("error", err))
		metrics.ReportRejected()
		WriteError(w, h.logger, http.StatusBadRequest, api.ReasonInvalidRequest, "malformed sync request")
		return
	}

	if req.Since == "" {
		metrics.ReportRejected()
		WriteError(w, h.logger, http.StatusUnprocessableEntity, api.ReasonSinceRequired, "")
		return
	}

	file, err := h.files.GetFile(ctx, userID, req.FileID)
	if err != nil {
		if errors.Is(err, storage.ErrFileNotFound) {
			metrics.ReportRejected()
			WriteError(w, h.logger, http.StatusBadRequest, api.ReasonFileNotFound, "")
			return
		}
		h.logger.ErrorContext(ctx, "failed to get file", slog.Any("error", err))
		metrics.ReportSync(metrics.ResultError, len(req.Messages), 0, 0)
		WriteError(w, h.logger, http.StatusInternalServerError, api.ReasonInternal, "")
		return
	}

	// клиент из старой группы: файл был сброшен, нужно скачать заново
	if req.GroupID != file.GroupID {
		metrics.ReportRejected()
		WriteError(w, h.logger, http.StatusBadRequest, api.ReasonFileHasReset, "")
		return
	}

	// сообщения зашифрованы не тем ключом, принимать их нельзя
	if req.KeyID != file.EncryptKeyID {
		metrics.ReportRejected()
		WriteError(w, h.logger, http.StatusBadRequest, api.ReasonFileHasNewKey, "")
		return
	}

	result, err := h.messages.SyncMessages(ctx, file.GroupID, req.Since, req.Messages)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidMessage) {
			metrics.ReportRejected()
			WriteError(w, h.logger, http.StatusBadRequest, api.ReasonInvalidRequest, err.Error())
			return
		}
		h.logger.ErrorContext(ctx, "failed to sync messages",
			slog.String("group_id", file.GroupID),
			slog.Any("error", err))
		metrics.ReportSync(metrics.ResultError, len(req.Messages), 0, 0)
		WriteError(w, h.logger, http.StatusInternalServerError, api.ReasonInternal, "")
		return
	}

	merkle, err := json.Marshal(result.Merkle)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to encode merkle", slog.Any("error", err))
		WriteError(w, h.logger, http.StatusInternalServerError, api.ReasonInternal, "")
		return
	}

	resp := api.SyncResponse{
		Merkle:   string(merkle),
		Messages: result.Messages,
	}

	metrics.ReportSync(metrics.ResultOK, len(req.Messages), result.Inserted, len(result.Messages))
	h.logger.DebugContext(ctx, "sync exchange",
		slog.String("file_id", file.ID),
		slog.String("group_id", file.GroupID),
		slog.Int("received", len(req.Messages)),
		slog.Int("inserted", result.Inserted),
		slog.Int("sent", len(result.Messages)))

	w.Header().Set("Content-Type", api.SyncContentType)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(resp.Marshal()); err != nil {
		h.logger.WarnContext(ctx, "failed to write sync response", slog.Any("error", err))
	}
}
