package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/iudanet/ledgersync/internal/models"
	"github.com/iudanet/ledgersync/internal/server/storage"
	"github.com/iudanet/ledgersync/pkg/api"
)

// FileHandler управляет файлами бюджета и их ключами шифрования
type FileHandler struct {
	logger *slog.Logger
	files  storage.FileStorage
	clock  clockwork.Clock
}

// NewFileHandler создает новый handler файлов
func NewFileHandler(logger *slog.Logger, files storage.FileStorage) *FileHandler {
	return &FileHandler{
		logger: logger,
		files:  files,
		clock:  clockwork.NewRealClock(),
	}
}

// Create обрабатывает POST /files: регистрирует файл с новой группой
func (h *FileHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := GetUserID(ctx)
	if !ok {
		WriteError(w, h.logger, http.StatusUnauthorized, api.ReasonUnauthorized, "")
		return
	}

	var req api.CreateFileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteError(w, h.logger, http.StatusBadRequest, api.ReasonInvalidRequest, "invalid request body")
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		WriteError(w, h.logger, http.StatusBadRequest, api.ReasonInvalidRequest, "name is required")
		return
	}

	now := h.clock.Now()
	file := &models.File{
		ID:        uuid.NewString(),
		UserID:    userID,
		Name:      name,
		GroupID:   uuid.NewString(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.files.CreateFile(ctx, file); err != nil {
		h.logger.ErrorContext(ctx, "failed to create file", slog.Any("error", err))
		WriteError(w, h.logger, http.StatusInternalServerError, api.ReasonInternal, "")
		return
	}

	h.logger.InfoContext(ctx, "file created",
		slog.String("user_id", userID),
		slog.String("file_id", file.ID))

	WriteJSON(w, h.logger, api.FileResponse{Status: api.StatusOK, Data: fileInfo(file)}, http.StatusCreated)
}

// List обрабатывает GET /files
func (h *FileHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := GetUserID(ctx)
	if !ok {
		WriteError(w, h.logger, http.StatusUnauthorized, api.ReasonUnauthorized, "")
		return
	}

	files, err := h.files.ListFiles(ctx, userID)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to list files", slog.Any("error", err))
		WriteError(w, h.logger, http.StatusInternalServerError, api.ReasonInternal, "")
		return
	}

	data := make([]api.FileInfo, 0, len(files))
	for _, f := range files {
		data = append(data, fileInfo(f))
	}
	WriteJSON(w, h.logger, api.FileListResponse{Status: api.StatusOK, Data: data}, http.StatusOK)
}

// GetKey обрабатывает POST /user-get-key: параметры ключа файла
func (h *FileHandler) GetKey(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, req, ok := h.fileRequest(w, r)
	if !ok {
		return
	}

	file, err := h.files.GetFile(ctx, userID, req.FileID)
	if err != nil {
		h.fileError(w, r, err)
		return
	}

	WriteJSON(w, h.logger, api.KeyResponse{
		Status: api.StatusOK,
		Data: api.KeyInfo{
			ID:   file.EncryptKeyID,
			Salt: file.EncryptSalt,
			Test: file.EncryptTest,
		},
	}, http.StatusOK)
}

// CreateKey обрабатывает POST /user-create-key: регистрирует новый ключ.
// Клиенты со старым ключом после этого получают file-has-new-key.
func (h *FileHandler) CreateKey(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := GetUserID(ctx)
	if !ok {
		WriteError(w, h.logger, http.StatusUnauthorized, api.ReasonUnauthorized, "")
		return
	}

	var req api.CreateKeyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteError(w, h.logger, http.StatusBadRequest, api.ReasonInvalidRequest, "invalid request body")
		return
	}
	if req.FileID == "" || req.KeyID == "" || req.KeySalt == "" || req.TestContent == "" {
		WriteError(w, h.logger, http.StatusBadRequest, api.ReasonInvalidRequest, "fileId, keyId, keySalt and testContent are required")
		return
	}

	err := h.files.UpdateFileKey(ctx, userID, req.FileID, storage.KeyParams{
		KeyID: req.KeyID,
		Salt:  req.KeySalt,
		Test:  req.TestContent,
	})
	if err != nil {
		h.fileError(w, r, err)
		return
	}

	h.logger.InfoContext(ctx, "file key changed",
		slog.String("file_id", req.FileID),
		slog.String("key_id", req.KeyID))
	writeOK(w, h.logger)
}

// Reset обрабатывает POST /reset-user-file: файл получает новую группу,
// история старой группы удаляется
func (h *FileHandler) Reset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, req, ok := h.fileRequest(w, r)
	if !ok {
		return
	}

	groupID := uuid.NewString()
	if err := h.files.ResetFileGroup(ctx, userID, req.FileID, groupID); err != nil {
		h.fileError(w, r, err)
		return
	}

	h.logger.InfoContext(ctx, "file sync reset",
		slog.String("file_id", req.FileID),
		slog.String("group_id", groupID))
	WriteJSON(w, h.logger, api.ResetFileResponse{Status: api.StatusOK, GroupID: groupID}, http.StatusOK)
}

// fileRequest разбирает запрос вида {fileId}
func (h *FileHandler) fileRequest(w http.ResponseWriter, r *http.Request) (string, api.FileRequest, bool) {
	var req api.FileRequest

	userID, ok := GetUserID(r.Context())
	if !ok {
		WriteError(w, h.logger, http.StatusUnauthorized, api.ReasonUnauthorized, "")
		return "", req, false
	}

	if err := decodeJSON(w, r, &req); err != nil || req.FileID == "" {
		WriteError(w, h.logger, http.StatusBadRequest, api.ReasonInvalidRequest, "fileId is required")
		return "", req, false
	}
	return userID, req, true
}

func (h *FileHandler) fileError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, storage.ErrFileNotFound) {
		WriteError(w, h.logger, http.StatusBadRequest, api.ReasonFileNotFound, "")
		return
	}
	h.logger.ErrorContext(r.Context(), "file operation failed", slog.Any("error", err))
	WriteError(w, h.logger, http.StatusInternalServerError, api.ReasonInternal, "")
}

func fileInfo(f *models.File) api.FileInfo {
	return api.FileInfo{
		FileID:       f.ID,
		GroupID:      f.GroupID,
		Name:         f.Name,
		EncryptKeyID: f.EncryptKeyID,
	}
}
