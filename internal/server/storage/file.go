package storage

import (
	"context"

	"github.com/iudanet/ledgersync/internal/models"
)

// KeyParams параметры ключа шифрования файла
type KeyParams struct {
	KeyID string
	Salt  string
	Test  string
}

// FileStorage хранилище файлов бюджета.
// Все методы видят только файлы указанного пользователя.
type FileStorage interface {
	// CreateFile регистрирует новый файл
	CreateFile(ctx context.Context, file *models.File) error

	// GetFile returns ErrFileNotFound if file doesn't exist or belongs to another user
	GetFile(ctx context.Context, userID, fileID string) (*models.File, error)

	// ListFiles возвращает файлы пользователя по времени создания
	ListFiles(ctx context.Context, userID string) ([]*models.File, error)

	// UpdateFileKey сохраняет параметры нового ключа шифрования
	UpdateFileKey(ctx context.Context, userID, fileID string, key KeyParams) error

	// ResetFileGroup назначает файлу новую группу синхронизации и
	// удаляет сообщения и дерево старой группы
	ResetFileGroup(ctx context.Context, userID, fileID, groupID string) error
}
