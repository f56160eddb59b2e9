package storage

import (
	"context"

	"github.com/iudanet/ledgersync/internal/models"
)

//go:generate moq -out prefs_mock.go . Preferences

// Checkpoint параметры синхронизации файла бюджета
type Checkpoint struct {
	FileID  string `json:"fileId"`
	GroupID string `json:"groupId"`
	KeyID   string `json:"keyId,omitempty"`
	// LastSyncedTimestamp метка последней успешной синхронизации (строка
	// в формате crdt.Timestamp). Пустая строка - синхронизации еще не было.
	LastSyncedTimestamp string `json:"lastSyncedTimestamp,omitempty"`
	// NodeID идентификатор узла этого клиента
	NodeID string `json:"nodeId,omitempty"`
}

// Preferences хранит метаданные файла бюджета вне основной базы:
// чекпойнт синхронизации, синхронизируемые настройки и режим только чтения.
type Preferences interface {
	// GetCheckpoint возвращает текущий чекпойнт.
	// Возвращает ErrCheckpointNotFound, если файл еще не настроен.
	GetCheckpoint(ctx context.Context) (*Checkpoint, error)

	// SaveCheckpoint сохраняет чекпойнт целиком
	SaveCheckpoint(ctx context.Context, cp *Checkpoint) error

	// SetSyncedPrefs сохраняет настройки, пришедшие сообщениями набора prefs
	SetSyncedPrefs(ctx context.Context, prefs map[string]models.Value) error

	// GetSyncedPrefs возвращает все синхронизируемые настройки
	GetSyncedPrefs(ctx context.Context) (map[string]models.Value, error)

	// SetReadOnly включает или выключает режим только чтения
	SetReadOnly(ctx context.Context, readOnly bool) error

	// IsReadOnly сообщает, включен ли режим только чтения
	IsReadOnly(ctx context.Context) (bool, error)
}
