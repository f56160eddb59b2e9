package sync

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConfigured файл бюджета не привязан к relay-серверу
	ErrNotConfigured = errors.New("sync is not configured for this file")

	// ErrImportPrefs настройки нельзя менять в режиме импорта
	ErrImportPrefs = errors.New("cannot set prefs while importing")

	// ErrEngineClosed движок остановлен
	ErrEngineClosed = errors.New("sync engine closed")
)

// InvalidSchemaError применение пакета нарушило ограничения хранилища.
// Транзакция пакета откатывается целиком.
type InvalidSchemaError struct {
	Err error
}

func (e *InvalidSchemaError) Error() string {
	return fmt.Sprintf("invalid schema: %v", e.Err)
}

func (e *InvalidSchemaError) Unwrap() error { return e.Err }

// OutOfSyncError цикл синхронизации не сошелся за допустимое число попыток.
// Требуется ручное восстановление дерева (Repair).
type OutOfSyncError struct {
	Attempts   int
	DiffMillis int64
	SameDiff   bool
}

func (e *OutOfSyncError) Error() string {
	return fmt.Sprintf("out of sync after %d attempts (diff at %d, repeated: %t)",
		e.Attempts, e.DiffMillis, e.SameDiff)
}
