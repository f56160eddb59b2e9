package storage

import (
	"context"

	"github.com/iudanet/ledgersync/internal/crdt"
	"github.com/iudanet/ledgersync/internal/models"
)

//go:generate moq -out store_mock.go . Store Tx

// ClockState сохраненное состояние часов и дерева сообщений.
// Записывается в той же транзакции, что и сами сообщения.
type ClockState struct {
	Timestamp crdt.Timestamp `json:"timestamp"`
	Merkle    crdt.Trie      `json:"merkle"`
}

// Store локальное хранилище бюджета: таблицы данных, журнал сообщений
// (messages_crdt) и состояние часов (messages_clock).
type Store interface {
	// FetchRows возвращает текущие строки набора данных по идентификаторам.
	// Отсутствующие строки в результат не попадают.
	FetchRows(ctx context.Context, dataset models.Dataset, ids []string) (map[string]models.Row, error)

	// NewestTimestamp возвращает самую новую метку журнала для поля,
	// не меньшую since. ok=false, если такой записи нет.
	NewestTimestamp(ctx context.Context, field models.FieldKey, since crdt.Timestamp) (ts crdt.Timestamp, ok bool, err error)

	// MessagesSince возвращает сообщения журнала с меткой строго больше since
	// в порядке возрастания меток
	MessagesSince(ctx context.Context, since crdt.Timestamp) ([]models.Message, error)

	// AllTimestamps возвращает все метки журнала
	AllTimestamps(ctx context.Context) ([]crdt.Timestamp, error)

	// LoadClock возвращает сохраненное состояние часов.
	// Возвращает ErrClockNotFound, если состояние еще не сохранялось.
	LoadClock(ctx context.Context) (*ClockState, error)

	// WithTransaction выполняет fn в одной транзакции.
	// Ошибка fn откатывает все изменения.
	WithTransaction(ctx context.Context, fn func(tx Tx) error) error

	Close() error
}

// Tx операции записи внутри транзакции
type Tx interface {
	// InsertRow создает строку с указанными полями
	InsertRow(ctx context.Context, dataset models.Dataset, id string, fields models.Row) error

	// UpdateRow изменяет одно поле существующей строки
	UpdateRow(ctx context.Context, dataset models.Dataset, id, column string, value models.Value) error

	// AppendMessage добавляет сообщение в журнал. inserted=false, если
	// сообщение с такой меткой уже есть.
	AppendMessage(ctx context.Context, msg models.Message) (inserted bool, err error)

	// SaveClock сохраняет состояние часов и дерева
	SaveClock(ctx context.Context, state ClockState) error
}
