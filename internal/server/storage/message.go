package storage

import (
	"context"

	"github.com/iudanet/ledgersync/internal/crdt"
	"github.com/iudanet/ledgersync/pkg/api"
)

// SyncResult результат обмена сообщениями с группой
type SyncResult struct {
	// Messages сообщения группы новее since, без только что принятых
	Messages []api.MessageEnvelope
	// Merkle дерево группы после добавления новых сообщений
	Merkle crdt.Trie
	// Inserted число действительно новых сообщений
	Inserted int
}

// MessageStorage журнал непрозрачных сообщений групп синхронизации
type MessageStorage interface {
	// SyncMessages выбирает сообщения группы с меткой больше since,
	// затем добавляет incoming (дубликаты по метке игнорируются)
	// и обновляет дерево группы. Выполняется атомарно.
	// Returns ErrInvalidMessage if incoming timestamp can't be parsed
	SyncMessages(ctx context.Context, groupID string, since string, incoming []api.MessageEnvelope) (*SyncResult, error)

	// GroupMerkle возвращает текущее дерево группы
	GroupMerkle(ctx context.Context, groupID string) (crdt.Trie, error)
}
