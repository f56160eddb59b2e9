package sync

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/iudanet/ledgersync/internal/client/storage"
	"github.com/iudanet/ledgersync/internal/crdt"
	"github.com/iudanet/ledgersync/internal/mutation"
)

// RepairResult итог пересборки дерева
type RepairResult struct {
	// Messages число сообщений журнала
	Messages int
	// OldHash хеш дерева до пересборки
	OldHash uint32
	// NewHash хеш пересобранного дерева
	NewHash uint32
}

// Changed сообщает, отличалось ли сохраненное дерево от журнала
func (r RepairResult) Changed() bool {
	return r.OldHash != r.NewHash
}

// RebuildMerkle строит дерево по всем меткам журнала, не меняя состояние
func (e *Engine) RebuildMerkle(ctx context.Context) (crdt.Trie, int, error) {
	timestamps, err := e.store.AllTimestamps(ctx)
	if err != nil {
		return crdt.Trie{}, 0, fmt.Errorf("failed to read message log: %w", err)
	}
	return crdt.Prune(crdt.Build(timestamps), e.cfg.PruneKeep), len(timestamps), nil
}

// Repair пересобирает дерево из журнала и сохраняет его вместе с часами.
// Повторный вызов ничего не меняет.
func (e *Engine) Repair(ctx context.Context) (*RepairResult, error) {
	if e.closed.Load() {
		return nil, ErrEngineClosed
	}

	ctx = mutation.WithContext(ctx, mutation.Context{Source: mutation.SourceRepair})
	return mutation.Run(ctx, e.serializer, func(ctx context.Context) (*RepairResult, error) {
		old := e.Merkle()

		rebuilt, n, err := e.RebuildMerkle(ctx)
		if err != nil {
			return nil, err
		}

		err = e.store.WithTransaction(context.WithoutCancel(ctx), func(tx storage.Tx) error {
			return tx.SaveClock(ctx, storage.ClockState{
				Timestamp: e.clock.Now(),
				Merkle:    rebuilt,
			})
		})
		if err != nil {
			return nil, fmt.Errorf("failed to save rebuilt merkle: %w", err)
		}
		e.merkle.Store(&rebuilt)

		result := &RepairResult{Messages: n, OldHash: old.Hash, NewHash: rebuilt.Hash}
		e.logger.Info("Merkle rebuilt",
			"messages", n,
			"old_hash", old.Hash,
			"new_hash", rebuilt.Hash,
			"changed", result.Changed())
		return result, nil
	})
}

// ResetGroup привязывает файл к новой группе синхронизации после сброса
// файла на сервере. Клиент получает новый идентификатор узла, чтобы его
// метки не пересекались с метками до сброса.
func (e *Engine) ResetGroup(ctx context.Context, groupID string) error {
	e.CancelScheduledSync()

	cp, err := e.prefs.GetCheckpoint(ctx)
	if err != nil {
		return fmt.Errorf("failed to read checkpoint: %w", err)
	}

	if groupID == "" {
		groupID = uuid.NewString()
	}

	node := crdt.MakeClientID()
	cp.GroupID = groupID
	cp.LastSyncedTimestamp = ""
	cp.NodeID = node

	if err := e.prefs.SaveCheckpoint(ctx, cp); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	e.clock.SetNode(node)

	e.logger.Info("Sync group reset", "group_id", groupID, "node", node)
	return nil
}
