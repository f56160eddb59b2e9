package sync

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/iudanet/ledgersync/internal/client/storage"
	"github.com/iudanet/ledgersync/internal/crdt"
	"github.com/iudanet/ledgersync/internal/models"
	"github.com/iudanet/ledgersync/internal/mutation"
)

// ApplyMessages применяет пакет сообщений в очереди мутаций.
// Возвращает примененные сообщения: точные дубликаты отброшены,
// устаревшие записаны только в журнал и дерево.
func (e *Engine) ApplyMessages(ctx context.Context, msgs []models.Message) ([]models.Message, error) {
	if e.closed.Load() {
		return nil, ErrEngineClosed
	}
	return mutation.Run(ctx, e.serializer, func(ctx context.Context) ([]models.Message, error) {
		return e.applyMessages(ctx, msgs)
	})
}

// ReceiveMessages сливает метки сообщений с локальными часами и применяет их
func (e *Engine) ReceiveMessages(ctx context.Context, msgs []models.Message) ([]models.Message, error) {
	for _, m := range msgs {
		if _, err := e.clock.Recv(m.Timestamp); err != nil {
			return nil, err
		}
	}
	return e.ApplyMessages(mutation.WithContext(ctx, mutation.Context{Source: mutation.SourceSync}), msgs)
}

type rowKey struct {
	dataset models.Dataset
	row     string
}

func (e *Engine) applyMessages(ctx context.Context, msgs []models.Message) ([]models.Message, error) {
	// Начатая транзакция не отменяется вместе с вызывающим
	ctx = context.WithoutCancel(ctx)

	mode := e.Mode()
	if mode == ModeImport {
		return msgs, e.applyForImport(ctx, msgs)
	}

	tracked := mode.tracksHistory()

	var err error
	if tracked {
		msgs, err = e.compareMessages(ctx, msgs)
		if err != nil {
			return nil, err
		}
	} else {
		msgs = append([]models.Message(nil), msgs...)
	}

	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Less(msgs[j])
	})

	ids := models.IDs(msgs)
	before, err := e.fetchSnapshot(ctx, ids)
	if err != nil {
		return nil, err
	}

	// Дерево меняется только в копии; в памяти заменяется после фиксации
	merkle := e.Merkle()
	prefsToSet := make(map[string]models.Value)

	err = e.store.WithTransaction(ctx, func(tx storage.Tx) error {
		added := make(map[rowKey]struct{})

		for _, m := range msgs {
			if !m.Stale {
				if m.Dataset.IsPrefs() {
					prefsToSet[m.Row] = m.Value
				} else {
					key := rowKey{dataset: m.Dataset, row: m.Row}
					_, seen := added[key]
					if err := upsert(ctx, tx, m, before.Has(m.Dataset, m.Row) || seen); err != nil {
						return &InvalidSchemaError{Err: err}
					}
					added[key] = struct{}{}
				}
			}

			if tracked {
				inserted, err := tx.AppendMessage(ctx, m)
				if err != nil {
					return err
				}
				// Метка уже есть в журнале, значит и в дереве
				if inserted {
					merkle = crdt.Insert(merkle, m.Timestamp)
				}
			}
		}

		if tracked {
			merkle = crdt.Prune(merkle, e.cfg.PruneKeep)
			return tx.SaveClock(ctx, storage.ClockState{
				Timestamp: e.clock.Now(),
				Merkle:    merkle,
			})
		}
		return nil
	})
	if err != nil {
		var schemaErr *InvalidSchemaError
		if !errors.As(err, &schemaErr) {
			err = &InvalidSchemaError{Err: err}
		}
		e.logger.Error("Failed to apply messages", "count", len(msgs), "error", err)
		return nil, err
	}

	if tracked {
		e.merkle.Store(&merkle)
	}

	if len(prefsToSet) > 0 {
		if err := e.prefs.SetSyncedPrefs(ctx, prefsToSet); err != nil {
			e.logger.Error("Failed to save synced prefs", "error", err)
		}
	}

	after, err := e.fetchSnapshot(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to read applied rows: %w", err)
	}

	applied := make([]models.Message, 0, len(msgs))
	for _, m := range msgs {
		if !m.Stale {
			applied = append(applied, m)
		}
	}

	change := Change{
		Before:   before,
		After:    after,
		Mutation: mutation.ContextFrom(ctx),
		Tables:   models.TablesFromMessages(msgs),
		Messages: applied,
	}
	e.notifyApplied(ctx, change)
	e.emit(Event{
		Type:   EventApplied,
		Tables: change.Tables,
		Before: before,
		After:  after,
	})

	e.logger.Debug("Messages applied",
		"total", len(msgs),
		"applied", len(applied),
		"merkle_hash", merkle.Hash)

	return applied, nil
}

// compareMessages сверяет пакет с журналом. Сообщение без более новой
// записи по тому же полю новое; с той же меткой отбрасывается; иначе
// помечается как устаревшее и попадает только в журнал и дерево.
func (e *Engine) compareMessages(ctx context.Context, msgs []models.Message) ([]models.Message, error) {
	result := make([]models.Message, 0, len(msgs))
	seen := make(map[crdt.Timestamp]struct{}, len(msgs))

	for _, m := range msgs {
		if _, dup := seen[m.Timestamp]; dup {
			continue
		}
		seen[m.Timestamp] = struct{}{}

		newest, found, err := e.store.NewestTimestamp(ctx, m.Field(), m.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("failed to compare message %s: %w", m.Timestamp, err)
		}

		switch {
		case !found:
			m.Stale = false
			result = append(result, m)
		case newest == m.Timestamp:
			// уже применено
		default:
			m.Stale = true
			result = append(result, m)
		}
	}

	return result, nil
}

// fetchSnapshot читает затронутые строки пакетами по FetchChunk
func (e *Engine) fetchSnapshot(ctx context.Context, ids map[models.Dataset][]string) (models.Snapshot, error) {
	snapshot := make(models.Snapshot)
	chunk := e.cfg.FetchChunk
	if chunk <= 0 {
		chunk = DefaultConfig().FetchChunk
	}

	for dataset, rowIDs := range ids {
		for start := 0; start < len(rowIDs); start += chunk {
			end := min(start+chunk, len(rowIDs))

			rows, err := e.store.FetchRows(ctx, dataset, rowIDs[start:end])
			if err != nil {
				return nil, &InvalidSchemaError{Err: err}
			}
			for id, row := range rows {
				snapshot.Set(dataset, id, row)
			}
		}
	}

	return snapshot, nil
}

// upsert записывает значение поля: UPDATE для существующей строки,
// INSERT для новой
func upsert(ctx context.Context, tx storage.Tx, m models.Message, exists bool) error {
	if exists {
		return tx.UpdateRow(ctx, m.Dataset, m.Row, m.Column, m.Value)
	}
	return tx.InsertRow(ctx, m.Dataset, m.Row, models.Row{m.Column: m.Value})
}

// applyForImport быстрый путь режима импорта: без журнала, дерева и
// подписчиков. Настройки в этом режиме запрещены.
func (e *Engine) applyForImport(ctx context.Context, msgs []models.Message) error {
	for _, m := range msgs {
		if m.Dataset.IsPrefs() {
			return ErrImportPrefs
		}
	}

	existing, err := e.fetchSnapshot(ctx, models.IDs(msgs))
	if err != nil {
		return err
	}

	err = e.store.WithTransaction(ctx, func(tx storage.Tx) error {
		added := make(map[rowKey]struct{})
		for _, m := range msgs {
			key := rowKey{dataset: m.Dataset, row: m.Row}
			_, seen := added[key]
			if err := upsert(ctx, tx, m, existing.Has(m.Dataset, m.Row) || seen); err != nil {
				return &InvalidSchemaError{Err: err}
			}
			added[key] = struct{}{}
		}
		return nil
	})
	if err != nil {
		e.logger.Error("Failed to import messages", "count", len(msgs), "error", err)
		return err
	}

	e.logger.Debug("Messages imported", "count", len(msgs))
	return nil
}
