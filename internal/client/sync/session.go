package sync

import (
	"context"
	"errors"
	"fmt"

	"github.com/iudanet/ledgersync/internal/client/storage"
	"github.com/iudanet/ledgersync/internal/codec"
	"github.com/iudanet/ledgersync/internal/crdt"
	"github.com/iudanet/ledgersync/internal/models"
)

// SyncResult итог полной синхронизации
type SyncResult struct {
	// Messages примененные сообщения, полученные от сервера
	Messages []models.Message
	// Tables затронутые таблицы
	Tables []string
	// Rounds число обменов с сервером
	Rounds int
}

// FullSync выполняет обмен с сервером до совпадения деревьев.
// Одновременные вызовы разделяют одну сессию.
func (e *Engine) FullSync(ctx context.Context) (*SyncResult, error) {
	if e.closed.Load() {
		return nil, ErrEngineClosed
	}

	v, err, _ := e.group.Do("full-sync", func() (any, error) {
		return e.fullSync(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*SyncResult), nil
}

func (e *Engine) fullSync(ctx context.Context) (*SyncResult, error) {
	e.emit(Event{Type: EventStart})

	result, err := e.syncLoop(ctx)
	if err != nil {
		e.setState(StateFailed)
		e.reportError(ctx, err)
		return nil, err
	}

	result.Tables = models.TablesFromMessages(result.Messages)
	e.emit(Event{
		Type:         EventSuccess,
		Tables:       result.Tables,
		SyncDisabled: e.Mode() == ModeDisabled,
	})
	return result, nil
}

// syncLoop цикл обмена: since, count и prevDiff переносятся между попытками
func (e *Engine) syncLoop(ctx context.Context) (*SyncResult, error) {
	result := &SyncResult{}

	var (
		override *crdt.Timestamp
		count    int
		prevDiff int64
		hasPrev  bool
	)

	for {
		e.CancelScheduledSync()

		if !e.Mode().reachesRelay() {
			e.setState(StateIdle)
			return result, nil
		}

		cp, err := e.prefs.GetCheckpoint(ctx)
		if err != nil {
			if errors.Is(err, storage.ErrCheckpointNotFound) {
				return nil, ErrNotConfigured
			}
			return nil, fmt.Errorf("failed to read checkpoint: %w", err)
		}

		// Точка, с которой синхронизируемся в этом раунде
		startClock := e.clock.Now()

		since, err := e.sinceFor(override, cp)
		if err != nil {
			return nil, err
		}

		e.setState(StateSending)
		local, err := e.store.MessagesSince(ctx, since)
		if err != nil {
			return nil, fmt.Errorf("failed to read local messages: %w", err)
		}

		e.logger.Info("Syncing since",
			"since", since.String(),
			"count", len(local),
			"attempt", count,
			"group_id", cp.GroupID)

		body, err := e.codec.Encode(codec.EncodeParams{
			Since:   since,
			GroupID: cp.GroupID,
			FileID:  cp.FileID,
			KeyID:   cp.KeyID,
		}, local)
		if err != nil {
			return nil, err
		}

		e.setState(StateAwaitingResponse)
		respBody, err := e.transport.PostBinary(ctx, SyncPath, body)
		if err != nil {
			return nil, err
		}
		result.Rounds++

		// Файл сброшен или переключен во время запроса
		current, err := e.prefs.GetCheckpoint(ctx)
		if err != nil || current.GroupID != cp.GroupID {
			e.logger.Info("Sync group changed during sync, aborting", "group_id", cp.GroupID)
			e.setState(StateIdle)
			return result, nil
		}

		resp, err := e.codec.Decode(cp.KeyID, respBody)
		if err != nil {
			return nil, err
		}

		e.logger.Info("Got messages from server", "count", len(resp.Messages))

		localTimeChanged := e.clock.Now() != startClock

		e.setState(StateApplying)
		if len(resp.Messages) > 0 {
			received, err := e.ReceiveMessages(ctx, resp.Messages)
			if err != nil {
				return nil, err
			}
			result.Messages = append(result.Messages, received...)
		}

		e.setState(StateDiffing)
		diff, differs := crdt.Diff(resp.Merkle, e.Merkle())
		if !differs {
			cp.LastSyncedTimestamp = e.clock.Now().String()
			if err := e.prefs.SaveCheckpoint(ctx, cp); err != nil {
				return nil, fmt.Errorf("failed to save checkpoint: %w", err)
			}
			e.setState(StateConverged)
			e.logger.Info("Sync converged",
				"rounds", result.Rounds,
				"received", len(result.Messages),
				"merkle_hash", resp.Merkle.Hash)
			return result, nil
		}

		sameDiff := hasPrev && diff == prevDiff
		if (count >= e.cfg.SameDiffLimit && sameDiff) || count >= e.cfg.MaxAttempts {
			e.logOutOfSync(ctx, count, diff, sameDiff, len(local), len(resp.Messages), resp.Merkle, localTimeChanged)
			return nil, &OutOfSyncError{Attempts: count, DiffMillis: diff, SameDiff: sameDiff}
		}

		e.setState(StateRetrying)

		next := crdt.Since(diff)
		override = &next
		// Локальные правки во время раунда не считаются неудачной попыткой
		if localTimeChanged {
			count = 0
		} else {
			count++
		}
		prevDiff, hasPrev = diff, true
	}
}

func (e *Engine) sinceFor(override *crdt.Timestamp, cp *storage.Checkpoint) (crdt.Timestamp, error) {
	if override != nil {
		return *override, nil
	}
	if cp.LastSyncedTimestamp != "" {
		ts, err := crdt.ParseTimestamp(cp.LastSyncedTimestamp)
		if err != nil {
			return crdt.Timestamp{}, fmt.Errorf("invalid last synced timestamp: %w", err)
		}
		return ts, nil
	}
	return crdt.Since(e.wall.Now().Add(-e.cfg.Lookback).UnixMilli()), nil
}

// logOutOfSync пишет диагностику перед отказом: сравнение хеша
// пересобранного из журнала дерева с хешем сервера
func (e *Engine) logOutOfSync(
	ctx context.Context,
	count int,
	diff int64,
	sameDiff bool,
	sent, received int,
	server crdt.Trie,
	localTimeChanged bool,
) {
	attrs := []any{
		"attempt", count,
		"sent", sent,
		"received", received,
		"node", e.clock.Node(),
		"diff", diff,
		"same_diff", sameDiff,
		"local_clock", e.clock.Now().String(),
		"local_hash", e.Merkle().Hash,
		"server_hash", server.Hash,
		"local_time_changed", localTimeChanged,
	}

	rebuilt, n, err := e.RebuildMerkle(ctx)
	if err != nil {
		attrs = append(attrs, "rebuild_error", err)
	} else {
		attrs = append(attrs, "rebuilt_messages", n, "rebuilt_hash", rebuilt.Hash)
		if rebuilt.Hash == server.Hash {
			attrs = append(attrs, "rebuilt_matches_server", true)
		}
	}

	e.logger.Error("Sync did not converge", attrs...)
}
