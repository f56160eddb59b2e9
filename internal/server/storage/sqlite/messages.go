package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/iudanet/ledgersync/internal/crdt"
	"github.com/iudanet/ledgersync/internal/server/storage"
	"github.com/iudanet/ledgersync/pkg/api"
)

// querier общий интерфейс *sql.DB и *sql.Tx для чтения
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SyncMessages выполняет обмен сообщениями с группой в одной транзакции
func (s *Storage) SyncMessages(ctx context.Context, groupID, since string, incoming []api.MessageEnvelope) (*storage.SyncResult, error) {
	// метки разбираются до транзакции: битое сообщение отклоняет весь запрос
	stamps := make([]crdt.Timestamp, len(incoming))
	for i, env := range incoming {
		ts, err := crdt.ParseTimestamp(env.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", storage.ErrInvalidMessage, err)
		}
		stamps[i] = ts
	}

	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// новые для клиента сообщения выбираются до вставки его собственных
	newMessages, err := messagesSince(ctx, tx, groupID, since)
	if err != nil {
		return nil, err
	}

	trie, err := s.loadMerkle(ctx, tx, groupID)
	if err != nil {
		return nil, err
	}

	insert, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO messages_binary (group_id, timestamp, is_encrypted, content)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer func() {
		_ = insert.Close()
	}()

	inserted := 0
	for i, env := range incoming {
		result, err := insert.ExecContext(ctx, groupID, env.Timestamp, env.IsEncrypted, env.Content)
		if err != nil {
			return nil, fmt.Errorf("failed to insert message: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("failed to get rows affected: %w", err)
		}
		// дерево меняется только для действительно новых меток
		if n == 1 {
			trie = crdt.Insert(trie, stamps[i])
			inserted++
		}
	}

	if inserted > 0 {
		trie = crdt.Prune(trie, crdt.DefaultPruneKeep)
		data, err := json.Marshal(trie)
		if err != nil {
			return nil, fmt.Errorf("failed to encode merkle: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO messages_merkles (group_id, merkle) VALUES (?, ?)`,
			groupID, string(data),
		); err != nil {
			return nil, fmt.Errorf("failed to save merkle: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.merkles.Add(groupID, trie)

	return &storage.SyncResult{
		Messages: newMessages,
		Merkle:   trie,
		Inserted: inserted,
	}, nil
}

// GroupMerkle возвращает текущее дерево группы
func (s *Storage) GroupMerkle(ctx context.Context, groupID string) (crdt.Trie, error) {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	trie, err := s.loadMerkle(ctx, s.db, groupID)
	if err != nil {
		return crdt.Trie{}, err
	}
	s.merkles.Add(groupID, trie)
	return trie, nil
}

// loadMerkle читает дерево группы из кеша или базы.
// Вызывается под syncMu.
func (s *Storage) loadMerkle(ctx context.Context, q querier, groupID string) (crdt.Trie, error) {
	if trie, ok := s.merkles.Get(groupID); ok {
		return trie, nil
	}

	var raw string
	err := q.QueryRowContext(ctx, `SELECT merkle FROM messages_merkles WHERE group_id = ?`, groupID).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return crdt.EmptyTrie(), nil
		}
		return crdt.Trie{}, fmt.Errorf("failed to load merkle: %w", err)
	}

	var trie crdt.Trie
	if err := json.Unmarshal([]byte(raw), &trie); err != nil {
		return crdt.Trie{}, fmt.Errorf("failed to decode merkle: %w", err)
	}
	return trie, nil
}

func messagesSince(ctx context.Context, tx *sql.Tx, groupID, since string) ([]api.MessageEnvelope, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT timestamp, is_encrypted, content
		FROM messages_binary
		WHERE group_id = ? AND timestamp > ?
		ORDER BY timestamp
	`, groupID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var msgs []api.MessageEnvelope
	for rows.Next() {
		var env api.MessageEnvelope
		if err := rows.Scan(&env.Timestamp, &env.IsEncrypted, &env.Content); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msgs = append(msgs, env)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return msgs, nil
}
