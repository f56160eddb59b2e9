package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/iudanet/ledgersync/internal/client/storage"
	"github.com/iudanet/ledgersync/internal/crdt"
	"github.com/iudanet/ledgersync/internal/models"
)

const clockRowID = 1

// NewestTimestamp returns the newest log timestamp for a field that is >= since
func (s *Storage) NewestTimestamp(ctx context.Context, field models.FieldKey, since crdt.Timestamp) (crdt.Timestamp, bool, error) {
	query := `
		SELECT timestamp FROM messages_crdt
		WHERE dataset = ? AND "row" = ? AND "column" = ? AND timestamp >= ?
		ORDER BY timestamp DESC
		LIMIT 1
	`

	var raw string
	err := s.db.QueryRowContext(ctx, query, string(field.Dataset), field.Row, field.Column, since.String()).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return crdt.Timestamp{}, false, nil
		}
		return crdt.Timestamp{}, false, fmt.Errorf("failed to query newest timestamp: %w", err)
	}

	ts, err := crdt.ParseTimestamp(raw)
	if err != nil {
		return crdt.Timestamp{}, false, fmt.Errorf("corrupted timestamp in log: %w", err)
	}
	return ts, true, nil
}

// MessagesSince returns log messages with timestamp strictly greater than since
func (s *Storage) MessagesSince(ctx context.Context, since crdt.Timestamp) ([]models.Message, error) {
	query := `
		SELECT timestamp, dataset, "row", "column", value
		FROM messages_crdt
		WHERE timestamp > ?
		ORDER BY timestamp
	`

	rows, err := s.db.QueryContext(ctx, query, since.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var msgs []models.Message
	for rows.Next() {
		var rawTS, dataset, row, column, rawValue string
		if err := rows.Scan(&rawTS, &dataset, &row, &column, &rawValue); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}

		ts, err := crdt.ParseTimestamp(rawTS)
		if err != nil {
			return nil, fmt.Errorf("corrupted timestamp in log: %w", err)
		}
		ds, err := models.ParseDataset(dataset)
		if err != nil {
			return nil, fmt.Errorf("corrupted message %s: %w", rawTS, err)
		}
		value, err := models.DeserializeValue(rawValue)
		if err != nil {
			return nil, fmt.Errorf("corrupted message %s: %w", rawTS, err)
		}

		msgs = append(msgs, models.NewMessage(ds, row, column, value, ts))
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return msgs, nil
}

// AllTimestamps returns all log timestamps in ascending order
func (s *Storage) AllTimestamps(ctx context.Context) ([]crdt.Timestamp, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT timestamp FROM messages_crdt ORDER BY timestamp`)
	if err != nil {
		return nil, fmt.Errorf("failed to query timestamps: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []crdt.Timestamp
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan timestamp: %w", err)
		}
		ts, err := crdt.ParseTimestamp(raw)
		if err != nil {
			return nil, fmt.Errorf("corrupted timestamp in log: %w", err)
		}
		result = append(result, ts)
	}

	return result, rows.Err()
}

// LoadClock returns the persisted clock state
func (s *Storage) LoadClock(ctx context.Context) (*storage.ClockState, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT clock FROM messages_clock WHERE id = ?`, clockRowID).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrClockNotFound
		}
		return nil, fmt.Errorf("failed to load clock: %w", err)
	}

	state := &storage.ClockState{}
	if err := json.Unmarshal([]byte(raw), state); err != nil {
		return nil, fmt.Errorf("failed to decode clock: %w", err)
	}
	return state, nil
}

// AppendMessage adds a message to the log; duplicates by timestamp are ignored
func (t *sqlTx) AppendMessage(ctx context.Context, msg models.Message) (bool, error) {
	query := `
		INSERT OR IGNORE INTO messages_crdt (timestamp, dataset, "row", "column", value)
		VALUES (?, ?, ?, ?, ?)
	`

	result, err := t.tx.ExecContext(ctx, query,
		msg.Timestamp.String(),
		string(msg.Dataset),
		msg.Row,
		msg.Column,
		msg.Value.Serialize(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to append message: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n == 1, nil
}

// SaveClock persists clock and merkle state
func (t *sqlTx) SaveClock(ctx context.Context, state storage.ClockState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode clock: %w", err)
	}

	_, err = t.tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO messages_clock (id, clock) VALUES (?, ?)`,
		clockRowID, string(data),
	)
	if err != nil {
		return fmt.Errorf("failed to save clock: %w", err)
	}
	return nil
}
