package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/iudanet/ledgersync/internal/client/storage"
	"github.com/iudanet/ledgersync/internal/models"
	"github.com/iudanet/ledgersync/internal/validation"
)

// FetchRows returns current rows of a dataset by ids.
// Transactions are read with the category resolved through category_mapping.
func (s *Storage) FetchRows(ctx context.Context, dataset models.Dataset, ids []string) (map[string]models.Row, error) {
	if _, ok := s.columns[dataset]; !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrUnknownDataset, dataset)
	}

	result := make(map[string]models.Row, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	var query string
	if dataset == models.DatasetTransactions {
		query = fmt.Sprintf(`
			SELECT t.*, cm.transferId AS mapped_category
			FROM transactions t
			LEFT JOIN category_mapping cm ON cm.id = t.category
			WHERE t.id IN (%s)
		`, placeholders)
	} else {
		query = fmt.Sprintf(`SELECT * FROM %s WHERE id IN (%s)`, dataset, placeholders)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", dataset, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	scanned, err := scanRows(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", dataset, err)
	}

	for _, row := range scanned {
		if mapped, ok := row["mapped_category"]; ok {
			if !mapped.IsNull() {
				row["category"] = mapped
			}
			delete(row, "mapped_category")
		}

		id, _ := row["id"].Str()
		result[id] = row
	}

	return result, nil
}

// scanRows читает строки с произвольным набором колонок
func scanRows(rows *sql.Rows) ([]models.Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var result []models.Row
	for rows.Next() {
		raw := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		row := make(models.Row, len(cols))
		for i, col := range cols {
			v, err := models.ValueOf(raw[i])
			if err != nil {
				return nil, fmt.Errorf("column %s: %w", col, err)
			}
			row[col] = v
		}
		result = append(result, row)
	}

	return result, rows.Err()
}

// checkColumn проверяет, что колонка есть в таблице набора данных.
// Имя колонки подставляется в SQL, поэтому проверка обязательна.
func (s *Storage) checkColumn(dataset models.Dataset, column string) error {
	cols, ok := s.columns[dataset]
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrUnknownDataset, dataset)
	}
	if err := validation.ValidateColumn(column); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrUnknownColumn, err)
	}
	if _, ok := cols[column]; !ok {
		return fmt.Errorf("%w: %s.%s", storage.ErrUnknownColumn, dataset, column)
	}
	return nil
}

type sqlTx struct {
	s  *Storage
	tx *sql.Tx
}

// WithTransaction runs fn inside a single database transaction
func (s *Storage) WithTransaction(ctx context.Context, fn func(tx storage.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(&sqlTx{s: s, tx: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// InsertRow creates a row with the given fields
func (t *sqlTx) InsertRow(ctx context.Context, dataset models.Dataset, id string, fields models.Row) error {
	columns := make([]string, 0, len(fields))
	for col := range fields {
		if col == "id" {
			continue
		}
		if err := t.s.checkColumn(dataset, col); err != nil {
			return err
		}
		columns = append(columns, col)
	}
	sort.Strings(columns)

	names := []string{"id"}
	args := []any{id}
	for _, col := range columns {
		names = append(names, fmt.Sprintf("%q", col))
		args = append(args, fields[col].Any())
	}

	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`,
		dataset,
		strings.Join(names, ", "),
		strings.TrimSuffix(strings.Repeat("?,", len(names)), ","),
	)

	if _, err := t.tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert %s %s: %w", dataset, id, err)
	}
	return nil
}

// UpdateRow sets one field of an existing row
func (t *sqlTx) UpdateRow(ctx context.Context, dataset models.Dataset, id, column string, value models.Value) error {
	if err := t.s.checkColumn(dataset, column); err != nil {
		return err
	}

	query := fmt.Sprintf(`UPDATE %s SET %q = ? WHERE id = ?`, dataset, column)
	if _, err := t.tx.ExecContext(ctx, query, value.Any(), id); err != nil {
		return fmt.Errorf("failed to update %s %s: %w", dataset, id, err)
	}
	return nil
}
