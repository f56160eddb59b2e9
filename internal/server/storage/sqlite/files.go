package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/iudanet/ledgersync/internal/models"
	"github.com/iudanet/ledgersync/internal/server/storage"
)

const fileColumns = `id, user_id, name, group_id, encrypt_keyid, encrypt_salt, encrypt_test, created_at, updated_at`

// CreateFile регистрирует новый файл бюджета
func (s *Storage) CreateFile(ctx context.Context, file *models.File) error {
	query := `INSERT INTO files (` + fileColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		file.ID,
		file.UserID,
		file.Name,
		file.GroupID,
		nullString(file.EncryptKeyID),
		nullString(file.EncryptSalt),
		nullString(file.EncryptTest),
		file.CreatedAt,
		file.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert file: %w", err)
	}
	return nil
}

// GetFile возвращает файл пользователя
func (s *Storage) GetFile(ctx context.Context, userID, fileID string) (*models.File, error) {
	query := `SELECT ` + fileColumns + ` FROM files WHERE id = ? AND user_id = ?`

	file, err := scanFile(s.db.QueryRowContext(ctx, query, fileID, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrFileNotFound
		}
		return nil, fmt.Errorf("failed to get file: %w", err)
	}
	return file, nil
}

// ListFiles возвращает файлы пользователя
func (s *Storage) ListFiles(ctx context.Context, userID string) ([]*models.File, error) {
	query := `SELECT ` + fileColumns + ` FROM files WHERE user_id = ? ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query files: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var files []*models.File
	for rows.Next() {
		file, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan file: %w", err)
		}
		files = append(files, file)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return files, nil
}

// UpdateFileKey сохраняет параметры нового ключа шифрования
func (s *Storage) UpdateFileKey(ctx context.Context, userID, fileID string, key storage.KeyParams) error {
	query := `
		UPDATE files
		SET encrypt_keyid = ?, encrypt_salt = ?, encrypt_test = ?, updated_at = ?
		WHERE id = ? AND user_id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		nullString(key.KeyID),
		nullString(key.Salt),
		nullString(key.Test),
		time.Now(),
		fileID,
		userID,
	)
	if err != nil {
		return fmt.Errorf("failed to update file key: %w", err)
	}

	return expectAffected(result, storage.ErrFileNotFound)
}

// ResetFileGroup переводит файл в новую группу и удаляет историю старой
func (s *Storage) ResetFileGroup(ctx context.Context, userID, fileID, groupID string) error {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var oldGroup string
	err = tx.QueryRowContext(ctx, `SELECT group_id FROM files WHERE id = ? AND user_id = ?`, fileID, userID).Scan(&oldGroup)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ErrFileNotFound
		}
		return fmt.Errorf("failed to get file group: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE files SET group_id = ?, updated_at = ? WHERE id = ?`, groupID, time.Now(), fileID); err != nil {
		return fmt.Errorf("failed to update file group: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages_binary WHERE group_id = ?`, oldGroup); err != nil {
		return fmt.Errorf("failed to delete group messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages_merkles WHERE group_id = ?`, oldGroup); err != nil {
		return fmt.Errorf("failed to delete group merkle: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.merkles.Remove(oldGroup)
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFile(row rowScanner) (*models.File, error) {
	file := &models.File{}
	var keyID, salt, test sql.NullString

	if err := row.Scan(
		&file.ID,
		&file.UserID,
		&file.Name,
		&file.GroupID,
		&keyID,
		&salt,
		&test,
		&file.CreatedAt,
		&file.UpdatedAt,
	); err != nil {
		return nil, err
	}

	file.EncryptKeyID = keyID.String
	file.EncryptSalt = salt.String
	file.EncryptTest = test.String
	return file, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
