// Package sqlite реализует локальное хранилище бюджета на SQLite:
// таблицы наборов данных, журнал сообщений и состояние часов.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/iudanet/ledgersync/internal/models"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// Storage локальное SQLite хранилище бюджета
type Storage struct {
	db *sql.DB
	// columns схема таблиц: набор данных -> известные колонки.
	// Читается один раз после миграций.
	columns map[models.Dataset]map[string]struct{}
}

// New creates a new SQLite storage instance
// Use ":memory:" for in-memory database (useful for testing)
func New(ctx context.Context, dbPath string) (*Storage, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Один писатель: все записи идут через одно соединение
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
		"PRAGMA foreign_keys = ON;",
		"PRAGMA busy_timeout = 5000;",
	}

	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	storage := &Storage{db: db}

	if err := storage.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	if err := storage.loadSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load schema: %w", err)
	}

	return storage, nil
}

// Close closes the database connection
func (s *Storage) Close() error {
	return s.db.Close()
}

// runMigrations выполняет миграции из embedded FS
func (s *Storage) runMigrations() error {
	goose.SetBaseFS(embedMigrations)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set dialect: %w", err)
	}

	if err := goose.Up(s.db, "migrations"); err != nil {
		return fmt.Errorf("goose up failed: %w", err)
	}

	return nil
}

// loadSchema читает список колонок каждой таблицы набора данных
func (s *Storage) loadSchema(ctx context.Context) error {
	s.columns = make(map[models.Dataset]map[string]struct{})

	for _, dataset := range models.Datasets() {
		rows, err := s.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", dataset))
		if err != nil {
			return fmt.Errorf("failed to read schema of %s: %w", dataset, err)
		}

		cols := make(map[string]struct{})
		for rows.Next() {
			var (
				cid        int
				name, typ  string
				notNull    int
				defaultVal sql.NullString
				pk         int
			)
			if err := rows.Scan(&cid, &name, &typ, &notNull, &defaultVal, &pk); err != nil {
				_ = rows.Close()
				return fmt.Errorf("failed to scan schema of %s: %w", dataset, err)
			}
			cols[name] = struct{}{}
		}
		if err := rows.Close(); err != nil {
			return err
		}
		s.columns[dataset] = cols
	}

	return nil
}

// DB returns the underlying database connection for testing purposes
func (s *Storage) DB() *sql.DB {
	return s.db
}
