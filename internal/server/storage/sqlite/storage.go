// Package sqlite реализует хранилище relay-сервера на SQLite:
// учетные записи, refresh tokens, файлы и журналы групп синхронизации.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/iudanet/ledgersync/internal/crdt"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// DefaultMerkleCacheSize число деревьев групп, которые держатся в памяти
const DefaultMerkleCacheSize = 256

// Storage represents SQLite storage implementation
type Storage struct {
	db *sql.DB
	// merkles кеш деревьев групп. Обновляется только после коммита.
	merkles *lru.Cache[string, crdt.Trie]
	// syncMu упорядочивает обмены сообщениями вместе с обновлением кеша
	syncMu sync.Mutex
}

// Option настраивает Storage
type Option func(*options)

type options struct {
	merkleCacheSize int
}

// WithMerkleCacheSize задает размер кеша деревьев групп
func WithMerkleCacheSize(size int) Option {
	return func(o *options) {
		if size > 0 {
			o.merkleCacheSize = size
		}
	}
}

// New creates a new SQLite storage instance
// dbPath is the path to the SQLite database file
// Use ":memory:" for in-memory database (useful for testing)
func New(ctx context.Context, dbPath string, opts ...Option) (*Storage, error) {
	o := options{merkleCacheSize: DefaultMerkleCacheSize}
	for _, opt := range opts {
		opt(&o)
	}

	cache, err := lru.New[string, crdt.Trie](o.merkleCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create merkle cache: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// SQLite с WAL mode может поддерживать несколько читателей, но только одного писателя
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

	storage := &Storage{db: db, merkles: cache}

	if err := storage.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return storage, nil
}

// Close closes the database connection
func (s *Storage) Close() error {
	return s.db.Close()
}

// Ping проверяет доступность базы
func (s *Storage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
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

// DB returns the underlying database connection for testing purposes
func (s *Storage) DB() *sql.DB {
	return s.db
}
