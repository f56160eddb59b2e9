// Package cli команды клиента ledgersync
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	clientapi "github.com/iudanet/ledgersync/internal/client/api"
	"github.com/iudanet/ledgersync/internal/client/auth"
	"github.com/iudanet/ledgersync/internal/client/iocli"
	"github.com/iudanet/ledgersync/internal/client/storage"
	"github.com/iudanet/ledgersync/internal/client/storage/boltdb"
	"github.com/iudanet/ledgersync/internal/client/storage/sqlite"
	"github.com/iudanet/ledgersync/internal/client/sync"
	"github.com/iudanet/ledgersync/internal/codec"
	"github.com/iudanet/ledgersync/internal/config"
	"github.com/iudanet/ledgersync/internal/crypto"
)

const (
	prefsFile  = "prefs.db"
	budgetFile = "budget.db"
)

// ErrNoFile каталог данных еще не привязан к файлу бюджета
var ErrNoFile = errors.New("no budget file configured, run 'ledgersync file create' or 'ledgersync file use'")

// App зависимости команд. Хранилища и движок открываются при первом
// обращении: команде status не нужен сервер, команде login не нужен бюджет.
type App struct {
	cfg    config.Client
	io     iocli.IO
	logger *slog.Logger

	prefs   *boltdb.Storage
	store   *sqlite.Storage
	api     *clientapi.Client
	auth    *auth.Service
	keyring *crypto.Keyring
	engine  *sync.Engine
}

// NewApp создает App без открытия хранилищ
func NewApp(cfg config.Client, io iocli.IO, logger *slog.Logger) *App {
	return &App{
		cfg:     cfg,
		io:      io,
		logger:  logger,
		keyring: crypto.NewKeyring(),
	}
}

// Prefs открывает хранилище метаданных клиента
func (a *App) Prefs(ctx context.Context) (*boltdb.Storage, error) {
	if a.prefs != nil {
		return a.prefs, nil
	}

	if err := os.MkdirAll(a.cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	prefs, err := boltdb.New(ctx, filepath.Join(a.cfg.DataDir, prefsFile))
	if err != nil {
		return nil, err
	}
	a.prefs = prefs
	return prefs, nil
}

// API возвращает клиент relay-сервера
func (a *App) API() *clientapi.Client {
	if a.api == nil {
		opts := clientapi.DefaultOptions()
		opts.Timeout = a.cfg.RequestTimeout
		opts.RetryMax = a.cfg.RetryMax
		a.api = clientapi.NewClient(a.cfg.ServerURL, a.logger, opts)
	}
	return a.api
}

// Auth возвращает сервис сессии relay-сервера
func (a *App) Auth(ctx context.Context) (*auth.Service, error) {
	if a.auth != nil {
		return a.auth, nil
	}

	prefs, err := a.Prefs(ctx)
	if err != nil {
		return nil, err
	}
	a.auth = auth.NewService(a.API(), prefs, a.logger)
	return a.auth, nil
}

// Session загружает сессию и устанавливает токен в клиенте API.
// Сессия другого сервера считается отсутствующей.
func (a *App) Session(ctx context.Context) (*storage.AuthData, error) {
	svc, err := a.Auth(ctx)
	if err != nil {
		return nil, err
	}

	session, err := svc.Session(ctx)
	if err != nil {
		return nil, err
	}
	if session.ServerURL != "" && session.ServerURL != a.API().BaseURL() {
		return nil, fmt.Errorf("%w: session belongs to %s", auth.ErrNotLoggedIn, session.ServerURL)
	}
	return session, nil
}

// Checkpoint возвращает привязку каталога данных к файлу бюджета
func (a *App) Checkpoint(ctx context.Context) (*storage.Checkpoint, error) {
	prefs, err := a.Prefs(ctx)
	if err != nil {
		return nil, err
	}

	cp, err := prefs.GetCheckpoint(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrCheckpointNotFound) {
			return nil, ErrNoFile
		}
		return nil, err
	}
	return cp, nil
}

// Store открывает локальную базу бюджета
func (a *App) Store(ctx context.Context) (*sqlite.Storage, error) {
	if a.store != nil {
		return a.store, nil
	}

	if err := os.MkdirAll(a.cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	store, err := sqlite.New(ctx, filepath.Join(a.cfg.DataDir, budgetFile))
	if err != nil {
		return nil, err
	}
	a.store = store
	return store, nil
}

// Engine создает движок синхронизации текущего файла.
// Сохраненный ключ файла загружается в keyring.
func (a *App) Engine(ctx context.Context) (*sync.Engine, error) {
	if a.engine != nil {
		return a.engine, nil
	}

	prefs, err := a.Prefs(ctx)
	if err != nil {
		return nil, err
	}
	store, err := a.Store(ctx)
	if err != nil {
		return nil, err
	}
	if err := a.loadFileKey(ctx); err != nil {
		return nil, err
	}

	mode, err := sync.ParseMode(a.cfg.SyncMode)
	if err != nil {
		return nil, err
	}

	syncCfg := sync.DefaultConfig()
	syncCfg.SyncDelay = a.cfg.SyncDelay
	syncCfg.MaxDrift = a.cfg.MaxDrift
	syncCfg.SameDiffLimit = a.cfg.SameDiffLimit
	syncCfg.MaxAttempts = a.cfg.MaxAttempts

	engine, err := sync.NewEngine(ctx, store, prefs, a.API(), codec.New(a.keyring), a.logger,
		sync.WithConfig(syncCfg), sync.WithMode(mode))
	if err != nil {
		return nil, fmt.Errorf("failed to start sync engine: %w", err)
	}
	a.engine = engine
	return engine, nil
}

// loadFileKey загружает сохраненный ключ файла, если файл зашифрован
func (a *App) loadFileKey(ctx context.Context) error {
	cp, err := a.prefs.GetCheckpoint(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrCheckpointNotFound) {
			return nil
		}
		return err
	}
	if cp.KeyID == "" || a.keyring.Has(cp.KeyID) {
		return nil
	}

	exported, err := a.prefs.GetKey(ctx, cp.KeyID)
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			a.logger.Debug("File key is not unlocked", "key_id", cp.KeyID)
			return nil
		}
		return err
	}

	if _, err := a.keyring.Import(exported); err != nil {
		return fmt.Errorf("failed to load file key: %w", err)
	}
	return nil
}

// Close останавливает движок и закрывает хранилища
func (a *App) Close() error {
	if a.engine != nil {
		a.engine.Close()
		a.engine = nil
	}

	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
		a.store = nil
	}
	if a.prefs != nil {
		errs = append(errs, a.prefs.Close())
		a.prefs = nil
	}
	a.auth = nil
	return errors.Join(errs...)
}
