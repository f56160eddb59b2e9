// Package sync реализует движок репликации бюджета: применение сообщений
// (ApplyEngine), цикл синхронизации с relay-сервером (SyncSession),
// пакетную отправку локальных изменений и восстановление дерева.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	gosync "sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"github.com/iudanet/ledgersync/internal/client/storage"
	"github.com/iudanet/ledgersync/internal/codec"
	"github.com/iudanet/ledgersync/internal/crdt"
	"github.com/iudanet/ledgersync/internal/models"
	"github.com/iudanet/ledgersync/internal/mutation"
)

//go:generate moq -out engine_mock.go . Transport Codec

// SyncPath путь обмена сообщениями на relay-сервере
const SyncPath = "/sync"

// Transport отправляет бинарный запрос на relay-сервер
type Transport interface {
	PostBinary(ctx context.Context, path string, body []byte) ([]byte, error)
}

// Codec кодирует и декодирует конверты синхронизации
type Codec interface {
	Encode(params codec.EncodeParams, msgs []models.Message) ([]byte, error)
	Decode(keyID string, data []byte) (*codec.Decoded, error)
}

// Config параметры движка
type Config struct {
	// SyncDelay задержка автоматической синхронизации после локального изменения
	SyncDelay time.Duration
	// Lookback окно первой синхронизации при отсутствии чекпойнта
	Lookback time.Duration
	// MaxDrift допустимое опережение удаленных часов
	MaxDrift time.Duration
	// SameDiffLimit число попыток с одинаковой точкой расхождения
	SameDiffLimit int
	// MaxAttempts абсолютный предел попыток
	MaxAttempts int
	// FetchChunk размер пакета идентификаторов при чтении строк
	FetchChunk int
	// PruneKeep число сохраняемых потомков на уровне дерева
	PruneKeep int
}

// DefaultConfig возвращает параметры по умолчанию
func DefaultConfig() Config {
	return Config{
		SyncDelay:     time.Second,
		Lookback:      5 * time.Minute,
		MaxDrift:      crdt.DefaultMaxDrift,
		SameDiffLimit: 10,
		MaxAttempts:   100,
		FetchChunk:    500,
		PruneKeep:     crdt.DefaultPruneKeep,
	}
}

// Option настраивает Engine
type Option func(*Engine)

// WithConfig задает параметры движка
func WithConfig(cfg Config) Option {
	return func(e *Engine) { e.cfg = cfg }
}

// WithWallClock задает источник времени (для тестов)
func WithWallClock(wall clockwork.Clock) Option {
	return func(e *Engine) { e.wall = wall }
}

// WithSerializer использует внешний сериализатор мутаций,
// общий с другими изменениями хранилища
func WithSerializer(s *mutation.Serializer) Option {
	return func(e *Engine) { e.serializer = s }
}

// WithMode задает начальный режим синхронизации
func WithMode(mode Mode) Option {
	return func(e *Engine) { e.mode.Store(mode) }
}

// Engine владеет часами, деревом сообщений и доступом к хранилищу
// одного файла бюджета
type Engine struct {
	store     storage.Store
	prefs     storage.Preferences
	transport Transport
	codec     Codec
	logger    *slog.Logger
	wall      clockwork.Clock

	clock  *crdt.Clock
	merkle atomic.Pointer[crdt.Trie]

	serializer     *mutation.Serializer
	ownsSerializer bool

	mode  atomic.Value // Mode
	state atomic.Int32
	group singleflight.Group

	baseCtx context.Context
	cancel  context.CancelFunc

	timerMu gosync.Mutex
	timer   clockwork.Timer

	listenersMu    gosync.RWMutex
	applyListeners map[int]ApplyListener
	eventHandlers  map[int]EventHandler
	nextListenerID int

	cfg    Config
	closed atomic.Bool
}

// NewEngine создает движок и восстанавливает часы из хранилища.
// Для нового хранилища создаются часы с идентификатором узла из чекпойнта
// или со случайным идентификатором.
func NewEngine(
	ctx context.Context,
	store storage.Store,
	prefs storage.Preferences,
	transport Transport,
	cdc Codec,
	logger *slog.Logger,
	opts ...Option,
) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}

	e := &Engine{
		store:          store,
		prefs:          prefs,
		transport:      transport,
		codec:          cdc,
		logger:         logger,
		wall:           clockwork.NewRealClock(),
		cfg:            DefaultConfig(),
		applyListeners: make(map[int]ApplyListener),
		eventHandlers:  make(map[int]EventHandler),
	}
	e.mode.Store(ModeEnabled)

	for _, opt := range opts {
		opt(e)
	}

	if e.serializer == nil {
		e.serializer = mutation.New(logger)
		e.ownsSerializer = true
	}

	if err := e.loadClock(ctx); err != nil {
		if e.ownsSerializer {
			e.serializer.Close()
		}
		return nil, err
	}

	e.baseCtx, e.cancel = context.WithCancel(context.Background())

	return e, nil
}

func (e *Engine) loadClock(ctx context.Context) error {
	clockOpts := []crdt.ClockOption{
		crdt.WithWallClock(e.wall),
		crdt.WithMaxDrift(e.cfg.MaxDrift),
	}

	state, err := e.store.LoadClock(ctx)
	switch {
	case err == nil:
		e.clock = crdt.Restore(state.Timestamp, clockOpts...)
		merkle := state.Merkle
		e.merkle.Store(&merkle)
		e.logger.Debug("Clock restored",
			"timestamp", state.Timestamp.String(),
			"merkle_hash", state.Merkle.Hash)
		return nil
	case errors.Is(err, storage.ErrClockNotFound):
	default:
		return fmt.Errorf("failed to load clock: %w", err)
	}

	node := ""
	cp, err := e.prefs.GetCheckpoint(ctx)
	switch {
	case err == nil:
		node = cp.NodeID
	case errors.Is(err, storage.ErrCheckpointNotFound):
	default:
		return fmt.Errorf("failed to load checkpoint: %w", err)
	}
	if node == "" {
		node = crdt.MakeClientID()
	}

	e.clock = crdt.NewClock(node, clockOpts...)
	empty := crdt.EmptyTrie()
	e.merkle.Store(&empty)
	e.logger.Debug("Clock initialized", "node", node)
	return nil
}

// Close останавливает отложенную синхронизацию и сериализатор
func (e *Engine) Close() {
	if !e.closed.CompareAndSwap(false, true) {
		return
	}
	e.CancelScheduledSync()
	e.cancel()
	if e.ownsSerializer {
		e.serializer.Close()
	}
}

// Clock возвращает логические часы узла
func (e *Engine) Clock() *crdt.Clock {
	return e.clock
}

// Merkle возвращает снимок дерева сообщений
func (e *Engine) Merkle() crdt.Trie {
	return *e.merkle.Load()
}

// Mode возвращает текущий режим синхронизации
func (e *Engine) Mode() Mode {
	return e.mode.Load().(Mode)
}

// SetMode меняет режим синхронизации
func (e *Engine) SetMode(mode Mode) {
	e.mode.Store(mode)
	if !mode.reachesRelay() {
		e.CancelScheduledSync()
	}
}

// State возвращает состояние последней сессии синхронизации
func (e *Engine) State() State {
	return State(e.state.Load())
}

func (e *Engine) setState(s State) {
	e.state.Store(int32(s))
}

// Serializer возвращает сериализатор мутаций движка
func (e *Engine) Serializer() *mutation.Serializer {
	return e.serializer
}
