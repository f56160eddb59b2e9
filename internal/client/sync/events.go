package sync

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"

	"github.com/iudanet/ledgersync/internal/client/api"
	"github.com/iudanet/ledgersync/internal/crdt"
	"github.com/iudanet/ledgersync/internal/crypto"
	"github.com/iudanet/ledgersync/internal/models"
	"github.com/iudanet/ledgersync/internal/mutation"
	pkgapi "github.com/iudanet/ledgersync/pkg/api"
)

// EventType тип события синхронизации
type EventType string

const (
	EventStart        EventType = "start"
	EventSuccess      EventType = "success"
	EventError        EventType = "error"
	EventUnauthorized EventType = "unauthorized"
	EventApplied      EventType = "applied"
)

// Подтипы ошибок синхронизации
const (
	SubtypeOutOfSync      = "out-of-sync"
	SubtypeInvalidSchema  = "invalid-schema"
	SubtypeApplyFailure   = "apply-failure"
	SubtypeDecryptFailure = "decrypt-failure"
	SubtypeEncryptFailure = "encrypt-failure"
	SubtypeClockDrift     = "clock-drift"
	SubtypeNetwork        = "network"
)

// Event событие движка синхронизации
type Event struct {
	Before       models.Snapshot
	After        models.Snapshot
	Meta         map[string]string
	Type         EventType
	Subtype      string
	Tables       []string
	SyncDisabled bool
}

// Change результат применения пакета сообщений, передаваемый подписчикам
type Change struct {
	Before   models.Snapshot
	After    models.Snapshot
	Mutation mutation.Context
	Tables   []string
	Messages []models.Message
}

// ApplyListener получает изменения после фиксации транзакции
// (пересчет бюджета, кэши и т.п.)
type ApplyListener func(ctx context.Context, change Change)

// EventHandler получает события синхронизации
type EventHandler func(Event)

// AddApplyListener регистрирует подписчика изменений.
// Возвращает функцию отписки.
func (e *Engine) AddApplyListener(fn ApplyListener) func() {
	e.listenersMu.Lock()
	defer e.listenersMu.Unlock()

	id := e.nextListenerID
	e.nextListenerID++
	e.applyListeners[id] = fn

	return func() {
		e.listenersMu.Lock()
		defer e.listenersMu.Unlock()
		delete(e.applyListeners, id)
	}
}

// Subscribe регистрирует обработчик событий. Возвращает функцию отписки.
func (e *Engine) Subscribe(fn EventHandler) func() {
	e.listenersMu.Lock()
	defer e.listenersMu.Unlock()

	id := e.nextListenerID
	e.nextListenerID++
	e.eventHandlers[id] = fn

	return func() {
		e.listenersMu.Lock()
		defer e.listenersMu.Unlock()
		delete(e.eventHandlers, id)
	}
}

func (e *Engine) notifyApplied(ctx context.Context, change Change) {
	e.listenersMu.RLock()
	listeners := make([]ApplyListener, 0, len(e.applyListeners))
	for _, fn := range e.applyListeners {
		listeners = append(listeners, fn)
	}
	e.listenersMu.RUnlock()

	for _, fn := range listeners {
		e.safeCall(func() { fn(ctx, change) })
	}
}

func (e *Engine) emit(ev Event) {
	e.listenersMu.RLock()
	handlers := make([]EventHandler, 0, len(e.eventHandlers))
	for _, fn := range e.eventHandlers {
		handlers = append(handlers, fn)
	}
	e.listenersMu.RUnlock()

	for _, fn := range handlers {
		e.safeCall(func() { fn(ev) })
	}
}

// safeCall изолирует панику подписчика: данные уже зафиксированы
func (e *Engine) safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Listener panicked",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}
	}()
	fn()
}

// reportError переводит ошибку синхронизации в событие
func (e *Engine) reportError(ctx context.Context, err error) {
	var (
		outOfSync   *OutOfSyncError
		invalid     *InvalidSchemaError
		decryptErr  *crypto.DecryptFailure
		encryptErr  *crypto.EncryptFailure
		driftErr    *crdt.ClockDriftError
		postErr     *api.PostError
		errorEvent  = Event{Type: EventError}
		logSeverity = slog.LevelWarn
	)

	switch {
	case errors.As(err, &outOfSync):
		errorEvent.Subtype = SubtypeOutOfSync
		logSeverity = slog.LevelError
	case errors.As(err, &invalid):
		errorEvent.Subtype = SubtypeInvalidSchema
		logSeverity = slog.LevelError
	case errors.As(err, &decryptErr):
		errorEvent.Subtype = SubtypeDecryptFailure
		errorEvent.Meta = map[string]string{"keyId": decryptErr.KeyID}
		if decryptErr.IsMissingKey {
			errorEvent.Meta["isMissingKey"] = "true"
		}
	case errors.As(err, &encryptErr):
		errorEvent.Subtype = SubtypeEncryptFailure
		errorEvent.Meta = map[string]string{"keyId": encryptErr.KeyID}
	case errors.As(err, &driftErr):
		errorEvent.Subtype = SubtypeClockDrift
		logSeverity = slog.LevelError
	case errors.As(err, &postErr):
		switch postErr.Reason {
		case pkgapi.ReasonUnauthorized:
			errorEvent = Event{Type: EventUnauthorized}
			if roErr := e.prefs.SetReadOnly(ctx, true); roErr != nil {
				e.logger.Error("Failed to switch to read-only mode", "error", roErr)
			}
		case pkgapi.ReasonNetworkFailure:
			errorEvent.Subtype = SubtypeNetwork
		default:
			errorEvent.Subtype = postErr.Reason
		}
	default:
		logSeverity = slog.LevelError
	}

	e.logger.Log(ctx, logSeverity, "Sync failed",
		"error", err,
		"event", string(errorEvent.Type),
		"subtype", errorEvent.Subtype)
	e.emit(errorEvent)
}
