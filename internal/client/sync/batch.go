package sync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	gosync "sync"

	"github.com/iudanet/ledgersync/internal/crdt"
	"github.com/iudanet/ledgersync/internal/models"
	"github.com/iudanet/ledgersync/internal/validation"
)

type batchKey struct {
	engine *Engine
}

type batch struct {
	msgs []models.Message
	mu   gosync.Mutex
}

func (b *batch) add(msgs []models.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgs = append(b.msgs, msgs...)
}

func (b *batch) drain() []models.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	msgs := b.msgs
	b.msgs = nil
	return msgs
}

// Batch собирает сообщения, отправленные внутри fn, и применяет их одним
// пакетом после успешного завершения fn. Вложенные вызовы присоединяются
// к внешнему пакету.
func (e *Engine) Batch(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(batchKey{engine: e}).(*batch); ok {
		return fn(ctx)
	}

	b := &batch{}
	err := fn(context.WithValue(ctx, batchKey{engine: e}, b))
	msgs := b.drain()
	if err != nil {
		return err
	}

	if len(msgs) == 0 {
		return nil
	}
	return e.sendMessages(ctx, msgs)
}

// SendMessages применяет локальные сообщения и планирует синхронизацию.
// Внутри Batch сообщения откладываются до конца пакета.
func (e *Engine) SendMessages(ctx context.Context, msgs []models.Message) error {
	if b, ok := ctx.Value(batchKey{engine: e}).(*batch); ok {
		b.add(msgs)
		return nil
	}
	return e.sendMessages(ctx, msgs)
}

func (e *Engine) sendMessages(ctx context.Context, msgs []models.Message) error {
	if _, err := e.ApplyMessages(ctx, msgs); err != nil {
		var schemaErr *InvalidSchemaError
		if errors.As(err, &schemaErr) {
			// Локальное изменение не применилось: ошибка в коде, а не в данных
			e.emit(Event{Type: EventError, Subtype: SubtypeApplyFailure})
		} else {
			e.emit(Event{Type: EventError})
		}
		return err
	}

	e.ScheduleFullSync()
	return nil
}

// Set создает сообщение для одного поля и отправляет его
func (e *Engine) Set(ctx context.Context, dataset models.Dataset, row, column string, value models.Value) error {
	msg, err := e.newMessage(dataset, row, column, value)
	if err != nil {
		return err
	}
	return e.SendMessages(ctx, []models.Message{msg})
}

// Update создает сообщения для нескольких полей строки.
// Поля обрабатываются в порядке имен, каждое получает свою метку.
func (e *Engine) Update(ctx context.Context, dataset models.Dataset, row string, fields models.Row) error {
	columns := make([]string, 0, len(fields))
	for col := range fields {
		columns = append(columns, col)
	}
	sort.Strings(columns)

	msgs := make([]models.Message, 0, len(columns))
	for _, col := range columns {
		msg, err := e.newMessage(dataset, row, col, fields[col])
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}
	return e.SendMessages(ctx, msgs)
}

func (e *Engine) newMessage(dataset models.Dataset, row, column string, value models.Value) (models.Message, error) {
	if err := validation.ValidateRowID(row); err != nil {
		return models.Message{}, err
	}
	if !dataset.IsPrefs() {
		if err := validation.ValidateColumn(column); err != nil {
			return models.Message{}, err
		}
	}

	ts, err := e.clock.Send()
	if err != nil {
		return models.Message{}, fmt.Errorf("failed to get timestamp: %w", err)
	}
	return models.NewMessage(dataset, row, column, value, ts), nil
}

// RawMessage сообщение в сериализованном виде (значение "N:..", "S:..", "0:")
type RawMessage struct {
	Timestamp string
	Dataset   string
	Row       string
	Column    string
	Value     string
}

// SyncAndReceiveMessages применяет сообщения в сериализованном виде и
// возвращает локальные сообщения после since, прочитанные до применения
func (e *Engine) SyncAndReceiveMessages(ctx context.Context, raw []RawMessage, since crdt.Timestamp) ([]models.Message, error) {
	local, err := e.store.MessagesSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("failed to read local messages: %w", err)
	}

	msgs := make([]models.Message, 0, len(raw))
	for _, r := range raw {
		ts, err := crdt.ParseTimestamp(r.Timestamp)
		if err != nil {
			return nil, err
		}
		dataset, err := models.ParseDataset(r.Dataset)
		if err != nil {
			return nil, err
		}
		value, err := models.DeserializeValue(r.Value)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, models.NewMessage(dataset, r.Row, r.Column, value, ts))
	}

	if _, err := e.ReceiveMessages(ctx, msgs); err != nil {
		return nil, err
	}
	return local, nil
}
