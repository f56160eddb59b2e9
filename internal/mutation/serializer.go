// Package mutation обеспечивает последовательное выполнение изменений
// локального хранилища: в каждый момент выполняется не более одной мутации.
package mutation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
)

// ErrClosed возвращается для заданий, поставленных после Close или
// не успевших выполниться до него
var ErrClosed = errors.New("mutation serializer closed")

type runningKey struct{}

type job struct {
	ctx  context.Context
	fn   func(ctx context.Context) error
	done chan error
}

// Serializer выполняет задания по одному в порядке поступления (FIFO).
// Ошибка или паника одного задания не влияет на следующие.
type Serializer struct {
	logger  *slog.Logger
	wake    chan struct{}
	stopped chan struct{}
	queue   []*job
	mu      sync.Mutex
	closed  bool
}

// New создает Serializer и запускает его рабочую горутину
func New(logger *slog.Logger) *Serializer {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Serializer{
		logger:  logger,
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
	go s.loop()
	return s
}

// Run выполняет task в очереди сериализатора и возвращает ее результат.
// Вызов из задания того же сериализатора выполняется сразу, без постановки
// в очередь. Если ctx отменен до начала выполнения, задание пропускается.
func Run[T any](ctx context.Context, s *Serializer, task func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := s.Do(ctx, func(ctx context.Context) error {
		var err error
		result, err = task(ctx)
		return err
	})
	return result, err
}

// Do выполняет fn в очереди сериализатора
func (s *Serializer) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if owner, ok := ctx.Value(runningKey{}).(*Serializer); ok && owner == s {
		return s.call(ctx, fn)
	}

	j := &job{ctx: ctx, fn: fn, done: make(chan error, 1)}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.queue = append(s.queue, j)
	select {
	case s.wake <- struct{}{}:
	default:
	}
	s.mu.Unlock()

	select {
	case err := <-j.done:
		return err
	case <-ctx.Done():
		// Задание могло уже начаться: начатая мутация всегда завершается,
		// поэтому ждем ее результат.
		if s.remove(j) {
			return ctx.Err()
		}
		return <-j.done
	}
}

// Close останавливает сериализатор. Текущее задание завершается,
// ожидающие задания получают ErrClosed.
func (s *Serializer) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	pending := s.queue
	s.queue = nil
	s.mu.Unlock()

	for _, j := range pending {
		j.done <- ErrClosed
	}

	close(s.wake)
	<-s.stopped
}

// Pending возвращает количество заданий в очереди
func (s *Serializer) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *Serializer) loop() {
	defer close(s.stopped)

	for {
		j, ok := s.next()
		if ok {
			j.done <- s.call(j.ctx, j.fn)
			continue
		}
		if _, open := <-s.wake; !open {
			return
		}
	}
}

func (s *Serializer) next() (*job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return nil, false
	}
	j := s.queue[0]
	s.queue[0] = nil
	s.queue = s.queue[1:]
	return j, true
}

// remove удаляет задание из очереди, если оно еще не начато
func (s *Serializer) remove(target *job) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, j := range s.queue {
		if j == target {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			return true
		}
	}
	return false
}

func (s *Serializer) call(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Mutation panicked",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			err = fmt.Errorf("mutation panicked: %v", r)
		}
	}()

	return fn(context.WithValue(ctx, runningKey{}, s))
}
