package crdt

import (
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultMaxDrift максимально допустимое опережение удаленных часов
// относительно локального физического времени.
const DefaultMaxDrift = 5 * time.Minute

// ClockDriftError возвращается, если метка времени опережает локальное
// физическое время больше чем на MaxDrift. Обычно это признак поврежденного
// или недобросовестного узла.
type ClockDriftError struct {
	Millis   int64         // логическое время, вызвавшее ошибку
	Physical int64         // локальное физическое время
	MaxDrift time.Duration // допустимый дрейф
}

func (e *ClockDriftError) Error() string {
	return fmt.Sprintf("maximum clock drift exceeded: %s ahead of physical time %s (max drift %s)",
		time.Duration(e.Millis-e.Physical)*time.Millisecond,
		time.UnixMilli(e.Physical).UTC().Format(isoLayout),
		e.MaxDrift)
}

// OverflowError возвращается при переполнении счетчика в пределах
// одной миллисекунды. На практике не ожидается.
type OverflowError struct{}

func (e *OverflowError) Error() string {
	return "timestamp counter overflow"
}

// Clock представляет гибридные логические часы (HLC).
// Генерирует монотонно возрастающие метки для локальных событий и
// сливает метки, полученные от других узлов.
type Clock struct {
	wall     clockwork.Clock // источник физического времени
	last     Timestamp       // последняя выданная или полученная метка
	maxDrift time.Duration
	mu       sync.Mutex
}

// ClockOption настраивает Clock
type ClockOption func(*Clock)

// WithWallClock задает источник физического времени (для тестов)
func WithWallClock(wall clockwork.Clock) ClockOption {
	return func(c *Clock) {
		c.wall = wall
	}
}

// WithMaxDrift задает допустимый дрейф часов
func WithMaxDrift(d time.Duration) ClockOption {
	return func(c *Clock) {
		c.maxDrift = d
	}
}

// NewClock создает часы для узла node с нулевым начальным состоянием.
func NewClock(node string, opts ...ClockOption) *Clock {
	c := &Clock{
		wall:     clockwork.NewRealClock(),
		last:     NewTimestamp(0, 0, node),
		maxDrift: DefaultMaxDrift,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Restore создает часы из ранее сохраненной метки
func Restore(ts Timestamp, opts ...ClockOption) *Clock {
	c := NewClock(ts.Node(), opts...)
	c.last = ts
	return c
}

// Now возвращает текущую метку часов без ее изменения
func (c *Clock) Now() Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.last
}

// Node возвращает идентификатор узла
func (c *Clock) Node() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.last.Node()
}

// SetNode меняет идентификатор узла, сохраняя логическое время.
// Используется при смене группы синхронизации.
func (c *Clock) SetNode(node string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.last = NewTimestamp(c.last.millis, c.last.counter, node)
}

// Reset устанавливает состояние часов (восстановление из хранилища)
func (c *Clock) Reset(ts Timestamp) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.last = ts
}

// Send генерирует метку для нового локального события.
// Метка строго больше всех ранее выданных этими часами.
func (c *Clock) Send() (Timestamp, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	phys := c.wall.Now().UnixMilli()

	lOld := c.last.millis
	cOld := int(c.last.counter)

	lNew := max(lOld, phys)
	cNew := 0
	if lNew == lOld {
		cNew = cOld + 1
	}

	if err := c.checkDrift(lNew, phys); err != nil {
		return Timestamp{}, err
	}
	if cNew > MaxCounter {
		return Timestamp{}, &OverflowError{}
	}

	c.last = Timestamp{millis: lNew, counter: uint16(cNew), node: c.last.node}
	return c.last, nil
}

// Recv сливает удаленную метку с локальным состоянием.
// Локальное время никогда не уменьшается. Метки из будущего дальше
// MaxDrift отвергаются с ClockDriftError.
func (c *Clock) Recv(remote Timestamp) (Timestamp, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	phys := c.wall.Now().UnixMilli()

	lMsg := remote.millis
	cMsg := int(remote.counter)

	if err := c.checkDrift(lMsg, phys); err != nil {
		return Timestamp{}, err
	}

	lOld := c.last.millis
	cOld := int(c.last.counter)

	lNew := max(lOld, phys, lMsg)

	var cNew int
	switch {
	case lNew == lOld && lNew == lMsg:
		cNew = max(cOld, cMsg) + 1
	case lNew == lOld:
		cNew = cOld + 1
	case lNew == lMsg:
		cNew = cMsg + 1
	default:
		cNew = 0
	}

	if err := c.checkDrift(lNew, phys); err != nil {
		return Timestamp{}, err
	}
	if cNew > MaxCounter {
		return Timestamp{}, &OverflowError{}
	}

	c.last = Timestamp{millis: lNew, counter: uint16(cNew), node: c.last.node}
	return c.last, nil
}

func (c *Clock) checkDrift(millis, phys int64) error {
	if millis-phys > c.maxDrift.Milliseconds() {
		return &ClockDriftError{Millis: millis, Physical: phys, MaxDrift: c.maxDrift}
	}
	return nil
}
