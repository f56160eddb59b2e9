package crdt

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
)

const (
	// MaxCounter максимальное значение счетчика в пределах одной миллисекунды
	MaxCounter = 0xFFFF
	// NodeLen длина идентификатора узла в строковом представлении
	NodeLen = 16

	isoLayout = "2006-01-02T15:04:05.000Z"
	// maxMillis соответствует 10000-01-01T00:00:00.000Z
	maxMillis = 253402300800000
)

// Timestamp представляет гибридную логическую метку времени:
// физическое время в миллисекундах, счетчик и идентификатор узла.
// Значение неизменяемо, все операции возвращают копии.
type Timestamp struct {
	node    string
	millis  int64
	counter uint16
}

// NewTimestamp создает метку времени. Идентификатор узла дополняется
// нулями слева до 16 символов.
func NewTimestamp(millis int64, counter uint16, node string) Timestamp {
	return Timestamp{millis: millis, counter: counter, node: padNode(node)}
}

// Zero возвращает минимальную метку времени.
func Zero() Timestamp {
	return NewTimestamp(0, 0, "0")
}

// Max возвращает максимальную допустимую метку времени.
func Max() Timestamp {
	return NewTimestamp(maxMillis-1, MaxCounter, "FFFFFFFFFFFFFFFF")
}

// Since возвращает метку, с которой начинается окно синхронизации
// (узел "0", счетчик 0). Используется как граница выборки сообщений.
func Since(millis int64) Timestamp {
	return NewTimestamp(millis, 0, "0")
}

// Millis возвращает физическую часть метки
func (t Timestamp) Millis() int64 { return t.millis }

// Counter возвращает логический счетчик
func (t Timestamp) Counter() uint16 { return t.counter }

// Node возвращает идентификатор узла
func (t Timestamp) Node() string { return t.node }

// IsZero сообщает, является ли метка нулевой (не инициализированной)
func (t Timestamp) IsZero() bool {
	return t.millis == 0 && t.counter == 0 && strings.Trim(t.node, "0") == ""
}

// String сериализует метку в формат фиксированной ширины:
// <ISO8601 с миллисекундами>-<счетчик 4 hex>-<узел 16 символов>.
// Благодаря фиксированной ширине строковый порядок совпадает с порядком Compare.
func (t Timestamp) String() string {
	iso := time.UnixMilli(t.millis).UTC().Format(isoLayout)
	return fmt.Sprintf("%s-%04X-%s", iso, t.counter, padNode(t.node))
}

// Hash возвращает 32-битный хеш строкового представления метки.
// Используется как вклад метки в Merkle trie.
func (t Timestamp) Hash() uint32 {
	return uint32(xxhash.Sum64String(t.String()))
}

// Compare сравнивает метки: сначала millis, затем counter, затем node.
// Возвращает -1, 0 или 1.
func Compare(a, b Timestamp) int {
	switch {
	case a.millis < b.millis:
		return -1
	case a.millis > b.millis:
		return 1
	case a.counter < b.counter:
		return -1
	case a.counter > b.counter:
		return 1
	}
	return strings.Compare(a.node, b.node)
}

// Before сообщает, что t строго меньше other
func (t Timestamp) Before(other Timestamp) bool {
	return Compare(t, other) < 0
}

// ParseTimestamp разбирает строковое представление метки.
// Ошибка возвращается для любого значения, которое не может быть
// получено из String().
func ParseTimestamp(s string) (Timestamp, error) {
	// 24 символа даты, '-', 4 символа счетчика, '-', 16 символов узла
	if len(s) != len(isoLayout)+1+4+1+NodeLen {
		return Timestamp{}, fmt.Errorf("invalid timestamp %q: unexpected length", s)
	}

	datePart := s[:len(isoLayout)]
	rest := s[len(isoLayout):]
	if rest[0] != '-' || rest[5] != '-' {
		return Timestamp{}, fmt.Errorf("invalid timestamp %q: malformed separators", s)
	}

	parsed, err := time.Parse(isoLayout, datePart)
	if err != nil {
		return Timestamp{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	millis := parsed.UnixMilli()
	if millis < 0 || millis >= maxMillis {
		return Timestamp{}, fmt.Errorf("invalid timestamp %q: time out of range", s)
	}

	counter, err := strconv.ParseUint(rest[1:5], 16, 16)
	if err != nil {
		return Timestamp{}, fmt.Errorf("invalid timestamp %q: bad counter: %w", s, err)
	}

	node := rest[6:]
	if !isHexNode(node) {
		return Timestamp{}, fmt.Errorf("invalid timestamp %q: node must be %d hex characters", s, NodeLen)
	}

	return Timestamp{millis: millis, counter: uint16(counter), node: node}, nil
}

// MustParseTimestamp аналог ParseTimestamp, паникующий при ошибке.
// Предназначен для тестов и констант.
func MustParseTimestamp(s string) Timestamp {
	ts, err := ParseTimestamp(s)
	if err != nil {
		panic(err)
	}
	return ts
}

// MakeClientID генерирует идентификатор узла из 16 hex символов
func MakeClientID() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return strings.ToUpper(raw[len(raw)-NodeLen:])
}

func isHexNode(node string) bool {
	if len(node) != NodeLen {
		return false
	}
	for i := 0; i < len(node); i++ {
		c := node[i]
		if !('0' <= c && c <= '9' || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F') {
			return false
		}
	}
	return true
}

func padNode(node string) string {
	if len(node) >= NodeLen {
		return node[len(node)-NodeLen:]
	}
	return strings.Repeat("0", NodeLen-len(node)) + node
}

// MarshalText реализует encoding.TextMarshaler (JSON, YAML)
func (t Timestamp) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText реализует encoding.TextUnmarshaler
func (t *Timestamp) UnmarshalText(data []byte) error {
	parsed, err := ParseTimestamp(string(data))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
