package models

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// ValueKind тип значения поля
type ValueKind uint8

const (
	// KindNull пустое значение (NULL)
	KindNull ValueKind = iota
	// KindNumber числовое значение
	KindNumber
	// KindString строковое значение
	KindString
)

// Value представляет значение одного поля: null, число или строку.
// Нулевое значение Value соответствует null.
type Value struct {
	str  string
	num  float64
	kind ValueKind
}

// Null возвращает пустое значение
func Null() Value { return Value{} }

// Number создает числовое значение
func Number(n float64) Value { return Value{kind: KindNumber, num: n} }

// String создает строковое значение
func String(s string) Value { return Value{kind: KindString, str: s} }

// ValueOf конвертирует произвольное значение Go (из БД или JSON) в Value.
func ValueOf(v any) (Value, error) {
	switch x := v.(type) {
	case nil:
		return Null(), nil
	case Value:
		return x, nil
	case string:
		return String(x), nil
	case []byte:
		return String(string(x)), nil
	case float64:
		return Number(x), nil
	case float32:
		return Number(float64(x)), nil
	case int:
		return Number(float64(x)), nil
	case int64:
		return Number(float64(x)), nil
	case int32:
		return Number(float64(x)), nil
	case bool:
		if x {
			return Number(1), nil
		}
		return Number(0), nil
	default:
		return Value{}, fmt.Errorf("unsupported value type %T", v)
	}
}

// Kind возвращает тип значения
func (v Value) Kind() ValueKind { return v.kind }

// IsNull сообщает, что значение пустое
func (v Value) IsNull() bool { return v.kind == KindNull }

// Float возвращает числовое значение (ok=false для других типов)
func (v Value) Float() (float64, bool) { return v.num, v.kind == KindNumber }

// Str возвращает строковое значение (ok=false для других типов)
func (v Value) Str() (string, bool) { return v.str, v.kind == KindString }

// Any возвращает значение в виде, пригодном для передачи драйверу БД
func (v Value) Any() any {
	switch v.kind {
	case KindNumber:
		return v.num
	case KindString:
		return v.str
	default:
		return nil
	}
}

// Serialize кодирует значение с префиксом типа:
// "0:" для null, "N:<число>" для чисел, "S:<строка>" для строк.
// Этот формат хранится в журнале сообщений и передается по сети.
func (v Value) Serialize() string {
	switch v.kind {
	case KindNumber:
		return "N:" + strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindString:
		return "S:" + v.str
	default:
		return "0:"
	}
}

// DeserializeValue разбирает значение, закодированное Serialize
func DeserializeValue(s string) (Value, error) {
	if len(s) < 2 || s[1] != ':' {
		return Value{}, fmt.Errorf("invalid type key for value: %q", s)
	}

	switch s[0] {
	case '0':
		return Null(), nil
	case 'N':
		n, err := strconv.ParseFloat(s[2:], 64)
		if err != nil {
			return Value{}, fmt.Errorf("invalid number value %q: %w", s, err)
		}
		return Number(n), nil
	case 'S':
		return String(s[2:]), nil
	}

	return Value{}, fmt.Errorf("invalid type key for value: %q", s)
}

// Equal сравнивает два значения
func (v Value) Equal(other Value) bool {
	return v == other
}

// String реализует fmt.Stringer
func (v Value) String() string {
	switch v.kind {
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindString:
		return strconv.Quote(v.str)
	default:
		return "null"
	}
}

// MarshalJSON кодирует значение как JSON null, number или string
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Any())
}

// UnmarshalJSON разбирает JSON null, number или string
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ValueOf(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}
