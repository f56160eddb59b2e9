package models

import (
	"fmt"

	"github.com/iudanet/ledgersync/internal/crdt"
)

// Message единица репликации: присваивание значения полю строки набора данных.
// Сообщения неизменяемы после создания.
type Message struct {
	Timestamp crdt.Timestamp `json:"timestamp"`
	Value     Value          `json:"value"`
	Dataset   Dataset        `json:"dataset"`
	Row       string         `json:"row"`
	Column    string         `json:"column"`

	// Stale выставляется при применении, если для поля уже есть более
	// новая запись. Не сериализуется.
	Stale bool `json:"-"`
}

// NewMessage создает сообщение
func NewMessage(dataset Dataset, row, column string, value Value, ts crdt.Timestamp) Message {
	return Message{
		Dataset:   dataset,
		Row:       row,
		Column:    column,
		Value:     value,
		Timestamp: ts,
	}
}

// Field возвращает ключ поля (dataset, row, column)
func (m Message) Field() FieldKey {
	return FieldKey{Dataset: m.Dataset, Row: m.Row, Column: m.Column}
}

// Less упорядочивает сообщения по метке времени
func (m Message) Less(other Message) bool {
	return m.Timestamp.Before(other.Timestamp)
}

func (m Message) String() string {
	return fmt.Sprintf("%s %s.%s.%s=%s", m.Timestamp, m.Dataset, m.Row, m.Column, m.Value)
}

// FieldKey идентифицирует одно поле одной строки
type FieldKey struct {
	Dataset Dataset
	Row     string
	Column  string
}

// TablesFromMessages возвращает список затронутых таблиц без повторов.
// Устаревшие сообщения не учитываются, schedules_next_date сообщается как schedules.
func TablesFromMessages(msgs []Message) []string {
	seen := make(map[string]struct{}, len(msgs))
	tables := make([]string, 0)
	for _, m := range msgs {
		if m.Stale {
			continue
		}
		name := m.Dataset.Table()
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		tables = append(tables, name)
	}
	return tables
}
