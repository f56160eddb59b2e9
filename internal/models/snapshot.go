package models

// Row строка таблицы: имя колонки -> значение
type Row map[string]Value

// Clone возвращает копию строки
func (r Row) Clone() Row {
	if r == nil {
		return nil
	}
	cp := make(Row, len(r))
	for k, v := range r {
		cp[k] = v
	}
	return cp
}

// Snapshot состояние затронутых строк: dataset -> id -> строка.
// Используется для уведомлений "до/после" применения пакета сообщений.
type Snapshot map[Dataset]map[string]Row

// Get возвращает строку или nil
func (s Snapshot) Get(dataset Dataset, id string) Row {
	rows, ok := s[dataset]
	if !ok {
		return nil
	}
	return rows[id]
}

// Has сообщает, что строка присутствует в снимке
func (s Snapshot) Has(dataset Dataset, id string) bool {
	return s.Get(dataset, id) != nil
}

// Set сохраняет строку в снимке
func (s Snapshot) Set(dataset Dataset, id string, row Row) {
	rows, ok := s[dataset]
	if !ok {
		rows = make(map[string]Row)
		s[dataset] = rows
	}
	rows[id] = row
}

// IDs группирует идентификаторы строк по наборам данных для выборки снимка.
// Сообщения prefs не учитываются.
func IDs(msgs []Message) map[Dataset][]string {
	out := make(map[Dataset][]string)
	seen := make(map[Dataset]map[string]struct{})
	for _, m := range msgs {
		if m.Dataset.IsPrefs() {
			continue
		}
		if seen[m.Dataset] == nil {
			seen[m.Dataset] = make(map[string]struct{})
		}
		if _, ok := seen[m.Dataset][m.Row]; ok {
			continue
		}
		seen[m.Dataset][m.Row] = struct{}{}
		out[m.Dataset] = append(out[m.Dataset], m.Row)
	}
	return out
}
