package crdt

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

const (
	// Radix основание системы счисления ключей trie
	Radix = 3
	// KeyDigits количество разрядов ключа (минуты в троичной записи)
	KeyDigits = 16
	// DefaultPruneKeep сколько самых новых потомков сохраняет Prune на каждом уровне
	DefaultPruneKeep = 2

	millisPerMinute = 60 * 1000
)

// Trie представляет неизменяемый узел Merkle trie.
// Ключом служат троичные разряды номера минуты метки времени, от старшего
// к младшему. Hash узла равен XOR хешей всех меток в его поддереве.
// Insert и Prune возвращают новые узлы и разделяют с исходным деревом
// все неизмененные поддеревья.
type Trie struct {
	children [Radix]*Trie
	Hash     uint32
}

// EmptyTrie возвращает пустое дерево
func EmptyTrie() Trie {
	return Trie{}
}

// Child возвращает потомка по разряду (или nil)
func (t Trie) Child(digit int) *Trie {
	if digit < 0 || digit >= Radix {
		return nil
	}
	return t.children[digit]
}

// Keys возвращает разряды существующих потомков в порядке возрастания
func (t Trie) Keys() []int {
	keys := make([]int, 0, Radix)
	for d, child := range t.children {
		if child != nil {
			keys = append(keys, d)
		}
	}
	return keys
}

// IsEmpty сообщает, что в дерево не было вставлено ни одной метки
func (t Trie) IsEmpty() bool {
	return t.Hash == 0 && len(t.Keys()) == 0
}

// Insert возвращает новое дерево с добавленной меткой ts.
// Исходное дерево не изменяется.
func Insert(t Trie, ts Timestamp) Trie {
	hash := ts.Hash()
	key := TimestampKey(ts)

	t.Hash ^= hash
	return insertKey(t, key, hash)
}

// insertKey копирует путь по ключу, добавляя hash в каждый узел пути.
// t передается по значению, поэтому массив children уже скопирован.
func insertKey(t Trie, key string, hash uint32) Trie {
	if key == "" {
		return t
	}
	d := int(key[0] - '0')

	var next Trie
	if t.children[d] != nil {
		next = *t.children[d]
	}
	next.Hash ^= hash
	next = insertKey(next, key[1:], hash)

	t.children[d] = &next
	return t
}

// Build строит дерево из последовательности меток
func Build(timestamps []Timestamp) Trie {
	t := EmptyTrie()
	for _, ts := range timestamps {
		t = Insert(t, ts)
	}
	return t
}

// Diff ищет самую раннюю точку расхождения двух деревьев.
// Возвращает начало временного интервала (в миллисекундах), начиная с
// которого истории различаются, и false, если хеши корней совпадают.
// Спуск останавливается на текущем ключе, если у одного из деревьев нет
// очередного потомка.
func Diff(a, b Trie) (int64, bool) {
	if a.Hash == b.Hash {
		return 0, false
	}

	node1, node2 := a, b
	var key strings.Builder

	for {
		next := -1
		for d := 0; d < Radix; d++ {
			c1, c2 := node1.children[d], node2.children[d]
			if c1 == nil && c2 == nil {
				continue
			}
			if c1 == nil || c2 == nil {
				break
			}
			if c1.Hash != c2.Hash {
				next = d
				break
			}
		}

		if next < 0 {
			return KeyToTimestamp(key.String()), true
		}

		key.WriteByte(byte('0' + next))
		node1 = *node1.children[next]
		node2 = *node2.children[next]
	}
}

// Prune оставляет на каждом уровне только keep самых новых потомков.
// Хеши всех сохраненных узлов (включая корень) не меняются.
func Prune(t Trie, keep int) Trie {
	if t.IsEmpty() {
		return t
	}
	if keep <= 0 {
		keep = DefaultPruneKeep
	}

	next := Trie{Hash: t.Hash}
	keys := t.Keys()
	if len(keys) > keep {
		keys = keys[len(keys)-keep:]
	}
	for _, d := range keys {
		child := Prune(*t.children[d], keep)
		next.children[d] = &child
	}
	return next
}

// TimestampKey возвращает ключ метки в trie: номер минуты в троичной
// системе, дополненный нулями слева до KeyDigits разрядов.
func TimestampKey(ts Timestamp) string {
	minutes := ts.Millis() / millisPerMinute
	key := strconv.FormatInt(minutes, Radix)
	if len(key) < KeyDigits {
		key = strings.Repeat("0", KeyDigits-len(key)) + key
	}
	return key
}

// KeyToTimestamp переводит (возможно, неполный) ключ trie в начало
// соответствующего временного интервала в миллисекундах.
func KeyToTimestamp(key string) int64 {
	full := key + strings.Repeat("0", max(0, KeyDigits-len(key)))
	minutes, err := strconv.ParseInt(full, Radix, 64)
	if err != nil {
		return 0
	}
	return minutes * millisPerMinute
}

// MarshalJSON сериализует дерево в формате {"hash":N,"0":{...},...}
func (t Trie) MarshalJSON() ([]byte, error) {
	obj := make(map[string]any, Radix+1)
	obj["hash"] = t.Hash
	for d, child := range t.children {
		if child != nil {
			obj[strconv.Itoa(d)] = *child
		}
	}
	return json.Marshal(obj)
}

// UnmarshalJSON разбирает дерево из формата MarshalJSON.
// Отсутствующий hash трактуется как 0.
func (t *Trie) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to unmarshal merkle node: %w", err)
	}

	var node Trie
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := raw[k]
		if k == "hash" {
			var h float64
			if err := json.Unmarshal(v, &h); err != nil {
				return fmt.Errorf("invalid merkle hash: %w", err)
			}
			node.Hash = toUint32(h)
			continue
		}

		d, err := strconv.Atoi(k)
		if err != nil || d < 0 || d >= Radix {
			return fmt.Errorf("invalid merkle key %q", k)
		}
		var child Trie
		if err := json.Unmarshal(v, &child); err != nil {
			return err
		}
		node.children[d] = &child
	}

	*t = node
	return nil
}

// toUint32 принимает хеш как в беззнаковом, так и в знаковом 32-битном
// представлении (последнее встречается у реле, считающих XOR в int32).
func toUint32(h float64) uint32 {
	if h < 0 {
		return uint32(int32(h))
	}
	return uint32(math.Mod(h, 1<<32))
}
