package api

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// SyncContentType тип содержимого запроса и ответа /sync
const SyncContentType = "application/actual-sync"

// ErrWireFormat повреждены данные в бинарном формате
var ErrWireFormat = errors.New("invalid wire format")

// Номера полей бинарного протокола. Менять нельзя: от них зависит
// совместимость клиентов и сервера.
const (
	fieldEncryptedIV      protowire.Number = 1
	fieldEncryptedAuthTag protowire.Number = 2
	fieldEncryptedData    protowire.Number = 3

	fieldMessageDataset protowire.Number = 1
	fieldMessageRow     protowire.Number = 2
	fieldMessageColumn  protowire.Number = 3
	fieldMessageValue   protowire.Number = 4

	fieldEnvelopeTimestamp   protowire.Number = 1
	fieldEnvelopeIsEncrypted protowire.Number = 2
	fieldEnvelopeContent     protowire.Number = 3

	fieldRequestMessages protowire.Number = 1
	fieldRequestFileID   protowire.Number = 2
	fieldRequestGroupID  protowire.Number = 3
	fieldRequestKeyID    protowire.Number = 5
	fieldRequestSince    protowire.Number = 6

	fieldResponseMessages protowire.Number = 1
	fieldResponseMerkle   protowire.Number = 2
)

// EncryptedData зашифрованное содержимое сообщения
type EncryptedData struct {
	IV      []byte
	AuthTag []byte
	Data    []byte
}

// Message содержимое сообщения в открытом виде
type Message struct {
	Dataset string
	Row     string
	Column  string
	Value   string // сериализованное значение ("0:", "N:..", "S:..")
}

// MessageEnvelope конверт сообщения. Метка времени передается открыто,
// она нужна серверу для упорядочивания и дедупликации.
type MessageEnvelope struct {
	Timestamp   string
	Content     []byte
	IsEncrypted bool
}

// SyncRequest запрос POST /sync
type SyncRequest struct {
	FileID   string
	GroupID  string
	KeyID    string
	Since    string
	Messages []MessageEnvelope
}

// SyncResponse ответ POST /sync
type SyncResponse struct {
	Merkle   string // JSON-представление дерева группы
	Messages []MessageEnvelope
}

// Marshal кодирует EncryptedData
func (m *EncryptedData) Marshal() []byte {
	var b []byte
	b = appendBytes(b, fieldEncryptedIV, m.IV)
	b = appendBytes(b, fieldEncryptedAuthTag, m.AuthTag)
	b = appendBytes(b, fieldEncryptedData, m.Data)
	return b
}

// Unmarshal разбирает EncryptedData
func (m *EncryptedData) Unmarshal(b []byte) error {
	*m = EncryptedData{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case fieldEncryptedIV:
			return consumeBytes(typ, b, &m.IV)
		case fieldEncryptedAuthTag:
			return consumeBytes(typ, b, &m.AuthTag)
		case fieldEncryptedData:
			return consumeBytes(typ, b, &m.Data)
		}
		return -1, nil
	})
}

// Marshal кодирует Message
func (m *Message) Marshal() []byte {
	var b []byte
	b = appendString(b, fieldMessageDataset, m.Dataset)
	b = appendString(b, fieldMessageRow, m.Row)
	b = appendString(b, fieldMessageColumn, m.Column)
	b = appendString(b, fieldMessageValue, m.Value)
	return b
}

// Unmarshal разбирает Message
func (m *Message) Unmarshal(b []byte) error {
	*m = Message{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case fieldMessageDataset:
			return consumeString(typ, b, &m.Dataset)
		case fieldMessageRow:
			return consumeString(typ, b, &m.Row)
		case fieldMessageColumn:
			return consumeString(typ, b, &m.Column)
		case fieldMessageValue:
			return consumeString(typ, b, &m.Value)
		}
		return -1, nil
	})
}

func (m *MessageEnvelope) appendTo(b []byte) []byte {
	b = appendString(b, fieldEnvelopeTimestamp, m.Timestamp)
	if m.IsEncrypted {
		b = protowire.AppendTag(b, fieldEnvelopeIsEncrypted, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	}
	b = appendBytes(b, fieldEnvelopeContent, m.Content)
	return b
}

// Marshal кодирует MessageEnvelope
func (m *MessageEnvelope) Marshal() []byte {
	return m.appendTo(nil)
}

// Unmarshal разбирает MessageEnvelope
func (m *MessageEnvelope) Unmarshal(b []byte) error {
	*m = MessageEnvelope{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case fieldEnvelopeTimestamp:
			return consumeString(typ, b, &m.Timestamp)
		case fieldEnvelopeIsEncrypted:
			if typ != protowire.VarintType {
				return 0, fmt.Errorf("%w: isEncrypted has wire type %d", ErrWireFormat, typ)
			}
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, fmt.Errorf("%w: %v", ErrWireFormat, protowire.ParseError(n))
			}
			m.IsEncrypted = protowire.DecodeBool(v)
			return n, nil
		case fieldEnvelopeContent:
			return consumeBytes(typ, b, &m.Content)
		}
		return -1, nil
	})
}

// Marshal кодирует SyncRequest
func (m *SyncRequest) Marshal() []byte {
	var b []byte
	for i := range m.Messages {
		b = protowire.AppendTag(b, fieldRequestMessages, protowire.BytesType)
		b = protowire.AppendBytes(b, m.Messages[i].Marshal())
	}
	b = appendString(b, fieldRequestFileID, m.FileID)
	b = appendString(b, fieldRequestGroupID, m.GroupID)
	b = appendString(b, fieldRequestKeyID, m.KeyID)
	b = appendString(b, fieldRequestSince, m.Since)
	return b
}

// Unmarshal разбирает SyncRequest
func (m *SyncRequest) Unmarshal(b []byte) error {
	*m = SyncRequest{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case fieldRequestMessages:
			return consumeEnvelope(typ, b, &m.Messages)
		case fieldRequestFileID:
			return consumeString(typ, b, &m.FileID)
		case fieldRequestGroupID:
			return consumeString(typ, b, &m.GroupID)
		case fieldRequestKeyID:
			return consumeString(typ, b, &m.KeyID)
		case fieldRequestSince:
			return consumeString(typ, b, &m.Since)
		}
		return -1, nil
	})
}

// Marshal кодирует SyncResponse
func (m *SyncResponse) Marshal() []byte {
	var b []byte
	for i := range m.Messages {
		b = protowire.AppendTag(b, fieldResponseMessages, protowire.BytesType)
		b = protowire.AppendBytes(b, m.Messages[i].Marshal())
	}
	b = appendString(b, fieldResponseMerkle, m.Merkle)
	return b
}

// Unmarshal разбирает SyncResponse
func (m *SyncResponse) Unmarshal(b []byte) error {
	*m = SyncResponse{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case fieldResponseMessages:
			return consumeEnvelope(typ, b, &m.Messages)
		case fieldResponseMerkle:
			return consumeString(typ, b, &m.Merkle)
		}
		return -1, nil
	})
}

// appendString пропускает пустые строки, как proto3 для полей по умолчанию
func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

// consumeFields перебирает поля сообщения. fn возвращает количество
// прочитанных байт значения или -1 для неизвестного поля, которое пропускается.
func consumeFields(b []byte, fn func(num protowire.Number, typ protowire.Type, b []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrWireFormat, protowire.ParseError(n))
		}
		b = b[n:]

		m, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if m < 0 {
			m = protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return fmt.Errorf("%w: %v", ErrWireFormat, protowire.ParseError(m))
			}
		}
		b = b[m:]
	}
	return nil
}

func consumeBytes(typ protowire.Type, b []byte, dst *[]byte) (int, error) {
	if typ != protowire.BytesType {
		return 0, fmt.Errorf("%w: unexpected wire type %d", ErrWireFormat, typ)
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return 0, fmt.Errorf("%w: %v", ErrWireFormat, protowire.ParseError(n))
	}
	*dst = append([]byte(nil), v...)
	return n, nil
}

func consumeString(typ protowire.Type, b []byte, dst *string) (int, error) {
	if typ != protowire.BytesType {
		return 0, fmt.Errorf("%w: unexpected wire type %d", ErrWireFormat, typ)
	}
	v, n := protowire.ConsumeString(b)
	if n < 0 {
		return 0, fmt.Errorf("%w: %v", ErrWireFormat, protowire.ParseError(n))
	}
	*dst = v
	return n, nil
}

func consumeEnvelope(typ protowire.Type, b []byte, dst *[]MessageEnvelope) (int, error) {
	var raw []byte
	n, err := consumeBytes(typ, b, &raw)
	if err != nil {
		return 0, err
	}
	var env MessageEnvelope
	if err := env.Unmarshal(raw); err != nil {
		return 0, err
	}
	*dst = append(*dst, env)
	return n, nil
}
