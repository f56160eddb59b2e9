// Package codec преобразует сообщения в бинарный формат запросов /sync
// и обратно, шифруя содержимое ключом файла.
package codec

import (
	"encoding/json"
	"fmt"

	"github.com/iudanet/ledgersync/internal/crdt"
	"github.com/iudanet/ledgersync/internal/crypto"
	"github.com/iudanet/ledgersync/internal/models"
	"github.com/iudanet/ledgersync/pkg/api"
)

//go:generate moq -out keyring_mock.go . Keyring

// Keyring шифрует и расшифровывает содержимое сообщений
type Keyring interface {
	Encrypt(id string, plaintext []byte) (*crypto.Sealed, error)
	Decrypt(id string, sealed *crypto.Sealed) ([]byte, error)
}

// EncodeParams параметры запроса синхронизации
type EncodeParams struct {
	Since   crdt.Timestamp
	GroupID string
	FileID  string
	KeyID   string // пустой KeyID означает передачу без шифрования
}

// Decoded разобранный ответ сервера
type Decoded struct {
	Merkle   crdt.Trie
	Messages []models.Message
}

// Codec кодирует запросы и декодирует ответы /sync
type Codec struct {
	keyring Keyring
}

// New создает Codec
func New(keyring Keyring) *Codec {
	return &Codec{keyring: keyring}
}

// Encode формирует тело запроса SyncRequest
func (c *Codec) Encode(params EncodeParams, msgs []models.Message) ([]byte, error) {
	envelopes, err := c.EncodeMessages(params.KeyID, msgs)
	if err != nil {
		return nil, err
	}

	req := api.SyncRequest{
		FileID:   params.FileID,
		GroupID:  params.GroupID,
		KeyID:    params.KeyID,
		Since:    params.Since.String(),
		Messages: envelopes,
	}
	return req.Marshal(), nil
}

// EncodeMessages упаковывает сообщения в конверты, шифруя содержимое,
// если задан keyID. Ошибки шифрования возвращаются как *crypto.EncryptFailure.
func (c *Codec) EncodeMessages(keyID string, msgs []models.Message) ([]api.MessageEnvelope, error) {
	envelopes := make([]api.MessageEnvelope, 0, len(msgs))
	for _, m := range msgs {
		record := api.Message{
			Dataset: string(m.Dataset),
			Row:     m.Row,
			Column:  m.Column,
			Value:   m.Value.Serialize(),
		}
		env := api.MessageEnvelope{
			Timestamp: m.Timestamp.String(),
			Content:   record.Marshal(),
		}

		if keyID != "" {
			sealed, err := c.keyring.Encrypt(keyID, env.Content)
			if err != nil {
				return nil, err
			}
			encrypted := api.EncryptedData{IV: sealed.IV, AuthTag: sealed.AuthTag, Data: sealed.Data}
			env.Content = encrypted.Marshal()
			env.IsEncrypted = true
		}

		envelopes = append(envelopes, env)
	}
	return envelopes, nil
}

// Decode разбирает тело ответа SyncResponse
func (c *Codec) Decode(keyID string, data []byte) (*Decoded, error) {
	var resp api.SyncResponse
	if err := resp.Unmarshal(data); err != nil {
		return nil, fmt.Errorf("failed to decode sync response: %w", err)
	}

	msgs, err := c.DecodeMessages(keyID, resp.Messages)
	if err != nil {
		return nil, err
	}

	merkle := crdt.EmptyTrie()
	if resp.Merkle != "" {
		if err := json.Unmarshal([]byte(resp.Merkle), &merkle); err != nil {
			return nil, fmt.Errorf("failed to decode merkle: %w", err)
		}
	}

	return &Decoded{Messages: msgs, Merkle: merkle}, nil
}

// DecodeMessages распаковывает конверты. Ошибки расшифровки возвращаются
// как *crypto.DecryptFailure.
func (c *Codec) DecodeMessages(keyID string, envelopes []api.MessageEnvelope) ([]models.Message, error) {
	msgs := make([]models.Message, 0, len(envelopes))
	for _, env := range envelopes {
		ts, err := crdt.ParseTimestamp(env.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("failed to parse message timestamp: %w", err)
		}

		content := env.Content
		if env.IsEncrypted {
			var encrypted api.EncryptedData
			if err := encrypted.Unmarshal(content); err != nil {
				return nil, &crypto.DecryptFailure{KeyID: keyID, Err: err}
			}
			content, err = c.keyring.Decrypt(keyID, &crypto.Sealed{
				Data:    encrypted.Data,
				IV:      encrypted.IV,
				AuthTag: encrypted.AuthTag,
			})
			if err != nil {
				return nil, err
			}
		}

		var record api.Message
		if err := record.Unmarshal(content); err != nil {
			return nil, fmt.Errorf("failed to decode message %s: %w", env.Timestamp, err)
		}

		dataset, err := models.ParseDataset(record.Dataset)
		if err != nil {
			return nil, fmt.Errorf("message %s: %w", env.Timestamp, err)
		}
		value, err := models.DeserializeValue(record.Value)
		if err != nil {
			return nil, fmt.Errorf("message %s: %w", env.Timestamp, err)
		}

		msgs = append(msgs, models.NewMessage(dataset, record.Row, record.Column, value, ts))
	}
	return msgs, nil
}
