package models

import "time"

// File файл бюджета на relay-сервере.
// GroupID меняется при сбросе истории синхронизации: клиенты со старой
// группой получают file-has-reset.
type File struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	GroupID   string    `json:"group_id"`
	// Параметры ключа шифрования. Сам ключ сервер не получает.
	EncryptKeyID string `json:"encrypt_key_id,omitempty"`
	EncryptSalt  string `json:"encrypt_salt,omitempty"`
	EncryptTest  string `json:"encrypt_test,omitempty"`
}

// Encrypted сообщает, включено ли шифрование файла
func (f *File) Encrypted() bool {
	return f.EncryptKeyID != ""
}
