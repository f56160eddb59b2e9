package api

// StatusOK и StatusError значения поля status в JSON ответах relay-сервера
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Причины ошибок, которые возвращает relay-сервер. Клиент различает их
// при обработке ответа /sync.
const (
	ReasonUnauthorized   = "unauthorized"
	ReasonInternal       = "internal"
	ReasonSinceRequired  = "since-required"
	ReasonFileNotFound   = "file-not-found"
	ReasonFileHasReset   = "file-has-reset"
	ReasonFileHasNewKey  = "file-has-new-key"
	ReasonInvalidRequest = "invalid-request"
	ReasonNetworkFailure = "network-failure"
	ReasonTooManyRequest = "too-many-requests"
	ReasonUserExists     = "user-already-exists"
	ReasonUserNotFound   = "user-not-found"
	ReasonBadCredentials = "invalid-credentials"
)

// ErrorResponse ответ с ошибкой
type ErrorResponse struct {
	Status  string `json:"status"`
	Reason  string `json:"reason"`
	Details string `json:"details,omitempty"`
}

// OKResponse пустой успешный ответ
type OKResponse struct {
	Status string `json:"status"`
}

// CreateFileRequest регистрация файла бюджета на сервере
type CreateFileRequest struct {
	Name string `json:"name"`
}

// FileInfo описание файла бюджета
type FileInfo struct {
	FileID       string `json:"fileId"`
	GroupID      string `json:"groupId"`
	Name         string `json:"name"`
	EncryptKeyID string `json:"encryptKeyId,omitempty"`
}

// FileResponse ответ с описанием файла
type FileResponse struct {
	Status string   `json:"status"`
	Data   FileInfo `json:"data"`
}

// FileListResponse ответ со списком файлов пользователя
type FileListResponse struct {
	Status string     `json:"status"`
	Data   []FileInfo `json:"data"`
}

// FileRequest запрос, адресованный конкретному файлу
type FileRequest struct {
	FileID string `json:"fileId"`
}

// CreateKeyRequest регистрация нового ключа шифрования файла.
// Сервер хранит только соль и тестовое сообщение, но не ключ.
type CreateKeyRequest struct {
	FileID      string `json:"fileId"`
	KeyID       string `json:"keyId"`
	KeySalt     string `json:"keySalt"`
	TestContent string `json:"testContent"`
}

// KeyInfo параметры ключа, необходимые для его получения из пароля
type KeyInfo struct {
	ID   string `json:"id"`
	Salt string `json:"salt"`
	Test string `json:"test"`
}

// KeyResponse ответ /user-get-key
type KeyResponse struct {
	Status string  `json:"status"`
	Data   KeyInfo `json:"data"`
}

// ResetFileResponse ответ /reset-user-file с новой группой синхронизации
type ResetFileResponse struct {
	Status  string `json:"status"`
	GroupID string `json:"groupId"`
}
