package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/iudanet/ledgersync/pkg/api"
)

// TokenHeader заголовок, в котором relay-сервер ожидает токен сессии
const TokenHeader = "X-ACTUAL-TOKEN"

// PostError ошибка обращения к relay-серверу.
// Reason совпадает с причинами из pkg/api (network-failure, unauthorized, ...).
type PostError struct {
	Reason string
	Meta   string
	Status int
}

func (e *PostError) Error() string {
	if e.Meta != "" {
		return fmt.Sprintf("post error: %s (%s)", e.Reason, e.Meta)
	}
	return "post error: " + e.Reason
}

// IsPostReason сообщает, что err является PostError с указанной причиной
func IsPostReason(err error, reason string) bool {
	var pe *PostError
	return errors.As(err, &pe) && pe.Reason == reason
}

// Options параметры клиента
type Options struct {
	Timeout      time.Duration
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
}

// DefaultOptions возвращает параметры по умолчанию
func DefaultOptions() Options {
	return Options{
		Timeout:      30 * time.Second,
		RetryMax:     3,
		RetryWaitMin: 500 * time.Millisecond,
		RetryWaitMax: 5 * time.Second,
	}
}

// Client представляет HTTP клиент для взаимодействия с relay-сервером
type Client struct {
	httpClient *retryablehttp.Client
	logger     *slog.Logger
	baseURL    string

	mu    sync.RWMutex
	token string
}

// NewClient создает новый API клиент.
// Временные ошибки (сеть, 5xx) повторяются с экспоненциальной задержкой.
func NewClient(baseURL string, logger *slog.Logger, opts Options) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = opts.RetryMax
	rc.RetryWaitMin = opts.RetryWaitMin
	rc.RetryWaitMax = opts.RetryWaitMax
	rc.HTTPClient.Timeout = opts.Timeout
	rc.Logger = logger
	// После исчерпания попыток нужен сам ответ, чтобы прочитать reason
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Client{
		httpClient: rc,
		logger:     logger,
		baseURL:    baseURL,
	}
}

// SetToken устанавливает токен сессии для последующих запросов
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

// Token возвращает текущий токен сессии
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// BaseURL возвращает адрес сервера
func (c *Client) BaseURL() string {
	return c.baseURL
}

// PostBinary отправляет бинарное тело (application/actual-sync) и
// возвращает бинарный ответ
func (c *Client) PostBinary(ctx context.Context, path string, body []byte) ([]byte, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", api.SyncContentType)
	c.authorize(req)

	return c.do(req)
}

// Register регистрирует новую учетную запись
func (c *Client) Register(ctx context.Context, req api.RegisterRequest) (*api.RegisterResponse, error) {
	var resp api.RegisterResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/auth/register", req, &resp); err != nil {
		return nil, fmt.Errorf("register request failed: %w", err)
	}
	return &resp, nil
}

// GetSalt получает public_salt учетной записи
func (c *Client) GetSalt(ctx context.Context, username string) (*api.SaltResponse, error) {
	var resp api.SaltResponse
	path := "/api/v1/auth/salt/" + url.PathEscape(username)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("get salt request failed: %w", err)
	}
	return &resp, nil
}

// Login выполняет аутентификацию
func (c *Client) Login(ctx context.Context, req api.LoginRequest) (*api.TokenResponse, error) {
	var resp api.TokenResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/auth/login", req, &resp); err != nil {
		return nil, fmt.Errorf("login request failed: %w", err)
	}
	return &resp, nil
}

// Refresh обменивает refresh token на новую пару токенов
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*api.TokenResponse, error) {
	req, err := c.newJSONRequest(ctx, http.MethodPost, "/api/v1/auth/refresh", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+refreshToken)

	var resp api.TokenResponse
	if err := c.doDecode(req, &resp); err != nil {
		return nil, fmt.Errorf("refresh request failed: %w", err)
	}
	return &resp, nil
}

// Logout завершает сессию на сервере
func (c *Client) Logout(ctx context.Context) error {
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/auth/logout", nil, nil); err != nil {
		return fmt.Errorf("logout request failed: %w", err)
	}
	return nil
}

// CreateFile регистрирует файл бюджета и получает его группу синхронизации
func (c *Client) CreateFile(ctx context.Context, name string) (*api.FileInfo, error) {
	var resp api.FileResponse
	if err := c.doJSON(ctx, http.MethodPost, "/files", api.CreateFileRequest{Name: name}, &resp); err != nil {
		return nil, fmt.Errorf("create file request failed: %w", err)
	}
	return &resp.Data, nil
}

// ListFiles возвращает файлы учетной записи
func (c *Client) ListFiles(ctx context.Context) ([]api.FileInfo, error) {
	var resp api.FileListResponse
	if err := c.doJSON(ctx, http.MethodGet, "/files", nil, &resp); err != nil {
		return nil, fmt.Errorf("list files request failed: %w", err)
	}
	return resp.Data, nil
}

// GetKey получает соль и тестовое сообщение текущего ключа файла
func (c *Client) GetKey(ctx context.Context, fileID string) (*api.KeyInfo, error) {
	var resp api.KeyResponse
	if err := c.doJSON(ctx, http.MethodPost, "/user-get-key", api.FileRequest{FileID: fileID}, &resp); err != nil {
		return nil, fmt.Errorf("get key request failed: %w", err)
	}
	return &resp.Data, nil
}

// CreateKey регистрирует новый ключ шифрования файла
func (c *Client) CreateKey(ctx context.Context, req api.CreateKeyRequest) error {
	if err := c.doJSON(ctx, http.MethodPost, "/user-create-key", req, nil); err != nil {
		return fmt.Errorf("create key request failed: %w", err)
	}
	return nil
}

// ResetFile сбрасывает историю синхронизации файла и возвращает новую группу
func (c *Client) ResetFile(ctx context.Context, fileID string) (string, error) {
	var resp api.ResetFileResponse
	if err := c.doJSON(ctx, http.MethodPost, "/reset-user-file", api.FileRequest{FileID: fileID}, &resp); err != nil {
		return "", fmt.Errorf("reset file request failed: %w", err)
	}
	return resp.GroupID, nil
}

func (c *Client) authorize(req *retryablehttp.Request) {
	if token := c.Token(); token != "" {
		req.Header.Set(TokenHeader, token)
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

func (c *Client) newJSONRequest(ctx context.Context, method, path string, body any) (*retryablehttp.Request, error) {
	var reader any
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = jsonData
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// doJSON выполняет JSON запрос с токеном сессии
func (c *Client) doJSON(ctx context.Context, method, path string, body, result any) error {
	req, err := c.newJSONRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	c.authorize(req)
	return c.doDecode(req, result)
}

func (c *Client) doDecode(req *retryablehttp.Request, result any) error {
	respBody, err := c.do(req)
	if err != nil {
		return err
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// do выполняет запрос и переводит неуспешные ответы в PostError
func (c *Client) do(req *retryablehttp.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &PostError{Reason: api.ReasonNetworkFailure, Meta: err.Error()}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &PostError{Reason: api.ReasonNetworkFailure, Meta: err.Error()}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return respBody, nil
	}

	return nil, responseError(resp.StatusCode, respBody)
}

func responseError(status int, body []byte) *PostError {
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return &PostError{Reason: api.ReasonUnauthorized, Status: status}
	}

	var errResp api.ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Reason != "" {
		return &PostError{Reason: errResp.Reason, Meta: errResp.Details, Status: status}
	}

	if status == http.StatusTooManyRequests {
		return &PostError{Reason: api.ReasonTooManyRequest, Status: status}
	}

	return &PostError{
		Reason: api.ReasonInternal,
		Meta:   string(bytes.TrimSpace(body)),
		Status: status,
	}
}
