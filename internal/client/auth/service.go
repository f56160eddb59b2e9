// Package auth управляет учетной записью клиента на relay-сервере:
// регистрация, вход, обновление и завершение сессии.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/iudanet/ledgersync/internal/client/storage"
	"github.com/iudanet/ledgersync/internal/crypto"
	"github.com/iudanet/ledgersync/internal/validation"
	pkgapi "github.com/iudanet/ledgersync/pkg/api"
)

//go:generate moq -out service_mock.go . API

// refreshMargin запас до истечения access token, после которого
// сессия обновляется заранее
const refreshMargin = 30 * time.Second

// ErrNotLoggedIn нет сохраненной сессии
var ErrNotLoggedIn = errors.New("not logged in")

// API методы relay-сервера, нужные для авторизации
type API interface {
	Register(ctx context.Context, req pkgapi.RegisterRequest) (*pkgapi.RegisterResponse, error)
	GetSalt(ctx context.Context, username string) (*pkgapi.SaltResponse, error)
	Login(ctx context.Context, req pkgapi.LoginRequest) (*pkgapi.TokenResponse, error)
	Refresh(ctx context.Context, refreshToken string) (*pkgapi.TokenResponse, error)
	Logout(ctx context.Context) error
	SetToken(token string)
	BaseURL() string
}

// Service предоставляет функции авторизации
type Service struct {
	api    API
	store  storage.AuthStorage
	logger *slog.Logger
	clock  clockwork.Clock
}

// NewService создает новый сервис авторизации
func NewService(api API, store storage.AuthStorage, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		api:    api,
		store:  store,
		logger: logger,
		clock:  clockwork.NewRealClock(),
	}
}

// RegisterResult содержит результат регистрации
type RegisterResult struct {
	UserID     string // UUID учетной записи
	Username   string
	PublicSalt string // base64
}

// Register регистрирует новую учетную запись.
// Пароль не покидает клиент: на сервер уходит только хеш ключа,
// полученного из пароля и публичной соли.
func (s *Service) Register(ctx context.Context, username, password string) (*RegisterResult, error) {
	if err := validation.ValidateUsername(username); err != nil {
		return nil, fmt.Errorf("invalid username: %w", err)
	}
	if err := validation.ValidatePassword(password); err != nil {
		return nil, fmt.Errorf("invalid password: %w", err)
	}

	publicSalt, err := crypto.GenerateSaltBase64()
	if err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	authKeyHash, err := crypto.AccountKeyHash(password, publicSalt)
	if err != nil {
		return nil, err
	}

	resp, err := s.api.Register(ctx, pkgapi.RegisterRequest{
		Username:    username,
		AuthKeyHash: authKeyHash,
		PublicSalt:  publicSalt,
	})
	if err != nil {
		return nil, fmt.Errorf("registration failed: %w", err)
	}

	s.logger.Info("Account registered", "username", username, "user_id", resp.UserID)

	return &RegisterResult{
		UserID:     resp.UserID,
		Username:   username,
		PublicSalt: publicSalt,
	}, nil
}

// Login выполняет вход и сохраняет сессию
func (s *Service) Login(ctx context.Context, username, password string) (*storage.AuthData, error) {
	if err := validation.ValidateUsername(username); err != nil {
		return nil, fmt.Errorf("invalid username: %w", err)
	}
	if err := validation.ValidatePassword(password); err != nil {
		return nil, fmt.Errorf("invalid password: %w", err)
	}

	saltResp, err := s.api.GetSalt(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("failed to get salt: %w", err)
	}

	authKeyHash, err := crypto.AccountKeyHash(password, saltResp.PublicSalt)
	if err != nil {
		return nil, err
	}

	tokens, err := s.api.Login(ctx, pkgapi.LoginRequest{
		Username:    username,
		AuthKeyHash: authKeyHash,
	})
	if err != nil {
		return nil, fmt.Errorf("login failed: %w", err)
	}

	session := &storage.AuthData{
		ServerURL:  s.api.BaseURL(),
		Username:   username,
		PublicSalt: saltResp.PublicSalt,
	}
	s.applyTokens(session, tokens)

	if err := s.store.SaveAuth(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}
	s.api.SetToken(session.AccessToken)

	s.logger.Info("Logged in", "username", username)
	return session, nil
}

// Session возвращает действующую сессию и устанавливает ее токен в клиенте.
// Истекающий access token обновляется по refresh token.
func (s *Service) Session(ctx context.Context) (*storage.AuthData, error) {
	session, err := s.store.GetAuth(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrAuthNotFound) {
			return nil, ErrNotLoggedIn
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	if s.clock.Now().Add(refreshMargin).Unix() >= session.ExpiresAt {
		if err := s.refresh(ctx, session); err != nil {
			return nil, err
		}
	}

	s.api.SetToken(session.AccessToken)
	return session, nil
}

// Refresh принудительно обновляет токены сохраненной сессии
func (s *Service) Refresh(ctx context.Context) error {
	session, err := s.store.GetAuth(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrAuthNotFound) {
			return ErrNotLoggedIn
		}
		return fmt.Errorf("failed to load session: %w", err)
	}

	if err := s.refresh(ctx, session); err != nil {
		return err
	}
	s.api.SetToken(session.AccessToken)
	return nil
}

func (s *Service) refresh(ctx context.Context, session *storage.AuthData) error {
	tokens, err := s.api.Refresh(ctx, session.RefreshToken)
	if err != nil {
		return fmt.Errorf("failed to refresh session: %w", err)
	}

	s.applyTokens(session, tokens)
	if err := s.store.SaveAuth(ctx, session); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	s.logger.Debug("Session refreshed", "username", session.Username)
	return nil
}

// Logout завершает сессию на сервере (без гарантии) и удаляет ее локально
func (s *Service) Logout(ctx context.Context) error {
	session, err := s.store.GetAuth(ctx)
	if err != nil {
		s.logger.Debug("No session found during logout", "error", err)
	} else {
		s.api.SetToken(session.AccessToken)
		if logoutErr := s.api.Logout(ctx); logoutErr != nil {
			s.logger.Warn("Failed to logout on server", "error", logoutErr)
		}
	}

	s.api.SetToken("")
	if err := s.store.DeleteAuth(ctx); err != nil && !errors.Is(err, storage.ErrAuthNotFound) {
		return fmt.Errorf("failed to delete local session: %w", err)
	}
	return nil
}

func (s *Service) applyTokens(session *storage.AuthData, tokens *pkgapi.TokenResponse) {
	session.AccessToken = tokens.AccessToken
	session.RefreshToken = tokens.RefreshToken
	session.ExpiresAt = s.clock.Now().Add(time.Duration(tokens.ExpiresIn) * time.Second).Unix()
}
