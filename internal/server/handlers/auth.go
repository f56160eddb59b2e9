package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/iudanet/ledgersync/internal/crypto"
	"github.com/iudanet/ledgersync/internal/models"
	"github.com/iudanet/ledgersync/internal/server/jwt"
	"github.com/iudanet/ledgersync/internal/server/storage"
	"github.com/iudanet/ledgersync/internal/validation"
	"github.com/iudanet/ledgersync/pkg/api"
)

// AuthHandler обрабатывает запросы авторизации
type AuthHandler struct {
	logger       *slog.Logger
	userStorage  storage.UserStorage
	tokenStorage storage.TokenStorage
	tokens       *jwt.Service
	clock        clockwork.Clock
}

// NewAuthHandler создает новый handler для авторизации
func NewAuthHandler(logger *slog.Logger, userStorage storage.UserStorage, tokenStorage storage.TokenStorage, tokens *jwt.Service) *AuthHandler {
	return &AuthHandler{
		logger:       logger,
		userStorage:  userStorage,
		tokenStorage: tokenStorage,
		tokens:       tokens,
		clock:        clockwork.NewRealClock(),
	}
}

// Register обрабатывает POST /api/v1/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req api.RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.logger.WarnContext(ctx, "failed to decode register request", slog.Any("error", err))
		WriteError(w, h.logger, http.StatusBadRequest, api.ReasonInvalidRequest, "invalid request body")
		return
	}

	if err := validation.ValidateUsername(req.Username); err != nil {
		WriteError(w, h.logger, http.StatusBadRequest, api.ReasonInvalidRequest, err.Error())
		return
	}
	if req.AuthKeyHash == "" || req.PublicSalt == "" {
		WriteError(w, h.logger, http.StatusBadRequest, api.ReasonInvalidRequest, "auth_key_hash and public_salt are required")
		return
	}

	user := &models.User{
		ID:          uuid.NewString(),
		Username:    req.Username,
		AuthKeyHash: req.AuthKeyHash,
		PublicSalt:  req.PublicSalt,
		CreatedAt:   h.clock.Now(),
	}

	if err := h.userStorage.CreateUser(ctx, user); err != nil {
		if errors.Is(err, storage.ErrUserAlreadyExists) {
			h.logger.WarnContext(ctx, "user already exists", slog.String("username", req.Username))
			WriteError(w, h.logger, http.StatusConflict, api.ReasonUserExists, "username already taken")
			return
		}
		h.logger.ErrorContext(ctx, "failed to create user", slog.Any("error", err))
		WriteError(w, h.logger, http.StatusInternalServerError, api.ReasonInternal, "")
		return
	}

	h.logger.InfoContext(ctx, "user registered",
		slog.String("username", user.Username),
		slog.String("user_id", user.ID))

	WriteJSON(w, h.logger, api.RegisterResponse{UserID: user.ID}, http.StatusCreated)
}

// GetSalt обрабатывает GET /api/v1/auth/salt/{username}
func (h *AuthHandler) GetSalt(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	username := r.PathValue("username")
	if err := validation.ValidateUsername(username); err != nil {
		WriteError(w, h.logger, http.StatusBadRequest, api.ReasonInvalidRequest, err.Error())
		return
	}

	user, err := h.userStorage.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			WriteError(w, h.logger, http.StatusNotFound, api.ReasonUserNotFound, "")
			return
		}
		h.logger.ErrorContext(ctx, "failed to get user", slog.Any("error", err))
		WriteError(w, h.logger, http.StatusInternalServerError, api.ReasonInternal, "")
		return
	}

	WriteJSON(w, h.logger, api.SaltResponse{PublicSalt: user.PublicSalt}, http.StatusOK)
}

// Login обрабатывает POST /api/v1/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req api.LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.logger.WarnContext(ctx, "failed to decode login request", slog.Any("error", err))
		WriteError(w, h.logger, http.StatusBadRequest, api.ReasonInvalidRequest, "invalid request body")
		return
	}

	if err := validation.ValidateUsername(req.Username); err != nil {
		WriteError(w, h.logger, http.StatusBadRequest, api.ReasonInvalidRequest, err.Error())
		return
	}
	if req.AuthKeyHash == "" {
		WriteError(w, h.logger, http.StatusBadRequest, api.ReasonInvalidRequest, "auth_key_hash is required")
		return
	}

	user, err := h.userStorage.GetUserByUsername(ctx, req.Username)
	if err != nil && !errors.Is(err, storage.ErrUserNotFound) {
		h.logger.ErrorContext(ctx, "failed to get user", slog.Any("error", err))
		WriteError(w, h.logger, http.StatusInternalServerError, api.ReasonInternal, "")
		return
	}

	// неизвестный пользователь и неверный ключ неразличимы для клиента
	if user == nil || !crypto.AccountKeyHashEqual(user.AuthKeyHash, req.AuthKeyHash) {
		h.logger.WarnContext(ctx, "login failed", slog.String("username", req.Username))
		WriteError(w, h.logger, http.StatusUnauthorized, api.ReasonBadCredentials, "")
		return
	}

	resp, err := h.issueTokens(r, user)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to issue tokens", slog.Any("error", err))
		WriteError(w, h.logger, http.StatusInternalServerError, api.ReasonInternal, "")
		return
	}

	if err := h.userStorage.UpdateLastLogin(ctx, user.ID, h.clock.Now()); err != nil {
		// не критично
		h.logger.WarnContext(ctx, "failed to update last login", slog.Any("error", err))
	}

	h.logger.InfoContext(ctx, "user logged in", slog.String("user_id", user.ID))
	WriteJSON(w, h.logger, resp, http.StatusOK)
}

// Refresh обрабатывает POST /api/v1/auth/refresh.
// Refresh token передается в Authorization: Bearer и после обмена
// становится недействительным.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	refreshToken, ok := BearerToken(r)
	if !ok {
		WriteError(w, h.logger, http.StatusUnauthorized, api.ReasonUnauthorized, "refresh token is required")
		return
	}

	tokenHash := jwt.HashRefreshToken(refreshToken)
	stored, err := h.tokenStorage.GetRefreshToken(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) {
			h.logger.WarnContext(ctx, "refresh token not found")
			WriteError(w, h.logger, http.StatusUnauthorized, api.ReasonUnauthorized, "invalid refresh token")
			return
		}
		h.logger.ErrorContext(ctx, "failed to get refresh token", slog.Any("error", err))
		WriteError(w, h.logger, http.StatusInternalServerError, api.ReasonInternal, "")
		return
	}

	if h.clock.Now().After(stored.ExpiresAt) {
		h.logger.WarnContext(ctx, "refresh token expired", slog.String("user_id", stored.UserID))
		WriteError(w, h.logger, http.StatusUnauthorized, api.ReasonUnauthorized, "refresh token expired")
		return
	}

	user, err := h.userStorage.GetUserByID(ctx, stored.UserID)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to get user", slog.Any("error", err))
		WriteError(w, h.logger, http.StatusInternalServerError, api.ReasonInternal, "")
		return
	}

	if err := h.tokenStorage.DeleteRefreshToken(ctx, tokenHash); err != nil {
		// параллельный обмен того же токена: выигрывает первый
		if errors.Is(err, storage.ErrTokenNotFound) {
			WriteError(w, h.logger, http.StatusUnauthorized, api.ReasonUnauthorized, "invalid refresh token")
			return
		}
		h.logger.ErrorContext(ctx, "failed to delete refresh token", slog.Any("error", err))
		WriteError(w, h.logger, http.StatusInternalServerError, api.ReasonInternal, "")
		return
	}

	resp, err := h.issueTokens(r, user)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to issue tokens", slog.Any("error", err))
		WriteError(w, h.logger, http.StatusInternalServerError, api.ReasonInternal, "")
		return
	}

	h.logger.InfoContext(ctx, "tokens refreshed", slog.String("user_id", user.ID))
	WriteJSON(w, h.logger, resp, http.StatusOK)
}

// Logout обрабатывает POST /api/v1/auth/logout.
// Удаляет все refresh tokens пользователя.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := GetUserID(ctx)
	if !ok {
		WriteError(w, h.logger, http.StatusUnauthorized, api.ReasonUnauthorized, "")
		return
	}

	deleted, err := h.tokenStorage.DeleteUserTokens(ctx, userID)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to delete user tokens", slog.Any("error", err))
		WriteError(w, h.logger, http.StatusInternalServerError, api.ReasonInternal, "")
		return
	}

	h.logger.InfoContext(ctx, "user logged out",
		slog.String("user_id", userID),
		slog.Int("tokens_deleted", deleted))

	w.WriteHeader(http.StatusNoContent)
}

// issueTokens выпускает access token и сохраняет хеш нового refresh token
func (h *AuthHandler) issueTokens(r *http.Request, user *models.User) (*api.TokenResponse, error) {
	accessToken, expiresIn, err := h.tokens.GenerateAccessToken(user.ID, user.Username)
	if err != nil {
		return nil, err
	}

	refreshToken, expiresAt, err := h.tokens.GenerateRefreshToken()
	if err != nil {
		return nil, err
	}

	if err := h.tokenStorage.SaveRefreshToken(r.Context(), &models.RefreshToken{
		TokenHash: jwt.HashRefreshToken(refreshToken),
		UserID:    user.ID,
		ExpiresAt: expiresAt,
		CreatedAt: h.clock.Now(),
	}); err != nil {
		return nil, err
	}

	return &api.TokenResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    expiresIn,
	}, nil
}

// BearerToken извлекает токен из заголовка Authorization: Bearer <token>
func BearerToken(r *http.Request) (string, bool) {
	scheme, token, found := strings.Cut(r.Header.Get("Authorization"), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
