// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/wizary/internal/auth"
	"github.com/hitoshi/wizary/internal/middleware"
	"github.com/hitoshi/wizary/internal/model"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Login(ctx context.Context, email, password string, meta model.RequestMetadata) (*auth.LoginResult, error)
	Authenticate(ctx context.Context, token string) (*model.EffectiveUser, error)
	Logout(ctx context.Context, token string) error
	LogoutEverywhere(ctx context.Context, userID string) error
	Register(ctx context.Context, email, password, code string) (*model.EffectiveUser, error)
}

// AuthHandler はログイン・トークン検証・登録のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface) *AuthHandler {
	return &AuthHandler{service: service}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string               `json:"token"`
	ExpiresAt time.Time            `json:"expiresAt"`
	User      *model.EffectiveUser `json:"user"`
}

type verifyRequest struct {
	Token string `json:"token"`
}

type verifyResponse struct {
	Valid bool                 `json:"valid"`
	User  *model.EffectiveUser `json:"user,omitempty"`
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Code     string `json:"code"`
}

type userResponse struct {
	User *model.EffectiveUser `json:"user"`
}

// Login はメールアドレスとパスワードで認証し、トークンを発行する。
// POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	meta := model.RequestMetadata{
		UserAgent: r.UserAgent(),
		IPAddress: middleware.ClientIP(r),
	}
	result, err := h.service.Login(r.Context(), req.Email, req.Password, meta)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Token:     result.Token,
		ExpiresAt: result.ExpiresAt,
		User:      result.User,
	})
}

// Verify はトークンの有効性を返す。
// 無効なトークンでもエラーステータスにはせず、常に200で{valid:false}を返す。
// POST /api/auth/verify
func (h *AuthHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	user, err := h.service.Authenticate(r.Context(), req.Token)
	if err != nil {
		writeJSON(w, http.StatusOK, verifyResponse{Valid: false})
		return
	}
	writeJSON(w, http.StatusOK, verifyResponse{Valid: true, User: user})
}

// Register は登録コードを使ってユーザーを作成する。
// POST /api/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	user, err := h.service.Register(r.Context(), req.Email, req.Password, req.Code)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, userResponse{User: user})
}

// Logout はリクエストのトークンに紐づくセッションのみを無効化する。
// POST /api/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	token, ok := middleware.BearerToken(r)
	if !ok {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	if err := h.service.Logout(r.Context(), token); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// LogoutAll はユーザーの全セッションを無効化する。
// POST /api/auth/logout-all
func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	if err := h.service.LogoutEverywhere(r.Context(), userID); err != nil {
		handleServiceError(w, err)
		return
	}
	slog.Info("user logged out everywhere", slog.String("user_id", userID))
	w.WriteHeader(http.StatusNoContent)
}

// Me は現在のログインユーザーの実効アクセス権を返す。
// GET /api/auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.UserFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}
	writeJSON(w, http.StatusOK, user)
}
