package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/wizary/internal/auth"
	"github.com/hitoshi/wizary/internal/middleware"
	"github.com/hitoshi/wizary/internal/model"
	"github.com/hitoshi/wizary/internal/subscription"
)

// AdminServiceInterface は管理者ハンドラーが必要とするアカウント操作のインターフェース。
type AdminServiceInterface interface {
	AdminUnlock(ctx context.Context, userID string) error
	AdminLock(ctx context.Context, userID string) error
	SessionStatus(ctx context.Context, userID string) (*auth.SessionStatus, error)
}

// SubscriptionServiceInterface は購読管理のサービスインターフェース。
type SubscriptionServiceInterface interface {
	Grant(ctx context.Context, userID string, amount int, unit subscription.Unit) (*model.Subscription, error)
	Get(ctx context.Context, userID string) (*model.Subscription, error)
	Revoke(ctx context.Context, userID string) error
}

// AdminHandler は管理者専用APIのHTTPハンドラー。
// ルーター側で認証と管理者判定を済ませた後に呼び出される。
type AdminHandler struct {
	accounts      AdminServiceInterface
	subscriptions SubscriptionServiceInterface
}

// NewAdminHandler はAdminHandlerを生成する。
func NewAdminHandler(accounts AdminServiceInterface, subscriptions SubscriptionServiceInterface) *AdminHandler {
	return &AdminHandler{
		accounts:      accounts,
		subscriptions: subscriptions,
	}
}

type userIDRequest struct {
	UserID string `json:"userId"`
}

// grantRequest は購読付与リクエスト。monthsのみの旧形式とamount+unit形式の両方を受け付ける。
type grantRequest struct {
	UserID string `json:"userId"`
	Months int    `json:"months"`
	Amount int    `json:"amount"`
	Unit   string `json:"unit"`
}

type subscriptionResponse struct {
	UserID    string    `json:"userId"`
	ExpiresAt time.Time `json:"expiresAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func toSubscriptionResponse(sub *model.Subscription) subscriptionResponse {
	return subscriptionResponse{
		UserID:    sub.UserID,
		ExpiresAt: sub.ExpiresAt,
		UpdatedAt: sub.UpdatedAt,
	}
}

// decodeUserID はuserIdを含むリクエストボディをデコードする。
func decodeUserID(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req userIDRequest
	if !decodeJSON(w, r, &req) {
		return "", false
	}
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("userIdは必須です"))
		return "", false
	}
	return userID, true
}

// auditLog は管理操作を実行者とともに記録する。
func auditLog(r *http.Request, action, targetUserID string) {
	adminID, _ := middleware.UserIDFromContext(r.Context())
	slog.Info("admin action",
		slog.String("action", action),
		slog.String("admin_id", adminID),
		slog.String("target_user_id", targetUserID),
	)
}

// Unlock はアカウントのロックを解除し、全セッションを無効化する。
// POST /api/admin/unlock
func (h *AdminHandler) Unlock(w http.ResponseWriter, r *http.Request) {
	userID, ok := decodeUserID(w, r)
	if !ok {
		return
	}

	if err := h.accounts.AdminUnlock(r.Context(), userID); err != nil {
		handleServiceError(w, err)
		return
	}
	auditLog(r, "unlock", userID)
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// Lock はアカウントを手動でロックする。
// POST /api/admin/lock
func (h *AdminHandler) Lock(w http.ResponseWriter, r *http.Request) {
	userID, ok := decodeUserID(w, r)
	if !ok {
		return
	}

	if err := h.accounts.AdminLock(r.Context(), userID); err != nil {
		handleServiceError(w, err)
		return
	}
	auditLog(r, "lock", userID)
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// SessionStatus はユーザーの同時セッション状況を返す。
// GET /api/admin/users/{userId}/sessions
func (h *AdminHandler) SessionStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.accounts.SessionStatus(r.Context(), chi.URLParam(r, "userId"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// GrantSubscription は購読期限を延長する。
// POST /api/admin/subscriptions
func (h *AdminHandler) GrantSubscription(w http.ResponseWriter, r *http.Request) {
	var req grantRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("userIdは必須です"))
		return
	}

	amount, unit := req.Amount, subscription.UnitMonth
	if req.Unit != "" || req.Amount != 0 {
		parsed, err := subscription.ParseUnit(req.Unit)
		if err != nil {
			writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidGrantError(err.Error()))
			return
		}
		unit = parsed
	} else {
		amount = req.Months
	}

	sub, err := h.subscriptions.Grant(r.Context(), userID, amount, unit)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	auditLog(r, "grant_subscription", userID)
	writeJSON(w, http.StatusOK, toSubscriptionResponse(sub))
}

// GetSubscription はユーザーの購読エントリを返す。
// GET /api/admin/subscriptions/{userId}
func (h *AdminHandler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := h.subscriptions.Get(r.Context(), chi.URLParam(r, "userId"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSubscriptionResponse(sub))
}

// RevokeSubscription はユーザーの購読エントリを削除する。
// DELETE /api/admin/subscriptions/{userId}
func (h *AdminHandler) RevokeSubscription(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	if err := h.subscriptions.Revoke(r.Context(), userID); err != nil {
		handleServiceError(w, err)
		return
	}
	auditLog(r, "revoke_subscription", userID)
	w.WriteHeader(http.StatusNoContent)
}
