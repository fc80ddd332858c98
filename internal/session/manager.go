// Package session はログインセッションの発行・検証と、
// アカウント単位の同時セッション数制限（上限超過時の自動ロック）を提供する。
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/wizary/internal/metrics"
	"github.com/hitoshi/wizary/internal/model"
	"github.com/hitoshi/wizary/internal/repository"
)

// ポリシーのデフォルト値
const (
	DefaultMaxActiveSessions = 1
	DefaultSessionLifetime   = 24 * time.Hour
)

// sessionKeyBytes はセッションキーの乱数バイト長。
const sessionKeyBytes = 32

// Config はセッションポリシーの設定。
type Config struct {
	MaxActiveSessions int
	SessionLifetime   time.Duration
}

// TokenIssuer はセッションキーに紐づくトークンを発行する。
type TokenIssuer interface {
	Issue(sessionKey, userID string, expiresAt time.Time) (string, error)
}

// IssuedSession は作成したセッションと、それに紐づくトークン。
type IssuedSession struct {
	Token   string
	Session *model.Session
}

// Manager はセッションのライフサイクルとアカウントロックを管理する。
type Manager struct {
	users    repository.UserRepository
	sessions repository.SessionRepository
	tokens   TokenIssuer
	metrics  metrics.MetricsCollector
	cfg      Config
	now      func() time.Time
}

// NewManager はManagerを生成する。未設定のポリシー値はデフォルト値で補う。
func NewManager(
	users repository.UserRepository,
	sessions repository.SessionRepository,
	tokens TokenIssuer,
	m metrics.MetricsCollector,
	cfg Config,
) *Manager {
	if cfg.MaxActiveSessions < 1 {
		cfg.MaxActiveSessions = DefaultMaxActiveSessions
	}
	if cfg.SessionLifetime <= 0 {
		cfg.SessionLifetime = DefaultSessionLifetime
	}
	if m == nil {
		m = metrics.Nop{}
	}
	return &Manager{
		users:    users,
		sessions: sessions,
		tokens:   tokens,
		metrics:  m,
		cfg:      cfg,
		now:      time.Now,
	}
}

// SetClock はテスト用に現在時刻の取得関数を差し替える。
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// Limit は同時セッション数の上限を返す。
func (m *Manager) Limit() int {
	return m.cfg.MaxActiveSessions
}

// CreateSession はユーザーの新しいセッションを作成し、トークンを発行する。
//
// ロック済みのアカウントは件数確認より先にmodel.ErrAccountLockedで拒否する。
// 有効セッション数が上限に達している場合はアカウントをロックし、
// model.ErrConcurrencyLimitExceededをラップしたmodel.ErrAccountLockedを返す。
// 件数確認と作成はストア側でユーザー単位に直列化される。
func (m *Manager) CreateSession(ctx context.Context, userID string, meta model.RequestMetadata) (*IssuedSession, error) {
	user, err := m.users.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if user == nil {
		return nil, fmt.Errorf("create session for %s: %w", userID, model.ErrUserNotFound)
	}
	if user.IsLocked {
		return nil, fmt.Errorf("create session for %s: %w", userID, model.ErrAccountLocked)
	}

	key, err := generateSessionKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session key: %w", err)
	}

	now := m.now()
	session := &model.Session{
		ID:         uuid.New().String(),
		UserID:     userID,
		SessionKey: key,
		UserAgent:  meta.UserAgent,
		IPAddress:  meta.IPAddress,
		IsActive:   true,
		CreatedAt:  now,
		ExpiresAt:  now.Add(m.cfg.SessionLifetime),
	}

	err = m.sessions.CreateWithinLimit(ctx, session, m.cfg.MaxActiveSessions, now)
	switch {
	case errors.Is(err, model.ErrConcurrencyLimitExceeded):
		m.metrics.RecordAutoLock()
		slog.Warn("account locked: concurrent session limit exceeded",
			slog.String("user_id", userID),
			slog.Int("limit", m.cfg.MaxActiveSessions),
			slog.String("ip_address", meta.IPAddress),
		)
		return nil, fmt.Errorf("%w: %w", model.ErrAccountLocked, model.ErrConcurrencyLimitExceeded)
	case err != nil:
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	token, err := m.tokens.Issue(session.SessionKey, userID, session.ExpiresAt)
	if err != nil {
		// トークンを返せないセッションは残さない
		if derr := m.sessions.DeactivateByKey(context.WithoutCancel(ctx), session.SessionKey); derr != nil {
			slog.Error("failed to deactivate orphaned session",
				slog.String("user_id", userID),
				slog.String("error", derr.Error()),
			)
		}
		return nil, fmt.Errorf("failed to issue token: %w", err)
	}

	slog.Info("session created",
		slog.String("user_id", userID),
		slog.String("session_id", session.ID),
		slog.Time("expires_at", session.ExpiresAt),
	)
	return &IssuedSession{Token: token, Session: session}, nil
}

// CheckActiveSessionCount は現在の有効セッション数と、上限に達しているかを返す。
// 副作用を持たない。
func (m *Manager) CheckActiveSessionCount(ctx context.Context, userID string) (int, bool, error) {
	count, err := m.sessions.CountActiveByUserID(ctx, userID, m.now())
	if err != nil {
		return 0, false, fmt.Errorf("failed to count active sessions: %w", err)
	}
	return count, count >= m.cfg.MaxActiveSessions, nil
}

// DeactivateAllSessions はユーザーの全セッションを期限に関わらず無効化する。冪等。
func (m *Manager) DeactivateAllSessions(ctx context.Context, userID string) error {
	n, err := m.sessions.DeactivateByUserID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to deactivate sessions: %w", err)
	}
	slog.Info("sessions deactivated",
		slog.String("user_id", userID),
		slog.Int64("count", n),
	)
	return nil
}

// DeactivateSession は指定セッションのみを無効化する。冪等。
func (m *Manager) DeactivateSession(ctx context.Context, sessionKey string) error {
	if err := m.sessions.DeactivateByKey(ctx, sessionKey); err != nil {
		return fmt.Errorf("failed to deactivate session: %w", err)
	}
	return nil
}

// UnlockAccount はアカウントのロックを解除する。セッションは無効化しない。
func (m *Manager) UnlockAccount(ctx context.Context, userID string) error {
	if err := m.users.SetLocked(ctx, userID, false); err != nil {
		return fmt.Errorf("failed to unlock account: %w", err)
	}
	slog.Info("account unlocked", slog.String("user_id", userID))
	return nil
}

// LockAccount はアカウントをロックする。
func (m *Manager) LockAccount(ctx context.Context, userID string) error {
	if err := m.users.SetLocked(ctx, userID, true); err != nil {
		return fmt.Errorf("failed to lock account: %w", err)
	}
	slog.Info("account locked", slog.String("user_id", userID))
	return nil
}

// ValidateSession はセッションキーから有効なセッションと所有ユーザーを取得する。
// 有効期限はストアの値ではなく呼び出し時点の時刻で再評価する。
func (m *Manager) ValidateSession(ctx context.Context, sessionKey string) (*model.Session, *model.User, error) {
	now := m.now()
	session, err := m.sessions.FindActiveByKey(ctx, sessionKey, now)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil || !session.IsActiveAt(now) {
		return nil, nil, model.ErrSessionInactive
	}

	user, err := m.users.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load session owner: %w", err)
	}
	if user == nil {
		return nil, nil, fmt.Errorf("session owner %s: %w", session.UserID, model.ErrUserNotFound)
	}
	return session, user, nil
}

// generateSessionKey は暗号的に安全なセッションキーを生成する。
func generateSessionKey() (string, error) {
	b := make([]byte, sessionKeyBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
