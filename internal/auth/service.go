// Package auth はログイン、トークン認証、登録、管理者によるロック操作を束ねる認証ゲートウェイを提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/wizary/internal/metrics"
	"github.com/hitoshi/wizary/internal/model"
	"github.com/hitoshi/wizary/internal/repository"
	"github.com/hitoshi/wizary/internal/session"
	"github.com/hitoshi/wizary/internal/token"
)

// 認証失敗理由のメトリクスラベル
const (
	reasonInvalidToken     = "invalid_token"
	reasonSessionInactive  = "session_inactive"
	reasonUserNotFound     = "user_not_found"
	reasonSubjectMismatch  = "subject_mismatch"
	reasonStoreUnavailable = "store_unavailable"
	reasonEntitlement      = "entitlement_error"
	reasonInternal         = "internal_error"
)

// 登録時のパスワード長の制約
const (
	minPasswordLength = 8
	maxEmailLength    = 320
)

// dummyPassword は存在しないメールアドレスでも照合時間を揃えるためのダミーハッシュの元。
const dummyPassword = "wizary-timing-equalizer"

// SessionManager はセッション管理のインターフェース。
type SessionManager interface {
	CreateSession(ctx context.Context, userID string, meta model.RequestMetadata) (*session.IssuedSession, error)
	CheckActiveSessionCount(ctx context.Context, userID string) (int, bool, error)
	DeactivateAllSessions(ctx context.Context, userID string) error
	DeactivateSession(ctx context.Context, sessionKey string) error
	UnlockAccount(ctx context.Context, userID string) error
	LockAccount(ctx context.Context, userID string) error
	ValidateSession(ctx context.Context, sessionKey string) (*model.Session, *model.User, error)
	Limit() int
}

// TokenDecoder はトークンの検証インターフェース。
type TokenDecoder interface {
	Decode(tokenString string) (*token.SessionClaims, error)
}

// EntitlementCalculator は実効アクセス権の計算インターフェース。
type EntitlementCalculator interface {
	ComputeEffectiveAccess(ctx context.Context, user *model.User, now time.Time) (*model.EffectiveUser, error)
}

// Config は認証ゲートウェイの設定。
type Config struct {
	AdminCodePrefix string
}

// LoginResult はログイン成功時の結果。
type LoginResult struct {
	Token     string
	ExpiresAt time.Time
	User      *model.EffectiveUser
}

// SessionStatus はユーザーの同時セッション状況（診断用）。
type SessionStatus struct {
	ActiveSessions int  `json:"activeSessions"`
	ShouldLock     bool `json:"shouldLock"`
	Limit          int  `json:"limit"`
}

// Gateway は認証に関するビジネスロジックを提供する。
// トークン認証ではどの段階で失敗しても単一のErrUnauthenticatedを返し、理由はログとメトリクスにのみ残す。
type Gateway struct {
	users     repository.UserRepository
	sessions  SessionManager
	tokens    TokenDecoder
	calc      EntitlementCalculator
	hasher    PasswordHasher
	metrics   metrics.MetricsCollector
	config    Config
	dummyHash string
	now       func() time.Time
}

// NewGateway はGatewayを生成する。
func NewGateway(
	users repository.UserRepository,
	sessions SessionManager,
	tokens TokenDecoder,
	calc EntitlementCalculator,
	hasher PasswordHasher,
	m metrics.MetricsCollector,
	config Config,
) (*Gateway, error) {
	dummy, err := hasher.Hash(dummyPassword)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare dummy hash: %w", err)
	}
	if m == nil {
		m = metrics.Nop{}
	}
	return &Gateway{
		users:     users,
		sessions:  sessions,
		tokens:    tokens,
		calc:      calc,
		hasher:    hasher,
		metrics:   m,
		config:    config,
		dummyHash: dummy,
		now:       time.Now,
	}, nil
}

// SetClock はテスト用に現在時刻の取得関数を差し替える。
func (g *Gateway) SetClock(now func() time.Time) {
	g.now = now
}

// Login はメールアドレスとパスワードで認証し、新しいセッションのトークンを発行する。
//
// メールアドレス不在・パスワード不一致・アカウントロックはいずれもmodel.ErrInvalidCredentialsを返す。
// 内部の原因はエラーチェーンに残し、ログにのみ出力する。
// ストア障害はmodel.ErrStoreUnavailableとして区別して返す。
func (g *Gateway) Login(ctx context.Context, email, password string, meta model.RequestMetadata) (*LoginResult, error) {
	start := time.Now()
	defer func() { g.metrics.RecordLoginLatency(time.Since(start)) }()

	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		g.metrics.RecordLogin(metrics.LoginInvalidCredentials)
		return nil, model.ErrInvalidCredentials
	}

	user, err := g.users.FindByEmail(ctx, email)
	if err != nil {
		g.recordLoginError(err)
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		// 照合時間でメールアドレスの存在を推測されないようにダミー照合を行う
		_ = g.hasher.Compare(g.dummyHash, password)
		g.metrics.RecordLogin(metrics.LoginInvalidCredentials)
		slog.Info("login rejected", slog.String("reason", "unknown_email"))
		return nil, fmt.Errorf("%w: %w", model.ErrInvalidCredentials, model.ErrUserNotFound)
	}

	if err := g.hasher.Compare(user.PasswordHash, password); err != nil {
		g.metrics.RecordLogin(metrics.LoginInvalidCredentials)
		slog.Info("login rejected",
			slog.String("user_id", user.ID),
			slog.String("reason", "password_mismatch"),
		)
		return nil, fmt.Errorf("%w: %w", model.ErrInvalidCredentials, err)
	}

	issued, err := g.sessions.CreateSession(ctx, user.ID, meta)
	if err != nil {
		switch {
		case errors.Is(err, model.ErrConcurrencyLimitExceeded):
			g.metrics.RecordLogin(metrics.LoginLimitExceeded)
		case errors.Is(err, model.ErrAccountLocked):
			g.metrics.RecordLogin(metrics.LoginLocked)
		case errors.Is(err, model.ErrUserNotFound):
			g.metrics.RecordLogin(metrics.LoginInvalidCredentials)
		default:
			g.recordLoginError(err)
			return nil, fmt.Errorf("failed to create session: %w", err)
		}
		slog.Info("login rejected",
			slog.String("user_id", user.ID),
			slog.String("reason", err.Error()),
		)
		return nil, fmt.Errorf("%w: %w", model.ErrInvalidCredentials, err)
	}

	login := issued.Session.CreatedAt
	user.LastLoginAt = &login

	effective, err := g.calc.ComputeEffectiveAccess(ctx, user, g.now())
	if err != nil {
		g.recordLoginError(err)
		return nil, fmt.Errorf("failed to compute entitlement: %w", err)
	}

	g.metrics.RecordLogin(metrics.LoginSuccess)
	slog.Info("user logged in",
		slog.String("user_id", user.ID),
		slog.String("session_id", issued.Session.ID),
	)
	return &LoginResult{
		Token:     issued.Token,
		ExpiresAt: issued.Session.ExpiresAt,
		User:      effective,
	}, nil
}

func (g *Gateway) recordLoginError(err error) {
	if errors.Is(err, model.ErrStoreUnavailable) {
		g.metrics.RecordLogin(metrics.LoginStoreUnavailable)
	} else {
		g.metrics.RecordLogin(metrics.LoginError)
	}
	slog.Error("login failed", slog.String("error", err.Error()))
}

// Authenticate はトークンを検証し、実効アクセス権付きのユーザーを返す。
// decode → セッション検証 → ユーザー読み込み → アクセス権計算の順に処理し、
// いずれかで失敗した場合はmodel.ErrUnauthenticatedのみを返す。
func (g *Gateway) Authenticate(ctx context.Context, tokenString string) (*model.EffectiveUser, error) {
	claims, err := g.tokens.Decode(tokenString)
	if err != nil {
		return nil, g.authFailure(reasonInvalidToken, err)
	}

	_, user, err := g.sessions.ValidateSession(ctx, claims.SessionKey)
	if err != nil {
		return nil, g.authFailure(validationReason(err), err)
	}
	if user.ID != claims.UserID() {
		return nil, g.authFailure(reasonSubjectMismatch, fmt.Errorf("token subject %s does not own session", claims.UserID()))
	}

	effective, err := g.calc.ComputeEffectiveAccess(ctx, user, g.now())
	if err != nil {
		reason := reasonEntitlement
		if errors.Is(err, model.ErrStoreUnavailable) {
			reason = reasonStoreUnavailable
		}
		return nil, g.authFailure(reason, err)
	}
	return effective, nil
}

func validationReason(err error) string {
	switch {
	case errors.Is(err, model.ErrSessionInactive):
		return reasonSessionInactive
	case errors.Is(err, model.ErrUserNotFound):
		return reasonUserNotFound
	case errors.Is(err, model.ErrStoreUnavailable):
		return reasonStoreUnavailable
	default:
		return reasonInternal
	}
}

func (g *Gateway) authFailure(reason string, cause error) error {
	g.metrics.RecordAuthFailure(reason)
	level := slog.LevelDebug
	if reason == reasonStoreUnavailable || reason == reasonInternal || reason == reasonSubjectMismatch {
		level = slog.LevelWarn
	}
	slog.Log(context.Background(), level, "authentication failed",
		slog.String("reason", reason),
		slog.String("error", cause.Error()),
	)
	return model.ErrUnauthenticated
}

// Logout はトークンに紐づくセッションのみを無効化する。
func (g *Gateway) Logout(ctx context.Context, tokenString string) error {
	claims, err := g.tokens.Decode(tokenString)
	if err != nil {
		return g.authFailure(reasonInvalidToken, err)
	}
	if err := g.sessions.DeactivateSession(ctx, claims.SessionKey); err != nil {
		return fmt.Errorf("failed to logout: %w", err)
	}
	slog.Info("user logged out", slog.String("user_id", claims.UserID()))
	return nil
}

// LogoutEverywhere はユーザーの全セッションを無効化する。
func (g *Gateway) LogoutEverywhere(ctx context.Context, userID string) error {
	if err := g.sessions.DeactivateAllSessions(ctx, userID); err != nil {
		return fmt.Errorf("failed to logout everywhere: %w", err)
	}
	return nil
}

// AdminUnlock はアカウントのロックを解除し、続けて全セッションを無効化する。
// 解除後は全端末で再ログインが必要になる。
func (g *Gateway) AdminUnlock(ctx context.Context, userID string) error {
	if err := g.sessions.UnlockAccount(ctx, userID); err != nil {
		return fmt.Errorf("failed to unlock: %w", err)
	}
	if err := g.sessions.DeactivateAllSessions(ctx, userID); err != nil {
		return fmt.Errorf("failed to deactivate sessions after unlock: %w", err)
	}
	return nil
}

// AdminLock はアカウントを手動でロックする。既存セッションは無効化しない。
func (g *Gateway) AdminLock(ctx context.Context, userID string) error {
	if err := g.sessions.LockAccount(ctx, userID); err != nil {
		return fmt.Errorf("failed to lock: %w", err)
	}
	return nil
}

// Register は登録コードを消費してユーザーを作成する。
// 登録コードはそのままユーザーのunique_code（ロールマーカー）になる。
func (g *Gateway) Register(ctx context.Context, email, password, code string) (*model.EffectiveUser, error) {
	email = strings.TrimSpace(email)
	code = strings.TrimSpace(code)

	if err := validateRegistration(email, password, code); err != nil {
		return nil, err
	}

	hash, err := g.hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := g.now()
	user := &model.User{
		ID:                  uuid.New().String(),
		Email:               email,
		PasswordHash:        hash,
		UniqueCode:          code,
		HasWizaryExamAccess: true,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := g.users.CreateWithRegistrationCode(ctx, user, code); err != nil {
		return nil, fmt.Errorf("failed to register user: %w", err)
	}

	slog.Info("user registered", slog.String("user_id", user.ID))
	effective, err := g.calc.ComputeEffectiveAccess(ctx, user, now)
	if err != nil {
		return nil, fmt.Errorf("failed to compute entitlement: %w", err)
	}
	return effective, nil
}

func validateRegistration(email, password, code string) error {
	if email == "" || len(email) > maxEmailLength {
		return model.NewInvalidRequestError("メールアドレスが不正です")
	}
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return model.NewInvalidRequestError("メールアドレスが不正です")
	}
	if len(password) < minPasswordLength {
		return model.NewInvalidRequestError(fmt.Sprintf("パスワードは%d文字以上必要です", minPasswordLength))
	}
	if len(password) > maxPasswordBytes {
		return model.NewInvalidRequestError(fmt.Sprintf("パスワードは%dバイト以下にしてください", maxPasswordBytes))
	}
	if code == "" {
		return model.NewInvalidRegistrationCodeError()
	}
	return nil
}

// SessionStatus はユーザーの有効セッション数と上限到達状況を返す。
func (g *Gateway) SessionStatus(ctx context.Context, userID string) (*SessionStatus, error) {
	user, err := g.users.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.ErrUserNotFound
	}

	count, shouldLock, err := g.sessions.CheckActiveSessionCount(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &SessionStatus{ActiveSessions: count, ShouldLock: shouldLock, Limit: g.sessions.Limit()}, nil
}

// IsAdmin はユーザーが管理者ロールを持つかを返す。
// unique_codeが管理者プレフィックスで始まる場合に管理者とみなす。
func (g *Gateway) IsAdmin(user *model.EffectiveUser) bool {
	if user == nil || g.config.AdminCodePrefix == "" {
		return false
	}
	return strings.HasPrefix(user.UniqueCode, g.config.AdminCodePrefix)
}
