package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/wizary/internal/middleware"
	"github.com/hitoshi/wizary/internal/model"
)

// HealthChecker はDB疎通確認のインターフェース。*sql.DBが実装する。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Authenticator     middleware.Authenticator
	IsAdmin           func(*model.EffectiveUser) bool
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	StatusRecorder    middleware.StatusRecorder

	// ヘルスチェック・メトリクス
	HealthChecker  HealthChecker
	MetricsHandler http.Handler

	// サービス
	AuthService         AuthServiceInterface
	AdminService        AdminServiceInterface
	SubscriptionService SubscriptionServiceInterface
}

// healthCheckTimeout は/healthのDB疎通確認の上限時間。
const healthCheckTimeout = 2 * time.Second

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RealIP → Recovery → Metrics → SecurityHeaders → CORS → (ルートごと) Auth → RateLimit → RequireAdmin
//
// ログイン・検証・登録は認証不要ルートに配置し、ログインのみIP単位のレート制限を掛ける。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(middleware.NewRecoveryMiddleware())
	if deps.StatusRecorder != nil {
		r.Use(middleware.NewMetricsMiddleware(deps.StatusRecorder))
	}
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.AuthService)
	adminHandler := NewAdminHandler(deps.AdminService, deps.SubscriptionService)

	// --- 認証不要のルート ---
	r.Get("/health", healthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	r.Route("/api/auth", func(r chi.Router) {
		r.With(deps.RateLimiter.LoginMiddleware()).Post("/login", authHandler.Login)
		r.Post("/verify", authHandler.Verify)
		r.Post("/register", authHandler.Register)

		// --- 認証が必要なルート ---
		r.Group(func(r chi.Router) {
			r.Use(middleware.NewAuthMiddleware(deps.Authenticator))
			r.Use(deps.RateLimiter.GeneralMiddleware())

			r.Post("/logout", authHandler.Logout)
			r.Post("/logout-all", authHandler.LogoutAll)
			r.Get("/me", authHandler.Me)
		})
	})

	// --- 管理者専用ルート ---
	// ミドルウェアスタック: Auth → RateLimit(General) → RequireAdmin
	r.Route("/api/admin", func(r chi.Router) {
		r.Use(middleware.NewAuthMiddleware(deps.Authenticator))
		r.Use(deps.RateLimiter.GeneralMiddleware())
		r.Use(middleware.NewRequireAdminMiddleware(deps.IsAdmin))

		r.Post("/unlock", adminHandler.Unlock)
		r.Post("/lock", adminHandler.Lock)
		r.Get("/users/{userId}/sessions", adminHandler.SessionStatus)

		r.Route("/subscriptions", func(r chi.Router) {
			r.Post("/", adminHandler.GrantSubscription)
			r.Get("/{userId}", adminHandler.GetSubscription)
			r.Delete("/{userId}", adminHandler.RevokeSubscription)
		})
	})

	return r
}

// healthHandler はDB疎通を確認するヘルスチェックハンドラーを返す。
// GET /health
func healthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
			defer cancel()
			if err := checker.PingContext(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
