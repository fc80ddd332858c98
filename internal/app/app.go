package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/wizary/internal/auth"
	"github.com/hitoshi/wizary/internal/config"
	"github.com/hitoshi/wizary/internal/database"
	"github.com/hitoshi/wizary/internal/entitlement"
	"github.com/hitoshi/wizary/internal/handler"
	"github.com/hitoshi/wizary/internal/logger"
	"github.com/hitoshi/wizary/internal/metrics"
	"github.com/hitoshi/wizary/internal/middleware"
	"github.com/hitoshi/wizary/internal/repository"
	"github.com/hitoshi/wizary/internal/session"
	"github.com/hitoshi/wizary/internal/subscription"
	"github.com/hitoshi/wizary/internal/token"
	"github.com/hitoshi/wizary/internal/worker/cleanup"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, logger.ParseLevel(os.Getenv("LOG_LEVEL")))

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("env", cfg.AppEnv),
		slog.String("port", cfg.ServerPort),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL, database.DefaultPoolConfig())
	if err != nil {
		return nil, err
	}
	if err := database.Ping(context.Background(), db, cfg.StoreTimeout); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// openSubscriptionStore はSUBSCRIPTION_STOREに応じた購読ストアを返す。
// 返されるclose関数は外部接続を持つ場合のみ実処理を行う。
func openSubscriptionStore(ctx context.Context, cfg *config.Config, db *sql.DB) (repository.SubscriptionRepository, func() error, error) {
	if cfg.SubscriptionStore != "redis" {
		return repository.NewPostgresSubscriptionRepo(db, cfg.StoreTimeout), func() error { return nil }, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.StoreTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	slog.Info("subscription store: redis", slog.String("addr", opts.Addr))
	return repository.NewRedisSubscriptionRepo(rdb, cfg.StoreTimeout), rdb.Close, nil
}

// services はserveモードで組み立てるドメインサービス群。
type services struct {
	gateway       *auth.Gateway
	subscriptions *subscription.Service
	codec         *token.Codec
}

// buildServices はリポジトリからゲートウェイまでの依存関係をワイヤリングする。
func buildServices(cfg *config.Config, db *sql.DB, subRepo repository.SubscriptionRepository, collector metrics.MetricsCollector) (*services, error) {
	// 1. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db, cfg.StoreTimeout)
	sessionRepo := repository.NewPostgresSessionRepo(db, cfg.StoreTimeout)

	// 2. トークンコーデック
	secret, isDevelopmentDefault := cfg.SigningSecret()
	codec, err := token.NewCodec(secret, cfg.JWTIssuer, token.WithDevelopmentSecret(isDevelopmentDefault))
	if err != nil {
		return nil, fmt.Errorf("failed to create token codec: %w", err)
	}
	if codec.UsingDevelopmentSecret() {
		slog.Warn("JWT_SECRET is not set; using development signing secret")
	}

	// 3. ドメインサービスの初期化
	manager := session.NewManager(userRepo, sessionRepo, codec, collector, session.Config{
		MaxActiveSessions: cfg.MaxActiveSessions,
		SessionLifetime:   cfg.SessionLifetime,
	})
	calculator := entitlement.NewCalculator(subRepo, cfg.TrialPeriod)

	gateway, err := auth.NewGateway(
		userRepo, manager, codec, calculator,
		auth.NewBcryptHasher(cfg.BcryptCost), collector,
		auth.Config{AdminCodePrefix: cfg.AdminCodePrefix},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create auth gateway: %w", err)
	}

	return &services{
		gateway:       gateway,
		subscriptions: subscription.NewService(subRepo, userRepo),
		codec:         codec,
	}, nil
}

// buildRouter はHTTPルーターを構成する。
func buildRouter(cfg *config.Config, db *sql.DB, svc *services, collector *metrics.Collector, gatherer prometheus.Gatherer, rl *middleware.RateLimiter) http.Handler {
	return handler.NewRouter(&handler.RouterDeps{
		Authenticator:     svc.gateway,
		IsAdmin:           svc.gateway.IsAdmin,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rl,
		StatusRecorder:    collector,

		HealthChecker:  db,
		MetricsHandler: metrics.Handler(gatherer),

		AuthService:         svc.gateway,
		AdminService:        svc.gateway,
		SubscriptionService: svc.subscriptions,
	})
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	// 2. 購読ストア
	subRepo, closeSubs, err := openSubscriptionStore(context.Background(), cfg, db)
	if err != nil {
		return err
	}
	defer closeSubs()

	// 3. メトリクス
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 4. サービスとルーターの構築
	svc, err := buildServices(cfg, db, subRepo, collector)
	if err != nil {
		return err
	}

	rl := middleware.NewRateLimiter(middleware.RateLimiterConfigFromPerMinute(cfg.RateLimitGeneral, cfg.RateLimitLogin))
	defer rl.Stop()

	router := middleware.NewLoggingMiddleware(slog.Default())(
		buildRouter(cfg, db, svc, collector, registry, rl),
	)

	// 5. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
			slog.Int("max_active_sessions", cfg.MaxActiveSessions),
			slog.Duration("session_lifetime", cfg.SessionLifetime),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、セッションクリーンアップジョブを定期実行する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	sessionRepo := repository.NewPostgresSessionRepo(db, cfg.StoreTimeout)
	job := cleanup.NewCleanupJob(sessionRepo, collector, slog.Default())
	job.Retention = cfg.SessionPurgeAfter

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ワーカーは/metricsのみを公開する
	metricsServer := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           metrics.SetupMetricsRoute(registry),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server error", slog.String("error", err.Error()))
		}
	}()

	slog.Info("worker starting",
		slog.Duration("purge_interval", cfg.SessionPurgeInterval),
		slog.Duration("purge_after", cfg.SessionPurgeAfter),
	)

	job.Start(ctx, cfg.SessionPurgeInterval)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("metrics server shutdown failed", slog.String("error", err.Error()))
	}

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully", slog.Uint64("version", uint64(version)))
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
