// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// DevelopmentJWTSecret はJWT_SECRET未設定時に開発環境でのみ使用するデフォルト署名鍵。
// 本番環境（APP_ENV=production）では使用を許可しない。
const DevelopmentJWTSecret = "wizary-development-secret-do-not-use-in-production"

// EnvProduction は本番環境を示すAPP_ENVの値。
const EnvProduction = "production"

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Environment
	AppEnv   string `env:"APP_ENV" envDefault:"development"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Database
	DatabaseURL  string        `env:"DATABASE_URL,required"`
	StoreTimeout time.Duration `env:"STORE_TIMEOUT" envDefault:"5s"`

	// Token
	JWTSecret string `env:"JWT_SECRET"`
	JWTIssuer string `env:"JWT_ISSUER" envDefault:"wizary"`

	// Password hashing
	BcryptCost int `env:"BCRYPT_COST" envDefault:"10"`

	// Session policy
	SessionLifetime   time.Duration `env:"SESSION_LIFETIME" envDefault:"24h"`
	MaxActiveSessions int           `env:"MAX_ACTIVE_SESSIONS" envDefault:"1"`

	// Entitlement
	TrialPeriod time.Duration `env:"TRIAL_PERIOD" envDefault:"72h"`

	// Session cleanup
	SessionPurgeAfter    time.Duration `env:"SESSION_PURGE_AFTER" envDefault:"168h"`
	SessionPurgeInterval time.Duration `env:"SESSION_PURGE_INTERVAL" envDefault:"24h"`

	// Rate Limit (req/min)
	RateLimitGeneral int `env:"RATE_LIMIT_GENERAL" envDefault:"120"`
	RateLimitLogin   int `env:"RATE_LIMIT_LOGIN" envDefault:"10"`

	// Admin
	AdminCodePrefix string `env:"ADMIN_CODE_PREFIX" envDefault:"ADM-"`

	// Subscription side store: "postgres" または "redis"
	SubscriptionStore string `env:"SUBSCRIPTION_STORE" envDefault:"postgres"`
	RedisURL          string `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`

	// Server
	ServerPort        string `env:"SERVER_PORT" envDefault:"8080"`
	CORSAllowedOrigin string `env:"CORS_ALLOWED_ORIGIN" envDefault:"http://localhost:3000"`
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定、またはポリシー値が不正な場合はエラーを返す。
func Load() (*Config, error) {
	return load(env.Options{})
}

// LoadFromMap は指定したマップを環境変数の代わりに使用してConfigを読み込む。
// テストでプロセス環境変数を汚さずに設定を組み立てるために使用する。
func LoadFromMap(environ map[string]string) (*Config, error) {
	return load(env.Options{Environment: environ})
}

func load(opts env.Options) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error

	if c.JWTSecret == "" && c.IsProduction() {
		errs = append(errs, errors.New("JWT_SECRET is required when APP_ENV=production"))
	}
	if c.MaxActiveSessions < 1 {
		errs = append(errs, fmt.Errorf("MAX_ACTIVE_SESSIONS must be >= 1, got %d", c.MaxActiveSessions))
	}
	if c.SessionLifetime <= 0 {
		errs = append(errs, fmt.Errorf("SESSION_LIFETIME must be positive, got %s", c.SessionLifetime))
	}
	if c.TrialPeriod < 0 {
		errs = append(errs, fmt.Errorf("TRIAL_PERIOD must not be negative, got %s", c.TrialPeriod))
	}
	if c.StoreTimeout <= 0 {
		errs = append(errs, fmt.Errorf("STORE_TIMEOUT must be positive, got %s", c.StoreTimeout))
	}
	if c.SessionPurgeAfter < 0 {
		errs = append(errs, fmt.Errorf("SESSION_PURGE_AFTER must not be negative, got %s", c.SessionPurgeAfter))
	}
	if c.SessionPurgeInterval <= 0 {
		errs = append(errs, fmt.Errorf("SESSION_PURGE_INTERVAL must be positive, got %s", c.SessionPurgeInterval))
	}
	if c.SubscriptionStore != "postgres" && c.SubscriptionStore != "redis" {
		errs = append(errs, fmt.Errorf("SUBSCRIPTION_STORE must be postgres or redis, got %q", c.SubscriptionStore))
	}

	return errors.Join(errs...)
}

// IsProduction は本番環境で起動しているかどうかを返す。
func (c *Config) IsProduction() bool {
	return c.AppEnv == EnvProduction
}

// SigningSecret はトークン署名鍵を返す。
// JWT_SECRET未設定の場合は開発用デフォルト鍵と、それを使用していることを示すフラグを返す。
func (c *Config) SigningSecret() (secret string, isDevelopmentDefault bool) {
	if c.JWTSecret == "" {
		return DevelopmentJWTSecret, true
	}
	return c.JWTSecret, false
}
