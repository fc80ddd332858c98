// Package token はセッションに紐づく署名付きトークン（HS256 JWT）の発行と検証を行う。
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/wizary/internal/model"
)

// KindSession はセッショントークンを示すknd クレームの値。
const KindSession = "session"

// SessionClaims はセッショントークンのクレーム。
// sidはサーバー側セッションのキーで、トークン単体では認証を完結させない。
type SessionClaims struct {
	jwt.RegisteredClaims
	Kind       string `json:"knd"`
	SessionKey string `json:"sid"`
}

// UserID はsubクレームに格納されたユーザーIDを返す。
func (c *SessionClaims) UserID() string {
	return c.Subject
}

// Codec はHMAC-SHA256でトークンを署名・検証する。
type Codec struct {
	secret      []byte
	issuer      string
	development bool
	now         func() time.Time
}

// Option はCodecの設定オプション。
type Option func(*Codec)

// WithClock は検証時刻の取得関数を差し替える。
func WithClock(now func() time.Time) Option {
	return func(c *Codec) {
		c.now = now
	}
}

// WithDevelopmentSecret は開発用デフォルト鍵を使用していることを記録する。
func WithDevelopmentSecret(development bool) Option {
	return func(c *Codec) {
		c.development = development
	}
}

// NewCodec はCodecを生成する。secretが空の場合はエラーを返す。
func NewCodec(secret, issuer string, opts ...Option) (*Codec, error) {
	if secret == "" {
		return nil, errors.New("token signing secret must not be empty")
	}
	c := &Codec{
		secret: []byte(secret),
		issuer: issuer,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// UsingDevelopmentSecret は開発用デフォルト鍵で署名しているかを返す。
func (c *Codec) UsingDevelopmentSecret() bool {
	return c.development
}

// Issue はセッションキーとユーザーIDを埋め込んだトークンを発行する。
// 有効期限はセッションのexpires_atと一致させる。
func (c *Codec) Issue(sessionKey, userID string, expiresAt time.Time) (string, error) {
	if sessionKey == "" || userID == "" {
		return "", errors.New("session key and user ID are required")
	}

	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(c.now()),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Kind:       KindSession,
		SessionKey: sessionKey,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, nil
}

// Decode はトークンの署名・発行者・有効期限を検証し、クレームを返す。
// セッションキーを持たない旧形式のトークンや改ざんされたトークンはmodel.ErrInvalidTokenを返す。
func (c *Codec) Decode(tokenString string) (*SessionClaims, error) {
	if tokenString == "" {
		return nil, fmt.Errorf("%w: empty token", model.ErrInvalidToken)
	}

	claims := &SessionClaims{}
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	}
	if c.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(c.issuer))
	}

	parsed, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return c.secret, nil
	}, parserOpts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return nil, fmt.Errorf("%w: token is not valid", model.ErrInvalidToken)
	}
	if claims.Kind != KindSession || claims.SessionKey == "" {
		return nil, fmt.Errorf("%w: not a session token", model.ErrInvalidToken)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", model.ErrInvalidToken)
	}
	return claims, nil
}
