// Package repository はデータ永続化のインターフェースとPostgreSQL/Redis実装を提供する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/wizary/internal/model"
)

// UserRepository はユーザー（認証情報ストア）の永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレス（大文字小文字を区別しない）でユーザーを取得する。
	// 見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// CreateWithRegistrationCode はユーザー作成と登録コードの消費を同一トランザクションで行う。
	// コードが存在しないか使用済みの場合はmodel.ErrInvalidRegistrationCode、
	// メールアドレスが重複する場合はmodel.ErrEmailTakenを返す。
	CreateWithRegistrationCode(ctx context.Context, user *model.User, code string) error

	// SetLocked はアカウントのロック状態を更新する。
	// ユーザーが存在しない場合はmodel.ErrUserNotFoundを返す。
	SetLocked(ctx context.Context, id string, locked bool) error
}

// SessionRepository はセッションの永続化インターフェース。
// 有効判定（is_active かつ expires_at > now）はすべての読み取りで評価する。
type SessionRepository interface {
	// CreateWithinLimit はユーザー単位で直列化した上で有効セッション数を数え、
	// 上限未満であればセッションを作成してlast_login_atを更新する。
	// 上限以上の場合はアカウントをロックしてmodel.ErrConcurrencyLimitExceededを返す。
	// 既にロック済みならmodel.ErrAccountLocked、ユーザー不在ならmodel.ErrUserNotFoundを返す。
	CreateWithinLimit(ctx context.Context, session *model.Session, limit int, now time.Time) error

	// CountActiveByUserID は指定時刻における有効セッション数を返す。
	CountActiveByUserID(ctx context.Context, userID string, now time.Time) (int, error)

	// FindActiveByKey はセッションキーで有効なセッションを取得する。
	// 存在しない・無効化済み・期限切れの場合はnilを返す。
	FindActiveByKey(ctx context.Context, sessionKey string, now time.Time) (*model.Session, error)

	// DeactivateByKey は指定セッションを無効化する。冪等。
	DeactivateByKey(ctx context.Context, sessionKey string) error

	// DeactivateByUserID はユーザーの全セッションを期限に関わらず無効化し、更新件数を返す。冪等。
	DeactivateByUserID(ctx context.Context, userID string) (int64, error)
}

// SubscriptionRepository は購読期限（user_id → expires_at）の永続化インターフェース。
type SubscriptionRepository interface {
	// FindByUserID はユーザーの購読エントリを取得する。存在しない場合はnilを返す。
	FindByUserID(ctx context.Context, userID string) (*model.Subscription, error)

	// Upsert は購読エントリを作成または上書きする。
	Upsert(ctx context.Context, subscription *model.Subscription) error

	// DeleteByUserID は購読エントリを削除する。削除対象が存在した場合はtrueを返す。
	DeleteByUserID(ctx context.Context, userID string) (bool, error)
}
