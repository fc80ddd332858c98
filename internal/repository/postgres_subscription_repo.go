package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/hitoshi/wizary/internal/model"
)

// PostgresSubscriptionRepo はPostgreSQLを使用した購読期限リポジトリ。
type PostgresSubscriptionRepo struct {
	pgStore
}

// NewPostgresSubscriptionRepo はPostgresSubscriptionRepoを生成する。
func NewPostgresSubscriptionRepo(db *sql.DB, timeout time.Duration) *PostgresSubscriptionRepo {
	return &PostgresSubscriptionRepo{pgStore{db: db, timeout: timeout}}
}

// FindByUserID はユーザーの購読エントリを取得する。見つからない場合はnilを返す。
func (r *PostgresSubscriptionRepo) FindByUserID(ctx context.Context, userID string) (*model.Subscription, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	sub := &model.Subscription{}
	err := r.db.QueryRowContext(ctx,
		`SELECT user_id, expires_at, updated_at FROM user_subscriptions WHERE user_id = $1`,
		userID,
	).Scan(&sub.UserID, &sub.ExpiresAt, &sub.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classifyError(ctx, "購読の取得に失敗しました", err)
	}
	return sub, nil
}

// Upsert は購読エントリを作成または上書きする。
func (r *PostgresSubscriptionRepo) Upsert(ctx context.Context, sub *model.Subscription) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO user_subscriptions (user_id, expires_at, updated_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (user_id) DO UPDATE SET expires_at = EXCLUDED.expires_at, updated_at = EXCLUDED.updated_at`,
		sub.UserID, sub.ExpiresAt, sub.UpdatedAt,
	)
	if err != nil {
		return classifyError(ctx, "購読の保存に失敗しました", err)
	}
	return nil
}

// DeleteByUserID は購読エントリを削除する。削除対象が存在した場合はtrueを返す。
func (r *PostgresSubscriptionRepo) DeleteByUserID(ctx context.Context, userID string) (bool, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	result, err := r.db.ExecContext(ctx,
		`DELETE FROM user_subscriptions WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return false, classifyError(ctx, "購読の削除に失敗しました", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, classifyError(ctx, "購読の削除件数の取得に失敗しました", err)
	}
	return n > 0, nil
}

// compile-time interface check
var _ SubscriptionRepository = (*PostgresSubscriptionRepo)(nil)
