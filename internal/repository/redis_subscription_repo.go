package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/wizary/internal/model"
)

const subscriptionKeyPrefix = "wizary:subscription:"

// RedisSubscriptionRepo はRedisのハッシュを使用した購読期限リポジトリ。
// キーは "wizary:subscription:<userID>"、フィールドはexpires_atとupdated_at（RFC3339Nano）。
// 期限切れ後もエントリは残し、TTLは設定しない。
type RedisSubscriptionRepo struct {
	rdb     *redis.Client
	timeout time.Duration
}

// NewRedisSubscriptionRepo はRedisSubscriptionRepoを生成する。
func NewRedisSubscriptionRepo(rdb *redis.Client, timeout time.Duration) *RedisSubscriptionRepo {
	return &RedisSubscriptionRepo{rdb: rdb, timeout: timeout}
}

func (r *RedisSubscriptionRepo) key(userID string) string {
	return subscriptionKeyPrefix + userID
}

// FindByUserID はユーザーの購読エントリを取得する。見つからない場合はnilを返す。
func (r *RedisSubscriptionRepo) FindByUserID(ctx context.Context, userID string) (*model.Subscription, error) {
	ctx, cancel := boundedContext(ctx, r.timeout)
	defer cancel()

	fields, err := r.rdb.HGetAll(ctx, r.key(userID)).Result()
	if err != nil {
		return nil, redisError("failed to read subscription", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	expiresAt, err := time.Parse(time.RFC3339Nano, fields["expires_at"])
	if err != nil {
		return nil, fmt.Errorf("malformed subscription entry for %s: %w", userID, err)
	}
	sub := &model.Subscription{UserID: userID, ExpiresAt: expiresAt}
	if raw, ok := fields["updated_at"]; ok {
		if updatedAt, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			sub.UpdatedAt = updatedAt
		}
	}
	return sub, nil
}

// Upsert は購読エントリを作成または上書きする。
func (r *RedisSubscriptionRepo) Upsert(ctx context.Context, sub *model.Subscription) error {
	ctx, cancel := boundedContext(ctx, r.timeout)
	defer cancel()

	err := r.rdb.HSet(ctx, r.key(sub.UserID),
		"expires_at", sub.ExpiresAt.UTC().Format(time.RFC3339Nano),
		"updated_at", sub.UpdatedAt.UTC().Format(time.RFC3339Nano),
	).Err()
	if err != nil {
		return redisError("failed to write subscription", err)
	}
	return nil
}

// DeleteByUserID は購読エントリを削除する。削除対象が存在した場合はtrueを返す。
func (r *RedisSubscriptionRepo) DeleteByUserID(ctx context.Context, userID string) (bool, error) {
	ctx, cancel := boundedContext(ctx, r.timeout)
	defer cancel()

	n, err := r.rdb.Del(ctx, r.key(userID)).Result()
	if err != nil {
		return false, redisError("failed to delete subscription", err)
	}
	return n > 0, nil
}

// redisError はRedisエラーをストア障害として扱う。
// HGETALL/HSET/DELはキー不在でもエラーを返さないため、ここに来るエラーは接続・タイムアウト起因。
func redisError(op string, err error) error {
	if errors.Is(err, redis.Nil) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, model.ErrStoreUnavailable, err)
}

// compile-time interface check
var _ SubscriptionRepository = (*RedisSubscriptionRepo)(nil)
