package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/wizary/internal/model"
)

// PostgresSessionRepo はPostgreSQLを使用したセッションリポジトリ。
type PostgresSessionRepo struct {
	pgStore
}

// NewPostgresSessionRepo はPostgresSessionRepoを生成する。
func NewPostgresSessionRepo(db *sql.DB, timeout time.Duration) *PostgresSessionRepo {
	return &PostgresSessionRepo{pgStore{db: db, timeout: timeout}}
}

// CreateWithinLimit は上限判定とセッション作成を1トランザクションで行う。
//
// usersの行をSELECT ... FOR UPDATEでロックし、同一ユーザーの並行ログインを直列化する。
// READ COMMITTEDでは後続の件数取得が先行トランザクションのコミット結果を参照するため、
// 並行ログインで上限を超えて作成されることはない。
// 上限超過時はロックフラグを立ててコミットし、セッションは作成しない。
func (r *PostgresSessionRepo) CreateWithinLimit(ctx context.Context, session *model.Session, limit int, now time.Time) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return classifyError(ctx, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	var locked bool
	err = tx.QueryRowContext(ctx,
		`SELECT is_locked FROM users WHERE id = $1 FOR UPDATE`,
		session.UserID,
	).Scan(&locked)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("create session for %s: %w", session.UserID, model.ErrUserNotFound)
	}
	if err != nil {
		return classifyError(ctx, "failed to lock user row", err)
	}
	if locked {
		return model.ErrAccountLocked
	}

	var active int
	err = tx.QueryRowContext(ctx,
		`SELECT count(*) FROM sessions WHERE user_id = $1 AND is_active = TRUE AND expires_at > $2`,
		session.UserID, now,
	).Scan(&active)
	if err != nil {
		return classifyError(ctx, "failed to count active sessions", err)
	}

	if active >= limit {
		_, err = tx.ExecContext(ctx,
			`UPDATE users SET is_locked = TRUE, updated_at = $2 WHERE id = $1`,
			session.UserID, now,
		)
		if err != nil {
			return classifyError(ctx, "failed to lock account", err)
		}
		if err := tx.Commit(); err != nil {
			return classifyError(ctx, "failed to commit transaction", err)
		}
		return model.ErrConcurrencyLimitExceeded
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, session_key, user_agent, ip_address, is_active, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, TRUE, $6, $7)`,
		session.ID, session.UserID, session.SessionKey,
		nullString(session.UserAgent), nullString(session.IPAddress),
		session.CreatedAt, session.ExpiresAt,
	)
	if err != nil {
		return classifyError(ctx, "failed to insert session", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE users SET last_login_at = $2 WHERE id = $1`,
		session.UserID, now,
	)
	if err != nil {
		return classifyError(ctx, "failed to update last login", err)
	}

	if err := tx.Commit(); err != nil {
		return classifyError(ctx, "failed to commit transaction", err)
	}
	session.IsActive = true
	return nil
}

// CountActiveByUserID は指定時刻における有効セッション数を返す。
func (r *PostgresSessionRepo) CountActiveByUserID(ctx context.Context, userID string, now time.Time) (int, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT count(*) FROM sessions WHERE user_id = $1 AND is_active = TRUE AND expires_at > $2`,
		userID, now,
	).Scan(&count)
	if err != nil {
		return 0, classifyError(ctx, "failed to count active sessions", err)
	}
	return count, nil
}

// FindActiveByKey はセッションキーで有効なセッションを取得する。
// 無効化済み・期限切れ・存在しない場合はnilを返す。
func (r *PostgresSessionRepo) FindActiveByKey(ctx context.Context, sessionKey string, now time.Time) (*model.Session, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	session := &model.Session{}
	var userAgent, ipAddress sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, session_key, user_agent, ip_address, is_active, created_at, expires_at
		 FROM sessions
		 WHERE session_key = $1 AND is_active = TRUE AND expires_at > $2`,
		sessionKey, now,
	).Scan(&session.ID, &session.UserID, &session.SessionKey, &userAgent, &ipAddress,
		&session.IsActive, &session.CreatedAt, &session.ExpiresAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classifyError(ctx, "failed to find session", err)
	}

	session.UserAgent = userAgent.String
	session.IPAddress = ipAddress.String
	return session, nil
}

// DeactivateByKey は指定セッションを無効化する。存在しない場合も成功とする。
func (r *PostgresSessionRepo) DeactivateByKey(ctx context.Context, sessionKey string) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	_, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET is_active = FALSE WHERE session_key = $1 AND is_active = TRUE`,
		sessionKey,
	)
	if err != nil {
		return classifyError(ctx, "failed to deactivate session", err)
	}
	return nil
}

// DeactivateByUserID はユーザーの全セッションを期限に関わらず無効化する。
func (r *PostgresSessionRepo) DeactivateByUserID(ctx context.Context, userID string) (int64, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	result, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET is_active = FALSE WHERE user_id = $1 AND is_active = TRUE`,
		userID,
	)
	if err != nil {
		return 0, classifyError(ctx, "failed to deactivate sessions", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, classifyError(ctx, "failed to get rows affected", err)
	}
	return n, nil
}

// DeleteStale は指定時刻より前に期限切れとなったセッション、
// および無効化済みで作成から十分経過したセッションを物理削除する。
// 削除件数を返す。クリーンアップジョブから呼び出される。
func (r *PostgresSessionRepo) DeleteStale(ctx context.Context, before time.Time) (int64, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	result, err := r.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE expires_at < $1 OR (is_active = FALSE AND created_at < $1)`,
		before,
	)
	if err != nil {
		return 0, classifyError(ctx, "failed to delete stale sessions", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, classifyError(ctx, "failed to get rows affected", err)
	}
	return n, nil
}

// compile-time interface check
var _ SessionRepository = (*PostgresSessionRepo)(nil)
