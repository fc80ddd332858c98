package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/wizary/internal/model"
)

const userColumns = `id, email, password_hash, unique_code,
	has_wizary_exam_access, has_approach_access, has_qbank_access, has_courses_access,
	is_locked, last_login_at, created_at, updated_at`

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	pgStore
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
// timeoutは1回のストア呼び出しに許容する時間で、0以下の場合はDefaultTimeoutを使用する。
func NewPostgresUserRepo(db *sql.DB, timeout time.Duration) *PostgresUserRepo {
	return &PostgresUserRepo{pgStore{db: db, timeout: timeout}}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	row := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`,
		id,
	)
	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classifyError(ctx, "failed to find user by ID", err)
	}
	return user, nil
}

// FindByEmail はメールアドレスでユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	row := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`,
		email,
	)
	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classifyError(ctx, "failed to find user by email", err)
	}
	return user, nil
}

// CreateWithRegistrationCode はユーザー作成と登録コードの消費を同一トランザクションで行う。
func (r *PostgresUserRepo) CreateWithRegistrationCode(ctx context.Context, user *model.User, code string) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return classifyError(ctx, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	// コードを先に検証・ロックする。メールアドレス重複より無効なコードを優先して返す
	var locked string
	err = tx.QueryRowContext(ctx,
		`SELECT code FROM registration_codes WHERE code = $1 AND used_at IS NULL FOR UPDATE`,
		code,
	).Scan(&locked)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ErrInvalidRegistrationCode
	}
	if err != nil {
		return classifyError(ctx, "failed to lock registration code", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO users (id, email, password_hash, unique_code,
		 has_wizary_exam_access, has_approach_access, has_qbank_access, has_courses_access,
		 is_locked, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, FALSE, $9, $10)`,
		user.ID, user.Email, user.PasswordHash, user.UniqueCode,
		user.HasWizaryExamAccess, user.HasApproachAccess, user.HasQbankAccess, user.HasCoursesAccess,
		user.CreatedAt, user.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return model.ErrEmailTaken
	}
	if err != nil {
		return classifyError(ctx, "failed to insert user", err)
	}

	// ロック済みのため通常は1件更新される
	result, err := tx.ExecContext(ctx,
		`UPDATE registration_codes SET used_by = $1, used_at = $2
		 WHERE code = $3 AND used_at IS NULL`,
		user.ID, user.CreatedAt, code,
	)
	if err != nil {
		return classifyError(ctx, "failed to consume registration code", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return classifyError(ctx, "failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return model.ErrInvalidRegistrationCode
	}

	if err := tx.Commit(); err != nil {
		return classifyError(ctx, "failed to commit transaction", err)
	}
	return nil
}

// SetLocked はアカウントのロック状態を更新する。
func (r *PostgresUserRepo) SetLocked(ctx context.Context, id string, locked bool) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET is_locked = $2, updated_at = now() WHERE id = $1`,
		id, locked,
	)
	if err != nil {
		return classifyError(ctx, "failed to update lock state", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return classifyError(ctx, "failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("set locked %s: %w", id, model.ErrUserNotFound)
	}
	return nil
}

func scanUser(row *sql.Row) (*model.User, error) {
	user := &model.User{}
	var lastLogin sql.NullTime
	err := row.Scan(
		&user.ID, &user.Email, &user.PasswordHash, &user.UniqueCode,
		&user.HasWizaryExamAccess, &user.HasApproachAccess, &user.HasQbankAccess, &user.HasCoursesAccess,
		&user.IsLocked, &lastLogin, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if lastLogin.Valid {
		t := lastLogin.Time
		user.LastLoginAt = &t
	}
	return user, nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
