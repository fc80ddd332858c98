package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/wizary/internal/model"
)

// pqUniqueViolation はPostgreSQLの一意制約違反コード。
const pqUniqueViolation = "23505"

// DefaultTimeout はストア呼び出しのデフォルトタイムアウト。
const DefaultTimeout = 5 * time.Second

// pgStore はPostgreSQLリポジトリ共通の接続とタイムアウトを保持する。
type pgStore struct {
	db      *sql.DB
	timeout time.Duration
}

// withTimeout はストア呼び出し1回分のタイムアウト付きコンテキストを返す。
func (s pgStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return boundedContext(ctx, s.timeout)
}

func boundedContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

// classifyError はインフラ起因のエラーをmodel.ErrStoreUnavailableでラップする。
// 呼び出しのコンテキストが既に終了している場合もドライバのエラー内容に関わらず障害とみなす。
// ドメインエラーやSQLエラーはそのまま返す。
func classifyError(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil || isUnavailable(err) {
		return fmt.Errorf("%s: %w: %w", op, model.ErrStoreUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isUnavailable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) {
		return true
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "08", "53", "57": // connection_exception, insufficient_resources, operator_intervention
			return true
		}
		return false
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
