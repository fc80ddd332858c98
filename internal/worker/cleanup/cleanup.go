// Package cleanup はセッションデータの自動削除ジョブを提供する。
// 期限切れ、または無効化されてから保持期間を超過したセッション行を
// 定期バッチで物理削除する。有効なセッションは削除しない。
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// DefaultRetention は削除対象とするまでの保持期間のデフォルト値。
const DefaultRetention = 7 * 24 * time.Hour

// DefaultInterval はStartに0以下の間隔が渡された場合に使用する実行間隔。
const DefaultInterval = 24 * time.Hour

// ErrNegativeRetention は保持期間が負の場合のエラー。
// 削除基準時刻が未来になり、有効なセッションまで削除されるため実行しない。
var ErrNegativeRetention = errors.New("cleanup: retention must not be negative")

// StalePurger は古いセッション行を削除するインターフェース。
// repository.PostgresSessionRepoが実装する。
type StalePurger interface {
	DeleteStale(ctx context.Context, before time.Time) (int64, error)
}

// PurgeRecorder は削除件数の記録先。
type PurgeRecorder interface {
	RecordSessionsPurged(count int64)
}

// CleanupJob は保持期間を超過したセッションの自動削除ジョブ。
// 冪等な削除処理のため、複数ワーカーから同時に実行されても結果は変わらない。
type CleanupJob struct {
	purger    StalePurger
	recorder  PurgeRecorder
	logger    *slog.Logger
	now       func() time.Time
	Retention time.Duration // セッション行の保持期間（デフォルト: 7日）
}

// NewCleanupJob は新しいCleanupJobを生成する。
// recorderがnilの場合は件数を記録しない。
func NewCleanupJob(purger StalePurger, recorder PurgeRecorder, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		purger:    purger,
		recorder:  recorder,
		logger:    logger,
		now:       time.Now,
		Retention: DefaultRetention,
	}
}

// Run は保持期間を超過したセッションを削除する。
// 期限がnow-Retentionより前のもの、および無効化済みでnow-Retentionより前に作成されたものが対象。
// 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) error {
	if j.Retention < 0 {
		return fmt.Errorf("%w: %s", ErrNegativeRetention, j.Retention)
	}

	start := j.now()
	before := start.Add(-j.Retention)

	deleted, err := j.purger.DeleteStale(ctx, before)
	if err != nil {
		j.logger.Error("セッションクリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.Duration("retention", j.Retention),
		)
		return fmt.Errorf("セッションクリーンアップの実行に失敗: %w", err)
	}

	if j.recorder != nil {
		j.recorder.RecordSessionsPurged(deleted)
	}

	j.logger.Info("セッションクリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deleted),
		slog.Duration("retention", j.Retention),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// Start は起動直後に1回、その後interval毎にRunを実行する。
// ctxがキャンセルされるまでブロックする。個々の実行の失敗はログに残して継続する。
// intervalが0以下の場合はDefaultIntervalを使用する。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		j.logger.Warn("実行間隔が不正なためデフォルト値を使用します",
			slog.Duration("interval", interval),
			slog.Duration("default", DefaultInterval),
		)
		interval = DefaultInterval
	}

	j.runLogged(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.runLogged(ctx)
		}
	}
}

func (j *CleanupJob) runLogged(ctx context.Context) {
	if err := j.Run(ctx); err != nil && ctx.Err() == nil {
		j.logger.Warn("次回の実行で再試行します", slog.String("error", err.Error()))
	}
}
