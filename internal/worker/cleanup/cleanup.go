// Package cleanup はメッセージログの保持期間に基づく自動削除ジョブを提供する。
// 保持期間を超えたレコードを一定間隔で削除する。保持期間0は無期限。
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/telegate/internal/clock"
)

// Pruner は指定時刻より古いレコードを削除するインターフェース。
// repository.MessageLogが満たす。
type Pruner interface {
	PruneBefore(cutoff time.Time) int
}

// CleanupJob はメッセージログの自動削除ジョブ。
type CleanupJob struct {
	log    Pruner
	clock  clock.Clock
	logger *slog.Logger
	MaxAge time.Duration // レコードの保持期間（0は無期限）
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(log Pruner, clk clock.Clock, logger *slog.Logger, maxAge time.Duration) *CleanupJob {
	if clk == nil {
		clk = clock.Real()
	}
	return &CleanupJob{
		log:    log,
		clock:  clk,
		logger: logger,
		MaxAge: maxAge,
	}
}

// Enabled は保持期間が設定されているかを返す。
func (j *CleanupJob) Enabled() bool {
	return j.MaxAge > 0
}

// Run は保持期間を超過したレコードを削除し、削除件数を返す。
// 冪等: 削除対象がない場合は0を返す。
func (j *CleanupJob) Run(ctx context.Context) int {
	if !j.Enabled() || ctx.Err() != nil {
		return 0
	}

	start := time.Now()
	cutoff := j.clock.Now().Add(-j.MaxAge)
	deleted := j.log.PruneBefore(cutoff)

	j.logger.Info("メッセージログのクリーンアップが完了しました",
		slog.Int("deleted_count", deleted),
		slog.Duration("max_age", j.MaxAge),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return deleted
}

// Start はintervalごとにRunを実行する。コンテキストがキャンセルされるまで継続する。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	if !j.Enabled() || interval <= 0 {
		return
	}

	j.logger.Info("メッセージログのクリーンアップジョブを開始しました",
		slog.Duration("interval", interval),
		slog.Duration("max_age", j.MaxAge),
	)

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("メッセージログのクリーンアップジョブを停止しました")
			return
		case <-j.clock.After(interval):
			j.Run(ctx)
		}
	}
}
