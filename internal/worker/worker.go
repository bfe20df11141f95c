// Package worker はバックグラウンド処理の起動とジョブを提供する。
package worker

import (
	"fmt"
	"log/slog"
	"runtime/debug"
)

// Go はfnを新しいgoroutineで実行する。
// fn内のpanicは回復してスタックトレースとともにログに記録し、プロセスを停止させない。
func Go(logger *slog.Logger, name string, fn func()) {
	go Run(logger, name, fn)
}

// Run はfnを呼び出し元のgoroutineで実行し、panicを回復する。
// panicした場合はfalseを返す。
func Run(logger *slog.Logger, name string, fn func()) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			ok = false
			if logger == nil {
				logger = slog.Default()
			}
			logger.Error("バックグラウンド処理でpanicが発生しました",
				slog.String("task", name),
				slog.String("error", fmt.Sprintf("%v", rec)),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()
	fn()
	return true
}
