// Package clock はテスト可能な時刻操作の抽象化を提供する。
//
// 本番コードはReal()を注入し、テストではFake()で時刻を明示的に進める。
// QRトークンのリフレッシュタイマーやWebhookのリトライ間隔など、
// time.Now / time.AfterFunc / time.After を直接呼ぶ代わりにClockを受け取る。
package clock

import "time"

// Clock は時刻操作のインターフェース。
type Clock interface {
	// Now は現在時刻を返す。
	Now() time.Time
	// After はdが経過した後に現在時刻を受信するチャネルを返す。
	After(d time.Duration) <-chan time.Time
	// AfterFunc はdが経過した後にfを呼び出す。返されたTimerで取り消せる。
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer はAfterFuncで予約されたコールバック。
type Timer interface {
	// Stop はコールバックの実行を取り消す。
	// 取り消しに成功した場合はtrue、既に実行済みまたは停止済みの場合はfalseを返す。
	Stop() bool
}

// Real は標準ライブラリのtimeパッケージに委譲するClockを返す。
func Real() Clock {
	return realClock{}
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
