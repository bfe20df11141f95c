package clock

import (
	"sync"
	"time"
)

// FakeClock はテスト用の決定的なClock。
// Advanceが呼ばれたときだけ時刻が進み、期限を過ぎたタイマーが期限順に発火する。
// AfterFuncのコールバックはAdvance内で同期的に呼ばれる。
// コールバック内から新しいタイマーを登録してもよい。
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
	waiters []*fakeWaiter
}

type fakeWaiter struct {
	deadline time.Time
	callback func()
	channel  chan time.Time
	done     bool
}

// Fake は指定時刻で初期化したFakeClockを返す。
func Fake(initial time.Time) *FakeClock {
	return &FakeClock{current: initial}
}

// Now は現在のフェイク時刻を返す。
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// After はdが経過した後に受信するチャネルを返す。d<=0の場合は即座に受信できる。
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- c.current
		return ch
	}
	c.waiters = append(c.waiters, &fakeWaiter{deadline: c.current.Add(d), channel: ch})
	return ch
}

// AfterFunc はdが経過した後にfを呼び出すタイマーを登録する。
func (c *FakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	w := &fakeWaiter{deadline: c.current.Add(d), callback: f}
	c.waiters = append(c.waiters, w)
	return &fakeTimer{clock: c, waiter: w}
}

// Advance は時刻をdだけ進め、期限に達したタイマーを期限順に発火させる。
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.current.Add(d)
	for {
		next := c.nextDueLocked(target)
		if next == nil {
			c.current = target
			c.mu.Unlock()
			return
		}
		if next.deadline.After(c.current) {
			c.current = next.deadline
		}
		next.done = true
		c.removeLocked(next)
		now := c.current
		c.mu.Unlock()

		if next.callback != nil {
			next.callback()
		} else {
			next.channel <- now
		}

		c.mu.Lock()
	}
}

// Pending は未発火かつ未停止のタイマー数を返す。
func (c *FakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

func (c *FakeClock) nextDueLocked(target time.Time) *fakeWaiter {
	var next *fakeWaiter
	for _, w := range c.waiters {
		if w.deadline.After(target) {
			continue
		}
		if next == nil || w.deadline.Before(next.deadline) {
			next = w
		}
	}
	return next
}

func (c *FakeClock) removeLocked(target *fakeWaiter) {
	for i, w := range c.waiters {
		if w == target {
			c.waiters = append(c.waiters[:i], c.waiters[i+1:]...)
			return
		}
	}
}

type fakeTimer struct {
	clock  *FakeClock
	waiter *fakeWaiter
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.waiter.done {
		return false
	}
	t.waiter.done = true
	t.clock.removeLocked(t.waiter)
	return true
}
