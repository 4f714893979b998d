package voice

import (
	"sync"
	"time"
)

// fakeClock is a manually advanced Clock. Channels are unbuffered and every
// send waits for the loop to receive it (or for the ticker/timer to be
// stopped), so each Advance is fully handed over before the next begins.
type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	timers  []*fakeTimer
	tickers []*fakeTicker
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) NewTicker(time.Duration) Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTicker{c: make(chan time.Time), stopped: make(chan struct{})}
	c.tickers = append(c.tickers, t)
	return t
}

func (c *fakeClock) NewTimer(d time.Duration) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{at: c.now.Add(d), c: make(chan time.Time), stopped: make(chan struct{})}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves time forward by d, fires due timers, then delivers one tick.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.fired && !now.Before(t.at) {
			t.fired = true
			due = append(due, t)
		}
	}
	tickers := append([]*fakeTicker(nil), c.tickers...)
	c.mu.Unlock()

	for _, t := range due {
		select {
		case t.c <- now:
		case <-t.stopped:
		}
	}
	for _, t := range tickers {
		select {
		case t.c <- now:
		case <-t.stopped:
		}
	}
}

type fakeTicker struct {
	c       chan time.Time
	stopped chan struct{}
	once    sync.Once
}

func (t *fakeTicker) C() <-chan time.Time { return t.c }
func (t *fakeTicker) Stop()               { t.once.Do(func() { close(t.stopped) }) }

type fakeTimer struct {
	at      time.Time
	fired   bool
	c       chan time.Time
	stopped chan struct{}
	once    sync.Once
}

func (t *fakeTimer) C() <-chan time.Time { return t.c }

func (t *fakeTimer) Stop() bool {
	t.once.Do(func() { close(t.stopped) })
	return true
}
