package goGate

import (
	"sync"
	"time"
)

// mfaCountdown publishes the seconds left in the current TOTP period once
// per tick. Slow readers only ever see the latest value.
type mfaCountdown struct {
	period time.Duration
	tick   time.Duration
	now    func() time.Time

	ch       chan int
	stop     chan struct{}
	wg       sync.WaitGroup
	start    sync.Once
	stopOnce sync.Once
}

func newMFACountdown(period, tick time.Duration, now func() time.Time) *mfaCountdown {
	return &mfaCountdown{
		period: period,
		tick:   tick,
		now:    now,
		ch:     make(chan int, 1),
		stop:   make(chan struct{}),
	}
}

func (c *mfaCountdown) C() <-chan int {
	return c.ch
}

// SecondsLeft computes the value the ticker would publish at now.
func (c *mfaCountdown) SecondsLeft() int {
	return secondsLeftInPeriod(c.now(), c.period)
}

func secondsLeftInPeriod(now time.Time, period time.Duration) int {
	p := int64(period / time.Second)
	if p <= 0 {
		return 0
	}
	return int(p - now.Unix()%p)
}

// Start launches the ticker. Calls after the first, or after Stop, are no-ops.
func (c *mfaCountdown) Start() {
	c.start.Do(func() {
		select {
		case <-c.stop:
			close(c.ch)
			return
		default:
		}
		c.wg.Add(1)
		go c.run()
	})
}

func (c *mfaCountdown) run() {
	defer c.wg.Done()
	defer close(c.ch)

	ticker := time.NewTicker(c.tick)
	defer ticker.Stop()

	c.publish(c.SecondsLeft())
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.publish(c.SecondsLeft())
		}
	}
}

func (c *mfaCountdown) publish(v int) {
	select {
	case c.ch <- v:
		return
	default:
	}
	select {
	case <-c.ch:
	default:
	}
	select {
	case c.ch <- v:
	default:
	}
}

// Stop halts the ticker and closes the channel. Safe to call repeatedly and
// before Start.
func (c *mfaCountdown) Stop() {
	c.stopOnce.Do(func() {
		close(c.stop)
		started := true
		c.start.Do(func() { started = false })
		if !started {
			close(c.ch)
			return
		}
		c.wg.Wait()
	})
}
