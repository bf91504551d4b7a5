// Package timer holds the per-session countdown used for host absence,
// volunteering and risk rounds.
//
// A Countdown is not safe for concurrent use. It belongs to the goroutine that
// owns the session and is driven by tick messages that its ticker posts back
// into that goroutine's inbox.
package timer

import (
	"context"
	"time"
)

type State int

const (
	Idle State = iota
	Running
	Paused
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Paused:
		return "paused"
	default:
		return "idle"
	}
}

// PostFunc delivers a tick for generation gen to the owner. It must return
// once ctx is done.
type PostFunc func(ctx context.Context, gen uint64)

type Countdown struct {
	interval  time.Duration
	post      PostFunc
	state     State
	remaining int
	gen       uint64
	cancel    context.CancelFunc
}

func New(interval time.Duration, post PostFunc) *Countdown {
	if interval <= 0 {
		interval = time.Second
	}
	return &Countdown{interval: interval, post: post}
}

func (c *Countdown) State() State { return c.state }

func (c *Countdown) Remaining() int { return c.remaining }

func (c *Countdown) Gen() uint64 { return c.gen }

func (c *Countdown) Active() bool { return c.state != Idle }

// Start (re)starts the countdown from seconds. Any earlier ticker is cancelled
// and its in-flight ticks become stale.
func (c *Countdown) Start(ctx context.Context, seconds int) {
	c.halt()
	c.remaining = seconds
	c.state = Running
	c.run(ctx)
}

// StartPaused arms the countdown with seconds left but does not tick until
// Resume.
func (c *Countdown) StartPaused(seconds int) {
	c.halt()
	c.remaining = seconds
	c.state = Paused
}

func (c *Countdown) Pause() {
	if c.state != Running {
		return
	}
	c.halt()
	c.state = Paused
}

func (c *Countdown) Resume(ctx context.Context) {
	if c.state != Paused {
		return
	}
	c.halt()
	c.state = Running
	c.run(ctx)
}

// Stop cancels the ticker and returns to Idle. Safe to call in any state.
func (c *Countdown) Stop() {
	c.halt()
	c.state = Idle
	c.remaining = 0
}

// Tick applies one tick of generation gen. ok is false for ticks from a
// cancelled ticker or while not running; those must be ignored by the caller.
// When expired is true the countdown has already returned to Idle.
func (c *Countdown) Tick(gen uint64) (remaining int, expired, ok bool) {
	if gen != c.gen || c.state != Running {
		return c.remaining, false, false
	}
	c.remaining--
	if c.remaining <= 0 {
		c.halt()
		c.state = Idle
		c.remaining = 0
		return 0, true, true
	}
	return c.remaining, false, true
}

// halt cancels the current ticker and bumps the generation so its pending
// ticks are recognised as stale.
func (c *Countdown) halt() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.gen++
}

func (c *Countdown) run(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	c.cancel = cancel
	gen := c.gen
	interval := c.interval
	post := c.post

	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				post(ctx, gen)
			}
		}
	}()
}
