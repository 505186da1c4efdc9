// Package reactor provides the single-threaded cooperative scheduler the
// rest of the daemon runs on: Chain plays the role of the source's
// select-loop ("jf_network" chain), Timer is its micro-timer. Go has no
// literal select(2) over arbitrary fds, so Chain's multiplexing is done
// with a Go select statement over a wakeup channel and a timer-derived
// deadline; ChainObjects cooperate the same way the source's chain
// objects did, via ordered Poll calls instead of pre/post-select hooks.
package reactor

import (
	"sync"
	"time"
)

// Object is one participant in a Chain. Poll is called once per loop
// iteration, in registration order; it plays the combined role of the
// source's pre_select/post_select pair for implementations that have no
// raw fd to register (Go sockets are driven by their own goroutines
// instead, see netasync).
type Object interface {
	Poll(now time.Time)
}

// Chain is a single goroutine that repeatedly wakes on its own schedule
// or on an explicit Wakeup, then polls every registered Object and fires
// any due Timer items. It is the sole mutator of state owned by the
// objects registered on it, matching the source's single-thread-per-chain
// concurrency model (see spec §5).
type Chain struct {
	mu      sync.Mutex
	objects []Object
	timer   *Timer
	wake    chan struct{}
	stop    chan struct{}
	done    chan struct{}
}

// New creates a Chain with its own micro-timer and wakeup pipe.
func New() *Chain {
	return &Chain{
		timer: NewTimer(nil),
		wake:  make(chan struct{}, 1),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// Timer exposes the chain's micro-timer so callers can schedule
// delayed work (e.g. a zero-delay "run this on the chain thread" item).
func (c *Chain) Timer() *Timer { return c.timer }

// Add registers a chain object. Safe to call before or after Run.
func (c *Chain) Add(o Object) {
	c.mu.Lock()
	c.objects = append(c.objects, o)
	c.mu.Unlock()
	c.Wakeup()
}

// Wakeup is safe to call from any goroutine; it causes the current
// (or next) wait in Run to return promptly, mirroring the source's
// self-pipe write.
func (c *Chain) Wakeup() {
	select {
	case c.wake <- struct{}{}:
	default:
		// A wakeup is already pending; draining happens once per loop
		// iteration so this one is redundant.
	}
}

// Run blocks until Stop is called, polling objects and firing timers.
func (c *Chain) Run() {
	defer close(c.done)
	for {
		timeout := c.nextTimeout()

		var timerC <-chan time.Time
		if timeout != nil {
			tm := time.NewTimer(*timeout)
			timerC = tm.C
			select {
			case <-c.stop:
				tm.Stop()
				return
			case <-c.wake:
				tm.Stop()
			case <-timerC:
			}
		} else {
			select {
			case <-c.stop:
				return
			case <-c.wake:
			}
		}

		now := time.Now()
		c.timer.FireDue()

		c.mu.Lock()
		objs := make([]Object, len(c.objects))
		copy(objs, c.objects)
		c.mu.Unlock()

		for _, o := range objs {
			o.Poll(now)
		}
	}
}

func (c *Chain) nextTimeout() *time.Duration {
	expire, ok := c.timer.NextExpiry()
	if !ok {
		return nil
	}
	d := time.Until(expire)
	if d < 0 {
		d = 0
	}
	return &d
}

// Stop requests the loop to exit and blocks until it has.
func (c *Chain) Stop() {
	close(c.stop)
	<-c.done
}
