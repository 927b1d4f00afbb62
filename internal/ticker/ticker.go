// Package ticker wraps timer-driven maintenance in a start/stop/trigger-now
// abstraction so cycles are deterministic in tests.
package ticker

import (
	"context"
	"sync"
	"time"
)

// Ticker runs fn on a fixed interval. TriggerNow runs a cycle immediately
// without waiting for the next tick. Cycles never overlap.
type Ticker struct {
	interval time.Duration
	fn       func(context.Context)

	mu      sync.Mutex
	cancel  context.CancelFunc
	trigger chan struct{}
	done    chan struct{}
}

// New creates a stopped Ticker.
func New(interval time.Duration, fn func(context.Context)) *Ticker {
	return &Ticker{
		interval: interval,
		fn:       fn,
		trigger:  make(chan struct{}, 1),
	}
}

// Start launches the tick loop. Starting a running ticker is a no-op.
func (t *Ticker) Start(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		return
	}
	ctx, t.cancel = context.WithCancel(ctx)
	t.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		tick := time.NewTicker(t.interval)
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tick.C:
				t.fn(ctx)
			case <-t.trigger:
				t.fn(ctx)
			}
		}
	}(t.done)
}

// Stop halts the loop and waits for an in-flight cycle to finish.
// Stopping a stopped ticker is a no-op.
func (t *Ticker) Stop() {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.cancel, t.done = nil, nil
	t.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// TriggerNow requests an immediate cycle. Coalesces when one is pending.
func (t *Ticker) TriggerNow() {
	select {
	case t.trigger <- struct{}{}:
	default:
	}
}
