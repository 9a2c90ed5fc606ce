package pool

import (
	"context"
	"time"
)

// HardPool enforces at most one concurrent borrower per channel. When every
// channel is checked out, Acquire queues behind the FIFO free list, bounded
// by the configured acquire timeout.
type HardPool[C Channel] struct {
	core[C]

	// free holds channels not checked out by anyone, in FIFO order.
	// Guarded by core.mu.
	free []C

	// notify carries at most one wakeup token for queued borrowers. A
	// woken borrower that finds more than one free channel re-signals, so
	// a dropped token can never strand a waiter.
	notify chan struct{}

	// done unblocks queued borrowers on Close.
	done chan struct{}
}

// NewHard returns a pool with the exclusive allocation policy.
func NewHard[C Channel](opener Opener[C], cfg Config) *HardPool[C] {
	return &HardPool[C]{
		core:   newCore(opener, cfg),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Acquire borrows a channel for the sole use of the caller. A fresh channel
// is created only when the free list is empty and capacity allows;
// otherwise the caller waits for a release, bounded by the pool's acquire
// timeout.
func (p *HardPool[C]) Acquire(ctx context.Context) (C, ReleaseFunc, error) {
	var zero C

	ch, ok, err := p.takeFree()
	if err != nil {
		return zero, nil, err
	}
	if !ok {
		ch, ok, err = p.tryOpen(ctx, nil)
		if err != nil {
			return zero, nil, err
		}
	}
	if !ok {
		ch, err = p.waitFree(ctx)
		if err != nil {
			return zero, nil, err
		}
	}

	released := false
	release := func() {
		if released {
			return
		}
		released = true
		p.putBack(ch)
	}
	return ch, release, nil
}

// With runs fn with an exclusively borrowed channel, releasing it on every
// exit path.
func (p *HardPool[C]) With(ctx context.Context, fn func(C) error) error {
	ch, release, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	return fn(ch)
}

// Stats implements Pool.
func (p *HardPool[C]) Stats() Stats { return p.stats() }

// Close destroys every channel the pool created. Under the strict policy it
// fails with ErrLeakedChannels while channels are checked out and performs
// no teardown.
func (p *HardPool[C]) Close() error {
	return p.shutdown(func() {
		p.free = nil
		close(p.done)
	})
}

// takeFree pops the head of the free list and checks it out. The active
// increment happens inside the critical section that removes the channel
// from the free list, so a capacity check or strict Close elsewhere can
// never observe the hand-off half done.
func (p *HardPool[C]) takeFree() (C, bool, error) {
	var zero C
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return zero, false, ErrClosed
	}
	if len(p.free) == 0 {
		return zero, false, nil
	}
	ch := p.free[0]
	p.free = p.free[1:]
	p.active++
	if len(p.free) > 0 {
		p.signal()
	}
	return ch, true, nil
}

// putBack checks a channel in and appends it to the free list tail in one
// critical section, then wakes one queued borrower.
func (p *HardPool[C]) putBack(ch C) {
	p.mu.Lock()
	p.active--
	if !p.closed {
		p.free = append(p.free, ch)
		p.signal()
	}
	p.mu.Unlock()
}

func (p *HardPool[C]) signal() {
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// waitFree blocks until a channel is released, the acquire timeout elapses,
// or the context is cancelled. A timed-out borrower leaves no trace: the
// free list and active count are untouched.
func (p *HardPool[C]) waitFree(ctx context.Context) (C, error) {
	var zero C

	var timeoutC <-chan time.Time
	if p.timeout > 0 {
		timer := time.NewTimer(p.timeout)
		defer timer.Stop()
		timeoutC = timer.C
	}

	for {
		ch, ok, err := p.takeFree()
		if err != nil {
			return zero, err
		}
		if ok {
			return ch, nil
		}
		if p.timeout == 0 {
			return zero, ErrAcquireTimeout
		}
		select {
		case <-p.notify:
		case <-timeoutC:
			return zero, ErrAcquireTimeout
		case <-p.done:
			return zero, ErrClosed
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

var _ Pool[Channel] = (*HardPool[Channel])(nil)
