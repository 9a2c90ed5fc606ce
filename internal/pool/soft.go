package pool

import (
	"container/heap"
	"context"
	"runtime"
)

// SoftPool lets many borrowers share a channel concurrently. Each
// acquisition selects the channel with the fewest current borrowers; a new
// channel is created only when every known channel is busy and capacity
// allows. Acquire never queues behind releases: when nothing can be
// selected or created it fails with ErrNoChannels.
type SoftPool[C Channel] struct {
	core[C]

	// usage indexes every known channel by its borrower count. Entries
	// are never removed on release; a channel stays a reuse candidate
	// until the pool is closed. Guarded by core.mu.
	usage usageHeap[C]
	seq   uint64
}

// NewSoft returns a pool with the shared allocation policy.
func NewSoft[C Channel](opener Opener[C], cfg Config) *SoftPool[C] {
	return &SoftPool[C]{core: newCore(opener, cfg)}
}

// Acquire borrows the least-used channel, creating a fresh one when every
// known channel already has at least one borrower.
func (p *SoftPool[C]) Acquire(ctx context.Context) (C, ReleaseFunc, error) {
	var zero C

	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return zero, nil, ErrClosed
		}
		if e := p.least(); e != nil && e.uses == 0 {
			// An idle channel exists; no reason to grow.
			p.borrow(e)
			p.mu.Unlock()
			return e.ch, p.releaseFunc(e), nil
		}
		p.mu.Unlock()

		// Every known channel is busy (or none exist). Try to grow.
		created, ok, err := p.open(ctx)
		if err != nil {
			return zero, nil, err
		}
		if ok {
			// Registered with one borrower inside the creation critical
			// section; nothing left to count.
			return created.ch, p.releaseFunc(created), nil
		}

		// Creation was refused or capacity is exhausted; fall back to
		// sharing whatever exists.
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return zero, nil, ErrClosed
		}
		if e := p.least(); e != nil {
			p.borrow(e)
			p.mu.Unlock()
			return e.ch, p.releaseFunc(e), nil
		}
		pending := p.reserved > 0
		p.mu.Unlock()

		if !pending {
			return zero, nil, ErrNoChannels
		}
		// A concurrent borrower is mid-creation: its channel is not in
		// the usage index yet. Yield and retry until it publishes or
		// fails.
		select {
		case <-ctx.Done():
			return zero, nil, ctx.Err()
		default:
		}
		runtime.Gosched()
	}
}

// open creates a channel and registers it in the usage index with one
// borrower, atomically with the creation bookkeeping: a concurrent
// acquisition either sees the new entry or observes the in-flight
// reservation, never a channel that exists but is not yet indexed.
func (p *SoftPool[C]) open(ctx context.Context) (*entry[C], bool, error) {
	var created *entry[C]
	_, ok, err := p.tryOpen(ctx, func(ch C) {
		created = &entry[C]{ch: ch, uses: 1, seq: p.seq}
		p.seq++
		heap.Push(&p.usage, created)
	})
	if err != nil || !ok {
		return nil, false, err
	}
	return created, true, nil
}

// borrow counts one more borrower on an existing entry. Callers hold
// core.mu.
func (p *SoftPool[C]) borrow(e *entry[C]) {
	e.uses++
	heap.Fix(&p.usage, e.index)
	p.active++
}

func (p *SoftPool[C]) releaseFunc(e *entry[C]) ReleaseFunc {
	released := false
	return func() {
		if released {
			return
		}
		released = true
		p.mu.Lock()
		if !p.closed {
			e.uses--
			heap.Fix(&p.usage, e.index)
			p.active--
		}
		p.mu.Unlock()
	}
}

// With runs fn with a shared channel, releasing it on every exit path.
func (p *SoftPool[C]) With(ctx context.Context, fn func(C) error) error {
	ch, release, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	return fn(ch)
}

// Stats implements Pool.
func (p *SoftPool[C]) Stats() Stats { return p.stats() }

// Close destroys every channel the pool created. Under the strict policy it
// fails with ErrLeakedChannels while borrowers remain and performs no
// teardown.
func (p *SoftPool[C]) Close() error {
	return p.shutdown(func() {
		p.usage = nil
	})
}

// least returns the entry with the minimum borrower count, ties broken by
// creation order. Callers hold core.mu.
func (p *SoftPool[C]) least() *entry[C] {
	if len(p.usage) == 0 {
		return nil
	}
	return p.usage[0]
}

// entry tracks one channel's concurrent borrower count.
type entry[C Channel] struct {
	ch    C
	uses  int
	seq   uint64 // creation order, the deterministic tie-break
	index int
}

// usageHeap is a min-heap of channels keyed by borrower count, giving
// O(log k) selection and update over k known channels.
type usageHeap[C Channel] []*entry[C]

func (h usageHeap[C]) Len() int { return len(h) }

func (h usageHeap[C]) Less(i, j int) bool {
	if h[i].uses != h[j].uses {
		return h[i].uses < h[j].uses
	}
	return h[i].seq < h[j].seq
}

func (h usageHeap[C]) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *usageHeap[C]) Push(x any) {
	e := x.(*entry[C])
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *usageHeap[C]) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

var _ Pool[Channel] = (*SoftPool[Channel])(nil)
