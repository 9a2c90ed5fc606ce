package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Sentinel errors for pool operations. These can be checked with errors.Is().
var (
	// ErrChannelRefused is reported by an Opener when the server would not
	// grant another channel. The pool recovers from it internally by
	// freezing its capacity; it is never surfaced to borrowers.
	ErrChannelRefused = errors.New("pool: channel refused by server")

	// ErrAcquireTimeout indicates no channel became available within the
	// configured wait bound.
	ErrAcquireTimeout = errors.New("pool: timed out waiting for a channel")

	// ErrNoChannels indicates the pool could neither select an existing
	// channel nor create a new one.
	ErrNoChannels = errors.New("pool: no channels available")

	// ErrLeakedChannels is returned by Close under the strict termination
	// policy while channels are still checked out. No teardown is
	// performed; release the outstanding channels and retry.
	ErrLeakedChannels = errors.New("pool: close would leak active channels")

	// ErrClosed indicates the pool has been shut down.
	ErrClosed = errors.New("pool: closed")
)

// Channel is the constraint for resources managed by a pool. Channels are
// created and destroyed exclusively by the pool that opened them; borrowers
// hold one only for the duration of a single operation.
type Channel interface {
	Close() error
}

// Opener mints new channels over the underlying connection. An Opener must
// return an error wrapping ErrChannelRefused when the remote side declines
// to grant another channel, so the pool can distinguish capacity exhaustion
// from genuine failures.
type Opener[C Channel] interface {
	OpenChannel(ctx context.Context) (C, error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc[C Channel] func(ctx context.Context) (C, error)

// OpenChannel implements Opener.
func (f OpenerFunc[C]) OpenChannel(ctx context.Context) (C, error) { return f(ctx) }

// ReleaseFunc returns a borrowed channel to its pool. It must be called
// exactly once on every exit path, including failure.
type ReleaseFunc func()

// Pool is the acquisition contract shared by both policies.
type Pool[C Channel] interface {
	// Acquire borrows a channel for the scope of one operation. The
	// returned ReleaseFunc must be called when the scope ends.
	Acquire(ctx context.Context) (C, ReleaseFunc, error)

	// With runs fn with a borrowed channel, releasing it on every exit
	// path.
	With(ctx context.Context, fn func(C) error) error

	// Stats reports a snapshot of the pool's bookkeeping.
	Stats() Stats

	// Close shuts the pool down and destroys every channel it created.
	Close() error
}

// Config carries the knobs shared by both policies.
type Config struct {
	// MaxChannels bounds the number of simultaneously open channels.
	// Zero or negative means unbounded. The effective bound may shrink
	// at runtime when the server refuses channel creation.
	MaxChannels int

	// AcquireTimeout bounds how long a hard-pool acquisition waits for a
	// free channel. Zero fails immediately when nothing is free; a
	// negative value waits without bound. The soft policy never waits
	// and ignores this setting.
	AcquireTimeout time.Duration

	// StrictClose makes Close fail with ErrLeakedChannels while channels
	// are still checked out, instead of force-closing everything.
	StrictClose bool
}

// Stats is a point-in-time snapshot of pool bookkeeping.
type Stats struct {
	// Active is the number of checked-out channels. For the soft policy
	// this counts concurrent borrowers, so it may exceed Opened.
	Active int

	// Opened is the number of channels the pool has created so far.
	Opened int

	// Limit is the current capacity bound, or -1 when unbounded.
	Limit int
}

const unbounded = -1

// core holds the capacity-aware creation and shutdown bookkeeping shared by
// HardPool and SoftPool. The embedding policy owns the free list or usage
// index; core owns the counters and the full set of opened channels.
type core[C Channel] struct {
	opener Opener[C]

	mu       sync.Mutex
	limit    int // current capacity; unbounded when negative
	active   int
	reserved int // creations in flight, counted against limit
	opened   []C // every channel minted, closed on shutdown
	closed   bool

	timeout time.Duration
	strict  bool
}

func newCore[C Channel](opener Opener[C], cfg Config) core[C] {
	limit := cfg.MaxChannels
	if limit <= 0 {
		limit = unbounded
	}
	return core[C]{
		opener:  opener,
		limit:   limit,
		timeout: cfg.AcquireTimeout,
		strict:  cfg.StrictClose,
	}
}

// tryOpen attempts to create a new channel if capacity allows. A refusal
// from the server freezes the capacity at the current active count and is
// reported as "no channel" rather than an error: the caller falls back to
// waiting for, or sharing, an existing channel. The zero C and ok=false
// mean no channel was created.
//
// A created channel is returned already checked out: active is incremented
// under the same lock that publishes it, so no concurrent borrower or a
// strict Close can observe the hand-off half done. adopt, when non-nil,
// registers the channel with the policy's own index inside that critical
// section.
func (c *core[C]) tryOpen(ctx context.Context, adopt func(C)) (ch C, ok bool, err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ch, false, ErrClosed
	}
	if c.limit != unbounded && c.active+c.reserved >= c.limit {
		c.mu.Unlock()
		return ch, false, nil
	}
	c.reserved++
	c.mu.Unlock()

	opened, err := c.opener.OpenChannel(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.reserved--

	if err != nil {
		if errors.Is(err, ErrChannelRefused) {
			// The server is out of channels. Freeze the limit at the
			// last known-good level so we stop paying for failed opens.
			c.limit = c.active
			return ch, false, nil
		}
		return ch, false, err
	}
	if c.closed {
		// Lost the race with Close; the new channel is not tracked
		// anywhere, so destroy it here.
		_ = opened.Close()
		return ch, false, ErrClosed
	}
	c.active++
	c.opened = append(c.opened, opened)
	if adopt != nil {
		adopt(opened)
	}
	return opened, true, nil
}

// shutdown implements the shared Close semantics. cleanup runs with the
// lock held and clears the policy's own structures (free list or usage
// index). Errors from closing individual channels are suppressed: a channel
// may already be half-torn-down if an earlier open partially failed, and
// shutdown must make a best effort and always complete.
func (c *core[C]) shutdown(cleanup func()) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	if c.active > 0 && c.strict {
		active := c.active
		c.mu.Unlock()
		return fmt.Errorf("%w: %d still checked out", ErrLeakedChannels, active)
	}
	c.closed = true
	cleanup()
	opened := c.opened
	c.opened = nil
	c.mu.Unlock()

	for _, ch := range opened {
		_ = ch.Close()
	}
	return nil
}

func (c *core[C]) stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Active: c.active,
		Opened: len(c.opened),
		Limit:  c.limit,
	}
}
