// Package bulkhead caps total in-flight inferences across all tenants and
// runners, with a bounded wait queue beyond that cap (§4.8). Adapted from
// the retrieval pack's tiered back-pressure idiom (a bounded admission gate
// ahead of a worker pool) to this spec's simpler two-level shape: an
// in-flight semaphore plus one bounded FIFO wait queue, no back-pressure
// tiers since the spec names only a single bulkhead cap and queue depth.
package bulkhead

import (
	"context"

	"github.com/infercore/infercore/internal/domain"
)

// Config bounds the bulkhead (§4.8 defaults).
type Config struct {
	MaxInFlight int // default 100
	MaxQueue    int // default 50
}

// DefaultConfig returns the §4.8 defaults.
func DefaultConfig() Config { return Config{MaxInFlight: 100, MaxQueue: 50} }

// Bulkhead admits up to MaxInFlight concurrent callers, queuing up to
// MaxQueue additional waiters; beyond that it fails fast with ErrBusy.
type Bulkhead struct {
	slots chan struct{}
	queue chan struct{}
}

// New creates a Bulkhead.
func New(cfg Config) *Bulkhead {
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = 100
	}
	if cfg.MaxQueue < 0 {
		cfg.MaxQueue = 0
	}
	return &Bulkhead{
		slots: make(chan struct{}, cfg.MaxInFlight),
		queue: make(chan struct{}, cfg.MaxQueue),
	}
}

// Ticket must be released exactly once after the in-flight work completes.
type Ticket struct {
	slots chan struct{}
}

// Release frees the in-flight slot.
func (t *Ticket) Release() {
	if t.slots == nil {
		return
	}
	select {
	case <-t.slots:
	default:
	}
}

// Acquire admits immediately if a slot is free; otherwise takes a queue
// position and waits for a slot or ctx cancellation. If the queue itself is
// full, it fails fast with ErrBusy (§4.8: "exhaustion fails fast with BUSY").
func (bh *Bulkhead) Acquire(ctx context.Context) (*Ticket, error) {
	select {
	case bh.slots <- struct{}{}:
		return &Ticket{slots: bh.slots}, nil
	default:
	}

	select {
	case bh.queue <- struct{}{}:
		defer func() { <-bh.queue }()
	default:
		return nil, domain.ErrBusy
	}

	select {
	case bh.slots <- struct{}{}:
		return &Ticket{slots: bh.slots}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// InFlight reports the current number of occupied slots.
func (bh *Bulkhead) InFlight() int { return len(bh.slots) }

// QueueDepth reports the current number of queued waiters.
func (bh *Bulkhead) QueueDepth() int { return len(bh.queue) }
