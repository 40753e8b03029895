package quota

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/infercore/infercore/internal/domain"
	"github.com/infercore/infercore/internal/slatier"
)

// tenantState holds one tenant's four gates (§4.4).
type tenantState struct {
	mu       sync.Mutex
	hourly   *windowCounter
	daily    *windowCounter
	monthly  *windowCounter
	second   *secondWindow
	bucket   *tokenBucket
	sem      chan struct{} // concurrency cap
}

// Limiter enforces per-tenant window quota, per-second rate, token bucket,
// and concurrency cap. The window, rate and bucket gates fail
// QUOTA_EXCEEDED; the concurrency cap waits for a free slot and fails BUSY
// if ctx ends first. A backing Store, when given, is only pinged by New: a
// failed ping logs a warning and drops it. Gate state is always kept in
// memory; the store is never read or written.
type Limiter struct {
	mu      sync.Mutex
	tenants map[string]*tenantState
	store   Store
	logger  *slog.Logger
	now     func() time.Time
}

// Store is the optional distributed backing store (e.g. a Redis-shaped KV).
// When nil, the limiter runs fully in-memory.
type Store interface {
	Ping(ctx context.Context) error
}

// New creates a Limiter. store may be nil.
func New(store Store, logger *slog.Logger) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Limiter{tenants: make(map[string]*tenantState), store: store, logger: logger, now: time.Now}
	if store != nil {
		if err := store.Ping(context.Background()); err != nil {
			l.logger.Warn("quota backing store unavailable, degrading to in-memory", slog.Any("error", err))
			l.store = nil
		}
	}
	return l
}

func (l *Limiter) stateFor(tenant domain.TenantContext) *tenantState {
	l.mu.Lock()
	defer l.mu.Unlock()

	ts, ok := l.tenants[tenant.TenantID]
	if ok {
		return ts
	}

	now := l.now()
	limits := slatier.Apply(tenant.QuotaLimits)
	concurrent := limits.MaxConcurrent
	if concurrent <= 0 {
		concurrent = 1
	}
	ts = &tenantState{
		hourly:  newWindowCounter(limits.HourlyLimit, WindowHourly, now),
		daily:   newWindowCounter(limits.DailyLimit, WindowDaily, now),
		monthly: newWindowCounter(limits.MonthlyLimit, WindowMonthly, now),
		second:  newSecondWindow(limits.RatePerSecond, now),
		bucket:  newTokenBucket(limits.BucketCapacity, limits.BucketFillRate, now),
		sem:     make(chan struct{}, concurrent),
	}
	l.tenants[tenant.TenantID] = ts
	return ts
}

// Permit is held for the duration of one infer call; Release must be called
// exactly once regardless of outcome (§4.4 gate 4, §5).
type Permit struct {
	sem chan struct{}
}

// Release frees the concurrency slot. Safe to call at most once.
func (p *Permit) Release() {
	if p.sem == nil {
		return
	}
	select {
	case <-p.sem:
	default:
	}
}

// Acquire checks all four gates and, on success, returns a Permit the caller
// must Release. On failure, returns ErrQuotaExceeded (window/rate/bucket
// gates) with the computed retry-after duration, wrapped for inspection via
// RetryAfterSeconds.
func (l *Limiter) Acquire(ctx context.Context, tenant domain.TenantContext, tokenCost float64) (*Permit, error) {
	ts := l.stateFor(tenant)

	ts.mu.Lock()
	now := l.now()

	if ok, retryAfter := ts.hourly.tryIncrement(now); !ok {
		ts.mu.Unlock()
		return nil, quotaErr(retryAfter)
	}
	if ok, retryAfter := ts.daily.tryIncrement(now); !ok {
		ts.mu.Unlock()
		return nil, quotaErr(retryAfter)
	}
	if ok, retryAfter := ts.monthly.tryIncrement(now); !ok {
		ts.mu.Unlock()
		return nil, quotaErr(retryAfter)
	}
	if !ts.second.allow(now) {
		ts.mu.Unlock()
		return nil, quotaErr(time.Second)
	}
	if !ts.bucket.reserve(now, tokenCost) {
		ts.mu.Unlock()
		return nil, quotaErr(time.Second)
	}
	sem := ts.sem
	ts.mu.Unlock()

	// Block until a concurrency slot frees up or ctx ends (§5: "acquiring a
	// quota permit" is a suspension point, bounded by the caller's deadline,
	// not an immediate fail).
	select {
	case sem <- struct{}{}:
		return &Permit{sem: sem}, nil
	case <-ctx.Done():
		return nil, domain.ErrBusy
	}
}

// quotaError carries the retry-after hint of a failed quota gate.
type quotaError struct {
	retryAfter time.Duration
}

func (e *quotaError) Error() string { return fmt.Sprintf("%s", domain.ErrQuotaExceeded) }
func (e *quotaError) Unwrap() error { return domain.ErrQuotaExceeded }

func quotaErr(retryAfter time.Duration) error {
	return &quotaError{retryAfter: retryAfter}
}

// RetryAfterSeconds returns the recommended retry-after for a quota error,
// or 0 if err is not a quota error.
func RetryAfterSeconds(err error) int {
	qe, ok := err.(*quotaError)
	if !ok {
		return 0
	}
	secs := int(qe.retryAfter.Seconds())
	if secs < 1 {
		secs = 1
	}
	return secs
}
