// Package warmpool implements the Warm Pool (C5): an LRU+TTL cache of
// RunnerInstances keyed by (tenantId, modelId, runnerName), with
// single-flight construction and safe native-handle teardown. Grounded on
// the retrieval pack's model pool (internal/infra/engine/pool.go), whose
// hash-map + container/list LRU and reference-counted PoolHandle this
// package keeps, generalizing the key from model name alone to the
// spec's (tenant, model, runner) triple and replacing memory-bound
// eviction with the spec's count-bound LRU+TTL eviction.
package warmpool

import (
	"container/list"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/infercore/infercore/internal/domain"
)

// Key identifies one pooled RunnerInstance.
type Key struct {
	TenantID   string
	ModelID    string
	RunnerName string
}

func (k Key) String() string {
	return k.TenantID + "/" + k.ModelID + "/" + k.RunnerName
}

// Constructor builds a fresh RunnerInstance for a key. Invoked under the
// pool's single-flight barrier: at most one Constructor call per key is ever
// in flight at once (§3 invariant).
type Constructor func(ctx context.Context, key Key, manifest domain.ModelManifest) (domain.ModelHandle, error)

type entry struct {
	handle   domain.ModelHandle
	key      Key
	refCount int32
	element  *list.Element
	lastUsed time.Time

	// permit gates concurrent generation against this instance's native
	// handle (§3: "bounded concurrency permit count"; §5: native handles
	// are serialized by a bounded-concurrency gate, default 1 concurrent
	// generation per instance — GGUF decode state is not re-entrant).
	// Buffered at 1 and pre-filled, so AcquirePermit/ReleasePermit behave
	// like a non-reentrant mutex with a context-bound wait.
	permit chan struct{}
}

// Config controls pool sizing.
type Config struct {
	MaxSize int           // default 10
	IdleTTL time.Duration // default 15m
}

// DefaultConfig returns the §4.5 defaults.
func DefaultConfig() Config {
	return Config{MaxSize: 10, IdleTTL: 15 * time.Minute}
}

// Pool is a bounded LRU+TTL cache of RunnerInstances.
type Pool struct {
	mu      sync.Mutex
	entries map[Key]*entry
	lru     *list.List
	cfg     Config
	logger  *slog.Logger
	closed  bool

	inflight map[Key]*construction
}

type construction struct {
	done   chan struct{}
	handle domain.ModelHandle
	err    error
}

// New creates an empty warm pool.
func New(cfg Config, logger *slog.Logger) *Pool {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 10
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 15 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		entries:  make(map[Key]*entry),
		lru:      list.New(),
		cfg:      cfg,
		logger:   logger,
		inflight: make(map[Key]*construction),
	}
}

// Handle is returned by GetOrCreate. Caller must call Release exactly once.
type Handle struct {
	e    *entry
	pool *Pool
}

// Model returns the underlying handle, valid until Release.
func (h *Handle) Model() domain.ModelHandle { return h.e.handle }

// Release decrements the borrow count.
func (h *Handle) Release() {
	h.pool.mu.Lock()
	h.e.refCount--
	h.pool.mu.Unlock()
}

// AcquirePermit blocks until this instance's single-generation concurrency
// gate is free, or ctx ends first (§4.6 phase 1's "acquire a concurrency
// permit, blocking up to request.timeout"). Callers must call ReleasePermit
// exactly once after a nil return.
func (h *Handle) AcquirePermit(ctx context.Context) error {
	select {
	case <-h.e.permit:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ReleasePermit returns the concurrency permit acquired by AcquirePermit.
func (h *Handle) ReleasePermit() {
	select {
	case h.e.permit <- struct{}{}:
	default:
	}
}

// GetOrCreate resolves key to a RunnerInstance, constructing it via ctor if
// absent. Concurrent callers for the same absent key share one construction
// (single-flight — §4.5's critical invariant preventing double-loading of
// multi-GB models).
func (p *Pool) GetOrCreate(ctx context.Context, key Key, manifest domain.ModelManifest, ctor Constructor) (*Handle, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, domain.ErrPoolClosed
	}

	if e, ok := p.entries[key]; ok {
		e.refCount++
		e.lastUsed = time.Now()
		p.lru.MoveToFront(e.element)
		p.mu.Unlock()
		return &Handle{e: e, pool: p}, nil
	}

	if c, ok := p.inflight[key]; ok {
		p.mu.Unlock()
		<-c.done
		if c.err != nil {
			return nil, c.err
		}
		return p.GetOrCreate(ctx, key, manifest, ctor) // re-enter: now resident
	}

	c := &construction{done: make(chan struct{})}
	p.inflight[key] = c
	p.mu.Unlock()

	handle, err := ctor(ctx, key, manifest)

	p.mu.Lock()
	delete(p.inflight, key)
	if err != nil {
		c.err = fmt.Errorf("%w: %v", domain.ErrRunnerInitFailed, err)
		close(c.done)
		p.mu.Unlock()
		return nil, c.err
	}

	for p.lru.Len() >= p.cfg.MaxSize {
		if !p.evictOneLocked() {
			handle.Close()
			c.err = domain.ErrPoolNoCapacity
			close(c.done)
			p.mu.Unlock()
			return nil, c.err
		}
	}

	e := &entry{handle: handle, key: key, refCount: 1, lastUsed: time.Now(), permit: make(chan struct{}, 1)}
	e.permit <- struct{}{}
	e.element = p.lru.PushFront(e)
	p.entries[key] = e
	c.handle = handle
	close(c.done)
	p.mu.Unlock()

	return &Handle{e: e, pool: p}, nil
}

// evictOneLocked evicts the least-recently-used entry with refCount == 0.
// Must be called with p.mu held. The evicted instance's native handles are
// released before its slot is freed; if release fails, the error is logged
// and the slot is freed anyway to avoid leaking the slot (§4.5).
func (p *Pool) evictOneLocked() bool {
	for el := p.lru.Back(); el != nil; el = el.Prev() {
		e := el.Value.(*entry)
		if e.refCount != 0 {
			continue
		}
		if err := e.handle.Close(); err != nil {
			p.logger.Error("warm pool: evicted handle close failed", slog.String("key", e.key.String()), slog.Any("error", err))
		}
		p.lru.Remove(el)
		delete(p.entries, e.key)
		return true
	}
	return false
}

// Prewarm constructs instances for the given keys ahead of first use.
func (p *Pool) Prewarm(ctx context.Context, keys []Key, manifest domain.ModelManifest, ctor Constructor) error {
	for _, k := range keys {
		h, err := p.GetOrCreate(ctx, k, manifest, ctor)
		if err != nil {
			return err
		}
		h.Release()
	}
	return nil
}

// Stats reports pool occupancy.
type Stats struct {
	Size        int
	MaxSize     int
	Utilization float64
	Keys        []Key
}

// Stats returns current pool occupancy and per-key presence.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	keys := make([]Key, 0, len(p.entries))
	for k := range p.entries {
		keys = append(keys, k)
	}
	return Stats{
		Size:        len(p.entries),
		MaxSize:     p.cfg.MaxSize,
		Utilization: float64(len(p.entries)) / float64(p.cfg.MaxSize),
		Keys:        keys,
	}
}

// IdleReaper runs until ctx is cancelled, periodically evicting entries idle
// longer than IdleTTL and unreferenced.
func (p *Pool) IdleReaper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.reapIdle()
		}
	}
}

func (p *Pool) reapIdle() {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	for el := p.lru.Back(); el != nil; {
		e := el.Value.(*entry)
		prev := el.Prev()
		if e.refCount == 0 && now.Sub(e.lastUsed) > p.cfg.IdleTTL {
			if err := e.handle.Close(); err != nil {
				p.logger.Error("warm pool: idle reaper close failed", slog.String("key", e.key.String()), slog.Any("error", err))
			}
			p.lru.Remove(el)
			delete(p.entries, e.key)
		}
		el = prev
	}
}

// Clear closes every pooled instance and shuts the pool down; subsequent
// GetOrCreate calls return ErrPoolClosed (§4.5).
func (p *Pool) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for k, e := range p.entries {
		if err := e.handle.Close(); err != nil {
			p.logger.Error("warm pool: clear close failed", slog.String("key", k.String()), slog.Any("error", err))
		}
	}
	p.entries = make(map[Key]*entry)
	p.lru = list.New()
	p.closed = true
}
