package warmpool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/infercore/infercore/internal/domain"
)

type fakeHandle struct {
	name   string
	closed atomic.Bool
}

func (f *fakeHandle) Tokenize(text string, addBOS, parseSpecial bool) ([]int32, error) { return nil, nil }
func (f *fakeHandle) TokenToPiece(token int32, lstrip, special bool) (string, error)    { return "", nil }
func (f *fakeHandle) IsEndOfGeneration(token int32) bool                               { return false }
func (f *fakeHandle) Decode(ctx context.Context, batch domain.Batch) error             { return nil }
func (f *fakeHandle) Logits(index int) ([]float32, error)                             { return nil, nil }
func (f *fakeHandle) KVCacheClear()                                                    {}
func (f *fakeHandle) MemoryBytes() uint64                                              { return 1024 }
func (f *fakeHandle) Close() error {
	f.closed.Store(true)
	return nil
}

func countingCtor(calls *atomic.Int32) Constructor {
	return func(ctx context.Context, key Key, manifest domain.ModelManifest) (domain.ModelHandle, error) {
		calls.Add(1)
		return &fakeHandle{name: key.ModelID}, nil
	}
}

func TestGetOrCreateCachesByKey(t *testing.T) {
	p := New(DefaultConfig(), nil)
	var calls atomic.Int32
	key := Key{TenantID: "t1", ModelID: "m1", RunnerName: "gguf"}

	h1, err := p.GetOrCreate(context.Background(), key, domain.ModelManifest{}, countingCtor(&calls))
	require.NoError(t, err)
	h1.Release()

	h2, err := p.GetOrCreate(context.Background(), key, domain.ModelManifest{}, countingCtor(&calls))
	require.NoError(t, err)
	h2.Release()

	assert.Equal(t, int32(1), calls.Load(), "second GetOrCreate should hit the cache, not construct again")
}

func TestGetOrCreateSingleFlight(t *testing.T) {
	p := New(DefaultConfig(), nil)
	var calls atomic.Int32
	key := Key{TenantID: "t1", ModelID: "m1", RunnerName: "gguf"}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := p.GetOrCreate(context.Background(), key, domain.ModelManifest{}, countingCtor(&calls))
			require.NoError(t, err)
			h.Release()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load(), "concurrent requests for an absent key must share one construction")
}

func TestEvictionClosesLRUEntry(t *testing.T) {
	cfg := Config{MaxSize: 2}
	p := New(cfg, nil)
	var calls atomic.Int32

	var handles []*fakeHandle
	ctor := func(ctx context.Context, key Key, manifest domain.ModelManifest) (domain.ModelHandle, error) {
		calls.Add(1)
		h := &fakeHandle{name: key.ModelID}
		handles = append(handles, h)
		return h, nil
	}

	k1 := Key{TenantID: "t", ModelID: "m1", RunnerName: "r"}
	k2 := Key{TenantID: "t", ModelID: "m2", RunnerName: "r"}
	k3 := Key{TenantID: "t", ModelID: "m3", RunnerName: "r"}

	h1, err := p.GetOrCreate(context.Background(), k1, domain.ModelManifest{}, ctor)
	require.NoError(t, err)
	h1.Release() // refCount back to 0 — eligible for eviction

	h2, err := p.GetOrCreate(context.Background(), k2, domain.ModelManifest{}, ctor)
	require.NoError(t, err)
	h2.Release()

	h3, err := p.GetOrCreate(context.Background(), k3, domain.ModelManifest{}, ctor)
	require.NoError(t, err)
	defer h3.Release()

	assert.True(t, handles[0].closed.Load(), "LRU entry m1 should have been evicted and closed")
	stats := p.Stats()
	assert.Equal(t, 2, stats.Size)
}

func TestClearClosesAllAndRejectsFurtherUse(t *testing.T) {
	p := New(DefaultConfig(), nil)
	var calls atomic.Int32
	key := Key{TenantID: "t1", ModelID: "m1", RunnerName: "gguf"}

	h, err := p.GetOrCreate(context.Background(), key, domain.ModelManifest{}, countingCtor(&calls))
	require.NoError(t, err)
	h.Release()

	p.Clear()

	_, err = p.GetOrCreate(context.Background(), key, domain.ModelManifest{}, countingCtor(&calls))
	require.ErrorIs(t, err, domain.ErrPoolClosed)
}

func TestAcquirePermitSerializesGenerationOnOneHandle(t *testing.T) {
	p := New(DefaultConfig(), nil)
	var calls atomic.Int32
	key := Key{TenantID: "t1", ModelID: "m1", RunnerName: "gguf"}

	h, err := p.GetOrCreate(context.Background(), key, domain.ModelManifest{}, countingCtor(&calls))
	require.NoError(t, err)
	defer h.Release()

	require.NoError(t, h.AcquirePermit(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err = h.AcquirePermit(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded, "a second acquire must block until the first is released")

	h.ReleasePermit()
	require.NoError(t, h.AcquirePermit(context.Background()))
	h.ReleasePermit()
}
