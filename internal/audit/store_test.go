package audit

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/infercore/infercore/internal/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndRecentForRequestRoundTrips(t *testing.T) {
	s := openTestStore(t)

	events := []domain.AuditEvent{
		{RequestID: "r1", TenantID: "t1", ModelID: "m1", RunnerName: "gguf", Phase: domain.PhaseExecute, Status: domain.StatusProcessing, At: 1},
		{RequestID: "r1", TenantID: "t1", ModelID: "m1", RunnerName: "gguf", Phase: domain.PhaseComplete, Status: domain.StatusCompleted, At: 2},
	}
	for _, e := range events {
		s.Record(context.Background(), e)
	}

	got, err := s.RecentForRequest("r1", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, domain.StatusProcessing, got[0].Status)
	assert.Equal(t, domain.StatusCompleted, got[1].Status)
}

func TestRecordSwallowsPostCloseErrors(t *testing.T) {
	s, err := Open(t.TempDir(), nil)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	assert.NotPanics(t, func() {
		s.Record(context.Background(), domain.AuditEvent{RequestID: "r2"})
	})
}

func TestPingReportsConnectivity(t *testing.T) {
	s := openTestStore(t)
	assert.NoError(t, s.Ping())
}

func TestCompressDecompressRoundTripsLargePayload(t *testing.T) {
	raw := make([]byte, 8192)
	for i := range raw {
		raw[i] = byte(i % 251)
	}
	compressed, err := compress(raw)
	require.NoError(t, err)
	decompressed, err := decompress(compressed)
	require.NoError(t, err)
	assert.Equal(t, raw, decompressed)
}

func TestOpenCreatesNestedDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "audit")
	s, err := Open(dir, nil)
	require.NoError(t, err)
	defer s.Close()
	assert.NoError(t, s.Ping())
}
