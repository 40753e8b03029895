package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/infercore/infercore/internal/backend"
	"github.com/infercore/infercore/internal/domain"
	"github.com/infercore/infercore/internal/generation"
	"github.com/infercore/infercore/internal/metricsstore"
	"github.com/infercore/infercore/internal/quota"
	"github.com/infercore/infercore/internal/selection"
	"github.com/infercore/infercore/internal/warmpool"
)

type fakeManifests struct{}

func (fakeManifests) Resolve(_ context.Context, _, modelID string) (domain.ModelManifest, error) {
	if modelID == "does-not-exist" {
		return domain.ModelManifest{}, domain.ErrModelNotFound
	}
	return domain.ModelManifest{
		ModelID:          modelID,
		Artifacts:        map[domain.ArtifactFormat]domain.Artifact{domain.FormatGGUF: {URI: "file://m.gguf"}},
		SupportedFormats: []domain.ArtifactFormat{domain.FormatGGUF},
	}, nil
}

type noopAudit struct{}

func (noopAudit) Record(context.Context, domain.AuditEvent) {}

func newTestOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	metrics := metricsstore.New()
	runners := map[string]domain.RunnerMetadata{
		"gguf": {Name: "gguf", SupportedFormats: []domain.ArtifactFormat{domain.FormatGGUF}, SupportedDevices: []domain.DeviceKind{domain.DeviceCPU}},
	}
	deps := Deps{
		Metrics:   metrics,
		Policy:    selection.New(metrics, selection.DefaultWeights(), nil),
		Quota:     quota.New(nil, nil),
		Pool:      warmpool.New(warmpool.DefaultConfig(), nil),
		Loop:      generation.New(generation.DefaultConfig(), nil, nil),
		Manifests: fakeManifests{},
		Audit:     noopAudit{},
		Backends:  map[string]domain.NativeBackend{"gguf": &backend.MockBackend{Response: "hello world"}},
		Runners:   runners,
	}
	return New(DefaultConfig(), deps)
}

func activeTenant() domain.TenantContext {
	return domain.TenantContext{
		TenantID: "t1", Active: true,
		QuotaLimits: domain.QuotaLimits{
			HourlyLimit: 1000, RatePerSecond: 1000, BucketCapacity: 1000, BucketFillRate: 1000, MaxConcurrent: 10,
		},
	}
}

func TestInferSucceeds(t *testing.T) {
	o := newTestOrchestrator(t)
	tenant := activeTenant()

	params := domain.DefaultGenerationParams()
	params.Temperature = 0
	req := domain.InferenceRequest{RequestID: "r1", ModelID: "m1", Prompt: "hi", Parameters: params}
	reqCtx := domain.RequestContext{RequestID: "r1", Timeout: 5 * time.Second, MaxAttempts: 3}

	resp, err := o.Infer(context.Background(), tenant, req, reqCtx)
	require.NoError(t, err)
	assert.Equal(t, "hello world", resp.Content)
	assert.Equal(t, "gguf", resp.RunnerName)
}

func TestInferRejectsInactiveTenant(t *testing.T) {
	o := newTestOrchestrator(t)
	tenant := activeTenant()
	tenant.Active = false

	req := domain.InferenceRequest{RequestID: "r2", ModelID: "m1", Prompt: "hi", Parameters: domain.DefaultGenerationParams()}
	reqCtx := domain.RequestContext{RequestID: "r2", Timeout: 5 * time.Second}

	_, err := o.Infer(context.Background(), tenant, req, reqCtx)
	require.ErrorIs(t, err, domain.ErrForbidden)
}

func TestInferStreamEmitsChunksAndClosesChannel(t *testing.T) {
	o := newTestOrchestrator(t)
	tenant := activeTenant()

	params := domain.DefaultGenerationParams()
	params.Temperature = 0
	req := domain.InferenceRequest{RequestID: "r3", ModelID: "m1", Prompt: "hi", Parameters: params}
	reqCtx := domain.RequestContext{RequestID: "r3", Timeout: 5 * time.Second}

	chunks, errCh := o.InferStream(context.Background(), tenant, req, reqCtx)

	var got []domain.StreamChunk
	for c := range chunks {
		got = append(got, c)
	}
	require.NoError(t, <-errCh)
	require.NotEmpty(t, got)
	assert.True(t, got[len(got)-1].IsFinal)
}

func TestBatchInferPreservesOrderAndEmbedsFailures(t *testing.T) {
	o := newTestOrchestrator(t)
	tenant := activeTenant()

	params := domain.DefaultGenerationParams()
	params.Temperature = 0
	reqs := []domain.InferenceRequest{
		{RequestID: "b1", ModelID: "m1", Prompt: "hi", Parameters: params},
		{RequestID: "b2", ModelID: "does-not-exist", Prompt: "hi", Parameters: params},
	}
	reqCtx := domain.RequestContext{Timeout: 5 * time.Second}

	results := o.BatchInfer(context.Background(), tenant, reqs, reqCtx)
	require.Len(t, results, 2)
	assert.Equal(t, "b1", results[0].RequestID)
	assert.Equal(t, "b2", results[1].RequestID)
	assert.NoError(t, checkNilError(results[0].Error))
	require.NotNil(t, results[1].Error)
	assert.Equal(t, "MODEL_NOT_FOUND", results[1].Error.ErrorCode)
}

func checkNilError(e *domain.SurfaceError) error {
	if e != nil {
		return e
	}
	return nil
}

func TestSubmitAsyncJobCompletesEventually(t *testing.T) {
	o := newTestOrchestrator(t)
	tenant := activeTenant()

	params := domain.DefaultGenerationParams()
	params.Temperature = 0
	req := domain.InferenceRequest{RequestID: "async-1", ModelID: "m1", Prompt: "hi", Parameters: params}
	reqCtx := domain.RequestContext{RequestID: "async-1", Timeout: 5 * time.Second}

	jobID := o.SubmitAsyncJob(context.Background(), tenant, req, reqCtx, time.Now())
	require.Eventually(t, func() bool {
		job, err := o.GetJobStatus(jobID, tenant.TenantID)
		return err == nil && job.IsTerminal()
	}, 2*time.Second, 10*time.Millisecond)

	job, err := o.GetJobStatus(jobID, tenant.TenantID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobCompleted, job.Status)
	require.NotNil(t, job.Result)
	assert.Equal(t, "hello world", job.Result.Content)
}

func TestCancelJobOnUnknownIDFails(t *testing.T) {
	o := newTestOrchestrator(t)
	err := o.CancelJob("nope", "t1")
	require.Error(t, err)
}
