// Package orchestrator implements the Orchestrator (C8): binds the
// selection policy, warm pool, quota limiter, and resilience primitives
// (circuit breaker, bulkhead) behind the sync/async/stream/batch
// entrypoints named in §4.8.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/infercore/infercore/internal/bulkhead"
	"github.com/infercore/infercore/internal/circuitbreaker"
	"github.com/infercore/infercore/internal/domain"
	"github.com/infercore/infercore/internal/generation"
	"github.com/infercore/infercore/internal/hardware"
	"github.com/infercore/infercore/internal/metricsstore"
	"github.com/infercore/infercore/internal/plugin"
	"github.com/infercore/infercore/internal/quota"
	"github.com/infercore/infercore/internal/selection"
	"github.com/infercore/infercore/internal/warmpool"
)

// Config bounds retry/resilience behavior (§4.8 defaults).
type Config struct {
	MaxAttempts      int // default 3
	RetryBaseDelay   time.Duration
	Breaker          circuitbreaker.Config
	Bulkhead         bulkhead.Config
	JobRetention     time.Duration // default 24h
	DefaultStrategy  selection.Strategy
}

// DefaultConfig returns the §4.8 defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:     3,
		RetryBaseDelay:  100 * time.Millisecond,
		Breaker:         circuitbreaker.DefaultConfig(),
		Bulkhead:        bulkhead.DefaultConfig(),
		JobRetention:    24 * time.Hour,
		DefaultStrategy: selection.StrategyBalanced,
	}
}

// Orchestrator is the top-level entrypoint binding every other component.
type Orchestrator struct {
	cfg Config

	hw       *hardware.Probe
	metrics  *metricsstore.Store
	policy   *selection.Policy
	quota    *quota.Limiter
	pool     *warmpool.Pool
	loop     *generation.Loop
	plugins  *plugin.Registry
	manifests domain.ManifestProvider
	audit    domain.AuditSink
	backends map[string]domain.NativeBackend
	runners  map[string]domain.RunnerMetadata
	bh       *bulkhead.Bulkhead
	logger   *slog.Logger

	breakersMu sync.Mutex
	breakers   map[string]*circuitbreaker.Breaker

	jobsMu sync.Mutex
	jobs   map[string]*domain.AsyncJob
}

// Deps bundles the collaborators an Orchestrator needs. All fields are
// required except Hardware and Plugins, which may be nil.
type Deps struct {
	Hardware  *hardware.Probe
	Metrics   *metricsstore.Store
	Policy    *selection.Policy
	Quota     *quota.Limiter
	Pool      *warmpool.Pool
	Loop      *generation.Loop
	Plugins   *plugin.Registry
	Manifests domain.ManifestProvider
	Audit     domain.AuditSink
	Backends  map[string]domain.NativeBackend
	Runners   map[string]domain.RunnerMetadata
	Logger    *slog.Logger
}

// New builds an Orchestrator.
func New(cfg Config, deps Deps) *Orchestrator {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 100 * time.Millisecond
	}
	if cfg.JobRetention <= 0 {
		cfg.JobRetention = 24 * time.Hour
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		cfg:       cfg,
		hw:        deps.Hardware,
		metrics:   deps.Metrics,
		policy:    deps.Policy,
		quota:     deps.Quota,
		pool:      deps.Pool,
		loop:      deps.Loop,
		plugins:   deps.Plugins,
		manifests: deps.Manifests,
		audit:     deps.Audit,
		backends:  deps.Backends,
		runners:   deps.Runners,
		bh:        bulkhead.New(cfg.Bulkhead),
		logger:    logger,
		breakers:  make(map[string]*circuitbreaker.Breaker),
		jobs:      make(map[string]*domain.AsyncJob),
	}
}

func (o *Orchestrator) breakerFor(runnerName string) *circuitbreaker.Breaker {
	o.breakersMu.Lock()
	defer o.breakersMu.Unlock()
	b, ok := o.breakers[runnerName]
	if !ok {
		b = circuitbreaker.New(o.cfg.Breaker)
		o.breakers[runnerName] = b
	}
	return b
}

// Infer runs one request to completion, blocking. §4.8 flow: validate
// tenant -> quota -> select -> resolve -> audit PROCESSING -> generate ->
// audit COMPLETED/FAILED, retried per Kind.Retryable up to MaxAttempts,
// failing over to the next ranked candidate on a tripped breaker.
func (o *Orchestrator) Infer(ctx context.Context, tenant domain.TenantContext, req domain.InferenceRequest, reqCtx domain.RequestContext) (domain.InferenceResponse, error) {
	resp, _, err := o.run(ctx, tenant, req, reqCtx, nil)
	return resp, err
}

// InferStream runs one request, forwarding StreamChunks to the returned
// channel as they are produced; the channel is closed when generation ends
// (successfully or not). A send error is available via the returned error
// channel's single value read after the stream channel closes.
func (o *Orchestrator) InferStream(ctx context.Context, tenant domain.TenantContext, req domain.InferenceRequest, reqCtx domain.RequestContext) (<-chan domain.StreamChunk, <-chan error) {
	req.Stream = true
	chunks := make(chan domain.StreamChunk, 16)
	errCh := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errCh)
		_, _, err := o.run(ctx, tenant, req, reqCtx, func(c domain.StreamChunk) {
			select {
			case chunks <- c:
			case <-ctx.Done():
			}
		})
		errCh <- err
	}()

	return chunks, errCh
}

// Future is returned by InferAsync.
type Future struct {
	done chan struct{}
	resp domain.InferenceResponse
	err  error
}

// Wait blocks until the inference completes or ctx is cancelled.
func (f *Future) Wait(ctx context.Context) (domain.InferenceResponse, error) {
	select {
	case <-f.done:
		return f.resp, f.err
	case <-ctx.Done():
		return domain.InferenceResponse{}, ctx.Err()
	}
}

// InferAsync runs the request in the background, returning a Future.
func (o *Orchestrator) InferAsync(ctx context.Context, tenant domain.TenantContext, req domain.InferenceRequest, reqCtx domain.RequestContext) *Future {
	f := &Future{done: make(chan struct{})}
	go func() {
		defer close(f.done)
		f.resp, _, f.err = o.run(ctx, tenant, req, reqCtx, nil)
	}()
	return f
}

// BatchInfer runs every request, preserving input order. A per-request
// failure is embedded as an error-bearing InferenceResponse rather than
// aborting the remaining requests (§4.8).
func (o *Orchestrator) BatchInfer(ctx context.Context, tenant domain.TenantContext, reqs []domain.InferenceRequest, reqCtxTemplate domain.RequestContext) []domain.InferenceResponse {
	out := make([]domain.InferenceResponse, len(reqs))
	var wg sync.WaitGroup
	for i, req := range reqs {
		wg.Add(1)
		go func(i int, req domain.InferenceRequest) {
			defer wg.Done()
			reqCtx := reqCtxTemplate
			reqCtx.RequestID = req.RequestID
			resp, _, err := o.run(ctx, tenant, req, reqCtx, nil)
			if err != nil {
				resp = domain.InferenceResponse{
					RequestID: req.RequestID,
					ModelID:   req.ModelID,
					Error:     domain.NewSurfaceError(err, req.RequestID, 0),
				}
			}
			out[i] = resp
		}(i, req)
	}
	wg.Wait()
	return out
}

// SubmitAsyncJob registers a job and runs it in the background, returning
// its jobId immediately. Results are retained for JobRetention after
// completion (§4.8).
func (o *Orchestrator) SubmitAsyncJob(ctx context.Context, tenant domain.TenantContext, req domain.InferenceRequest, reqCtx domain.RequestContext, now time.Time) string {
	job := &domain.AsyncJob{
		JobID:       reqCtx.RequestID,
		TenantID:    tenant.TenantID,
		Request:     req,
		Status:      domain.JobQueued,
		SubmittedAt: now,
	}
	o.jobsMu.Lock()
	o.jobs[job.JobID] = job
	o.jobsMu.Unlock()

	go func() {
		o.setJobStatus(job.JobID, domain.JobRunning, nil, "", time.Time{})
		resp, _, err := o.run(ctx, tenant, req, reqCtx, nil)
		if err != nil {
			o.setJobStatus(job.JobID, domain.JobFailed, nil, err.Error(), time.Now())
			return
		}
		o.setJobStatus(job.JobID, domain.JobCompleted, &resp, "", time.Now())
	}()

	return job.JobID
}

func (o *Orchestrator) setJobStatus(jobID string, status domain.JobStatus, result *domain.InferenceResponse, errMsg string, completedAt time.Time) {
	o.jobsMu.Lock()
	defer o.jobsMu.Unlock()
	job, ok := o.jobs[jobID]
	if !ok || job.Status == domain.JobCancelled {
		return
	}
	job.Status = status
	if result != nil {
		job.Result = result
	}
	if errMsg != "" {
		job.Error = errMsg
	}
	if !completedAt.IsZero() {
		job.CompletedAt = completedAt
	}
}

// GetJobStatus returns the job for a tenant, or ErrModelNotFound-shaped
// failure if absent or owned by another tenant.
func (o *Orchestrator) GetJobStatus(jobID, tenantID string) (domain.AsyncJob, error) {
	o.jobsMu.Lock()
	defer o.jobsMu.Unlock()
	job, ok := o.jobs[jobID]
	if !ok || job.TenantID != tenantID {
		return domain.AsyncJob{}, fmt.Errorf("%w: job %s", domain.ErrModelNotFound, jobID)
	}
	return *job, nil
}

// CancelJob marks a queued or running job cancelled. It does not preempt an
// in-flight generation loop; it only prevents a terminal status overwrite
// and flags the job for callers polling its status.
func (o *Orchestrator) CancelJob(jobID, tenantID string) error {
	o.jobsMu.Lock()
	defer o.jobsMu.Unlock()
	job, ok := o.jobs[jobID]
	if !ok || job.TenantID != tenantID {
		return fmt.Errorf("%w: job %s", domain.ErrModelNotFound, jobID)
	}
	if job.IsTerminal() {
		return nil
	}
	job.Status = domain.JobCancelled
	return nil
}

// ReapJobs drops completed jobs older than JobRetention, called
// periodically by the daemon's background maintenance loop.
func (o *Orchestrator) ReapJobs(now time.Time) {
	o.jobsMu.Lock()
	defer o.jobsMu.Unlock()
	for id, job := range o.jobs {
		if job.IsTerminal() && !job.CompletedAt.IsZero() && now.Sub(job.CompletedAt) > o.cfg.JobRetention {
			delete(o.jobs, id)
		}
	}
}

// run implements the full §4.8 flow for one request, including retry and
// failover across ranked candidates.
func (o *Orchestrator) run(ctx context.Context, tenant domain.TenantContext, req domain.InferenceRequest, reqCtx domain.RequestContext, emit func(domain.StreamChunk)) (domain.InferenceResponse, []domain.StreamChunk, error) {
	start := time.Now()

	if !tenant.Active {
		return domain.InferenceResponse{}, nil, domain.ErrForbidden
	}

	// Every blocking point below (quota permit, bulkhead ticket, warm-pool
	// concurrency permit) is bounded by the request's own deadline (§5's
	// "suspension/blocking points"), not the caller's raw ctx.
	ctx, cancel := context.WithDeadline(ctx, reqCtx.Deadline(start))
	defer cancel()

	permit, err := o.quota.Acquire(ctx, tenant, 1)
	if err != nil {
		return domain.InferenceResponse{}, nil, err
	}
	defer permit.Release()

	ticket, err := o.bh.Acquire(ctx)
	if err != nil {
		return domain.InferenceResponse{}, nil, err
	}
	defer ticket.Release()

	manifest, err := o.manifests.Resolve(ctx, tenant.TenantID, req.ModelID)
	if err != nil {
		return domain.InferenceResponse{}, nil, fmt.Errorf("%w: %v", domain.ErrModelNotFound, err)
	}

	candidates := o.rankCandidates(manifest, reqCtx)
	if len(candidates) == 0 {
		return domain.InferenceResponse{}, nil, domain.ErrDeviceUnavailable
	}

	var lastErr error
	for attempt := 1; attempt <= o.cfg.MaxAttempts; attempt++ {
		runnerName, ok := o.nextOpenCandidate(candidates, attempt-1)
		if !ok {
			break
		}

		o.audit.Record(ctx, domain.AuditEvent{RequestID: reqCtx.RequestID, TenantID: tenant.TenantID, ModelID: req.ModelID, RunnerName: runnerName, Phase: domain.PhaseExecute, Status: domain.StatusProcessing, At: start.UnixNano()})

		resp, chunks, err := o.attempt(ctx, tenant, req, reqCtx, manifest, runnerName, emit)
		if err == nil {
			o.metrics.RecordSuccess(runnerName)
			o.metrics.RecordLatency(runnerName, time.Since(start).Milliseconds())
			o.breakerFor(runnerName).RecordSuccess()
			o.metrics.SetHealthy(runnerName, o.breakerFor(runnerName).Healthy())
			resp.DurationMs = time.Since(start).Milliseconds()
			resp.RunnerName = runnerName
			o.audit.Record(ctx, domain.AuditEvent{RequestID: reqCtx.RequestID, TenantID: tenant.TenantID, ModelID: req.ModelID, RunnerName: runnerName, Phase: domain.PhaseComplete, Status: domain.StatusCompleted, At: time.Now().UnixNano()})
			return resp, chunks, nil
		}

		lastErr = err
		o.metrics.RecordFailure(runnerName)
		o.breakerFor(runnerName).RecordFailure()
		o.metrics.SetHealthy(runnerName, o.breakerFor(runnerName).Healthy())
		o.audit.Record(ctx, domain.AuditEvent{RequestID: reqCtx.RequestID, TenantID: tenant.TenantID, ModelID: req.ModelID, RunnerName: runnerName, Phase: domain.PhaseComplete, Status: domain.StatusFailed, ErrorKind: domain.Classify(err).String(), At: time.Now().UnixNano()})

		if !domain.Classify(err).Retryable() {
			break
		}
		if attempt < o.cfg.MaxAttempts {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * o.cfg.RetryBaseDelay
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return domain.InferenceResponse{}, nil, ctx.Err()
			}
		}
	}

	return domain.InferenceResponse{}, nil, lastErr
}

// rankCandidates resolves the selection policy's ranked runner list.
func (o *Orchestrator) rankCandidates(manifest domain.ModelManifest, reqCtx domain.RequestContext) []string {
	hw := domain.HardwareCapabilities{}
	if o.hw != nil {
		hw = o.hw.Detect()
	}
	metadatas := make([]domain.RunnerMetadata, 0, len(o.runners))
	for _, rm := range o.runners {
		metadatas = append(metadatas, rm)
	}
	return o.policy.Select(hw, manifest, reqCtx, metadatas, o.cfg.DefaultStrategy)
}

// nextOpenCandidate walks candidates starting at offset, skipping any whose
// circuit breaker is open (failover by excluding the tripped runner, §4.8).
func (o *Orchestrator) nextOpenCandidate(candidates []string, offset int) (string, bool) {
	for i := offset; i < len(candidates); i++ {
		if o.breakerFor(candidates[i]).Allow() {
			return candidates[i], true
		}
	}
	return "", false
}

// attempt resolves a warm-pool instance for runnerName and runs the
// generation loop against it.
func (o *Orchestrator) attempt(ctx context.Context, tenant domain.TenantContext, req domain.InferenceRequest, reqCtx domain.RequestContext, manifest domain.ModelManifest, runnerName string, emit func(domain.StreamChunk)) (domain.InferenceResponse, []domain.StreamChunk, error) {
	backend, ok := o.backends[runnerName]
	if !ok {
		return domain.InferenceResponse{}, nil, fmt.Errorf("%w: no backend registered for runner %q", domain.ErrRunnerInitFailed, runnerName)
	}

	key := warmpool.Key{TenantID: tenant.TenantID, ModelID: req.ModelID, RunnerName: runnerName}
	ctor := func(ctx context.Context, key warmpool.Key, manifest domain.ModelManifest) (domain.ModelHandle, error) {
		rm := o.runners[runnerName]
		var artifact domain.Artifact
		for _, f := range rm.SupportedFormats {
			if a, ok := manifest.Artifacts[f]; ok {
				artifact = a
				break
			}
		}
		return backend.LoadModel(ctx, artifact, domain.LoadOptions{})
	}

	handle, err := o.pool.GetOrCreate(ctx, key, manifest, ctor)
	if err != nil {
		return domain.InferenceResponse{}, nil, err
	}
	defer handle.Release()

	o.metrics.IncInflight(runnerName)
	defer o.metrics.DecInflight(runnerName)

	result, err := o.loop.Run(ctx, handle.Model(), handle, req, reqCtx, emit)
	if err != nil {
		return domain.InferenceResponse{}, nil, err
	}
	return result.Response, result.StreamChunks, nil
}
