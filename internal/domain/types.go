package domain

import "time"

// ─── Tenant & Request Context ───────────────────────────────────────────────

// TenantContext is stable for the lifetime of a request: created once,
// immutable after construction.
type TenantContext struct {
	TenantID       string
	Active         bool
	PreferredDevice DeviceKind // "" if unset
	CostSensitive  bool
	QuotaLimits    QuotaLimits
}

// QuotaLimits are the per-tenant gates enforced by C4.
type QuotaLimits struct {
	// Window quota: requests allowed per reset window.
	HourlyLimit  int64
	DailyLimit   int64
	MonthlyLimit int64

	// Sliding-second rate limit.
	RatePerSecond float64

	// Token bucket.
	BucketCapacity float64
	BucketFillRate float64 // tokens/sec

	// Concurrency cap.
	MaxConcurrent int

	// Optional SLA tier shorthand (§12 supplement); when set, resolves a
	// (maxConcurrent, ratePerMinute) pair layered on top of the above.
	Tier SLATier
}

// SLATier names a coarse service tier, modeled on tiered SLA engines in
// comparable local-serving daemons (§12 supplement).
type SLATier string

const (
	TierRealtime SLATier = "realtime"
	TierStandard SLATier = "standard"
	TierBatch    SLATier = "batch"
	TierSpot     SLATier = "spot"
)

// RequestContext is immutable once constructed.
type RequestContext struct {
	RequestID       string
	TenantID        string
	Attempt         int
	MaxAttempts     int
	Timeout         time.Duration
	DryRun          bool
	PreferredDevice DeviceKind
	CostSensitive   bool
}

// Deadline computes the absolute deadline for this request.
func (r RequestContext) Deadline(now time.Time) time.Time {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return now.Add(timeout)
}

// ─── Messages & Requests ────────────────────────────────────────────────────

// Role is the speaker of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one turn in a chat-style prompt.
type Message struct {
	Role    Role
	Content string
}

// InferenceRequest is the stable external contract (§6).
type InferenceRequest struct {
	RequestID  string
	ModelID    string
	TenantID   string
	Messages   []Message
	Prompt     string
	Parameters GenerationParams
	Stop       []string
	Stream     bool
}

// EffectivePrompt returns the raw prompt if set, else signals the caller
// must render messages via the injected template function (§9).
func (r InferenceRequest) EffectivePrompt() (prompt string, needsRender bool) {
	if r.Prompt != "" {
		return r.Prompt, false
	}
	return "", len(r.Messages) > 0
}

// ─── Model Manifest & Runner Metadata ───────────────────────────────────────

// ArtifactFormat names an on-disk model encoding.
type ArtifactFormat string

const (
	FormatGGUF   ArtifactFormat = "GGUF"
	FormatTFLite ArtifactFormat = "TFLite"
	FormatONNX   ArtifactFormat = "ONNX"
)

// Artifact describes one file backing a model version.
type Artifact struct {
	URI       string
	Checksum  string
	SizeBytes int64
}

// ResourceRequirements names the minimum host resources a manifest needs.
type ResourceRequirements struct {
	MinMemoryMB int64
}

// ModelManifest is durable and versioned; the core treats manifests as
// immutable snapshots it never mutates.
type ModelManifest struct {
	ModelID              string
	TenantID             string
	Version              string
	Artifacts            map[ArtifactFormat]Artifact
	ResourceRequirements ResourceRequirements
	SupportedFormats     []ArtifactFormat
}

// PrimaryFormat returns the first supported format, used for native-support
// scoring (§4.3).
func (m ModelManifest) PrimaryFormat() (ArtifactFormat, bool) {
	if len(m.SupportedFormats) == 0 {
		return "", false
	}
	return m.SupportedFormats[0], true
}

// RunnerCapabilities describes what a runner backend can do.
type RunnerCapabilities struct {
	Streaming         bool
	Batching          bool
	Quantization      bool
	MaxBatchSize      int
	SupportedDelegates []string
	MaxContextTokens  int
}

// RunnerMetadata is static, configured-at-startup information about one
// runner backend, consumed by the selection policy (C3).
type RunnerMetadata struct {
	Name             string
	Framework        string
	SupportedFormats []ArtifactFormat
	SupportedDevices []DeviceKind
	Capabilities     RunnerCapabilities
}

// SupportsFormat reports whether this runner can load the given format.
func (r RunnerMetadata) SupportsFormat(f ArtifactFormat) bool {
	for _, sf := range r.SupportedFormats {
		if sf == f {
			return true
		}
	}
	return false
}

// SupportsDevice reports whether this runner declares support for a device.
func (r RunnerMetadata) SupportsDevice(d DeviceKind) bool {
	for _, sd := range r.SupportedDevices {
		if sd == d {
			return true
		}
	}
	return false
}

// ─── Execution Token ────────────────────────────────────────────────────────

// Phase names a boundary C9 plugins hook into.
type Phase string

const (
	PhasePrepare  Phase = "PREPARE"
	PhaseTokenize Phase = "TOKENIZE"
	PhaseRoute    Phase = "ROUTE"
	PhaseSample   Phase = "SAMPLE"
	PhaseStream   Phase = "STREAM"
	PhaseExecute  Phase = "EXECUTE"
	PhaseComplete Phase = "COMPLETE"
)

// ExecutionStatus is the ExecutionToken's current state.
type ExecutionStatus string

const (
	StatusPending    ExecutionStatus = "PENDING"
	StatusProcessing ExecutionStatus = "PROCESSING"
	StatusCompleted  ExecutionStatus = "COMPLETED"
	StatusFailed     ExecutionStatus = "FAILED"
	StatusCancelled  ExecutionStatus = "CANCELLED"
)

// ExecutionToken tracks one request's progress through the orchestrator.
// Mutated only through transition operations that return a new value; prior
// states are not retained.
type ExecutionToken struct {
	ExecutionID string
	Phase       Phase
	Status      ExecutionStatus
	Attempt     int
	Variables   map[string]any
	Metadata    map[string]string
}

// Transition returns a new token advanced to the given phase/status, leaving
// the receiver untouched.
func (t ExecutionToken) Transition(phase Phase, status ExecutionStatus) ExecutionToken {
	next := ExecutionToken{
		ExecutionID: t.ExecutionID,
		Phase:       phase,
		Status:      status,
		Attempt:     t.Attempt,
		Variables:   make(map[string]any, len(t.Variables)),
		Metadata:    make(map[string]string, len(t.Metadata)),
	}
	for k, v := range t.Variables {
		next.Variables[k] = v
	}
	for k, v := range t.Metadata {
		next.Metadata[k] = v
	}
	return next
}

// ─── Responses ──────────────────────────────────────────────────────────────

// InferenceResponse is the stable external contract (§6). Error is set only
// for a per-request failure embedded in a batchInfer result (§4.8: "failures
// are embedded as error-bearing responses rather than aborting the batch");
// a nil Error means Content is a real completion.
type InferenceResponse struct {
	RequestID  string
	ModelID    string
	Content    string
	InputTokens  int
	OutputTokens int
	TokensUsed   int
	DurationMs   int64
	RunnerName   string
	Structured   map[string]any // non-text runner outputs, optional
	Error        *SurfaceError
}

// StreamChunk is one element of a streamed response.
type StreamChunk struct {
	RequestID      string
	SequenceNumber int64
	Delta          string
	IsFinal        bool
}

// Token is one piece emitted by the generation loop's backend, prior to
// assembly into a StreamChunk/InferenceResponse.
type Token struct {
	Text string
	ID   int32
	Done bool
}
