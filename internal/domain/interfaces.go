package domain

import "context"

// ─── Boundary Interfaces ─────────────────────────────────────────────────────
// These interfaces are the seams named in §1 as external collaborators and
// in §6 as the NativeBackend capability set. Infrastructure implements them;
// the orchestrator and generation loop depend only on them.

// NativeBackend is the abstract FFI glue to a third-party inference library
// (llama.cpp/GGUF being principal — §1, §6). The core ships a MockBackend
// test double; production wiring of a real backend is out of scope.
type NativeBackend interface {
	LoadModel(ctx context.Context, artifact Artifact, opts LoadOptions) (ModelHandle, error)
}

// LoadOptions configures how a model is loaded onto a device.
type LoadOptions struct {
	GPULayers int
	MMap      bool
	MLock     bool
	MainGPU   int
	NCtx      int
	NBatch    int
	NThreads  int
	OffloadKQV bool
}

// ModelHandle is a loaded model bound to one context, owned exclusively by
// the warm pool (C5) and borrowed by the generation loop (C6) for the
// duration of one infer call.
type ModelHandle interface {
	// Tokenize converts text to backend-internal token ids.
	Tokenize(text string, addBOS, parseSpecial bool) ([]int32, error)
	// TokenToPiece detokenizes a single token.
	TokenToPiece(token int32, lstrip bool, special bool) (string, error)
	// IsEndOfGeneration reports whether a token id is an end-of-generation marker.
	IsEndOfGeneration(token int32) bool
	// Decode evaluates a batch of tokens; logits for positions flagged in
	// LogitsOutput are then read with Logits.
	Decode(ctx context.Context, batch Batch) error
	// Logits returns the logits vector at a decoded batch index.
	Logits(index int) ([]float32, error)
	// KVCacheClear resets the KV cache (stateless mode — every request clears it).
	KVCacheClear()
	// MemoryBytes reports the handle's resident memory for pool accounting.
	MemoryBytes() uint64
	// Close releases native resources. Must be idempotent.
	Close() error
}

// Batch is the backend-agnostic shape of a decode batch (§6).
type Batch struct {
	Tokens       []int32
	Positions    []int32
	SeqIDs       [][]int32
	LogitsOutput []bool // per-token: emit logits for this position?
}

// ManifestProvider resolves a modelId to its ModelManifest. The durable
// model registry itself is out of scope (§1); the core only consumes this
// interface.
type ManifestProvider interface {
	Resolve(ctx context.Context, tenantID, modelID string) (ModelManifest, error)
}

// ChatTemplateRenderer renders a message sequence to a prompt. Injected as
// a pure function per §9 — the core never embeds a template engine.
type ChatTemplateRenderer func(modelFamily string, messages []Message) (string, error)

// AuditSink records lifecycle events for a request. Best-effort: failures
// here must never fail the inference (§5, §9).
type AuditSink interface {
	Record(ctx context.Context, event AuditEvent)
}

// AuditEvent is one audit record (§4.8 flow: PROCESSING/COMPLETED/FAILED).
type AuditEvent struct {
	RequestID string
	TenantID  string
	ModelID   string
	RunnerName string
	Phase     Phase
	Status    ExecutionStatus
	ErrorKind string
	At        int64 // unix nanos; passed in, never time.Now() inside domain
}
