// Package generation implements the Generation Loop (C6): the prepare,
// tokenize, prompt-evaluation, sampling, and finalize phases that turn one
// InferenceRequest into an InferenceResponse or a stream of StreamChunks.
package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/infercore/infercore/internal/chattemplate"
	"github.com/infercore/infercore/internal/domain"
	"github.com/infercore/infercore/internal/sampler"
)

// Config bounds the loop's own behavior, independent of any one request.
type Config struct {
	MaxBatchSize int // hard runtime cap on prompt-eval chunk size
}

// DefaultConfig returns the §4.6 default: chunks of at most 128 tokens.
func DefaultConfig() Config { return Config{MaxBatchSize: 128} }

// Loop runs the generation phases against a borrowed ModelHandle.
type Loop struct {
	cfg      Config
	renderer domain.ChatTemplateRenderer
	logger   *slog.Logger
}

// New builds a Loop. renderer may be nil, in which case message-bearing
// requests fall back to chattemplate.Default.
func New(cfg Config, renderer domain.ChatTemplateRenderer, logger *slog.Logger) *Loop {
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 128
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{cfg: cfg, renderer: renderer, logger: logger}
}

// Permit gates concurrent generation against one pooled RunnerInstance (§3:
// "bounded concurrency permit count"; §5: native handles are serialized by a
// bounded-concurrency gate since GGUF decode state is not re-entrant).
// AcquirePermit must succeed before Run touches the handle; ReleasePermit
// must be called exactly once after a successful acquire. warmpool.Handle
// implements this interface.
type Permit interface {
	AcquirePermit(ctx context.Context) error
	ReleasePermit()
}

// Result is returned by Run; StreamChunks is non-nil only when the request
// asked to stream, in which case Response.Content is the full assembled text
// for callers that want both views.
type Result struct {
	Response     domain.InferenceResponse
	StreamChunks []domain.StreamChunk
}

// Run executes one full inference over handle. permit, if non-nil, gates
// concurrent access to handle (§4.6 phase 1); emit, if non-nil, receives
// each StreamChunk as it is produced (§4.6 phase 4c). Run always also
// returns the fully assembled Result regardless of streaming.
func (l *Loop) Run(ctx context.Context, handle domain.ModelHandle, permit Permit, req domain.InferenceRequest, reqCtx domain.RequestContext, emit func(domain.StreamChunk)) (Result, error) {
	deadline := reqCtx.Deadline(time.Now())

	// Phase 1: prepare. Acquire the instance's concurrency permit before
	// touching the native handle at all; a timed-out wait fails BUSY rather
	// than corrupting a concurrent generation on the same handle.
	if permit != nil {
		acquireCtx, cancel := context.WithDeadline(ctx, deadline)
		acquireErr := permit.AcquirePermit(acquireCtx)
		cancel()
		if acquireErr != nil {
			if errors.Is(acquireErr, context.DeadlineExceeded) {
				return Result{}, domain.ErrBusy
			}
			return Result{}, domain.ErrCancelled
		}
		defer permit.ReleasePermit()
	}

	handle.KVCacheClear()
	prompt, err := l.renderPrompt(req)
	if err != nil {
		return Result{}, err
	}

	// Phase 2: tokenize. An empty rendered prompt produces an empty response
	// rather than an error (§4.6 phase 2).
	if strings.TrimSpace(prompt) == "" {
		return Result{Response: domain.InferenceResponse{RequestID: req.RequestID, ModelID: req.ModelID}}, nil
	}
	addBOS := !looksPreTokenized(prompt)
	promptTokens, err := handle.Tokenize(prompt, addBOS, true)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", domain.ErrPromptEvalFailed, err)
	}
	if len(promptTokens) == 0 {
		return Result{Response: domain.InferenceResponse{RequestID: req.RequestID, ModelID: req.ModelID}}, nil
	}

	// Phase 3: prompt evaluation in chunks of at most MaxBatchSize.
	lastLogitIndex, err := l.evalPrompt(ctx, handle, promptTokens, deadline)
	if err != nil {
		return Result{}, err
	}

	// Phase 4: sampling & generation.
	params := req.Parameters
	grammar, err := grammarFor(params)
	if err != nil {
		return Result{}, err
	}
	chain, err := sampler.New(params, grammar)
	if err != nil {
		return Result{}, err
	}
	recent := sampler.NewRecentTokens(params.RepeatLastN, promptTokens)

	var out strings.Builder
	var chunks []domain.StreamChunk
	var seq int64
	outputTokens := 0
	logitIndex := lastLogitIndex

	for {
		if time.Now().After(deadline) {
			return Result{}, domain.ErrTimeout
		}

		logits, err := handle.Logits(logitIndex)
		if err != nil {
			return Result{}, fmt.Errorf("%w: %v", domain.ErrDecodeFailed, err)
		}

		pieceOf := func(tok int32) (string, error) { return handle.TokenToPiece(tok, false, false) }
		tok, err := chain.Sample(logits, recent, pieceOf)
		if err != nil {
			return Result{}, err
		}

		if handle.IsEndOfGeneration(tok) {
			break
		}
		if outputTokens >= params.MaxTokens {
			break
		}

		piece, err := handle.TokenToPiece(tok, outputTokens == 0, false)
		if err != nil {
			return Result{}, fmt.Errorf("%w: %v", domain.ErrDecodeFailed, err)
		}

		out.WriteString(piece)
		outputTokens++

		if stopped, truncated := matchStop(out.String(), req.Stop); stopped {
			out.Reset()
			out.WriteString(truncated)
			break
		}

		if req.Stream {
			seq++
			chunk := domain.StreamChunk{RequestID: req.RequestID, SequenceNumber: seq, Delta: piece}
			chunks = append(chunks, chunk)
			if emit != nil {
				emit(chunk)
			}
		}

		recent.Push(tok)

		if err := handle.Decode(ctx, domain.Batch{
			Tokens:       []int32{tok},
			Positions:    []int32{int32(len(promptTokens) + outputTokens - 1)},
			LogitsOutput: []bool{true},
		}); err != nil {
			return Result{}, fmt.Errorf("%w: %v", domain.ErrDecodeFailed, err)
		}
		logitIndex = 0
	}

	if req.Stream {
		seq++
		final := domain.StreamChunk{RequestID: req.RequestID, SequenceNumber: seq, IsFinal: true}
		chunks = append(chunks, final)
		if emit != nil {
			emit(final)
		}
	}

	// Phase 5: finalize. A json_schema request gets its full accumulated
	// output checked against the caller's schema now, since gojsonschema
	// validates documents, not partial token streams (see
	// sampler.ValidateDocument).
	if params.JSONSchema != "" {
		if err := sampler.ValidateDocument(out.String(), params.JSONSchema); err != nil {
			return Result{}, fmt.Errorf("%w: %v", domain.ErrSchemaValidation, err)
		}
	}

	resp := domain.InferenceResponse{
		RequestID:    req.RequestID,
		ModelID:      req.ModelID,
		Content:      out.String(),
		InputTokens:  len(promptTokens),
		OutputTokens: outputTokens,
		TokensUsed:   len(promptTokens) + outputTokens,
	}
	return Result{Response: resp, StreamChunks: chunks}, nil
}

// renderPrompt implements phase 1's template rendering: raw prompt wins if
// present; else render messages, falling back to chattemplate.Default if the
// injected renderer yields an empty string (§4.6, §9).
func (l *Loop) renderPrompt(req domain.InferenceRequest) (string, error) {
	prompt, needsRender := req.EffectivePrompt()
	if !needsRender {
		return prompt, nil
	}

	if l.renderer != nil {
		rendered, err := l.renderer("", req.Messages)
		if err == nil && rendered != "" {
			return rendered, nil
		}
		if err != nil {
			l.logger.Warn("chat template render failed, falling back to default template", slog.Any("error", err))
		}
	}
	return chattemplate.Default(req.Messages), nil
}

// evalPrompt feeds promptTokens in chunks of at most cfg.MaxBatchSize,
// enabling logits output only on the last token of each chunk, returning
// the batch index whose logits feed the first sampling step (§4.6 phase 3).
func (l *Loop) evalPrompt(ctx context.Context, handle domain.ModelHandle, promptTokens []int32, deadline time.Time) (int, error) {
	n := l.cfg.MaxBatchSize
	for offset := 0; offset < len(promptTokens); offset += n {
		if time.Now().After(deadline) {
			return 0, domain.ErrTimeout
		}
		end := offset + n
		if end > len(promptTokens) {
			end = len(promptTokens)
		}
		chunk := promptTokens[offset:end]

		positions := make([]int32, len(chunk))
		logitsOut := make([]bool, len(chunk))
		for i := range chunk {
			positions[i] = int32(offset + i)
		}
		logitsOut[len(chunk)-1] = true

		if err := handle.Decode(ctx, domain.Batch{Tokens: chunk, Positions: positions, LogitsOutput: logitsOut}); err != nil {
			return 0, fmt.Errorf("%w: %v", domain.ErrPromptEvalFailed, err)
		}
	}
	last := len(promptTokens) % n
	if last == 0 {
		last = n
	}
	return last - 1, nil
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// looksPreTokenized reports whether prompt already embeds special chat
// tokens, in which case BOS must not be prepended (§4.6 phase 2).
func looksPreTokenized(prompt string) bool {
	return strings.Contains(prompt, "<|im_start|>") || strings.Contains(prompt, "[INST]") || strings.Contains(prompt, "<s>")
}

// matchStop reports whether output contains any declared stop string, and
// if so the output truncated at the first match (exclusive — the truncated
// output never contains the stop string itself, §3 invariant).
func matchStop(output string, stops []string) (bool, string) {
	earliest := -1
	for _, s := range stops {
		if s == "" {
			continue
		}
		if idx := strings.Index(output, s); idx != -1 && (earliest == -1 || idx < earliest) {
			earliest = idx
		}
	}
	if earliest == -1 {
		return false, output
	}
	return true, output[:earliest]
}

func grammarFor(p domain.GenerationParams) (sampler.Grammar, error) {
	if p.Grammar != "" {
		g, err := sampler.CompileGBNFLite(p.Grammar)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidGrammar, err)
		}
		return g, nil
	}
	if p.JSONMode || p.JSONSchema != "" {
		return sampler.NewJSONGrammar(), nil
	}
	return nil, nil
}
