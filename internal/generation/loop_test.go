package generation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/infercore/infercore/internal/backend"
	"github.com/infercore/infercore/internal/domain"
)

func newHandle(t *testing.T, response string) domain.ModelHandle {
	t.Helper()
	b := &backend.MockBackend{Response: response}
	h, err := b.LoadModel(context.Background(), domain.Artifact{URI: "file://m.gguf"}, domain.LoadOptions{})
	require.NoError(t, err)
	return h
}

func TestRunGreedyProducesCannedResponse(t *testing.T) {
	loop := New(DefaultConfig(), nil, nil)
	handle := newHandle(t, "hello there friend")

	params := domain.DefaultGenerationParams()
	params.Temperature = 0
	params.MaxTokens = 10

	req := domain.InferenceRequest{RequestID: "r1", ModelID: "m1", Prompt: "hi", Parameters: params}
	reqCtx := domain.RequestContext{RequestID: "r1", Timeout: 5 * time.Second}

	result, err := loop.Run(context.Background(), handle, nil, req, reqCtx, nil)
	require.NoError(t, err)
	assert.Equal(t, "hello there friend", result.Response.Content)
	assert.Equal(t, 3, result.Response.OutputTokens)
	assert.Greater(t, result.Response.InputTokens, 0)
}

func TestRunRespectsMaxTokens(t *testing.T) {
	loop := New(DefaultConfig(), nil, nil)
	handle := newHandle(t, "one two three four five six seven eight")

	params := domain.DefaultGenerationParams()
	params.Temperature = 0
	params.MaxTokens = 2

	req := domain.InferenceRequest{RequestID: "r2", ModelID: "m1", Prompt: "hi", Parameters: params}
	reqCtx := domain.RequestContext{RequestID: "r2", Timeout: 5 * time.Second}

	result, err := loop.Run(context.Background(), handle, nil, req, reqCtx, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Response.OutputTokens)
}

func TestRunEmptyPromptReturnsEmptyResponse(t *testing.T) {
	loop := New(DefaultConfig(), nil, nil)
	handle := newHandle(t, "hello")

	req := domain.InferenceRequest{RequestID: "r3", ModelID: "m1", Prompt: "", Parameters: domain.DefaultGenerationParams()}
	reqCtx := domain.RequestContext{RequestID: "r3", Timeout: 5 * time.Second}

	result, err := loop.Run(context.Background(), handle, nil, req, reqCtx, nil)
	require.NoError(t, err)
	assert.Equal(t, "", result.Response.Content)
}

func TestRunStopSequenceTruncatesOutput(t *testing.T) {
	loop := New(DefaultConfig(), nil, nil)
	handle := newHandle(t, "hello there friend")

	params := domain.DefaultGenerationParams()
	params.Temperature = 0
	params.MaxTokens = 10

	req := domain.InferenceRequest{
		RequestID: "r4", ModelID: "m1", Prompt: "hi", Parameters: params,
		Stop: []string{"there"},
	}
	reqCtx := domain.RequestContext{RequestID: "r4", Timeout: 5 * time.Second}

	result, err := loop.Run(context.Background(), handle, nil, req, reqCtx, nil)
	require.NoError(t, err)
	assert.NotContains(t, result.Response.Content, "there")
}

func TestRunStreamingEmitsChunks(t *testing.T) {
	loop := New(DefaultConfig(), nil, nil)
	handle := newHandle(t, "alpha beta")

	params := domain.DefaultGenerationParams()
	params.Temperature = 0
	params.MaxTokens = 10

	req := domain.InferenceRequest{RequestID: "r5", ModelID: "m1", Prompt: "hi", Parameters: params, Stream: true}
	reqCtx := domain.RequestContext{RequestID: "r5", Timeout: 5 * time.Second}

	var emitted []domain.StreamChunk
	result, err := loop.Run(context.Background(), handle, nil, req, reqCtx, func(c domain.StreamChunk) {
		emitted = append(emitted, c)
	})
	require.NoError(t, err)
	require.NotEmpty(t, result.StreamChunks)
	assert.True(t, result.StreamChunks[len(result.StreamChunks)-1].IsFinal)
	assert.Equal(t, len(result.StreamChunks), len(emitted))
}

type fakePermit struct {
	acquired   bool
	released   bool
	acquireErr error
}

func (p *fakePermit) AcquirePermit(_ context.Context) error {
	if p.acquireErr != nil {
		return p.acquireErr
	}
	p.acquired = true
	return nil
}

func (p *fakePermit) ReleasePermit() { p.released = true }

func TestRunAcquiresAndReleasesPermit(t *testing.T) {
	loop := New(DefaultConfig(), nil, nil)
	handle := newHandle(t, "hello")
	permit := &fakePermit{}

	req := domain.InferenceRequest{RequestID: "r9", ModelID: "m1", Prompt: "hi", Parameters: domain.DefaultGenerationParams()}
	reqCtx := domain.RequestContext{RequestID: "r9", Timeout: 5 * time.Second}

	_, err := loop.Run(context.Background(), handle, permit, req, reqCtx, nil)
	require.NoError(t, err)
	assert.True(t, permit.acquired)
	assert.True(t, permit.released)
}

func TestRunFailsBusyWhenPermitUnavailable(t *testing.T) {
	loop := New(DefaultConfig(), nil, nil)
	handle := newHandle(t, "hello")
	permit := &fakePermit{acquireErr: context.DeadlineExceeded}

	req := domain.InferenceRequest{RequestID: "r10", ModelID: "m1", Prompt: "hi", Parameters: domain.DefaultGenerationParams()}
	reqCtx := domain.RequestContext{RequestID: "r10", Timeout: 5 * time.Second}

	_, err := loop.Run(context.Background(), handle, permit, req, reqCtx, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrBusy)
	assert.False(t, permit.released)
}

func TestRunInvalidGrammarFailsFast(t *testing.T) {
	loop := New(DefaultConfig(), nil, nil)
	handle := newHandle(t, "hello")

	params := domain.DefaultGenerationParams()
	params.Grammar = "not a grammar"

	req := domain.InferenceRequest{RequestID: "r6", ModelID: "m1", Prompt: "hi", Parameters: params}
	reqCtx := domain.RequestContext{RequestID: "r6", Timeout: 5 * time.Second}

	_, err := loop.Run(context.Background(), handle, nil, req, reqCtx, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidGrammar)
}

func TestRunJSONSchemaRejectsNonConformingOutput(t *testing.T) {
	loop := New(DefaultConfig(), nil, nil)
	handle := newHandle(t, "not valid json at all")

	params := domain.DefaultGenerationParams()
	params.Temperature = 0
	params.MaxTokens = 10
	params.JSONSchema = `{"type":"string"}`

	req := domain.InferenceRequest{RequestID: "r7", ModelID: "m1", Prompt: "hi", Parameters: params}
	reqCtx := domain.RequestContext{RequestID: "r7", Timeout: 5 * time.Second}

	_, err := loop.Run(context.Background(), handle, nil, req, reqCtx, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrSchemaValidation)
}

func TestRunJSONSchemaAcceptsConformingOutput(t *testing.T) {
	loop := New(DefaultConfig(), nil, nil)
	handle := newHandle(t, `"hi"`)

	params := domain.DefaultGenerationParams()
	params.Temperature = 0
	params.MaxTokens = 10
	params.JSONSchema = `{"type":"string"}`

	req := domain.InferenceRequest{RequestID: "r8", ModelID: "m1", Prompt: "hi", Parameters: params}
	reqCtx := domain.RequestContext{RequestID: "r8", Timeout: 5 * time.Second}

	result, err := loop.Run(context.Background(), handle, nil, req, reqCtx, nil)
	require.NoError(t, err)
	assert.Equal(t, `"hi"`, result.Response.Content)
}
