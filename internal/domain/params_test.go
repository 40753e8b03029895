package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParamsFromMapDefaults(t *testing.T) {
	p, err := ParamsFromMap(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultGenerationParams(), p)
}

func TestParamsFromMapOverrides(t *testing.T) {
	p, err := ParamsFromMap(map[string]any{
		"max_tokens":  float64(8),
		"temperature": float64(0),
		"seed":        float64(42),
	})
	require.NoError(t, err)
	assert.Equal(t, 8, p.MaxTokens)
	assert.Equal(t, 0.0, p.Temperature)
	assert.Equal(t, int64(42), p.Seed)
	assert.Equal(t, 40, p.TopK) // untouched default
}

func TestParamsFromMapUnrecognizedKey(t *testing.T) {
	_, err := ParamsFromMap(map[string]any{"bogus": true})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBadRequest))
}

func TestParamsFromMapInvalidMirostat(t *testing.T) {
	_, err := ParamsFromMap(map[string]any{"mirostat": float64(9)})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBadRequest))
}

func TestClassifyWrappedError(t *testing.T) {
	wrapped := errors.New("resolve manifest: " + ErrModelNotFound.Error())
	assert.Equal(t, KindInternal, Classify(wrapped)) // plain string wrap, not errors.Is chain

	properlyWrapped := fmtErrorf(ErrModelNotFound)
	assert.Equal(t, KindModelNotFound, Classify(properlyWrapped))
}

func fmtErrorf(err error) error {
	return errWrap{err}
}

type errWrap struct{ err error }

func (e errWrap) Error() string { return "resolve: " + e.err.Error() }
func (e errWrap) Unwrap() error { return e.err }

func TestExecutionTokenTransitionIsImmutable(t *testing.T) {
	tok := ExecutionToken{
		ExecutionID: "exec-1",
		Phase:       PhasePrepare,
		Status:      StatusPending,
		Variables:   map[string]any{"a": 1},
	}
	next := tok.Transition(PhaseExecute, StatusProcessing)
	assert.Equal(t, PhasePrepare, tok.Phase)
	assert.Equal(t, PhaseExecute, next.Phase)
	next.Variables["a"] = 2
	assert.Equal(t, 1, tok.Variables["a"])
}
