package plugin

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/infercore/infercore/internal/domain"
)

func orderRecorder(name string, order int, trail *[]string) Plugin {
	return Plugin{
		Name: name, Version: "1.0.0", Order: order,
		Phases: map[domain.Phase]Hook{
			domain.PhasePrepare: func(ctx context.Context, t domain.ExecutionToken) (domain.ExecutionToken, error) {
				*trail = append(*trail, name)
				return t, nil
			},
		},
	}
}

func TestInvokeRunsHooksInAscendingOrder(t *testing.T) {
	var trail []string
	r, err := New(context.Background(), ModeStrict, nil, []InitFunc{
		func(ctx context.Context) (Plugin, error) { return orderRecorder("b", 20, &trail), nil },
		func(ctx context.Context) (Plugin, error) { return orderRecorder("a", 10, &trail), nil },
	})
	require.NoError(t, err)

	_, err = r.Invoke(context.Background(), domain.PhasePrepare, domain.ExecutionToken{ExecutionID: "e1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, trail)
}

func TestStrictModeFailsOnInitError(t *testing.T) {
	_, err := New(context.Background(), ModeStrict, nil, []InitFunc{
		func(ctx context.Context) (Plugin, error) { return Plugin{}, errors.New("boom") },
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrPluginInitFailed)
}

func TestGracefulModeSkipsFailedPlugin(t *testing.T) {
	var trail []string
	r, err := New(context.Background(), ModeGraceful, nil, []InitFunc{
		func(ctx context.Context) (Plugin, error) { return Plugin{}, errors.New("boom") },
		func(ctx context.Context) (Plugin, error) { return orderRecorder("ok", 1, &trail), nil },
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"ok"}, r.Names())
}

func TestInvokeAbortsRemainingHooksOnError(t *testing.T) {
	var trail []string
	failing := Plugin{
		Name: "fails", Order: 0,
		Phases: map[domain.Phase]Hook{
			domain.PhasePrepare: func(ctx context.Context, t domain.ExecutionToken) (domain.ExecutionToken, error) {
				return t, errors.New("nope")
			},
		},
	}
	r, err := New(context.Background(), ModeStrict, nil, []InitFunc{
		func(ctx context.Context) (Plugin, error) { return failing, nil },
		func(ctx context.Context) (Plugin, error) { return orderRecorder("never-runs", 5, &trail), nil },
	})
	require.NoError(t, err)

	_, err = r.Invoke(context.Background(), domain.PhasePrepare, domain.ExecutionToken{})
	require.Error(t, err)
	assert.Empty(t, trail)
}

func TestUnregisterRemovesPlugin(t *testing.T) {
	var trail []string
	r, err := New(context.Background(), ModeStrict, nil, nil)
	require.NoError(t, err)
	r.Register(orderRecorder("x", 1, &trail))
	assert.Contains(t, r.Names(), "x")
	r.Unregister("x")
	assert.NotContains(t, r.Names(), "x")
}
