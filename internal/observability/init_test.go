package observability

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitWithoutOTLPEndpointUsesNoopTracing(t *testing.T) {
	providers, err := Init(Config{ServiceName: "infercore-test"})
	require.NoError(t, err)
	require.NotNil(t, providers.Logger)
	require.NotNil(t, providers.RED)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, providers.Shutdown(ctx))
}

func TestREDMetricsRecordRequestDoesNotPanic(t *testing.T) {
	providers, err := Init(Config{ServiceName: "infercore-test", LogLevel: slog.LevelDebug})
	require.NoError(t, err)
	defer providers.Shutdown(context.Background())

	assert.NotPanics(t, func() {
		done := providers.RED.TrackInflight(context.Background(), "gguf")
		providers.RED.RecordRequest(context.Background(), "gguf", "ok", 10*time.Millisecond)
		done()
	})
}

func TestTracingHandlerInjectsNoAttrsWithoutSpan(t *testing.T) {
	var captured []slog.Attr
	inner := &captureHandler{attrs: &captured}
	handler := NewTracingHandler(inner, "svc")

	logger := slog.New(handler)
	logger.Info("hello")

	for _, a := range captured {
		assert.NotEqual(t, attrTraceID, a.Key)
	}
}

type captureHandler struct {
	attrs *[]slog.Attr
}

func (c *captureHandler) Enabled(context.Context, slog.Level) bool { return true }
func (c *captureHandler) Handle(_ context.Context, r slog.Record) error {
	r.Attrs(func(a slog.Attr) bool {
		*c.attrs = append(*c.attrs, a)
		return true
	})
	return nil
}
func (c *captureHandler) WithAttrs(attrs []slog.Attr) slog.Handler { return c }
func (c *captureHandler) WithGroup(name string) slog.Handler       { return c }
