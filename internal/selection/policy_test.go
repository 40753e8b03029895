package selection

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/infercore/infercore/internal/domain"
	"github.com/infercore/infercore/internal/metricsstore"
)

func ggufManifest() domain.ModelManifest {
	return domain.ModelManifest{
		ModelID:          "m1",
		SupportedFormats: []domain.ArtifactFormat{domain.FormatGGUF},
		Artifacts: map[domain.ArtifactFormat]domain.Artifact{
			domain.FormatGGUF: {URI: "file://m1.gguf"},
		},
	}
}

func TestSelectFiltersIncompatibleFormat(t *testing.T) {
	p := New(metricsstore.New(), DefaultWeights(), nil)
	runners := []domain.RunnerMetadata{
		{Name: "onnx-runner", SupportedFormats: []domain.ArtifactFormat{domain.FormatONNX}, SupportedDevices: []domain.DeviceKind{domain.DeviceCPU}},
	}
	ranked := p.Select(domain.HardwareCapabilities{}, ggufManifest(), domain.RequestContext{}, runners, StrategyBalanced)
	assert.Empty(t, ranked)
}

func TestSelectFiltersUnavailableDevice(t *testing.T) {
	p := New(metricsstore.New(), DefaultWeights(), nil)
	runners := []domain.RunnerMetadata{
		{Name: "gguf-cuda", SupportedFormats: []domain.ArtifactFormat{domain.FormatGGUF}, SupportedDevices: []domain.DeviceKind{domain.DeviceCUDA}},
	}
	req := domain.RequestContext{PreferredDevice: domain.DeviceCUDA}
	ranked := p.Select(domain.HardwareCapabilities{CUDAAvailable: false}, ggufManifest(), req, runners, StrategyBalanced)
	assert.Empty(t, ranked)
}

func TestSelectRanksHealthyOverUnhealthy(t *testing.T) {
	store := metricsstore.New()
	store.SetHealthy("sick", false)
	p := New(store, DefaultWeights(), nil)
	runners := []domain.RunnerMetadata{
		{Name: "sick", SupportedFormats: []domain.ArtifactFormat{domain.FormatGGUF}, SupportedDevices: []domain.DeviceKind{domain.DeviceCPU}},
		{Name: "well", SupportedFormats: []domain.ArtifactFormat{domain.FormatGGUF}, SupportedDevices: []domain.DeviceKind{domain.DeviceCPU}},
	}
	ranked := p.Select(domain.HardwareCapabilities{}, ggufManifest(), domain.RequestContext{Timeout: time.Second}, runners, StrategyBalanced)
	require.Len(t, ranked, 2)
	assert.Equal(t, "well", ranked[0])
}

func TestSelectTieBreaksLexicographically(t *testing.T) {
	p := New(metricsstore.New(), DefaultWeights(), nil)
	runners := []domain.RunnerMetadata{
		{Name: "zeta", SupportedFormats: []domain.ArtifactFormat{domain.FormatGGUF}, SupportedDevices: []domain.DeviceKind{domain.DeviceCPU}},
		{Name: "alpha", SupportedFormats: []domain.ArtifactFormat{domain.FormatGGUF}, SupportedDevices: []domain.DeviceKind{domain.DeviceCPU}},
	}
	ranked := p.Select(domain.HardwareCapabilities{}, ggufManifest(), domain.RequestContext{}, runners, StrategyBalanced)
	require.Len(t, ranked, 2)
	assert.Equal(t, []string{"alpha", "zeta"}, ranked)
}

func TestSelectLatencyStrategyPrefersGPU(t *testing.T) {
	p := New(metricsstore.New(), DefaultWeights(), nil)
	runners := []domain.RunnerMetadata{
		{Name: "cpu-runner", SupportedFormats: []domain.ArtifactFormat{domain.FormatGGUF}, SupportedDevices: []domain.DeviceKind{domain.DeviceCPU}},
		{Name: "gpu-runner", SupportedFormats: []domain.ArtifactFormat{domain.FormatGGUF}, SupportedDevices: []domain.DeviceKind{domain.DeviceCUDA}},
	}
	hw := domain.HardwareCapabilities{CUDAAvailable: true}
	ranked := p.Select(hw, ggufManifest(), domain.RequestContext{}, runners, StrategyLatency)
	require.Len(t, ranked, 2)
	assert.Equal(t, "gpu-runner", ranked[0])
}

func TestSelectUnknownStrategyFallsBackToBalanced(t *testing.T) {
	p := New(metricsstore.New(), DefaultWeights(), nil)
	runners := []domain.RunnerMetadata{
		{Name: "only", SupportedFormats: []domain.ArtifactFormat{domain.FormatGGUF}, SupportedDevices: []domain.DeviceKind{domain.DeviceCPU}},
	}
	ranked := p.Select(domain.HardwareCapabilities{}, ggufManifest(), domain.RequestContext{}, runners, Strategy("nonsense"))
	require.Len(t, ranked, 1)
}
