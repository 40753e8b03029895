// Package selection implements the Selection Policy (C3): filtering and
// scoring of candidate runners for a request, grounded on the same
// filter-then-score-then-rank shape as the retrieval pack's weighted
// node-scoring scheduler, generalized to this spec's additive integer
// rubric (§4.3).
package selection

import (
	"log/slog"
	"sort"

	"github.com/infercore/infercore/internal/domain"
	"github.com/infercore/infercore/internal/metricsstore"
)

// Strategy names a scoring override (§4.3).
type Strategy string

const (
	StrategyBalanced Strategy = "balanced"
	StrategyLatency  Strategy = "latency"
	StrategyCost     Strategy = "cost"
	StrategyMemory   Strategy = "memory"
)

// Weights holds per-signal weights for the "balanced" strategy, summing to 1.
// A Policy keeps the Weights it is given, but the balanced score is the fixed
// point table in additiveScore; the weights do not change any score.
type Weights struct {
	Device    float64
	Format    float64
	Latency   float64
	Memory    float64
	Health    float64
	Cost      float64
	Load      float64
}

// DefaultWeights mirrors the additive point values of §4.3, normalized to
// weights summing to 1 (50+30+25+20+15+10+15 = 165).
func DefaultWeights() Weights {
	return Weights{
		Device:  50.0 / 165,
		Format:  30.0 / 165,
		Latency: 25.0 / 165,
		Memory:  20.0 / 165,
		Health:  15.0 / 165,
		Cost:    10.0 / 165,
		Load:    15.0 / 165,
	}
}

// Policy filters and scores candidate runners.
type Policy struct {
	metrics  *metricsstore.Store
	weights  Weights
	logger   *slog.Logger
}

// New creates a Policy backed by the given metrics store.
func New(metrics *metricsstore.Store, weights Weights, logger *slog.Logger) *Policy {
	if logger == nil {
		logger = slog.Default()
	}
	return &Policy{metrics: metrics, weights: weights, logger: logger}
}

// candidate pairs a runner's static metadata with its live metrics.
type candidate struct {
	meta  domain.RunnerMetadata
	score int
}

// Select filters then scores runners, returning a best-first ranked list of
// runner names. Empty if no candidate passes the filters (§4.3).
func (p *Policy) Select(hw domain.HardwareCapabilities, manifest domain.ModelManifest, req domain.RequestContext, runners []domain.RunnerMetadata, strategy Strategy) []string {
	filtered := p.filter(hw, manifest, req, runners)
	if len(filtered) == 0 {
		return nil
	}

	scored := make([]candidate, 0, len(filtered))
	for _, rm := range filtered {
		scored = append(scored, candidate{meta: rm, score: p.score(rm, manifest, req, strategy)})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score > scored[j].score
		}
		return scored[i].meta.Name < scored[j].meta.Name // tie-break: lexicographic
	})

	names := make([]string, len(scored))
	for i, c := range scored {
		names[i] = c.meta.Name
	}
	return names
}

// filter applies §4.3's ordered filters; failure eliminates a candidate.
func (p *Policy) filter(hw domain.HardwareCapabilities, manifest domain.ModelManifest, req domain.RequestContext, runners []domain.RunnerMetadata) []domain.RunnerMetadata {
	out := make([]domain.RunnerMetadata, 0, len(runners))
	for _, rm := range runners {
		if !formatCompatible(rm, manifest) {
			continue
		}
		if req.PreferredDevice != "" {
			if !rm.SupportsDevice(req.PreferredDevice) {
				continue
			}
			if req.PreferredDevice == domain.DeviceCUDA && !hw.CUDAAvailable {
				continue
			}
			if req.PreferredDevice == domain.DeviceMetal && !hw.MetalAvailable {
				continue
			}
		}
		if manifest.ResourceRequirements.MinMemoryMB > 0 {
			needed := uint64(manifest.ResourceRequirements.MinMemoryMB) * 1024 * 1024
			if hw.AvailMemBytes < needed {
				continue
			}
		}
		out = append(out, rm)
	}
	return out
}

func formatCompatible(rm domain.RunnerMetadata, manifest domain.ModelManifest) bool {
	for _, f := range rm.SupportedFormats {
		if _, ok := manifest.Artifacts[f]; ok {
			return true
		}
	}
	return false
}

// score computes the named-strategy score for a candidate already known to
// pass the filters.
func (p *Policy) score(rm domain.RunnerMetadata, manifest domain.ModelManifest, req domain.RequestContext, strategy Strategy) int {
	switch strategy {
	case StrategyLatency:
		return devicePriorityScore(rm, []domain.DeviceKind{domain.DeviceCUDA, domain.DeviceTPU, domain.DeviceNPU, domain.DeviceCPU})
	case StrategyCost:
		return devicePriorityScore(rm, []domain.DeviceKind{domain.DeviceCPU, domain.DeviceNPU, domain.DeviceTPU, domain.DeviceCUDA})
	case StrategyMemory:
		if rm.Capabilities.Quantization {
			return 2
		}
		if rm.SupportsDevice(domain.DeviceCPU) {
			return 1
		}
		return 0
	case StrategyBalanced, "":
		return p.additiveScore(rm, manifest, req)
	default:
		p.logger.Warn("unknown selection strategy, falling back to balanced", slog.String("strategy", string(strategy)))
		return p.additiveScore(rm, manifest, req)
	}
}

func devicePriorityScore(rm domain.RunnerMetadata, order []domain.DeviceKind) int {
	for i, kind := range order {
		if rm.SupportsDevice(kind) {
			return len(order) - i
		}
	}
	return 0
}

// additiveScore implements §4.3's point table directly.
func (p *Policy) additiveScore(rm domain.RunnerMetadata, manifest domain.ModelManifest, req domain.RequestContext) int {
	score := 0
	snap := p.metrics.Snapshot(rm.Name)

	if req.PreferredDevice != "" && rm.SupportsDevice(req.PreferredDevice) {
		score += 50
	}
	if primary, ok := manifest.PrimaryFormat(); ok && rm.SupportsFormat(primary) {
		score += 30
	}
	if req.Timeout > 0 && snap.P95Ms < float64(req.Timeout.Milliseconds()) {
		score += 25
	}
	score += 20 // filter() already eliminated candidates lacking required memory
	if snap.Healthy {
		score += 15
	}
	if req.CostSensitive && rm.SupportsDevice(domain.DeviceCPU) {
		score += 10
	}

	switch {
	case snap.Load > 0.95:
		score -= 50
	case snap.Load > 0.80:
		score -= 20
	case snap.Load < 0.70:
		score += 15
	}

	return score
}
