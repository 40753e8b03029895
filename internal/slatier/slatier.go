// Package slatier resolves a named SLA tier (§12 supplement) into a
// (maxConcurrent, ratePerMinute) pair layered on top of a tenant's numeric
// QuotaLimits, grounded on the retrieval pack's mcp.SLAEngine tier table
// (pricing/priority fields dropped: billing is explicitly out of scope,
// §13 Non-goals).
package slatier

import "github.com/infercore/infercore/internal/domain"

// Limits is the resolved concurrency/rate envelope for one tier.
type Limits struct {
	MaxConcurrent int
	RatePerMinute float64
}

var tiers = map[domain.SLATier]Limits{
	domain.TierRealtime: {MaxConcurrent: 100, RatePerMinute: 600},
	domain.TierStandard: {MaxConcurrent: 50, RatePerMinute: 300},
	domain.TierBatch:    {MaxConcurrent: 20, RatePerMinute: 60},
	domain.TierSpot:     {MaxConcurrent: 10, RatePerMinute: 30},
}

// Resolve returns the tier's limits, falling back to the spot tier for an
// unknown or empty tier name.
func Resolve(tier domain.SLATier) Limits {
	if l, ok := tiers[tier]; ok {
		return l
	}
	return tiers[domain.TierSpot]
}

// Apply layers the tier's limits onto q, taking the tighter of the two
// MaxConcurrent values and the tier's RatePerMinute when q sets none,
// matching §12's "layered on top of, not replacing" numeric limits.
func Apply(q domain.QuotaLimits) domain.QuotaLimits {
	if q.Tier == "" {
		return q
	}
	l := Resolve(q.Tier)
	if q.MaxConcurrent <= 0 || l.MaxConcurrent < q.MaxConcurrent {
		q.MaxConcurrent = l.MaxConcurrent
	}
	if q.RatePerSecond <= 0 {
		q.RatePerSecond = l.RatePerMinute / 60
	}
	return q
}
