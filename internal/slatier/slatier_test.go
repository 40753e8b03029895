package slatier

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/infercore/infercore/internal/domain"
)

func TestResolveKnownTier(t *testing.T) {
	l := Resolve(domain.TierRealtime)
	assert.Equal(t, 100, l.MaxConcurrent)
	assert.Equal(t, 600.0, l.RatePerMinute)
}

func TestResolveUnknownTierFallsBackToSpot(t *testing.T) {
	l := Resolve(domain.SLATier("bogus"))
	assert.Equal(t, Resolve(domain.TierSpot), l)
}

func TestApplyLeavesUntieredQuotaUnchanged(t *testing.T) {
	q := domain.QuotaLimits{MaxConcurrent: 5, RatePerSecond: 2}
	assert.Equal(t, q, Apply(q))
}

func TestApplyTightensMaxConcurrentToTierCap(t *testing.T) {
	q := domain.QuotaLimits{Tier: domain.TierBatch, MaxConcurrent: 1000}
	got := Apply(q)
	assert.Equal(t, 20, got.MaxConcurrent)
}

func TestApplyFillsRateWhenUnset(t *testing.T) {
	q := domain.QuotaLimits{Tier: domain.TierStandard}
	got := Apply(q)
	assert.Equal(t, 5.0, got.RatePerSecond)
}
