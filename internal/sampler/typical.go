package sampler

import (
	"math"
	"sort"
)

// typical keeps candidates whose entropy deviation falls below the
// typical_p threshold, implementing locally typical sampling: score each
// candidate by |H - (-log p)| (distance from the distribution's entropy),
// sort ascending by that score, and keep the smallest prefix whose
// cumulative probability reaches typical_p. typical_p >= 1 disables the
// stage (no distribution is less typical than the whole vocabulary).
func typical(cands []Candidate, typicalP float64) []Candidate {
	if typicalP >= 1.0 || len(cands) <= 1 {
		return cands
	}

	probs := softmax(cands)
	var entropy float64
	for _, pr := range probs {
		if pr.Logit <= 0 {
			continue
		}
		entropy -= float64(pr.Logit) * math.Log(float64(pr.Logit))
	}

	type scored struct {
		cand Candidate
		dist float64
	}
	scoredList := make([]scored, len(probs))
	for i, pr := range probs {
		negLogP := math.Inf(1)
		if pr.Logit > 0 {
			negLogP = -math.Log(float64(pr.Logit))
		}
		scoredList[i] = scored{cand: cands[i], dist: math.Abs(entropy - negLogP)}
	}
	sort.SliceStable(scoredList, func(i, j int) bool { return scoredList[i].dist < scoredList[j].dist })

	var cum float64
	cut := len(scoredList)
	for i, s := range scoredList {
		idx := indexOf(cands, s.cand.TokenID)
		cum += float64(probs[idx].Logit)
		if cum >= typicalP {
			cut = i + 1
			break
		}
	}

	out := make([]Candidate, cut)
	for i := 0; i < cut; i++ {
		out[i] = scoredList[i].cand
	}
	return out
}

func indexOf(cands []Candidate, tokenID int32) int {
	for i, c := range cands {
		if c.TokenID == tokenID {
			return i
		}
	}
	return -1
}
