package sampler

// minP drops candidates whose probability falls below min_p * max_prob,
// renormalizing by keeping only the surviving set; if the filter would empty
// the set entirely, the single top token is kept instead (§4.6, §4.7).
func minP(cands []Candidate, p float64) []Candidate {
	if p <= 0 || len(cands) == 0 {
		return cands
	}

	probs := softmax(cands)
	maxProb := float32(0)
	for _, pr := range probs {
		if pr.Logit > maxProb {
			maxProb = pr.Logit
		}
	}
	threshold := float32(p) * maxProb

	var kept []int
	for i, pr := range probs {
		if pr.Logit >= threshold {
			kept = append(kept, i)
		}
	}
	if len(kept) == 0 {
		best := 0
		for i, pr := range probs {
			if pr.Logit > probs[best].Logit {
				best = i
			}
		}
		return []Candidate{cands[best]}
	}

	out := make([]Candidate, len(kept))
	for i, idx := range kept {
		out[i] = cands[idx]
	}
	return out
}
