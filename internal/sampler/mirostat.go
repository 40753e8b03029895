package sampler

import "math"

// mirostatV1 implements Mirostat 1.0: estimate the Zipf exponent from the
// surprise of the top candidates, pick k from target entropy tau, truncate
// to k, then sample and update mu from the chosen token's surprise.
func (c *Chain) mirostatV1(cands []Candidate) (int32, error) {
	sorted := append([]Candidate(nil), cands...)
	sortByLogitDesc(sorted)
	probs := softmax(sorted)

	n := float64(len(sorted))
	var s float64 = 1.0
	if len(probs) >= 2 && probs[0].Logit > 0 && probs[1].Logit > 0 {
		t1 := math.Log(float64(probs[0].Logit)/float64(probs[1].Logit)) / math.Log(2.0/1.0)
		if !math.IsNaN(t1) && !math.IsInf(t1, 0) {
			s = t1
		}
	}

	epsilon := s - 1.0
	k := math.Pow((epsilon*math.Pow(2, c.mirostatMu))/(1-math.Pow(n, -epsilon)), 1.0/s)
	kInt := int(k)
	if kInt < 1 {
		kInt = 1
	}
	if kInt > len(sorted) {
		kInt = len(sorted)
	}

	truncated := sorted[:kInt]
	truncProbs := softmax(truncated)
	chosen := sampleCategorical(truncProbs, c.rng)

	idx := indexOf(truncated, chosen)
	if idx >= 0 {
		surprise := -math.Log2(float64(truncProbs[idx].Logit))
		c.mirostatMu -= c.params.MirostatEta * (surprise - c.params.MirostatTau)
	}
	return chosen, nil
}

// mirostatV2 implements Mirostat 2.0: keep only candidates whose surprise is
// at most mu (which starts at 2*tau), sample among them, then update mu from
// the chosen surprise.
func (c *Chain) mirostatV2(cands []Candidate) (int32, error) {
	probs := softmax(cands)

	var kept []Candidate
	for i, pr := range probs {
		surprise := -math.Log2(math.Max(float64(pr.Logit), 1e-12))
		if surprise <= c.mirostatMu {
			kept = append(kept, cands[i])
		}
	}
	if len(kept) == 0 {
		kept = cands
	}

	renorm := softmax(kept)
	chosen := sampleCategorical(renorm, c.rng)

	idx := indexOf(kept, chosen)
	if idx >= 0 {
		surprise := -math.Log2(math.Max(float64(renorm[idx].Logit), 1e-12))
		c.mirostatMu -= c.params.MirostatEta * (surprise - c.params.MirostatTau)
	}
	return chosen, nil
}
