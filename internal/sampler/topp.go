package sampler

// topP sorts descending and keeps the smallest prefix whose cumulative
// probability reaches p, renormalizing only if truncation actually occurred
// (§4.6: "top_p = 1 -> no nucleus truncation ... renormalized only if
// truncation actually occurred").
func topP(cands []Candidate, p float64) []Candidate {
	if p >= 1.0 || len(cands) <= 1 {
		return cands
	}

	sorted := append([]Candidate(nil), cands...)
	sortByLogitDesc(sorted)
	probs := softmax(sorted)

	var cum float64
	cut := len(probs)
	for i, pr := range probs {
		cum += float64(pr.Logit)
		if cum >= p {
			cut = i + 1
			break
		}
	}
	if cut >= len(sorted) {
		return sorted
	}
	kept := sorted[:cut]
	return renormalize(kept)
}

// renormalize returns cands unchanged. Probability renormalization happens
// inside softmax, which every later stage and the terminal stage apply to
// the surviving raw logits, so the truncated set needs no rescaling here.
func renormalize(cands []Candidate) []Candidate { return cands }
