package sampler

// topK keeps the k highest-logit candidates. k <= 0 disables truncation
// (§4.6 edge case: "top_k = 0 -> no top-k truncation").
func topK(cands []Candidate, k int) []Candidate {
	if k <= 0 || k >= len(cands) {
		return cands
	}
	sorted := append([]Candidate(nil), cands...)
	sortByLogitDesc(sorted)
	return sorted[:k]
}
