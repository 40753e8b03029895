package sampler

import "github.com/infercore/infercore/internal/domain"

// applyPenalties applies repeat/presence/frequency penalties to candidates
// whose token appears in the recent-tokens ring (§4.7). repeat_last_n <= 0
// disables this stage entirely regardless of the other penalty knobs.
func applyPenalties(cands []Candidate, recent *RecentTokens, p domain.GenerationParams) []Candidate {
	if p.RepeatLastN <= 0 || recent == nil {
		return cands
	}
	counts := recent.Counts()
	if len(counts) == 0 {
		return cands
	}

	out := make([]Candidate, len(cands))
	for i, c := range cands {
		count, seen := counts[c.TokenID]
		if !seen {
			out[i] = c
			continue
		}
		logit := c.Logit
		if p.RepeatPenalty != 0 {
			if logit > 0 {
				logit /= float32(p.RepeatPenalty)
			} else {
				logit *= float32(p.RepeatPenalty)
			}
		}
		logit -= float32(p.PresencePenalty)
		logit -= float32(p.FrequencyPenalty) * float32(count)
		out[i] = Candidate{TokenID: c.TokenID, Logit: logit}
	}
	return out
}
