// Package sampler implements the Sampler Chain (C7): composable operators
// that narrow a vocabulary-sized logit vector down to one sampled token.
// The composition order is fixed by design: penalties, top-k, top-p, min-p,
// typical, grammar, then exactly one terminal stage.
package sampler

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/infercore/infercore/internal/domain"
)

// Candidate is one (tokenId, logit) pair under consideration.
type Candidate struct {
	TokenID int32
	Logit   float32
}

// RecentTokens is a fixed-capacity ring of the last N generated (or
// prompt-tail) tokens, feeding the penalty stage.
type RecentTokens struct {
	buf   []int32
	cap   int
	start int
	size  int
}

// NewRecentTokens seeds the ring from the prompt tail, keeping at most the
// last n tokens (§4.6 phase 4: "initialize ... from the last repeat_last_n
// prompt tokens").
func NewRecentTokens(n int, seed []int32) *RecentTokens {
	if n < 0 {
		n = 0
	}
	r := &RecentTokens{buf: make([]int32, n)}
	r.cap = n
	if n == 0 {
		return r
	}
	start := 0
	if len(seed) > n {
		start = len(seed) - n
	}
	for _, t := range seed[start:] {
		r.Push(t)
	}
	return r
}

// Push evicts the oldest token if at capacity.
func (r *RecentTokens) Push(token int32) {
	if r.cap == 0 {
		return
	}
	idx := (r.start + r.size) % r.cap
	r.buf[idx] = token
	if r.size < r.cap {
		r.size++
	} else {
		r.start = (r.start + 1) % r.cap
	}
}

// Counts returns occurrence counts of each token currently in the ring.
func (r *RecentTokens) Counts() map[int32]int {
	counts := make(map[int32]int, r.size)
	for i := 0; i < r.size; i++ {
		counts[r.buf[(r.start+i)%r.cap]]++
	}
	return counts
}

// Chain holds the stages configured for one generation request.
type Chain struct {
	params  domain.GenerationParams
	grammar Grammar
	rng     *rand.Rand

	// mirostat state persists across the loop per §4.7.
	mirostatMu float64
}

// New builds a sampler chain for one request. grammar may be nil; when set,
// Sample needs a pieceOf resolver to check candidates against it.
func New(params domain.GenerationParams, grammar Grammar) (*Chain, error) {
	if params.Mirostat < 0 || params.Mirostat > 2 {
		return nil, fmt.Errorf("%w: mirostat must be 0, 1, or 2", domain.ErrBadRequest)
	}
	seed := params.Seed
	if seed < 0 {
		seed = nanoSeed()
	}
	return &Chain{
		params:     params,
		grammar:    grammar,
		rng:        rand.New(rand.NewSource(seed)),
		mirostatMu: 2 * params.MirostatTau,
	}, nil
}

// nanoSeed derives a seed from the wall clock, used when params.Seed < 0
// (§4.6 edge case). Isolated so tests can avoid nondeterminism elsewhere.
var nanoSeed = func() int64 {
	return timeNowNano()
}

// Sample runs the full fixed-order chain over logits and returns the chosen
// token id. pieceOf, when the chain carries a grammar, resolves token ids to
// surface text for constraint checking.
func (c *Chain) Sample(logits []float32, recent *RecentTokens, pieceOf func(int32) (string, error)) (int32, error) {
	if c.params.Temperature <= 0 {
		return c.greedy(logits), nil
	}

	cands := toCandidates(logits)
	cands = applyPenalties(cands, recent, c.params)
	cands = topK(cands, c.params.TopK)
	cands = topP(cands, c.params.TopP)
	cands = minP(cands, c.params.MinP)
	cands = typical(cands, c.params.TypicalP)

	if c.grammar != nil {
		var err error
		cands, err = c.grammar.Filter(cands, pieceOf)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", domain.ErrInvalidGrammar, err)
		}
	}

	if len(cands) == 0 {
		return 0, fmt.Errorf("%w: sampler chain eliminated every candidate", domain.ErrDecodeFailed)
	}

	switch c.params.Mirostat {
	case 1:
		return c.mirostatV1(cands)
	case 2:
		return c.mirostatV2(cands)
	default:
		return c.tempAndSample(cands)
	}
}

func (c *Chain) greedy(logits []float32) int32 {
	best := int32(0)
	bestLogit := float32(math.Inf(-1))
	for i, l := range logits {
		if l > bestLogit {
			bestLogit = l
			best = int32(i)
		}
	}
	return best
}

func (c *Chain) tempAndSample(cands []Candidate) (int32, error) {
	scaled := make([]Candidate, len(cands))
	for i, cd := range cands {
		scaled[i] = Candidate{TokenID: cd.TokenID, Logit: cd.Logit / float32(c.params.Temperature)}
	}
	probs := softmax(scaled)
	return sampleCategorical(probs, c.rng), nil
}

func toCandidates(logits []float32) []Candidate {
	cands := make([]Candidate, len(logits))
	for i, l := range logits {
		cands[i] = Candidate{TokenID: int32(i), Logit: l}
	}
	return cands
}

func softmax(cands []Candidate) []Candidate {
	if len(cands) == 0 {
		return cands
	}
	maxLogit := cands[0].Logit
	for _, c := range cands[1:] {
		if c.Logit > maxLogit {
			maxLogit = c.Logit
		}
	}
	var sum float64
	exps := make([]float64, len(cands))
	for i, c := range cands {
		e := math.Exp(float64(c.Logit - maxLogit))
		exps[i] = e
		sum += e
	}
	out := make([]Candidate, len(cands))
	for i, c := range cands {
		out[i] = Candidate{TokenID: c.TokenID, Logit: float32(exps[i] / sum)}
	}
	return out
}

func sampleCategorical(probs []Candidate, rng *rand.Rand) int32 {
	r := rng.Float64()
	var cum float64
	for _, p := range probs {
		cum += float64(p.Logit)
		if r <= cum {
			return p.TokenID
		}
	}
	return probs[len(probs)-1].TokenID
}

func sortByLogitDesc(cands []Candidate) {
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].Logit > cands[j].Logit })
}
