package sampler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/infercore/infercore/internal/domain"
)

func TestGreedyShortCircuitsOnZeroTemperature(t *testing.T) {
	params := domain.DefaultGenerationParams()
	params.Temperature = 0
	params.Seed = 1

	c, err := New(params, nil)
	require.NoError(t, err)

	logits := []float32{0.1, 5.0, -2.0, 0.3}
	tok, err := c.Sample(logits, NewRecentTokens(0, nil), nil)
	require.NoError(t, err)
	assert.Equal(t, int32(1), tok)
}

func TestTopKKeepsOnlyKHighest(t *testing.T) {
	cands := []Candidate{{0, 1}, {1, 5}, {2, 3}, {3, -1}}
	out := topK(cands, 2)
	assert.Len(t, out, 2)
	assert.Equal(t, int32(1), out[0].TokenID)
	assert.Equal(t, int32(2), out[1].TokenID)
}

func TestTopKZeroDisablesTruncation(t *testing.T) {
	cands := []Candidate{{0, 1}, {1, 5}, {2, 3}}
	out := topK(cands, 0)
	assert.Len(t, out, 3)
}

func TestMinPKeepsAtLeastOneToken(t *testing.T) {
	cands := []Candidate{{0, 10}, {1, -100}, {2, -100}}
	out := minP(cands, 0.99)
	assert.GreaterOrEqual(t, len(out), 1)
}

func TestPenaltiesDisabledWhenRepeatLastNNonPositive(t *testing.T) {
	params := domain.DefaultGenerationParams()
	params.RepeatLastN = 0
	cands := []Candidate{{0, 1}, {1, 1}}
	recent := NewRecentTokens(4, []int32{0, 0, 0})
	out := applyPenalties(cands, recent, params)
	assert.Equal(t, cands, out)
}

func TestPenaltiesReduceRepeatedTokenLogit(t *testing.T) {
	params := domain.DefaultGenerationParams()
	params.RepeatLastN = 4
	params.RepeatPenalty = 2.0
	cands := []Candidate{{0, 4}, {1, 4}}
	recent := NewRecentTokens(4, []int32{0})
	out := applyPenalties(cands, recent, params)
	assert.Less(t, out[0].Logit, out[1].Logit)
}

func TestRecentTokensRingEvictsOldest(t *testing.T) {
	r := NewRecentTokens(2, nil)
	r.Push(1)
	r.Push(2)
	r.Push(3)
	counts := r.Counts()
	assert.Equal(t, 0, counts[1])
	assert.Equal(t, 1, counts[2])
	assert.Equal(t, 1, counts[3])
}

func TestMirostatV1ProducesValidToken(t *testing.T) {
	params := domain.DefaultGenerationParams()
	params.Mirostat = 1
	params.Seed = 7
	c, err := New(params, nil)
	require.NoError(t, err)

	logits := []float32{1, 2, 3, 0.5, 0.2}
	tok, err := c.Sample(logits, NewRecentTokens(0, nil), nil)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, tok, int32(0))
	assert.Less(t, tok, int32(len(logits)))
}

func TestMirostatV2ProducesValidToken(t *testing.T) {
	params := domain.DefaultGenerationParams()
	params.Mirostat = 2
	params.Seed = 7
	c, err := New(params, nil)
	require.NoError(t, err)

	logits := []float32{1, 2, 3, 0.5, 0.2}
	tok, err := c.Sample(logits, NewRecentTokens(0, nil), nil)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, tok, int32(0))
	assert.Less(t, tok, int32(len(logits)))
}

func TestGrammarFiltersToMatchingCandidates(t *testing.T) {
	g, err := CompileGBNFLite(`root ::= "^(yes|no)$"`)
	require.NoError(t, err)

	params := domain.DefaultGenerationParams()
	params.Seed = 3
	// top-p and min-p run before the grammar stage; with their defaults they
	// would keep only the 100-logit "maybe" and leave the grammar nothing.
	params.TopP = 1
	params.MinP = 0
	c, err := New(params, g)
	require.NoError(t, err)

	pieces := map[int32]string{0: "yes", 1: "no", 2: "maybe"}
	pieceOf := func(tok int32) (string, error) { return pieces[tok], nil }

	logits := []float32{1, 1, 100}
	tok, err := c.Sample(logits, NewRecentTokens(0, nil), pieceOf)
	require.NoError(t, err)
	assert.Contains(t, []int32{0, 1}, tok)
}

func TestInvalidGrammarCompileFails(t *testing.T) {
	_, err := CompileGBNFLite("not a grammar")
	require.Error(t, err)
}
