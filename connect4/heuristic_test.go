package connect4

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmptyBoardIsNeutral(t *testing.T) {
	b := newBoard(t, 7)
	h := Heuristic{}
	for i, f := range h.Features(b) {
		assert.Zero(t, f, FeatureNames()[i])
	}
	r, err := h.Evaluate(b)
	require.NoError(t, err)
	assert.Zero(t, r[0])
}

func TestSingleCornerStone(t *testing.T) {
	b := newBoard(t, 4)
	drop(t, b, 0)

	f := Heuristic{}.Features(b)
	require.Len(t, f, Heuristic{}.NumFeatures())

	want := map[string]float64{
		"height_advantage": 0.4,
		"edge_avoidance":   -0.2,
		"mobility":         0.15,
	}
	for i, name := range FeatureNames() {
		assert.InDelta(t, want[name], f[i], 1e-6, name)
	}

	score := 0.4*0.19077861 - 0.2*0.58472133 + 0.15*-0.04234111
	assert.InDelta(t, score, Heuristic{}.Score(b), 1e-9)

	r, err := Heuristic{}.Evaluate(b)
	require.NoError(t, err)
	assert.InDelta(t, math.Tanh(score), r[0], 1e-9)
}

func TestThreatAndTempo(t *testing.T) {
	b := newBoard(t, 5)
	// Player 0 holds three in row 0 with both ends open.
	drop(t, b, 1, 1, 2, 2, 3)

	idx := map[string]int{}
	for i, name := range FeatureNames() {
		idx[name] = i
	}
	f := Heuristic{}.Features(b)
	assert.InDelta(t, 2, f[idx["threat"]], 1e-6, "both ends of the row complete four")
	assert.InDelta(t, 0.5, f[idx["tempo"]], 1e-6)
}

func TestEvaluationIsBoundedAndZeroSum(t *testing.T) {
	rng := rand.New(rand.NewPCG(11, 12))
	h := Heuristic{}
	for g := 0; g < 50; g++ {
		b := newBoard(t, 6)
		for !b.IsTerminal() {
			r, err := h.Evaluate(b)
			require.NoError(t, err)
			assert.LessOrEqual(t, math.Abs(r[0]), 1.0)
			assert.Equal(t, -r[0], r[1])
			require.NoError(t, b.Step(rng.IntN(b.NumActions())))
		}
	}
}

func BenchmarkHeuristic(b *testing.B) {
	board, err := New(7)
	if err != nil {
		b.Fatal(err)
	}
	rng := rand.New(rand.NewPCG(1, 1))
	for i := 0; i < 12 && !board.IsTerminal(); i++ {
		_ = board.Step(rng.IntN(board.NumActions()))
	}
	h := Heuristic{}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = h.Evaluate(board)
	}
}
