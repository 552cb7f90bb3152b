package mcts

import (
	"math/rand/v2"

	"github.com/brensch/arenamcts/game"
)

// DefaultRollouts is the number of random playouts per evaluation.
const DefaultRollouts = 100

// RolloutEvaluator values a state by the mean reward of uniformly random
// playouts.
//
// With a nil rng it draws from the global source and is safe for concurrent
// use. A private rng makes it deterministic but single-goroutine.
type RolloutEvaluator[S game.State[S]] struct {
	rollouts int
	rng      *rand.Rand
}

// NewRolloutEvaluator returns an evaluator running rollouts playouts per call.
// Non-positive values select DefaultRollouts.
func NewRolloutEvaluator[S game.State[S]](rollouts int, rng *rand.Rand) *RolloutEvaluator[S] {
	if rollouts <= 0 {
		rollouts = DefaultRollouts
	}
	return &RolloutEvaluator[S]{rollouts: rollouts, rng: rng}
}

func (r *RolloutEvaluator[S]) Rollouts() int { return r.rollouts }

func (r *RolloutEvaluator[S]) Evaluate(state S) (game.Reward, error) {
	scratch := state.Clone()
	var total game.Reward
	for i := 0; i < r.rollouts; i++ {
		state.CopyTo(scratch)
		for !scratch.IsTerminal() {
			if err := scratch.Step(r.intN(scratch.NumActions())); err != nil {
				return game.Reward{}, err
			}
		}
		reward, err := scratch.Reward()
		if err != nil {
			return game.Reward{}, err
		}
		total = total.Add(reward)
	}
	return total.Scale(1 / float64(r.rollouts)), nil
}

func (r *RolloutEvaluator[S]) intN(n int) int {
	if r.rng != nil {
		return r.rng.IntN(n)
	}
	return rand.IntN(n)
}
