// Package selfplay plays complete games with the search engine and turns them
// into training rows.
package selfplay

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/brensch/arenamcts/arena"
	"github.com/brensch/arenamcts/game"
	"github.com/brensch/arenamcts/mcts"
	"github.com/brensch/arenamcts/metrics"
	"github.com/brensch/arenamcts/store"
)

// GameConfig controls how a single game is searched and recorded.
type GameConfig struct {
	// Name labels rows and metrics, e.g. "connect4".
	Name string
	// Iterations is the number of traversals per ply.
	Iterations int
	// StochasticPlies is the number of opening plies chosen by Dirichlet
	// sampling; later plies take the most visited child.
	StochasticPlies int
	DirichletAlpha  float64
	Source          string
}

// GameResult is a finished game.
type GameResult struct {
	GameID  string
	Game    string
	Worker  int
	Plies   int
	Reward  game.Reward
	Rows    []store.TrainingRow
	Elapsed time.Duration
}

// engineOptions maps cfg onto the search engine. A zero alpha is kept, so
// stochastic plies sample by visit share alone.
func engineOptions(cfg GameConfig, rng *rand.Rand) []mcts.Option {
	return []mcts.Option{
		mcts.WithRand(rng),
		mcts.WithDirichletAlpha(cfg.DirichletAlpha),
	}
}

// PlayGame plays state to the end, one engine search per ply, and returns one
// row per ply labelled with the final reward for player 0.
//
// Cancellation is honoured between plies; a cancelled game is dropped. The
// search tree is released on every return path.
func PlayGame[S game.State[S]](
	ctx context.Context,
	alloc arena.Allocator[mcts.Node],
	eval game.Evaluator[S],
	feat game.Featurizer[S],
	state S,
	cfg GameConfig,
	rng *rand.Rand,
) (GameResult, error) {
	start := time.Now()
	res := GameResult{
		GameID: uuid.NewString(),
		Game:   cfg.Name,
	}

	engine, err := mcts.New(alloc, eval, state, engineOptions(cfg, rng)...)
	if err != nil {
		return res, err
	}
	defer engine.Close()

	for ply := 0; !state.IsTerminal(); ply++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		player := state.CurrentPlayer()
		features := feat.Features(state)

		searchStart := time.Now()
		if err := engine.Traverse(cfg.Iterations); err != nil {
			return res, fmt.Errorf("ply %d: %w", ply, err)
		}
		metrics.SearchDuration.Observe(time.Since(searchStart).Seconds())
		metrics.SearchIterations.Add(float64(cfg.Iterations))

		policy := engine.Stats().Policy
		action, err := engine.SelectAction(ply < cfg.StochasticPlies)
		if err != nil {
			return res, fmt.Errorf("ply %d: %w", ply, err)
		}
		metrics.Plies.Inc()

		res.Rows = append(res.Rows, store.TrainingRow{
			GameID:   res.GameID,
			Game:     cfg.Name,
			Ply:      int32(ply),
			Player:   int32(player),
			Action:   int32(action),
			Features: features,
			Policy:   policy,
			Source:   cfg.Source,
		})
	}

	reward, err := state.Reward()
	if err != nil {
		return res, err
	}
	for i := range res.Rows {
		res.Rows[i].Result = float32(reward[game.Player0])
	}
	res.Reward = reward
	res.Plies = len(res.Rows)
	res.Elapsed = time.Since(start)
	metrics.Games.WithLabelValues(cfg.Name, reward.Outcome()).Inc()
	return res, nil
}
