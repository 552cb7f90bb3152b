package selfplay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"

	"golang.org/x/sync/errgroup"

	"github.com/brensch/arenamcts/arena"
	"github.com/brensch/arenamcts/game"
	"github.com/brensch/arenamcts/mcts"
)

// Runner plays games on a fixed pool of workers. Every worker owns its engine
// and random source; the allocator and evaluator are shared and must be safe
// for concurrent use.
type Runner[S game.State[S]] struct {
	Alloc          arena.Allocator[mcts.Node]
	Eval           game.Evaluator[S]
	Features       game.Featurizer[S]
	NewState       func() S
	Game           GameConfig
	Workers        int
	GamesPerWorker int
	Seed           uint64
	Logger         *slog.Logger
	// OnGame receives every finished game. It is called from worker
	// goroutines.
	OnGame func(GameResult)
}

// Run blocks until every worker has played its games or ctx is cancelled.
// A failing worker stops on its own; the others finish and the first error
// is returned.
func (r *Runner[S]) Run(ctx context.Context) error {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if r.Workers <= 0 || r.GamesPerWorker <= 0 {
		return fmt.Errorf("need positive workers and games per worker, got %d and %d", r.Workers, r.GamesPerWorker)
	}

	var g errgroup.Group
	for w := 0; w < r.Workers; w++ {
		g.Go(func() error {
			rng := rand.New(rand.NewPCG(r.Seed, uint64(w)))
			wlog := logger.With("worker", w)
			wlog.Debug("worker started")

			for i := 0; i < r.GamesPerWorker; i++ {
				res, err := PlayGame(ctx, r.Alloc, r.Eval, r.Features, r.NewState(), r.Game, rng)
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					wlog.Info("worker stopped", "games", i)
					return nil
				}
				if err != nil {
					wlog.Error("game failed, stopping worker", "game", i, "err", err)
					return fmt.Errorf("worker %d game %d: %w", w, i, err)
				}
				res.Worker = w
				wlog.Debug("game finished", "game_id", res.GameID, "plies", res.Plies, "result", res.Reward.Outcome(), "elapsed", res.Elapsed)
				if r.OnGame != nil {
					r.OnGame(res)
				}
			}
			return nil
		})
	}
	return g.Wait()
}
