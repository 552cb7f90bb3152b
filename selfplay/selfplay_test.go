package selfplay

import (
	"context"
	"math/rand/v2"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brensch/arenamcts/arena"
	"github.com/brensch/arenamcts/connect4"
	"github.com/brensch/arenamcts/game"
	"github.com/brensch/arenamcts/mcts"
	"github.com/brensch/arenamcts/store"
	"github.com/brensch/arenamcts/tictactoe"
)

func tttConfig() GameConfig {
	return GameConfig{
		Name:            "tictactoe",
		Iterations:      200,
		StochasticPlies: 2,
		Source:          "test",
	}
}

func TestPlayGameTicTacToe(t *testing.T) {
	alloc, err := arena.New[mcts.Node](64)
	require.NoError(t, err)

	rng := rand.New(rand.NewPCG(1, 2))
	eval := mcts.NewRolloutEvaluator[*tictactoe.Board](10, rng)
	res, err := PlayGame(context.Background(), alloc, eval, tictactoe.Encoder{}, tictactoe.New(), tttConfig(), rng)
	require.NoError(t, err)

	assert.NotEmpty(t, res.GameID)
	assert.GreaterOrEqual(t, res.Plies, 5)
	assert.LessOrEqual(t, res.Plies, 9)
	require.Len(t, res.Rows, res.Plies)

	for i, row := range res.Rows {
		assert.Equal(t, res.GameID, row.GameID)
		assert.Equal(t, int32(i), row.Ply)
		assert.Equal(t, int32(i%2), row.Player)
		assert.Equal(t, float32(res.Reward[game.Player0]), row.Result)
		assert.Len(t, row.Features, tictactoe.Cells)

		// Legal actions shrink by one every ply.
		require.Len(t, row.Policy, tictactoe.Cells-i)
		var sum float32
		for _, p := range row.Policy {
			sum += p
		}
		assert.InDelta(t, 1, sum, 1e-4)
	}

	assert.Equal(t, alloc.Capacity(), alloc.Free(), "every node returned to the arena")
}

func TestPlayGameCancelled(t *testing.T) {
	alloc, err := arena.New[mcts.Node](64)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = PlayGame(ctx, alloc, connect4.Heuristic{}, connect4.Heuristic{}, mustConnect4(t, 5), GameConfig{Name: "connect4", Iterations: 10}, nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, alloc.Capacity(), alloc.Free())
}

func TestEngineOptionsKeepZeroAlpha(t *testing.T) {
	alloc, err := arena.New[mcts.Node](64)
	require.NoError(t, err)

	for _, alpha := range []float64{0, 0.5} {
		cfg := tttConfig()
		cfg.DirichletAlpha = alpha
		e, err := mcts.New(alloc, mcts.NewRolloutEvaluator[*tictactoe.Board](1, nil), tictactoe.New(), engineOptions(cfg, nil)...)
		require.NoError(t, err)
		assert.Equal(t, alpha, e.DirichletAlpha())
		e.Close()
	}
	assert.Equal(t, alloc.Capacity(), alloc.Free())
}

func mustConnect4(t *testing.T, size int) *connect4.Board {
	t.Helper()
	b, err := connect4.New(size)
	require.NoError(t, err)
	return b
}

func TestRunnerSharedArena(t *testing.T) {
	alloc, err := arena.NewSync[mcts.Node](128)
	require.NoError(t, err)

	var (
		mu    sync.Mutex
		games []GameResult
	)
	r := &Runner[*connect4.Board]{
		Alloc:    alloc,
		Eval:     connect4.Heuristic{},
		Features: connect4.Heuristic{},
		NewState: func() *connect4.Board {
			b, _ := connect4.New(5)
			return b
		},
		Game:           GameConfig{Name: "connect4", Iterations: 50, StochasticPlies: 4},
		Workers:        4,
		GamesPerWorker: 2,
		Seed:           7,
		OnGame: func(res GameResult) {
			mu.Lock()
			defer mu.Unlock()
			games = append(games, res)
		},
	}
	require.NoError(t, r.Run(context.Background()))

	require.Len(t, games, 8)
	workers := map[int]int{}
	for _, g := range games {
		workers[g.Worker]++
		assert.Len(t, g.Rows, g.Plies)
		assert.Len(t, g.Rows[0].Features, len(connect4.FeatureNames()))
	}
	assert.Len(t, workers, 4)
	assert.Equal(t, alloc.Capacity(), alloc.Free(), "no slots leaked across workers")
}

func TestRunnerRejectsEmptyPool(t *testing.T) {
	r := &Runner[*tictactoe.Board]{}
	assert.Error(t, r.Run(context.Background()))
}

func TestWriterFlushes(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "rows.csv")
	parquetDir := filepath.Join(dir, "parquet")

	w := &Writer{
		CSV:           store.NewCSVAppender(csvPath, nil),
		ParquetDir:    parquetDir,
		GamesPerFlush: 2,
	}

	in := make(chan GameResult)
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(in)
	}()

	for i := 0; i < 3; i++ {
		in <- GameResult{
			GameID: "g",
			Rows: []store.TrainingRow{
				{GameID: "g", Game: "tictactoe", Ply: 0, Features: []float32{0}, Result: 1},
				{GameID: "g", Game: "tictactoe", Ply: 1, Features: []float32{1}, Result: 1},
			},
		}
	}
	in <- GameResult{GameID: "empty"}
	close(in)
	<-done

	files, err := store.BatchFiles(parquetDir)
	require.NoError(t, err)
	require.Len(t, files, 2, "one full batch and the final partial flush")

	total := 0
	for _, f := range files {
		rows, err := store.ReadParquet(f)
		require.NoError(t, err)
		total += len(rows)
	}
	assert.Equal(t, 6, total)
}
