package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/brensch/arenamcts/arena"
	"github.com/brensch/arenamcts/config"
	"github.com/brensch/arenamcts/connect4"
	"github.com/brensch/arenamcts/game"
	"github.com/brensch/arenamcts/mcts"
	"github.com/brensch/arenamcts/metrics"
	"github.com/brensch/arenamcts/onnxeval"
	"github.com/brensch/arenamcts/selfplay"
	"github.com/brensch/arenamcts/store"
	"github.com/brensch/arenamcts/tictactoe"
	"github.com/brensch/arenamcts/tui"
	"github.com/brensch/arenamcts/viewer"
)

var selfplayFlags struct {
	game, evaluator, model, csvPath, parquetDir, listen string
	boardSize, workers, games, iterations              int
	tui                                                bool
}

var selfplayCmd = &cobra.Command{
	Use:   "selfplay",
	Short: "Generate training rows from self-play games",
	RunE: func(cmd *cobra.Command, args []string) error {
		applySelfplayFlags(cmd)
		cfg.ResolveEvaluator()
		if err := cfg.Validate(); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		switch cfg.Game {
		case config.GameTicTacToe:
			eval := mcts.NewRolloutEvaluator[*tictactoe.Board](cfg.Rollouts, nil)
			return runSelfplay[*tictactoe.Board](ctx, cfg, eval, tictactoe.Encoder{}, tictactoe.New)
		default:
			eval, closeEval, err := connect4Evaluator(cfg)
			if err != nil {
				return err
			}
			defer closeEval()
			newBoard := func() *connect4.Board {
				b, _ := connect4.New(cfg.BoardSize)
				return b
			}
			return runSelfplay[*connect4.Board](ctx, cfg, eval, connect4.Heuristic{}, newBoard)
		}
	},
}

func init() {
	f := selfplayCmd.Flags()
	f.StringVar(&selfplayFlags.game, "game", "", "tictactoe or connect4")
	f.IntVar(&selfplayFlags.boardSize, "board-size", 0, "Connect-4 board size")
	f.StringVar(&selfplayFlags.evaluator, "evaluator", "", "rollout, heuristic or onnx")
	f.StringVar(&selfplayFlags.model, "model", "", "ONNX model path")
	f.IntVar(&selfplayFlags.workers, "workers", 0, "Number of self-play workers")
	f.IntVar(&selfplayFlags.games, "games", 0, "Games per worker")
	f.IntVar(&selfplayFlags.iterations, "iterations", 0, "MCTS iterations per ply")
	f.StringVar(&selfplayFlags.csvPath, "csv", "", "CSV output path")
	f.StringVar(&selfplayFlags.parquetDir, "parquet-dir", "", "Parquet output directory")
	f.StringVar(&selfplayFlags.listen, "listen", "", "Viewer address, e.g. :8080")
	f.BoolVar(&selfplayFlags.tui, "tui", false, "Show the live dashboard")
}

func applySelfplayFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	if f.Changed("game") {
		cfg.Game = selfplayFlags.game
	}
	if f.Changed("board-size") {
		cfg.BoardSize = selfplayFlags.boardSize
	}
	if f.Changed("evaluator") {
		cfg.Evaluator = selfplayFlags.evaluator
	}
	if f.Changed("model") {
		cfg.ModelPath = selfplayFlags.model
	}
	if f.Changed("workers") {
		cfg.Workers = selfplayFlags.workers
	}
	if f.Changed("games") {
		cfg.GamesPerWorker = selfplayFlags.games
	}
	if f.Changed("iterations") {
		cfg.Iterations = selfplayFlags.iterations
	}
	if f.Changed("csv") {
		cfg.CSVPath = selfplayFlags.csvPath
	}
	if f.Changed("parquet-dir") {
		cfg.ParquetDir = selfplayFlags.parquetDir
	}
	if f.Changed("listen") {
		cfg.Listen = selfplayFlags.listen
	}
	if f.Changed("tui") {
		cfg.TUI = selfplayFlags.tui
	}
}

func connect4Evaluator(cfg config.Config) (game.Evaluator[*connect4.Board], func(), error) {
	switch cfg.Evaluator {
	case config.EvaluatorRollout:
		return mcts.NewRolloutEvaluator[*connect4.Board](cfg.Rollouts, nil), func() {}, nil
	case config.EvaluatorONNX:
		onnxCfg := onnxeval.Config{
			BoardSize:    cfg.BoardSize,
			BatchSize:    cfg.ONNXBatchSize,
			BatchTimeout: cfg.ONNXBatchTimeout,
		}
		if cfg.ONNXSessions <= 1 {
			client, err := onnxeval.NewClient(cfg.ModelPath, onnxCfg)
			if err != nil {
				return nil, nil, fmt.Errorf("create onnx client: %w", err)
			}
			return client, func() { _ = client.Close() }, nil
		}
		pool, err := onnxeval.NewPool(cfg.ModelPath, cfg.ONNXSessions, onnxCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("create onnx pool: %w", err)
		}
		return pool, func() { _ = pool.Close() }, nil
	default:
		return connect4.Heuristic{}, func() {}, nil
	}
}

func runSelfplay[S game.State[S]](
	ctx context.Context,
	cfg config.Config,
	eval game.Evaluator[S],
	feat game.Featurizer[S],
	newState func() S,
) error {
	logger := slog.Default()
	if cfg.TUI {
		// The dashboard owns the terminal.
		f, err := os.OpenFile("arenamcts.log", os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer f.Close()
		logger = newLogger(f, cfg.LogLevel)
		slog.SetDefault(logger)
	}

	arenaOpts := []arena.Option{arena.WithGrowHook(metrics.ObserveArenaGrow)}
	if cfg.ArenaMax > 0 {
		arenaOpts = append(arenaOpts, arena.WithMaxCapacity(cfg.ArenaMax))
	}
	alloc, err := arena.NewSync[mcts.Node](cfg.ArenaInitial, arenaOpts...)
	if err != nil {
		return fmt.Errorf("create arena: %w", err)
	}
	metrics.ArenaCapacity.Set(float64(alloc.Capacity()))

	var view *viewer.Server
	if cfg.Listen != "" {
		view = viewer.NewServer(cfg.ParquetDir, logger)
		srv := view.ListenAndServe(cfg.Listen)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	var csv *store.CSVAppender
	if cfg.CSVPath != "" {
		csv = store.NewCSVAppender(cfg.CSVPath, logger)
	}
	writer := &selfplay.Writer{
		CSV:           csv,
		ParquetDir:    cfg.ParquetDir,
		GamesPerFlush: cfg.GamesPerFlush,
		Logger:        logger,
	}
	writeReqs := make(chan selfplay.GameResult, cfg.Workers*4)
	writerDone := make(chan struct{})
	go func() {
		writer.Run(writeReqs)
		close(writerDone)
	}()

	var (
		totalGames atomic.Int64
		totalPlies atomic.Int64
		updates    = make(chan tui.GameUpdate, cfg.Workers)
	)

	runner := &selfplay.Runner[S]{
		Alloc:    alloc,
		Eval:     eval,
		Features: feat,
		NewState: newState,
		Game: selfplay.GameConfig{
			Name:            cfg.Game,
			Iterations:      cfg.Iterations,
			StochasticPlies: cfg.StochasticPlies,
			DirichletAlpha:  cfg.DirichletAlpha,
			Source:          "selfplay_" + cfg.Evaluator,
		},
		Workers:        cfg.Workers,
		GamesPerWorker: cfg.GamesPerWorker,
		Seed:           cfg.Seed,
		Logger:         logger,
		OnGame: func(res selfplay.GameResult) {
			totalGames.Add(1)
			totalPlies.Add(int64(res.Plies))
			writeReqs <- res
			if view != nil {
				view.Publish(res)
			}
			if cfg.TUI {
				// Avoid blocking workers if the dashboard stops consuming.
				select {
				case updates <- tui.GameUpdate{Worker: res.Worker, GameID: res.GameID, Plies: res.Plies, Result: res.Reward.Outcome()}:
				default:
				}
			}
		},
	}

	logger.Info("starting self-play",
		"game", cfg.Game, "workers", cfg.Workers, "games_per_worker", cfg.GamesPerWorker,
		"iterations", cfg.Iterations, "evaluator", cfg.Evaluator, "arena_slots", alloc.Capacity())

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	runErr := make(chan error, 1)
	go func() {
		runErr <- runner.Run(runCtx)
		cancel()
	}()

	if cfg.TUI {
		snapshot := func() tui.Snapshot {
			plies := totalPlies.Load()
			return tui.Snapshot{
				Plies:         plies,
				Iterations:    plies * int64(cfg.Iterations),
				ArenaCapacity: alloc.Capacity(),
				ArenaFree:     alloc.Free(),
			}
		}
		if err := tui.Run(runCtx, tui.New("arenamcts "+cfg.Game, updates, snapshot)); err != nil {
			logger.Warn("dashboard stopped", "err", err)
		}
		// Quitting the dashboard stops the run.
		cancel()
	} else {
		logStats(runCtx, logger, &totalGames, &totalPlies, alloc, eval)
	}

	err = <-runErr
	close(writeReqs)
	<-writerDone
	logger.Info("self-play finished",
		"games", totalGames.Load(), "plies", totalPlies.Load(),
		"arena_slots", alloc.Capacity(), "arena_free", alloc.Free())
	return err
}

func logStats(ctx context.Context, logger *slog.Logger, games, plies *atomic.Int64, alloc arena.Allocator[mcts.Node], statsProvider any) {
	startTime := time.Now()
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			secs := time.Since(startTime).Seconds()
			attrs := []any{
				"games", games.Load(),
				"games_per_sec", float64(games.Load()) / secs,
				"plies_per_sec", float64(plies.Load()) / secs,
				"arena_slots", alloc.Capacity(),
				"arena_free", alloc.Free(),
			}
			if sp, ok := statsProvider.(interface{ Stats() onnxeval.RuntimeStats }); ok {
				st := sp.Stats()
				attrs = append(attrs,
					"batch_avg", st.AvgBatchSize,
					"batch_last", st.LastBatchSize,
					"queue", st.QueueLen,
					"run_avg_ms", st.AvgRunMs)
			}
			logger.Info("stats", attrs...)
		}
	}
}
