package main

import (
	"fmt"
	"io"
	"math/rand/v2"
	"os"

	"github.com/spf13/cobra"

	"github.com/brensch/arenamcts/arena"
	"github.com/brensch/arenamcts/config"
	"github.com/brensch/arenamcts/connect4"
	"github.com/brensch/arenamcts/game"
	"github.com/brensch/arenamcts/mcts"
	"github.com/brensch/arenamcts/tictactoe"
)

var playFlags struct {
	game       string
	boardSize  int
	iterations int
	seed       uint64
}

var playCmd = &cobra.Command{
	Use:   "play",
	Short: "Play one engine-vs-engine game and print every position",
	RunE: func(cmd *cobra.Command, args []string) error {
		g := cfg.Game
		if cmd.Flags().Changed("game") {
			g = playFlags.game
		}
		iterations := cfg.Iterations
		if cmd.Flags().Changed("iterations") {
			iterations = playFlags.iterations
		}
		rng := rand.New(rand.NewPCG(playFlags.seed, 0))

		switch g {
		case config.GameTicTacToe:
			return playGame(os.Stdout, tictactoe.New(), mcts.NewRolloutEvaluator[*tictactoe.Board](cfg.Rollouts, rng), iterations, rng)
		case config.GameConnect4:
			size := cfg.BoardSize
			if cmd.Flags().Changed("board-size") {
				size = playFlags.boardSize
			}
			b, err := connect4.New(size)
			if err != nil {
				return err
			}
			return playGame[*connect4.Board](os.Stdout, b, connect4.Heuristic{}, iterations, rng)
		default:
			return fmt.Errorf("unknown game %q", g)
		}
	},
}

func init() {
	f := playCmd.Flags()
	f.StringVar(&playFlags.game, "game", "", "tictactoe or connect4")
	f.IntVar(&playFlags.boardSize, "board-size", 0, "Connect-4 board size")
	f.IntVar(&playFlags.iterations, "iterations", 0, "MCTS iterations per ply")
	f.Uint64Var(&playFlags.seed, "seed", 1, "Random seed")
}

// playGame lets one engine play both sides greedily and prints the board
// after every move.
func playGame[S game.State[S]](w io.Writer, state S, eval game.Evaluator[S], iterations int, rng *rand.Rand) error {
	alloc, err := arena.New[mcts.Node](1024)
	if err != nil {
		return err
	}
	engine, err := mcts.New(alloc, eval, state, mcts.WithRand(rng))
	if err != nil {
		return err
	}
	defer engine.Close()

	fmt.Fprintf(w, "%s\n", state)
	for ply := 0; !state.IsTerminal(); ply++ {
		mover := state.CurrentPlayer()
		if err := engine.Traverse(iterations); err != nil {
			return err
		}
		st := engine.Stats()
		action, err := engine.SelectAction(false)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "ply %d: %s plays action %d (visits %d, q %.3f)\n%s\n",
			ply, mover, action, st.Visits, st.Q, state)
	}

	reward, err := state.Reward()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "result for player 0: %s %v (arena %d slots, %d free)\n",
		reward.Outcome(), reward, alloc.Capacity(), alloc.Free())
	return nil
}
