// Package game defines the contract between the search engine and the rule
// engines of two-player zero-sum games.
//
// A state is mutated in place by Step and copied into preallocated scratch
// states with CopyTo, so a search iteration never allocates a new board.
package game

import (
	"errors"
	"fmt"
)

var (
	// ErrNotTerminal is returned when a reward is requested before the game has ended.
	ErrNotTerminal = errors.New("game: state is not terminal")
	// ErrIllegalAction is returned when an action index is outside [0, NumActions).
	ErrIllegalAction = errors.New("game: illegal action")
)

// Player identifies one of the two sides.
type Player int8

const (
	NoPlayer Player = -1
	Player0  Player = 0
	Player1  Player = 1
)

// Other returns the opponent.
func (p Player) Other() Player {
	return p ^ 1
}

func (p Player) Valid() bool {
	return p == Player0 || p == Player1
}

func (p Player) String() string {
	switch p {
	case Player0:
		return "player0"
	case Player1:
		return "player1"
	default:
		return "none"
	}
}

// Reward holds one value per player, each in [-1, 1].
type Reward [2]float64

// For returns the value from p's perspective.
func (r Reward) For(p Player) float64 {
	return r[p]
}

func (r Reward) Add(o Reward) Reward {
	return Reward{r[0] + o[0], r[1] + o[1]}
}

func (r Reward) Scale(f float64) Reward {
	return Reward{r[0] * f, r[1] * f}
}

// Outcome reports a terminal reward from player 0's perspective as win,
// loss or draw.
func (r Reward) Outcome() string {
	switch {
	case r[0] > r[1]:
		return "win"
	case r[0] < r[1]:
		return "loss"
	default:
		return "draw"
	}
}

// Terminal rewards.
var (
	Player0Wins = Reward{1, -1}
	Player1Wins = Reward{-1, 1}
	Draw        = Reward{0, 0}
)

// WinnerReward returns the terminal reward for a game won by p.
func WinnerReward(p Player) Reward {
	if p == Player0 {
		return Player0Wins
	}
	return Player1Wins
}

// State is implemented by pointer types of concrete boards, e.g. *tictactoe.Board.
//
// Actions are dense indices in [0, NumActions). The mapping from index to
// move is owned by the rules and may change after every Step.
type State[S any] interface {
	NumActions() int
	Step(action int) error
	IsTerminal() bool
	Reward() (Reward, error)
	CopyTo(dst S)
	Clone() S
	// PreviousMover is the player who made the last move.
	PreviousMover() Player
	// CurrentPlayer is the player to move.
	CurrentPlayer() Player
	String() string
}

// Evaluator estimates the value of a state for both players.
type Evaluator[S any] interface {
	Evaluate(state S) (Reward, error)
}

// EvaluatorFunc adapts a function to Evaluator.
type EvaluatorFunc[S any] func(state S) (Reward, error)

func (f EvaluatorFunc[S]) Evaluate(state S) (Reward, error) {
	return f(state)
}

// Featurizer turns a state into the feature vector stored with training rows.
type Featurizer[S any] interface {
	NumFeatures() int
	Features(state S) []float32
}

// CheckAction validates an action index against n legal actions.
func CheckAction(action, n int) error {
	if action < 0 || action >= n {
		return fmt.Errorf("%w: %d not in [0,%d)", ErrIllegalAction, action, n)
	}
	return nil
}
