// Package tictactoe implements 3x3 Tic-Tac-Toe for the search engine.
package tictactoe

import (
	"fmt"
	"strings"

	"github.com/brensch/arenamcts/game"
)

const Cells = 9

var lines = [8][3]int{
	{0, 1, 2}, {3, 4, 5}, {6, 7, 8},
	{0, 3, 6}, {1, 4, 7}, {2, 5, 8},
	{0, 4, 8}, {2, 4, 6},
}

// Board is a Tic-Tac-Toe position. Player0 moves first.
//
// Action i refers to the i-th still-empty cell in row-major order; playing it
// removes the cell and shifts the later actions down by one.
type Board struct {
	cells      [Cells]game.Player
	actions    [Cells]uint8
	numActions int
	player     game.Player
}

func New() *Board {
	b := &Board{player: game.Player0, numActions: Cells}
	for i := range b.cells {
		b.cells[i] = game.NoPlayer
		b.actions[i] = uint8(i)
	}
	return b
}

func (b *Board) NumActions() int {
	if b.IsTerminal() {
		return 0
	}
	return b.numActions
}

// Cell returns the index of the cell played by action.
func (b *Board) Cell(action int) (int, error) {
	if err := game.CheckAction(action, b.NumActions()); err != nil {
		return -1, err
	}
	return int(b.actions[action]), nil
}

// ActionFor returns the action index that plays cell, or an error when the
// cell is occupied.
func (b *Board) ActionFor(cell int) (int, error) {
	for i := 0; i < b.NumActions(); i++ {
		if int(b.actions[i]) == cell {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%w: cell %d is not playable", game.ErrIllegalAction, cell)
}

func (b *Board) Step(action int) error {
	cell, err := b.Cell(action)
	if err != nil {
		return err
	}
	copy(b.actions[action:b.numActions], b.actions[action+1:b.numActions])
	b.numActions--
	b.cells[cell] = b.player
	b.player = b.player.Other()
	return nil
}

func (b *Board) IsWinner(p game.Player) bool {
	for _, l := range lines {
		if b.cells[l[0]] == p && b.cells[l[1]] == p && b.cells[l[2]] == p {
			return true
		}
	}
	return false
}

func (b *Board) IsTerminal() bool {
	return b.numActions == 0 || b.IsWinner(game.Player0) || b.IsWinner(game.Player1)
}

func (b *Board) Reward() (game.Reward, error) {
	switch {
	case b.IsWinner(game.Player0):
		return game.Player0Wins, nil
	case b.IsWinner(game.Player1):
		return game.Player1Wins, nil
	case b.numActions == 0:
		return game.Draw, nil
	}
	return game.Reward{}, game.ErrNotTerminal
}

func (b *Board) CopyTo(dst *Board) {
	*dst = *b
}

func (b *Board) Clone() *Board {
	out := *b
	return &out
}

func (b *Board) PreviousMover() game.Player {
	return b.player.Other()
}

func (b *Board) CurrentPlayer() game.Player {
	return b.player
}

// At returns the owner of the cell at row, col.
func (b *Board) At(row, col int) game.Player {
	return b.cells[row*3+col]
}

func (b *Board) String() string {
	var sb strings.Builder
	for row := 0; row < 3; row++ {
		for col := 0; col < 3; col++ {
			switch b.At(row, col) {
			case game.Player0:
				sb.WriteByte('X')
			case game.Player1:
				sb.WriteByte('O')
			default:
				sb.WriteByte('.')
			}
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

// Encoder writes one feature per cell: 1 for player 0, -1 for player 1, 0 for empty.
type Encoder struct{}

func (Encoder) NumFeatures() int { return Cells }

func (Encoder) Features(b *Board) []float32 {
	out := make([]float32, Cells)
	for i, p := range b.cells {
		switch p {
		case game.Player0:
			out[i] = 1
		case game.Player1:
			out[i] = -1
		}
	}
	return out
}

var (
	_ game.State[*Board]      = (*Board)(nil)
	_ game.Featurizer[*Board] = Encoder{}
)
