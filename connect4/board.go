// Package connect4 implements Connect-4 on a square board of 4 to 16 columns
// together with a handcrafted evaluator for it.
//
// Rows are counted from the bottom: a piece dropped into an empty column lands
// on row 0.
package connect4

import (
	"fmt"
	"strings"

	"github.com/brensch/arenamcts/game"
)

const (
	MinSize = 4
	MaxSize = 16
	// InARow is the line length that wins.
	InARow = 4
)

// Board is a Connect-4 position. Player0 moves first.
//
// Action i refers to actions[i], a column that is not yet full. When a column
// fills up the last action takes its place.
type Board struct {
	size       int
	cols       [2][MaxSize]uint16
	heights    [MaxSize]int
	actions    [MaxSize]int
	numActions int
	player     game.Player
	lastRow    int
	lastCol    int
	pieces     int
	// winner is set by the move that completes a line.
	winner game.Player
}

// New returns an empty board with size rows and size columns.
func New(size int) (*Board, error) {
	if size < MinSize || size > MaxSize {
		return nil, fmt.Errorf("board size %d not in [%d,%d]", size, MinSize, MaxSize)
	}
	b := &Board{
		size:       size,
		numActions: size,
		player:     game.Player0,
		lastRow:    -1,
		lastCol:    -1,
		winner:     game.NoPlayer,
	}
	for i := 0; i < size; i++ {
		b.actions[i] = i
	}
	return b, nil
}

func (b *Board) Size() int { return b.size }

// Pieces is the number of pieces on the board.
func (b *Board) Pieces() int { return b.pieces }

// IsSet reports whether p has a piece at row, col. Out of range is false.
func (b *Board) IsSet(p game.Player, row, col int) bool {
	if row < 0 || col < 0 || row >= b.size || col >= b.size {
		return false
	}
	return b.cols[p][col]&(1<<row) != 0
}

// IsEmpty reports whether row, col is on the board and unoccupied.
func (b *Board) IsEmpty(row, col int) bool {
	return b.inBounds(row, col) && !b.IsSet(game.Player0, row, col) && !b.IsSet(game.Player1, row, col)
}

func (b *Board) inBounds(row, col int) bool {
	return row >= 0 && col >= 0 && row < b.size && col < b.size
}

// Height is the number of pieces in col.
func (b *Board) Height(col int) int { return b.heights[col] }

// LastMove returns the cell of the most recent piece, or -1, -1.
func (b *Board) LastMove() (row, col int) { return b.lastRow, b.lastCol }

func (b *Board) NumActions() int {
	if b.IsTerminal() {
		return 0
	}
	return b.numActions
}

// Column returns the column played by action.
func (b *Board) Column(action int) (int, error) {
	if err := game.CheckAction(action, b.NumActions()); err != nil {
		return -1, err
	}
	return b.actions[action], nil
}

// ActionFor returns the action index that drops into col.
func (b *Board) ActionFor(col int) (int, error) {
	for i := 0; i < b.NumActions(); i++ {
		if b.actions[i] == col {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%w: column %d is not playable", game.ErrIllegalAction, col)
}

func (b *Board) Step(action int) error {
	if b.winner != game.NoPlayer {
		return fmt.Errorf("%w: game already won by %s", game.ErrIllegalAction, b.winner)
	}
	if err := game.CheckAction(action, b.numActions); err != nil {
		return err
	}
	col := b.actions[action]
	row := b.heights[col]
	b.cols[b.player][col] |= 1 << row
	b.heights[col]++
	if b.heights[col] == b.size {
		b.numActions--
		b.actions[action] = b.actions[b.numActions]
	}
	b.lastRow, b.lastCol = row, col
	b.pieces++
	if b.completesLine(b.player, row, col) {
		b.winner = b.player
	}
	b.player = b.player.Other()
	return nil
}

// completesLine reports whether p's piece at row, col lies on four in a row.
func (b *Board) completesLine(p game.Player, row, col int) bool {
	for _, d := range directions {
		n := 1
		for _, sign := range [2]int{1, -1} {
			for i := 1; i < InARow && b.IsSet(p, row+sign*i*d[0], col+sign*i*d[1]); i++ {
				n++
			}
		}
		if n >= InARow {
			return true
		}
	}
	return false
}

var directions = [4][2]int{{0, 1}, {1, 0}, {1, 1}, {1, -1}}

// IsWinner reports whether p has four in a row.
func (b *Board) IsWinner(p game.Player) bool {
	return p != game.NoPlayer && b.winner == p
}

func (b *Board) IsTerminal() bool {
	return b.numActions == 0 || b.winner != game.NoPlayer
}

func (b *Board) Reward() (game.Reward, error) {
	switch {
	case b.winner != game.NoPlayer:
		return game.WinnerReward(b.winner), nil
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

// String draws the board top row first.
func (b *Board) String() string {
	var sb strings.Builder
	for row := b.size - 1; row >= 0; row-- {
		for col := 0; col < b.size; col++ {
			switch {
			case b.IsSet(game.Player0, row, col):
				sb.WriteByte('X')
			case b.IsSet(game.Player1, row, col):
				sb.WriteByte('O')
			default:
				sb.WriteByte('.')
			}
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

// Planes writes the one-hot encoding used by learned evaluators into dst,
// which must hold 2*size*size values: player 0's plane then player 1's, each
// row-major from the bottom row.
func (b *Board) Planes(dst []float32) {
	n := b.size * b.size
	clear(dst[:2*n])
	for p := game.Player0; p <= game.Player1; p++ {
		off := int(p) * n
		for row := 0; row < b.size; row++ {
			for col := 0; col < b.size; col++ {
				if b.IsSet(p, row, col) {
					dst[off+row*b.size+col] = 1
				}
			}
		}
	}
}

var _ game.State[*Board] = (*Board)(nil)
