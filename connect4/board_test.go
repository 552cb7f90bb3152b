package connect4

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brensch/arenamcts/game"
)

func drop(t *testing.T, b *Board, cols ...int) {
	t.Helper()
	for _, c := range cols {
		a, err := b.ActionFor(c)
		require.NoError(t, err)
		require.NoError(t, b.Step(a))
	}
}

func newBoard(t *testing.T, size int) *Board {
	t.Helper()
	b, err := New(size)
	require.NoError(t, err)
	return b
}

func TestNewRejectsSizes(t *testing.T) {
	for _, size := range []int{0, 3, 17} {
		_, err := New(size)
		assert.Error(t, err, "size %d", size)
	}
}

func TestHorizontalWinOnSmallestBoard(t *testing.T) {
	b := newBoard(t, 4)
	// Player 1 stacks on player 0's pieces, so row 0 is player 0's alone.
	drop(t, b, 0, 0, 1, 1, 2, 2)
	assert.False(t, b.IsTerminal())

	require.NoError(t, b.Step(3))
	assert.True(t, b.IsWinner(game.Player0))
	assert.False(t, b.IsWinner(game.Player1))
	assert.True(t, b.IsTerminal())
	assert.Equal(t, 0, b.NumActions())

	r, err := b.Reward()
	require.NoError(t, err)
	assert.Equal(t, game.Player0Wins, r)
	assert.Equal(t, game.Player0, b.PreviousMover())
}

func TestVerticalWin(t *testing.T) {
	b := newBoard(t, 6)
	drop(t, b, 2, 0, 2, 0, 2, 0, 5, 0)
	assert.True(t, b.IsWinner(game.Player1))
	r, err := b.Reward()
	require.NoError(t, err)
	assert.Equal(t, game.Player1Wins, r)
}

func TestDiagonalWin(t *testing.T) {
	b := newBoard(t, 4)
	drop(t, b, 0, 1, 1, 2, 3, 2, 2, 3, 3, 0)
	assert.False(t, b.IsTerminal())
	drop(t, b, 3)
	assert.True(t, b.IsWinner(game.Player0))
	row, col := b.LastMove()
	assert.Equal(t, 3, row)
	assert.Equal(t, 3, col)
}

func TestFullColumnIsSwapRemoved(t *testing.T) {
	b := newBoard(t, 4)
	for i := 0; i < 4; i++ {
		require.NoError(t, b.Step(0))
	}
	require.False(t, b.IsTerminal())
	assert.Equal(t, 3, b.NumActions())

	col, err := b.Column(0)
	require.NoError(t, err)
	assert.Equal(t, 3, col, "last action moves into the freed index")

	_, err = b.ActionFor(0)
	assert.ErrorIs(t, err, game.ErrIllegalAction)
	assert.ErrorIs(t, b.Step(3), game.ErrIllegalAction)
}

func TestRewardBeforeEnd(t *testing.T) {
	b := newBoard(t, 5)
	_, err := b.Reward()
	assert.ErrorIs(t, err, game.ErrNotTerminal)
}

func TestRandomGamesTerminate(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))
	for _, size := range []int{4, 5, 7} {
		for g := 0; g < 100; g++ {
			b := newBoard(t, size)
			plies := 0
			for !b.IsTerminal() {
				require.NoError(t, b.Step(rng.IntN(b.NumActions())))
				plies++
			}
			assert.LessOrEqual(t, plies, size*size)
			assert.Equal(t, plies, b.Pieces())
			r, err := b.Reward()
			require.NoError(t, err)
			assert.Equal(t, -r[0], r[1])
		}
	}
}

func TestCachedWinnerMatchesFullScan(t *testing.T) {
	rng := rand.New(rand.NewPCG(5, 6))
	for _, size := range []int{4, 6, 9} {
		for g := 0; g < 200; g++ {
			b := newBoard(t, size)
			for !b.IsTerminal() {
				require.NoError(t, b.Step(rng.IntN(b.NumActions())))
				for _, p := range []game.Player{game.Player0, game.Player1} {
					require.Equal(t, b.scanWinner(p), b.IsWinner(p), "size %d player %s\n%s", size, p, b)
				}
			}
		}
	}
}

func TestStepAfterWinIsRejected(t *testing.T) {
	b := newBoard(t, 5)
	drop(t, b, 0, 1, 0, 1, 0, 1, 0)
	require.True(t, b.IsWinner(game.Player0))
	assert.ErrorIs(t, b.Step(2), game.ErrIllegalAction)
	assert.Equal(t, 7, b.Pieces())
}

func TestCopyToIsIndependent(t *testing.T) {
	b := newBoard(t, 5)
	drop(t, b, 2)
	c := b.Clone()
	drop(t, c, 2, 2)
	assert.Equal(t, 1, b.Height(2))
	assert.Equal(t, 3, c.Height(2))

	var d Board
	c.CopyTo(&d)
	assert.Equal(t, c.String(), d.String())
}

func TestPlanes(t *testing.T) {
	b := newBoard(t, 4)
	drop(t, b, 1, 1)
	dst := make([]float32, 32)
	for i := range dst {
		dst[i] = 9
	}
	b.Planes(dst)

	var sum float32
	for _, v := range dst {
		sum += v
	}
	assert.Equal(t, float32(2), sum)
	assert.Equal(t, float32(1), dst[0*4+1], "player 0 at row 0 col 1")
	assert.Equal(t, float32(1), dst[16+1*4+1], "player 1 at row 1 col 1")
}

func TestString(t *testing.T) {
	b := newBoard(t, 4)
	drop(t, b, 0, 0, 3)
	assert.Equal(t, "....\n....\nO...\nX..X\n", b.String())
}

// scanWinner searches the whole board for four in a row of p.
func (b *Board) scanWinner(p game.Player) bool {
	for row := 0; row < b.size; row++ {
		for col := 0; col < b.size; col++ {
			if !b.IsSet(p, row, col) {
				continue
			}
			for _, d := range directions {
				n := 1
				for n < InARow && b.IsSet(p, row+n*d[0], col+n*d[1]) {
					n++
				}
				if n == InARow {
					return true
				}
			}
		}
	}
	return false
}
