package connect4

import (
	"math"

	"github.com/brensch/arenamcts/game"
)

type feature struct {
	name   string
	weight float64
	eval   func(b *Board) float64
}

// Every feature is scored from player 0's point of view: positive favours
// player 0, negative favours player 1.
var features = []feature{
	{"open3", 0.01238058, open3Feature},
	{"open2", -0.00597948, open2Feature},
	{"threat", 0.09921825, threatFeature},
	{"center_control", 0.12328073, centerFeature},
	{"blocking", -0.23779304, blockingFeature},
	{"height_advantage", 0.19077861, heightFeature},
	{"connectivity", -4.97728920, connectivityFeature},
	{"fork", -0.15271282, forkFeature},
	{"tempo", -0.07976994, tempoFeature},
	{"edge_avoidance", 0.58472133, edgeFeature},
	{"trap", 0.08261606, trapFeature},
	{"mobility", -0.04234111, mobilityFeature},
	{"structure", 2.28158832, structureFeature},
	{"defensive_pattern", 0.00706849, defensiveFeature},
	{"endgame", -0.69452399, endgameFeature},
}

// FeatureNames lists the features in the order Features returns them.
func FeatureNames() []string {
	out := make([]string, len(features))
	for i, f := range features {
		out[i] = f.name
	}
	return out
}

// Heuristic evaluates positions with a fixed linear model over handcrafted
// features squashed by tanh. It holds no state and is safe for concurrent use.
type Heuristic struct{}

func (Heuristic) NumFeatures() int { return len(features) }

// Features returns the raw feature vector.
func (Heuristic) Features(b *Board) []float32 {
	out := make([]float32, len(features))
	for i, f := range features {
		out[i] = float32(f.eval(b))
	}
	return out
}

// Score is the weighted sum before squashing.
func (Heuristic) Score(b *Board) float64 {
	var sum float64
	for _, f := range features {
		sum += f.eval(b) * f.weight
	}
	return sum
}

func (h Heuristic) Evaluate(b *Board) (game.Reward, error) {
	v := math.Tanh(h.Score(b))
	return game.Reward{v, -v}, nil
}

var (
	_ game.Evaluator[*Board]  = Heuristic{}
	_ game.Featurizer[*Board] = Heuristic{}
)

var neighbours = [8][2]int{{-1, -1}, {-1, 0}, {-1, 1}, {0, -1}, {0, 1}, {1, -1}, {1, 0}, {1, 1}}

// stoneSum adds score(p, row, col) for player 0 stones and subtracts it for
// player 1 stones.
func stoneSum(b *Board, score func(b *Board, p game.Player, row, col int) float64) float64 {
	var total float64
	for row := 0; row < b.size; row++ {
		for col := 0; col < b.size; col++ {
			switch {
			case b.IsSet(game.Player0, row, col):
				total += score(b, game.Player0, row, col)
			case b.IsSet(game.Player1, row, col):
				total -= score(b, game.Player1, row, col)
			}
		}
	}
	return total
}

// emptySum adds score(player 0) and subtracts score(player 1) over every empty cell.
func emptySum(b *Board, score func(b *Board, p game.Player, row, col int) float64) float64 {
	var total float64
	for row := 0; row < b.size; row++ {
		for col := 0; col < b.size; col++ {
			if b.IsEmpty(row, col) {
				total += score(b, game.Player0, row, col) - score(b, game.Player1, row, col)
			}
		}
	}
	return total
}

func boolScore(ok bool, v float64) float64 {
	if ok {
		return v
	}
	return 0
}

// windowFits reports whether the n cells from (row, col) along d lie on the board.
func (b *Board) windowFits(row, col int, d [2]int, n int) bool {
	return b.inBounds(row, col) && b.inBounds(row+(n-1)*d[0], col+(n-1)*d[1])
}

// open3: three own stones followed by a cell the opponent does not hold, for
// every window of four through the stone.
func open3Feature(b *Board) float64 {
	return stoneSum(b, func(b *Board, p game.Player, row, col int) float64 {
		o := p.Other()
		var n float64
		for _, d := range directions {
			for i := -(InARow - 1); i <= 0; i++ {
				r, c := row+i*d[0], col+i*d[1]
				if !b.windowFits(r, c, d, InARow) {
					continue
				}
				if b.IsSet(p, r, c) && b.IsSet(p, r+d[0], c+d[1]) && b.IsSet(p, r+2*d[0], c+2*d[1]) &&
					!b.IsSet(o, r+3*d[0], c+3*d[1]) {
					n++
				}
			}
		}
		return n
	})
}

// open2: two adjacent own stones with room to extend. Straight lines score 0.5,
// rising diagonals 0.3 without the room check.
func open2Feature(b *Board) float64 {
	return stoneSum(b, func(b *Board, p game.Player, row, col int) float64 {
		o := p.Other()
		var v float64
		for _, d := range directions[:2] {
			for i := -2; i <= 0; i++ {
				r, c := row+i*d[0], col+i*d[1]
				if !b.windowFits(r, c, d, 3) {
					continue
				}
				if !b.IsSet(p, r, c) || !b.IsSet(p, r+d[0], c+d[1]) {
					continue
				}
				start := r*d[0] + c*d[1]
				before := start > 0 && !b.IsSet(o, r-d[0], c-d[1])
				after := start+2 < b.size-1 && !b.IsSet(o, r+2*d[0], c+2*d[1])
				if before || after {
					v += 0.5
				}
			}
		}
		d := directions[2]
		for i := -2; i <= 0; i++ {
			r, c := row+i, col+i
			if b.windowFits(r, c, d, 3) && b.IsSet(p, r, c) && b.IsSet(p, r+1, c+1) {
				v += 0.3
			}
		}
		return v
	})
}

// wouldWin reports whether a piece for p at (row, col) completes four in a row
// horizontally, vertically or along the rising diagonal.
func wouldWin(b *Board, p game.Player, row, col int) bool {
	for _, d := range directions[:3] {
		for i := -(InARow - 1); i <= 0; i++ {
			r, c := row+i*d[0], col+i*d[1]
			if !b.windowFits(r, c, d, InARow) {
				continue
			}
			n := 0
			for k := 0; k < InARow; k++ {
				rr, cc := r+k*d[0], c+k*d[1]
				if (rr == row && cc == col) || b.IsSet(p, rr, cc) {
					n++
				}
			}
			if n == InARow {
				return true
			}
		}
	}
	return false
}

func threatFeature(b *Board) float64 {
	return emptySum(b, func(b *Board, p game.Player, row, col int) float64 {
		return boolScore(wouldWin(b, p, row, col), 1)
	})
}

func centerFeature(b *Board) float64 {
	var v float64
	for row := 0; row < b.size; row++ {
		for col := b.size/2 - 1; col <= b.size/2+1 && col < b.size; col++ {
			switch {
			case b.IsSet(game.Player0, row, col):
				v += 0.5
			case b.IsSet(game.Player1, row, col):
				v -= 0.5
			}
		}
	}
	return v
}

// blocking: horizontal windows through the stone that already hold two or
// more opponent stones.
func blockingFeature(b *Board) float64 {
	return stoneSum(b, func(b *Board, p game.Player, row, col int) float64 {
		o := p.Other()
		var v float64
		for start := max(0, col-3); start <= min(col, b.size-InARow); start++ {
			n := 0
			for c := start; c < start+InARow; c++ {
				if c != col && b.IsSet(o, row, c) {
					n++
				}
			}
			if n >= 2 {
				v += 0.3
			}
		}
		return v
	})
}

func heightFeature(b *Board) float64 {
	return stoneSum(b, func(b *Board, _ game.Player, row, _ int) float64 {
		return float64(b.size-row) * 0.1
	})
}

func connectivityFeature(b *Board) float64 {
	return stoneSum(b, func(b *Board, p game.Player, row, col int) float64 {
		var v float64
		for _, n := range neighbours {
			if b.IsSet(p, row+n[0], col+n[1]) {
				v += 0.1
			}
		}
		return v
	})
}

// threatsCreated counts half-lines from (row, col) that would hold three of
// p's stones with at least one free cell. Off-board cells are skipped.
func threatsCreated(b *Board, p game.Player, row, col int) int {
	o := p.Other()
	threats := 0
	for _, d := range directions {
		for _, sign := range [2]int{-1, 1} {
			count, spaces := 1, 0
			for i := 1; i < InARow; i++ {
				r, c := row+sign*i*d[0], col+sign*i*d[1]
				if !b.inBounds(r, c) {
					continue
				}
				if b.IsSet(p, r, c) {
					count++
				} else if !b.IsSet(o, r, c) {
					spaces++
				} else {
					break
				}
			}
			if count == 3 && spaces >= 1 {
				threats++
			}
		}
	}
	return threats
}

func forkFeature(b *Board) float64 {
	return emptySum(b, func(b *Board, p game.Player, row, col int) float64 {
		n := threatsCreated(b, p, row, col)
		return boolScore(n >= 2, float64(n)*0.8)
	})
}

func immediateThreats(b *Board) (p0, p1 int) {
	for row := 0; row < b.size; row++ {
		for col := 0; col < b.size; col++ {
			if !b.IsEmpty(row, col) {
				continue
			}
			if wouldWin(b, game.Player0, row, col) {
				p0++
			}
			if wouldWin(b, game.Player1, row, col) {
				p1++
			}
		}
	}
	return p0, p1
}

func tempoFeature(b *Board) float64 {
	p0, p1 := immediateThreats(b)
	switch {
	case p0 > p1:
		return 0.5
	case p1 > p0:
		return -0.5
	}
	return 0
}

// edgeFeature penalises stones on the border while the board is less than a
// third full.
func edgeFeature(b *Board) float64 {
	if b.pieces >= b.size*b.size/3 {
		return 0
	}
	last := b.size - 1
	return -stoneSum(b, func(_ *Board, _ game.Player, row, col int) float64 {
		return boolScore(row == 0 || row == last || col == 0 || col == last, 0.2)
	})
}

// createsTrap reports whether a piece at (row, col) gives p three of four in
// at least two directions with no opponent stone in the window.
func createsTrap(b *Board, p game.Player, row, col int) bool {
	o := p.Other()
	separate := 0
	for _, d := range directions {
		for start := -(InARow - 1); start <= 0; start++ {
			n, valid := 0, true
			for i := 0; i < InARow; i++ {
				r, c := row+(start+i)*d[0], col+(start+i)*d[1]
				if !b.inBounds(r, c) {
					valid = false
					break
				}
				if (r == row && c == col) || b.IsSet(p, r, c) {
					n++
				} else if b.IsSet(o, r, c) {
					valid = false
					break
				}
			}
			if valid && n >= 3 {
				separate++
				break
			}
		}
	}
	return separate >= 2
}

func trapFeature(b *Board) float64 {
	return emptySum(b, func(b *Board, p game.Player, row, col int) float64 {
		return boolScore(createsTrap(b, p, row, col), 1.2)
	})
}

// run counts p's consecutive stones through (row, col) along d, up to reach
// cells each way, counting (row, col) itself.
func run(b *Board, p game.Player, row, col int, d [2]int, reach int) int {
	n := 1
	for _, sign := range [2]int{1, -1} {
		for i := 1; i <= reach; i++ {
			if !b.IsSet(p, row+sign*i*d[0], col+sign*i*d[1]) {
				break
			}
			n++
		}
	}
	return n
}

func mobilityFeature(b *Board) float64 {
	return emptySum(b, func(b *Board, p game.Player, row, col int) float64 {
		for _, d := range directions {
			if run(b, p, row, col, d, InARow-1) >= 2 {
				return 0.05
			}
		}
		return 0
	})
}

func structureFeature(b *Board) float64 {
	return stoneSum(b, func(b *Board, p game.Player, row, col int) float64 {
		var v float64
		for _, d := range directions {
			if n := run(b, p, row, col, d, 2); n >= 2 {
				v += float64(n) * 0.1
			}
		}
		return v
	})
}

// defensive: windows through the stone that hold no other own stone and two
// or more opponent stones.
func defensiveFeature(b *Board) float64 {
	return stoneSum(b, func(b *Board, p game.Player, row, col int) float64 {
		o := p.Other()
		var v float64
		for _, d := range directions {
			for start := -(InARow - 1); start <= 0; start++ {
				opp, valid := 0, true
				for i := 0; i < InARow; i++ {
					r, c := row+(start+i)*d[0], col+(start+i)*d[1]
					if !b.inBounds(r, c) {
						valid = false
						break
					}
					if r == row && c == col {
						continue
					}
					if b.IsSet(o, r, c) {
						opp++
					} else if b.IsSet(p, r, c) {
						valid = false
						break
					}
				}
				if valid && opp >= 2 {
					v += 0.3 * float64(opp)
				}
			}
		}
		return v
	})
}

// endgame weighs immediate threats once the board is more than 70% full.
func endgameFeature(b *Board) float64 {
	if float64(b.pieces)/float64(b.size*b.size) <= 0.7 {
		return 0
	}
	p0, p1 := immediateThreats(b)
	return float64(p0-p1) * 0.4
}
