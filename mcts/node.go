// Package mcts implements Monte Carlo Tree Search over nodes stored in an
// arena.
//
// Nodes never own memory directly. A node's children are arena handles owned
// by the node; the parent handle is a back-link used only by backpropagation.
// Releasing a node returns its whole subtree to the arena.
package mcts

import (
	"github.com/brensch/arenamcts/arena"
	"github.com/brensch/arenamcts/game"
)

// MaxActions bounds the branching factor of supported games.
const MaxActions = 16

// Node is one search tree node.
type Node struct {
	Visits int
	// Q is the running mean of rewards from Player's perspective.
	Q float64
	// Expanded is set on the first evaluation of a non-terminal node.
	Expanded bool
	// NumActions is the number of legal actions recorded at expansion.
	NumActions int
	// Explored counts children allocated so far. Children fill in index order.
	Explored int
	// Player made the move that led to this node.
	Player   game.Player
	Parent   arena.Ref
	Children [MaxActions]arena.Ref
}

// Reset puts a recycled slot back into its initial state.
func (n *Node) Reset(parent arena.Ref, player game.Player) {
	*n = Node{
		Parent: parent,
		Player: player,
	}
	for i := range n.Children {
		n.Children[i] = arena.NilRef
	}
}

// FullyExplored reports whether every legal action has a child.
func (n *Node) FullyExplored() bool {
	return n.Explored >= n.NumActions
}
