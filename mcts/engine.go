package mcts

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/brensch/arenamcts/arena"
	"github.com/brensch/arenamcts/game"
)

var (
	// ErrNoChildren is returned when an action is requested from a node without children.
	ErrNoChildren = errors.New("mcts: node has no children")
	// ErrZeroVisits is returned when UCB selection runs on a node that was never visited.
	ErrZeroVisits = errors.New("mcts: selection on unvisited node")
	// ErrTooManyActions is returned when a state has more actions than MaxActions.
	ErrTooManyActions = errors.New("mcts: too many actions")
	// ErrInvalidPlayer is returned when a node carries no valid player tag.
	ErrInvalidPlayer = errors.New("mcts: invalid node player")
)

const (
	// DefaultExploration is the UCB1 constant sqrt(2).
	DefaultExploration = math.Sqrt2
	// DefaultDirichletAlpha is added to every child's visit count when sampling.
	DefaultDirichletAlpha = 0.3
)

// Option configures an Engine.
type Option func(*config)

type config struct {
	exploration float64
	alpha       float64
	rng         *rand.Rand
	observer    func(node *Node)
}

// WithExploration sets the UCB exploration constant.
func WithExploration(c float64) Option {
	return func(cfg *config) { cfg.exploration = c }
}

// WithDirichletAlpha sets the concentration added to visit counts by
// stochastic action selection.
func WithDirichletAlpha(alpha float64) Option {
	return func(cfg *config) { cfg.alpha = alpha }
}

// WithRand sets the random source for stochastic action selection. Without it
// the goroutine-safe global source is used.
func WithRand(rng *rand.Rand) Option {
	return func(cfg *config) { cfg.rng = rng }
}

// WithSelectionObserver registers fn to be called with every node on which UCB
// scoring runs.
func WithSelectionObserver(fn func(node *Node)) Option {
	return func(cfg *config) { cfg.observer = fn }
}

// Engine searches one game. It is not safe for concurrent use; run one engine
// per goroutine and share the allocator and evaluator between them.
type Engine[S game.State[S]] struct {
	alloc arena.Allocator[Node]
	eval  game.Evaluator[S]
	state S
	work  S
	root  arena.Ref
	cfg   config

	iterations int64
}

// New allocates a root for state. The engine keeps state as the authoritative
// game position: SelectAction advances it.
func New[S game.State[S]](alloc arena.Allocator[Node], eval game.Evaluator[S], state S, opts ...Option) (*Engine[S], error) {
	cfg := config{
		exploration: DefaultExploration,
		alpha:       DefaultDirichletAlpha,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if state.NumActions() > MaxActions {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManyActions, state.NumActions(), MaxActions)
	}

	root, err := alloc.SafePop()
	if err != nil {
		return nil, fmt.Errorf("allocate root: %w", err)
	}
	alloc.Get(root).Reset(arena.NilRef, state.PreviousMover())

	return &Engine[S]{
		alloc: alloc,
		eval:  eval,
		state: state,
		work:  state.Clone(),
		root:  root,
		cfg:   cfg,
	}, nil
}

func (e *Engine[S]) Root() arena.Ref { return e.root }

// DirichletAlpha is the concentration used by stochastic selection.
func (e *Engine[S]) DirichletAlpha() float64 { return e.cfg.alpha }

// RootState is the authoritative game position.
func (e *Engine[S]) RootState() S { return e.state }

// Node resolves a handle through the engine's allocator.
func (e *Engine[S]) Node(ref arena.Ref) *Node { return e.alloc.Get(ref) }

// Iterations is the number of completed traversals over the engine's lifetime.
func (e *Engine[S]) Iterations() int64 { return e.iterations }

// Expand records the legal actions of a non-terminal node. Children are
// allocated lazily by SelectChild. Terminal nodes are left unexpanded.
func (e *Engine[S]) Expand(ref arena.Ref, state S) error {
	if state.IsTerminal() {
		return nil
	}
	n := state.NumActions()
	if n > MaxActions {
		return fmt.Errorf("%w: %d > %d", ErrTooManyActions, n, MaxActions)
	}
	node := e.alloc.Get(ref)
	node.NumActions = n
	node.Player = state.PreviousMover()
	node.Expanded = true
	return nil
}

// SelectChild returns the child to descend into and its action index. The
// first action without a child gets a fresh node, which is returned
// immediately; once every action has a child the one with the highest UCB
// score wins, ties going to the lowest index.
func (e *Engine[S]) SelectChild(ref arena.Ref, state S) (arena.Ref, int, error) {
	node := e.alloc.Get(ref)
	if !node.FullyExplored() {
		for i := 0; i < node.NumActions; i++ {
			if !node.Children[i].IsNil() {
				continue
			}
			child, err := e.alloc.SafePop()
			if err != nil {
				return arena.NilRef, -1, fmt.Errorf("allocate child: %w", err)
			}
			e.alloc.Get(child).Reset(ref, state.CurrentPlayer())
			node.Children[i] = child
			node.Explored++
			return child, i, nil
		}
	}

	if node.Visits == 0 {
		return arena.NilRef, -1, ErrZeroVisits
	}
	if e.cfg.observer != nil {
		e.cfg.observer(node)
	}

	logN := math.Log(float64(node.Visits))
	best, bestScore := -1, math.Inf(-1)
	for i := 0; i < node.NumActions; i++ {
		c := e.alloc.Get(node.Children[i])
		if c.Visits == 0 {
			return arena.NilRef, -1, fmt.Errorf("%w: child %d", ErrZeroVisits, i)
		}
		score := c.Q + e.cfg.exploration*math.Sqrt(logN/float64(c.Visits))
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	return node.Children[best], best, nil
}

// Backpropagate adds result to every node from ref up to the root.
func (e *Engine[S]) Backpropagate(ref arena.Ref, result game.Reward) error {
	for !ref.IsNil() {
		node := e.alloc.Get(ref)
		if !node.Player.Valid() {
			return fmt.Errorf("%w: %d at %s", ErrInvalidPlayer, node.Player, ref)
		}
		node.Visits++
		node.Q += (result.For(node.Player) - node.Q) / float64(node.Visits)
		ref = node.Parent
	}
	return nil
}

// Traverse runs n search iterations from the root. Each iteration works on a
// fresh copy of the root state.
func (e *Engine[S]) Traverse(n int) error {
	for i := 0; i < n; i++ {
		if err := e.iterate(); err != nil {
			return err
		}
		e.iterations++
	}
	return nil
}

func (e *Engine[S]) iterate() error {
	e.state.CopyTo(e.work)

	ref := e.root
	for e.alloc.Get(ref).Expanded {
		child, action, err := e.SelectChild(ref, e.work)
		if err != nil {
			return err
		}
		if err := e.work.Step(action); err != nil {
			return fmt.Errorf("step action %d: %w", action, err)
		}
		ref = child
	}

	result, err := e.evaluate(e.work)
	if err != nil {
		return err
	}
	if err := e.Expand(ref, e.work); err != nil {
		return err
	}
	return e.Backpropagate(ref, result)
}

// evaluate returns the exact reward for terminal states and asks the
// evaluator otherwise.
func (e *Engine[S]) evaluate(state S) (game.Reward, error) {
	if state.IsTerminal() {
		return state.Reward()
	}
	r, err := e.eval.Evaluate(state)
	if err != nil {
		return game.Reward{}, fmt.Errorf("evaluate: %w", err)
	}
	return r, nil
}

// MostVisited returns the child with strictly the most visits, the first one
// on ties.
func (e *Engine[S]) MostVisited(ref arena.Ref) (arena.Ref, int, error) {
	node := e.alloc.Get(ref)
	best, bestVisits := -1, -1
	for i := 0; i < node.NumActions; i++ {
		if node.Children[i].IsNil() {
			continue
		}
		if v := e.alloc.Get(node.Children[i]).Visits; v > bestVisits {
			best, bestVisits = i, v
		}
	}
	if best < 0 {
		return arena.NilRef, -1, ErrNoChildren
	}
	return node.Children[best], best, nil
}

// Probabilities returns, per action, visits+alpha normalised over the
// children that exist. Actions without a child get 0.
func (e *Engine[S]) Probabilities(ref arena.Ref, alpha float64) []float64 {
	node := e.alloc.Get(ref)
	probs := make([]float64, node.NumActions)
	var total float64
	for i := range probs {
		if node.Children[i].IsNil() {
			continue
		}
		probs[i] = float64(e.alloc.Get(node.Children[i]).Visits) + alpha
		total += probs[i]
	}
	if total <= 0 {
		return probs
	}
	for i := range probs {
		probs[i] /= total
	}
	return probs
}

// DirichletSelect samples a child with probability proportional to its visit
// count plus the configured alpha, using u in [0, 1) as the uniform draw.
// When sampling does not land on a child it falls back to MostVisited.
func (e *Engine[S]) DirichletSelect(ref arena.Ref, u float64) (arena.Ref, int, error) {
	node := e.alloc.Get(ref)
	probs := e.Probabilities(ref, e.cfg.alpha)
	for i, p := range probs {
		if p == 0 {
			continue
		}
		u -= p
		if u < 0 {
			return node.Children[i], i, nil
		}
	}
	return e.MostVisited(ref)
}

// Release returns ref and its whole subtree to the allocator.
func (e *Engine[S]) Release(ref arena.Ref) {
	if ref.IsNil() {
		return
	}
	node := e.alloc.Get(ref)
	if node.Expanded {
		for i := 0; i < node.NumActions; i++ {
			e.Release(node.Children[i])
			node.Children[i] = arena.NilRef
		}
	}
	e.alloc.Push(ref)
}

// SelectAction picks an action at the root, applies it to the authoritative
// state and makes the chosen child the new root. Sibling subtrees and the old
// root are released.
func (e *Engine[S]) SelectAction(stochastic bool) (int, error) {
	var (
		child  arena.Ref
		action int
		err    error
	)
	if stochastic {
		child, action, err = e.DirichletSelect(e.root, e.uniform())
	} else {
		child, action, err = e.MostVisited(e.root)
	}
	if err != nil {
		return -1, err
	}
	if err := e.state.Step(action); err != nil {
		return -1, fmt.Errorf("step action %d: %w", action, err)
	}

	old := e.alloc.Get(e.root)
	old.Children[action] = arena.NilRef
	e.Release(e.root)

	e.alloc.Get(child).Parent = arena.NilRef
	e.root = child
	return action, nil
}

// Close releases the whole tree. The engine must not be used afterwards.
func (e *Engine[S]) Close() {
	e.Release(e.root)
	e.root = arena.NilRef
}

// Stats summarises the root for training targets.
type Stats struct {
	Visits int
	Q      float64
	// Policy is the visit share of every root action.
	Policy []float32
}

func (e *Engine[S]) Stats() Stats {
	root := e.alloc.Get(e.root)
	st := Stats{
		Visits: root.Visits,
		Q:      root.Q,
		Policy: make([]float32, root.NumActions),
	}
	for i, p := range e.Probabilities(e.root, 0) {
		st.Policy[i] = float32(p)
	}
	return st
}

func (e *Engine[S]) uniform() float64 {
	if e.cfg.rng != nil {
		return e.cfg.rng.Float64()
	}
	return rand.Float64()
}
