// Package arena provides a typed slot allocator for search trees.
//
// Slots are reserved in large blocks and chained into one free list that spans
// every block. Released slots go back to the head of the list and are handed
// out again; blocks are only dropped together with the arena.
//
// # Concurrency Model
//
// Arena is not safe for concurrent use. SyncArena wraps it and serializes every
// free-list operation under a single mutex, so independent search trees owned by
// different goroutines can share one pool of slots. Get is lock-free in both
// variants: blocks are published through atomic pointers and never move, and a
// slot's value is only touched by the goroutine that popped it.
package arena

import (
	"errors"
	"fmt"
	"math"
	"sync/atomic"
)

var (
	// ErrInvalidSize is returned when a reservation of zero or negative slots is requested.
	ErrInvalidSize = errors.New("arena: invalid size")
	// ErrCapacityExceeded is returned when a grow would pass the configured ceiling.
	ErrCapacityExceeded = errors.New("arena: capacity exceeded")
	// ErrMaxBlocksExceeded is returned when the block registry is full.
	ErrMaxBlocksExceeded = errors.New("arena: max blocks exceeded")
)

// MaxBlocks bounds the block registry. With the doubling growth of SafePop this
// is far more than any realistic tree needs.
const MaxBlocks = 48

// Ref is a handle to a slot: the block number in the high 32 bits and the slot
// index inside the block in the low 32 bits.
type Ref uint64

// NilRef is the null handle.
const NilRef Ref = math.MaxUint64

func makeRef(block, index uint32) Ref {
	return Ref(block)<<32 | Ref(index)
}

func (r Ref) IsNil() bool { return r == NilRef }

func (r Ref) Block() uint32 { return uint32(r >> 32) }

func (r Ref) Index() uint32 { return uint32(r) }

func (r Ref) String() string {
	if r.IsNil() {
		return "nil"
	}
	return fmt.Sprintf("%d:%d", r.Block(), r.Index())
}

type slot[T any] struct {
	value T
	next  Ref
}

type block[T any] struct {
	slots []slot[T]
}

// Allocator is the part of the arena the search engine depends on.
type Allocator[T any] interface {
	SafePop() (Ref, error)
	Push(ref Ref)
	Get(ref Ref) *T
	Capacity() int
	Free() int
}

// Option configures an arena.
type Option func(*options)

type options struct {
	maxCapacity int
	onGrow      func(added, capacity int)
}

// WithMaxCapacity caps the total number of slots the arena may ever reserve.
// Zero means unbounded.
func WithMaxCapacity(n int) Option {
	return func(o *options) {
		o.maxCapacity = max(0, n)
	}
}

// WithGrowHook registers a callback invoked after every successful grow,
// including the initial reservation. For SyncArena it runs under the lock.
func WithGrowHook(fn func(added, capacity int)) Option {
	return func(o *options) {
		o.onGrow = fn
	}
}

// Arena is a single-owner slot allocator.
type Arena[T any] struct {
	blocks   [MaxBlocks]atomic.Pointer[block[T]]
	nblocks  int
	head     Ref
	tail     Ref
	capacity int
	free     int
	opts     options
}

// New reserves initial slots and returns the arena.
func New[T any](initial int, opts ...Option) (*Arena[T], error) {
	a := &Arena[T]{
		head: NilRef,
		tail: NilRef,
	}
	for _, opt := range opts {
		opt(&a.opts)
	}
	if _, err := a.Grow(initial); err != nil {
		return nil, fmt.Errorf("initial reservation: %w", err)
	}
	return a, nil
}

// Grow reserves n additional slots, appends them to the tail of the free list
// and returns the handle of the first new slot. A failed grow leaves the free
// list untouched.
func (a *Arena[T]) Grow(n int) (Ref, error) {
	if n <= 0 || uint64(n) > math.MaxUint32 {
		return NilRef, fmt.Errorf("%w: %d", ErrInvalidSize, n)
	}
	if a.opts.maxCapacity > 0 && a.capacity+n > a.opts.maxCapacity {
		return NilRef, fmt.Errorf("%w: have %d, want %d more, limit %d", ErrCapacityExceeded, a.capacity, n, a.opts.maxCapacity)
	}
	if a.nblocks >= MaxBlocks {
		return NilRef, ErrMaxBlocksExceeded
	}

	id := uint32(a.nblocks)
	b := &block[T]{slots: make([]slot[T], n)}
	for i := 0; i < n-1; i++ {
		b.slots[i].next = makeRef(id, uint32(i+1))
	}
	b.slots[n-1].next = NilRef

	// Publish before linking so Get can resolve the new handles.
	a.blocks[id].Store(b)
	a.nblocks++

	first := makeRef(id, 0)
	if a.tail.IsNil() {
		a.head = first
	} else {
		a.slot(a.tail).next = first
	}
	a.tail = makeRef(id, uint32(n-1))
	a.capacity += n
	a.free += n

	if a.opts.onGrow != nil {
		a.opts.onGrow(n, a.capacity)
	}
	return first, nil
}

// Pop detaches the head of the free list. It reports false when the list is
// empty; it never grows.
func (a *Arena[T]) Pop() (Ref, bool) {
	if a.head.IsNil() {
		return NilRef, false
	}
	ref := a.head
	s := a.slot(ref)
	a.head = s.next
	s.next = NilRef
	if a.head.IsNil() {
		a.tail = NilRef
	}
	a.free--
	return ref, true
}

// SafePop pops a slot, first growing by the current capacity when the free
// list is empty. With a capacity ceiling the growth is clamped to the room
// that is left.
func (a *Arena[T]) SafePop() (Ref, error) {
	if a.head.IsNil() {
		n := a.capacity
		if a.opts.maxCapacity > 0 {
			n = min(n, a.opts.maxCapacity-a.capacity)
		}
		if n <= 0 {
			return NilRef, fmt.Errorf("%w: limit %d", ErrCapacityExceeded, a.opts.maxCapacity)
		}
		if _, err := a.Grow(n); err != nil {
			return NilRef, err
		}
	}
	ref, _ := a.Pop()
	return ref, nil
}

// Push returns a slot to the head of the free list. The caller guarantees the
// slot is no longer referenced by any live tree.
func (a *Arena[T]) Push(ref Ref) {
	if ref.IsNil() {
		return
	}
	a.slot(ref).next = a.head
	a.head = ref
	if a.tail.IsNil() {
		a.tail = ref
	}
	a.free++
}

// Get resolves a handle to the slot value.
func (a *Arena[T]) Get(ref Ref) *T {
	return &a.slot(ref).value
}

func (a *Arena[T]) slot(ref Ref) *slot[T] {
	return &a.blocks[ref.Block()].Load().slots[ref.Index()]
}

// Capacity is the total number of slots ever reserved.
func (a *Arena[T]) Capacity() int { return a.capacity }

// Free is the current length of the free list.
func (a *Arena[T]) Free() int { return a.free }

func (a *Arena[T]) Empty() bool { return a.head.IsNil() }

// Blocks is the number of reserved blocks.
func (a *Arena[T]) Blocks() int { return a.nblocks }
