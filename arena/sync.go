package arena

import "sync"

// SyncArena is an Arena shared between goroutines. Every free-list operation
// takes the same mutex for its whole critical section.
//
// Construction is not concurrent with use: build it once and hand it to the
// workers.
type SyncArena[T any] struct {
	mu sync.Mutex
	a  *Arena[T]
}

func NewSync[T any](initial int, opts ...Option) (*SyncArena[T], error) {
	a, err := New[T](initial, opts...)
	if err != nil {
		return nil, err
	}
	return &SyncArena[T]{a: a}, nil
}

func (s *SyncArena[T]) Grow(n int) (Ref, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.a.Grow(n)
}

func (s *SyncArena[T]) Pop() (Ref, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.a.Pop()
}

func (s *SyncArena[T]) SafePop() (Ref, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.a.SafePop()
}

func (s *SyncArena[T]) Push(ref Ref) {
	if ref.IsNil() {
		return
	}
	s.mu.Lock()
	s.a.Push(ref)
	s.mu.Unlock()
}

// Get does not take the lock; see the package documentation.
func (s *SyncArena[T]) Get(ref Ref) *T {
	return s.a.Get(ref)
}

func (s *SyncArena[T]) Capacity() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.a.Capacity()
}

func (s *SyncArena[T]) Free() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.a.Free()
}

func (s *SyncArena[T]) Empty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.a.Empty()
}

func (s *SyncArena[T]) Blocks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.a.Blocks()
}
