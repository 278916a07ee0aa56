// Package optimistic holds local mutations that have not been confirmed by
// the authoritative source yet and merges them into the confirmed view.
package optimistic

import "sync"

// Set is a reducer over {confirmed, adds, removes}, keyed by a key function.
// It is safe for concurrent use.
type Set[K comparable, V any] struct {
	mu  sync.Mutex
	key func(V) K

	confirmed []V
	adds      []V
	removes   map[K]struct{}
}

// New creates an empty Set.
func New[K comparable, V any](key func(V) K) *Set[K, V] {
	return &Set[K, V]{key: key, removes: make(map[K]struct{})}
}

// Add records v as optimistically present. Adding a value that is already
// confirmed only cancels a pending removal of it.
func (s *Set[K, V]) Add(v V) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := s.key(v)
	delete(s.removes, k)
	if s.confirmedIndex(k) >= 0 {
		return
	}
	if i := s.addIndex(k); i >= 0 {
		s.adds[i] = v
		return
	}
	s.adds = append(s.adds, v)
}

// Remove records k as optimistically gone.
func (s *Set[K, V]) Remove(k K) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i := s.addIndex(k); i >= 0 {
		s.adds = append(s.adds[:i], s.adds[i+1:]...)
	}
	if s.confirmedIndex(k) >= 0 {
		s.removes[k] = struct{}{}
	}
}

// Reconcile replaces the confirmed view. Adds that are now confirmed and
// removes that are no longer confirmed have been applied upstream and are
// dropped.
func (s *Set[K, V]) Reconcile(confirmed []V) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.confirmed = append(s.confirmed[:0:0], confirmed...)
	present := make(map[K]struct{}, len(confirmed))
	for _, v := range confirmed {
		present[s.key(v)] = struct{}{}
	}

	kept := s.adds[:0]
	for _, v := range s.adds {
		if _, ok := present[s.key(v)]; !ok {
			kept = append(kept, v)
		}
	}
	s.adds = kept

	for k := range s.removes {
		if _, ok := present[k]; !ok {
			delete(s.removes, k)
		}
	}
}

// Merged returns the confirmed values minus pending removes, followed by
// pending adds in insertion order.
func (s *Set[K, V]) Merged() []V {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]V, 0, len(s.confirmed)+len(s.adds))
	for _, v := range s.confirmed {
		if _, removed := s.removes[s.key(v)]; !removed {
			out = append(out, v)
		}
	}
	return append(out, s.adds...)
}

// Pending reports how many optimistic mutations are outstanding.
func (s *Set[K, V]) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.adds) + len(s.removes)
}

func (s *Set[K, V]) confirmedIndex(k K) int {
	for i, v := range s.confirmed {
		if s.key(v) == k {
			return i
		}
	}
	return -1
}

func (s *Set[K, V]) addIndex(k K) int {
	for i, v := range s.adds {
		if s.key(v) == k {
			return i
		}
	}
	return -1
}
