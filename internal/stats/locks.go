package stats

import "sync"

// strategyLocks serializes writers per strategy inside one process.
// Cross-process serialization is the store's job (advisory locks).
type strategyLocks struct {
	mu    sync.Mutex
	locks map[int64]*strategyLock
}

type strategyLock struct {
	mu   sync.Mutex
	refs int
}

func newStrategyLocks() *strategyLocks {
	return &strategyLocks{locks: make(map[int64]*strategyLock)}
}

// Lock blocks until the strategy is free and returns the unlock func
func (s *strategyLocks) Lock(strategyID int64) func() {
	s.mu.Lock()
	l, ok := s.locks[strategyID]
	if !ok {
		l = &strategyLock{}
		s.locks[strategyID] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()

		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, strategyID)
		}
		s.mu.Unlock()
	}
}

func (s *strategyLocks) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.locks)
}
