package directory

import (
	"context"
	"sync"

	"github.com/wonny/stratstats/internal/contracts"
)

// Memory is an in-process strategy directory (tests, memory mode)
type Memory struct {
	mu     sync.RWMutex
	owners map[int64]string
}

// NewMemory creates an empty directory
func NewMemory() *Memory {
	return &Memory{owners: make(map[int64]string)}
}

// Register adds or replaces a strategy
func (m *Memory) Register(strategyID int64, ownerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.owners[strategyID] = ownerID
}

// Remove forgets a strategy
func (m *Memory) Remove(strategyID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.owners, strategyID)
}

// Lookup implements contracts.StrategyDirectory
func (m *Memory) Lookup(ctx context.Context, strategyID int64) (*contracts.StrategyRef, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	owner, ok := m.owners[strategyID]
	if !ok {
		return nil, contracts.ErrNotFound
	}
	return &contracts.StrategyRef{ID: strategyID, OwnerID: owner}, nil
}
