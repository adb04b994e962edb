// Package memory is an in-process statistics store.
// Transactions work on a copy-on-write snapshot that replaces the committed
// one only when the transaction function succeeds.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/wonny/stratstats/internal/contracts"
)

// Store is a contracts.StatisticsStore kept in memory
type Store struct {
	mu   sync.RWMutex // guards data
	txMu sync.Mutex   // single writer
	data *snapshot
	now  func() time.Time
}

// New creates an empty store
func New() *Store {
	return &Store{
		data: newSnapshot(),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the timestamp source (tests)
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Daily returns the committed daily record view
func (s *Store) Daily() contracts.DailyRecordRepository {
	return &dailyRepo{acc: committed{s}, now: s.now}
}

// Monthly returns the committed monthly aggregate view
func (s *Store) Monthly() contracts.MonthlyAggregateRepository {
	return &monthlyRepo{acc: committed{s}, now: s.now}
}

// WithinTx runs fn against a private snapshot and publishes it on success.
// Writers are serialized store-wide, which also covers the per-strategy lock.
func (s *Store) WithinTx(ctx context.Context, strategyID int64, fn func(ctx context.Context, tx contracts.StatisticsTx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	return s.runTx(ctx, fn)
}

func (s *Store) runTx(ctx context.Context, fn func(ctx context.Context, tx contracts.StatisticsTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	work := s.data.shallow()
	s.mu.RUnlock()

	view := &txView{snap: work, touched: make(map[int64]bool)}
	if err := fn(ctx, &txHandle{view: view, now: s.now}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	s.data = work
	s.mu.Unlock()

	return nil
}

// txHandle exposes repositories bound to one transaction
type txHandle struct {
	view *txView
	now  func() time.Time
}

func (t *txHandle) Daily() contracts.DailyRecordRepository {
	return &dailyRepo{acc: t.view, now: t.now}
}

func (t *txHandle) Monthly() contracts.MonthlyAggregateRepository {
	return &monthlyRepo{acc: t.view, now: t.now}
}

// accessor abstracts committed vs transactional snapshot access
type accessor interface {
	read(fn func(*snapshot))
	write(strategyID int64, fn func(*snapshot) error) error
}

// committed reads the published snapshot and auto-commits single writes
type committed struct {
	s *Store
}

func (c committed) read(fn func(*snapshot)) {
	c.s.mu.RLock()
	defer c.s.mu.RUnlock()
	fn(c.s.data)
}

func (c committed) write(strategyID int64, fn func(*snapshot) error) error {
	return c.s.WithinTx(context.Background(), strategyID, func(_ context.Context, tx contracts.StatisticsTx) error {
		return tx.(*txHandle).view.write(strategyID, fn)
	})
}

// txView is a transaction's working snapshot; a strategy's maps are cloned on first write
type txView struct {
	snap    *snapshot
	touched map[int64]bool
}

func (v *txView) read(fn func(*snapshot)) {
	fn(v.snap)
}

func (v *txView) write(strategyID int64, fn func(*snapshot) error) error {
	if !v.touched[strategyID] {
		v.snap.cloneStrategy(strategyID)
		v.touched[strategyID] = true
	}
	return fn(v.snap)
}

// snapshot holds every strategy's rows
type snapshot struct {
	daily   map[int64]map[string]*contracts.DailyRecord
	monthly map[int64]map[contracts.Month]*contracts.MonthlyAggregate
}

func newSnapshot() *snapshot {
	return &snapshot{
		daily:   make(map[int64]map[string]*contracts.DailyRecord),
		monthly: make(map[int64]map[contracts.Month]*contracts.MonthlyAggregate),
	}
}

// shallow copies the strategy index; per-strategy maps stay shared until cloned
func (s *snapshot) shallow() *snapshot {
	out := newSnapshot()
	for id, m := range s.daily {
		out.daily[id] = m
	}
	for id, m := range s.monthly {
		out.monthly[id] = m
	}
	return out
}

// cloneStrategy gives the snapshot private copies of one strategy's maps
func (s *snapshot) cloneStrategy(strategyID int64) {
	daily := make(map[string]*contracts.DailyRecord, len(s.daily[strategyID]))
	for k, rec := range s.daily[strategyID] {
		daily[k] = copyRecord(rec)
	}
	s.daily[strategyID] = daily

	monthly := make(map[contracts.Month]*contracts.MonthlyAggregate, len(s.monthly[strategyID]))
	for k, agg := range s.monthly[strategyID] {
		monthly[k] = copyAggregate(agg)
	}
	s.monthly[strategyID] = monthly
}

func dateKey(t time.Time) string {
	return t.Format(contracts.DateLayout)
}

func copyRecord(rec *contracts.DailyRecord) *contracts.DailyRecord {
	c := *rec
	return &c
}

func copyAggregate(agg *contracts.MonthlyAggregate) *contracts.MonthlyAggregate {
	c := *agg
	return &c
}
