package stats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wonny/stratstats/internal/contracts"
)

// Aggregator recomputes a single monthly aggregate from source records
// ⭐ SSOT: 월간 통계 갱신은 Recompute 로만 수행 (증분 갱신 금지)
type Aggregator struct {
	baseline decimal.Decimal
	now      func() time.Time
}

// NewAggregator creates an aggregator; a non-positive baseline falls back to 1000
func NewAggregator(baseline decimal.Decimal) *Aggregator {
	if !baseline.IsPositive() {
		baseline = DefaultBaselinePrice
	}
	return &Aggregator{
		baseline: baseline,
		now:      time.Now,
	}
}

// Baseline returns the starting reference price
func (a *Aggregator) Baseline() decimal.Decimal {
	return a.baseline
}

// Recompute rebuilds the aggregate of month inside tx.
// A month with no daily records loses its aggregate and nil is returned.
func (a *Aggregator) Recompute(ctx context.Context, tx contracts.StatisticsTx, strategyID int64, month contracts.Month) (*contracts.MonthlyAggregate, error) {
	records, err := tx.Daily().ListByMonth(ctx, strategyID, month)
	if err != nil {
		return nil, fmt.Errorf("failed to load daily records: %w", err)
	}

	if len(records) == 0 {
		if err := tx.Monthly().Delete(ctx, strategyID, month); err != nil {
			return nil, fmt.Errorf("failed to remove empty month: %w", err)
		}
		return nil, nil
	}

	prev, err := tx.Monthly().Previous(ctx, strategyID, month)
	if err != nil {
		if !errors.Is(err, contracts.ErrNotFound) {
			return nil, fmt.Errorf("failed to load previous month: %w", err)
		}
		prev = nil
	}

	agg := ComputeMonth(strategyID, month, records, prev, a.baseline)
	agg.UpdatedAt = a.now()

	if err := tx.Monthly().Upsert(ctx, agg); err != nil {
		return nil, fmt.Errorf("failed to save monthly aggregate: %w", err)
	}

	return agg, nil
}
