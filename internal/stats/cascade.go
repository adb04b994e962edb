package stats

import (
	"context"
	"fmt"
	"sort"

	"github.com/wonny/stratstats/internal/contracts"
	"github.com/wonny/stratstats/internal/metrics"
)

// CascadeResult lists what one cascade touched
type CascadeResult struct {
	Recomputed []*contracts.MonthlyAggregate
	Removed    []contracts.Month
}

// Months returns every touched month key, ascending
func (r *CascadeResult) Months() []string {
	keys := make([]string, 0, len(r.Recomputed)+len(r.Removed))
	for _, agg := range r.Recomputed {
		keys = append(keys, agg.AnalysisMonth.String())
	}
	for _, m := range r.Removed {
		keys = append(keys, m.String())
	}
	sort.Strings(keys)
	return keys
}

// Cascade recomputes a month and every later month so the carry-forward chain stays correct
type Cascade struct {
	aggregator *Aggregator
	metrics    *metrics.Metrics
}

// NewCascade creates a cascade driver
func NewCascade(aggregator *Aggregator, m *metrics.Metrics) *Cascade {
	return &Cascade{aggregator: aggregator, metrics: m}
}

// Run recomputes from and every later month having daily records or an
// aggregate, strictly ascending. The first failure aborts the run; the
// caller's transaction is expected to roll back.
func (c *Cascade) Run(ctx context.Context, tx contracts.StatisticsTx, strategyID int64, from contracts.Month) (*CascadeResult, error) {
	months, err := affectedMonths(ctx, tx, strategyID, from)
	if err != nil {
		return nil, err
	}

	result := &CascadeResult{}
	for _, month := range months {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("cascade cancelled at %s: %w", month, err)
		}

		agg, err := c.aggregator.Recompute(ctx, tx, strategyID, month)
		if err != nil {
			return nil, fmt.Errorf("cascade failed at %s: %w", month, err)
		}
		if agg == nil {
			result.Removed = append(result.Removed, month)
			continue
		}
		result.Recomputed = append(result.Recomputed, agg)
	}

	c.metrics.Cascade(len(months))
	return result, nil
}

// affectedMonths is the sorted union of from and every later month with records or an aggregate
func affectedMonths(ctx context.Context, tx contracts.StatisticsTx, strategyID int64, from contracts.Month) ([]contracts.Month, error) {
	recordMonths, err := tx.Daily().MonthsFrom(ctx, strategyID, from)
	if err != nil {
		return nil, fmt.Errorf("failed to list record months: %w", err)
	}
	aggregateMonths, err := tx.Monthly().MonthsFrom(ctx, strategyID, from)
	if err != nil {
		return nil, fmt.Errorf("failed to list aggregate months: %w", err)
	}

	seen := map[contracts.Month]bool{from: true}
	months := []contracts.Month{from}
	for _, list := range [][]contracts.Month{recordMonths, aggregateMonths} {
		for _, m := range list {
			if m.Before(from) || seen[m] {
				continue
			}
			seen[m] = true
			months = append(months, m)
		}
	}
	sort.Slice(months, func(i, j int) bool { return months[i].Before(months[j]) })

	return months, nil
}
