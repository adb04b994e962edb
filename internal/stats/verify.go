package stats

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/wonny/stratstats/internal/contracts"
)

// Mismatch reasons
const (
	MismatchMissing    = "missing"    // expected aggregate is not stored
	MismatchOrphan     = "orphan"     // stored aggregate has no daily records
	MismatchDifference = "difference" // stored figures differ from recomputation
)

// Mismatch is one disagreement between stored and recomputed aggregates
type Mismatch struct {
	Month    string                      `json:"month"`
	Reason   string                      `json:"reason"`
	Expected *contracts.MonthlyAggregate `json:"expected,omitempty"`
	Actual   *contracts.MonthlyAggregate `json:"actual,omitempty"`
}

// VerifyReport is the outcome of a consistency check
type VerifyReport struct {
	StrategyID int64      `json:"strategyId"`
	Checked    int        `json:"checkedMonths"`
	Mismatches []Mismatch `json:"mismatches"`
	CheckedAt  time.Time  `json:"checkedAt"`
}

// Consistent reports whether the stored chain equals a full recomputation
func (r *VerifyReport) Consistent() bool {
	return len(r.Mismatches) == 0
}

// Verify recomputes the whole chain in memory and diffs it against the stored aggregates
func (s *Service) Verify(ctx context.Context, strategyID int64) (report *VerifyReport, err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveOperation("verify", start, err) }()

	records, err := s.store.Daily().ListRange(ctx, strategyID, time.Time{}, time.Time{})
	if err != nil {
		return nil, fmt.Errorf("failed to load daily records: %w", err)
	}
	stored, err := s.store.Monthly().List(ctx, strategyID)
	if err != nil {
		return nil, fmt.Errorf("failed to load monthly aggregates: %w", err)
	}

	expected := ComputeChain(strategyID, records, s.aggregator.Baseline())
	report = diffChains(strategyID, expected, stored)
	report.CheckedAt = start

	s.metrics.VerifyMismatches(len(report.Mismatches))
	if !report.Consistent() {
		s.log.WithFields(map[string]interface{}{
			"strategy_id": strategyID,
			"mismatches":  len(report.Mismatches),
		}).Warn("monthly statistics inconsistent")
	}

	return report, nil
}

// VerifyAll checks every strategy that has daily records or aggregates
func (s *Service) VerifyAll(ctx context.Context) ([]*VerifyReport, error) {
	ids, err := s.StrategyIDs(ctx)
	if err != nil {
		return nil, err
	}

	reports := make([]*VerifyReport, 0, len(ids))
	for _, id := range ids {
		report, err := s.Verify(ctx, id)
		if err != nil {
			return reports, fmt.Errorf("verify strategy %d: %w", id, err)
		}
		reports = append(reports, report)
	}
	return reports, nil
}

// StrategyIDs lists every strategy known to the statistics store
func (s *Service) StrategyIDs(ctx context.Context) ([]int64, error) {
	dailyIDs, err := s.store.Daily().StrategyIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list strategies: %w", err)
	}
	monthlyIDs, err := s.store.Monthly().StrategyIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list strategies: %w", err)
	}

	seen := make(map[int64]bool, len(dailyIDs))
	var ids []int64
	for _, id := range append(dailyIDs, monthlyIDs...) {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// Rebuild drops every aggregate of the strategy and recomputes the chain from daily records
func (s *Service) Rebuild(ctx context.Context, strategyID int64) (aggs []*contracts.MonthlyAggregate, err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveOperation("rebuild", start, err) }()

	unlock := s.locks.Lock(strategyID)
	defer unlock()

	var result *CascadeResult
	err = s.store.WithinTx(ctx, strategyID, func(ctx context.Context, tx contracts.StatisticsTx) error {
		if _, err := tx.Monthly().DeleteByStrategy(ctx, strategyID); err != nil {
			return fmt.Errorf("failed to clear monthly aggregates: %w", err)
		}

		months, err := tx.Daily().MonthsFrom(ctx, strategyID, contracts.MinMonth)
		if err != nil {
			return fmt.Errorf("failed to list record months: %w", err)
		}
		if len(months) == 0 {
			result = &CascadeResult{}
			return nil
		}

		result, err = s.cascade.Run(ctx, tx, strategyID, months[0])
		return err
	})
	if err != nil {
		return nil, err
	}

	s.afterCommit(ctx, contracts.StatisticsEvent{
		Type:       contracts.EventMonthlyRecomputed,
		StrategyID: strategyID,
		Months:     result.Months(),
	})

	s.log.WithFields(map[string]interface{}{
		"strategy_id": strategyID,
		"months":      len(result.Recomputed),
		"duration":    time.Since(start).String(),
	}).Info("monthly statistics rebuilt")

	return result.Recomputed, nil
}

// diffChains compares expected (recomputed) with stored aggregates, both oldest first
func diffChains(strategyID int64, expected, stored []*contracts.MonthlyAggregate) *VerifyReport {
	report := &VerifyReport{StrategyID: strategyID, Mismatches: []Mismatch{}}

	byMonth := make(map[contracts.Month]*contracts.MonthlyAggregate, len(stored))
	for _, agg := range stored {
		byMonth[agg.AnalysisMonth] = agg
	}

	for _, want := range expected {
		report.Checked++
		got, ok := byMonth[want.AnalysisMonth]
		if !ok {
			report.Mismatches = append(report.Mismatches, Mismatch{
				Month: want.AnalysisMonth.String(), Reason: MismatchMissing, Expected: want,
			})
			continue
		}
		delete(byMonth, want.AnalysisMonth)

		if !want.SameFigures(got) {
			report.Mismatches = append(report.Mismatches, Mismatch{
				Month: want.AnalysisMonth.String(), Reason: MismatchDifference, Expected: want, Actual: got,
			})
		}
	}

	for _, agg := range stored {
		if _, orphan := byMonth[agg.AnalysisMonth]; orphan {
			report.Checked++
			report.Mismatches = append(report.Mismatches, Mismatch{
				Month: agg.AnalysisMonth.String(), Reason: MismatchOrphan, Actual: agg,
			})
		}
	}

	return report
}
