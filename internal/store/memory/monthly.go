package memory

import (
	"context"
	"sort"
	"time"

	"github.com/wonny/stratstats/internal/contracts"
)

type monthlyRepo struct {
	acc accessor
	now func() time.Time
}

func (r *monthlyRepo) Get(ctx context.Context, strategyID int64, month contracts.Month) (*contracts.MonthlyAggregate, error) {
	var found *contracts.MonthlyAggregate
	r.acc.read(func(s *snapshot) {
		if agg, ok := s.monthly[strategyID][month]; ok {
			found = copyAggregate(agg)
		}
	})
	if found == nil {
		return nil, contracts.ErrNotFound
	}
	return found, nil
}

func (r *monthlyRepo) Previous(ctx context.Context, strategyID int64, month contracts.Month) (*contracts.MonthlyAggregate, error) {
	var best *contracts.MonthlyAggregate
	r.acc.read(func(s *snapshot) {
		for m, agg := range s.monthly[strategyID] {
			if !m.Before(month) {
				continue
			}
			if best == nil || best.AnalysisMonth.Before(m) {
				best = agg
			}
		}
	})
	if best == nil {
		return nil, contracts.ErrNotFound
	}
	return copyAggregate(best), nil
}

func (r *monthlyRepo) MonthsFrom(ctx context.Context, strategyID int64, from contracts.Month) ([]contracts.Month, error) {
	var months []contracts.Month
	r.acc.read(func(s *snapshot) {
		for m := range s.monthly[strategyID] {
			if !m.Before(from) {
				months = append(months, m)
			}
		}
	})
	sort.Slice(months, func(i, j int) bool { return months[i].Before(months[j]) })
	return months, nil
}

func (r *monthlyRepo) Upsert(ctx context.Context, agg *contracts.MonthlyAggregate) error {
	return r.acc.write(agg.StrategyID, func(s *snapshot) error {
		row := copyAggregate(agg)
		if row.UpdatedAt.IsZero() {
			row.UpdatedAt = r.now()
		}
		s.monthly[agg.StrategyID][agg.AnalysisMonth] = row
		return nil
	})
}

func (r *monthlyRepo) Delete(ctx context.Context, strategyID int64, month contracts.Month) error {
	return r.acc.write(strategyID, func(s *snapshot) error {
		delete(s.monthly[strategyID], month)
		return nil
	})
}

func (r *monthlyRepo) Page(ctx context.Context, strategyID int64, page, pageSize int) (*contracts.MonthlyPage, error) {
	if page < 1 || pageSize < 1 {
		return nil, contracts.NewError(contracts.KindInvalidArgument, "invalid page %d/%d", page, pageSize)
	}
	all, _ := r.List(ctx, strategyID)

	// newest first
	sort.Slice(all, func(i, j int) bool { return all[j].AnalysisMonth.Before(all[i].AnalysisMonth) })

	result := &contracts.MonthlyPage{
		TotalCount: int64(len(all)),
		Page:       page,
		PageSize:   pageSize,
		Items:      []*contracts.MonthlyAggregate{},
	}

	offset := (page - 1) * pageSize
	if offset >= len(all) {
		return result, nil
	}
	end := offset + pageSize
	if end > len(all) {
		end = len(all)
	}
	result.Items = all[offset:end]

	return result, nil
}

func (r *monthlyRepo) List(ctx context.Context, strategyID int64) ([]*contracts.MonthlyAggregate, error) {
	list := []*contracts.MonthlyAggregate{}
	r.acc.read(func(s *snapshot) {
		for _, agg := range s.monthly[strategyID] {
			list = append(list, copyAggregate(agg))
		}
	})
	sort.Slice(list, func(i, j int) bool { return list[i].AnalysisMonth.Before(list[j].AnalysisMonth) })
	return list, nil
}

func (r *monthlyRepo) DeleteByStrategy(ctx context.Context, strategyID int64) (int64, error) {
	var n int64
	err := r.acc.write(strategyID, func(s *snapshot) error {
		n = int64(len(s.monthly[strategyID]))
		s.monthly[strategyID] = make(map[contracts.Month]*contracts.MonthlyAggregate)
		return nil
	})
	return n, err
}

func (r *monthlyRepo) DeleteFromMonth(ctx context.Context, strategyID int64, from contracts.Month) (int64, error) {
	var n int64
	err := r.acc.write(strategyID, func(s *snapshot) error {
		for m := range s.monthly[strategyID] {
			if !m.Before(from) {
				delete(s.monthly[strategyID], m)
				n++
			}
		}
		return nil
	})
	return n, err
}

func (r *monthlyRepo) StrategyIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	r.acc.read(func(s *snapshot) {
		for id, rows := range s.monthly {
			if len(rows) > 0 {
				ids = append(ids, id)
			}
		}
	})
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}
