package memory

import (
	"context"
	"sort"
	"time"

	"github.com/wonny/stratstats/internal/contracts"
)

type dailyRepo struct {
	acc accessor
	now func() time.Time
}

func (r *dailyRepo) Upsert(ctx context.Context, rec *contracts.DailyRecord) (*contracts.DailyRecord, error) {
	var saved *contracts.DailyRecord
	err := r.acc.write(rec.StrategyID, func(s *snapshot) error {
		now := r.now()
		key := dateKey(rec.Date)

		row := copyRecord(rec)
		row.Date = contracts.NormalizeDate(rec.Date)
		row.UpdatedAt = now
		row.CreatedAt = now
		if existing, ok := s.daily[rec.StrategyID][key]; ok {
			row.CreatedAt = existing.CreatedAt
		}

		s.daily[rec.StrategyID][key] = row
		saved = copyRecord(row)
		return nil
	})
	return saved, err
}

func (r *dailyRepo) Get(ctx context.Context, strategyID int64, date time.Time) (*contracts.DailyRecord, error) {
	var found *contracts.DailyRecord
	r.acc.read(func(s *snapshot) {
		if rec, ok := s.daily[strategyID][dateKey(date)]; ok {
			found = copyRecord(rec)
		}
	})
	if found == nil {
		return nil, contracts.ErrNotFound
	}
	return found, nil
}

func (r *dailyRepo) Delete(ctx context.Context, strategyID int64, date time.Time) error {
	return r.acc.write(strategyID, func(s *snapshot) error {
		key := dateKey(date)
		if _, ok := s.daily[strategyID][key]; !ok {
			return contracts.ErrNotFound
		}
		delete(s.daily[strategyID], key)
		return nil
	})
}

func (r *dailyRepo) ListByMonth(ctx context.Context, strategyID int64, month contracts.Month) ([]*contracts.DailyRecord, error) {
	return r.ListRange(ctx, strategyID, month.FirstDay(), month.LastDay())
}

func (r *dailyRepo) ListRange(ctx context.Context, strategyID int64, from, to time.Time) ([]*contracts.DailyRecord, error) {
	list := []*contracts.DailyRecord{}
	r.acc.read(func(s *snapshot) {
		for _, rec := range s.daily[strategyID] {
			if !from.IsZero() && rec.Date.Before(from) {
				continue
			}
			if !to.IsZero() && rec.Date.After(to) {
				continue
			}
			list = append(list, copyRecord(rec))
		}
	})
	sort.Slice(list, func(i, j int) bool { return list[i].Date.Before(list[j].Date) })
	return list, nil
}

func (r *dailyRepo) MonthsFrom(ctx context.Context, strategyID int64, from contracts.Month) ([]contracts.Month, error) {
	seen := make(map[contracts.Month]bool)
	var months []contracts.Month
	r.acc.read(func(s *snapshot) {
		for _, rec := range s.daily[strategyID] {
			m := rec.Month()
			if m.Before(from) || seen[m] {
				continue
			}
			seen[m] = true
			months = append(months, m)
		}
	})
	sort.Slice(months, func(i, j int) bool { return months[i].Before(months[j]) })
	return months, nil
}

func (r *dailyRepo) DeleteByStrategy(ctx context.Context, strategyID int64) (int64, error) {
	var n int64
	err := r.acc.write(strategyID, func(s *snapshot) error {
		n = int64(len(s.daily[strategyID]))
		s.daily[strategyID] = make(map[string]*contracts.DailyRecord)
		return nil
	})
	return n, err
}

func (r *dailyRepo) DeleteFromDate(ctx context.Context, strategyID int64, from time.Time) (int64, error) {
	var n int64
	err := r.acc.write(strategyID, func(s *snapshot) error {
		for key, rec := range s.daily[strategyID] {
			if !rec.Date.Before(from) {
				delete(s.daily[strategyID], key)
				n++
			}
		}
		return nil
	})
	return n, err
}

func (r *dailyRepo) StrategyIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	r.acc.read(func(s *snapshot) {
		for id, rows := range s.daily {
			if len(rows) > 0 {
				ids = append(ids, id)
			}
		}
	})
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}
