package stats

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wonny/stratstats/internal/contracts"
	"github.com/wonny/stratstats/internal/metrics"
	"github.com/wonny/stratstats/pkg/logger"
)

// Service is the statistics core: every write goes through here so that
// daily records and monthly aggregates change together.
// ⭐ SSOT: 일간/월간 통계 쓰기 경로는 이 서비스뿐
type Service struct {
	store      contracts.StatisticsStore
	directory  contracts.StrategyDirectory
	aggregator *Aggregator
	cascade    *Cascade
	locks      *strategyLocks

	validator contracts.RecordValidator
	cache     *MonthlyCache
	events    contracts.EventPublisher
	metrics   *metrics.Metrics
	log       *logger.Logger
}

// Option configures optional collaborators
type Option func(*Service)

// WithValidator applies field rules to single-record writes
func WithValidator(v contracts.RecordValidator) Option {
	return func(s *Service) { s.validator = v }
}

// WithCache enables the redis monthly read cache
func WithCache(c *MonthlyCache) Option {
	return func(s *Service) { s.cache = c }
}

// WithEvents publishes change notifications after commit
func WithEvents(p contracts.EventPublisher) Option {
	return func(s *Service) { s.events = p }
}

// WithMetrics records operation metrics
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService creates the statistics service
func NewService(
	store contracts.StatisticsStore,
	directory contracts.StrategyDirectory,
	baseline decimal.Decimal,
	log *logger.Logger,
	opts ...Option,
) *Service {
	s := &Service{
		store:      store,
		directory:  directory,
		aggregator: NewAggregator(baseline),
		locks:      newStrategyLocks(),
		log:        log.Component("stats.service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cascade = NewCascade(s.aggregator, s.metrics)
	return s
}

// Baseline returns the starting reference price used by the chain
func (s *Service) Baseline() decimal.Decimal {
	return s.aggregator.Baseline()
}

// Authorize resolves the strategy and enforces the owner rule for trader submissions
func (s *Service) Authorize(ctx context.Context, strategyID int64, submitter contracts.Submitter) (*contracts.StrategyRef, error) {
	ref, err := s.directory.Lookup(ctx, strategyID)
	if err != nil {
		if errors.Is(err, contracts.ErrNotFound) {
			return nil, contracts.NewError(contracts.KindStrategyNotFound, "strategy %d not found", strategyID)
		}
		return nil, fmt.Errorf("failed to look up strategy %d: %w", strategyID, err)
	}

	if submitter.RequireOwner && ref.OwnerID != submitter.MemberID {
		return nil, contracts.NewError(contracts.KindAccessDenied,
			"member %q is not the owner of strategy %d", submitter.MemberID, strategyID)
	}

	return ref, nil
}

// UpsertDailyRecord creates or replaces one day's figures and brings the monthly chain up to date
func (s *Service) UpsertDailyRecord(ctx context.Context, strategyID int64, input contracts.DailyRecord, submitter contracts.Submitter) (rec *contracts.DailyRecord, err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveOperation("upsert_daily", start, err) }()

	if input.Date.IsZero() {
		return nil, contracts.NewError(contracts.KindInvalidArgument, "date is required")
	}

	candidate := &contracts.DailyRecord{
		StrategyID:      strategyID,
		Date:            contracts.NormalizeDate(input.Date),
		DepWdAmount:     contracts.NormalizeAmount(input.DepWdAmount),
		DailyProfitLoss: contracts.NormalizeAmount(input.DailyProfitLoss),
	}

	if _, err := s.Authorize(ctx, strategyID, submitter); err != nil {
		return nil, err
	}

	if s.validator != nil {
		if problems := s.validator.ValidateRecords([]*contracts.DailyRecord{candidate}, nil); len(problems) > 0 {
			return nil, contracts.NewBatchError(problems)
		}
	}

	stored, result, err := s.applyRecords(ctx, strategyID, []*contracts.DailyRecord{candidate})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(map[string]interface{}{
		"strategy_id": strategyID,
		"date":        candidate.Date.Format(contracts.DateLayout),
		"months":      len(result.Recomputed),
	}).Info("daily record saved")

	return stored[0], nil
}

// ApplyBatch persists already-validated records and recomputes from the
// earliest affected month, all in one transaction. Records come back in input order.
func (s *Service) ApplyBatch(ctx context.Context, strategyID int64, records []*contracts.DailyRecord) (stored []*contracts.DailyRecord, err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveOperation("apply_batch", start, err) }()

	if len(records) == 0 {
		return nil, contracts.NewError(contracts.KindEmptyBatch, "batch contains no rows")
	}

	normalized := make([]*contracts.DailyRecord, len(records))
	for i, rec := range records {
		normalized[i] = &contracts.DailyRecord{
			StrategyID:      strategyID,
			Date:            contracts.NormalizeDate(rec.Date),
			DepWdAmount:     contracts.NormalizeAmount(rec.DepWdAmount),
			DailyProfitLoss: contracts.NormalizeAmount(rec.DailyProfitLoss),
		}
	}

	stored, result, err := s.applyRecords(ctx, strategyID, normalized)
	if err != nil {
		return nil, err
	}

	s.log.WithFields(map[string]interface{}{
		"strategy_id": strategyID,
		"rows":        len(stored),
		"months":      len(result.Recomputed),
		"duration":    time.Since(start).String(),
	}).Info("batch applied")

	return stored, nil
}

// applyRecords upserts every record first, then cascades once from the earliest month
func (s *Service) applyRecords(ctx context.Context, strategyID int64, records []*contracts.DailyRecord) ([]*contracts.DailyRecord, *CascadeResult, error) {
	from := records[0].Month()
	for _, rec := range records[1:] {
		if rec.Month().Before(from) {
			from = rec.Month()
		}
	}

	unlock := s.locks.Lock(strategyID)
	defer unlock()

	stored := make([]*contracts.DailyRecord, 0, len(records))
	var result *CascadeResult

	err := s.store.WithinTx(ctx, strategyID, func(ctx context.Context, tx contracts.StatisticsTx) error {
		for _, rec := range records {
			saved, err := tx.Daily().Upsert(ctx, rec)
			if err != nil {
				return fmt.Errorf("failed to save daily record %s: %w", rec.Date.Format(contracts.DateLayout), err)
			}
			stored = append(stored, saved)
		}

		var err error
		result, err = s.cascade.Run(ctx, tx, strategyID, from)
		return err
	})
	if err != nil {
		s.log.WithError(err).WithField("strategy_id", strategyID).Error("statistics write rolled back")
		return nil, nil, err
	}

	s.afterCommit(ctx, contracts.StatisticsEvent{
		Type:       contracts.EventMonthlyRecomputed,
		StrategyID: strategyID,
		Months:     result.Months(),
		Records:    len(stored),
	})

	return stored, result, nil
}

// DeleteDailyRecord removes one day and recomputes the affected chain
func (s *Service) DeleteDailyRecord(ctx context.Context, strategyID int64, date time.Time, submitter contracts.Submitter) error {
	return s.DeleteDailyRecords(ctx, strategyID, []time.Time{date}, submitter)
}

// DeleteDailyRecords removes several days atomically; a missing date aborts the whole request
func (s *Service) DeleteDailyRecords(ctx context.Context, strategyID int64, dates []time.Time, submitter contracts.Submitter) (err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveOperation("delete_daily", start, err) }()

	if len(dates) == 0 {
		return contracts.NewError(contracts.KindInvalidArgument, "no dates given")
	}
	if _, err := s.Authorize(ctx, strategyID, submitter); err != nil {
		return err
	}

	normalized := make([]time.Time, len(dates))
	for i, d := range dates {
		normalized[i] = contracts.NormalizeDate(d)
	}
	sort.Slice(normalized, func(i, j int) bool { return normalized[i].Before(normalized[j]) })

	unlock := s.locks.Lock(strategyID)
	defer unlock()

	var result *CascadeResult
	err = s.store.WithinTx(ctx, strategyID, func(ctx context.Context, tx contracts.StatisticsTx) error {
		for _, d := range normalized {
			if err := tx.Daily().Delete(ctx, strategyID, d); err != nil {
				if errors.Is(err, contracts.ErrNotFound) {
					return contracts.NewError(contracts.KindRecordNotFound,
						"no daily record for strategy %d on %s", strategyID, d.Format(contracts.DateLayout))
				}
				return fmt.Errorf("failed to delete daily record: %w", err)
			}
		}

		var err error
		result, err = s.cascade.Run(ctx, tx, strategyID, contracts.MonthOf(normalized[0]))
		return err
	})
	if err != nil {
		return err
	}

	s.afterCommit(ctx, contracts.StatisticsEvent{
		Type:       contracts.EventMonthlyRecomputed,
		StrategyID: strategyID,
		Months:     result.Months(),
		Records:    len(normalized),
	})

	s.log.WithFields(map[string]interface{}{
		"strategy_id": strategyID,
		"deleted":     len(normalized),
		"months":      len(result.Months()),
	}).Info("daily records deleted")

	return nil
}

// PurgeResult reports how many rows a history deletion removed
type PurgeResult struct {
	DailyDeleted   int64 `json:"dailyDeleted"`
	MonthlyDeleted int64 `json:"monthlyDeleted"`
}

// DeleteStrategyHistory drops every daily record and aggregate of a strategy.
// It is also the handler of the strategy-deletion notification.
func (s *Service) DeleteStrategyHistory(ctx context.Context, strategyID int64) (res *PurgeResult, err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveOperation("delete_strategy_history", start, err) }()

	unlock := s.locks.Lock(strategyID)
	defer unlock()

	res = &PurgeResult{}
	err = s.store.WithinTx(ctx, strategyID, func(ctx context.Context, tx contracts.StatisticsTx) error {
		var err error
		if res.DailyDeleted, err = tx.Daily().DeleteByStrategy(ctx, strategyID); err != nil {
			return fmt.Errorf("failed to delete daily records: %w", err)
		}
		if res.MonthlyDeleted, err = tx.Monthly().DeleteByStrategy(ctx, strategyID); err != nil {
			return fmt.Errorf("failed to delete monthly aggregates: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.afterCommit(ctx, contracts.StatisticsEvent{Type: contracts.EventHistoryDeleted, StrategyID: strategyID})

	s.log.WithFields(map[string]interface{}{
		"strategy_id":     strategyID,
		"daily_deleted":   res.DailyDeleted,
		"monthly_deleted": res.MonthlyDeleted,
	}).Info("strategy history deleted")

	return res, nil
}

// DeleteHistoryFromMonth rolls a strategy back to before month: daily records
// dated on/after its first day and aggregates >= month go, earlier months stay.
func (s *Service) DeleteHistoryFromMonth(ctx context.Context, strategyID int64, month contracts.Month) (res *PurgeResult, err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveOperation("delete_history_from_month", start, err) }()

	if month.IsZero() {
		return nil, contracts.NewError(contracts.KindInvalidArgument, "month is required")
	}

	unlock := s.locks.Lock(strategyID)
	defer unlock()

	res = &PurgeResult{}
	err = s.store.WithinTx(ctx, strategyID, func(ctx context.Context, tx contracts.StatisticsTx) error {
		var err error
		if res.DailyDeleted, err = tx.Daily().DeleteFromDate(ctx, strategyID, month.FirstDay()); err != nil {
			return fmt.Errorf("failed to delete daily records: %w", err)
		}
		if res.MonthlyDeleted, err = tx.Monthly().DeleteFromMonth(ctx, strategyID, month); err != nil {
			return fmt.Errorf("failed to delete monthly aggregates: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.afterCommit(ctx, contracts.StatisticsEvent{
		Type:       contracts.EventHistoryDeleted,
		StrategyID: strategyID,
		FromMonth:  month.String(),
	})

	s.log.WithFields(map[string]interface{}{
		"strategy_id":     strategyID,
		"from_month":      month.String(),
		"daily_deleted":   res.DailyDeleted,
		"monthly_deleted": res.MonthlyDeleted,
	}).Info("strategy history rolled back")

	return res, nil
}

// GetMonthlyPage returns aggregates newest month first
func (s *Service) GetMonthlyPage(ctx context.Context, strategyID int64, page, pageSize int) (*contracts.MonthlyPage, error) {
	if page < 1 {
		return nil, contracts.NewError(contracts.KindInvalidArgument, "page must be >= 1")
	}
	if pageSize < 1 || pageSize > contracts.MaxPageSize {
		return nil, contracts.NewError(contracts.KindInvalidArgument, "pageSize must be between 1 and %d", contracts.MaxPageSize)
	}

	cached, gen, ok := s.cache.GetPage(ctx, strategyID, page, pageSize)
	if ok {
		return cached, nil
	}

	result, err := s.store.Monthly().Page(ctx, strategyID, page, pageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to load monthly page: %w", err)
	}

	s.cache.PutPage(ctx, gen, result)
	return result, nil
}

// GetMonth returns one aggregate
func (s *Service) GetMonth(ctx context.Context, strategyID int64, month contracts.Month) (*contracts.MonthlyAggregate, error) {
	cached, gen, ok := s.cache.GetMonth(ctx, strategyID, month)
	if ok {
		return cached, nil
	}

	agg, err := s.store.Monthly().Get(ctx, strategyID, month)
	if err != nil {
		if errors.Is(err, contracts.ErrNotFound) {
			return nil, contracts.NewError(contracts.KindAggregateNotFound,
				"no monthly statistics for strategy %d in %s", strategyID, month)
		}
		return nil, fmt.Errorf("failed to load monthly aggregate: %w", err)
	}

	s.cache.PutMonth(ctx, gen, agg)
	return agg, nil
}

// ListMonthly returns every aggregate of the strategy, oldest first (export)
func (s *Service) ListMonthly(ctx context.Context, strategyID int64) ([]*contracts.MonthlyAggregate, error) {
	list, err := s.store.Monthly().List(ctx, strategyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list monthly aggregates: %w", err)
	}
	return list, nil
}

// ListDailyRecords returns daily records in [from, to]; zero bounds are open
func (s *Service) ListDailyRecords(ctx context.Context, strategyID int64, from, to time.Time) ([]*contracts.DailyRecord, error) {
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return nil, contracts.NewError(contracts.KindInvalidArgument, "from must not be after to")
	}

	if !from.IsZero() {
		from = contracts.NormalizeDate(from)
	}
	if !to.IsZero() {
		to = contracts.NormalizeDate(to)
	}

	records, err := s.store.Daily().ListRange(ctx, strategyID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list daily records: %w", err)
	}
	return records, nil
}

// afterCommit drops cached reads and notifies subscribers
func (s *Service) afterCommit(ctx context.Context, event contracts.StatisticsEvent) {
	s.cache.Invalidate(ctx, event.StrategyID)
	if s.events != nil {
		s.events.Publish(event)
	}
}
