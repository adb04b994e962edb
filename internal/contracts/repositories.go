package contracts

import (
	"context"
	"time"
)

// ⭐ SSOT: Repository 인터페이스 정의는 여기서만

// MaxPageSize is the largest accepted monthly page size
const MaxPageSize = 100

// DailyRecordRepository manages daily statistics rows
type DailyRecordRepository interface {
	// Upsert inserts or replaces the record for (strategy, date) and returns the stored row
	Upsert(ctx context.Context, rec *DailyRecord) (*DailyRecord, error)
	Get(ctx context.Context, strategyID int64, date time.Time) (*DailyRecord, error)
	// Delete returns ErrNotFound when no record exists for the date
	Delete(ctx context.Context, strategyID int64, date time.Time) error
	ListByMonth(ctx context.Context, strategyID int64, month Month) ([]*DailyRecord, error)
	// ListRange returns records with from <= date <= to, ascending; a zero bound is open
	ListRange(ctx context.Context, strategyID int64, from, to time.Time) ([]*DailyRecord, error)
	// MonthsFrom returns the distinct months >= from that have at least one record, ascending
	MonthsFrom(ctx context.Context, strategyID int64, from Month) ([]Month, error)
	DeleteByStrategy(ctx context.Context, strategyID int64) (int64, error)
	DeleteFromDate(ctx context.Context, strategyID int64, from time.Time) (int64, error)
	StrategyIDs(ctx context.Context) ([]int64, error)
}

// MonthlyAggregateRepository manages derived monthly statistics
type MonthlyAggregateRepository interface {
	Get(ctx context.Context, strategyID int64, month Month) (*MonthlyAggregate, error)
	// Previous returns the closest aggregate strictly before month
	Previous(ctx context.Context, strategyID int64, month Month) (*MonthlyAggregate, error)
	MonthsFrom(ctx context.Context, strategyID int64, from Month) ([]Month, error)
	Upsert(ctx context.Context, agg *MonthlyAggregate) error
	// Delete is a no-op when the aggregate does not exist
	Delete(ctx context.Context, strategyID int64, month Month) error
	// Page returns aggregates newest month first; page starts at 1
	Page(ctx context.Context, strategyID int64, page, pageSize int) (*MonthlyPage, error)
	// List returns every aggregate of the strategy, oldest month first
	List(ctx context.Context, strategyID int64) ([]*MonthlyAggregate, error)
	DeleteByStrategy(ctx context.Context, strategyID int64) (int64, error)
	DeleteFromMonth(ctx context.Context, strategyID int64, from Month) (int64, error)
	StrategyIDs(ctx context.Context) ([]int64, error)
}

// StatisticsTx is the repository view inside (or outside) a transaction
type StatisticsTx interface {
	Daily() DailyRecordRepository
	Monthly() MonthlyAggregateRepository
}

// StatisticsStore is a transactional statistics persistence engine
type StatisticsStore interface {
	StatisticsTx

	// WithinTx runs fn in one transaction holding the strategy's write lock.
	// Returning an error rolls everything back.
	WithinTx(ctx context.Context, strategyID int64, fn func(ctx context.Context, tx StatisticsTx) error) error
}
