package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/stratstats/internal/contracts"
)

// querier is the part of pgxpool.Pool and pgx.Tx the repositories use
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements contracts.StatisticsStore on PostgreSQL
// ⭐ SSOT: 통계 테이블 SQL은 이 패키지에서만
type Store struct {
	pool *pgxpool.Pool
}

// New creates a PostgreSQL statistics store
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Daily returns the daily repository outside any transaction
func (s *Store) Daily() contracts.DailyRecordRepository {
	return &dailyRepo{q: s.pool}
}

// Monthly returns the monthly repository outside any transaction
func (s *Store) Monthly() contracts.MonthlyAggregateRepository {
	return &monthlyRepo{q: s.pool}
}

type txView struct {
	tx pgx.Tx
}

func (v *txView) Daily() contracts.DailyRecordRepository {
	return &dailyRepo{q: v.tx}
}

func (v *txView) Monthly() contracts.MonthlyAggregateRepository {
	return &monthlyRepo{q: v.tx}
}

// WithinTx runs fn in one transaction. The strategy's advisory lock is held
// until commit or rollback, so writers on other instances queue behind it.
func (s *Store) WithinTx(ctx context.Context, strategyID int64, fn func(ctx context.Context, tx contracts.StatisticsTx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, strategyID); err != nil {
		return fmt.Errorf("failed to lock strategy %d: %w", strategyID, err)
	}

	if err := fn(ctx, &txView{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// collectMonths scans a single 'YYYY-MM' text column
func collectMonths(rows pgx.Rows) ([]contracts.Month, error) {
	defer rows.Close()

	var months []contracts.Month
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		m, err := contracts.ParseMonth(key)
		if err != nil {
			return nil, err
		}
		months = append(months, m)
	}
	return months, rows.Err()
}

// collectIDs scans a single bigint column
func collectIDs(rows pgx.Rows) ([]int64, error) {
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
