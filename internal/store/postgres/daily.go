package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/wonny/stratstats/internal/contracts"
)

const dailyColumns = `strategy_id, trade_date, dep_wd_amount, daily_profit_loss, created_at, updated_at`

// dailyRepo implements contracts.DailyRecordRepository
type dailyRepo struct {
	q querier
}

func scanDaily(row pgx.Row) (*contracts.DailyRecord, error) {
	var rec contracts.DailyRecord
	err := row.Scan(&rec.StrategyID, &rec.Date, &rec.DepWdAmount, &rec.DailyProfitLoss, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	rec.Date = contracts.NormalizeDate(rec.Date)
	return &rec, nil
}

func (r *dailyRepo) list(ctx context.Context, query string, args ...any) ([]*contracts.DailyRecord, error) {
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*contracts.DailyRecord
	for rows.Next() {
		rec, err := scanDaily(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Upsert inserts or replaces the (strategy, date) row; created_at survives replacement
func (r *dailyRepo) Upsert(ctx context.Context, rec *contracts.DailyRecord) (*contracts.DailyRecord, error) {
	query := `
		INSERT INTO stats.daily_statistics (strategy_id, trade_date, dep_wd_amount, daily_profit_loss)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (strategy_id, trade_date)
		DO UPDATE SET
			dep_wd_amount = EXCLUDED.dep_wd_amount,
			daily_profit_loss = EXCLUDED.daily_profit_loss,
			updated_at = now()
		RETURNING ` + dailyColumns

	saved, err := scanDaily(r.q.QueryRow(ctx, query,
		rec.StrategyID, contracts.NormalizeDate(rec.Date), rec.DepWdAmount, rec.DailyProfitLoss,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert daily record: %w", err)
	}
	return saved, nil
}

func (r *dailyRepo) Get(ctx context.Context, strategyID int64, date time.Time) (*contracts.DailyRecord, error) {
	query := `
		SELECT ` + dailyColumns + `
		FROM stats.daily_statistics
		WHERE strategy_id = $1 AND trade_date = $2`

	rec, err := scanDaily(r.q.QueryRow(ctx, query, strategyID, contracts.NormalizeDate(date)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, contracts.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get daily record: %w", err)
	}
	return rec, nil
}

func (r *dailyRepo) Delete(ctx context.Context, strategyID int64, date time.Time) error {
	tag, err := r.q.Exec(ctx,
		`DELETE FROM stats.daily_statistics WHERE strategy_id = $1 AND trade_date = $2`,
		strategyID, contracts.NormalizeDate(date))
	if err != nil {
		return fmt.Errorf("failed to delete daily record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return contracts.ErrNotFound
	}
	return nil
}

func (r *dailyRepo) ListByMonth(ctx context.Context, strategyID int64, month contracts.Month) ([]*contracts.DailyRecord, error) {
	query := `
		SELECT ` + dailyColumns + `
		FROM stats.daily_statistics
		WHERE strategy_id = $1 AND trade_date BETWEEN $2 AND $3
		ORDER BY trade_date ASC`

	records, err := r.list(ctx, query, strategyID, month.FirstDay(), month.LastDay())
	if err != nil {
		return nil, fmt.Errorf("failed to list daily records of %s: %w", month, err)
	}
	return records, nil
}

func (r *dailyRepo) ListRange(ctx context.Context, strategyID int64, from, to time.Time) ([]*contracts.DailyRecord, error) {
	query := `
		SELECT ` + dailyColumns + `
		FROM stats.daily_statistics
		WHERE strategy_id = $1
		  AND ($2::date IS NULL OR trade_date >= $2)
		  AND ($3::date IS NULL OR trade_date <= $3)
		ORDER BY trade_date ASC`

	records, err := r.list(ctx, query, strategyID, optionalDate(from), optionalDate(to))
	if err != nil {
		return nil, fmt.Errorf("failed to list daily records: %w", err)
	}
	return records, nil
}

func (r *dailyRepo) MonthsFrom(ctx context.Context, strategyID int64, from contracts.Month) ([]contracts.Month, error) {
	query := `
		SELECT DISTINCT to_char(trade_date, 'YYYY-MM') AS month
		FROM stats.daily_statistics
		WHERE strategy_id = $1 AND trade_date >= $2
		ORDER BY month ASC`

	rows, err := r.q.Query(ctx, query, strategyID, from.FirstDay())
	if err != nil {
		return nil, fmt.Errorf("failed to list record months: %w", err)
	}
	months, err := collectMonths(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan record months: %w", err)
	}
	return months, nil
}

func (r *dailyRepo) DeleteByStrategy(ctx context.Context, strategyID int64) (int64, error) {
	tag, err := r.q.Exec(ctx, `DELETE FROM stats.daily_statistics WHERE strategy_id = $1`, strategyID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete daily records: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *dailyRepo) DeleteFromDate(ctx context.Context, strategyID int64, from time.Time) (int64, error) {
	tag, err := r.q.Exec(ctx,
		`DELETE FROM stats.daily_statistics WHERE strategy_id = $1 AND trade_date >= $2`,
		strategyID, contracts.NormalizeDate(from))
	if err != nil {
		return 0, fmt.Errorf("failed to delete daily records: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *dailyRepo) StrategyIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.q.Query(ctx, `SELECT DISTINCT strategy_id FROM stats.daily_statistics ORDER BY strategy_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list strategies: %w", err)
	}
	return collectIDs(rows)
}

// optionalDate maps the zero time to SQL NULL
func optionalDate(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	d := contracts.NormalizeDate(t)
	return &d
}
