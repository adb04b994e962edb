package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/wonny/stratstats/internal/contracts"
)

const monthlyColumns = `strategy_id, analysis_month, average_principal, net_flow, monthly_profit_loss,
	monthly_return, cumulative_profit_loss, cumulative_return, closing_principal,
	closing_reference_price, trading_days, updated_at`

// monthlyRepo implements contracts.MonthlyAggregateRepository
type monthlyRepo struct {
	q querier
}

func scanMonthly(row pgx.Row) (*contracts.MonthlyAggregate, error) {
	var (
		agg   contracts.MonthlyAggregate
		month string
	)
	err := row.Scan(
		&agg.StrategyID, &month, &agg.AveragePrincipal, &agg.NetFlow, &agg.MonthlyProfitLoss,
		&agg.MonthlyReturn, &agg.CumulativeProfitLoss, &agg.CumulativeReturn, &agg.ClosingPrincipal,
		&agg.ClosingReferencePrice, &agg.TradingDays, &agg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if agg.AnalysisMonth, err = contracts.ParseMonth(month); err != nil {
		return nil, err
	}
	return &agg, nil
}

func (r *monthlyRepo) list(ctx context.Context, query string, args ...any) ([]*contracts.MonthlyAggregate, error) {
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var aggs []*contracts.MonthlyAggregate
	for rows.Next() {
		agg, err := scanMonthly(rows)
		if err != nil {
			return nil, err
		}
		aggs = append(aggs, agg)
	}
	return aggs, rows.Err()
}

func (r *monthlyRepo) Get(ctx context.Context, strategyID int64, month contracts.Month) (*contracts.MonthlyAggregate, error) {
	query := `
		SELECT ` + monthlyColumns + `
		FROM stats.monthly_statistics
		WHERE strategy_id = $1 AND analysis_month = $2`

	agg, err := scanMonthly(r.q.QueryRow(ctx, query, strategyID, month.String()))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, contracts.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get monthly aggregate: %w", err)
	}
	return agg, nil
}

// Previous returns the closest earlier month; gaps are skipped
func (r *monthlyRepo) Previous(ctx context.Context, strategyID int64, month contracts.Month) (*contracts.MonthlyAggregate, error) {
	query := `
		SELECT ` + monthlyColumns + `
		FROM stats.monthly_statistics
		WHERE strategy_id = $1 AND analysis_month < $2
		ORDER BY analysis_month DESC
		LIMIT 1`

	agg, err := scanMonthly(r.q.QueryRow(ctx, query, strategyID, month.String()))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, contracts.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get previous aggregate: %w", err)
	}
	return agg, nil
}

func (r *monthlyRepo) MonthsFrom(ctx context.Context, strategyID int64, from contracts.Month) ([]contracts.Month, error) {
	query := `
		SELECT analysis_month
		FROM stats.monthly_statistics
		WHERE strategy_id = $1 AND analysis_month >= $2
		ORDER BY analysis_month ASC`

	rows, err := r.q.Query(ctx, query, strategyID, from.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list aggregate months: %w", err)
	}
	months, err := collectMonths(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan aggregate months: %w", err)
	}
	return months, nil
}

func (r *monthlyRepo) Upsert(ctx context.Context, agg *contracts.MonthlyAggregate) error {
	query := `
		INSERT INTO stats.monthly_statistics (` + monthlyColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now())
		ON CONFLICT (strategy_id, analysis_month)
		DO UPDATE SET
			average_principal = EXCLUDED.average_principal,
			net_flow = EXCLUDED.net_flow,
			monthly_profit_loss = EXCLUDED.monthly_profit_loss,
			monthly_return = EXCLUDED.monthly_return,
			cumulative_profit_loss = EXCLUDED.cumulative_profit_loss,
			cumulative_return = EXCLUDED.cumulative_return,
			closing_principal = EXCLUDED.closing_principal,
			closing_reference_price = EXCLUDED.closing_reference_price,
			trading_days = EXCLUDED.trading_days,
			updated_at = now()`

	_, err := r.q.Exec(ctx, query,
		agg.StrategyID, agg.AnalysisMonth.String(), agg.AveragePrincipal, agg.NetFlow, agg.MonthlyProfitLoss,
		agg.MonthlyReturn, agg.CumulativeProfitLoss, agg.CumulativeReturn, agg.ClosingPrincipal,
		agg.ClosingReferencePrice, agg.TradingDays,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert monthly aggregate %s: %w", agg.AnalysisMonth, err)
	}
	return nil
}

func (r *monthlyRepo) Delete(ctx context.Context, strategyID int64, month contracts.Month) error {
	_, err := r.q.Exec(ctx,
		`DELETE FROM stats.monthly_statistics WHERE strategy_id = $1 AND analysis_month = $2`,
		strategyID, month.String())
	if err != nil {
		return fmt.Errorf("failed to delete monthly aggregate: %w", err)
	}
	return nil
}

func (r *monthlyRepo) Page(ctx context.Context, strategyID int64, page, pageSize int) (*contracts.MonthlyPage, error) {
	if page < 1 || pageSize < 1 {
		return nil, contracts.NewError(contracts.KindInvalidArgument, "page and pageSize must be positive")
	}

	result := &contracts.MonthlyPage{Page: page, PageSize: pageSize, Items: []*contracts.MonthlyAggregate{}}
	err := r.q.QueryRow(ctx,
		`SELECT count(*) FROM stats.monthly_statistics WHERE strategy_id = $1`, strategyID,
	).Scan(&result.TotalCount)
	if err != nil {
		return nil, fmt.Errorf("failed to count monthly aggregates: %w", err)
	}

	query := `
		SELECT ` + monthlyColumns + `
		FROM stats.monthly_statistics
		WHERE strategy_id = $1
		ORDER BY analysis_month DESC
		LIMIT $2 OFFSET $3`

	items, err := r.list(ctx, query, strategyID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to load monthly page: %w", err)
	}
	if items != nil {
		result.Items = items
	}
	return result, nil
}

func (r *monthlyRepo) List(ctx context.Context, strategyID int64) ([]*contracts.MonthlyAggregate, error) {
	query := `
		SELECT ` + monthlyColumns + `
		FROM stats.monthly_statistics
		WHERE strategy_id = $1
		ORDER BY analysis_month ASC`

	aggs, err := r.list(ctx, query, strategyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list monthly aggregates: %w", err)
	}
	return aggs, nil
}

func (r *monthlyRepo) DeleteByStrategy(ctx context.Context, strategyID int64) (int64, error) {
	tag, err := r.q.Exec(ctx, `DELETE FROM stats.monthly_statistics WHERE strategy_id = $1`, strategyID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete monthly aggregates: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *monthlyRepo) DeleteFromMonth(ctx context.Context, strategyID int64, from contracts.Month) (int64, error) {
	tag, err := r.q.Exec(ctx,
		`DELETE FROM stats.monthly_statistics WHERE strategy_id = $1 AND analysis_month >= $2`,
		strategyID, from.String())
	if err != nil {
		return 0, fmt.Errorf("failed to delete monthly aggregates: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *monthlyRepo) StrategyIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.q.Query(ctx, `SELECT DISTINCT strategy_id FROM stats.monthly_statistics ORDER BY strategy_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list strategies: %w", err)
	}
	return collectIDs(rows)
}
