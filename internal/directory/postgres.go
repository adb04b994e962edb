package directory

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/stratstats/internal/contracts"
)

// Postgres reads strategy ownership from the stats.strategies read model
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a PostgreSQL-backed directory
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Lookup implements contracts.StrategyDirectory
func (p *Postgres) Lookup(ctx context.Context, strategyID int64) (*contracts.StrategyRef, error) {
	query := `
		SELECT strategy_id, writer_id
		FROM stats.strategies
		WHERE strategy_id = $1`

	ref := &contracts.StrategyRef{}
	err := p.pool.QueryRow(ctx, query, strategyID).Scan(&ref.ID, &ref.OwnerID)
	if err == pgx.ErrNoRows {
		return nil, contracts.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query strategy: %w", err)
	}

	return ref, nil
}

// Register upserts a strategy row (sync from member management, CLI seeding)
func (p *Postgres) Register(ctx context.Context, strategyID int64, ownerID, title string) error {
	query := `
		INSERT INTO stats.strategies (strategy_id, writer_id, title)
		VALUES ($1, $2, $3)
		ON CONFLICT (strategy_id)
		DO UPDATE SET
			writer_id = EXCLUDED.writer_id,
			title = EXCLUDED.title`

	if _, err := p.pool.Exec(ctx, query, strategyID, ownerID, title); err != nil {
		return fmt.Errorf("failed to register strategy: %w", err)
	}
	return nil
}

// Remove deletes a strategy row
func (p *Postgres) Remove(ctx context.Context, strategyID int64) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM stats.strategies WHERE strategy_id = $1`, strategyID); err != nil {
		return fmt.Errorf("failed to remove strategy: %w", err)
	}
	return nil
}
