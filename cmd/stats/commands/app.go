package commands

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/wonny/stratstats/internal/contracts"
	"github.com/wonny/stratstats/internal/directory"
	"github.com/wonny/stratstats/internal/events"
	"github.com/wonny/stratstats/internal/ingest"
	"github.com/wonny/stratstats/internal/metrics"
	"github.com/wonny/stratstats/internal/stats"
	"github.com/wonny/stratstats/internal/store/memory"
	"github.com/wonny/stratstats/internal/store/postgres"
	"github.com/wonny/stratstats/pkg/config"
	"github.com/wonny/stratstats/pkg/database"
	"github.com/wonny/stratstats/pkg/httputil"
	"github.com/wonny/stratstats/pkg/logger"
	"github.com/wonny/stratstats/pkg/redis"
)

// redisPrefix namespaces every key this service writes
const redisPrefix = "stratstats"

// app holds the wired components shared by every command
type app struct {
	cfg      *config.Config
	log      *logger.Logger
	db       *database.DB
	redis    *redis.Client
	metrics  *metrics.Metrics
	hub      *events.Hub
	rules    *ingest.Rules
	service  *stats.Service
	importer *ingest.Importer
}

// loadConfig reads configuration, applying global flag overrides
func loadConfig() (*config.Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if storeMode != "" {
		cfg.Stats.Store = storeMode
	}
	if verbose {
		cfg.LogLevel = "debug"
	}
	return cfg, nil
}

// newApp connects infrastructure and builds the statistics service
// ⭐ SSOT: 컴포넌트 조립은 여기서만
func newApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:     cfg,
		log:     logger.New(cfg),
		metrics: metrics.New(),
	}

	if cfg.NeedsDatabase() {
		if cfg.Database.AutoMigrate {
			if err := a.migrate(); err != nil {
				return nil, err
			}
		}
		if a.db, err = database.Connect(ctx, cfg.Database); err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		a.log.Info("Connected to database")
	}

	if a.redis, err = redis.New(cfg); err != nil {
		a.close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	if a.rules, err = ingest.LoadRules(cfg.Import.RulesFile); err != nil {
		a.close()
		return nil, fmt.Errorf("load import rules: %w", err)
	}

	dir, err := a.directory()
	if err != nil {
		a.close()
		return nil, err
	}

	var store contracts.StatisticsStore
	switch cfg.Stats.Store {
	case config.StoreMemory:
		store = memory.New()
	default:
		store = postgres.New(a.db.Pool)
	}

	validator := ingest.NewFieldValidator(a.rules)
	a.hub = events.NewHub(a.log, a.metrics)
	a.service = stats.NewService(store, dir, cfg.Stats.BaselinePrice, a.log,
		stats.WithValidator(validator),
		stats.WithCache(stats.NewMonthlyCache(redis.NewCache(a.redis, redisPrefix), cfg.Stats.CacheTTL, a.log)),
		stats.WithEvents(a.hub),
		stats.WithMetrics(a.metrics),
	)
	a.importer = ingest.NewImporter(a.service, validator, a.metrics, a.log)

	a.log.WithFields(map[string]interface{}{
		"store":      cfg.Stats.Store,
		"directory":  cfg.Directory.Mode,
		"redis":      a.redis.Enabled(),
		"rules_hash": a.rules.Hash(),
		"baseline":   cfg.Stats.BaselinePrice.String(),
	}).Info("Statistics service ready")

	return a, nil
}

// directory builds the strategy directory for the configured mode, cached in-process
func (a *app) directory() (contracts.StrategyDirectory, error) {
	cfg := a.cfg.Directory

	switch cfg.Mode {
	case config.DirectoryHTTP:
		client := httputil.New(a.log, cfg.Timeout).
			WithRateLimiter(redis.NewRateLimiter(a.redis, redisPrefix), redis.DirectoryRateLimit)
		return directory.NewCached(directory.NewHTTP(client, cfg.BaseURL), cfg.CacheTTL), nil

	case config.DirectoryMemory:
		mem := directory.NewMemory()
		for _, entry := range strategies {
			id, owner, err := parseStrategyFlag(entry)
			if err != nil {
				return nil, err
			}
			mem.Register(id, owner)
		}
		return mem, nil

	default:
		return directory.NewCached(directory.NewPostgres(a.db.Pool), cfg.CacheTTL), nil
	}
}

// parseStrategyFlag parses "id=owner"
func parseStrategyFlag(entry string) (int64, string, error) {
	idStr, owner, ok := strings.Cut(entry, "=")
	if !ok || owner == "" {
		return 0, "", fmt.Errorf("invalid --strategy %q (expected id=owner)", entry)
	}
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id <= 0 {
		return 0, "", fmt.Errorf("invalid --strategy id %q", idStr)
	}
	return id, owner, nil
}

func (a *app) migrate() error {
	result, err := postgres.Migrate(a.cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	a.log.WithFields(map[string]interface{}{
		"version": result.Version,
		"applied": result.Applied,
	}).Info("Database schema up to date")
	return nil
}

func (a *app) close() {
	if a.hub != nil {
		a.hub.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.WithError(err).Warn("Failed to close redis")
		}
	}
	if a.db != nil {
		a.db.Close()
	}
}

// submitterFor builds a submitter; an empty member id means an operator run
func submitterFor(memberID string) contracts.Submitter {
	if memberID == "" {
		return contracts.Submitter{MemberID: "cli"}
	}
	return contracts.Submitter{MemberID: memberID, RequireOwner: true}
}
