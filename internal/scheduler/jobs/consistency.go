package jobs

import (
	"context"
	"fmt"

	"github.com/wonny/stratstats/internal/contracts"
	"github.com/wonny/stratstats/internal/stats"
	"github.com/wonny/stratstats/pkg/logger"
)

// DefaultConsistencySchedule runs the audit daily at 03:30 (with seconds)
const DefaultConsistencySchedule = "0 30 3 * * *"

// Auditor verifies and repairs monthly chains
type Auditor interface {
	VerifyAll(ctx context.Context) ([]*stats.VerifyReport, error)
	Rebuild(ctx context.Context, strategyID int64) ([]*contracts.MonthlyAggregate, error)
}

// ConsistencyJob recomputes every strategy's chain and compares it with stored aggregates.
// With auto-repair on, inconsistent strategies are rebuilt.
// ⭐ SSOT: 월간 통계 정합성 점검 스케줄은 이 Job에서만
type ConsistencyJob struct {
	auditor    Auditor
	schedule   string
	autoRepair bool
	logger     *logger.Logger

	// last run summary
	lastChecked      int
	lastInconsistent []int64
	lastRepaired     []int64
}

// NewConsistencyJob creates a new consistency job
func NewConsistencyJob(auditor Auditor, schedule string, autoRepair bool, log *logger.Logger) *ConsistencyJob {
	if schedule == "" {
		schedule = DefaultConsistencySchedule
	}
	return &ConsistencyJob{
		auditor:    auditor,
		schedule:   schedule,
		autoRepair: autoRepair,
		logger:     log,
	}
}

// Name returns the job name
func (j *ConsistencyJob) Name() string {
	return "monthly_consistency"
}

// Schedule returns the cron schedule
func (j *ConsistencyJob) Schedule() string {
	return j.schedule
}

// Run executes the audit
func (j *ConsistencyJob) Run(ctx context.Context) error {
	j.logger.Info("Starting scheduled monthly consistency check")

	reports, err := j.auditor.VerifyAll(ctx)
	if err != nil {
		return fmt.Errorf("consistency check failed: %w", err)
	}

	j.lastChecked = len(reports)
	j.lastInconsistent = nil
	j.lastRepaired = nil

	for _, report := range reports {
		if report.Consistent() {
			continue
		}
		j.lastInconsistent = append(j.lastInconsistent, report.StrategyID)

		if !j.autoRepair {
			continue
		}
		if _, err := j.auditor.Rebuild(ctx, report.StrategyID); err != nil {
			return fmt.Errorf("rebuild strategy %d: %w", report.StrategyID, err)
		}
		j.lastRepaired = append(j.lastRepaired, report.StrategyID)
	}

	j.logger.WithFields(map[string]interface{}{
		"strategies":   j.lastChecked,
		"inconsistent": len(j.lastInconsistent),
		"repaired":     len(j.lastRepaired),
	}).Info("Monthly consistency check completed")

	return nil
}

// LastRun returns the strategies checked, found inconsistent and repaired by the latest run
func (j *ConsistencyJob) LastRun() (checked int, inconsistent, repaired []int64) {
	return j.lastChecked, j.lastInconsistent, j.lastRepaired
}
