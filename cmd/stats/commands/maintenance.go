package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/stratstats/internal/contracts"
	"github.com/wonny/stratstats/internal/stats"
)

// rebuildCmd represents the rebuild command
var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "월간 통계 재생성",
	Long: `일간 통계로부터 월간 통계 전체를 다시 계산합니다.

Example:
  go run ./cmd/stats rebuild --strategy-id 1
  go run ./cmd/stats rebuild --all`,
	RunE: runRebuild,
}

// verifyCmd represents the verify command
var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "월간 통계 정합성 점검",
	Long: `저장된 월간 통계를 전체 재계산 결과와 비교합니다.
불일치가 있으면 종료 코드 1을 반환합니다.

Example:
  go run ./cmd/stats verify --strategy-id 1
  go run ./cmd/stats verify --all`,
	RunE: runVerify,
}

// purgeCmd represents the purge command
var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "전략 통계 삭제",
	Long: `전략의 일간/월간 통계를 삭제합니다.
--from-month 를 주면 해당 월 이후만 삭제(롤백)합니다.

Example:
  go run ./cmd/stats purge --strategy-id 1
  go run ./cmd/stats purge --strategy-id 1 --from-month 2024-02`,
	RunE: runPurge,
}

var (
	maintStrategyID int64
	maintAll        bool
	purgeFromMonth  string
)

func init() {
	rootCmd.AddCommand(rebuildCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(purgeCmd)

	for _, c := range []*cobra.Command{rebuildCmd, verifyCmd} {
		c.Flags().Int64Var(&maintStrategyID, "strategy-id", 0, "전략 ID")
		c.Flags().BoolVar(&maintAll, "all", false, "모든 전략")
		c.MarkFlagsOneRequired("strategy-id", "all")
		c.MarkFlagsMutuallyExclusive("strategy-id", "all")
	}

	purgeCmd.Flags().Int64Var(&maintStrategyID, "strategy-id", 0, "전략 ID (필수)")
	purgeCmd.Flags().StringVar(&purgeFromMonth, "from-month", "", "이 월(YYYY-MM)부터 삭제")
	_ = purgeCmd.MarkFlagRequired("strategy-id")
}

func maintenanceApp() (*app, context.Context, context.CancelFunc, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	a, err := newApp(ctx)
	if err != nil {
		cancel()
		return nil, nil, nil, err
	}
	return a, ctx, cancel, nil
}

func targetStrategies(ctx context.Context, a *app) ([]int64, error) {
	if !maintAll {
		return []int64{maintStrategyID}, nil
	}
	return a.service.StrategyIDs(ctx)
}

func runRebuild(cmd *cobra.Command, args []string) error {
	a, ctx, cancel, err := maintenanceApp()
	if err != nil {
		return err
	}
	defer cancel()
	defer a.close()

	ids, err := targetStrategies(ctx, a)
	if err != nil {
		return err
	}

	for _, id := range ids {
		aggs, err := a.service.Rebuild(ctx, id)
		if err != nil {
			return fmt.Errorf("rebuild strategy %d: %w", id, err)
		}
		fmt.Printf("✅ strategy %d: %d months rebuilt\n", id, len(aggs))
	}
	return nil
}

func runVerify(cmd *cobra.Command, args []string) error {
	a, ctx, cancel, err := maintenanceApp()
	if err != nil {
		return err
	}
	defer cancel()
	defer a.close()

	var reports []*stats.VerifyReport
	if maintAll {
		if reports, err = a.service.VerifyAll(ctx); err != nil {
			return err
		}
	} else {
		report, err := a.service.Verify(ctx, maintStrategyID)
		if err != nil {
			return err
		}
		reports = append(reports, report)
	}

	inconsistent := 0
	for _, report := range reports {
		if report.Consistent() {
			fmt.Printf("✅ strategy %d: %d months consistent\n", report.StrategyID, report.Checked)
			continue
		}
		inconsistent++
		fmt.Printf("❌ strategy %d: %d mismatches\n", report.StrategyID, len(report.Mismatches))
		for _, m := range report.Mismatches {
			fmt.Printf("   - %s %s\n", m.Month, m.Reason)
		}
	}

	if inconsistent > 0 {
		return fmt.Errorf("%d of %d strategies inconsistent (run 'stats rebuild')", inconsistent, len(reports))
	}
	return nil
}

func runPurge(cmd *cobra.Command, args []string) error {
	a, ctx, cancel, err := maintenanceApp()
	if err != nil {
		return err
	}
	defer cancel()
	defer a.close()

	var res *stats.PurgeResult
	if purgeFromMonth != "" {
		month, err := contracts.ParseMonth(purgeFromMonth)
		if err != nil {
			return err
		}
		res, err = a.service.DeleteHistoryFromMonth(ctx, maintStrategyID, month)
		if err != nil {
			return err
		}
	} else {
		if res, err = a.service.DeleteStrategyHistory(ctx, maintStrategyID); err != nil {
			return err
		}
	}

	fmt.Printf("✅ strategy %d: %d daily records, %d monthly aggregates deleted\n",
		maintStrategyID, res.DailyDeleted, res.MonthlyDeleted)
	return nil
}
