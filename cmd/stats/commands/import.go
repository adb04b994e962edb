package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/stratstats/internal/contracts"
	"github.com/wonny/stratstats/internal/ingest"
)

// importCmd represents the import command
var importCmd = &cobra.Command{
	Use:   "import [file]",
	Short: "일간 통계 파일 업로드",
	Long: `일간 통계 스프레드시트(.xlsx 단일 시트 또는 .csv)를 업로드합니다.

파일 형식:
  1행: 헤더 (date, depWdAmount, dailyProfitLoss)
  2행~: YYYY-MM-DD, 입출금, 일손익 (최대 2000행)

모든 행이 유효할 때만 저장되며, 문제가 있으면 행 번호와 함께 전부 출력합니다.
--member 를 주면 해당 회원이 전략 소유자인지 확인합니다.

Example:
  go run ./cmd/stats import --strategy-id 1 daily.xlsx
  go run ./cmd/stats import --strategy-id 1 --member trader-1 daily.csv
  go run ./cmd/stats import --strategy-id 1 --dry-run daily.csv`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

var (
	importStrategyID int64
	importMember     string
	importDryRun     bool
)

func init() {
	rootCmd.AddCommand(importCmd)

	importCmd.Flags().Int64Var(&importStrategyID, "strategy-id", 0, "전략 ID (필수)")
	importCmd.Flags().StringVar(&importMember, "member", "", "제출 회원 ID (비우면 운영자 권한)")
	importCmd.Flags().BoolVar(&importDryRun, "dry-run", false, "검증만 하고 저장하지 않음")
	_ = importCmd.MarkFlagRequired("strategy-id")
}

func runImport(cmd *cobra.Command, args []string) error {
	path := args[0]

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	upload := ingest.Upload{Name: filepath.Base(path), Reader: f}

	if importDryRun {
		candidates, err := a.importer.Parse(upload)
		if err != nil {
			printDomainError(err)
			return err
		}
		fmt.Printf("✅ %d rows valid (dry run, nothing saved)\n", len(candidates))
		return nil
	}

	records, err := a.importer.ImportBatch(ctx, upload, importStrategyID, submitterFor(importMember))
	if err != nil {
		printDomainError(err)
		return err
	}

	fmt.Printf("✅ Imported %d daily records into strategy %d\n", len(records), importStrategyID)
	return nil
}

// printDomainError lists every offending row of a rejected batch
func printDomainError(err error) {
	kind := contracts.KindOf(err)
	if kind == "" {
		fmt.Printf("❌ %v\n", err)
		return
	}

	fmt.Printf("❌ %s: %v\n", kind, err)
	var de *contracts.Error
	if errors.As(err, &de) {
		for _, row := range de.Rows {
			fmt.Printf("   - %s [%s]\n", row.String(), row.Kind)
		}
	}
}
