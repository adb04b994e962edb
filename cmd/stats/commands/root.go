package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Global flags
	envFile    string
	storeMode  string
	strategies []string
	verbose    bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "stats",
	Short: "전략 통계 수집 및 월간 집계 서비스",
	Long: `Strategy Statistics CLI

트레이더가 제출한 일간 통계(입출금, 일손익)를 저장하고
월간 통계(평균 원금, 월손익률, 누적 손익/수익률)를 연쇄 재계산합니다.

Usage:
  go run ./cmd/stats [command]

Examples:
  go run ./cmd/stats migrate
  go run ./cmd/stats api
  go run ./cmd/stats import --strategy-id 1 --member trader-1 daily.xlsx
  go run ./cmd/stats verify --all
  go run ./cmd/stats scheduler start`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", ".env file to load before reading the environment")
	rootCmd.PersistentFlags().StringVar(&storeMode, "store", "", "override STATS_STORE (postgres|memory)")
	rootCmd.PersistentFlags().StringSliceVar(&strategies, "strategy", nil,
		"register id=owner in the in-memory directory (DIRECTORY_MODE=memory), repeatable")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
