package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wonny/stratstats/internal/store/postgres"
)

// migrateCmd represents the migrate command
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "DB 스키마 마이그레이션",
	Long: `내장된 SQL 마이그레이션(stats 스키마)을 DATABASE_URL 에 적용합니다.

Example:
  go run ./cmd/stats migrate`,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	result, err := postgres.Migrate(cfg.Database.URL)
	if err != nil {
		return err
	}
	if result.Dirty {
		return fmt.Errorf("schema version %d is dirty; fix it manually", result.Version)
	}

	if result.Applied {
		fmt.Printf("✅ Migrated to version %d\n", result.Version)
	} else {
		fmt.Printf("✅ Already at version %d\n", result.Version)
	}
	return nil
}
