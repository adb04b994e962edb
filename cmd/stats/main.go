package main

import (
	"os"

	"github.com/wonny/stratstats/cmd/stats/commands"
)

// main is the entry point for the statistics CLI
// ⭐ 통합 CLI 진입점: go run ./cmd/stats [command]
func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
