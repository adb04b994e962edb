package contracts

import (
	"context"
)

// StrategyDirectory resolves strategy identity and ownership (member management side)
// ⭐ SSOT: 전략 조회 협력자 인터페이스
type StrategyDirectory interface {
	// Lookup returns ErrNotFound when the strategy does not exist
	Lookup(ctx context.Context, strategyID int64) (*StrategyRef, error)
}

// RecordValidator applies field-level business rules to candidate records.
// rowNumbers, when given, is parallel to records and used in the returned problems.
type RecordValidator interface {
	ValidateRecords(records []*DailyRecord, rowNumbers []int) []RowError
}

// EventPublisher receives statistics change notifications after commit
type EventPublisher interface {
	Publish(event StatisticsEvent)
}

// StatisticsEvent types
const (
	EventMonthlyRecomputed = "monthly.recomputed"
	EventHistoryDeleted    = "history.deleted"
)

// StatisticsEvent describes a committed change to a strategy's statistics
type StatisticsEvent struct {
	Type       string   `json:"type"`
	StrategyID int64    `json:"strategyId"`
	Months     []string `json:"months,omitempty"`
	FromMonth  string   `json:"fromMonth,omitempty"`
	Records    int      `json:"records,omitempty"`
}
