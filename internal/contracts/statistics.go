package contracts

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// DateLayout is the textual layout accepted for dates (uploads, URLs, JSON)
	DateLayout = "2006-01-02"

	// MonthLayout is the analysis month key layout
	MonthLayout = "2006-01"

	// AmountScale is the fixed-point scale of stored money amounts (NUMERIC(19,4))
	AmountScale = 4

	// ReturnScale is the fixed-point scale of stored percentages (NUMERIC(10,4))
	ReturnScale = 4

	// ReferencePriceScale is the scale of the carried reference price (NUMERIC(24,8))
	ReferencePriceScale = 8
)

// Month is a calendar month key (year + month, no day)
// ⭐ SSOT: 월 키 변환은 여기서만
type Month struct {
	Year  int
	Month time.Month
}

// MinMonth is the lower bound used when scanning a strategy's whole history
var MinMonth = Month{Year: 1, Month: time.January}

// MonthOf truncates a date to its calendar month
func MonthOf(t time.Time) Month {
	return Month{Year: t.Year(), Month: t.Month()}
}

// ParseMonth parses a "YYYY-MM" key
func ParseMonth(s string) (Month, error) {
	t, err := time.Parse(MonthLayout, s)
	if err != nil {
		return Month{}, fmt.Errorf("invalid month %q (expected YYYY-MM)", s)
	}
	return MonthOf(t), nil
}

// String renders the month as "YYYY-MM"
func (m Month) String() string {
	return fmt.Sprintf("%04d-%02d", m.Year, int(m.Month))
}

// IsZero reports whether the month is unset
func (m Month) IsZero() bool {
	return m.Year == 0 && m.Month == 0
}

// FirstDay returns the first day of the month (UTC)
func (m Month) FirstDay() time.Time {
	return time.Date(m.Year, m.Month, 1, 0, 0, 0, 0, time.UTC)
}

// LastDay returns the last day of the month (UTC)
func (m Month) LastDay() time.Time {
	return m.FirstDay().AddDate(0, 1, -1)
}

// Next returns the following month
func (m Month) Next() Month {
	return MonthOf(m.FirstDay().AddDate(0, 1, 0))
}

// Before reports whether m is strictly earlier than o
func (m Month) Before(o Month) bool {
	if m.Year != o.Year {
		return m.Year < o.Year
	}
	return m.Month < o.Month
}

// After reports whether m is strictly later than o
func (m Month) After(o Month) bool {
	return o.Before(m)
}

// MarshalText renders the month key for JSON
func (m Month) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText parses a month key from JSON
func (m *Month) UnmarshalText(b []byte) error {
	parsed, err := ParseMonth(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// NormalizeDate strips the time of day and location from a date
func NormalizeDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// NormalizeAmount rounds an amount to the stored scale, keeping absent values absent
func NormalizeAmount(d decimal.NullDecimal) decimal.NullDecimal {
	if !d.Valid {
		return d
	}
	return decimal.NewNullDecimal(d.Decimal.Round(AmountScale))
}

// DailyRecord is one strategy's trading result for a single date (일간 통계)
type DailyRecord struct {
	StrategyID      int64               `json:"strategyId"`
	Date            time.Time           `json:"date"`
	DepWdAmount     decimal.NullDecimal `json:"depWdAmount"`     // 입출금
	DailyProfitLoss decimal.NullDecimal `json:"dailyProfitLoss"` // 일손익
	CreatedAt       time.Time           `json:"createdAt"`
	UpdatedAt       time.Time           `json:"updatedAt"`
}

// DepWd returns the deposit/withdrawal amount, zero when absent
func (r *DailyRecord) DepWd() decimal.Decimal {
	if !r.DepWdAmount.Valid {
		return decimal.Zero
	}
	return r.DepWdAmount.Decimal
}

// ProfitLoss returns the daily profit/loss, zero when absent
func (r *DailyRecord) ProfitLoss() decimal.Decimal {
	if !r.DailyProfitLoss.Valid {
		return decimal.Zero
	}
	return r.DailyProfitLoss.Decimal
}

// Month returns the analysis month the record belongs to
func (r *DailyRecord) Month() Month {
	return MonthOf(r.Date)
}

// MonthlyAggregate is the derived summary of one strategy month (월간 통계)
// All figures are derived; nothing here is user-settable.
type MonthlyAggregate struct {
	StrategyID           int64           `json:"strategyId"`
	AnalysisMonth        Month           `json:"analysisMonth"`
	AveragePrincipal     decimal.Decimal `json:"monthlyAveragePrincipal"` // 월평균 원금
	NetFlow              decimal.Decimal `json:"monthlyDepWdAmount"`      // 월 입출금 총액
	MonthlyProfitLoss    decimal.Decimal `json:"monthlyProfitLoss"`       // 월손익
	MonthlyReturn        decimal.Decimal `json:"monthlyReturn"`           // 월손익률(%)
	CumulativeProfitLoss decimal.Decimal `json:"monthlyCumulativeProfitLoss"`
	CumulativeReturn     decimal.Decimal `json:"monthlyCumulativeReturn"`

	// Chain state carried into the next month
	ClosingPrincipal      decimal.Decimal `json:"closingPrincipal"`
	ClosingReferencePrice decimal.Decimal `json:"closingReferencePrice"` // 월말 기준가
	TradingDays           int             `json:"tradingDays"`

	UpdatedAt time.Time `json:"updatedAt"`
}

// SameFigures reports whether two aggregates carry identical derived values
func (a *MonthlyAggregate) SameFigures(b *MonthlyAggregate) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.StrategyID == b.StrategyID &&
		a.AnalysisMonth == b.AnalysisMonth &&
		a.AveragePrincipal.Equal(b.AveragePrincipal) &&
		a.NetFlow.Equal(b.NetFlow) &&
		a.MonthlyProfitLoss.Equal(b.MonthlyProfitLoss) &&
		a.MonthlyReturn.Equal(b.MonthlyReturn) &&
		a.CumulativeProfitLoss.Equal(b.CumulativeProfitLoss) &&
		a.CumulativeReturn.Equal(b.CumulativeReturn) &&
		a.ClosingPrincipal.Equal(b.ClosingPrincipal) &&
		a.ClosingReferencePrice.Equal(b.ClosingReferencePrice) &&
		a.TradingDays == b.TradingDays
}

// MonthlyPage is one page of aggregates, newest month first
type MonthlyPage struct {
	TotalCount int64               `json:"totalElements"`
	Page       int                 `json:"page"`
	PageSize   int                 `json:"pageSize"`
	Items      []*MonthlyAggregate `json:"content"`
}

// TotalPages returns the number of pages for the current page size
func (p *MonthlyPage) TotalPages() int {
	if p.PageSize <= 0 {
		return 0
	}
	return int((p.TotalCount + int64(p.PageSize) - 1) / int64(p.PageSize))
}

// Submitter identifies who is writing statistics
type Submitter struct {
	MemberID string
	// RequireOwner is set for trader-initiated writes; admins skip the owner check
	RequireOwner bool
}

// StrategyRef is what the strategy directory knows about a strategy
type StrategyRef struct {
	ID      int64  `json:"strategyId"`
	OwnerID string `json:"writerId"`
}
