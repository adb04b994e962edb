package ingest

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wonny/stratstats/internal/contracts"
)

// ExpectedColumns is the logical width of a data row: date, dep/wd, P/L
const ExpectedColumns = 3

// Column names used in row problems
const (
	ColumnDate            = "date"
	ColumnDepWdAmount     = "depWdAmount"
	ColumnDailyProfitLoss = "dailyProfitLoss"
)

// CellKind is the shape of a cell as the file format reported it
type CellKind int

const (
	CellEmpty CellKind = iota
	CellText
	CellNumber
	CellDate
)

// Cell is a format-agnostic spreadsheet cell
type Cell struct {
	Kind CellKind
	Raw  string    // text as stored (numbers in plain decimal notation)
	Date time.Time // set for CellDate
}

// TextCell builds a text cell; blank text is an empty cell
func TextCell(s string) Cell {
	if strings.TrimSpace(s) == "" {
		return Cell{Kind: CellEmpty}
	}
	return Cell{Kind: CellText, Raw: s}
}

// IsBlank reports whether the row has no content at all
func IsBlank(cells []Cell) bool {
	for _, c := range cells {
		if c.Kind != CellEmpty {
			return false
		}
	}
	return true
}

// Candidate is a parsed, not yet persisted daily record
type Candidate struct {
	Row             int
	Date            time.Time
	DepWdAmount     decimal.NullDecimal
	DailyProfitLoss decimal.NullDecimal
}

// Record converts the candidate into a daily record of strategyID
func (c *Candidate) Record(strategyID int64) *contracts.DailyRecord {
	return &contracts.DailyRecord{
		StrategyID:      strategyID,
		Date:            c.Date,
		DepWdAmount:     c.DepWdAmount,
		DailyProfitLoss: c.DailyProfitLoss,
	}
}

// ParseRow turns one data row into a candidate.
// Empty cells past the third column do not count towards the width.
func ParseRow(row int, cells []Cell) (*Candidate, *contracts.RowError) {
	width := len(cells)
	for width > ExpectedColumns && cells[width-1].Kind == CellEmpty {
		width--
	}
	if width != ExpectedColumns {
		return nil, &contracts.RowError{
			Row:     row,
			Kind:    contracts.KindMalformedRow,
			Message: fmt.Sprintf("expected %d columns, got %d", ExpectedColumns, width),
		}
	}

	date, problem := parseDate(row, cells[0])
	if problem != nil {
		return nil, problem
	}

	depWd, problem := parseAmount(row, ColumnDepWdAmount, cells[1])
	if problem != nil {
		return nil, problem
	}
	pl, problem := parseAmount(row, ColumnDailyProfitLoss, cells[2])
	if problem != nil {
		return nil, problem
	}

	return &Candidate{
		Row:             row,
		Date:            date,
		DepWdAmount:     contracts.NormalizeAmount(depWd),
		DailyProfitLoss: contracts.NormalizeAmount(pl),
	}, nil
}

func parseDate(row int, cell Cell) (time.Time, *contracts.RowError) {
	switch cell.Kind {
	case CellDate:
		return contracts.NormalizeDate(cell.Date), nil
	case CellText:
		// 문자열 날짜는 고정 포맷만 허용
		if t, err := time.Parse(contracts.DateLayout, strings.TrimSpace(cell.Raw)); err == nil {
			return t, nil
		}
	}

	return time.Time{}, &contracts.RowError{
		Row:     row,
		Column:  ColumnDate,
		Kind:    contracts.KindInvalidDateFormat,
		Message: fmt.Sprintf("date %q is not a %s date", cell.Raw, contracts.DateLayout),
	}
}

func parseAmount(row int, column string, cell Cell) (decimal.NullDecimal, *contracts.RowError) {
	switch cell.Kind {
	case CellEmpty:
		return decimal.NullDecimal{}, nil
	case CellNumber, CellText:
		if d, err := decimal.NewFromString(strings.TrimSpace(cell.Raw)); err == nil {
			return decimal.NewNullDecimal(d), nil
		}
	}

	return decimal.NullDecimal{}, &contracts.RowError{
		Row:     row,
		Column:  column,
		Kind:    contracts.KindInvalidAmount,
		Message: fmt.Sprintf("%s %q is not a number", column, cell.Raw),
	}
}
