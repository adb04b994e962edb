package ingest

import (
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/wonny/stratstats/internal/contracts"
)

// XLSXReader reads the single sheet of an .xlsx workbook
type XLSXReader struct{}

// ReadRows rejects multi-sheet workbooks before any row is read.
// Non-blank rows are padded to ExpectedColumns since the format drops trailing empty cells.
func (XLSXReader) ReadRows(r io.Reader) ([][]Cell, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, contracts.NewError(contracts.KindUnsupportedFile, "failed to open workbook").WithCause(err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) > 1 {
		return nil, contracts.NewError(contracts.KindMultiSheetNotAllowed,
			"workbook has %d sheets; only a single sheet is allowed", len(sheets))
	}
	if len(sheets) == 0 {
		return nil, contracts.NewError(contracts.KindUnsupportedFile, "workbook has no sheet")
	}
	sheet := sheets[0]

	raw, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, contracts.NewError(contracts.KindUnsupportedFile, "failed to read sheet %q", sheet).WithCause(err)
	}

	styles := make(map[int]bool) // style id → date formatted
	rows := make([][]Cell, len(raw))
	for i, values := range raw {
		cells := make([]Cell, len(values))
		for j, value := range values {
			cells[j], err = readCell(f, sheet, j+1, i+1, value, styles)
			if err != nil {
				return nil, err
			}
		}
		if !IsBlank(cells) {
			for len(cells) < ExpectedColumns {
				cells = append(cells, Cell{Kind: CellEmpty})
			}
		}
		rows[i] = cells
	}

	return rows, nil
}

func readCell(f *excelize.File, sheet string, col, row int, value string, styles map[int]bool) (Cell, error) {
	if strings.TrimSpace(value) == "" {
		return Cell{Kind: CellEmpty}, nil
	}

	axis, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return Cell{}, err
	}
	cellType, err := f.GetCellType(sheet, axis)
	if err != nil {
		return Cell{}, contracts.NewError(contracts.KindUnsupportedFile, "failed to read cell %s", axis).WithCause(err)
	}

	switch cellType {
	case excelize.CellTypeDate:
		// ISO 8601 date cell (t="d")
		for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", contracts.DateLayout} {
			if date, err := time.Parse(layout, value); err == nil {
				return Cell{Kind: CellDate, Raw: value, Date: date}, nil
			}
		}
		return Cell{Kind: CellText, Raw: value}, nil
	case excelize.CellTypeUnset, excelize.CellTypeNumber:
		if !isDateStyled(f, sheet, axis, styles) {
			return Cell{Kind: CellNumber, Raw: value}, nil
		}
		serial, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return Cell{Kind: CellText, Raw: value}, nil
		}
		date, err := excelize.ExcelDateToTime(serial, false)
		if err != nil {
			return Cell{Kind: CellText, Raw: value}, nil
		}
		return Cell{Kind: CellDate, Raw: value, Date: date}, nil
	default:
		return TextCell(value), nil
	}
}

// isDateStyled reports whether the cell's number format renders a date
func isDateStyled(f *excelize.File, sheet, axis string, styles map[int]bool) bool {
	styleID, err := f.GetCellStyle(sheet, axis)
	if err != nil || styleID == 0 {
		return false
	}
	if known, ok := styles[styleID]; ok {
		return known
	}

	isDate := false
	if style, err := f.GetStyle(styleID); err == nil && style != nil {
		isDate = isDateNumFmt(style.NumFmt)
		if style.CustomNumFmt != nil {
			isDate = isDateFormatCode(*style.CustomNumFmt)
		}
	}
	styles[styleID] = isDate
	return isDate
}

// 기본 제공 날짜 서식 ID (ECMA-376 18.8.30)
func isDateNumFmt(id int) bool {
	return (id >= 14 && id <= 22) || (id >= 45 && id <= 47) || (id >= 27 && id <= 36) || (id >= 50 && id <= 58)
}

func isDateFormatCode(code string) bool {
	code = strings.ToLower(code)
	// quoted literals and colour/condition sections carry no date tokens
	var b strings.Builder
	inQuote, inBracket := false, false
	for _, r := range code {
		switch {
		case r == '"':
			inQuote = !inQuote
		case r == '[' && !inQuote:
			inBracket = true
		case r == ']' && !inQuote:
			inBracket = false
		case !inQuote && !inBracket:
			b.WriteRune(r)
		}
	}
	stripped := b.String()
	return strings.ContainsAny(stripped, "yd") || (strings.Contains(stripped, "m") && !strings.Contains(stripped, "0"))
}
