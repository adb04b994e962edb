package ingest

import (
	"encoding/csv"
	"errors"
	"io"

	"github.com/gocarina/gocsv"

	"github.com/wonny/stratstats/internal/contracts"
)

// CSVReader reads comma separated uploads; a CSV file is always a single sheet
type CSVReader struct{}

// csvRow is the positional layout of a CSV data row
type csvRow struct {
	Date            string `csv:"date"`
	DepWdAmount     string `csv:"depWdAmount"`
	DailyProfitLoss string `csv:"dailyProfitLoss"`
}

func (r csvRow) cells() []Cell {
	return []Cell{TextCell(r.Date), TextCell(r.DepWdAmount), TextCell(r.DailyProfitLoss)}
}

// recordedRows replays already read records to gocsv
type recordedRows struct {
	rows [][]string
	next int
}

func (r *recordedRows) Read() ([]string, error) {
	if r.next >= len(r.rows) {
		return nil, io.EOF
	}
	row := r.rows[r.next]
	r.next++
	return row, nil
}

func (r *recordedRows) ReadAll() ([][]string, error) {
	rows := r.rows[r.next:]
	r.next = len(r.rows)
	return rows, nil
}

func newCSVReader(in io.Reader) *csv.Reader {
	cr := csv.NewReader(in)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	return cr
}

// ReadRows keeps the physical field count of every record so width checks see it.
// Blank lines come back as empty rows so row numbers match the file.
func (CSVReader) ReadRows(r io.Reader) ([][]Cell, error) {
	cr := newCSVReader(r)
	decoder := gocsv.NewSimpleDecoderFromCSVReader(cr)

	var (
		raw   [][]string
		lines []int
	)
	for {
		fields, err := decoder.GetCSVRow()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, contracts.NewError(contracts.KindUnsupportedFile, "failed to read csv").WithCause(err)
		}

		line, _ := cr.FieldPos(0)
		raw = append(raw, fields)
		lines = append(lines, line)
	}
	if len(raw) == 0 {
		return nil, nil
	}

	// 앞 3열은 gocsv 위치 매핑, 초과 열은 폭 검사용으로 그대로 유지
	logical := make([][]string, len(raw))
	for i, fields := range raw {
		logical[i] = fields[:min(len(fields), ExpectedColumns)]
	}
	var decoded []csvRow
	if err := gocsv.UnmarshalCSVWithoutHeaders(&recordedRows{rows: logical}, &decoded); err != nil {
		return nil, contracts.NewError(contracts.KindUnsupportedFile, "failed to decode csv").WithCause(err)
	}

	var rows [][]Cell
	for i, fields := range raw {
		for len(rows) < lines[i]-1 {
			rows = append(rows, nil)
		}

		cells := decoded[i].cells()[:len(logical[i])]
		for _, extra := range fields[len(logical[i]):] {
			cells = append(cells, TextCell(extra))
		}
		rows = append(rows, cells)
	}
	return rows, nil
}
