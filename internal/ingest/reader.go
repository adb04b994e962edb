package ingest

import (
	"io"
	"path/filepath"
	"strings"

	"github.com/wonny/stratstats/internal/contracts"
)

// File formats accepted for upload and export
const (
	FormatXLSX = "xlsx"
	FormatCSV  = "csv"
)

// Upload is one uploaded spreadsheet
type Upload struct {
	Name   string
	Reader io.Reader
}

// SheetReader turns a file into rows of cells; row i is spreadsheet row i+1
type SheetReader interface {
	ReadRows(r io.Reader) ([][]Cell, error)
}

// FormatOf returns the format implied by a file name
func FormatOf(name string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
}

// ReaderFor picks the reader for a file name
func ReaderFor(name string) (SheetReader, error) {
	switch FormatOf(name) {
	case FormatXLSX:
		return XLSXReader{}, nil
	case FormatCSV:
		return CSVReader{}, nil
	default:
		return nil, contracts.NewError(contracts.KindUnsupportedFile,
			"unsupported file %q: expected .xlsx or .csv", filepath.Base(name))
	}
}
