package ingest

import (
	"encoding/csv"
	"fmt"
	"io"

	"github.com/gocarina/gocsv"
	"github.com/xuri/excelize/v2"

	"github.com/wonny/stratstats/internal/contracts"
)

// ExportSheet is the sheet name of monthly exports
const ExportSheet = "MonthlyStatistics"

// exportRow is one line of the monthly statistics export
type exportRow struct {
	No                   int    `csv:"no"`
	StrategyID           int64  `csv:"strategyId"`
	AnalysisMonth        string `csv:"analysisMonth"`
	AveragePrincipal     string `csv:"monthlyAveragePrincipal"`
	NetFlow              string `csv:"monthlyDepWdAmount"`
	MonthlyProfitLoss    string `csv:"monthlyProfitLoss"`
	MonthlyReturn        string `csv:"monthlyReturn"`
	CumulativeProfitLoss string `csv:"monthlyCumulativeProfitLoss"`
	CumulativeReturn     string `csv:"monthlyCumulativeReturn"`
}

var exportHeaders = []interface{}{
	"no", "strategyId", "analysisMonth", "monthlyAveragePrincipal", "monthlyDepWdAmount",
	"monthlyProfitLoss", "monthlyReturn", "monthlyCumulativeProfitLoss", "monthlyCumulativeReturn",
}

func toExportRows(aggs []*contracts.MonthlyAggregate) []*exportRow {
	rows := make([]*exportRow, len(aggs))
	for i, agg := range aggs {
		rows[i] = &exportRow{
			No:                   i + 1,
			StrategyID:           agg.StrategyID,
			AnalysisMonth:        agg.AnalysisMonth.String(),
			AveragePrincipal:     agg.AveragePrincipal.StringFixed(contracts.AmountScale),
			NetFlow:              agg.NetFlow.StringFixed(contracts.AmountScale),
			MonthlyProfitLoss:    agg.MonthlyProfitLoss.StringFixed(contracts.AmountScale),
			MonthlyReturn:        agg.MonthlyReturn.StringFixed(contracts.ReturnScale),
			CumulativeProfitLoss: agg.CumulativeProfitLoss.StringFixed(contracts.AmountScale),
			CumulativeReturn:     agg.CumulativeReturn.StringFixed(contracts.ReturnScale),
		}
	}
	return rows
}

// WriteCSV writes aggregates (oldest first) as CSV with a header line
func WriteCSV(w io.Writer, aggs []*contracts.MonthlyAggregate) error {
	rows := toExportRows(aggs)
	if err := gocsv.MarshalCSV(&rows, gocsv.NewSafeCSVWriter(csv.NewWriter(w))); err != nil {
		return fmt.Errorf("failed to write csv export: %w", err)
	}
	return nil
}

// WriteXLSX writes aggregates as a single-sheet workbook; figures are numeric cells
func WriteXLSX(w io.Writer, aggs []*contracts.MonthlyAggregate) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", ExportSheet); err != nil {
		return fmt.Errorf("failed to name export sheet: %w", err)
	}
	if err := f.SetSheetRow(ExportSheet, "A1", &exportHeaders); err != nil {
		return fmt.Errorf("failed to write export header: %w", err)
	}

	for i, agg := range aggs {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		values := []interface{}{
			i + 1,
			agg.StrategyID,
			agg.AnalysisMonth.String(),
			agg.AveragePrincipal.InexactFloat64(),
			agg.NetFlow.InexactFloat64(),
			agg.MonthlyProfitLoss.InexactFloat64(),
			agg.MonthlyReturn.InexactFloat64(),
			agg.CumulativeProfitLoss.InexactFloat64(),
			agg.CumulativeReturn.InexactFloat64(),
		}
		if err := f.SetSheetRow(ExportSheet, cell, &values); err != nil {
			return fmt.Errorf("failed to write export row %d: %w", i+1, err)
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write xlsx export: %w", err)
	}
	return nil
}

// Export writes aggregates in the requested format
func Export(w io.Writer, format string, aggs []*contracts.MonthlyAggregate) error {
	switch format {
	case FormatXLSX:
		return WriteXLSX(w, aggs)
	case FormatCSV:
		return WriteCSV(w, aggs)
	default:
		return contracts.NewError(contracts.KindInvalidArgument, "unsupported export format %q", format)
	}
}
