package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wonny/stratstats/internal/contracts"
	"github.com/wonny/stratstats/internal/metrics"
	"github.com/wonny/stratstats/internal/stats"
	"github.com/wonny/stratstats/pkg/logger"
)

// Importer is the batch import coordinator: validate everything up front,
// then persist all rows or none.
// ⭐ SSOT: 엑셀/CSV 업로드는 이 경로로만 저장
type Importer struct {
	service   *stats.Service
	validator contracts.RecordValidator
	metrics   *metrics.Metrics
	log       *logger.Logger
}

// NewImporter creates an importer; validator may be nil to skip the second pass
func NewImporter(service *stats.Service, validator contracts.RecordValidator, m *metrics.Metrics, log *logger.Logger) *Importer {
	return &Importer{
		service:   service,
		validator: validator,
		metrics:   m,
		log:       log.Component("ingest.importer"),
	}
}

// ImportBatch imports one uploaded file into strategyID and returns the stored records in file order
func (im *Importer) ImportBatch(ctx context.Context, upload Upload, strategyID int64, submitter contracts.Submitter) (records []*contracts.DailyRecord, err error) {
	start := time.Now()
	batchID := uuid.NewString()
	log := im.log.WithFields(map[string]interface{}{
		"batch_id":    batchID,
		"strategy_id": strategyID,
		"file":        upload.Name,
	})
	defer func() {
		im.metrics.ObserveOperation("import_batch", start, err)
		if err != nil {
			im.metrics.ImportRejected(contracts.KindOf(err))
			log.WithError(err).Warn("import rejected")
		}
	}()

	if _, err := im.service.Authorize(ctx, strategyID, submitter); err != nil {
		return nil, err
	}

	candidates, err := im.Parse(upload)
	if err != nil {
		return nil, err
	}

	batch := make([]*contracts.DailyRecord, len(candidates))
	rows := make([]int, len(candidates))
	for i, c := range candidates {
		batch[i] = c.Record(strategyID)
		rows[i] = c.Row
	}

	if im.validator != nil {
		if problems := im.validator.ValidateRecords(batch, rows); len(problems) > 0 {
			return nil, contracts.NewBatchError(problems)
		}
	}

	records, err = im.service.ApplyBatch(ctx, strategyID, batch)
	if err != nil {
		return nil, err
	}

	im.metrics.ImportAccepted(len(records))
	log.WithFields(map[string]interface{}{
		"rows":     len(records),
		"duration": time.Since(start).String(),
	}).Info("import applied")

	return records, nil
}

// Parse runs the file-level checks and the row parser over every data row.
// Every parse and duplicate problem is collected before failing.
func (im *Importer) Parse(upload Upload) ([]*Candidate, error) {
	reader, err := ReaderFor(upload.Name)
	if err != nil {
		return nil, err
	}

	rows, err := reader.ReadRows(upload.Reader)
	if err != nil {
		return nil, err
	}

	// row 1 is the header
	type dataRow struct {
		number int
		cells  []Cell
	}
	var data []dataRow
	for i := 1; i < len(rows); i++ {
		if IsBlank(rows[i]) {
			continue
		}
		data = append(data, dataRow{number: i + 1, cells: rows[i]})
		if len(data) > MaxRows {
			return nil, contracts.NewError(contracts.KindRowLimitExceeded,
				"file has more than %d data rows", MaxRows)
		}
	}
	if len(data) == 0 {
		return nil, contracts.NewError(contracts.KindEmptyBatch, "file contains no data rows")
	}

	var (
		candidates []*Candidate
		problems   []contracts.RowError
		seen       = make(map[time.Time]int, len(data))
	)
	for _, row := range data {
		candidate, problem := ParseRow(row.number, row.cells)
		if problem != nil {
			problems = append(problems, *problem)
			continue
		}

		if first, dup := seen[candidate.Date]; dup {
			problems = append(problems, contracts.RowError{
				Row:    row.number,
				Column: ColumnDate,
				Kind:   contracts.KindDuplicateDateInBatch,
				Message: fmt.Sprintf("date %s appears in rows %d and %d",
					candidate.Date.Format(contracts.DateLayout), first, row.number),
			})
			continue
		}
		seen[candidate.Date] = row.number
		candidates = append(candidates, candidate)
	}

	if len(problems) > 0 {
		return nil, contracts.NewBatchError(problems)
	}
	return candidates, nil
}
