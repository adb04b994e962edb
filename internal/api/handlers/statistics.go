package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/wonny/stratstats/internal/contracts"
	"github.com/wonny/stratstats/internal/ingest"
	"github.com/wonny/stratstats/internal/stats"
	"github.com/wonny/stratstats/pkg/logger"
)

// Default monthly page size when ?pageSize= is omitted
const defaultPageSize = 12

// StatisticsHandler serves daily and monthly statistics endpoints
// ⭐ SSOT: 통계 API 핸들러는 이 구조체에서만
type StatisticsHandler struct {
	service        *stats.Service
	importer       *ingest.Importer
	validate       *validator.Validate
	maxUploadBytes int64
	logger         *logger.Logger
}

// NewStatisticsHandler creates a new statistics handler
func NewStatisticsHandler(
	service *stats.Service,
	importer *ingest.Importer,
	maxUploadMB int,
	log *logger.Logger,
) *StatisticsHandler {
	return &StatisticsHandler{
		service:        service,
		importer:       importer,
		validate:       validator.New(validator.WithRequiredStructEnabled()),
		maxUploadBytes: int64(maxUploadMB) << 20,
		logger:         log.Component("api"),
	}
}

// UploadResponse is returned after a successful bulk upload
type UploadResponse struct {
	StrategyID int64                    `json:"strategyId"`
	Records    int                      `json:"records"`
	Items      []*contracts.DailyRecord `json:"items"`
}

// Upload imports a spreadsheet of daily records
// POST /api/strategies/{id}/daily-statistics/upload (multipart "file")
func (h *StatisticsHandler) Upload(w http.ResponseWriter, r *http.Request) {
	strategyID, submitter, ok := h.writeContext(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", h.maxUploadBytes))
			return
		}
		respondError(w, http.StatusBadRequest, "Invalid multipart request")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, http.StatusBadRequest, "Missing 'file' form field")
		return
	}
	defer file.Close()

	records, err := h.importer.ImportBatch(r.Context(), ingest.Upload{Name: header.Filename, Reader: file}, strategyID, submitter)
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, UploadResponse{
		StrategyID: strategyID,
		Records:    len(records),
		Items:      records,
	})
}

// DailyRequest is the body of a single-day upsert
type DailyRequest struct {
	DepWdAmount     decimal.NullDecimal `json:"depWdAmount"`
	DailyProfitLoss decimal.NullDecimal `json:"dailyProfitLoss"`
}

// PutDaily creates or corrects one day's figures
// PUT /api/strategies/{id}/daily-statistics/{date}
func (h *StatisticsHandler) PutDaily(w http.ResponseWriter, r *http.Request) {
	strategyID, submitter, ok := h.writeContext(w, r)
	if !ok {
		return
	}
	date, ok := h.dateVar(w, r)
	if !ok {
		return
	}

	var req DailyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	rec, err := h.service.UpsertDailyRecord(r.Context(), strategyID, contracts.DailyRecord{
		Date:            date,
		DepWdAmount:     req.DepWdAmount,
		DailyProfitLoss: req.DailyProfitLoss,
	}, submitter)
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, rec)
}

// DeleteDaily removes one day
// DELETE /api/strategies/{id}/daily-statistics/{date}
func (h *StatisticsHandler) DeleteDaily(w http.ResponseWriter, r *http.Request) {
	strategyID, submitter, ok := h.writeContext(w, r)
	if !ok {
		return
	}
	date, ok := h.dateVar(w, r)
	if !ok {
		return
	}

	if err := h.service.DeleteDailyRecord(r.Context(), strategyID, date, submitter); err != nil {
		h.respondDomainError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// BulkDeleteRequest lists the dates to remove
type BulkDeleteRequest struct {
	Dates []string `json:"dates" validate:"required,min=1,max=2000,dive,datetime=2006-01-02"`
}

// DeleteDailyBulk removes several days in one transaction
// POST /api/strategies/{id}/daily-statistics/delete
func (h *StatisticsHandler) DeleteDailyBulk(w http.ResponseWriter, r *http.Request) {
	strategyID, submitter, ok := h.writeContext(w, r)
	if !ok {
		return
	}

	var req BulkDeleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.respondDomainError(w, r, contracts.NewError(contracts.KindInvalidArgument,
			"dates must be a non-empty list of YYYY-MM-DD dates").WithCause(err))
		return
	}

	dates := make([]time.Time, len(req.Dates))
	for i, s := range req.Dates {
		// validated above
		dates[i], _ = time.Parse(contracts.DateLayout, s)
	}

	if err := h.service.DeleteDailyRecords(r.Context(), strategyID, dates, submitter); err != nil {
		h.respondDomainError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"strategyId": strategyID,
		"deleted":    len(dates),
	})
}

// ListDaily returns daily records in an optional [from, to] range
// GET /api/strategies/{id}/daily-statistics?from=&to=
func (h *StatisticsHandler) ListDaily(w http.ResponseWriter, r *http.Request) {
	strategyID, ok := h.strategyVar(w, r)
	if !ok {
		return
	}

	from, err := optionalDate(r, "from")
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	to, err := optionalDate(r, "to")
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}

	records, err := h.service.ListDailyRecords(r.Context(), strategyID, from, to)
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	if records == nil {
		records = []*contracts.DailyRecord{}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"strategyId": strategyID,
		"items":      records,
	})
}

// pageQuery is the parsed ?page=&pageSize= pair
type pageQuery struct {
	Page     int `validate:"min=1"`
	PageSize int `validate:"min=1,max=100"`
}

// MonthlyPageResponse adds paging metadata to a monthly page
type MonthlyPageResponse struct {
	*contracts.MonthlyPage
	TotalPages int `json:"totalPages"`
}

// ListMonthly returns one page of monthly aggregates, newest first
// GET /api/strategies/{id}/monthly-statistics?page=&pageSize=
func (h *StatisticsHandler) ListMonthly(w http.ResponseWriter, r *http.Request) {
	strategyID, ok := h.strategyVar(w, r)
	if !ok {
		return
	}

	q := pageQuery{Page: 1, PageSize: defaultPageSize}
	var err error
	if v := r.URL.Query().Get("page"); v != "" {
		if q.Page, err = strconv.Atoi(v); err != nil {
			h.respondDomainError(w, r, contracts.NewError(contracts.KindInvalidArgument, "page must be an integer"))
			return
		}
	}
	if v := r.URL.Query().Get("pageSize"); v != "" {
		if q.PageSize, err = strconv.Atoi(v); err != nil {
			h.respondDomainError(w, r, contracts.NewError(contracts.KindInvalidArgument, "pageSize must be an integer"))
			return
		}
	}
	if err := h.validate.Struct(q); err != nil {
		h.respondDomainError(w, r, contracts.NewError(contracts.KindInvalidArgument,
			"page must be >= 1 and pageSize between 1 and %d", contracts.MaxPageSize).WithCause(err))
		return
	}

	page, err := h.service.GetMonthlyPage(r.Context(), strategyID, q.Page, q.PageSize)
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, MonthlyPageResponse{MonthlyPage: page, TotalPages: page.TotalPages()})
}

// GetMonth returns a single month's aggregate
// GET /api/strategies/{id}/monthly-statistics/{month}
func (h *StatisticsHandler) GetMonth(w http.ResponseWriter, r *http.Request) {
	strategyID, ok := h.strategyVar(w, r)
	if !ok {
		return
	}
	month, err := contracts.ParseMonth(mux.Vars(r)["month"])
	if err != nil {
		h.respondDomainError(w, r, contracts.NewError(contracts.KindInvalidArgument, "%v", err))
		return
	}

	agg, err := h.service.GetMonth(r.Context(), strategyID, month)
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, agg)
}

// ExportMonthly downloads every aggregate as xlsx (default) or csv
// GET /api/strategies/{id}/monthly-statistics/export?format=xlsx|csv
func (h *StatisticsHandler) ExportMonthly(w http.ResponseWriter, r *http.Request) {
	strategyID, ok := h.strategyVar(w, r)
	if !ok {
		return
	}

	format := r.URL.Query().Get("format")
	if format == "" {
		format = ingest.FormatXLSX
	}
	contentType, known := exportContentTypes[format]
	if !known {
		h.respondDomainError(w, r, contracts.NewError(contracts.KindInvalidArgument, "unsupported export format %q", format))
		return
	}

	aggs, err := h.service.ListMonthly(r.Context(), strategyID)
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="strategy-%d-monthly-statistics.%s"`, strategyID, format))
	if err := ingest.Export(w, format, aggs); err != nil {
		// headers are already out; nothing useful can be sent
		h.logger.WithError(err).WithField("strategy_id", strategyID).Error("Failed to write export")
	}
}

var exportContentTypes = map[string]string{
	ingest.FormatXLSX: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	ingest.FormatCSV:  "text/csv; charset=utf-8",
}

// DeleteHistory purges a strategy's statistics, or rolls back from ?fromMonth=
// DELETE /api/strategies/{id}/statistics[?fromMonth=YYYY-MM]
func (h *StatisticsHandler) DeleteHistory(w http.ResponseWriter, r *http.Request) {
	strategyID, ok := h.strategyVar(w, r)
	if !ok {
		return
	}
	if err := requirePrivileged(r); err != nil {
		h.respondDomainError(w, r, err)
		return
	}

	var (
		res *stats.PurgeResult
		err error
	)
	if raw := r.URL.Query().Get("fromMonth"); raw != "" {
		month, perr := contracts.ParseMonth(raw)
		if perr != nil {
			h.respondDomainError(w, r, contracts.NewError(contracts.KindInvalidArgument, "%v", perr))
			return
		}
		res, err = h.service.DeleteHistoryFromMonth(r.Context(), strategyID, month)
	} else {
		res, err = h.service.DeleteStrategyHistory(r.Context(), strategyID)
	}
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, res)
}

// Rebuild recomputes every aggregate from daily records
// POST /api/strategies/{id}/statistics/rebuild
func (h *StatisticsHandler) Rebuild(w http.ResponseWriter, r *http.Request) {
	strategyID, ok := h.strategyVar(w, r)
	if !ok {
		return
	}
	if err := requirePrivileged(r); err != nil {
		h.respondDomainError(w, r, err)
		return
	}

	aggs, err := h.service.Rebuild(r.Context(), strategyID)
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	if aggs == nil {
		aggs = []*contracts.MonthlyAggregate{}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"strategyId": strategyID,
		"months":     len(aggs),
		"items":      aggs,
	})
}

// Verify diffs stored aggregates against a full recomputation
// GET /api/strategies/{id}/statistics/verify
func (h *StatisticsHandler) Verify(w http.ResponseWriter, r *http.Request) {
	strategyID, ok := h.strategyVar(w, r)
	if !ok {
		return
	}
	if err := requirePrivileged(r); err != nil {
		h.respondDomainError(w, r, err)
		return
	}

	report, err := h.service.Verify(r.Context(), strategyID)
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"report":     report,
		"consistent": report.Consistent(),
	})
}

// Helpers

func (h *StatisticsHandler) strategyVar(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		h.respondDomainError(w, r, contracts.NewError(contracts.KindInvalidArgument, "invalid strategy id %q", mux.Vars(r)["id"]))
		return 0, false
	}
	return id, true
}

func (h *StatisticsHandler) writeContext(w http.ResponseWriter, r *http.Request) (int64, contracts.Submitter, bool) {
	strategyID, ok := h.strategyVar(w, r)
	if !ok {
		return 0, contracts.Submitter{}, false
	}
	submitter, err := SubmitterFrom(r)
	if err != nil {
		h.respondDomainError(w, r, err)
		return 0, contracts.Submitter{}, false
	}
	return strategyID, submitter, true
}

func (h *StatisticsHandler) dateVar(w http.ResponseWriter, r *http.Request) (time.Time, bool) {
	raw := mux.Vars(r)["date"]
	date, err := time.Parse(contracts.DateLayout, raw)
	if err != nil {
		h.respondDomainError(w, r, contracts.NewError(contracts.KindInvalidDateFormat, "invalid date %q (expected YYYY-MM-DD)", raw))
		return time.Time{}, false
	}
	return date, true
}

func optionalDate(r *http.Request, key string) (time.Time, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return time.Time{}, nil
	}
	date, err := time.Parse(contracts.DateLayout, raw)
	if err != nil {
		return time.Time{}, contracts.NewError(contracts.KindInvalidArgument, "invalid '%s' date %q (expected YYYY-MM-DD)", key, raw)
	}
	return date, nil
}
