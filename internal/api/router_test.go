package api

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/stratstats/internal/api/handlers"
	"github.com/wonny/stratstats/internal/contracts"
	"github.com/wonny/stratstats/internal/directory"
	"github.com/wonny/stratstats/internal/events"
	"github.com/wonny/stratstats/internal/ingest"
	"github.com/wonny/stratstats/internal/metrics"
	"github.com/wonny/stratstats/internal/stats"
	"github.com/wonny/stratstats/internal/store/memory"
	"github.com/wonny/stratstats/pkg/logger"
	"github.com/wonny/stratstats/pkg/redis"
)

const csvHeader = "date,depWdAmount,dailyProfitLoss"

type apiFixture struct {
	router http.Handler
}

func newAPIFixture(t *testing.T, uploadsPerMinute int) *apiFixture {
	t.Helper()
	log := logger.Nop()
	m := metrics.New()

	dir := directory.NewMemory()
	dir.Register(1, "trader-1")

	hub := events.NewHub(log, m)
	t.Cleanup(hub.Close)

	validator := ingest.NewFieldValidator(ingest.DefaultRules())
	svc := stats.NewService(memory.New(), dir, stats.DefaultBaselinePrice, log,
		stats.WithValidator(validator), stats.WithEvents(hub), stats.WithMetrics(m))
	importer := ingest.NewImporter(svc, validator, m, log)

	limiter := NewUploadLimiter(uploadsPerMinute, redis.NewRateLimiter(redis.Disabled(), "stratstats"), log)
	h := handlers.NewStatisticsHandler(svc, importer, 1, log)

	return &apiFixture{router: NewRouter(h, hub, limiter, m, log)}
}

type call struct {
	method string
	path   string
	body   io.Reader
	ctype  string
	member string
	role   string
}

func (f *apiFixture) do(t *testing.T, c call) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(c.method, c.path, c.body)
	if c.ctype != "" {
		req.Header.Set("Content-Type", c.ctype)
	}
	if c.member != "" {
		req.Header.Set(handlers.HeaderMemberID, c.member)
	}
	if c.role != "" {
		req.Header.Set(handlers.HeaderMemberRole, c.role)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *apiFixture) upload(t *testing.T, member, name string, lines ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = part.Write([]byte(strings.Join(lines, "\n") + "\n"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	return f.do(t, call{
		method: http.MethodPost,
		path:   "/api/strategies/1/daily-statistics/upload",
		body:   &buf,
		ctype:  mw.FormDataContentType(),
		member: member,
	})
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func assertKind(t *testing.T, rec *httptest.ResponseRecorder, status int, kind contracts.ErrorKind) map[string]interface{} {
	t.Helper()
	require.Equal(t, status, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Equal(t, string(kind), body["kind"])
	assert.NotEmpty(t, body["error"])
	return body
}

func TestHealth(t *testing.T) {
	f := newAPIFixture(t, 0)
	rec := f.do(t, call{method: http.MethodGet, path: "/health"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody(t, rec)["status"])
	assert.NotEmpty(t, rec.Header().Get(HeaderRequestID))
}

func TestUploadAndReadMonthly(t *testing.T) {
	f := newAPIFixture(t, 0)

	rec := f.upload(t, "trader-1", "daily.csv", csvHeader, "2024-01-05,1000,50", "2024-02-10,0,-20")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, float64(2), decodeBody(t, rec)["records"])

	rec = f.do(t, call{method: http.MethodGet, path: "/api/strategies/1/monthly-statistics?page=1&pageSize=10"})
	require.Equal(t, http.StatusOK, rec.Code)
	var page struct {
		TotalCount int64                         `json:"totalElements"`
		TotalPages int                           `json:"totalPages"`
		Items      []*contracts.MonthlyAggregate `json:"content"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, int64(2), page.TotalCount)
	assert.Equal(t, 1, page.TotalPages)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "2024-02", page.Items[0].AnalysisMonth.String(), "newest first")
	assert.Equal(t, "2.9", page.Items[0].CumulativeReturn.String())

	rec = f.do(t, call{method: http.MethodGet, path: "/api/strategies/1/monthly-statistics/2024-01"})
	require.Equal(t, http.StatusOK, rec.Code)
	var jan contracts.MonthlyAggregate
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &jan))
	assert.Equal(t, "5", jan.MonthlyReturn.String())

	rec = f.do(t, call{method: http.MethodGet, path: "/api/strategies/1/daily-statistics?from=2024-02-01"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody(t, rec)["items"], 1)
}

func TestUploadErrors(t *testing.T) {
	f := newAPIFixture(t, 0)

	t.Run("missing identity", func(t *testing.T) {
		assertKind(t, f.upload(t, "", "daily.csv", csvHeader, "2024-01-05,1,1"), http.StatusForbidden, contracts.KindAccessDenied)
	})

	t.Run("not the owner", func(t *testing.T) {
		assertKind(t, f.upload(t, "trader-2", "daily.csv", csvHeader, "2024-01-05,1,1"), http.StatusForbidden, contracts.KindAccessDenied)
	})

	t.Run("row problems are listed", func(t *testing.T) {
		body := assertKind(t, f.upload(t, "trader-1", "daily.csv", csvHeader, "2024/01/05,1,1", "2024-01-06,x,1"),
			http.StatusBadRequest, contracts.KindInvalidDateFormat)
		rows, ok := body["rows"].([]interface{})
		require.True(t, ok)
		assert.Len(t, rows, 2)
	})

	t.Run("duplicate dates conflict", func(t *testing.T) {
		assertKind(t, f.upload(t, "trader-1", "daily.csv", csvHeader, "2024-01-05,1,1", "2024-01-05,1,2"),
			http.StatusConflict, contracts.KindDuplicateDateInBatch)
	})

	t.Run("unsupported file", func(t *testing.T) {
		assertKind(t, f.upload(t, "trader-1", "daily.txt", csvHeader), http.StatusBadRequest, contracts.KindUnsupportedFile)
	})

	t.Run("missing file field", func(t *testing.T) {
		rec := f.do(t, call{
			method: http.MethodPost,
			path:   "/api/strategies/1/daily-statistics/upload",
			body:   strings.NewReader("--x--\r\n"),
			ctype:  "multipart/form-data; boundary=x",
			member: "trader-1",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestUploadRateLimit(t *testing.T) {
	f := newAPIFixture(t, 1)

	rec := f.upload(t, "trader-1", "daily.csv", csvHeader, "2024-01-05,1000,50")
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.upload(t, "trader-1", "daily.csv", csvHeader, "2024-01-06,0,1")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
}

func TestDailyUpsertAndDelete(t *testing.T) {
	f := newAPIFixture(t, 0)

	rec := f.do(t, call{
		method: http.MethodPut,
		path:   "/api/strategies/1/daily-statistics/2024-01-05",
		body:   strings.NewReader(`{"depWdAmount":"1000","dailyProfitLoss":50}`),
		member: "trader-1",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "1000", decodeBody(t, rec)["depWdAmount"])

	rec = f.do(t, call{method: http.MethodGet, path: "/api/strategies/1/monthly-statistics/2024-01"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, call{method: http.MethodDelete, path: "/api/strategies/1/daily-statistics/2024-01-06", member: "trader-1"})
	assertKind(t, rec, http.StatusNotFound, contracts.KindRecordNotFound)

	rec = f.do(t, call{method: http.MethodDelete, path: "/api/strategies/1/daily-statistics/2024-01-05", member: "trader-1"})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, call{method: http.MethodGet, path: "/api/strategies/1/monthly-statistics/2024-01"})
	assertKind(t, rec, http.StatusNotFound, contracts.KindAggregateNotFound)
}

func TestDailyUpsert_UnknownStrategy(t *testing.T) {
	f := newAPIFixture(t, 0)
	rec := f.do(t, call{
		method: http.MethodPut,
		path:   "/api/strategies/42/daily-statistics/2024-01-05",
		body:   strings.NewReader(`{"dailyProfitLoss":"1"}`),
		member: "trader-1",
	})
	assertKind(t, rec, http.StatusNotFound, contracts.KindStrategyNotFound)
}

func TestBulkDelete(t *testing.T) {
	f := newAPIFixture(t, 0)
	require.Equal(t, http.StatusCreated, f.upload(t, "trader-1", "daily.csv", csvHeader, "2024-01-05,1000,50", "2024-01-06,,5").Code)

	rec := f.do(t, call{
		method: http.MethodPost,
		path:   "/api/strategies/1/daily-statistics/delete",
		body:   strings.NewReader(`{"dates":["2024-01-06","06/01/2024"]}`),
		member: "trader-1",
	})
	assertKind(t, rec, http.StatusBadRequest, contracts.KindInvalidArgument)

	rec = f.do(t, call{
		method: http.MethodPost,
		path:   "/api/strategies/1/daily-statistics/delete",
		body:   strings.NewReader(`{"dates":["2024-01-06"]}`),
		member: "trader-1",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, float64(1), decodeBody(t, rec)["deleted"])
}

func TestMonthlyPageValidation(t *testing.T) {
	f := newAPIFixture(t, 0)
	for _, query := range []string{"page=0", "pageSize=101", "page=abc"} {
		rec := f.do(t, call{method: http.MethodGet, path: "/api/strategies/1/monthly-statistics?" + query})
		assertKind(t, rec, http.StatusBadRequest, contracts.KindInvalidArgument)
	}
}

func TestExport(t *testing.T) {
	f := newAPIFixture(t, 0)
	require.Equal(t, http.StatusCreated, f.upload(t, "trader-1", "daily.csv", csvHeader, "2024-01-05,1000,50", "2024-02-10,0,-20").Code)

	rec := f.do(t, call{method: http.MethodGet, path: "/api/strategies/1/monthly-statistics/export?format=csv"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "strategy-1-monthly-statistics.csv")
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[1], "1,1,2024-01,"))

	rec = f.do(t, call{method: http.MethodGet, path: "/api/strategies/1/monthly-statistics/export"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "spreadsheetml")

	rec = f.do(t, call{method: http.MethodGet, path: "/api/strategies/1/monthly-statistics/export?format=pdf"})
	assertKind(t, rec, http.StatusBadRequest, contracts.KindInvalidArgument)
}

func TestMaintenanceEndpoints(t *testing.T) {
	f := newAPIFixture(t, 0)
	require.Equal(t, http.StatusCreated, f.upload(t, "trader-1", "daily.csv", csvHeader, "2024-01-05,1000,50", "2024-02-10,0,-20").Code)

	rec := f.do(t, call{method: http.MethodDelete, path: "/api/strategies/1/statistics?fromMonth=2024-02", member: "trader-1"})
	assertKind(t, rec, http.StatusForbidden, contracts.KindAccessDenied)

	rec = f.do(t, call{method: http.MethodGet, path: "/api/strategies/1/statistics/verify", member: "ops", role: "admin"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["consistent"])

	rec = f.do(t, call{method: http.MethodPost, path: "/api/strategies/1/statistics/rebuild", member: "ops", role: handlers.RoleAdmin})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), decodeBody(t, rec)["months"])

	rec = f.do(t, call{method: http.MethodDelete, path: "/api/strategies/1/statistics?fromMonth=2024-13", member: "ops", role: handlers.RoleAdmin})
	assertKind(t, rec, http.StatusBadRequest, contracts.KindInvalidArgument)

	rec = f.do(t, call{method: http.MethodDelete, path: "/api/strategies/1/statistics?fromMonth=2024-02", member: "ops", role: handlers.RoleAdmin})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decodeBody(t, rec)["dailyDeleted"])

	rec = f.do(t, call{method: http.MethodGet, path: "/api/strategies/1/monthly-statistics"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decodeBody(t, rec)["totalElements"])

	rec = f.do(t, call{method: http.MethodDelete, path: "/api/strategies/1/statistics", member: "member-service", role: handlers.RoleSystem})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, call{method: http.MethodGet, path: "/api/strategies/1/monthly-statistics"})
	assert.Equal(t, float64(0), decodeBody(t, rec)["totalElements"])
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		kind contracts.ErrorKind
		want int
	}{
		{contracts.KindMalformedRow, http.StatusBadRequest},
		{contracts.KindRowLimitExceeded, http.StatusBadRequest},
		{contracts.KindMultiSheetNotAllowed, http.StatusBadRequest},
		{contracts.KindDuplicateDateInBatch, http.StatusConflict},
		{contracts.KindAccessDenied, http.StatusForbidden},
		{contracts.KindStrategyNotFound, http.StatusNotFound},
		{contracts.KindAggregateNotFound, http.StatusNotFound},
		{"", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.want, handlers.StatusFor(tt.kind))
		})
	}
}
