package stats

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/stratstats/internal/contracts"
	"github.com/wonny/stratstats/internal/directory"
	"github.com/wonny/stratstats/internal/store/memory"
	"github.com/wonny/stratstats/pkg/logger"
)

var (
	trader = contracts.Submitter{MemberID: "trader-1", RequireOwner: true}
	admin  = contracts.Submitter{MemberID: "admin"}
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []contracts.StatisticsEvent
}

func (p *recordingPublisher) Publish(event contracts.StatisticsEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) snapshot() []contracts.StatisticsEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]contracts.StatisticsEvent(nil), p.events...)
}

type rejectingValidator struct{}

func (rejectingValidator) ValidateRecords(records []*contracts.DailyRecord, _ []int) []contracts.RowError {
	var problems []contracts.RowError
	for i, r := range records {
		if r.ProfitLoss().Abs().GreaterThan(decimal.NewFromInt(1_000_000)) {
			problems = append(problems, contracts.RowError{Row: i + 1, Column: "dailyProfitLoss", Kind: contracts.KindFieldValidationFailed, Message: "too large"})
		}
	}
	return problems
}

type fixture struct {
	svc    *Service
	store  *memory.Store
	dir    *directory.Memory
	events *recordingPublisher
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	store := memory.New()
	dir := directory.NewMemory()
	dir.Register(1, "trader-1")
	dir.Register(2, "trader-2")
	events := &recordingPublisher{}
	opts = append([]Option{WithEvents(events)}, opts...)
	return &fixture{
		svc:    NewService(store, dir, DefaultBaselinePrice, logger.Nop(), opts...),
		store:  store,
		dir:    dir,
		events: events,
	}
}

func input(date time.Time, depWd, pl string) contracts.DailyRecord {
	return *rec(date, depWd, pl)
}

func (f *fixture) upsert(t *testing.T, date time.Time, depWd, pl string) {
	t.Helper()
	_, err := f.svc.UpsertDailyRecord(context.Background(), 1, input(date, depWd, pl), trader)
	require.NoError(t, err)
}

func (f *fixture) month(t *testing.T, m contracts.Month) *contracts.MonthlyAggregate {
	t.Helper()
	agg, err := f.svc.GetMonth(context.Background(), 1, m)
	require.NoError(t, err)
	return agg
}

func (f *fixture) assertConsistent(t *testing.T, strategyID int64) {
	t.Helper()
	report, err := f.svc.Verify(context.Background(), strategyID)
	require.NoError(t, err)
	assert.Truef(t, report.Consistent(), "mismatches: %+v", report.Mismatches)
}

func TestService_SingleRecordFirstMonth(t *testing.T) {
	f := newFixture(t)
	f.upsert(t, day(2024, 1, 5), "1000", "50")

	jan := f.month(t, jan2024)
	assertDec(t, "1000", jan.NetFlow, "netFlow")
	assertDec(t, "50", jan.MonthlyProfitLoss, "monthlyPL")
	assertDec(t, "50", jan.CumulativeProfitLoss, "cumPL")
	assertDec(t, "1050", jan.ClosingReferencePrice, "refPrice")
	assertDec(t, "5", jan.MonthlyReturn, "monthlyReturn")
	assertDec(t, "5", jan.CumulativeReturn, "cumReturn")
}

func TestService_SecondMonthChainsFromFirst(t *testing.T) {
	f := newFixture(t)
	f.upsert(t, day(2024, 1, 5), "1000", "50")
	f.upsert(t, day(2024, 2, 10), "0", "-20")

	feb := f.month(t, feb2024)
	assertDec(t, "-20", feb.MonthlyProfitLoss, "monthlyPL")
	assertDec(t, "30", feb.CumulativeProfitLoss, "cumPL")
	assertDec(t, "-2", feb.MonthlyReturn, "monthlyReturn")
	assertDec(t, "2.9", feb.CumulativeReturn, "cumReturn")
	f.assertConsistent(t, 1)
}

func TestService_WipedOutStrategyStaysAtFloor(t *testing.T) {
	f := newFixture(t)
	f.upsert(t, day(2024, 1, 5), "1000", "-1500")
	f.upsert(t, day(2024, 2, 5), "0", "10")

	jan := f.month(t, jan2024)
	assertDec(t, "0", jan.ClosingReferencePrice, "jan ref")
	assertDec(t, "-100", jan.CumulativeReturn, "jan cumReturn")

	feb := f.month(t, feb2024)
	assertDec(t, "0", feb.ClosingReferencePrice, "feb ref")
	assertDec(t, "0", feb.MonthlyReturn, "feb monthlyReturn")
	assertDec(t, "-100", feb.CumulativeReturn, "feb cumReturn")
	assertDec(t, "-1490", feb.CumulativeProfitLoss, "feb cumPL")
	f.assertConsistent(t, 1)
}

func TestService_CorrectionCascadesForward(t *testing.T) {
	f := newFixture(t)
	f.upsert(t, day(2024, 1, 5), "1000", "50")
	f.upsert(t, day(2024, 2, 10), "0", "-20")

	f.upsert(t, day(2024, 1, 5), "1000", "80")

	jan := f.month(t, jan2024)
	assertDec(t, "80", jan.CumulativeProfitLoss, "jan cumPL")
	assertDec(t, "1080", jan.ClosingReferencePrice, "jan ref")

	feb := f.month(t, feb2024)
	assertDec(t, "60", feb.CumulativeProfitLoss, "feb cumPL")
	assertDec(t, "1058.4", feb.ClosingReferencePrice, "feb ref")
	assertDec(t, "-2", feb.MonthlyReturn, "feb monthlyReturn")
	f.assertConsistent(t, 1)
}

func TestService_BackfillEarlierMonth(t *testing.T) {
	f := newFixture(t)
	f.upsert(t, day(2024, 1, 5), "1000", "50")
	f.upsert(t, day(2024, 3, 4), "", "10")

	// a month before every existing aggregate becomes the new chain start
	f.upsert(t, day(2023, 12, 1), "500", "25")

	dec2023 := f.month(t, contracts.Month{Year: 2023, Month: time.December})
	assertDec(t, "1050", dec2023.ClosingReferencePrice, "dec ref")

	jan := f.month(t, jan2024)
	assertDec(t, "75", jan.CumulativeProfitLoss, "jan cumPL")
	assertDec(t, "1500", jan.ClosingPrincipal, "jan principal")

	mar := f.month(t, mar2024)
	assertDec(t, "85", mar.CumulativeProfitLoss, "mar cumPL")

	_, err := f.svc.GetMonth(context.Background(), 1, feb2024)
	assert.True(t, contracts.IsKind(err, contracts.KindAggregateNotFound), "gap months have no aggregate")

	f.assertConsistent(t, 1)
}

func TestService_ApplyBatchIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	batch := []*contracts.DailyRecord{
		rec(day(2024, 2, 10), "0", "-20"),
		rec(day(2024, 1, 5), "1000", "50"),
		rec(day(2024, 1, 6), "", "3.123456"),
	}

	stored, err := f.svc.ApplyBatch(ctx, 1, batch)
	require.NoError(t, err)
	require.Len(t, stored, 3)
	assert.Equal(t, day(2024, 2, 10), stored[0].Date, "input order is kept")
	assert.Equal(t, "3.1235", stored[2].DailyProfitLoss.Decimal.String(), "amounts are rounded on the way in")

	first, err := f.svc.ListMonthly(ctx, 1)
	require.NoError(t, err)

	_, err = f.svc.ApplyBatch(ctx, 1, batch)
	require.NoError(t, err)
	second, err := f.svc.ListMonthly(ctx, 1)
	require.NoError(t, err)

	require.Len(t, second, len(first))
	for i := range first {
		assert.True(t, first[i].SameFigures(second[i]), "month %s changed", first[i].AnalysisMonth)
	}
}

func TestService_ApplyBatchEmpty(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.ApplyBatch(context.Background(), 1, nil)
	assert.True(t, contracts.IsKind(err, contracts.KindEmptyBatch))
}

func TestService_Authorization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.UpsertDailyRecord(ctx, 2, input(day(2024, 1, 5), "1000", "50"), trader)
	assert.True(t, contracts.IsKind(err, contracts.KindAccessDenied))

	_, err = f.svc.UpsertDailyRecord(ctx, 99, input(day(2024, 1, 5), "1000", "50"), admin)
	assert.True(t, contracts.IsKind(err, contracts.KindStrategyNotFound))

	// admin submissions skip the owner check
	_, err = f.svc.UpsertDailyRecord(ctx, 2, input(day(2024, 1, 5), "1000", "50"), admin)
	require.NoError(t, err)

	err = f.svc.DeleteDailyRecord(ctx, 2, day(2024, 1, 5), trader)
	assert.True(t, contracts.IsKind(err, contracts.KindAccessDenied))

	ids, err := f.svc.StrategyIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, ids, "denied writes leave nothing behind")
}

func TestService_UpsertRequiresDate(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.UpsertDailyRecord(context.Background(), 1, contracts.DailyRecord{}, trader)
	assert.True(t, contracts.IsKind(err, contracts.KindInvalidArgument))
}

func TestService_UpsertRunsValidator(t *testing.T) {
	f := newFixture(t, WithValidator(rejectingValidator{}))
	_, err := f.svc.UpsertDailyRecord(context.Background(), 1, input(day(2024, 1, 5), "", "2000000"), trader)
	require.Error(t, err)
	assert.True(t, contracts.IsKind(err, contracts.KindFieldValidationFailed))

	var statsErr *contracts.Error
	require.True(t, errors.As(err, &statsErr))
	assert.Len(t, statsErr.Rows, 1)
}

func TestService_UpsertAuthorizesBeforeValidating(t *testing.T) {
	f := newFixture(t, WithValidator(rejectingValidator{}))
	ctx := context.Background()
	invalid := input(day(2024, 1, 5), "", "2000000")

	tests := []struct {
		name       string
		strategyID int64
		submitter  contracts.Submitter
		want       contracts.ErrorKind
	}{
		{"not the owner", 2, trader, contracts.KindAccessDenied},
		{"unknown strategy", 99, admin, contracts.KindStrategyNotFound},
		{"owner", 1, trader, contracts.KindFieldValidationFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.UpsertDailyRecord(ctx, tt.strategyID, invalid, tt.submitter)
			require.Error(t, err)
			assert.Equal(t, tt.want, contracts.KindOf(err))
		})
	}
}

func TestService_DeleteLastRecordOfMonth(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.upsert(t, day(2024, 1, 5), "1000", "50")
	f.upsert(t, day(2024, 2, 10), "0", "-20")
	f.upsert(t, day(2024, 3, 1), "", "10")

	require.NoError(t, f.svc.DeleteDailyRecord(ctx, 1, day(2024, 2, 10), trader))

	_, err := f.svc.GetMonth(ctx, 1, feb2024)
	assert.True(t, contracts.IsKind(err, contracts.KindAggregateNotFound))

	// March now chains straight from January
	mar := f.month(t, mar2024)
	assertDec(t, "60", mar.CumulativeProfitLoss, "mar cumPL")
	assertDec(t, "1060.5", mar.ClosingReferencePrice, "mar ref")
	f.assertConsistent(t, 1)
}

func TestService_DeleteMissingDateRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.upsert(t, day(2024, 1, 5), "1000", "50")
	f.upsert(t, day(2024, 1, 6), "", "5")

	err := f.svc.DeleteDailyRecords(ctx, 1, []time.Time{day(2024, 1, 6), day(2024, 1, 7)}, trader)
	assert.True(t, contracts.IsKind(err, contracts.KindRecordNotFound))

	records, err := f.svc.ListDailyRecords(ctx, 1, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Len(t, records, 2)

	err = f.svc.DeleteDailyRecords(ctx, 1, nil, trader)
	assert.True(t, contracts.IsKind(err, contracts.KindInvalidArgument))
}

func TestService_DeleteHistoryFromMonth(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.upsert(t, day(2024, 1, 5), "1000", "50")
	f.upsert(t, day(2024, 2, 10), "0", "-20")
	f.upsert(t, day(2024, 3, 1), "", "10")

	res, err := f.svc.DeleteHistoryFromMonth(ctx, 1, feb2024)
	require.NoError(t, err)
	assert.Equal(t, &PurgeResult{DailyDeleted: 2, MonthlyDeleted: 2}, res)

	list, err := f.svc.ListMonthly(ctx, 1)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, jan2024, list[0].AnalysisMonth)
	assertDec(t, "50", list[0].CumulativeProfitLoss, "jan cumPL")
	f.assertConsistent(t, 1)

	_, err = f.svc.DeleteHistoryFromMonth(ctx, 1, contracts.Month{})
	assert.True(t, contracts.IsKind(err, contracts.KindInvalidArgument))
}

func TestService_DeleteStrategyHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.upsert(t, day(2024, 1, 5), "1000", "50")
	f.upsert(t, day(2024, 2, 10), "0", "-20")

	res, err := f.svc.DeleteStrategyHistory(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.DailyDeleted)
	assert.Equal(t, int64(2), res.MonthlyDeleted)

	page, err := f.svc.GetMonthlyPage(ctx, 1, 1, 10)
	require.NoError(t, err)
	assert.Zero(t, page.TotalCount)
	assert.Empty(t, page.Items)
}

// failingStore fails the monthly upsert of one month inside transactions
type failingStore struct {
	*memory.Store
	failMonth contracts.Month
}

var errInjected = errors.New("injected failure")

func (s *failingStore) WithinTx(ctx context.Context, strategyID int64, fn func(ctx context.Context, tx contracts.StatisticsTx) error) error {
	return s.Store.WithinTx(ctx, strategyID, func(ctx context.Context, tx contracts.StatisticsTx) error {
		return fn(ctx, &failingTx{StatisticsTx: tx, failMonth: s.failMonth})
	})
}

type failingTx struct {
	contracts.StatisticsTx
	failMonth contracts.Month
}

func (t *failingTx) Monthly() contracts.MonthlyAggregateRepository {
	return &failingMonthly{MonthlyAggregateRepository: t.StatisticsTx.Monthly(), failMonth: t.failMonth}
}

type failingMonthly struct {
	contracts.MonthlyAggregateRepository
	failMonth contracts.Month
}

func (m *failingMonthly) Upsert(ctx context.Context, agg *contracts.MonthlyAggregate) error {
	if agg.AnalysisMonth == m.failMonth {
		return errInjected
	}
	return m.MonthlyAggregateRepository.Upsert(ctx, agg)
}

func TestService_CascadeFailureRollsBackEverything(t *testing.T) {
	base := memory.New()
	dir := directory.NewMemory()
	dir.Register(1, "trader-1")
	ctx := context.Background()

	healthy := NewService(base, dir, DefaultBaselinePrice, logger.Nop())
	_, err := healthy.ApplyBatch(ctx, 1, []*contracts.DailyRecord{
		rec(day(2024, 1, 5), "1000", "50"),
		rec(day(2024, 2, 10), "0", "-20"),
	})
	require.NoError(t, err)
	before, err := healthy.ListMonthly(ctx, 1)
	require.NoError(t, err)

	events := &recordingPublisher{}
	broken := NewService(&failingStore{Store: base, failMonth: feb2024}, dir, DefaultBaselinePrice, logger.Nop(), WithEvents(events))
	_, err = broken.UpsertDailyRecord(ctx, 1, input(day(2024, 1, 5), "1000", "80"), trader)
	require.Error(t, err)
	assert.ErrorIs(t, err, errInjected)
	assert.Contains(t, err.Error(), "2024-02")
	assert.Empty(t, events.snapshot(), "no event for a rolled back write")

	got, err := base.Daily().Get(ctx, 1, day(2024, 1, 5))
	require.NoError(t, err)
	assert.Equal(t, "50", got.DailyProfitLoss.Decimal.String(), "daily write rolled back")

	after, err := healthy.ListMonthly(ctx, 1)
	require.NoError(t, err)
	require.Len(t, after, len(before))
	for i := range before {
		assert.True(t, before[i].SameFigures(after[i]))
	}
}

func TestService_MonthlyPage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for m := time.January; m <= time.May; m++ {
		f.upsert(t, day(2024, m, 3), "100", "1")
	}

	page, err := f.svc.GetMonthlyPage(ctx, 1, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(5), page.TotalCount)
	assert.Equal(t, 3, page.TotalPages())
	require.Len(t, page.Items, 2)
	assert.Equal(t, "2024-05", page.Items[0].AnalysisMonth.String())
	assert.Equal(t, "2024-04", page.Items[1].AnalysisMonth.String())

	tests := []struct {
		name     string
		page     int
		pageSize int
	}{
		{"zero page", 0, 10},
		{"zero size", 1, 0},
		{"oversized", 1, contracts.MaxPageSize + 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.GetMonthlyPage(ctx, 1, tt.page, tt.pageSize)
			assert.True(t, contracts.IsKind(err, contracts.KindInvalidArgument))
		})
	}
}

func TestService_ListDailyRecords(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.upsert(t, day(2024, 1, 5), "1000", "50")
	f.upsert(t, day(2024, 1, 9), "", "5")
	f.upsert(t, day(2024, 2, 1), "", "5")

	records, err := f.svc.ListDailyRecords(ctx, 1, day(2024, 1, 6), day(2024, 2, 1))
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, day(2024, 1, 9), records[0].Date)

	_, err = f.svc.ListDailyRecords(ctx, 1, day(2024, 2, 1), day(2024, 1, 1))
	assert.True(t, contracts.IsKind(err, contracts.KindInvalidArgument))
}

func TestService_VerifyAndRebuild(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.upsert(t, day(2024, 1, 5), "1000", "50")
	f.upsert(t, day(2024, 2, 10), "0", "-20")

	tampered := f.month(t, feb2024)
	tampered.CumulativeProfitLoss = dec("999")
	require.NoError(t, f.store.Monthly().Upsert(ctx, tampered))
	orphan := &contracts.MonthlyAggregate{StrategyID: 1, AnalysisMonth: mar2024, TradingDays: 1}
	require.NoError(t, f.store.Monthly().Upsert(ctx, orphan))

	report, err := f.svc.Verify(ctx, 1)
	require.NoError(t, err)
	require.Len(t, report.Mismatches, 2)
	assert.Equal(t, MismatchDifference, report.Mismatches[0].Reason)
	assert.Equal(t, "2024-02", report.Mismatches[0].Month)
	assert.Equal(t, MismatchOrphan, report.Mismatches[1].Reason)
	assert.Equal(t, 3, report.Checked)

	rebuilt, err := f.svc.Rebuild(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, rebuilt, 2)
	f.assertConsistent(t, 1)

	reports, err := f.svc.VerifyAll(ctx)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.True(t, reports[0].Consistent())
}

func TestService_VerifyReportsMissing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.upsert(t, day(2024, 1, 5), "1000", "50")
	require.NoError(t, f.store.Monthly().Delete(ctx, 1, jan2024))

	report, err := f.svc.Verify(ctx, 1)
	require.NoError(t, err)
	require.Len(t, report.Mismatches, 1)
	assert.Equal(t, MismatchMissing, report.Mismatches[0].Reason)
}

func TestService_CascadeMatchesFullRecomputation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// deterministic mix of backfills, corrections and deletions across a year
	steps := []struct {
		date   time.Time
		depWd  string
		pl     string
		delete bool
	}{
		{date: day(2024, 6, 3), depWd: "5000", pl: "120"},
		{date: day(2024, 2, 1), depWd: "1000", pl: "-15.5"},
		{date: day(2024, 9, 30), depWd: "-700", pl: "33.3333"},
		{date: day(2024, 2, 14), pl: "8"},
		{date: day(2024, 6, 3), depWd: "4500", pl: "90"},
		{date: day(2024, 11, 5), pl: "-250"},
		{date: day(2024, 2, 1), delete: true},
		{date: day(2023, 12, 29), depWd: "2000"},
		{date: day(2024, 9, 30), delete: true},
	}

	for i, step := range steps {
		if step.delete {
			require.NoError(t, f.svc.DeleteDailyRecord(ctx, 1, step.date, trader), "step %d", i)
		} else {
			f.upsert(t, step.date, step.depWd, step.pl)
		}
		f.assertConsistent(t, 1)
	}

	records, err := f.svc.ListDailyRecords(ctx, 1, time.Time{}, time.Time{})
	require.NoError(t, err)
	stored, err := f.svc.ListMonthly(ctx, 1)
	require.NoError(t, err)

	expected := ComputeChain(1, records, DefaultBaselinePrice)
	require.Len(t, stored, len(expected))
	for i := range expected {
		assert.True(t, expected[i].SameFigures(stored[i]), "month %s", expected[i].AnalysisMonth)
	}
}

func TestService_ConcurrentWritesStayConsistent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 24)
	for i := 0; i < 24; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			date := day(2024, time.Month(i%12+1), i/12+1)
			_, err := f.svc.UpsertDailyRecord(ctx, 1, input(date, "100", fmt.Sprintf("%d", i)), trader)
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	list, err := f.svc.ListMonthly(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, list, 12)
	f.assertConsistent(t, 1)
	assert.Zero(t, f.svc.locks.size())
}

func TestService_PublishesEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.upsert(t, day(2024, 1, 5), "1000", "50")
	f.upsert(t, day(2024, 2, 10), "0", "-20")
	f.upsert(t, day(2024, 1, 5), "1000", "80")
	_, err := f.svc.DeleteHistoryFromMonth(ctx, 1, feb2024)
	require.NoError(t, err)

	events := f.events.snapshot()
	require.Len(t, events, 4)
	assert.Equal(t, contracts.EventMonthlyRecomputed, events[0].Type)
	assert.Equal(t, []string{"2024-01"}, events[0].Months)
	assert.Equal(t, []string{"2024-01", "2024-02"}, events[2].Months)
	assert.Equal(t, contracts.EventHistoryDeleted, events[3].Type)
	assert.Equal(t, "2024-02", events[3].FromMonth)
	assert.Equal(t, int64(1), events[3].StrategyID)
}
