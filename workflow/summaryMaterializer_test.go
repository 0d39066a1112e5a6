package workflow

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmdatafocus/txsummary/config"
	"github.com/mmdatafocus/txsummary/models"
	"github.com/mmdatafocus/txsummary/utils"
)

const (
	merchantA = "7d3c1b7e-2f1a-4c55-9a39-3f7f4a0c2b11"
	merchantB = "0b6f2f8e-5c1d-4e0a-8f7b-2d9c6a1e4b22"
)

func newTestStore(t *testing.T) *models.Store {
	t.Helper()
	db, err := config.ConnectDatabaseWithRetry(context.Background(), config.Settings{DBDriver: "sqlite", SQLitePath: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, models.MigrateTable(db))
	s := models.NewStore(db)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func at(s string) *time.Time {
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	ts = ts.UTC()
	return &ts
}

func merchant(id string) *string {
	return &id
}

func seed(t *testing.T, s *models.Store, txs ...models.Transaction) {
	t.Helper()
	require.NoError(t, s.InsertTransactions(context.Background(), txs))
}

func scenario() []models.Transaction {
	return []models.Transaction{
		{MerchantId: merchant(merchantA), Amount: decimal.RequireFromString("10.5"), CreatedAt: at("2024-03-20T10:00:00Z"), Status: "success"},
		{MerchantId: merchant(merchantA), Amount: decimal.RequireFromString("2.25"), CreatedAt: at("2024-03-20T12:30:00Z"), Status: "success"},
		{MerchantId: merchant(merchantA), Amount: decimal.RequireFromString("5"), CreatedAt: at("2024-03-21T09:00:00Z"), Status: "success"},
		{MerchantId: merchant(merchantA), Amount: decimal.RequireFromString("100"), Status: "success"},
		{MerchantId: merchant(merchantB), Amount: decimal.RequireFromString("7"), CreatedAt: at("2024-04-01T08:00:00Z"), Status: "success"},
		{Amount: decimal.RequireFromString("1"), CreatedAt: at("2024-03-20T08:00:00Z"), Status: "success"},
	}
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestMaterializer(store SummaryStore, c *clock) *Materializer {
	m := NewMaterializer(store, quietLogger())
	m.Now = c.Now
	return m
}

func listSummaries(t *testing.T, s *models.Store, mode models.TimeMode, merchantId string) []models.TransactionSummary {
	t.Helper()
	out, err := s.ListSummaries(context.Background(), models.SummaryFilter{Mode: mode, MerchantId: merchantId})
	require.NoError(t, err)
	return out
}

func TestMaterializeAll_MerchantDailyScenario(t *testing.T) {
	s := newTestStore(t)
	seed(t, s, scenario()...)

	report, err := newTestMaterializer(s, newClock()).MaterializeAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Errors)
	assert.Equal(t, 2, report.MerchantsProcessed)
	assert.NotEmpty(t, report.RunId)

	daily := listSummaries(t, s, models.TimeModeDaily, merchantA)
	require.Len(t, daily, 2)
	assert.Equal(t, models.JalaliDateFields{Year: 1403, Month: 1, Day: 1, Week: 1}, daily[0].Date)
	assert.Equal(t, models.GregorianDateFields{Year: 2024, Month: 3, Day: 20}, daily[0].GregorianDate)
	assert.Equal(t, int64(2), daily[0].Count)
	assert.True(t, decimal.RequireFromString("12.75").Equal(daily[0].Amount), daily[0].Amount.String())
	assert.Equal(t, models.JalaliDateFields{Year: 1403, Month: 1, Day: 2, Week: 1}, daily[1].Date)
	assert.Equal(t, int64(1), daily[1].Count)

	weekly := listSummaries(t, s, models.TimeModeWeekly, merchantA)
	require.Len(t, weekly, 1)
	assert.Equal(t, models.JalaliDateFields{Year: 1402, Week: 51}, weekly[0].Date)
	assert.Equal(t, int64(3), weekly[0].Count)

	monthly := listSummaries(t, s, models.TimeModeMonthly, merchantA)
	require.Len(t, monthly, 1)
	assert.Equal(t, models.JalaliDateFields{Year: 1402, Month: 12}, monthly[0].Date)
	assert.True(t, decimal.RequireFromString("17.75").Equal(monthly[0].Amount))

	b := listSummaries(t, s, models.TimeModeMonthly, merchantB)
	require.Len(t, b, 1)
	assert.Equal(t, models.JalaliDateFields{Year: 1403, Month: 1}, b[0].Date)
}

func TestMaterializeAll_IsIdempotent(t *testing.T) {
	s := newTestStore(t)
	seed(t, s, scenario()...)
	c := newClock()
	m := newTestMaterializer(s, c)

	first, err := m.MaterializeAll(context.Background())
	require.NoError(t, err)
	before := map[models.TimeMode][]models.TransactionSummary{}
	for _, mode := range models.TimeModes() {
		before[mode] = listSummaries(t, s, mode, merchantA)
	}

	c.Advance(time.Hour)
	second, err := m.MaterializeAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first.BucketsWritten, second.BucketsWritten)
	assert.Zero(t, second.BucketsPruned)
	assert.NotEqual(t, first.RunId, second.RunId)

	for _, mode := range models.TimeModes() {
		after := listSummaries(t, s, mode, merchantA)
		require.Len(t, after, len(before[mode]), mode.String())
		for i := range after {
			assert.Equal(t, before[mode][i].Key(), after[i].Key())
			assert.Equal(t, before[mode][i].Count, after[i].Count)
			assert.True(t, before[mode][i].Amount.Equal(after[i].Amount))
		}
	}
}

func TestMaterializeAll_SumsMatchTransactionsWithCreatedAt(t *testing.T) {
	s := newTestStore(t)
	seed(t, s, scenario()...)

	_, err := newTestMaterializer(s, newClock()).MaterializeAll(context.Background())
	require.NoError(t, err)

	for _, mode := range models.TimeModes() {
		var count int64
		amount := decimal.Zero
		for _, rec := range listSummaries(t, s, mode, merchantA) {
			count += rec.Count
			amount = amount.Add(rec.Amount)
		}
		// the transaction without created_at is left out
		assert.Equal(t, int64(3), count, mode.String())
		assert.True(t, decimal.RequireFromString("17.75").Equal(amount), mode.String())
	}
}

func TestMaterializeAll_GlobalScope(t *testing.T) {
	s := newTestStore(t)
	seed(t, s, scenario()...)
	m := newTestMaterializer(s, newClock())
	m.Scope = models.SummaryScopeGlobal

	report, err := m.MaterializeAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.MerchantsProcessed)

	global, err := s.ListSummaries(context.Background(), models.SummaryFilter{Mode: models.TimeModeDaily, Scope: models.SummaryScopeGlobal})
	require.NoError(t, err)
	require.Len(t, global, 3)
	assert.Equal(t, int64(3), global[0].Count) // two from merchant A plus one without merchant
	assert.Empty(t, global[0].MerchantId)

	perMerchant, err := s.ListSummaries(context.Background(), models.SummaryFilter{Mode: models.TimeModeDaily})
	require.NoError(t, err)
	assert.Empty(t, perMerchant)
}

func TestMaterializeAll_MerchantRestriction(t *testing.T) {
	s := newTestStore(t)
	seed(t, s, scenario()...)
	m := newTestMaterializer(s, newClock())
	m.MerchantIds = []string{merchantB, " " + merchantB}

	report, err := m.MaterializeAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.MerchantsProcessed)
	assert.Empty(t, listSummaries(t, s, models.TimeModeDaily, merchantA))
	assert.Len(t, listSummaries(t, s, models.TimeModeDaily, merchantB), 1)
}

func TestMaterializeAll_StatusFilter(t *testing.T) {
	s := newTestStore(t)
	seed(t, s, scenario()...)
	seed(t, s, models.Transaction{MerchantId: merchant(merchantA), Amount: decimal.NewFromInt(50), CreatedAt: at("2024-03-20T15:00:00Z"), Status: "failed"})
	m := newTestMaterializer(s, newClock())
	m.Statuses = []string{"success"}

	_, err := m.MaterializeAll(context.Background())
	require.NoError(t, err)
	daily := listSummaries(t, s, models.TimeModeDaily, merchantA)
	require.Len(t, daily, 2)
	assert.Equal(t, int64(2), daily[0].Count)
}

func TestMaterializeAll_PrunesVanishedBuckets(t *testing.T) {
	s := newTestStore(t)
	seed(t, s, scenario()...)
	c := newClock()
	m := newTestMaterializer(s, c)

	_, err := m.MaterializeAll(context.Background())
	require.NoError(t, err)
	require.Len(t, listSummaries(t, s, models.TimeModeDaily, merchantA), 2)

	require.NoError(t, s.DB().Where("created_at >= ?", *at("2024-03-21T00:00:00Z")).
		Where("merchant_id = ?", merchantA).
		Delete(&models.Transaction{}).Error)

	c.Advance(time.Hour)
	report, err := m.MaterializeAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), report.BucketsPruned)

	daily := listSummaries(t, s, models.TimeModeDaily, merchantA)
	require.Len(t, daily, 1)
	assert.Equal(t, 1, daily[0].Date.Day)
}

func TestMaterializeAll_NoPruneKeepsOldBuckets(t *testing.T) {
	s := newTestStore(t)
	seed(t, s, scenario()...)
	c := newClock()
	m := newTestMaterializer(s, c)
	m.PruneStale = false

	_, err := m.MaterializeAll(context.Background())
	require.NoError(t, err)
	require.NoError(t, s.DB().Where("merchant_id = ?", merchantA).Delete(&models.Transaction{}).Error)

	c.Advance(time.Hour)
	report, err := m.MaterializeAll(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.BucketsPruned)
	assert.Len(t, listSummaries(t, s, models.TimeModeDaily, merchantA), 2)
}

// flakyStore fails selected operations of the wrapped store.
type flakyStore struct {
	SummaryStore
	failUpsert    func(rec *models.TransactionSummary) error
	failAggregate func(p models.Pipeline) error
}

func (f *flakyStore) UpsertSummary(ctx context.Context, rec *models.TransactionSummary) error {
	if f.failUpsert != nil {
		if err := f.failUpsert(rec); err != nil {
			return err
		}
	}
	return f.SummaryStore.UpsertSummary(ctx, rec)
}

func (f *flakyStore) Aggregate(ctx context.Context, p models.Pipeline) ([]models.GroupedRow, error) {
	if f.failAggregate != nil {
		if err := f.failAggregate(p); err != nil {
			return nil, err
		}
	}
	return f.SummaryStore.Aggregate(ctx, p)
}

func TestMaterializeAll_IsolatesBucketFailures(t *testing.T) {
	s := newTestStore(t)
	seed(t, s, scenario()...)
	store := &flakyStore{
		SummaryStore: s,
		failUpsert: func(rec *models.TransactionSummary) error {
			if rec.Type == models.TimeModeDaily && rec.Date.Day == 1 && rec.MerchantId == merchantA {
				return errors.New("constraint violated")
			}
			return nil
		},
	}

	var progress []Progress
	var mu sync.Mutex
	m := newTestMaterializer(store, newClock())
	m.OnProgress = func(p Progress) {
		mu.Lock()
		progress = append(progress, p)
		mu.Unlock()
	}

	report, err := m.MaterializeAll(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, merchantA, report.Errors[0].MerchantId)
	assert.Equal(t, models.TimeModeDaily, report.Errors[0].Mode)
	assert.Equal(t, "2024-03-20", report.Errors[0].BucketKey)

	daily := listSummaries(t, s, models.TimeModeDaily, merchantA)
	require.Len(t, daily, 1)
	assert.Equal(t, 2, daily[0].Date.Day)
	assert.Len(t, listSummaries(t, s, models.TimeModeMonthly, merchantA), 1)
	assert.Len(t, progress, 6)
}

func TestMaterializeAll_AbortsWhenStoreUnavailable(t *testing.T) {
	s := newTestStore(t)
	seed(t, s, scenario()...)
	store := &flakyStore{
		SummaryStore: s,
		failAggregate: func(p models.Pipeline) error {
			if p.Mode == models.TimeModeWeekly {
				return &utils.StoreUnavailableError{Op: "aggregate weekly", Err: errors.New("connection refused")}
			}
			return nil
		},
	}
	m := newTestMaterializer(store, newClock())
	m.Concurrency = 1

	report, err := m.MaterializeAll(context.Background())
	require.Error(t, err)
	assert.True(t, utils.IsStoreUnavailable(err))
	require.NotNil(t, report)
	assert.Zero(t, report.MerchantsProcessed)
	assert.False(t, report.FinishedAt.IsZero())
}

func TestMaterializeAll_PingFailureIsFatal(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Close())

	report, err := newTestMaterializer(s, newClock()).MaterializeAll(context.Background())
	assert.True(t, utils.IsStoreUnavailable(err))
	require.NotNil(t, report)
	assert.Zero(t, report.BucketsWritten)
}

func TestMaterializeAll_Cancelled(t *testing.T) {
	s := newTestStore(t)
	seed(t, s, scenario()...)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestMaterializer(s, newClock()).MaterializeAll(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, listSummaries(t, s, models.TimeModeDaily, merchantA))
}

func TestBuildBucketResults_MergesCollidingWeeks(t *testing.T) {
	runAt := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	rows := []models.GroupedRow{
		{Year: 2024, Week: 53, Count: 2, Amount: decimal.NewFromInt(20)},
		{Year: 2025, Week: 0, Count: 3, Amount: decimal.NewFromInt(30)},
		{Year: 2025, Week: 1, Count: 1, Amount: decimal.NewFromInt(1)},
	}

	results := BuildBucketResults(merchantA, models.TimeModeWeekly, rows, runAt)
	require.Len(t, results, 2)
	require.NoError(t, results[0].Err)
	assert.Equal(t, int64(5), results[0].Record.Count)
	assert.True(t, decimal.NewFromInt(50).Equal(results[0].Record.Amount))
	assert.Equal(t, models.GregorianDateFields{Year: 2024, Week: 53}, results[0].Record.GregorianDate)
	assert.Equal(t, runAt, results[0].Record.CreatedAt)
	assert.NotEqual(t, results[0].Record.Date, results[1].Record.Date)
}

func TestBuildBucketResults_ReportsInvalidDates(t *testing.T) {
	rows := []models.GroupedRow{
		{Year: 2024, Month: 2, Day: 30, Count: 1},
		{Year: 2024, Month: 3, Day: 1, Count: 1},
	}
	results := BuildBucketResults(merchantA, models.TimeModeDaily, rows, time.Now())
	require.Len(t, results, 2)
	assert.True(t, utils.IsInvalidDate(results[0].Err))
	assert.Nil(t, results[0].Record)
	assert.NoError(t, results[1].Err)
}

func TestMaterializeAll_AmountsAreExact(t *testing.T) {
	s := newTestStore(t)
	txs := make([]models.Transaction, 0, 12)
	for i := 0; i < 10; i++ {
		txs = append(txs, models.Transaction{MerchantId: merchant(merchantA), Amount: decimal.RequireFromString("0.1"), CreatedAt: at("2024-03-20T10:00:00Z"), Status: "success"})
	}
	txs = append(txs,
		models.Transaction{MerchantId: merchant(merchantA), Amount: decimal.RequireFromString("0.1"), CreatedAt: at("2024-03-21T10:00:00Z"), Status: "success"},
		models.Transaction{MerchantId: merchant(merchantA), Amount: decimal.RequireFromString("0.2"), CreatedAt: at("2024-03-21T11:00:00Z"), Status: "success"},
	)
	seed(t, s, txs...)

	report, err := newTestMaterializer(s, newClock()).MaterializeAll(context.Background())
	require.NoError(t, err)
	require.Empty(t, report.Errors)

	daily := listSummaries(t, s, models.TimeModeDaily, merchantA)
	require.Len(t, daily, 2)
	assert.True(t, decimal.NewFromInt(1).Equal(daily[0].Amount), daily[0].Amount.String())
	assert.True(t, decimal.RequireFromString("0.3").Equal(daily[1].Amount), daily[1].Amount.String())

	monthly := listSummaries(t, s, models.TimeModeMonthly, merchantA)
	require.Len(t, monthly, 1)
	assert.True(t, decimal.RequireFromString("1.3").Equal(monthly[0].Amount), monthly[0].Amount.String())
}
