package reports

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/mmdatafocus/txsummary/config"
	"github.com/mmdatafocus/txsummary/models"
	"github.com/mmdatafocus/txsummary/utils"
	"github.com/mmdatafocus/txsummary/workflow"
)

const (
	merchantA = "7d3c1b7e-2f1a-4c55-9a39-3f7f4a0c2b11"
	merchantB = "0b6f2f8e-5c1d-4e0a-8f7b-2d9c6a1e4b22"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestStore(t *testing.T) *models.Store {
	t.Helper()
	db, err := config.ConnectDatabaseWithRetry(context.Background(), config.Settings{DBDriver: "sqlite", SQLitePath: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, models.MigrateTable(db))
	s := models.NewStore(db)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func tx(merchant string, at string, amount string) models.Transaction {
	ts, err := time.Parse(time.RFC3339, at)
	if err != nil {
		panic(err)
	}
	ts = ts.UTC()
	return models.Transaction{MerchantId: &merchant, Amount: decimal.RequireFromString(amount), CreatedAt: &ts, Status: "success"}
}

func seededStore(t *testing.T) *models.Store {
	t.Helper()
	s := newTestStore(t)
	require.NoError(t, s.InsertTransactions(context.Background(), []models.Transaction{
		tx(merchantA, "2024-03-20T10:00:00Z", "10.5"),
		tx(merchantA, "2024-03-20T12:00:00Z", "2.25"),
		tx(merchantA, "2024-03-21T09:00:00Z", "5"),
		tx(merchantA, "2024-03-29T09:00:00Z", "1"),
		tx(merchantB, "2024-03-20T08:00:00Z", "7"),
		tx(merchantB, "2024-12-31T08:00:00Z", "4"),
		tx(merchantB, "2025-01-02T08:00:00Z", "6"),
	}))
	return s
}

func materialize(t *testing.T, s *models.Store) {
	t.Helper()
	report, err := workflow.NewMaterializer(s, quietLogger()).MaterializeAll(context.Background())
	require.NoError(t, err)
	require.Empty(t, report.Errors)
}

func keys(rows []ReportRow) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.Key
	}
	return out
}

func TestLiveReport_DailyCount(t *testing.T) {
	svc := NewService(seededStore(t), ServiceOptions{Logger: quietLogger()})

	rows, err := svc.LiveReport(context.Background(), ReportQuery{Metric: models.ReportMetricCount, Mode: models.TimeModeDaily, MerchantId: merchantA})
	require.NoError(t, err)
	assert.Equal(t, []string{"1403/01/01", "1403/01/02", "1403/01/10"}, keys(rows))
	assert.True(t, decimal.NewFromInt(2).Equal(rows[0].Value))
}

func TestLiveAndSummaryReportsAgree(t *testing.T) {
	s := seededStore(t)
	materialize(t, s)
	svc := NewService(s, ServiceOptions{Logger: quietLogger(), Cache: NewMemoryCache(time.Minute)})

	for _, mode := range models.TimeModes() {
		for _, metric := range []models.ReportMetric{models.ReportMetricCount, models.ReportMetricAmount} {
			for _, merchant := range []string{merchantA, merchantB} {
				q := ReportQuery{Metric: metric, Mode: mode, MerchantId: merchant}
				live, err := svc.LiveReport(context.Background(), q)
				require.NoError(t, err)
				stored, err := svc.SummaryReport(context.Background(), q)
				require.NoError(t, err)

				require.Equal(t, keys(live), keys(stored), "%s %s %s", mode, metric, merchant)
				for i := range live {
					assert.True(t, live[i].Value.Equal(stored[i].Value), "%s %s %s %s", mode, metric, merchant, live[i].Key)
				}
			}
		}
	}
}

func TestSummaryReport_SumsMerchantsWithoutFilter(t *testing.T) {
	s := seededStore(t)
	materialize(t, s)
	svc := NewService(s, ServiceOptions{Logger: quietLogger()})

	rows, err := svc.SummaryReport(context.Background(), ReportQuery{Metric: models.ReportMetricCount, Mode: models.TimeModeDaily})
	require.NoError(t, err)
	require.NotEmpty(t, rows)
	assert.Equal(t, "1403/01/01", rows[0].Key)
	assert.True(t, decimal.NewFromInt(3).Equal(rows[0].Value))

	live, err := svc.LiveReport(context.Background(), ReportQuery{Metric: models.ReportMetricCount, Mode: models.TimeModeDaily})
	require.NoError(t, err)
	assert.Equal(t, keys(live), keys(rows))
}

func TestSummaryReport_Empty(t *testing.T) {
	svc := NewService(newTestStore(t), ServiceOptions{Logger: quietLogger()})
	rows, err := svc.SummaryReport(context.Background(), ReportQuery{Metric: models.ReportMetricCount, Mode: models.TimeModeWeekly})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestSummaryReport_ServedFromCacheUntilInvalidated(t *testing.T) {
	s := seededStore(t)
	materialize(t, s)
	svc := NewService(s, ServiceOptions{Logger: quietLogger(), Cache: NewMemoryCache(time.Minute)})
	q := ReportQuery{Metric: models.ReportMetricCount, Mode: models.TimeModeMonthly, MerchantId: merchantA}

	first, err := svc.SummaryReport(context.Background(), q)
	require.NoError(t, err)
	require.Len(t, first, 1)

	require.NoError(t, s.DB().Where("merchant_id = ?", merchantA).Delete(&models.TransactionSummary{}).Error)

	cached, err := svc.SummaryReport(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, keys(first), keys(cached))

	require.NoError(t, svc.InvalidateCache(context.Background()))
	fresh, err := svc.SummaryReport(context.Background(), q)
	require.NoError(t, err)
	assert.Empty(t, fresh)
}

type failingStore struct{}

func (failingStore) Aggregate(context.Context, models.Pipeline) ([]models.GroupedRow, error) {
	return nil, &utils.StoreUnavailableError{Op: "aggregate", Err: errors.New("connection refused")}
}

func (failingStore) ListSummaries(context.Context, models.SummaryFilter) ([]models.TransactionSummary, error) {
	return nil, &utils.StoreUnavailableError{Op: "list summaries", Err: errors.New("connection refused")}
}

// outOfRangeStore yields a bucket whose year has no Jalali equivalent.
type outOfRangeStore struct{ failingStore }

func (outOfRangeStore) Aggregate(context.Context, models.Pipeline) ([]models.GroupedRow, error) {
	return []models.GroupedRow{
		{Year: 2024, Month: 3, Day: 20, Count: 1},
		{Year: 9999, Month: 1, Day: 1, Count: 1},
	}, nil
}

func TestLiveReport_FailsOnUnconvertibleBucket(t *testing.T) {
	svc := NewService(outOfRangeStore{}, ServiceOptions{Logger: quietLogger()})

	rows, err := svc.LiveReport(context.Background(), ReportQuery{Metric: models.ReportMetricCount, Mode: models.TimeModeDaily})
	require.Error(t, err)
	assert.True(t, utils.IsInvalidDate(err))
	assert.Nil(t, rows)
}

func TestReports_SurfaceStoreErrors(t *testing.T) {
	svc := NewService(failingStore{}, ServiceOptions{Logger: quietLogger()})
	q := ReportQuery{Metric: models.ReportMetricCount, Mode: models.TimeModeDaily}

	_, err := svc.LiveReport(context.Background(), q)
	assert.True(t, utils.IsStoreUnavailable(err))
	_, err = svc.SummaryReport(context.Background(), q)
	assert.True(t, utils.IsStoreUnavailable(err))
}

func TestWriteExcel(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteExcel(&buf, "amount", []ReportRow{
		{Key: "1403/01/01", Value: decimal.RequireFromString("12.75")},
		{Key: "1403/01/02", Value: decimal.NewFromInt(5)},
		{Key: "1403/01/03", Value: decimal.RequireFromString("12345678901234.5678")},
	}))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(excelSheet)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, []string{"Key", "amount"}, rows[0])
	assert.Equal(t, []string{"1403/01/01", "12.75"}, rows[1])
	assert.Equal(t, []string{"1403/01/02", "5"}, rows[2])

	// more digits than a float64 holds survive, and the cell stays numeric
	raw, err := f.GetCellValue(excelSheet, "B4", excelize.Options{RawCellValue: true})
	require.NoError(t, err)
	assert.Equal(t, "12345678901234.5678", raw)
	typ, err := f.GetCellType(excelSheet, "B4")
	require.NoError(t, err)
	assert.Contains(t, []excelize.CellType{excelize.CellTypeUnset, excelize.CellTypeNumber}, typ)
}

func TestNewCache_WithoutRedis(t *testing.T) {
	assert.Nil(t, NewCache(nil, time.Minute, false))
	assert.IsType(t, &MemoryCache{}, NewCache(nil, time.Minute, true))
}

func TestSummaryReport_UncachedReadsFreshRecords(t *testing.T) {
	s := seededStore(t)
	materialize(t, s)
	svc := NewService(s, ServiceOptions{Logger: quietLogger(), Cache: NewCache(nil, time.Minute, false)})
	q := ReportQuery{Metric: models.ReportMetricCount, Mode: models.TimeModeMonthly, MerchantId: merchantA}

	before, err := svc.SummaryReport(context.Background(), q)
	require.NoError(t, err)
	require.NotEmpty(t, before)

	_, err = s.DeleteStaleSummaries(context.Background(), merchantA, models.TimeModeMonthly, time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)

	after, err := svc.SummaryReport(context.Background(), q)
	require.NoError(t, err)
	assert.Empty(t, after)
}

func TestMemoryCache(t *testing.T) {
	c := NewMemoryCache(time.Minute)
	ctx := context.Background()

	_, ok, err := c.GetRows(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.SetRows(ctx, "k", []ReportRow{{Key: "x", Value: decimal.NewFromInt(1)}}))
	rows, ok, err := c.GetRows(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "x", rows[0].Key)

	require.NoError(t, c.Invalidate(ctx))
	_, ok, _ = c.GetRows(ctx, "k")
	assert.False(t, ok)
}
