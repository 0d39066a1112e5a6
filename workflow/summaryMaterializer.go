package workflow

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/mmdatafocus/txsummary/config"
	"github.com/mmdatafocus/txsummary/models"
	"github.com/mmdatafocus/txsummary/utils"
)

var tracer = otel.Tracer("txsummary/workflow")

const defaultConcurrency = 4

// SummaryStore is the part of models.Store the materializer needs.
type SummaryStore interface {
	Ping(ctx context.Context) error
	DistinctMerchants(ctx context.Context) ([]string, error)
	Aggregate(ctx context.Context, p models.Pipeline) ([]models.GroupedRow, error)
	UpsertSummary(ctx context.Context, rec *models.TransactionSummary) error
	DeleteStaleSummaries(ctx context.Context, merchantId string, mode models.TimeMode, before time.Time) (int64, error)
}

// BucketError is a failure confined to one bucket. The run carries on.
type BucketError struct {
	MerchantId string
	Mode       models.TimeMode
	BucketKey  string
	Err        error
}

func (e BucketError) Error() string {
	return fmt.Sprintf("merchant %q %s bucket %s: %v", e.MerchantId, e.Mode, e.BucketKey, e.Err)
}

func (e BucketError) Unwrap() error {
	return e.Err
}

// BucketResult is either a summary ready to upsert or the reason the bucket
// could not be converted.
type BucketResult struct {
	Key    models.GroupKey
	Record *models.TransactionSummary
	Err    error
}

type MaterializeReport struct {
	RunId              string
	Scope              models.SummaryScope
	MerchantsProcessed int
	BucketsWritten     int
	BucketsPruned      int64
	Errors             []BucketError
	StartedAt          time.Time
	FinishedAt         time.Time
}

// Progress is reported once per finished merchant x mode unit.
type Progress struct {
	MerchantId string
	Mode       models.TimeMode
	Written    int
	Failed     int
	Pruned     int64
}

type Materializer struct {
	store  SummaryStore
	logger *logrus.Logger

	Scope       models.SummaryScope
	Concurrency int
	PruneStale  bool
	// Statuses restricts the transactions counted; empty counts every status.
	Statuses []string
	// MerchantIds restricts a merchant-scope run to the listed merchants.
	MerchantIds []string
	Now         func() time.Time
	OnProgress  func(Progress)

	mu sync.Mutex
}

func NewMaterializer(store SummaryStore, logger *logrus.Logger) *Materializer {
	if logger == nil {
		logger = config.GetLogger()
	}
	return &Materializer{
		store:       store,
		logger:      logger,
		Scope:       models.SummaryScopeMerchant,
		Concurrency: defaultConcurrency,
		PruneStale:  true,
		Now:         time.Now,
	}
}

// MaterializeAll recomputes every summary bucket from the transactions table
// and upserts it. Bucket level failures are collected in the report; a store
// failure or cancellation aborts the run and is returned together with the
// partial report.
func (m *Materializer) MaterializeAll(ctx context.Context) (*MaterializeReport, error) {
	runAt := m.now().UTC().Truncate(time.Second)
	report := &MaterializeReport{
		RunId:     uuid.NewString(),
		Scope:     m.scope(),
		StartedAt: runAt,
	}

	ctx = utils.SetRunIdInContext(ctx, report.RunId)
	ctx = utils.SetJobNameInContext(ctx, "materialize-summaries")
	ctx, span := tracer.Start(ctx, "workflow.MaterializeAll")
	defer span.End()
	span.SetAttributes(attribute.String("run.id", report.RunId), attribute.String("summary.scope", string(report.Scope)))

	log := m.logger.WithFields(utils.LogFieldsFromContext(ctx))

	finish := func(err error) (*MaterializeReport, error) {
		report.FinishedAt = m.now().UTC()
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			config.LogError(m.logger, "workflow", "MaterializeAll", report.RunId, nil, err)
		}
		return report, err
	}

	if err := m.store.Ping(ctx); err != nil {
		return finish(err)
	}

	merchants, err := m.merchants(ctx)
	if err != nil {
		return finish(err)
	}
	log.WithField("merchants", len(merchants)).Info("summary materialization started")

	remaining := make(map[string]int, len(merchants))
	for _, id := range merchants {
		remaining[id] = len(models.TimeModes())
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency())
schedule:
	for _, merchantId := range merchants {
		for _, mode := range models.TimeModes() {
			if gctx.Err() != nil {
				break schedule
			}
			g.Go(func() error {
				if err := m.materializeUnit(gctx, report, merchantId, mode, runAt); err != nil {
					return err
				}
				m.mu.Lock()
				remaining[merchantId]--
				if remaining[merchantId] == 0 {
					report.MerchantsProcessed++
				}
				m.mu.Unlock()
				return nil
			})
		}
	}
	err = g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		return finish(err)
	}

	log.WithFields(logrus.Fields{
		"merchantsProcessed": report.MerchantsProcessed,
		"bucketsWritten":     report.BucketsWritten,
		"bucketsPruned":      report.BucketsPruned,
		"bucketErrors":       len(report.Errors),
	}).Info("summary materialization finished")
	return finish(nil)
}

func (m *Materializer) materializeUnit(ctx context.Context, report *MaterializeReport, merchantId string, mode models.TimeMode, runAt time.Time) error {
	ctx = utils.SetMerchantIdInContext(ctx, merchantId)
	ctx, span := tracer.Start(ctx, "workflow.materializeUnit")
	defer span.End()
	span.SetAttributes(attribute.String("merchant.id", merchantId), attribute.String("summary.mode", mode.String()))

	log := m.logger.WithFields(utils.LogFieldsFromContext(ctx)).WithField("mode", mode.String())

	rows, err := m.store.Aggregate(ctx, models.BuildMaterializationAggregation(mode, models.AggregationFilters{
		MerchantId: merchantId,
		Statuses:   m.Statuses,
	}))
	if err != nil {
		span.RecordError(err)
		return err
	}

	var (
		written int
		failed  []BucketError
	)
	for _, res := range BuildBucketResults(merchantId, mode, rows, runAt) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if res.Err == nil {
			res.Err = m.store.UpsertSummary(ctx, res.Record)
			if utils.IsStoreUnavailable(res.Err) {
				span.RecordError(res.Err)
				return res.Err
			}
		}
		if res.Err != nil {
			be := BucketError{MerchantId: merchantId, Mode: mode, BucketKey: res.Key.String(), Err: res.Err}
			log.WithField("bucket", be.BucketKey).WithError(res.Err).Warn("summary bucket skipped")
			failed = append(failed, be)
			continue
		}
		written++
	}

	var pruned int64
	if m.PruneStale && len(failed) == 0 {
		pruned, err = m.store.DeleteStaleSummaries(ctx, merchantId, mode, runAt)
		if err != nil {
			if utils.IsStoreUnavailable(err) {
				return err
			}
			log.WithError(err).Warn("stale summaries not pruned")
			failed = append(failed, BucketError{MerchantId: merchantId, Mode: mode, BucketKey: "stale", Err: err})
		}
	}

	m.mu.Lock()
	report.BucketsWritten += written
	report.BucketsPruned += pruned
	report.Errors = append(report.Errors, failed...)
	m.mu.Unlock()

	log.WithFields(logrus.Fields{"written": written, "failed": len(failed), "pruned": pruned}).Debug("summary unit done")
	if m.OnProgress != nil {
		m.OnProgress(Progress{MerchantId: merchantId, Mode: mode, Written: written, Failed: len(failed), Pruned: pruned})
	}
	return nil
}

// BuildBucketResults converts grouped rows into summary records. Rows whose
// Gregorian buckets land on the same Jalali key are merged into one record.
func BuildBucketResults(merchantId string, mode models.TimeMode, rows []models.GroupedRow, createdAt time.Time) []BucketResult {
	out := make([]BucketResult, 0, len(rows))
	byKey := make(map[models.JalaliDateFields]int, len(rows))
	for _, row := range rows {
		key := row.Key()
		date, gregorian, err := models.CalendarFields(mode, key)
		if err != nil {
			out = append(out, BucketResult{Key: key, Err: err})
			continue
		}
		if i, ok := byKey[date]; ok {
			rec := out[i].Record
			rec.Count += row.Count
			rec.Amount = rec.Amount.Add(row.Amount)
			continue
		}
		byKey[date] = len(out)
		out = append(out, BucketResult{
			Key: key,
			Record: &models.TransactionSummary{
				MerchantId:    merchantId,
				Type:          mode,
				Date:          date,
				GregorianDate: gregorian,
				Count:         row.Count,
				Amount:        row.Amount,
				CreatedAt:     createdAt,
			},
		})
	}
	return out
}

func (m *Materializer) merchants(ctx context.Context) ([]string, error) {
	if m.scope() == models.SummaryScopeGlobal {
		return []string{""}, nil
	}
	if len(m.MerchantIds) > 0 {
		ids := make([]string, 0, len(m.MerchantIds))
		for _, id := range m.MerchantIds {
			id = strings.TrimSpace(id)
			if id != "" && !slices.Contains(ids, id) {
				ids = append(ids, id)
			}
		}
		if len(ids) == 0 {
			return nil, errors.New("merchant restriction lists no merchant ids")
		}
		return ids, nil
	}
	return m.store.DistinctMerchants(ctx)
}

func (m *Materializer) scope() models.SummaryScope {
	if m.Scope == "" {
		return models.SummaryScopeMerchant
	}
	return m.Scope
}

func (m *Materializer) concurrency() int {
	if m.Concurrency < 1 {
		return 1
	}
	return m.Concurrency
}

func (m *Materializer) now() time.Time {
	if m.Now == nil {
		return time.Now()
	}
	return m.Now()
}
