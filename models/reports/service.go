package reports

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/mmdatafocus/txsummary/config"
	"github.com/mmdatafocus/txsummary/models"
	"github.com/mmdatafocus/txsummary/utils"
)

var tracer = otel.Tracer("txsummary/reports")

// ReportStore is the read side of models.Store.
type ReportStore interface {
	Aggregate(ctx context.Context, p models.Pipeline) ([]models.GroupedRow, error)
	ListSummaries(ctx context.Context, f models.SummaryFilter) ([]models.TransactionSummary, error)
}

type ServiceOptions struct {
	// Scope must match the scope summaries were materialized with.
	Scope models.SummaryScope
	// Statuses is applied to the live path so it counts what the job counts.
	Statuses []string
	Cache    Cache
	Logger   *logrus.Logger
}

type Service struct {
	store    ReportStore
	scope    models.SummaryScope
	statuses []string
	cache    Cache
	logger   *logrus.Logger
}

func NewService(store ReportStore, opts ServiceOptions) *Service {
	s := &Service{
		store:    store,
		scope:    opts.Scope,
		statuses: opts.Statuses,
		cache:    opts.Cache,
		logger:   opts.Logger,
	}
	if s.scope == "" {
		s.scope = models.SummaryScopeMerchant
	}
	if s.logger == nil {
		s.logger = config.GetLogger()
	}
	return s
}

// LiveReport aggregates raw transactions on demand.
func (s *Service) LiveReport(ctx context.Context, q ReportQuery) ([]ReportRow, error) {
	ctx, span := tracer.Start(ctx, "reports.LiveReport")
	defer span.End()
	span.SetAttributes(attribute.String("report.mode", q.Mode.String()), attribute.String("report.metric", string(q.Metric)))
	started := time.Now()

	grouped, err := s.store.Aggregate(ctx, models.BuildAggregation(q.Mode, q.Metric, models.AggregationFilters{
		MerchantId: q.MerchantId,
		Statuses:   s.statuses,
	}))
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	rows := make([]ReportRow, 0, len(grouped))
	for _, g := range grouped {
		row, err := FormatGrouped(g, q.Mode, q.Metric)
		if err != nil {
			s.log(ctx).WithFields(logrus.Fields{"mode": q.Mode.String(), "bucket": g.Key().String()}).
				WithError(err).Error("live report bucket not convertible")
			span.RecordError(err)
			return nil, fmt.Errorf("live report bucket %s: %w", g.Key(), err)
		}
		rows = append(rows, row)
	}
	rows = mergeRows(rows)
	s.logSlow(ctx, "live", started, q)
	return rows, nil
}

// SummaryReport reads materialized summaries. Without a merchant filter the
// per-merchant records of each date are summed, unless summaries are global.
func (s *Service) SummaryReport(ctx context.Context, q ReportQuery) ([]ReportRow, error) {
	ctx, span := tracer.Start(ctx, "reports.SummaryReport")
	defer span.End()
	span.SetAttributes(attribute.String("report.mode", q.Mode.String()), attribute.String("report.metric", string(q.Metric)))
	started := time.Now()

	key := summaryCacheKey(s.scope, q)
	if s.cache != nil {
		rows, ok, err := s.cache.GetRows(ctx, key)
		if err != nil {
			s.log(ctx).WithError(err).Warn("report cache read failed")
		} else if ok {
			span.SetAttributes(attribute.Bool("report.cached", true))
			return rows, nil
		}
	}

	records, err := s.store.ListSummaries(ctx, models.SummaryFilter{
		Mode:       q.Mode,
		MerchantId: q.MerchantId,
		Scope:      s.scope,
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	rows := make([]ReportRow, 0, len(records))
	for i := range records {
		row, err := FormatSummary(&records[i], q.Metric)
		if err != nil {
			s.log(ctx).WithFields(logrus.Fields{"mode": q.Mode.String(), "merchantId": records[i].MerchantId}).
				WithError(err).Warn("stored summary skipped")
			continue
		}
		rows = append(rows, row)
	}
	rows = mergeRows(rows)

	if s.cache != nil {
		if err := s.cache.SetRows(ctx, key, rows); err != nil {
			s.log(ctx).WithError(err).Warn("report cache write failed")
		}
	}
	s.logSlow(ctx, "summary", started, q)
	return rows, nil
}

// InvalidateCache drops every cached summary response.
func (s *Service) InvalidateCache(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Invalidate(ctx)
}

func (s *Service) log(ctx context.Context) *logrus.Entry {
	return s.logger.WithFields(utils.LogFieldsFromContext(ctx))
}

func (s *Service) logSlow(ctx context.Context, name string, started time.Time, q ReportQuery) {
	d := time.Since(started)
	if d < 500*time.Millisecond {
		return
	}
	s.log(ctx).WithFields(logrus.Fields{
		"report": name,
		"ms":     d.Milliseconds(),
		"mode":   q.Mode.String(),
		"metric": string(q.Metric),
	}).Warn("slow report")
}
