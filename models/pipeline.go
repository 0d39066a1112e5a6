package models

import (
	"slices"

	"github.com/shopspring/decimal"
)

// AggregationFilters narrows the transactions an aggregation reads.
// Zero values mean "no filter".
type AggregationFilters struct {
	MerchantId string
	Statuses   []string
}

type MatchStage struct {
	RequireCreatedAt bool
	MerchantId       string
	Statuses         []string
}

type GroupStage struct {
	Fields  []GroupField
	Metrics []ReportMetric
}

// Pipeline is a store-agnostic match/group/sort description of an aggregation
// over transactions. models.Store renders it for its SQL dialect.
type Pipeline struct {
	Mode          TimeMode
	Match         MatchStage
	Group         GroupStage
	SortAscending bool
}

// Computes reports whether the pipeline produces metric.
func (p Pipeline) Computes(metric ReportMetric) bool {
	return slices.Contains(p.Group.Metrics, metric)
}

// BuildAggregation is the on-demand variant: only the requested metric is summed.
func BuildAggregation(mode TimeMode, metric ReportMetric, filters AggregationFilters) Pipeline {
	return buildPipeline(mode, []ReportMetric{metric}, filters)
}

// BuildMaterializationAggregation computes count and amount in one pass.
func BuildMaterializationAggregation(mode TimeMode, filters AggregationFilters) Pipeline {
	return buildPipeline(mode, []ReportMetric{ReportMetricCount, ReportMetricAmount}, filters)
}

func buildPipeline(mode TimeMode, metrics []ReportMetric, filters AggregationFilters) Pipeline {
	return Pipeline{
		Mode: mode,
		Match: MatchStage{
			RequireCreatedAt: true,
			MerchantId:       filters.MerchantId,
			Statuses:         slices.Clone(filters.Statuses),
		},
		Group: GroupStage{
			Fields:  GroupKeyFields(mode),
			Metrics: metrics,
		},
		SortAscending: true,
	}
}

// GroupedRow is one intermediate bucket produced by running a Pipeline.
type GroupedRow struct {
	Year   int             `gorm:"column:bucket_year"`
	Month  int             `gorm:"column:bucket_month"`
	Day    int             `gorm:"column:bucket_day"`
	Week   int             `gorm:"column:bucket_week"`
	Count  int64           `gorm:"column:bucket_count"`
	Amount decimal.Decimal `gorm:"column:bucket_amount"`
}

func (r GroupedRow) Key() GroupKey {
	return GroupKey{Year: r.Year, Month: r.Month, Day: r.Day, Week: r.Week}
}

// Value returns the aggregate selected by metric.
func (r GroupedRow) Value(metric ReportMetric) decimal.Decimal {
	if metric == ReportMetricAmount {
		return r.Amount
	}
	return decimal.NewFromInt(r.Count)
}
