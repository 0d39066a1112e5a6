package models

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mmdatafocus/txsummary/utils"
)

type Dialect string

const (
	DialectMySQL  Dialect = "mysql"
	DialectSQLite Dialect = "sqlite"
)

var naturalKeyColumns = []clause.Column{
	{Name: "merchant_id"},
	{Name: "type"},
	{Name: "date_year"},
	{Name: "date_month"},
	{Name: "date_day"},
	{Name: "date_week"},
}

var upsertColumns = []string{
	"gregorian_year", "gregorian_month", "gregorian_day", "gregorian_week",
	"count", "amount", "created_at",
}

// Store is the explicit handle every component receives instead of reaching
// for a process-wide connection. It owns the *gorm.DB lifecycle.
type Store struct {
	db      *gorm.DB
	dialect Dialect
}

func NewStore(db *gorm.DB) *Store {
	dialect := DialectMySQL
	if db.Dialector != nil && db.Dialector.Name() == "sqlite" {
		dialect = DialectSQLite
	}
	return &Store{db: db, dialect: dialect}
}

func (s *Store) DB() *gorm.DB {
	return s.db
}

func (s *Store) Dialect() Dialect {
	return s.dialect
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return &utils.StoreUnavailableError{Op: "ping", Err: err}
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return &utils.StoreUnavailableError{Op: "ping", Err: err}
	}
	return nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Aggregate runs p over the transactions table. Any failure here leaves the
// caller without buckets to work on, so it is reported as store unavailable.
func (s *Store) Aggregate(ctx context.Context, p Pipeline) ([]GroupedRow, error) {
	if len(p.Group.Fields) == 0 {
		return nil, errors.New("aggregate: pipeline has no group fields")
	}

	selects := make([]string, 0, len(p.Group.Fields)+len(p.Group.Metrics))
	columns := make([]string, 0, len(p.Group.Fields))
	for _, f := range p.Group.Fields {
		selects = append(selects, s.fieldExpr(f)+" AS "+f.Column())
		columns = append(columns, f.Column())
	}
	for _, m := range p.Group.Metrics {
		switch m {
		case ReportMetricCount:
			selects = append(selects, "COUNT(*) AS bucket_count")
		case ReportMetricAmount:
			selects = append(selects, s.amountSumExpr()+" AS bucket_amount")
		default:
			return nil, fmt.Errorf("aggregate: unknown metric %q", m)
		}
	}

	q := s.db.WithContext(ctx).Model(&Transaction{}).Select(strings.Join(selects, ", "))
	if p.Match.RequireCreatedAt {
		q = q.Where("created_at IS NOT NULL")
	}
	if p.Match.MerchantId != "" {
		q = q.Where("merchant_id = ?", p.Match.MerchantId)
	}
	if len(p.Match.Statuses) > 0 {
		q = q.Where("status IN ?", p.Match.Statuses)
	}
	q = q.Group(strings.Join(columns, ", "))

	direction := " DESC"
	if p.SortAscending {
		direction = " ASC"
	}
	order := make([]string, len(columns))
	for i, c := range columns {
		order[i] = c + direction
	}
	q = q.Order(strings.Join(order, ", "))

	var rows []GroupedRow
	if err := q.Scan(&rows).Error; err != nil {
		return nil, &utils.StoreUnavailableError{Op: "aggregate " + p.Mode.String(), Err: err}
	}
	if s.dialect == DialectSQLite && p.Computes(ReportMetricAmount) {
		for i := range rows {
			rows[i].Amount = rows[i].Amount.Shift(-amountScale)
		}
	}
	return rows, nil
}

// amountScale matches the decimal(20,4) amount column.
const amountScale = 4

// amountSumExpr sums amount exactly. sqlite stores decimal columns as REAL,
// so there the sum runs over integer ten-thousandths and Aggregate shifts it
// back.
func (s *Store) amountSumExpr() string {
	if s.dialect == DialectSQLite {
		return "COALESCE(SUM(CAST(ROUND(amount * 10000) AS INTEGER)), 0)"
	}
	return "COALESCE(SUM(amount), 0)"
}

// fieldExpr extracts a Gregorian field from created_at. Weeks start on
// Sunday and days before the first Sunday fall in week 0 (MySQL mode 0).
//
// sqlite keeps timestamps as text whose layout depends on the driver; only
// the leading "YYYY-MM-DD" is relied on.
func (s *Store) fieldExpr(f GroupField) string {
	if s.dialect == DialectSQLite {
		const day = "substr(created_at, 1, 10)"
		switch f {
		case GroupFieldYear:
			return "CAST(substr(created_at, 1, 4) AS INTEGER)"
		case GroupFieldMonth:
			return "CAST(substr(created_at, 6, 2) AS INTEGER)"
		case GroupFieldDayOfMonth:
			return "CAST(substr(created_at, 9, 2) AS INTEGER)"
		case GroupFieldWeekOfYear:
			return "((CAST(strftime('%j', " + day + ") AS INTEGER) + 6 - CAST(strftime('%w', " + day + ") AS INTEGER)) / 7)"
		}
	}
	switch f {
	case GroupFieldYear:
		return "YEAR(created_at)"
	case GroupFieldMonth:
		return "MONTH(created_at)"
	case GroupFieldDayOfMonth:
		return "DAYOFMONTH(created_at)"
	case GroupFieldWeekOfYear:
		return "WEEK(created_at, 0)"
	}
	panic(fmt.Sprintf("unknown group field %d", int(f)))
}

// DistinctMerchants lists merchant ids that have at least one transaction.
func (s *Store) DistinctMerchants(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).
		Model(&Transaction{}).
		Where("merchant_id IS NOT NULL AND merchant_id <> ''").
		Distinct("merchant_id").
		Order("merchant_id").
		Pluck("merchant_id", &ids).Error
	if err != nil {
		return nil, &utils.StoreUnavailableError{Op: "list merchants", Err: err}
	}
	return ids, nil
}

// UpsertSummary inserts rec or replaces the counters of the record holding the
// same natural key. Connection failures come back as StoreUnavailableError,
// anything else is specific to this record.
func (s *Store) UpsertSummary(ctx context.Context, rec *TransactionSummary) error {
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   naturalKeyColumns,
			DoUpdates: clause.AssignmentColumns(upsertColumns),
		}).
		Create(rec).Error
	return classifyWriteError("upsert summary", err)
}

// DeleteStaleSummaries removes summaries of (merchantId, mode) written before
// the given run timestamp.
func (s *Store) DeleteStaleSummaries(ctx context.Context, merchantId string, mode TimeMode, before time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("merchant_id = ? AND type = ? AND created_at < ?", merchantId, mode, before.UTC()).
		Delete(&TransactionSummary{})
	if res.Error != nil {
		return 0, classifyWriteError("delete stale summaries", res.Error)
	}
	return res.RowsAffected, nil
}

// SummaryFilter selects stored summaries. With an empty MerchantId the
// scope decides between the global rows and every per-merchant row.
type SummaryFilter struct {
	Mode       TimeMode
	MerchantId string
	Scope      SummaryScope
}

func (s *Store) ListSummaries(ctx context.Context, f SummaryFilter) ([]TransactionSummary, error) {
	q := s.db.WithContext(ctx).Where("type = ?", f.Mode)
	switch {
	case f.MerchantId != "":
		q = q.Where("merchant_id = ?", f.MerchantId)
	case f.Scope == SummaryScopeGlobal:
		q = q.Where("merchant_id = ''")
	default:
		q = q.Where("merchant_id <> ''")
	}

	var out []TransactionSummary
	err := q.Order("date_year, date_month, date_day, date_week, merchant_id").Find(&out).Error
	if err != nil {
		return nil, &utils.StoreUnavailableError{Op: "list summaries", Err: err}
	}
	return out, nil
}

// InsertTransactions is used by the seed tool and tests; the summary engine
// itself never writes transactions.
func (s *Store) InsertTransactions(ctx context.Context, txs []Transaction) error {
	if len(txs) == 0 {
		return nil
	}
	return classifyWriteError("insert transactions", s.db.WithContext(ctx).CreateInBatches(txs, 500).Error)
}

func classifyWriteError(op string, err error) error {
	if err == nil {
		return nil
	}
	if isConnectionError(err) {
		return &utils.StoreUnavailableError{Op: op, Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isConnectionError(err error) bool {
	var netErr net.Error
	switch {
	case errors.Is(err, driver.ErrBadConn),
		errors.Is(err, mysql.ErrInvalidConn),
		errors.Is(err, sql.ErrConnDone),
		errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr):
		return true
	}
	// database/sql does not export its closed-pool error.
	return strings.Contains(err.Error(), "database is closed")
}
