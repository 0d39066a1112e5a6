package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionSummary is one materialized bucket.
//
// Grain: (merchant_id, type, date_year, date_month, date_day, date_week).
// Fields that do not apply to a type are stored as 0 so the natural key stays
// unique; an empty merchant_id is the global aggregate.
//
// NOTE: This table is derived data and can be rebuilt from transactions at any time.
type TransactionSummary struct {
	ID            uint                `gorm:"primaryKey" json:"-"`
	MerchantId    string              `gorm:"size:64;not null;default:'';uniqueIndex:idx_summary_natural_key,priority:1" json:"merchantId,omitempty"`
	Type          TimeMode            `gorm:"type:varchar(16);not null;uniqueIndex:idx_summary_natural_key,priority:2" json:"type"`
	Date          JalaliDateFields    `gorm:"embedded;embeddedPrefix:date_" json:"date"`
	GregorianDate GregorianDateFields `gorm:"embedded;embeddedPrefix:gregorian_" json:"gregorianDate"`
	Count         int64               `gorm:"not null;default:0" json:"count"`
	Amount        decimal.Decimal     `gorm:"type:decimal(20,4);not null;default:0" json:"amount"`
	CreatedAt     time.Time           `gorm:"index" json:"createdAt"`
}

func (TransactionSummary) TableName() string {
	return "transaction_summaries"
}

// JalaliDateFields is the "date" subdocument of a summary.
type JalaliDateFields struct {
	Year  int `gorm:"not null;default:0;uniqueIndex:idx_summary_natural_key,priority:3" json:"year"`
	Month int `gorm:"not null;default:0;uniqueIndex:idx_summary_natural_key,priority:4" json:"month,omitempty"`
	Day   int `gorm:"not null;default:0;uniqueIndex:idx_summary_natural_key,priority:5" json:"day,omitempty"`
	Week  int `gorm:"not null;default:0;uniqueIndex:idx_summary_natural_key,priority:6" json:"week,omitempty"`
}

// GregorianDateFields mirrors the Gregorian bucket the summary was built from.
type GregorianDateFields struct {
	Year  int `gorm:"not null;default:0" json:"year"`
	Month int `gorm:"not null;default:0" json:"month,omitempty"`
	Day   int `gorm:"not null;default:0" json:"day,omitempty"`
	Week  int `gorm:"not null;default:0" json:"week,omitempty"`
}

// SummaryKey is the natural key of a TransactionSummary.
type SummaryKey struct {
	MerchantId string
	Type       TimeMode
	Date       JalaliDateFields
}

func (s *TransactionSummary) Key() SummaryKey {
	return SummaryKey{MerchantId: s.MerchantId, Type: s.Type, Date: s.Date}
}
