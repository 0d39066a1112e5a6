package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Transaction is a raw payment record. The summary engine only reads it;
// rows without created_at never reach an aggregation.
type Transaction struct {
	ID         uint            `gorm:"primaryKey" json:"id"`
	MerchantId *string         `gorm:"size:64;index" json:"merchantId,omitempty"`
	Amount     decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"amount"`
	CreatedAt  *time.Time      `gorm:"index;autoCreateTime:false" json:"createdAt,omitempty"`
	Status     string          `gorm:"size:32;index" json:"status"`
}

func (Transaction) TableName() string {
	return "transactions"
}

// BeforeSave stores created_at in UTC. Buckets are UTC calendar days on every
// dialect, and sqlite groups by the text it was given.
func (t *Transaction) BeforeSave(tx *gorm.DB) error {
	_ = tx
	if t == nil || t.CreatedAt == nil {
		return nil
	}
	utc := t.CreatedAt.UTC()
	t.CreatedAt = &utc
	return nil
}
