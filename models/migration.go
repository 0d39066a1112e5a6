package models

import (
	"gorm.io/gorm"
)

// MigrateTable creates or updates the tables owned by this service. The
// transactions table is normally owned upstream; migrating it here keeps
// local/dev databases usable.
func MigrateTable(db *gorm.DB) error {
	return db.AutoMigrate(&Transaction{}, &TransactionSummary{})
}
