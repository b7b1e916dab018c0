package migrations

import (
	"tenant-portal-server/models"

	"gorm.io/gorm"
)

// Run migrates the payment engine's tables. Tenant, unit and billing-period
// data live in other services; only their references are stored here.
func Run(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Payment{},
		&models.Receipt{},
	)
}
