package db

import (
	"gorm.io/gorm"
)

// RunMigrations runs all database migrations
func RunMigrations(db *DB) error {
	if err := db.AutoMigrate(
		&Supplier{},
		&Book{},
		&BookAuthor{},
		&UserProfile{},
		&Order{},
		&PurchaseOrder{},
	); err != nil {
		return err
	}

	// Create additional indexes if not exists
	if err := createIndexes(db.DB); err != nil {
		return err
	}

	return nil
}

func createIndexes(db *gorm.DB) error {
	indexes := []string{
		// Shortage tooling scans linked, still-open purchase orders
		`CREATE INDEX IF NOT EXISTS idx_purchase_orders_open_ticket ON purchase_orders(ticket_id, status)`,

		// Reader order history is always filtered by reader and status
		`CREATE INDEX IF NOT EXISTS idx_orders_reader_status ON orders(reader_id, status)`,
	}

	for _, indexSQL := range indexes {
		if err := db.Exec(indexSQL).Error; err != nil {
			return err
		}
	}

	return nil
}
