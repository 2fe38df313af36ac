package database

import "fmt"

func (d *Database) RunMigrations() error {
	if err := d.db.AutoMigrate(&TransactionRow{}, &EstimateRow{}); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}

	// Speeds up the per-commune history query
	if err := d.db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_transactions_commune_date
		ON transactions(insee_code, date);
	`).Error; err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	return nil
}
