package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"estimateur/server/internal/models"
)

type Database struct {
	db *gorm.DB
}

// TransactionRow is an archived DVF transaction
type TransactionRow struct {
	ID           uint      `gorm:"primaryKey"`
	MutationID   string    `gorm:"uniqueIndex:idx_transaction_key;not null"`
	InseeCode    string    `gorm:"uniqueIndex:idx_transaction_key;index;not null"`
	Date         time.Time `gorm:"uniqueIndex:idx_transaction_key;not null"`
	Price        float64   `gorm:"uniqueIndex:idx_transaction_key;not null"`
	BuiltArea    float64   `gorm:"uniqueIndex:idx_transaction_key;not null"`
	PropertyType string    `gorm:"uniqueIndex:idx_transaction_key"`
	Rooms        *int
	Latitude     *float64
	Longitude    *float64
	CreatedAt    time.Time
}

func (TransactionRow) TableName() string {
	return "transactions"
}

// EstimateRow is a stored estimate
type EstimateRow struct {
	ID                   string `gorm:"primaryKey"`
	InseeCode            string `gorm:"index;not null"`
	City                 string
	LivingArea           float64
	NumRooms             int
	Standing             string
	ReferencePricePerSqm float64
	Coefficient          float64
	AdjustedPricePerSqm  float64
	Value                float64
	Low                  float64
	High                 float64
	TransactionCount     int
	CreatedAt            time.Time `gorm:"index"`
}

func (EstimateRow) TableName() string {
	return "estimates"
}

func NewDatabase(dbPath string) (*Database, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(dbPath+"?_foreign_keys=on&_busy_timeout=5000"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	return &Database{db: db}, nil
}

func (d *Database) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SaveTransactions upserts a batch inside a single database transaction.
// Rows already archived are left untouched and synthetic records are skipped.
func (d *Database) SaveTransactions(ctx context.Context, batch []models.Transaction) error {
	rows := make([]TransactionRow, 0, len(batch))
	for _, t := range batch {
		if t.Synthetic {
			continue
		}
		rows = append(rows, TransactionRow{
			MutationID:   t.MutationID,
			InseeCode:    t.InseeCode,
			Date:         t.Date,
			Price:        t.Price,
			BuiltArea:    t.BuiltArea,
			PropertyType: t.PropertyType,
			Rooms:        t.Rooms,
			Latitude:     t.Latitude,
			Longitude:    t.Longitude,
		})
	}

	if len(rows) == 0 {
		return nil
	}

	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(rows, 100).Error; err != nil {
			return fmt.Errorf("failed to insert transactions: %w", err)
		}
		return nil
	})
}

// GetTransactions returns the archived transactions of a commune, oldest first.
func (d *Database) GetTransactions(ctx context.Context, inseeCode string, since time.Time) ([]models.Transaction, error) {
	query := d.db.WithContext(ctx).Where("insee_code = ?", inseeCode)
	if !since.IsZero() {
		query = query.Where("date >= ?", since)
	}

	var rows []TransactionRow
	if err := query.Order("date ASC").Find(&rows).Error; err != nil {
		return nil, err
	}

	transactions := make([]models.Transaction, 0, len(rows))
	for _, r := range rows {
		transactions = append(transactions, models.Transaction{
			MutationID:   r.MutationID,
			InseeCode:    r.InseeCode,
			Date:         r.Date,
			Price:        r.Price,
			BuiltArea:    r.BuiltArea,
			PropertyType: r.PropertyType,
			Rooms:        r.Rooms,
			Latitude:     r.Latitude,
			Longitude:    r.Longitude,
		})
	}
	return transactions, nil
}

// CountTransactions returns the number of archived transactions of a commune
func (d *Database) CountTransactions(ctx context.Context, inseeCode string) (int64, error) {
	var count int64
	err := d.db.WithContext(ctx).Model(&TransactionRow{}).Where("insee_code = ?", inseeCode).Count(&count).Error
	return count, err
}

// Fetch serves archived transactions, so the archive can stand in for the
// remote source when it is unavailable.
func (d *Database) Fetch(ctx context.Context, inseeCode string) ([]models.Transaction, error) {
	return d.GetTransactions(ctx, inseeCode, time.Time{})
}

// SaveEstimate stores an estimate and returns its generated id
func (d *Database) SaveEstimate(ctx context.Context, property models.Property, estimate models.Estimate, transactionCount int) (string, error) {
	row := EstimateRow{
		ID:                   uuid.NewString(),
		InseeCode:            property.InseeCode,
		City:                 property.City,
		LivingArea:           property.LivingArea,
		NumRooms:             property.NumRooms,
		Standing:             property.Standing.Slug(),
		ReferencePricePerSqm: estimate.ReferencePricePerSqm,
		Coefficient:          estimate.Coefficient,
		AdjustedPricePerSqm:  estimate.AdjustedPricePerSqm,
		Value:                estimate.Value,
		Low:                  estimate.Low,
		High:                 estimate.High,
		TransactionCount:     transactionCount,
	}
	if err := d.db.WithContext(ctx).Create(&row).Error; err != nil {
		return "", fmt.Errorf("failed to save estimate: %w", err)
	}
	return row.ID, nil
}

// GetRecentEstimates returns the latest estimates, optionally for one commune
func (d *Database) GetRecentEstimates(ctx context.Context, limit int, inseeCode string) ([]models.EstimateRecord, error) {
	query := d.db.WithContext(ctx).Order("created_at DESC").Limit(limit)
	if inseeCode != "" {
		query = query.Where("insee_code = ?", inseeCode)
	}

	var rows []EstimateRow
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}

	records := make([]models.EstimateRecord, 0, len(rows))
	for _, r := range rows {
		standing, err := models.ParseStanding(r.Standing)
		if err != nil {
			return nil, fmt.Errorf("estimate %s: %w", r.ID, err)
		}
		records = append(records, models.EstimateRecord{
			ID: r.ID,
			Property: models.Property{
				InseeCode:  r.InseeCode,
				City:       r.City,
				LivingArea: r.LivingArea,
				NumRooms:   r.NumRooms,
				Standing:   standing,
			},
			Estimate: models.Estimate{
				ReferencePricePerSqm: r.ReferencePricePerSqm,
				Coefficient:          r.Coefficient,
				AdjustedPricePerSqm:  r.AdjustedPricePerSqm,
				Value:                r.Value,
				Low:                  r.Low,
				High:                 r.High,
			},
			TransactionCount: r.TransactionCount,
			CreatedAt:        r.CreatedAt,
		})
	}
	return records, nil
}
