package ledger

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"stock-signal-bot-go/internal/models"
)

// GormStore keeps the ledger in a relational database.
type GormStore struct {
	db *gorm.DB
}

var _ Store = (*GormStore)(nil)

// NewGormStore wraps an already migrated database.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// AppendTrade stores the record with its timestamp in UTC, which keeps sqlite's
// text comparison in timestamp order.
func (s *GormStore) AppendTrade(ctx context.Context, record *models.TradeRecord) error {
	record.Timestamp = record.Timestamp.UTC()
	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("failed to append trade for %s: %w", record.Symbol, err)
	}
	return nil
}

func (s *GormStore) ReadTrades(ctx context.Context, filter Filter) ([]models.TradeRecord, error) {
	q := s.db.WithContext(ctx).Model(&models.TradeRecord{})
	if filter.Symbol != "" {
		q = q.Where("symbol = ?", filter.Symbol)
	}
	if !filter.From.IsZero() {
		q = q.Where("timestamp >= ?", filter.From.UTC())
	}
	if !filter.To.IsZero() {
		q = q.Where("timestamp < ?", filter.To.UTC())
	}

	var records []models.TradeRecord
	if err := q.Order("timestamp asc").Order("id asc").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to read trades: %w", err)
	}
	return records, nil
}

func (s *GormStore) AppendEquity(ctx context.Context, snapshots []models.EquitySnapshot) error {
	if len(snapshots) == 0 {
		return nil
	}
	for i := range snapshots {
		snapshots[i].Timestamp = snapshots[i].Timestamp.UTC()
	}
	if err := s.db.WithContext(ctx).Create(&snapshots).Error; err != nil {
		return fmt.Errorf("failed to append %d equity snapshots: %w", len(snapshots), err)
	}
	return nil
}

func (s *GormStore) ReadEquity(ctx context.Context, since time.Time) ([]models.EquitySnapshot, error) {
	q := s.db.WithContext(ctx).Model(&models.EquitySnapshot{})
	if !since.IsZero() {
		q = q.Where("timestamp >= ?", since.UTC())
	}
	var snapshots []models.EquitySnapshot
	if err := q.Order("timestamp asc").Find(&snapshots).Error; err != nil {
		return nil, fmt.Errorf("failed to read equity snapshots: %w", err)
	}
	return snapshots, nil
}
