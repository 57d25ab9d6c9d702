package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// History kinds
const (
	KindDownload = "download"
	KindExport   = "export"
)

// HistoryRecord is one persisted file.
type HistoryRecord struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	RunID     string    `gorm:"index;size:36" json:"run_id"`
	Kind      string    `gorm:"index;size:16" json:"kind"` // download, export
	Channel   string    `gorm:"index;size:64" json:"channel"`
	MessageID int       `json:"message_id,omitempty"`
	RangeFrom int       `json:"range_from,omitempty"` // exports only
	RangeTo   int       `json:"range_to,omitempty"`
	Category  string    `gorm:"size:16" json:"category"`
	Path      string    `json:"path"`
	Bytes     int64     `json:"bytes"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

// TableName sets the table name for gorm.
func (HistoryRecord) TableName() string {
	return "download_history"
}

// HistoryFilter narrows List.
type HistoryFilter struct {
	Kind    string
	Channel string
	RunID   string
	Limit   int
}

// HistoryRepository handles download_history table operations
type HistoryRepository struct {
	db *gorm.DB
}

// NewHistoryRepository creates a new history repository
func NewHistoryRepository(db *gorm.DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// Migrate creates or updates the table.
func (r *HistoryRepository) Migrate(ctx context.Context) error {
	if err := r.db.WithContext(ctx).AutoMigrate(&HistoryRecord{}); err != nil {
		return fmt.Errorf("migrate history: %w", err)
	}
	return nil
}

// Add inserts records in one batch.
func (r *HistoryRepository) Add(ctx context.Context, records ...HistoryRecord) error {
	if len(records) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).CreateInBatches(records, 100).Error; err != nil {
		return fmt.Errorf("add history: %w", err)
	}
	return nil
}

// List returns records newest first.
func (r *HistoryRepository) List(ctx context.Context, f HistoryFilter) ([]HistoryRecord, error) {
	q := r.db.WithContext(ctx).Model(&HistoryRecord{})
	if f.Kind != "" {
		q = q.Where("kind = ?", f.Kind)
	}
	if f.Channel != "" {
		q = q.Where("channel = ?", f.Channel)
	}
	if f.RunID != "" {
		q = q.Where("run_id = ?", f.RunID)
	}
	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	var out []HistoryRecord
	if err := q.Order("created_at DESC").Order("id DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	return out, nil
}

// CountByKind returns the number of records per kind.
func (r *HistoryRepository) CountByKind(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		Kind  string
		Total int64
	}
	err := r.db.WithContext(ctx).Model(&HistoryRecord{}).
		Select("kind, COUNT(*) AS total").
		Group("kind").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("count history: %w", err)
	}

	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		out[row.Kind] = row.Total
	}
	return out, nil
}
