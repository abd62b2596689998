package repository

import (
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"infosec-rag/internal/model"
)

type QueryLogRepository struct {
	db *gorm.DB
}

func NewQueryLogRepository(db *gorm.DB) *QueryLogRepository {
	return &QueryLogRepository{db: db}
}

// Create ignores a second insert of the same query id, so redelivered events
// are harmless.
func (r *QueryLogRepository) Create(entry *model.QueryLog) error {
	err := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "query_id"}},
		DoNothing: true,
	}).Create(entry).Error
	if err != nil {
		return fmt.Errorf("create query log failed: %w", err)
	}
	return nil
}

func (r *QueryLogRepository) ListRecent(limit int) ([]model.QueryLog, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var logs []model.QueryLog
	if err := r.db.Order("created_at DESC").Limit(limit).Find(&logs).Error; err != nil {
		return nil, fmt.Errorf("list query logs failed: %w", err)
	}
	return logs, nil
}
