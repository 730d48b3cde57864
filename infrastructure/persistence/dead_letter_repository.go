package persistence

import (
	"context"
	"fmt"

	"crosspost/domain/model"

	"gorm.io/gorm"
)

// DeadLetterRepository archives messages drained from the queue's dead-letter sink.
type DeadLetterRepository struct {
	db *gorm.DB
}

func NewDeadLetterRepository(db *gorm.DB) *DeadLetterRepository {
	return &DeadLetterRepository{db: db}
}

func (r *DeadLetterRepository) Save(ctx context.Context, dl *model.DeadLetter) error {
	if err := r.db.WithContext(ctx).Create(dl).Error; err != nil {
		return fmt.Errorf("archive dead letter %s: %w", dl.MessageID, err)
	}
	return nil
}

func (r *DeadLetterRepository) List(ctx context.Context, limit int) ([]model.DeadLetter, error) {
	var out []model.DeadLetter
	q := r.db.WithContext(ctx).Order("archived_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	return out, nil
}
