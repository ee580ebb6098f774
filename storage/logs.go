package storage

import (
	"context"

	"tasklog-api/domain"
)

// AppendLog inserts entry and fills in its id and timestamp.
func (s *Storage) AppendLog(ctx context.Context, entry *domain.TaskLog) error {
	rec := taskLogRecord{
		Action:      entry.Action,
		Entity:      entry.Entity,
		EntityID:    entry.EntityID,
		UserID:      entry.UserID,
		Description: entry.Description,
		CreatedAt:   entry.CreatedAt,
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return err
	}
	entry.ID = rec.ID
	entry.CreatedAt = rec.CreatedAt
	return nil
}

// HasLog reports whether at least one entry matches q exactly.
func (s *Storage) HasLog(ctx context.Context, q domain.LogQuery) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&taskLogRecord{}).
		Where("entity = ? AND action = ? AND entity_id = ? AND user_id = ?", q.Entity, q.Action, q.EntityID, q.UserID).
		Limit(1).
		Count(&n).Error
	return n > 0, err
}
