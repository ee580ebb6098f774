package storage

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"tasklog-api/domain"
)

// GetUser returns the user with id, or nil when there is none.
func (s *Storage) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	var rec userRecord
	err := s.db.WithContext(ctx).First(&rec, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	u := rec.toDomain()
	return &u, nil
}

// EnsureUsers upserts the given users by id.
func (s *Storage) EnsureUsers(ctx context.Context, users []domain.User) error {
	if len(users) == 0 {
		return nil
	}
	recs := make([]userRecord, 0, len(users))
	for _, u := range users {
		recs = append(recs, userRecord{ID: u.ID, Name: u.Name, Email: u.Email})
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "email"}),
		}).
		Create(&recs).Error
}
