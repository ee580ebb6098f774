package storage

import (
	"context"

	"gorm.io/gorm/clause"

	"tasklog-api/domain"
)

// FindTagsByName returns the stored tags whose name is in names.
func (s *Storage) FindTagsByName(ctx context.Context, names []string) ([]domain.Tag, error) {
	if len(names) == 0 {
		return []domain.Tag{}, nil
	}
	var recs []tagRecord
	if err := s.db.WithContext(ctx).Where("name IN ?", names).Find(&recs).Error; err != nil {
		return nil, err
	}
	tags := make([]domain.Tag, 0, len(recs))
	for _, r := range recs {
		tags = append(tags, r.toDomain())
	}
	return tags, nil
}

// InsertTags creates the named tags. Names that already exist, including ones
// committed concurrently by another request, are skipped by the unique index.
func (s *Storage) InsertTags(ctx context.Context, names []string) error {
	if len(names) == 0 {
		return nil
	}
	recs := make([]tagRecord, 0, len(names))
	for _, n := range names {
		recs = append(recs, tagRecord{Name: n})
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "name"}}, DoNothing: true}).
		Create(&recs).Error
}
