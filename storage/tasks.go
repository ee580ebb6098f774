package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"tasklog-api/domain"
)

// CreateTask inserts t with its tag links and fills in the generated fields.
func (s *Storage) CreateTask(ctx context.Context, t *domain.Task) error {
	db := s.db.WithContext(ctx)
	rec := newTaskRecord(t)
	if err := db.Omit(clause.Associations).Create(&rec).Error; err != nil {
		return err
	}
	if err := linkTags(db, rec.ID, t.Tags); err != nil {
		return err
	}
	t.ID = rec.ID
	t.CreatedAt = rec.CreatedAt
	t.UpdatedAt = rec.UpdatedAt
	return nil
}

// GetTask loads a task with its responsible user and tags. Soft-deleted
// tasks are reported as absent.
func (s *Storage) GetTask(ctx context.Context, id int64) (*domain.Task, error) {
	var rec taskRecord
	err := s.db.WithContext(ctx).
		Preload("Responsible").
		Preload("Tags", tagsByName).
		First(&rec, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	t := rec.toDomain()
	return &t, nil
}

// UpdateTask writes every scalar field of t and replaces its tag links.
func (s *Storage) UpdateTask(ctx context.Context, t *domain.Task) error {
	db := s.db.WithContext(ctx)
	now := db.NowFunc()
	res := db.Model(&taskRecord{}).Where("id = ?", t.ID).Updates(map[string]any{
		"title":          t.Title,
		"description":    t.Description,
		"is_completed":   t.IsCompleted,
		"due_date":       t.DueDate.UTC(),
		"comments":       t.Comments,
		"is_public":      t.IsPublic,
		"responsible_id": responsibleID(t),
		"updated_at":     now,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("update task %d: %w", t.ID, errTaskMissing)
	}
	if err := db.Where("task_id = ?", t.ID).Delete(&taskTagRecord{}).Error; err != nil {
		return err
	}
	if err := linkTags(db, t.ID, t.Tags); err != nil {
		return err
	}
	t.UpdatedAt = now
	return nil
}

// SoftDeleteTask stamps deleted_at on a live task.
func (s *Storage) SoftDeleteTask(ctx context.Context, id int64) error {
	res := s.db.WithContext(ctx).Delete(&taskRecord{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("delete task %d: %w", id, errTaskMissing)
	}
	return nil
}

// ListTasks returns one page of tasks matching f plus the total match count.
func (s *Storage) ListTasks(ctx context.Context, f domain.TaskFilter) ([]domain.Task, int64, error) {
	db := s.db.WithContext(ctx)

	var total int64
	if err := db.Model(&taskRecord{}).Scopes(visibleTo(f)).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Task{}, 0, nil
	}

	var recs []taskRecord
	err := db.Scopes(visibleTo(f)).
		Preload("Responsible").
		Preload("Tags", tagsByName).
		Order("tasks.id DESC").
		Offset(f.Offset).
		Limit(f.Limit).
		Find(&recs).Error
	if err != nil {
		return nil, 0, err
	}
	tasks := make([]domain.Task, 0, len(recs))
	for _, r := range recs {
		tasks = append(tasks, r.toDomain())
	}
	return tasks, total, nil
}

// visibleTo restricts a tasks query to public tasks and tasks created by the
// caller, then applies the optional filters. The ownership check is a
// correlated EXISTS so a task never appears twice.
func visibleTo(f domain.TaskFilter) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if f.CallerID > 0 {
			db = db.Where(
				"(tasks.is_public = ? OR EXISTS (SELECT 1 FROM task_logs l WHERE l.entity = ? AND l.action = ? AND l.entity_id = tasks.id AND l.user_id = ?))",
				true, domain.EntityTask, domain.ActionCreate, f.CallerID,
			)
		} else {
			db = db.Where("tasks.is_public = ?", true)
		}
		if f.IsCompleted != nil {
			db = db.Where("tasks.is_completed = ?", *f.IsCompleted)
		}
		if f.IsPublic != nil {
			db = db.Where("tasks.is_public = ?", *f.IsPublic)
		}
		if f.ResponsibleID != nil {
			db = db.Where("tasks.responsible_id = ?", *f.ResponsibleID)
		}
		if f.Search != "" {
			pattern := "%" + strings.ToLower(f.Search) + "%"
			db = db.Where("(LOWER(tasks.title) LIKE ? OR LOWER(tasks.description) LIKE ?)", pattern, pattern)
		}
		return db
	}
}

func tagsByName(db *gorm.DB) *gorm.DB {
	return db.Order("tags.name")
}

func linkTags(db *gorm.DB, taskID int64, tags []domain.Tag) error {
	if len(tags) == 0 {
		return nil
	}
	links := make([]taskTagRecord, 0, len(tags))
	for _, tag := range tags {
		links = append(links, taskTagRecord{TaskID: taskID, TagID: tag.ID})
	}
	return db.Clauses(clause.OnConflict{DoNothing: true}).Create(&links).Error
}
