package storage

import (
	"time"

	"gorm.io/gorm"

	"tasklog-api/domain"
)

type userRecord struct {
	ID        int64  `gorm:"primaryKey"`
	Name      string `gorm:"size:100;not null"`
	Email     string `gorm:"size:255"`
	CreatedAt time.Time
}

func (userRecord) TableName() string { return "users" }

type tagRecord struct {
	ID   int64  `gorm:"primaryKey"`
	Name string `gorm:"size:50;not null;uniqueIndex"`
}

func (tagRecord) TableName() string { return "tags" }

type taskRecord struct {
	ID            int64       `gorm:"primaryKey"`
	Title         string      `gorm:"size:255;not null"`
	Description   string      `gorm:"type:text;not null"`
	IsCompleted   bool        `gorm:"not null"`
	DueDate       time.Time   `gorm:"not null"`
	Comments      *string     `gorm:"type:text"`
	IsPublic      bool        `gorm:"not null;index"`
	ResponsibleID *int64      `gorm:"index"`
	Responsible   *userRecord `gorm:"foreignKey:ResponsibleID;constraint:OnDelete:SET NULL"`
	Tags          []tagRecord `gorm:"many2many:task_tags;joinForeignKey:TaskID;joinReferences:TagID"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
	DeletedAt     gorm.DeletedAt `gorm:"index"`
}

func (taskRecord) TableName() string { return "tasks" }

// taskTagRecord addresses the join table directly so tag replacement is a
// plain delete + insert.
type taskTagRecord struct {
	TaskID int64 `gorm:"primaryKey"`
	TagID  int64 `gorm:"primaryKey"`
}

func (taskTagRecord) TableName() string { return "task_tags" }

type taskLogRecord struct {
	ID          int64     `gorm:"primaryKey"`
	Action      string    `gorm:"size:50;not null;index:idx_task_logs_lookup,priority:3"`
	Entity      string    `gorm:"size:50;not null;index:idx_task_logs_lookup,priority:1"`
	EntityID    int64     `gorm:"not null;index:idx_task_logs_lookup,priority:2"`
	UserID      int64     `gorm:"not null"`
	Description string    `gorm:"type:text;not null"`
	CreatedAt   time.Time `gorm:"not null"`
}

func (taskLogRecord) TableName() string { return "task_logs" }

func (r userRecord) toDomain() domain.User {
	return domain.User{ID: r.ID, Name: r.Name, Email: r.Email}
}

func (r tagRecord) toDomain() domain.Tag {
	return domain.Tag{ID: r.ID, Name: r.Name}
}

func (r taskRecord) toDomain() domain.Task {
	t := domain.Task{
		ID:          r.ID,
		Title:       r.Title,
		Description: r.Description,
		IsCompleted: r.IsCompleted,
		DueDate:     r.DueDate.UTC(),
		Comments:    r.Comments,
		IsPublic:    r.IsPublic,
		Tags:        make([]domain.Tag, 0, len(r.Tags)),
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
	if r.Responsible != nil {
		u := r.Responsible.toDomain()
		t.Responsible = &u
	}
	for _, tag := range r.Tags {
		t.Tags = append(t.Tags, tag.toDomain())
	}
	if r.DeletedAt.Valid {
		at := r.DeletedAt.Time
		t.DeletedAt = &at
	}
	return t
}

func newTaskRecord(t *domain.Task) taskRecord {
	return taskRecord{
		ID:            t.ID,
		Title:         t.Title,
		Description:   t.Description,
		IsCompleted:   t.IsCompleted,
		DueDate:       t.DueDate.UTC(),
		Comments:      t.Comments,
		IsPublic:      t.IsPublic,
		ResponsibleID: responsibleID(t),
	}
}

func responsibleID(t *domain.Task) *int64 {
	if t.Responsible == nil {
		return nil
	}
	id := t.Responsible.ID
	return &id
}
