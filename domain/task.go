package domain

import (
	"strconv"
	"time"
)

// Audit log vocabulary.
const (
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"

	EntityTask = "task"
)

// Task is a unit of work. Its owner is not stored on the task; see OwnershipResolver.
type Task struct {
	ID          int64      `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	IsCompleted bool       `json:"isCompleted"`
	DueDate     time.Time  `json:"dueDate"`
	Comments    *string    `json:"comments"`
	IsPublic    bool       `json:"isPublic"`
	Responsible *User      `json:"responsible"`
	Tags        []Tag      `json:"tags"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	DeletedAt   *time.Time `json:"-"`
}

// Tag labels tasks. Names are unique.
type Tag struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// User is referenced by a task as its responsible (assignee).
type User struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// TaskLog is one append-only audit entry.
type TaskLog struct {
	ID          int64     `json:"id"`
	Action      string    `json:"action"`
	Entity      string    `json:"entity"`
	EntityID    int64     `json:"entityId"`
	UserID      int64     `json:"userId"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"createdAt"`
}

// LogQuery selects audit entries by exact match on every field.
type LogQuery struct {
	Entity   string
	Action   string
	EntityID int64
	UserID   int64
}

// TaskInput carries a validated create request.
type TaskInput struct {
	Title         string
	Description   string
	DueDate       time.Time
	IsCompleted   bool
	IsPublic      bool
	Comments      *string
	ResponsibleID *int64
	TagNames      []string
}

// NullableID distinguishes an absent field from an explicit null.
type NullableID struct {
	Set   bool
	Valid bool
	ID    int64
}

// SetID returns a NullableID holding id.
func SetID(id int64) NullableID { return NullableID{Set: true, Valid: true, ID: id} }

// SetNull returns a NullableID holding an explicit null.
func SetNull() NullableID { return NullableID{Set: true} }

func (n NullableID) String() string {
	switch {
	case !n.Set:
		return "unset"
	case !n.Valid:
		return "null"
	default:
		return strconv.FormatInt(n.ID, 10)
	}
}

// TaskPatch carries a validated partial update. Nil fields are left untouched.
type TaskPatch struct {
	Title         *string
	Description   *string
	DueDate       *time.Time
	IsCompleted   *bool
	IsPublic      *bool
	Comments      *string
	ResponsibleID NullableID
	TagNames      *[]string
}

// DeleteResult confirms a removal.
type DeleteResult struct {
	Deleted bool `json:"deleted"`
}
