package domain

import (
	"context"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "tasklog-api/domain"

// TaskService orchestrates task mutations. Every operation runs in a single
// store transaction, so a failure leaves neither orphaned tags nor a task
// without its create entry.
type TaskService struct {
	store  Store
	sink   AuditSink
	logger *log.Logger
}

// NewTaskService creates a service. sink may be nil.
func NewTaskService(store Store, sink AuditSink, logger *log.Logger) *TaskService {
	if store == nil {
		panic("domain.NewTaskService: store is nil")
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &TaskService{store: store, sink: sink, logger: logger}
}

// Create persists a new task and records the caller as its owner.
func (s *TaskService) Create(ctx context.Context, in TaskInput, callerID int64) (*Task, error) {
	ctx, span := startSpan(ctx, "tasks.create", callerID)
	defer span.End()

	var created *Task
	var entry TaskLog
	err := s.store.Tx(ctx, func(st Store) error {
		t := &Task{
			Title:       in.Title,
			Description: in.Description,
			DueDate:     in.DueDate,
			IsCompleted: in.IsCompleted,
			IsPublic:    in.IsPublic,
			Comments:    in.Comments,
		}
		if in.ResponsibleID != nil {
			user, err := resolveResponsible(ctx, st, *in.ResponsibleID)
			if err != nil {
				return err
			}
			t.Responsible = user
		}
		tags, err := NewTagReconciler(st).Reconcile(ctx, in.TagNames)
		if err != nil {
			return err
		}
		t.Tags = tags

		if err := st.CreateTask(ctx, t); err != nil {
			return fmt.Errorf("create task: %w", err)
		}
		entry = TaskLog{
			Action:      ActionCreate,
			Entity:      EntityTask,
			EntityID:    t.ID,
			UserID:      callerID,
			Description: fmt.Sprintf("created task %q", t.Title),
		}
		if err := st.AppendLog(ctx, &entry); err != nil {
			return fmt.Errorf("append log: %w", err)
		}
		created = t
		return nil
	})
	if err != nil {
		return nil, s.fail(span, "failed to create task", 0, callerID, err)
	}

	span.SetAttributes(attribute.Int64("tasklog.task_id", created.ID))
	s.publish(entry)
	return created, nil
}

// FindAll returns one page of the tasks visible to callerID. A callerID of
// zero means an anonymous caller, who only sees public tasks.
func (s *TaskService) FindAll(ctx context.Context, q ListQuery, callerID int64) (Page, error) {
	ctx, span := startSpan(ctx, "tasks.list", callerID)
	defer span.End()

	q = NormalizeListQuery(q)
	items, total, err := s.store.ListTasks(ctx, FilterFor(q, callerID))
	if err != nil {
		return Page{}, s.fail(span, "failed to list tasks", 0, callerID, err)
	}
	if items == nil {
		items = []Task{}
	}
	span.SetAttributes(
		attribute.Int("tasklog.page", q.Page),
		attribute.Int("tasklog.items", len(items)),
		attribute.Int64("tasklog.total", total),
	)
	return Page{Items: items, Meta: NewPageMeta(total, q.Page, q.Limit)}, nil
}

// FindOne returns a task if callerID may see it.
func (s *TaskService) FindOne(ctx context.Context, id, callerID int64) (*Task, error) {
	ctx, span := startSpan(ctx, "tasks.get", callerID)
	defer span.End()
	span.SetAttributes(attribute.Int64("tasklog.task_id", id))

	t, err := visibleTask(ctx, s.store, id, callerID)
	if err != nil {
		return nil, s.fail(span, "failed to get task", id, callerID, err)
	}
	return t, nil
}

// Update applies the supplied fields of patch to a visible task.
func (s *TaskService) Update(ctx context.Context, id int64, patch TaskPatch, callerID int64) (*Task, error) {
	ctx, span := startSpan(ctx, "tasks.update", callerID)
	defer span.End()
	span.SetAttributes(attribute.Int64("tasklog.task_id", id))

	var updated *Task
	var entry TaskLog
	err := s.store.Tx(ctx, func(st Store) error {
		t, err := visibleTask(ctx, st, id, callerID)
		if err != nil {
			return err
		}
		applyPatch(t, patch)

		if patch.ResponsibleID.Set {
			if patch.ResponsibleID.Valid {
				user, err := resolveResponsible(ctx, st, patch.ResponsibleID.ID)
				if err != nil {
					return err
				}
				t.Responsible = user
			} else {
				t.Responsible = nil
			}
		}
		if patch.TagNames != nil {
			tags, err := NewTagReconciler(st).Reconcile(ctx, *patch.TagNames)
			if err != nil {
				return err
			}
			t.Tags = tags
		}

		if err := st.UpdateTask(ctx, t); err != nil {
			return fmt.Errorf("update task: %w", err)
		}
		entry = TaskLog{
			Action:      ActionUpdate,
			Entity:      EntityTask,
			EntityID:    t.ID,
			UserID:      callerID,
			Description: describePatch(patch),
		}
		if err := st.AppendLog(ctx, &entry); err != nil {
			return fmt.Errorf("append log: %w", err)
		}
		updated = t
		return nil
	})
	if err != nil {
		return nil, s.fail(span, "failed to update task", id, callerID, err)
	}

	s.publish(entry)
	return updated, nil
}

// Remove soft-deletes a visible task. The row and its audit trail are kept.
func (s *TaskService) Remove(ctx context.Context, id, callerID int64) (DeleteResult, error) {
	ctx, span := startSpan(ctx, "tasks.delete", callerID)
	defer span.End()
	span.SetAttributes(attribute.Int64("tasklog.task_id", id))

	var entry TaskLog
	err := s.store.Tx(ctx, func(st Store) error {
		t, err := visibleTask(ctx, st, id, callerID)
		if err != nil {
			return err
		}
		if err := st.SoftDeleteTask(ctx, t.ID); err != nil {
			return fmt.Errorf("soft delete task: %w", err)
		}
		entry = TaskLog{
			Action:      ActionDelete,
			Entity:      EntityTask,
			EntityID:    t.ID,
			UserID:      callerID,
			Description: fmt.Sprintf("deleted task %q", t.Title),
		}
		if err := st.AppendLog(ctx, &entry); err != nil {
			return fmt.Errorf("append log: %w", err)
		}
		return nil
	})
	if err != nil {
		return DeleteResult{}, s.fail(span, "failed to delete task", id, callerID, err)
	}

	s.publish(entry)
	return DeleteResult{Deleted: true}, nil
}

// visibleTask loads a task and hides it unless it is public or owned by callerID.
func visibleTask(ctx context.Context, st Store, id, callerID int64) (*Task, error) {
	t, err := st.GetTask(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	if t == nil {
		return nil, ErrNotFound
	}
	owner := false
	if !t.IsPublic {
		owner, err = NewOwnershipResolver(st).IsOwner(ctx, id, callerID)
		if err != nil {
			return nil, fmt.Errorf("resolve owner: %w", err)
		}
	}
	if !CanView(t, owner) {
		return nil, ErrNotFound
	}
	return t, nil
}

func resolveResponsible(ctx context.Context, users UserStore, id int64) (*User, error) {
	u, err := users.GetUser(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if u == nil {
		return nil, fmt.Errorf("%w: responsible user %d does not exist", ErrBadInput, id)
	}
	return u, nil
}

func applyPatch(t *Task, p TaskPatch) {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.DueDate != nil {
		t.DueDate = *p.DueDate
	}
	if p.IsCompleted != nil {
		t.IsCompleted = *p.IsCompleted
	}
	if p.IsPublic != nil {
		t.IsPublic = *p.IsPublic
	}
	if p.Comments != nil {
		c := *p.Comments
		t.Comments = &c
	}
}

func describePatch(p TaskPatch) string {
	var fields []string
	if p.Title != nil {
		fields = append(fields, "title")
	}
	if p.Description != nil {
		fields = append(fields, "description")
	}
	if p.DueDate != nil {
		fields = append(fields, "dueDate")
	}
	if p.IsCompleted != nil {
		fields = append(fields, "isCompleted")
	}
	if p.IsPublic != nil {
		fields = append(fields, "isPublic")
	}
	if p.Comments != nil {
		fields = append(fields, "comments")
	}
	if p.ResponsibleID.Set {
		fields = append(fields, "responsibleId="+p.ResponsibleID.String())
	}
	if p.TagNames != nil {
		fields = append(fields, "tags")
	}
	if len(fields) == 0 {
		return "updated task (no changes)"
	}
	return "updated " + strings.Join(fields, ", ")
}

func (s *TaskService) publish(entry TaskLog) {
	if s.sink == nil {
		return
	}
	if !s.sink.Publish(entry) {
		s.logger.WithFields(log.Fields{
			"action": entry.Action,
			"task":   entry.EntityID,
			"caller": entry.UserID,
		}).Warn("audit forwarder saturated; entry not forwarded")
	}
}

// fail records err on the span. Client errors pass through unchanged; every
// other error is logged and replaced by a generic internal error.
func (s *TaskService) fail(span trace.Span, msg string, taskID, callerID int64, err error) error {
	if IsClientError(err) {
		span.SetAttributes(attribute.String("tasklog.outcome", err.Error()))
		return err
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, msg)
	s.logger.WithFields(log.Fields{
		"task":   taskID,
		"caller": callerID,
	}).WithError(err).Error(msg)
	return fmt.Errorf("%w: %s", ErrInternal, msg)
}

func startSpan(ctx context.Context, name string, callerID int64) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name,
		trace.WithAttributes(attribute.Int64("tasklog.caller_id", callerID)))
}
