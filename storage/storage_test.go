package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"

	"tasklog-api/domain"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	logger, _ := test.NewNullLogger()
	s, err := New(DriverSQLite, ":memory:", logger)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := s.EnsureUsers(ctx, []domain.User{
		{ID: 1, Name: "Ada", Email: "ada@example.com"},
		{ID: 2, Name: "Brian"},
		{ID: 3, Name: "Cleo"},
	}); err != nil {
		t.Fatalf("seed users: %v", err)
	}
	return s
}

func newTestService(t *testing.T) (*domain.TaskService, *Storage) {
	t.Helper()
	s := newTestStorage(t)
	logger, _ := test.NewNullLogger()
	return domain.NewTaskService(s, nil, logger), s
}

var due = time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)

func TestNewRejectsUnknownDriver(t *testing.T) {
	logger, _ := test.NewNullLogger()
	if _, err := New("oracle", "x", logger); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestPing(t *testing.T) {
	s := newTestStorage(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
}

func TestEnsureUsersUpserts(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	if err := s.EnsureUsers(ctx, []domain.User{{ID: 2, Name: "Bryan", Email: "b@example.com"}}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	u, err := s.GetUser(ctx, 2)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if u == nil || u.Name != "Bryan" || u.Email != "b@example.com" {
		t.Fatalf("unexpected user: %#v", u)
	}
	missing, err := s.GetUser(ctx, 99)
	if err != nil || missing != nil {
		t.Fatalf("expected nil user, got %#v, %v", missing, err)
	}
}

func TestInsertTagsSkipsExistingNames(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	if err := s.InsertTags(ctx, []string{"backend", "ops"}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.InsertTags(ctx, []string{"ops", "frontend"}); err != nil {
		t.Fatalf("insert again: %v", err)
	}
	tags, err := s.FindTagsByName(ctx, []string{"backend", "ops", "frontend", "missing"})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(tags) != 3 {
		t.Fatalf("expected 3 tags, got %#v", tags)
	}
	var n int64
	if err := s.db.Model(&tagRecord{}).Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 tag rows, got %d", n)
	}
}

func TestTxRollsBackOnError(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.Tx(ctx, func(st domain.Store) error {
		if err := st.InsertTags(ctx, []string{"orphan"}); err != nil {
			return err
		}
		if err := st.CreateTask(ctx, &domain.Task{Title: "t", DueDate: due}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	tags, err := s.FindTagsByName(ctx, []string{"orphan"})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(tags) != 0 {
		t.Fatalf("tag insert should have rolled back: %#v", tags)
	}
	var n int64
	s.db.Model(&taskRecord{}).Unscoped().Count(&n)
	if n != 0 {
		t.Fatalf("task insert should have rolled back, found %d", n)
	}
}

func TestCreateAndGetTask(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	if err := s.InsertTags(ctx, []string{"b", "a"}); err != nil {
		t.Fatalf("insert tags: %v", err)
	}
	tags, _ := s.FindTagsByName(ctx, []string{"a", "b"})
	comments := "see ticket"
	task := &domain.Task{
		Title:       "Write report",
		Description: "quarterly",
		DueDate:     due,
		Comments:    &comments,
		Responsible: &domain.User{ID: 2},
		Tags:        tags,
	}
	if err := s.CreateTask(ctx, task); err != nil {
		t.Fatalf("create: %v", err)
	}
	if task.ID == 0 || task.CreatedAt.IsZero() {
		t.Fatalf("generated fields not set: %#v", task)
	}

	got, err := s.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatal("expected task")
	}
	if got.Title != "Write report" || !got.DueDate.Equal(due) || got.IsCompleted || got.IsPublic {
		t.Fatalf("unexpected task: %#v", got)
	}
	if got.Comments == nil || *got.Comments != comments {
		t.Fatalf("unexpected comments: %v", got.Comments)
	}
	if got.Responsible == nil || got.Responsible.Name != "Brian" {
		t.Fatalf("unexpected responsible: %#v", got.Responsible)
	}
	if len(got.Tags) != 2 || got.Tags[0].Name != "a" || got.Tags[1].Name != "b" {
		t.Fatalf("unexpected tags: %#v", got.Tags)
	}

	missing, err := s.GetTask(ctx, 999)
	if err != nil || missing != nil {
		t.Fatalf("expected nil task, got %#v, %v", missing, err)
	}
}

func TestUpdateTaskReplacesTagLinksAndClearsResponsible(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	_ = s.InsertTags(ctx, []string{"old", "new"})
	oldTags, _ := s.FindTagsByName(ctx, []string{"old"})
	newTags, _ := s.FindTagsByName(ctx, []string{"new"})

	task := &domain.Task{Title: "t", DueDate: due, Responsible: &domain.User{ID: 1}, Tags: oldTags}
	if err := s.CreateTask(ctx, task); err != nil {
		t.Fatalf("create: %v", err)
	}
	task.Title = "renamed"
	task.Responsible = nil
	task.Tags = newTags
	if err := s.UpdateTask(ctx, task); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, _ := s.GetTask(ctx, task.ID)
	if got.Title != "renamed" || got.Responsible != nil {
		t.Fatalf("unexpected task: %#v", got)
	}
	if len(got.Tags) != 1 || got.Tags[0].Name != "new" {
		t.Fatalf("unexpected tags: %#v", got.Tags)
	}
	still, _ := s.FindTagsByName(ctx, []string{"old"})
	if len(still) != 1 {
		t.Fatal("detached tag must not be deleted")
	}

	if err := s.UpdateTask(ctx, &domain.Task{ID: 404, Title: "x", DueDate: due}); err == nil {
		t.Fatal("expected error updating a missing task")
	}
}

func TestSoftDeleteHidesTask(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	task := &domain.Task{Title: "t", DueDate: due, IsPublic: true}
	if err := s.CreateTask(ctx, task); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.SoftDeleteTask(ctx, task.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got, err := s.GetTask(ctx, task.ID)
	if err != nil || got != nil {
		t.Fatalf("expected soft-deleted task to be absent, got %#v, %v", got, err)
	}
	var n int64
	s.db.Model(&taskRecord{}).Unscoped().Where("id = ?", task.ID).Count(&n)
	if n != 1 {
		t.Fatalf("row should be retained, found %d", n)
	}
	if err := s.SoftDeleteTask(ctx, task.ID); err == nil {
		t.Fatal("expected error deleting twice")
	}
}

func TestHasLog(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	entry := &domain.TaskLog{Action: domain.ActionCreate, Entity: domain.EntityTask, EntityID: 5, UserID: 1, Description: "created"}
	if err := s.AppendLog(ctx, entry); err != nil {
		t.Fatalf("append: %v", err)
	}
	if entry.ID == 0 || entry.CreatedAt.IsZero() {
		t.Fatalf("generated fields not set: %#v", entry)
	}

	tests := []struct {
		name string
		q    domain.LogQuery
		want bool
	}{
		{name: "match", q: domain.LogQuery{Entity: domain.EntityTask, Action: domain.ActionCreate, EntityID: 5, UserID: 1}, want: true},
		{name: "other user", q: domain.LogQuery{Entity: domain.EntityTask, Action: domain.ActionCreate, EntityID: 5, UserID: 2}},
		{name: "other action", q: domain.LogQuery{Entity: domain.EntityTask, Action: domain.ActionUpdate, EntityID: 5, UserID: 1}},
		{name: "other task", q: domain.LogQuery{Entity: domain.EntityTask, Action: domain.ActionCreate, EntityID: 6, UserID: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.HasLog(ctx, tt.q)
			if err != nil {
				t.Fatalf("has log: %v", err)
			}
			if got != tt.want {
				t.Fatalf("HasLog = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestListTasksVisibilityAndFilters(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	create := func(title string, public, done bool, owner int64, responsible *domain.User) int64 {
		task := &domain.Task{Title: title, Description: title + " details", DueDate: due, IsPublic: public, IsCompleted: done, Responsible: responsible}
		if err := s.CreateTask(ctx, task); err != nil {
			t.Fatalf("create %s: %v", title, err)
		}
		if err := s.AppendLog(ctx, &domain.TaskLog{Action: domain.ActionCreate, Entity: domain.EntityTask, EntityID: task.ID, UserID: owner}); err != nil {
			t.Fatalf("log %s: %v", title, err)
		}
		return task.ID
	}
	pub := create("Public report", true, false, 1, nil)
	priv1 := create("Private plan", false, true, 1, &domain.User{ID: 3})
	priv2 := create("Other plan", false, false, 2, nil)
	deleted := create("Deleted public", true, false, 1, nil)
	if err := s.SoftDeleteTask(ctx, deleted); err != nil {
		t.Fatalf("delete: %v", err)
	}
	// A second create entry for the same owner must not duplicate the row.
	_ = s.AppendLog(ctx, &domain.TaskLog{Action: domain.ActionCreate, Entity: domain.EntityTask, EntityID: priv1, UserID: 1})

	ids := func(t *testing.T, f domain.TaskFilter) ([]int64, int64) {
		t.Helper()
		if f.Limit == 0 {
			f.Limit = 10
		}
		items, total, err := s.ListTasks(ctx, f)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		out := make([]int64, 0, len(items))
		for _, it := range items {
			out = append(out, it.ID)
		}
		return out, total
	}
	equal := func(got, want []int64) bool {
		if len(got) != len(want) {
			return false
		}
		for i := range got {
			if got[i] != want[i] {
				return false
			}
		}
		return true
	}

	yes, no := true, false
	resp := int64(3)
	tests := []struct {
		name  string
		f     domain.TaskFilter
		want  []int64
		total int64
	}{
		{name: "anonymous sees public", f: domain.TaskFilter{}, want: []int64{pub}, total: 1},
		{name: "owner sees own private", f: domain.TaskFilter{CallerID: 1}, want: []int64{priv1, pub}, total: 2},
		{name: "other owner", f: domain.TaskFilter{CallerID: 2}, want: []int64{priv2, pub}, total: 2},
		{name: "completed filter", f: domain.TaskFilter{CallerID: 1, IsCompleted: &yes}, want: []int64{priv1}, total: 1},
		{name: "public false", f: domain.TaskFilter{CallerID: 1, IsPublic: &no}, want: []int64{priv1}, total: 1},
		{name: "responsible", f: domain.TaskFilter{CallerID: 1, ResponsibleID: &resp}, want: []int64{priv1}, total: 1},
		{name: "search is case insensitive", f: domain.TaskFilter{CallerID: 2, Search: "PLAN"}, want: []int64{priv2}, total: 1},
		{name: "search description", f: domain.TaskFilter{CallerID: 1, Search: "report details"}, want: []int64{pub}, total: 1},
		{name: "paging keeps total", f: domain.TaskFilter{CallerID: 1, Offset: 1, Limit: 1}, want: []int64{pub}, total: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, total := ids(t, tt.f)
			if !equal(got, tt.want) || total != tt.total {
				t.Fatalf("got %v (total %d), want %v (total %d)", got, total, tt.want, tt.total)
			}
		})
	}
}

// The scenarios below drive the task service against real SQLite storage.

func TestServicePrivateTaskHiddenFromOthers(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	task, err := svc.Create(ctx, domain.TaskInput{Title: "Secret", DueDate: due, TagNames: []string{"x"}}, 1)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.FindOne(ctx, task.ID, 2); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found for other caller, got %v", err)
	}
	if _, err := svc.FindOne(ctx, task.ID, 0); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found for anonymous caller, got %v", err)
	}
	got, err := svc.FindOne(ctx, task.ID, 1)
	if err != nil {
		t.Fatalf("owner find: %v", err)
	}
	if len(got.Tags) != 1 || got.Tags[0].Name != "x" {
		t.Fatalf("unexpected tags: %#v", got.Tags)
	}
	page, err := svc.FindAll(ctx, domain.ListQuery{}, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.Meta.Total != 0 || len(page.Items) != 0 || page.Meta.TotalPages != 1 {
		t.Fatalf("unexpected page: %#v", page)
	}
	if _, err := svc.Update(ctx, task.ID, domain.TaskPatch{}, 2); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found on update, got %v", err)
	}
	if _, err := svc.Remove(ctx, task.ID, 2); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found on remove, got %v", err)
	}
}

func TestServiceTagsAreSharedAcrossTasks(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()

	a, err := svc.Create(ctx, domain.TaskInput{Title: "a", DueDate: due, TagNames: []string{"shared", "one"}}, 1)
	if err != nil {
		t.Fatalf("create a: %v", err)
	}
	b, err := svc.Create(ctx, domain.TaskInput{Title: "b", DueDate: due, TagNames: []string{" shared ", "shared"}}, 2)
	if err != nil {
		t.Fatalf("create b: %v", err)
	}
	var shareA, shareB int64
	for _, tag := range a.Tags {
		if tag.Name == "shared" {
			shareA = tag.ID
		}
	}
	for _, tag := range b.Tags {
		if tag.Name == "shared" {
			shareB = tag.ID
		}
	}
	if shareA == 0 || shareA != shareB {
		t.Fatalf("expected the same tag row, got %d and %d", shareA, shareB)
	}
	var n int64
	s.db.Model(&tagRecord{}).Count(&n)
	if n != 2 {
		t.Fatalf("expected 2 tag rows, got %d", n)
	}
}

func TestServiceUnknownResponsibleLeavesNoTrace(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()
	missing := int64(42)

	_, err := svc.Create(ctx, domain.TaskInput{Title: "t", DueDate: due, ResponsibleID: &missing, TagNames: []string{"fresh"}}, 1)
	if !errors.Is(err, domain.ErrBadInput) {
		t.Fatalf("expected bad input, got %v", err)
	}
	var tasks, logs, tags int64
	s.db.Model(&taskRecord{}).Unscoped().Count(&tasks)
	s.db.Model(&taskLogRecord{}).Count(&logs)
	s.db.Model(&tagRecord{}).Count(&tags)
	if tasks != 0 || logs != 0 || tags != 0 {
		t.Fatalf("expected no rows, got tasks=%d logs=%d tags=%d", tasks, logs, tags)
	}
}

func TestServiceUpdateAndRemoveAreLogged(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()

	task, err := svc.Create(ctx, domain.TaskInput{Title: "t", DueDate: due, IsPublic: true}, 1)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	done := true
	updated, err := svc.Update(ctx, task.ID, domain.TaskPatch{IsCompleted: &done, ResponsibleID: domain.SetID(2)}, 3)
	if err != nil {
		t.Fatalf("public task update by another caller: %v", err)
	}
	if !updated.IsCompleted || updated.Responsible == nil || updated.Responsible.ID != 2 {
		t.Fatalf("unexpected update result: %#v", updated)
	}
	cleared, err := svc.Update(ctx, task.ID, domain.TaskPatch{ResponsibleID: domain.SetNull()}, 1)
	if err != nil {
		t.Fatalf("clear responsible: %v", err)
	}
	if cleared.Responsible != nil {
		t.Fatalf("expected responsible cleared, got %#v", cleared.Responsible)
	}

	res, err := svc.Remove(ctx, task.ID, 1)
	if err != nil || !res.Deleted {
		t.Fatalf("remove: %#v, %v", res, err)
	}
	if _, err := svc.FindOne(ctx, task.ID, 1); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found after remove, got %v", err)
	}

	var actions []string
	s.db.Model(&taskLogRecord{}).Where("entity_id = ?", task.ID).Order("id").Pluck("action", &actions)
	want := []string{domain.ActionCreate, domain.ActionUpdate, domain.ActionUpdate, domain.ActionDelete}
	if len(actions) != len(want) {
		t.Fatalf("unexpected log actions: %v", actions)
	}
	for i := range want {
		if actions[i] != want[i] {
			t.Fatalf("unexpected log actions: %v", actions)
		}
	}
}
