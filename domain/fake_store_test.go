package domain

import (
	"context"
	"sort"
	"strings"
	"time"
)

type fakeStore struct {
	nextTaskID int64
	nextTagID  int64
	nextLogID  int64

	tasks map[int64]Task
	tags  map[string]Tag
	users map[int64]User
	logs  []TaskLog

	// beforeInsertTags simulates a concurrent writer that runs between the
	// reconciler's lookup and its insert.
	beforeInsertTags func(f *fakeStore)

	insertTagsErr error
	createTaskErr error
	updateTaskErr error
	appendLogErr  error
	listErr       error

	insertTagCalls int
	lastFilter     TaskFilter
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		tasks: map[int64]Task{},
		tags:  map[string]Tag{},
		users: map[int64]User{},
	}
}

func (f *fakeStore) addUser(id int64, name string) {
	f.users[id] = User{ID: id, Name: name}
}

func (f *fakeStore) addTag(name string) Tag {
	f.nextTagID++
	t := Tag{ID: f.nextTagID, Name: name}
	f.tags[name] = t
	return t
}

func (f *fakeStore) Tx(ctx context.Context, fn func(Store) error) error {
	snapTasks := make(map[int64]Task, len(f.tasks))
	for k, v := range f.tasks {
		snapTasks[k] = cloneTask(v)
	}
	snapTags := make(map[string]Tag, len(f.tags))
	for k, v := range f.tags {
		snapTags[k] = v
	}
	snapLogs := append([]TaskLog(nil), f.logs...)
	ids := [3]int64{f.nextTaskID, f.nextTagID, f.nextLogID}

	if err := fn(f); err != nil {
		f.tasks, f.tags, f.logs = snapTasks, snapTags, snapLogs
		f.nextTaskID, f.nextTagID, f.nextLogID = ids[0], ids[1], ids[2]
		return err
	}
	return nil
}

func (f *fakeStore) FindTagsByName(ctx context.Context, names []string) ([]Tag, error) {
	var out []Tag
	for _, n := range names {
		if t, ok := f.tags[n]; ok {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeStore) InsertTags(ctx context.Context, names []string) error {
	f.insertTagCalls++
	if f.beforeInsertTags != nil {
		f.beforeInsertTags(f)
	}
	if f.insertTagsErr != nil {
		return f.insertTagsErr
	}
	for _, n := range names {
		if _, ok := f.tags[n]; ok {
			continue
		}
		f.addTag(n)
	}
	return nil
}

func (f *fakeStore) GetUser(ctx context.Context, id int64) (*User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (f *fakeStore) AppendLog(ctx context.Context, entry *TaskLog) error {
	if f.appendLogErr != nil {
		return f.appendLogErr
	}
	f.nextLogID++
	entry.ID = f.nextLogID
	entry.CreatedAt = time.Now().UTC()
	f.logs = append(f.logs, *entry)
	return nil
}

func (f *fakeStore) HasLog(ctx context.Context, q LogQuery) (bool, error) {
	for _, l := range f.logs {
		if l.Entity == q.Entity && l.Action == q.Action && l.EntityID == q.EntityID && l.UserID == q.UserID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) CreateTask(ctx context.Context, t *Task) error {
	if f.createTaskErr != nil {
		return f.createTaskErr
	}
	f.nextTaskID++
	now := time.Now().UTC()
	t.ID = f.nextTaskID
	t.CreatedAt, t.UpdatedAt = now, now
	f.tasks[t.ID] = cloneTask(*t)
	return nil
}

func (f *fakeStore) GetTask(ctx context.Context, id int64) (*Task, error) {
	t, ok := f.tasks[id]
	if !ok || t.DeletedAt != nil {
		return nil, nil
	}
	c := cloneTask(t)
	return &c, nil
}

func (f *fakeStore) UpdateTask(ctx context.Context, t *Task) error {
	if f.updateTaskErr != nil {
		return f.updateTaskErr
	}
	t.UpdatedAt = time.Now().UTC()
	f.tasks[t.ID] = cloneTask(*t)
	return nil
}

func (f *fakeStore) SoftDeleteTask(ctx context.Context, id int64) error {
	t := f.tasks[id]
	now := time.Now().UTC()
	t.DeletedAt = &now
	f.tasks[id] = t
	return nil
}

func (f *fakeStore) ListTasks(ctx context.Context, flt TaskFilter) ([]Task, int64, error) {
	f.lastFilter = flt
	if f.listErr != nil {
		return nil, 0, f.listErr
	}
	var matched []Task
	for _, t := range f.tasks {
		if t.DeletedAt != nil {
			continue
		}
		if !t.IsPublic {
			owner, _ := f.HasLog(ctx, LogQuery{Entity: EntityTask, Action: ActionCreate, EntityID: t.ID, UserID: flt.CallerID})
			if flt.CallerID <= 0 || !owner {
				continue
			}
		}
		if flt.IsCompleted != nil && t.IsCompleted != *flt.IsCompleted {
			continue
		}
		if flt.IsPublic != nil && t.IsPublic != *flt.IsPublic {
			continue
		}
		if flt.ResponsibleID != nil && (t.Responsible == nil || t.Responsible.ID != *flt.ResponsibleID) {
			continue
		}
		if flt.Search != "" {
			s := strings.ToLower(flt.Search)
			if !strings.Contains(strings.ToLower(t.Title), s) && !strings.Contains(strings.ToLower(t.Description), s) {
				continue
			}
		}
		matched = append(matched, cloneTask(t))
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID > matched[j].ID })

	total := int64(len(matched))
	if flt.Offset >= len(matched) {
		return []Task{}, total, nil
	}
	end := flt.Offset + flt.Limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[flt.Offset:end], total, nil
}

func (f *fakeStore) logsFor(taskID int64) []TaskLog {
	var out []TaskLog
	for _, l := range f.logs {
		if l.EntityID == taskID {
			out = append(out, l)
		}
	}
	return out
}

func cloneTask(t Task) Task {
	c := t
	if t.Tags != nil {
		c.Tags = append([]Tag(nil), t.Tags...)
	}
	if t.Responsible != nil {
		u := *t.Responsible
		c.Responsible = &u
	}
	if t.Comments != nil {
		s := *t.Comments
		c.Comments = &s
	}
	return c
}
