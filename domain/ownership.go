package domain

import "context"

// OwnershipResolver derives task ownership from the audit log: the owner is
// the caller recorded on the task's create entry.
type OwnershipResolver struct {
	log AuditLog
}

func NewOwnershipResolver(log AuditLog) OwnershipResolver {
	return OwnershipResolver{log: log}
}

// IsOwner reports whether callerID created the task. Anonymous callers
// (callerID <= 0) never own anything.
func (r OwnershipResolver) IsOwner(ctx context.Context, taskID, callerID int64) (bool, error) {
	if callerID <= 0 {
		return false, nil
	}
	return r.log.HasLog(ctx, LogQuery{
		Entity:   EntityTask,
		Action:   ActionCreate,
		EntityID: taskID,
		UserID:   callerID,
	})
}
