package domain

import (
	"math"
	"strings"
)

const (
	DefaultPageLimit = 10
	MaxPageLimit     = 100

	// MaxPage keeps (page-1)*limit within int for every allowed limit.
	MaxPage = math.MaxInt / MaxPageLimit
)

// ListQuery is a validated list request.
type ListQuery struct {
	Page          int
	Limit         int
	IsCompleted   *bool
	IsPublic      *bool
	ResponsibleID *int64
	Search        string
}

// TaskFilter is what a TaskStore needs to select one page of visible tasks.
// Stores must return only tasks that are not soft-deleted and are either
// public or created by CallerID, ordered by id descending, without duplicates.
type TaskFilter struct {
	CallerID      int64
	Offset        int
	Limit         int
	IsCompleted   *bool
	IsPublic      *bool
	ResponsibleID *int64
	Search        string
}

// PageMeta describes a page of results.
type PageMeta struct {
	Total      int64 `json:"total"`
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	TotalPages int   `json:"totalPages"`
}

// Page is a list response.
type Page struct {
	Items []Task   `json:"items"`
	Meta  PageMeta `json:"meta"`
}

// NormalizeListQuery applies defaults and clamps paging to its allowed range.
func NormalizeListQuery(q ListQuery) ListQuery {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Page > MaxPage {
		q.Page = MaxPage
	}
	if q.Limit < 1 {
		q.Limit = DefaultPageLimit
	}
	if q.Limit > MaxPageLimit {
		q.Limit = MaxPageLimit
	}
	q.Search = strings.TrimSpace(q.Search)
	return q
}

// FilterFor builds the store filter for a normalized query and caller.
func FilterFor(q ListQuery, callerID int64) TaskFilter {
	if callerID < 0 {
		callerID = 0
	}
	return TaskFilter{
		CallerID:      callerID,
		Offset:        (q.Page - 1) * q.Limit,
		Limit:         q.Limit,
		IsCompleted:   q.IsCompleted,
		IsPublic:      q.IsPublic,
		ResponsibleID: q.ResponsibleID,
		Search:        q.Search,
	}
}

// NewPageMeta computes paging metadata. There is always at least one page.
func NewPageMeta(total int64, page, limit int) PageMeta {
	pages := 1
	if limit > 0 && total > 0 {
		pages = int((total + int64(limit) - 1) / int64(limit))
	}
	return PageMeta{Total: total, Page: page, Limit: limit, TotalPages: pages}
}

// CanView reports whether a task may be shown to a caller.
func CanView(t *Task, isOwner bool) bool {
	if t == nil || t.DeletedAt != nil {
		return false
	}
	return t.IsPublic || isOwner
}
