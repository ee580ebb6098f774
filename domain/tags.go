package domain

import (
	"context"
	"fmt"
	"strings"
)

// MaxTagNameLength is the storage limit for a tag name.
const MaxTagNameLength = 50

// TagReconciler resolves tag names to persisted tags, creating the missing ones.
type TagReconciler struct {
	store TagStore
}

func NewTagReconciler(store TagStore) TagReconciler {
	return TagReconciler{store: store}
}

// NormalizeTagNames trims names, drops empty ones and removes exact duplicates,
// keeping the first occurrence order.
func NormalizeTagNames(names []string) []string {
	out := make([]string, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

// Reconcile returns exactly one tag per normalized name. Names that already
// exist are reused; the rest are inserted. Inserts that lose a race against a
// concurrent writer are absorbed by the store and picked up by the re-fetch.
func (r TagReconciler) Reconcile(ctx context.Context, names []string) ([]Tag, error) {
	normalized := NormalizeTagNames(names)
	if len(normalized) == 0 {
		return []Tag{}, nil
	}

	existing, err := r.store.FindTagsByName(ctx, normalized)
	if err != nil {
		return nil, fmt.Errorf("find tags: %w", err)
	}
	byName := make(map[string]Tag, len(normalized))
	for _, t := range existing {
		byName[t.Name] = t
	}

	var missing []string
	for _, n := range normalized {
		if _, ok := byName[n]; !ok {
			missing = append(missing, n)
		}
	}
	if len(missing) > 0 {
		if err := r.store.InsertTags(ctx, missing); err != nil {
			return nil, fmt.Errorf("insert tags: %w", err)
		}
		created, err := r.store.FindTagsByName(ctx, missing)
		if err != nil {
			return nil, fmt.Errorf("refetch tags: %w", err)
		}
		for _, t := range created {
			byName[t.Name] = t
		}
	}

	tags := make([]Tag, 0, len(normalized))
	for _, n := range normalized {
		t, ok := byName[n]
		if !ok {
			return nil, fmt.Errorf("tag %q missing after insert", n)
		}
		tags = append(tags, t)
	}
	return tags, nil
}
