// Package filter narrows in-memory record collections by field criteria
// and derives the option lists used to populate filter controls.
package filter

import (
	"context"
)

// Apply returns the records matching every non-empty criterion, in their
// original order. The input slice is never modified. With no active
// criteria the result holds every record.
func Apply[T Record](items []T, criteria Criteria) []T {
	return ApplyContext(context.Background(), items, criteria)
}

// ApplyContext is Apply with a context for expression evaluation.
func ApplyContext[T Record](ctx context.Context, items []T, criteria Criteria) []T {
	active := criteria.active()
	out := make([]T, 0, len(items))

	for _, item := range items {
		if matchesAll(ctx, item, active) {
			out = append(out, item)
		}
	}
	return out
}

func matchesAll(ctx context.Context, r Record, criteria Criteria) bool {
	for _, c := range criteria {
		if !c.matches(ctx, r) {
			return false
		}
	}
	return true
}

// DistinctValues returns each distinct value of field across items, in
// first-seen order. Absent, nil and empty values are skipped.
func DistinctValues[T Record](items []T, field string) []string {
	seen := make(map[string]struct{})
	values := make([]string, 0)

	for _, item := range items {
		v, ok := scalar(item, field)
		if !ok || v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		values = append(values, v)
	}
	return values
}
