// Package domain holds the records the console keeps in memory. Records are
// values: edits return a modified copy and never touch the receiver, so a
// snapshot handed to an asynchronous commit stays consistent.
package domain

import (
	"strconv"
	"time"
)

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

func formatTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
