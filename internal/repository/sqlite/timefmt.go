package sqlite

import (
	"fmt"
	"time"
)

// TIMESTAMPS AS TEXT:
// SQLite has no native time type. We store every timestamp as fixed-width UTC
// text, so lexical order in ORDER BY / comparisons equals chronological order
// and the date filter can compare the first 10 characters ("YYYY-MM-DD").
const (
	timestampLayout = "2006-01-02T15:04:05.000000000Z"
	dayLayout       = "2006-01-02"
)

func formatTime(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timestampLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t, nil
}

func formatDay(t time.Time) string {
	return t.UTC().Format(dayLayout)
}
