package apic

import (
	"fmt"
	"time"
)

// TimeLayout is the controller's timestamp format for filters
const TimeLayout = "2006-01-02T15:04:05.000-0700"

var parseLayouts = []string{
	TimeLayout,
	"2006-01-02T15:04:05.000-07:00",
	time.RFC3339Nano,
}

// FormatTime renders t in the controller filter format
func FormatTime(t time.Time) string {
	return t.Format(TimeLayout)
}

// ParseTime parses a controller timestamp in either offset form
func ParseTime(s string) (time.Time, error) {
	var firstErr error
	for _, layout := range parseLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return time.Time{}, firstErr
}

// createdAfter is the filter gt(<class>.created,"<ts>")
func createdAfter(class string, t time.Time) string {
	return fmt.Sprintf(`gt(%s.created,"%s")`, class, FormatTime(t))
}

// createdWithin is the half-open filter [start, end)
func createdWithin(class string, iv Interval) string {
	return fmt.Sprintf(`and(ge(%s.created,"%s"),lt(%s.created,"%s"))`,
		class, FormatTime(iv.Start), class, FormatTime(iv.End))
}
