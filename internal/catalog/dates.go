package catalog

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseDate parses one boundary of a sensing-period search. Accepted
// forms, matching what the hub's query language takes:
//
//	yyyyMMdd
//	yyyy-MM-ddThh:mm:ssZ
//	yyyy-MM-ddThh:mm:ss.SSSZ
//	NOW
//	NOW-<n>MINUTE(S) | NOW-<n>HOUR(S) | NOW-<n>DAY(S) | NOW-<n>MONTH(S)
//
// now anchors the relative forms; pass time.Now().UTC() outside tests.
func ParseDate(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("catalog: empty date")
	}

	if strings.HasPrefix(strings.ToUpper(s), "NOW") {
		return parseRelative(strings.ToUpper(s), now)
	}

	for _, layout := range []string{
		"20060102",
		"2006-01-02T15:04:05Z",
		"2006-01-02T15:04:05.000Z",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}

	return time.Time{}, fmt.Errorf("catalog: unrecognized date %q", s)
}

func parseRelative(s string, now time.Time) (time.Time, error) {
	if s == "NOW" {
		return now.UTC(), nil
	}

	rest, ok := strings.CutPrefix(s, "NOW-")
	if !ok {
		return time.Time{}, fmt.Errorf("catalog: unrecognized relative date %q", s)
	}

	i := 0
	for i < len(rest) && rest[i] >= '0' && rest[i] <= '9' {
		i++
	}
	if i == 0 {
		return time.Time{}, fmt.Errorf("catalog: missing count in relative date %q", s)
	}
	n, err := strconv.Atoi(rest[:i])
	if err != nil {
		return time.Time{}, fmt.Errorf("catalog: relative date %q: %w", s, err)
	}

	unit := strings.TrimSuffix(rest[i:], "S")
	switch unit {
	case "MINUTE":
		return now.Add(-time.Duration(n) * time.Minute).UTC(), nil
	case "HOUR":
		return now.Add(-time.Duration(n) * time.Hour).UTC(), nil
	case "DAY":
		return now.AddDate(0, 0, -n).UTC(), nil
	case "MONTH":
		return now.AddDate(0, -n, 0).UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("catalog: unknown unit in relative date %q", s)
	}
}
