package dataset

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/ctessum/cdf"
)

// TimeRange is the sensing interval of one granule, taken from its
// time_coverage_start and time_coverage_end global attributes.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// coverageLayouts lists the timestamp forms seen in Sentinel-5P
// granule attributes.
var coverageLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05.000000",
	"2006-01-02T15:04:05",
	"20060102T150405Z",
	"20060102T150405",
}

func parseCoverage(s string) (time.Time, error) {
	for _, layout := range coverageLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized coverage timestamp %q", s)
}

// Coverage reads the sensing interval from a granule's global
// attributes. It is called on the original L2 files before conversion,
// because the transformer does not carry the coverage attributes into
// its output.
func Coverage(path string) (TimeRange, error) {
	f, err := os.Open(path)
	if err != nil {
		return TimeRange{}, fmt.Errorf("dataset: open %s: %w", path, err)
	}
	defer f.Close()

	cf, err := cdf.Open(f)
	if err != nil {
		return TimeRange{}, fmt.Errorf("dataset: read %s: %w", path, err)
	}

	start, err := stringAttr(cf, "time_coverage_start")
	if err != nil {
		return TimeRange{}, fmt.Errorf("dataset: %s: %w", path, err)
	}
	end, err := stringAttr(cf, "time_coverage_end")
	if err != nil {
		return TimeRange{}, fmt.Errorf("dataset: %s: %w", path, err)
	}

	var tr TimeRange
	if tr.Start, err = parseCoverage(start); err != nil {
		return TimeRange{}, fmt.Errorf("dataset: %s: %w", path, err)
	}
	if tr.End, err = parseCoverage(end); err != nil {
		return TimeRange{}, fmt.Errorf("dataset: %s: %w", path, err)
	}
	return tr, nil
}

// CoverageTable builds the side table mapping granule base names to
// their sensing intervals. Files that cannot be read are dropped from
// the table with a log line; the merge later skips units it cannot
// date rather than aborting the batch.
func CoverageTable(paths []string, log io.Writer) map[string]TimeRange {
	if log == nil {
		log = io.Discard
	}
	table := make(map[string]TimeRange, len(paths))
	for _, path := range paths {
		tr, err := Coverage(path)
		if err != nil {
			fmt.Fprintf(log, "coverage: %v\n", err)
			continue
		}
		table[filepath.Base(path)] = tr
	}
	return table
}

func stringAttr(f *cdf.File, name string) (string, error) {
	attr := f.Header.GetAttribute("", name)
	if attr == nil {
		return "", fmt.Errorf("missing global attribute %s", name)
	}
	s, ok := attr.(string)
	if !ok {
		return "", fmt.Errorf("global attribute %s is not a string", name)
	}
	return s, nil
}
