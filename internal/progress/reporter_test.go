package progress

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestReporterTaskTracking(t *testing.T) {
	reporter := NewReporter(Options{
		Stage:          "Downloading",
		Total:          4,
		UpdateInterval: 100 * time.Millisecond,
	})

	// Track tasks without starting the render loop.
	reporter.TaskStarted()
	if reporter.inProgress.Load() != 1 {
		t.Errorf("expected 1 in-progress, got %d", reporter.inProgress.Load())
	}

	reporter.TaskCompleted()
	reporter.TaskStarted()
	reporter.TaskSkipped()
	reporter.TaskStarted()
	reporter.TaskFailed()

	completed, skipped, failed := reporter.Counts()
	if completed != 1 || skipped != 1 || failed != 1 {
		t.Errorf("expected counts 1/1/1, got %d/%d/%d", completed, skipped, failed)
	}
	if reporter.inProgress.Load() != 0 {
		t.Errorf("expected 0 in-progress, got %d", reporter.inProgress.Load())
	}
}

func TestReporterFinalStatus(t *testing.T) {
	var buf bytes.Buffer
	reporter := NewReporter(Options{
		Stage:          "Converting",
		Total:          2,
		Output:         &buf,
		UpdateInterval: time.Hour, // only the final line
	})

	reporter.Start()
	reporter.TaskStarted()
	reporter.TaskCompleted()
	reporter.TaskStarted()
	reporter.TaskSkipped()
	reporter.Stop()

	out := buf.String()
	if !strings.Contains(out, "Converting 2 products") {
		t.Errorf("missing header in output: %q", out)
	}
	if !strings.Contains(out, "1 completed | 1 skipped | 0 failed") {
		t.Errorf("missing final status in output: %q", out)
	}
}

func TestReporterStopIsIdempotent(t *testing.T) {
	reporter := NewReporter(Options{Stage: "Downloading", Total: 1, Output: &bytes.Buffer{}})
	reporter.Start()
	reporter.Stop()
	reporter.Stop() // must not panic or block
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		input    int64
		expected string
	}{
		{0, "0 B"},
		{100, "100 B"},
		{1024, "1.00 KB"},
		{1536, "1.50 KB"},
		{1024 * 1024, "1.00 MB"},
		{450 * 1024 * 1024, "450.00 MB"},
		{1024 * 1024 * 1024, "1.00 GB"},
	}

	for _, tt := range tests {
		result := FormatBytes(tt.input)
		if result != tt.expected {
			t.Errorf("FormatBytes(%d) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		input    time.Duration
		expected string
	}{
		{30 * time.Second, "30s"},
		{90 * time.Second, "1m 30s"},
		{3*time.Hour + 5*time.Minute + 2*time.Second, "3h 5m 2s"},
	}

	for _, tt := range tests {
		result := formatDuration(tt.input)
		if result != tt.expected {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}
