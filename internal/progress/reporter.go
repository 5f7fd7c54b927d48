package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Options configures the progress reporter for one pipeline stage.
type Options struct {
	// Stage is the verb shown in the output, e.g. "Downloading".
	Stage string

	// Total is the number of tasks in the stage.
	Total int

	// Output is where to write progress output.
	// Default: os.Stderr
	Output io.Writer

	// UpdateInterval is how often to update the progress display.
	// Default: 500ms
	UpdateInterval time.Duration
}

// Reporter aggregates task events from concurrent workers and renders
// them on a single line. Workers publish through the Task* methods;
// one goroutine owns the output, so no worker ever writes to the
// terminal directly.
type Reporter struct {
	opts Options

	mu         sync.Mutex
	completed  atomic.Int32
	skipped    atomic.Int32
	failed     atomic.Int32
	inProgress atomic.Int32
	startTime  time.Time
	stopCh     chan struct{}
	doneCh     chan struct{}
	stopped    bool
}

// NewReporter creates a new progress reporter.
func NewReporter(opts Options) *Reporter {
	if opts.Output == nil {
		opts.Output = os.Stderr
	}
	if opts.UpdateInterval == 0 {
		opts.UpdateInterval = 500 * time.Millisecond
	}

	return &Reporter{
		opts:   opts,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start begins outputting progress information.
func (r *Reporter) Start() {
	r.startTime = time.Now()
	fmt.Fprintf(r.opts.Output, "[s5p] %s %d products\n", r.opts.Stage, r.opts.Total)
	go r.updateLoop()
}

// Stop stops the progress reporter and prints the final status line.
// It blocks until the render goroutine has finished writing.
func (r *Reporter) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	r.mu.Unlock()

	close(r.stopCh)
	<-r.doneCh
}

// TaskStarted marks a task as in progress.
func (r *Reporter) TaskStarted() {
	r.inProgress.Add(1)
}

// TaskCompleted marks a task as successfully completed.
func (r *Reporter) TaskCompleted() {
	r.completed.Add(1)
	r.inProgress.Add(-1)
}

// TaskSkipped marks a task as skipped (already done, or no data).
func (r *Reporter) TaskSkipped() {
	r.skipped.Add(1)
	r.inProgress.Add(-1)
}

// TaskFailed marks a task as failed.
func (r *Reporter) TaskFailed() {
	r.failed.Add(1)
	r.inProgress.Add(-1)
}

// Counts returns the completed/skipped/failed totals observed so far.
func (r *Reporter) Counts() (completed, skipped, failed int) {
	return int(r.completed.Load()), int(r.skipped.Load()), int(r.failed.Load())
}

// updateLoop periodically updates the progress display.
func (r *Reporter) updateLoop() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.opts.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			r.printFinalStatus()
			return
		case <-ticker.C:
			r.printProgress()
		}
	}
}

func (r *Reporter) printProgress() {
	completed := int(r.completed.Load())
	skipped := int(r.skipped.Load())
	failed := int(r.failed.Load())
	inProgress := int(r.inProgress.Load())

	done := completed + skipped + failed
	var percent float64
	if r.opts.Total > 0 {
		percent = float64(done) / float64(r.opts.Total) * 100
	}

	fmt.Fprintf(r.opts.Output, "\r[s5p] %s: %.0f%% | %d/%d done | %d skipped | %d failed | %d in-progress    ",
		r.opts.Stage, percent, done, r.opts.Total, skipped, failed, inProgress)
}

func (r *Reporter) printFinalStatus() {
	completed := int(r.completed.Load())
	skipped := int(r.skipped.Load())
	failed := int(r.failed.Load())
	duration := time.Since(r.startTime)

	fmt.Fprintf(r.opts.Output, "\r[s5p] %s: %d completed | %d skipped | %d failed | %s    \n",
		r.opts.Stage, completed, skipped, failed, formatDuration(duration))
}

// FormatBytes formats bytes as a human-readable string.
func FormatBytes(b int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
		TB = GB * 1024
	)

	switch {
	case b >= TB:
		return fmt.Sprintf("%.2f TB", float64(b)/float64(TB))
	case b >= GB:
		return fmt.Sprintf("%.2f GB", float64(b)/float64(GB))
	case b >= MB:
		return fmt.Sprintf("%.2f MB", float64(b)/float64(MB))
	case b >= KB:
		return fmt.Sprintf("%.2f KB", float64(b)/float64(KB))
	default:
		return fmt.Sprintf("%d B", b)
	}
}

// formatDuration formats a duration as a human-readable string.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %dm %ds", h, m, s)
}
