package converter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bilelomrani1/s5p-tools/internal/progress"
)

// ErrNoData is reported by a Transformer when the source granule is
// valid but contains no samples after filtering. The file is simply
// absent from later stages; it is not an error.
var ErrNoData = errors.New("converter: product contains no data")

// Transformer converts one swath granule to its gridded form by
// applying a declarative operation chain. Implementations may shell
// out to an external tool or call into a library; the engine treats
// them as opaque and possibly failing.
type Transformer interface {
	Transform(ctx context.Context, src, dst, operations string) error
}

// TransformerFunc adapts a function to the Transformer interface.
type TransformerFunc func(ctx context.Context, src, dst, operations string) error

func (f TransformerFunc) Transform(ctx context.Context, src, dst, operations string) error {
	return f(ctx, src, dst, operations)
}

// Job is one file conversion.
type Job struct {
	Source      string
	Destination string
	Operations  string
}

// Status classifies the outcome of one conversion job.
type Status string

const (
	// StatusConverted: transformed successfully.
	StatusConverted Status = "converted"
	// StatusExisted: destination already present, transform not invoked.
	StatusExisted Status = "existed"
	// StatusNoData: granule had no samples left after filtering.
	StatusNoData Status = "nodata"
	// StatusMissing: source file absent (its download failed or was skipped).
	StatusMissing Status = "missing"
	// StatusFailed: the transformer reported an error.
	StatusFailed Status = "failed"
)

// Result records the outcome of one conversion job.
type Result struct {
	Job    Job
	Status Status
	Err    error
}

// Available reports whether the converted file exists after the run.
func (r Result) Available() bool {
	return r.Status == StatusConverted || r.Status == StatusExisted
}

// Options configures the conversion engine.
type Options struct {
	// Workers is the number of parallel conversion workers. Each
	// transform occupies one external process, so this should track
	// the machine's core count.
	Workers int

	// Progress is an optional progress reporter.
	Progress *progress.Reporter

	// Log is where per-job messages go. Default: os.Stderr.
	Log io.Writer
}

// MakeJobs builds one conversion job per source file. The destination
// lives in exportDir under the source name with the processing-level
// token flipped from L2 to L3.
func MakeJobs(sources []string, exportDir, operations string) []Job {
	jobs := make([]Job, len(sources))
	for i, src := range sources {
		name := strings.ReplaceAll(filepath.Base(src), "L2", "L3")
		jobs[i] = Job{
			Source:      src,
			Destination: filepath.Join(exportDir, name),
			Operations:  operations,
		}
	}
	return jobs
}

// Convert runs every job on a bounded pool of opts.Workers workers.
// Jobs whose destination already exists are no-op successes; jobs
// whose granule is empty after filtering are non-fatal skips. Any
// other failure is recorded and isolated from sibling jobs. Results
// are returned in job order; completion order is unspecified.
func Convert(ctx context.Context, tf Transformer, jobs []Job, opts Options) []Result {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Log == nil {
		opts.Log = os.Stderr
	}

	results := make([]Result, len(jobs))

	work := make(chan int)
	var wg sync.WaitGroup

	for i := 0; i < opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range work {
				results[idx] = convertOne(ctx, tf, jobs[idx], opts)
			}
		}()
	}

	for idx := range jobs {
		work <- idx
	}
	close(work)

	wg.Wait()
	return results
}

// convertOne runs one job. The destination check comes first so a
// re-run never re-invokes the transformer for finished files.
func convertOne(ctx context.Context, tf Transformer, job Job, opts Options) Result {
	if opts.Progress != nil {
		opts.Progress.TaskStarted()
	}

	if _, err := os.Stat(job.Destination); err == nil {
		if opts.Progress != nil {
			opts.Progress.TaskSkipped()
		}
		return Result{Job: job, Status: StatusExisted}
	}

	if _, err := os.Stat(job.Source); err != nil {
		fmt.Fprintf(opts.Log, "[s5p] File %s not found. Skipping conversion\n", job.Source)
		if opts.Progress != nil {
			opts.Progress.TaskSkipped()
		}
		return Result{Job: job, Status: StatusMissing}
	}

	err := tf.Transform(ctx, job.Source, job.Destination, job.Operations)
	switch {
	case err == nil:
		if opts.Progress != nil {
			opts.Progress.TaskCompleted()
		}
		return Result{Job: job, Status: StatusConverted}
	case errors.Is(err, ErrNoData):
		fmt.Fprintf(opts.Log, "[s5p] File %s contains no data after filtering. Skipping\n", job.Source)
		if opts.Progress != nil {
			opts.Progress.TaskSkipped()
		}
		return Result{Job: job, Status: StatusNoData, Err: err}
	default:
		fmt.Fprintf(opts.Log, "[s5p] Converting %s failed: %v\n", job.Source, err)
		// A failed transform must not leave a partial destination
		// behind, or the next run would skip it as done.
		os.Remove(job.Destination)
		if opts.Progress != nil {
			opts.Progress.TaskFailed()
		}
		return Result{Job: job, Status: StatusFailed, Err: err}
	}
}
