package downloader

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"strings"
	"sync"
	"time"

	"gocloud.dev/blob"

	"github.com/bilelomrani1/s5p-tools/internal/catalog"
	s5phttp "github.com/bilelomrani1/s5p-tools/internal/http"
	"github.com/bilelomrani1/s5p-tools/internal/progress"
)

// ErrChecksum is returned when a downloaded granule does not match the
// MD5 the hub advertised for it.
var ErrChecksum = errors.New("downloader: checksum mismatch")

// Hub is the slice of the catalog client the downloader needs.
type Hub interface {
	Metadata(ctx context.Context, id string) (catalog.Meta, error)
	Download(ctx context.Context, id string) (io.ReadCloser, int64, error)
}

// Status classifies the outcome of one download task.
type Status string

const (
	// StatusDownloaded: fetched, verified and renamed.
	StatusDownloaded Status = "downloaded"
	// StatusExisted: destination already present, nothing fetched.
	StatusExisted Status = "existed"
	// StatusSkipped: product missing from the catalog at download time.
	StatusSkipped Status = "skipped"
	// StatusFailed: task failed after exhausting retries.
	StatusFailed Status = "failed"
)

// Result records the outcome of one download task.
type Result struct {
	Product catalog.Product
	Key     string
	Status  Status
	Err     error
}

// Available reports whether the granule is present locally after the
// run, either freshly downloaded or already there.
func (r Result) Available() bool {
	return r.Status == StatusDownloaded || r.Status == StatusExisted
}

// Options configures the downloader.
type Options struct {
	// Threads is the number of parallel download workers.
	Threads int

	// RetryAttempts bounds the retries after a checksum mismatch.
	// 0 retries forever.
	RetryAttempts int

	// RetryBackoff is the initial backoff between retries.
	RetryBackoff time.Duration

	// RetryMaxBackoff caps the backoff.
	RetryMaxBackoff time.Duration

	// Progress is an optional progress reporter.
	Progress *progress.Reporter

	// Log is where per-task messages go. Default: os.Stderr.
	Log io.Writer
}

// Fetch downloads every product that is not already in the bucket,
// using a bounded pool of opts.Threads workers. Completion order is
// unspecified. Per-task failures are recorded in the results and never
// abort sibling tasks. Results are returned in product order.
func Fetch(ctx context.Context, hub Hub, bucket *blob.Bucket, products []catalog.Product, opts Options) []Result {
	if opts.Threads <= 0 {
		opts.Threads = 4
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = time.Second
	}
	if opts.RetryMaxBackoff <= 0 {
		opts.RetryMaxBackoff = 30 * time.Second
	}
	if opts.Log == nil {
		opts.Log = os.Stderr
	}

	results := make([]Result, len(products))

	jobs := make(chan int)
	var wg sync.WaitGroup

	for i := 0; i < opts.Threads; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				results[idx] = fetchOne(ctx, hub, bucket, products[idx], opts)
			}
		}()
	}

	for idx := range products {
		jobs <- idx
	}
	close(jobs)

	wg.Wait()
	return results
}

// fetchOne runs one download task to completion. The existence check
// comes first so that a re-run never re-transfers finished granules.
func fetchOne(ctx context.Context, hub Hub, bucket *blob.Bucket, p catalog.Product, opts Options) Result {
	if opts.Progress != nil {
		opts.Progress.TaskStarted()
	}

	key := p.Filename()

	exists, err := bucket.Exists(ctx, key)
	if err != nil {
		if opts.Progress != nil {
			opts.Progress.TaskFailed()
		}
		return Result{Product: p, Key: key, Status: StatusFailed, Err: fmt.Errorf("check %s: %w", key, err)}
	}
	if exists {
		fmt.Fprintf(opts.Log, "[s5p] File %s already exists\n", key)
		if opts.Progress != nil {
			opts.Progress.TaskSkipped()
		}
		return Result{Product: p, Key: key, Status: StatusExisted}
	}

	meta, err := hub.Metadata(ctx, p.Id)
	if err != nil {
		if errors.Is(err, s5phttp.ErrNotFound) {
			fmt.Fprintf(opts.Log, "[s5p] File %s not found in hub. Skipping\n", p.Id)
			if opts.Progress != nil {
				opts.Progress.TaskSkipped()
			}
			return Result{Product: p, Key: key, Status: StatusSkipped, Err: err}
		}
		if opts.Progress != nil {
			opts.Progress.TaskFailed()
		}
		return Result{Product: p, Key: key, Status: StatusFailed, Err: err}
	}

	// The hub serves a generic container; download under the archive
	// name and rename to the canonical extension only after the
	// checksum holds, so a partial transfer never shadows the
	// destination.
	tmpKey := strings.TrimSuffix(key, ".nc") + ".zip"

	for attempt := 1; ; attempt++ {
		err = downloadTo(ctx, hub, bucket, tmpKey, p.Id, meta)
		if err == nil {
			break
		}

		bucket.Delete(ctx, tmpKey)

		if ctx.Err() != nil {
			err = ctx.Err()
		}
		retryable := errors.Is(err, ErrChecksum) && ctx.Err() == nil
		if retryable && (opts.RetryAttempts == 0 || attempt < opts.RetryAttempts) {
			fmt.Fprintf(opts.Log, "[s5p] Invalid checksum for %s. Trying again...\n", p.Id)
			if werr := wait(ctx, attempt, opts.RetryBackoff, opts.RetryMaxBackoff); werr == nil {
				continue
			}
		}

		if opts.Progress != nil {
			opts.Progress.TaskFailed()
		}
		return Result{Product: p, Key: key, Status: StatusFailed, Err: fmt.Errorf("download %s: %w", p.Id, err)}
	}

	if err := rename(ctx, bucket, tmpKey, key); err != nil {
		if opts.Progress != nil {
			opts.Progress.TaskFailed()
		}
		return Result{Product: p, Key: key, Status: StatusFailed, Err: err}
	}

	fmt.Fprintf(opts.Log, "[s5p] File %s successfully downloaded\n", p.Id)
	if opts.Progress != nil {
		opts.Progress.TaskCompleted()
	}
	return Result{Product: p, Key: key, Status: StatusDownloaded}
}

// downloadTo streams the granule into the bucket under key, computing
// the MD5 as it goes. The object is only readable under key once the
// writer closes cleanly; a checksum or size mismatch reports
// ErrChecksum.
func downloadTo(ctx context.Context, hub Hub, bucket *blob.Bucket, key, id string, meta catalog.Meta) error {
	body, _, err := hub.Download(ctx, id)
	if err != nil {
		return fmt.Errorf("open stream: %w", err)
	}
	defer body.Close()

	w, err := bucket.NewWriter(ctx, key, nil)
	if err != nil {
		return fmt.Errorf("open writer for %s: %w", key, err)
	}

	hash := md5.New()
	n, err := io.Copy(io.MultiWriter(w, hash), body)
	if err != nil {
		w.Close()
		return fmt.Errorf("stream %s: %w", id, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close writer for %s: %w", key, err)
	}

	if meta.ContentLength > 0 && n != meta.ContentLength {
		return fmt.Errorf("%w: size %d, expected %d", ErrChecksum, n, meta.ContentLength)
	}
	if meta.ChecksumMD5 != "" {
		sum := hex.EncodeToString(hash.Sum(nil))
		if sum != meta.ChecksumMD5 {
			return fmt.Errorf("%w: md5 %s, expected %s", ErrChecksum, sum, meta.ChecksumMD5)
		}
	}

	return nil
}

// rename moves a verified object to its canonical key.
func rename(ctx context.Context, bucket *blob.Bucket, from, to string) error {
	if err := bucket.Copy(ctx, to, from, nil); err != nil {
		return fmt.Errorf("rename %s to %s: %w", from, to, err)
	}
	if err := bucket.Delete(ctx, from); err != nil {
		return fmt.Errorf("remove %s: %w", from, err)
	}
	return nil
}

// wait sleeps for an exponentially increasing duration with jitter.
func wait(ctx context.Context, attempt int, backoff, maxBackoff time.Duration) error {
	d := backoff * time.Duration(1<<uint(attempt-1))
	if d > maxBackoff || d <= 0 {
		d = maxBackoff
	}
	jitter := time.Duration(float64(d) * (0.5 + rand.Float64()))

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(jitter):
		return nil
	}
}
