package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gocloud.dev/blob"

	"github.com/bilelomrani1/s5p-tools/internal/aoi"
	"github.com/bilelomrani1/s5p-tools/internal/catalog"
	"github.com/bilelomrani1/s5p-tools/internal/config"
	"github.com/bilelomrani1/s5p-tools/internal/converter"
	"github.com/bilelomrani1/s5p-tools/internal/dataset"
	"github.com/bilelomrani1/s5p-tools/internal/downloader"
	s5phttp "github.com/bilelomrani1/s5p-tools/internal/http"
	"github.com/bilelomrani1/s5p-tools/internal/progress"
	"github.com/bilelomrani1/s5p-tools/internal/recipe"
)

// ErrStorage marks failures to open or prepare the download
// destination.
var ErrStorage = errors.New("pipeline: storage unavailable")

// Request describes one batch run.
type Request struct {
	// ProductType selects the L2 product, e.g. "L2__NO2___".
	ProductType string

	// Begin and End bound the sensing period.
	Begin time.Time
	End   time.Time

	// AOI optionally restricts the query footprint and masks the
	// merged output. Nil processes the whole globe.
	AOI *aoi.Boundary
}

// Summary reports what one run did, per stage.
type Summary struct {
	Products   int
	TotalBytes int64

	Downloaded      int
	AlreadyPresent  int
	DownloadSkipped int
	DownloadFailed  int

	Converted      int
	ConvertExisted int
	ConvertSkipped int
	ConvertFailed  int

	MergedUnits int
	ExportPath  string

	// Empty is set when the query matched nothing and the run ended
	// before any side effect.
	Empty bool
}

// Pipeline runs the request/download/convert/merge batch.
type Pipeline struct {
	cfg config.Config

	// Transformer overrides the harpconvert binary; tests plug in a
	// fake. Nil uses the configured binary.
	Transformer converter.Transformer

	// Log receives stage banners and per-task messages.
	// Default: os.Stderr.
	Log io.Writer

	// Progress enables the live per-stage progress display.
	Progress bool
}

// New creates a pipeline over the given configuration.
func New(cfg config.Config) *Pipeline {
	return &Pipeline{cfg: cfg, Log: os.Stderr}
}

// Run executes the full batch: query the hub, download what is
// missing, convert what downloaded, merge what converted. Per-task
// failures never abort the batch; only an unusable catalog, storage or
// merge aborts the run.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Summary, error) {
	if p.Log == nil {
		p.Log = os.Stderr
	}

	fields, err := recipe.Fields(req.ProductType)
	if err != nil {
		return nil, err
	}

	client := catalog.NewClient(p.cfg.Hub.URL, s5phttp.NewClient(s5phttp.Options{
		Username:      p.cfg.Hub.Username,
		Password:      p.cfg.Hub.Password,
		RetryAttempts: 3,
	}))

	query := catalog.Query{
		ProductType: req.ProductType,
		Begin:       req.Begin,
		End:         req.End,
	}
	if req.AOI != nil {
		query.FootprintWKT = req.AOI.WKT()
	}

	fmt.Fprintf(p.Log, "[s5p] Querying %s\n", req.ProductType)
	products, err := client.Search(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("pipeline: query: %w", err)
	}
	if len(products) == 0 {
		fmt.Fprintf(p.Log, "[s5p] Done, nothing to do\n")
		return &Summary{Empty: true}, nil
	}

	summary := &Summary{
		Products:   len(products),
		TotalBytes: catalog.TotalSize(products),
	}
	fmt.Fprintf(p.Log, "[s5p] %d products found (%s)\n",
		len(products), progress.FormatBytes(summary.TotalBytes))

	bucket, localDir, cleanup, err := p.openBucket(ctx)
	if err != nil {
		return nil, err
	}
	defer bucket.Close()
	defer cleanup()

	sources, err := p.download(ctx, client, bucket, localDir, products, summary)
	if err != nil {
		return nil, err
	}

	// The transformer does not carry the sensing-time attributes into
	// its output, so the side table is built from the originals before
	// conversion.
	table := dataset.CoverageTable(sources, p.Log)

	converted, err := p.convert(ctx, req, sources, summary)
	if err != nil {
		return nil, err
	}

	return p.merge(ctx, req, fields, products, converted, table, summary)
}

// download fetches every product not already in the download bucket
// and returns the local paths of the available granules.
func (p *Pipeline) download(ctx context.Context, client *catalog.Client, bucket *blob.Bucket, localDir string, products []catalog.Product, summary *Summary) ([]string, error) {
	reporter := p.reporter("Downloading", len(products))
	results := downloader.Fetch(ctx, client, bucket, products, downloader.Options{
		Threads:         p.cfg.NumThreads,
		RetryAttempts:   p.cfg.Retry.Attempts,
		RetryBackoff:    p.cfg.Retry.Backoff,
		RetryMaxBackoff: p.cfg.Retry.MaxBackoff,
		Progress:        reporter,
		Log:             p.Log,
	})
	if reporter != nil {
		reporter.Stop()
	}

	var keys []string
	for _, r := range results {
		switch r.Status {
		case downloader.StatusDownloaded:
			summary.Downloaded++
		case downloader.StatusExisted:
			summary.AlreadyPresent++
		case downloader.StatusSkipped:
			summary.DownloadSkipped++
		case downloader.StatusFailed:
			summary.DownloadFailed++
			fmt.Fprintf(p.Log, "[s5p] Download failed: %v\n", r.Err)
		}
		if r.Available() {
			keys = append(keys, r.Key)
		}
	}

	return materialize(ctx, bucket, localDir, keys)
}

func (p *Pipeline) convert(ctx context.Context, req Request, sources []string, summary *Summary) ([]string, error) {
	extent := recipe.Globe
	if req.AOI != nil {
		extent = req.AOI.Extent()
	}
	grid, err := recipe.GridFor(extent, p.cfg.XStep, p.cfg.YStep)
	if err != nil {
		return nil, err
	}
	operations, err := recipe.Build(req.ProductType, p.cfg.QA, p.cfg.Unit, grid)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(p.cfg.ExportDir, 0755); err != nil {
		return nil, fmt.Errorf("pipeline: create export dir: %w", err)
	}

	tf := p.Transformer
	if tf == nil {
		tf = &converter.HarpTool{Binary: p.cfg.HarpBinary}
	}

	jobs := converter.MakeJobs(sources, p.cfg.ExportDir, operations)
	reporter := p.reporter("Converting", len(jobs))
	results := converter.Convert(ctx, tf, jobs, converter.Options{
		Workers:  p.cfg.NumWorkers,
		Progress: reporter,
		Log:      p.Log,
	})
	if reporter != nil {
		reporter.Stop()
	}

	var converted []string
	for _, r := range results {
		switch r.Status {
		case converter.StatusConverted:
			summary.Converted++
		case converter.StatusExisted:
			summary.ConvertExisted++
		case converter.StatusNoData, converter.StatusMissing:
			summary.ConvertSkipped++
		case converter.StatusFailed:
			summary.ConvertFailed++
		}
		if r.Available() {
			converted = append(converted, r.Job.Destination)
		}
	}
	return converted, nil
}

func (p *Pipeline) merge(ctx context.Context, req Request, fields []string, products []catalog.Product, converted []string, table map[string]dataset.TimeRange, summary *Summary) (*Summary, error) {
	variables := make([]string, 0, len(fields))
	for _, f := range fields {
		if f != "latitude" && f != "longitude" {
			variables = append(variables, f)
		}
	}

	start, end := sensingWindow(products)
	outPath := dataset.ExportName(p.cfg.ProcessedDir, req.ProductType, start, end)

	fmt.Fprintf(p.Log, "[s5p] Processing data\n")
	merged, err := dataset.Aggregate(ctx, converted, table, outPath, dataset.Options{
		Variables: variables,
		ChunkSize: p.cfg.ChunkSize,
		Boundary:  req.AOI,
		Log:       p.Log,
	})
	if err != nil {
		if errors.Is(err, dataset.ErrNoData) {
			return nil, fmt.Errorf("pipeline: no data to merge: %w", err)
		}
		return nil, fmt.Errorf("pipeline: merge: %w", err)
	}

	summary.MergedUnits = merged.Units
	summary.ExportPath = merged.Path
	fmt.Fprintf(p.Log, "[s5p] Exported %s (%d units)\n", merged.Path, merged.Units)
	return summary, nil
}

func (p *Pipeline) reporter(stage string, total int) *progress.Reporter {
	if !p.Progress {
		return nil
	}
	r := progress.NewReporter(progress.Options{
		Stage:  stage,
		Total:  total,
		Output: p.Log,
	})
	r.Start()
	return r
}

// openBucket opens the download bucket. For file-scheme URLs the
// backing directory doubles as the local source directory for the
// conversion stage and is created up front.
func (p *Pipeline) openBucket(ctx context.Context) (*blob.Bucket, string, func(), error) {
	if dir, ok := fileBucketDir(p.cfg.DownloadURL); ok {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, "", nil, fmt.Errorf("%w: create download dir: %v", ErrStorage, err)
		}
	}
	bucket, err := blob.OpenBucket(ctx, p.cfg.DownloadURL)
	if err != nil {
		return nil, "", nil, fmt.Errorf("%w: open bucket %s: %v", ErrStorage, p.cfg.DownloadURL, err)
	}

	if dir, ok := fileBucketDir(p.cfg.DownloadURL); ok {
		return bucket, dir, func() {}, nil
	}

	tmp, err := os.MkdirTemp("", "s5p-l2-")
	if err != nil {
		bucket.Close()
		return nil, "", nil, fmt.Errorf("pipeline: temp dir: %w", err)
	}
	return bucket, tmp, func() { os.RemoveAll(tmp) }, nil
}

// fileBucketDir extracts the directory of a file-scheme bucket URL.
func fileBucketDir(bucketURL string) (string, bool) {
	rest, ok := strings.CutPrefix(bucketURL, "file://")
	if !ok {
		return "", false
	}
	if i := strings.IndexByte(rest, '?'); i >= 0 {
		rest = rest[:i]
	}
	return rest, rest != ""
}

// materialize makes the downloaded granules available as local files.
// A file bucket already is local storage; any other bucket is copied
// out key by key.
func materialize(ctx context.Context, bucket *blob.Bucket, localDir string, keys []string) ([]string, error) {
	paths := make([]string, 0, len(keys))
	for _, key := range keys {
		path := filepath.Join(localDir, key)
		if _, err := os.Stat(path); err != nil {
			data, err := bucket.ReadAll(ctx, key)
			if err != nil {
				return nil, fmt.Errorf("pipeline: read %s: %w", key, err)
			}
			if err := os.WriteFile(path, data, 0644); err != nil {
				return nil, fmt.Errorf("pipeline: write %s: %w", path, err)
			}
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func sensingWindow(products []catalog.Product) (time.Time, time.Time) {
	start, end := products[0].BeginPosition, products[0].EndPosition
	for _, p := range products[1:] {
		if p.BeginPosition.Before(start) {
			start = p.BeginPosition
		}
		if p.EndPosition.After(end) {
			end = p.EndPosition
		}
	}
	return start, end
}
