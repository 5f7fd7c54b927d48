package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/s3blob"

	"github.com/bilelomrani1/s5p-tools/internal/aoi"
	"github.com/bilelomrani1/s5p-tools/internal/pipeline"
	"github.com/bilelomrani1/s5p-tools/internal/progress"
)

func runRequest(args []string) int {
	fs := flag.NewFlagSet("request", flag.ExitOnError)

	var dates listFlag
	fs.Var(&dates, "date", "Sensing period bound; give twice (or comma separated) for begin and end")
	aoiPath := fs.String("aoi", "", "GeoJSON file restricting the area of interest")
	qa := fs.Int("qa", -1, "Quality-assurance threshold (0-100)")
	unit := fs.String("unit", "", "Target unit for column densities")
	resolution := fs.String("resolution", "", "Grid resolution in degrees as lon,lat")
	chunkSize := fs.Int("chunk-size", 0, "Units per merge batch")
	numThreads := fs.Int("num-threads", 0, "Parallel download workers")
	numWorkers := fs.Int("num-workers", 0, "Parallel conversion workers")
	configPath := fs.String("config", "", "Path to a YAML config file")
	downloadURL := fs.String("download-url", "", "Bucket URL for downloaded L2 granules")
	exportDir := fs.String("export-dir", "", "Directory for converted L3 files")
	processedDir := fs.String("processed-dir", "", "Directory for merged output")
	harpBinary := fs.String("harp-binary", "", "Path to the harpconvert binary")
	quiet := fs.Bool("quiet", false, "Disable the progress display")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: s5p request <producttype> [options]

Query the hub for products of the given type, download what is
missing, convert each granule onto a regular grid and merge the
results into one time-ordered netCDF file.

Options:`)
		fs.PrintDefaults()
	}

	product, rest := splitProduct(args)
	if err := fs.Parse(rest); err != nil {
		return ExitInvalidArgs
	}
	if product == "" && fs.NArg() > 0 {
		product = fs.Arg(0)
	}
	if product == "" {
		fmt.Fprintln(os.Stderr, "Error: product type is required")
		fs.Usage()
		return ExitInvalidArgs
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}
	if *qa >= 0 {
		cfg.QA = *qa
	}
	if *unit != "" {
		cfg.Unit = *unit
	}
	if *resolution != "" {
		x, y, err := parsePair(*resolution)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: -resolution: %v\n", err)
			return ExitInvalidArgs
		}
		cfg.XStep, cfg.YStep = x, y
	}
	if *chunkSize > 0 {
		cfg.ChunkSize = *chunkSize
	}
	if *numThreads > 0 {
		cfg.NumThreads = *numThreads
	}
	if *numWorkers > 0 {
		cfg.NumWorkers = *numWorkers
	}
	if *downloadURL != "" {
		cfg.DownloadURL = *downloadURL
	}
	if *exportDir != "" {
		cfg.ExportDir = *exportDir
	}
	if *processedDir != "" {
		cfg.ProcessedDir = *processedDir
	}
	if *harpBinary != "" {
		cfg.HarpBinary = *harpBinary
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}

	begin, end, err := parseDates(dates)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}

	req := pipeline.Request{ProductType: product, Begin: begin, End: end}
	if *aoiPath != "" {
		boundary, err := aoi.Load(*aoiPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return ExitInvalidArgs
		}
		req.AOI = boundary
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\n[s5p] Received interrupt, shutting down...")
		cancel()
	}()

	p := pipeline.New(cfg)
	p.Progress = !*quiet

	summary, err := p.Run(ctx, req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitCodeFor(err)
	}
	if summary.Empty {
		return ExitSuccess
	}

	fmt.Fprintf(os.Stderr, "[s5p] %d products (%s): %d downloaded, %d already present, %d skipped, %d failed\n",
		summary.Products, progress.FormatBytes(summary.TotalBytes),
		summary.Downloaded, summary.AlreadyPresent, summary.DownloadSkipped, summary.DownloadFailed)
	fmt.Fprintf(os.Stderr, "[s5p] Conversions: %d converted, %d already present, %d skipped, %d failed\n",
		summary.Converted, summary.ConvertExisted, summary.ConvertSkipped, summary.ConvertFailed)
	fmt.Fprintf(os.Stderr, "[s5p] Merged %d units into %s\n", summary.MergedUnits, summary.ExportPath)
	fmt.Fprintln(os.Stderr, "[s5p] Done!")
	return ExitSuccess
}
