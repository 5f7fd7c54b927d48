package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bilelomrani1/s5p-tools/internal/aoi"
	"github.com/bilelomrani1/s5p-tools/internal/catalog"
	s5phttp "github.com/bilelomrani1/s5p-tools/internal/http"
	"github.com/bilelomrani1/s5p-tools/internal/progress"
)

func runQuery(args []string) int {
	fs := flag.NewFlagSet("query", flag.ExitOnError)

	var dates listFlag
	fs.Var(&dates, "date", "Sensing period bound; give twice (or comma separated) for begin and end")
	aoiPath := fs.String("aoi", "", "GeoJSON file restricting the area of interest")
	configPath := fs.String("config", "", "Path to a YAML config file")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: s5p query <producttype> [options]

List the products a request would process, with their sizes and
sensing coverage. Downloads nothing.

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

	begin, end, err := parseDates(dates)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}

	query := catalog.Query{ProductType: product, Begin: begin, End: end}
	if *aoiPath != "" {
		boundary, err := aoi.Load(*aoiPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return ExitInvalidArgs
		}
		query.FootprintWKT = boundary.WKT()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	client := catalog.NewClient(cfg.Hub.URL, s5phttp.NewClient(s5phttp.Options{
		Username:      cfg.Hub.Username,
		Password:      cfg.Hub.Password,
		RetryAttempts: 3,
	}))

	products, err := client.Search(ctx, query)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitCodeFor(err)
	}
	if len(products) == 0 {
		fmt.Println("[s5p] No products found")
		return ExitSuccess
	}

	for _, p := range products {
		fmt.Printf("%s  %-40s  %9s  %s - %s\n",
			p.Id, p.Title, progress.FormatBytes(p.SizeBytes),
			p.BeginPosition.Format("2006-01-02 15:04"),
			p.EndPosition.Format("2006-01-02 15:04"))
	}
	fmt.Printf("[s5p] %d products, %s total\n",
		len(products), progress.FormatBytes(catalog.TotalSize(products)))
	return ExitSuccess
}
