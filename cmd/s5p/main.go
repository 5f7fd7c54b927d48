package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/bilelomrani1/s5p-tools/internal/catalog"
	"github.com/bilelomrani1/s5p-tools/internal/config"
	"github.com/bilelomrani1/s5p-tools/internal/dataset"
	s5phttp "github.com/bilelomrani1/s5p-tools/internal/http"
	"github.com/bilelomrani1/s5p-tools/internal/pipeline"
	"github.com/bilelomrani1/s5p-tools/internal/recipe"
)

// Exit codes
const (
	ExitSuccess      = 0
	ExitGeneralError = 1
	ExitInvalidArgs  = 2
	ExitCatalogError = 3
	ExitStorageError = 4
	ExitMergeError   = 5
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return ExitInvalidArgs
	}

	command := args[0]
	cmdArgs := args[1:]

	switch command {
	case "request":
		return runRequest(cmdArgs)
	case "query":
		return runQuery(cmdArgs)
	case "help", "-h", "--help":
		printUsage()
		return ExitSuccess
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		return ExitInvalidArgs
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: s5p <command> [options]

Commands:
  request   Download, convert and merge Sentinel-5P products
  query     List matching products without downloading anything

Product types:
  %s

Run 's5p <command> -h' for command-specific help.
`, strings.Join(recipe.ProductTypes(), " "))
}

// splitProduct peels the positional product type off the argument
// list, wherever the user put it relative to the flags.
func splitProduct(args []string) (string, []string) {
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		return args[0], args[1:]
	}
	return "", args
}

// loadConfig builds the effective configuration: defaults, then the
// optional config file, then environment overrides.
func loadConfig(path string) (config.Config, error) {
	cfg := config.Default()
	if path != "" {
		var err error
		cfg, err = config.LoadFromFile(path)
		if err != nil {
			return config.Config{}, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// parseDates resolves the sensing period from the -date flag values.
// No value keeps the mission-start-to-now default; one value sets the
// beginning; two set both bounds.
func parseDates(dates []string) (time.Time, time.Time, error) {
	begin, end := "20180101", "NOW"
	switch len(dates) {
	case 0:
	case 1:
		begin = dates[0]
	case 2:
		begin, end = dates[0], dates[1]
	default:
		return time.Time{}, time.Time{}, fmt.Errorf("at most two -date values, got %d", len(dates))
	}

	now := time.Now().UTC()
	b, err := catalog.ParseDate(begin, now)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	e, err := catalog.ParseDate(end, now)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if !e.After(b) {
		return time.Time{}, time.Time{}, fmt.Errorf("sensing period ends (%s) before it begins (%s)", end, begin)
	}
	return b, e, nil
}

// parsePair parses a comma-separated float pair, e.g. "-resolution 0.01,0.01".
func parsePair(s string) (float64, float64, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("expected two comma-separated values, got %q", s)
	}
	x, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, 0, err
	}
	y, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return 0, 0, err
	}
	return x, y, nil
}

func exitCodeFor(err error) int {
	switch {
	case errors.Is(err, s5phttp.ErrUnauthorized),
		errors.Is(err, s5phttp.ErrForbidden),
		errors.Is(err, s5phttp.ErrNotFound),
		errors.Is(err, s5phttp.ErrServerError):
		return ExitCatalogError
	case errors.Is(err, pipeline.ErrStorage):
		return ExitStorageError
	case errors.Is(err, dataset.ErrNoData):
		return ExitMergeError
	default:
		return ExitGeneralError
	}
}

// listFlag collects repeated or comma-separated flag values.
type listFlag []string

func (l *listFlag) String() string {
	return strings.Join(*l, ",")
}

func (l *listFlag) Set(v string) error {
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			*l = append(*l, part)
		}
	}
	return nil
}
