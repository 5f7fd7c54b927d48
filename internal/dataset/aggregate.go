package dataset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ctessum/cdf"

	"github.com/bilelomrani1/s5p-tools/internal/aoi"
)

// ErrNoData reports that no converted unit survived to be merged.
var ErrNoData = errors.New("dataset: no units to merge")

// axisTolerance bounds the per-coordinate difference allowed between
// the grid axes of two units binned onto the same grid.
const axisTolerance = 1e-9

// Options configures a merge.
type Options struct {
	// Variables lists the data variables to carry into the merged
	// file. Every unit must provide all of them.
	Variables []string

	// ChunkSize is the number of units read into memory per write
	// batch.
	ChunkSize int

	// Boundary, when set, masks cells whose centers fall outside the
	// area of interest to NaN.
	Boundary *aoi.Boundary

	// CRS is recorded as the coordinate reference system of the
	// merged grid. Defaults to EPSG:4326.
	CRS string

	Log io.Writer
}

// Merged summarizes one written merge.
type Merged struct {
	Path      string
	Units     int
	Start     time.Time
	End       time.Time
	Variables []string
}

type unit struct {
	path  string
	cover TimeRange
}

// Aggregate merges converted L3 units into a single time-ordered
// netCDF file at outPath. Units are dated from the side table entry of
// their originating L2 granule, sorted ascending, and streamed into
// the output in batches of ChunkSize. Units that are missing on disk
// or cannot be dated are skipped with a log line; zero surviving units
// is ErrNoData and no output file is written.
func Aggregate(ctx context.Context, paths []string, table map[string]TimeRange, outPath string, opts Options) (*Merged, error) {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 256
	}
	if opts.CRS == "" {
		opts.CRS = "EPSG:4326"
	}
	if opts.Log == nil {
		opts.Log = io.Discard
	}
	if len(opts.Variables) == 0 {
		return nil, fmt.Errorf("dataset: no variables to merge")
	}

	units := gatherUnits(paths, table, opts.Log)
	if len(units) == 0 {
		return nil, ErrNoData
	}
	sort.Slice(units, func(i, j int) bool {
		if !units[i].cover.Start.Equal(units[j].cover.Start) {
			return units[i].cover.Start.Before(units[j].cover.Start)
		}
		return units[i].path < units[j].path
	})

	first, err := openUnit(units[0].path)
	if err != nil {
		return nil, err
	}
	lats, err := first.axis("latitude")
	if err != nil {
		first.close()
		return nil, err
	}
	lons, err := first.axis("longitude")
	if err != nil {
		first.close()
		return nil, err
	}

	var mask [][]bool
	if opts.Boundary != nil {
		mask = opts.Boundary.Mask(lats, lons)
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
		first.close()
		return nil, fmt.Errorf("dataset: create export dir: %w", err)
	}
	ws, err := os.Create(outPath)
	if err != nil {
		first.close()
		return nil, fmt.Errorf("dataset: create %s: %w", outPath, err)
	}

	out, err := createMerged(ws, first, lats, lons, units, opts)
	first.close()
	if err != nil {
		ws.Close()
		os.Remove(outPath)
		return nil, err
	}

	if err := writeUnits(ctx, out, units, lats, lons, mask, opts); err != nil {
		ws.Close()
		os.Remove(outPath)
		return nil, err
	}

	if err := cdf.UpdateNumRecs(ws); err != nil {
		ws.Close()
		os.Remove(outPath)
		return nil, fmt.Errorf("dataset: finalize %s: %w", outPath, err)
	}
	if err := ws.Close(); err != nil {
		return nil, fmt.Errorf("dataset: close %s: %w", outPath, err)
	}

	return &Merged{
		Path:      outPath,
		Units:     len(units),
		Start:     units[0].cover.Start,
		End:       units[len(units)-1].cover.End,
		Variables: append([]string{}, opts.Variables...),
	}, nil
}

// ExportName returns the path of the merged file for a product type
// and sensing window: processed<type-suffix>/<suffix><d-m-yyyy>__<d-m-yyyy>.nc
// under the processed directory.
func ExportName(processedDir, productType string, start, end time.Time) string {
	dir := filepath.Join(processedDir, "processed"+productType[2:])
	name := fmt.Sprintf("%s%d-%d-%d__%d-%d-%d.nc",
		productType[4:],
		start.Day(), int(start.Month()), start.Year(),
		end.Day(), int(end.Month()), end.Year())
	return filepath.Join(dir, name)
}

// gatherUnits pairs each existing converted file with its sensing
// interval. The side table is keyed by L2 base name; a unit is matched
// through its source_product attribute when present, else through its
// own base name with the L3 token mapped back to L2.
func gatherUnits(paths []string, table map[string]TimeRange, log io.Writer) []unit {
	units := make([]unit, 0, len(paths))
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			fmt.Fprintf(log, "merge: skipping %s: %v\n", filepath.Base(path), err)
			continue
		}
		cover, ok := coverFor(path, table)
		if !ok {
			fmt.Fprintf(log, "merge: skipping %s: no coverage entry\n", filepath.Base(path))
			continue
		}
		units = append(units, unit{path: path, cover: cover})
	}
	return units
}

func coverFor(path string, table map[string]TimeRange) (TimeRange, bool) {
	u, err := openUnit(path)
	if err == nil {
		if attr := u.file.Header.GetAttribute("", "source_product"); attr != nil {
			if src, ok := attr.(string); ok {
				if cover, ok := table[src]; ok {
					u.close()
					return cover, true
				}
			}
		}
		u.close()
	}
	cover, ok := table[strings.ReplaceAll(filepath.Base(path), "L3", "L2")]
	return cover, ok
}

// openedUnit is one converted file opened for reading.
type openedUnit struct {
	path string
	osf  *os.File
	file *cdf.File
}

func openUnit(path string) (*openedUnit, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("dataset: open %s: %w", path, err)
	}
	cf, err := cdf.Open(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("dataset: read %s: %w", path, err)
	}
	return &openedUnit{path: path, osf: f, file: cf}, nil
}

func (u *openedUnit) close() {
	u.osf.Close()
}

// axis reads a 1-D coordinate variable as float64.
func (u *openedUnit) axis(name string) ([]float64, error) {
	vals, err := u.slab(name)
	if err != nil {
		return nil, err
	}
	return vals, nil
}

// slab reads a whole variable as float64.
func (u *openedUnit) slab(name string) ([]float64, error) {
	lengths := u.file.Header.Lengths(name)
	if lengths == nil {
		return nil, fmt.Errorf("dataset: %s: missing variable %s", u.path, name)
	}
	r := u.file.Reader(name, nil, nil)
	buf := r.Zero(-1)
	if _, err := r.Read(buf); err != nil {
		return nil, fmt.Errorf("dataset: %s: read %s: %w", u.path, name, err)
	}
	vals, err := toFloat64s(buf)
	if err != nil {
		return nil, fmt.Errorf("dataset: %s: %s: %w", u.path, name, err)
	}
	return vals, nil
}

// checkAxes verifies that a unit is binned onto the reference grid.
func (u *openedUnit) checkAxes(lats, lons []float64) error {
	for _, axis := range []struct {
		name string
		want []float64
	}{{"latitude", lats}, {"longitude", lons}} {
		got, err := u.axis(axis.name)
		if err != nil {
			return err
		}
		if len(got) != len(axis.want) {
			return fmt.Errorf("dataset: %s: %s axis has %d cells, want %d",
				u.path, axis.name, len(got), len(axis.want))
		}
		for i := range got {
			if math.Abs(got[i]-axis.want[i]) > axisTolerance {
				return fmt.Errorf("dataset: %s: %s axis differs at index %d",
					u.path, axis.name, i)
			}
		}
	}
	return nil
}

// createMerged lays out the output header and writes the coordinate
// axes. The time dimension is the record dimension; per-variable units
// and description attributes are carried from the first unit.
func createMerged(ws *os.File, first *openedUnit, lats, lons []float64, units []unit, opts Options) (*cdf.File, error) {
	h := cdf.NewHeader(
		[]string{"time", "latitude", "longitude"},
		[]int{0, len(lats), len(lons)},
	)

	h.AddVariable("time", []string{"time"}, []float64{})
	h.AddAttribute("time", "units", "seconds since 1970-01-01 00:00:00")
	h.AddVariable("latitude", []string{"latitude"}, []float64{})
	h.AddAttribute("latitude", "units", "degree_north")
	h.AddVariable("longitude", []string{"longitude"}, []float64{})
	h.AddAttribute("longitude", "units", "degree_east")

	for _, v := range opts.Variables {
		if first.file.Header.Lengths(v) == nil {
			return nil, fmt.Errorf("dataset: %s: missing variable %s", first.path, v)
		}
		h.AddVariable(v, []string{"time", "latitude", "longitude"}, []float64{})
		for _, a := range []string{"units", "description"} {
			if attr := first.file.Header.GetAttribute(v, a); attr != nil {
				h.AddAttribute(v, a, attr)
			}
		}
	}

	h.AddAttribute("", "crs", opts.CRS)
	h.AddAttribute("", "spatial_x_dim", "longitude")
	h.AddAttribute("", "spatial_y_dim", "latitude")
	h.AddAttribute("", "time_coverage_start", units[0].cover.Start.Format(time.RFC3339))
	h.AddAttribute("", "time_coverage_end", units[len(units)-1].cover.End.Format(time.RFC3339))
	h.Define()

	out, err := cdf.Create(ws, h)
	if err != nil {
		return nil, fmt.Errorf("dataset: write header: %w", err)
	}

	if _, err := out.Writer("latitude", nil, nil).Write(lats); err != nil && err != io.EOF {
		return nil, fmt.Errorf("dataset: write latitude axis: %w", err)
	}
	if _, err := out.Writer("longitude", nil, nil).Write(lons); err != nil && err != io.EOF {
		return nil, fmt.Errorf("dataset: write longitude axis: %w", err)
	}
	return out, nil
}

// writeUnits streams unit data into the output in batches of
// ChunkSize units.
func writeUnits(ctx context.Context, out *cdf.File, units []unit, lats, lons []float64, mask [][]bool, opts Options) error {
	cells := len(lats) * len(lons)
	for base := 0; base < len(units); base += opts.ChunkSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		limit := base + opts.ChunkSize
		if limit > len(units) {
			limit = len(units)
		}

		batch := make([]map[string][]float64, 0, limit-base)
		for _, un := range units[base:limit] {
			slabs, err := readUnit(un.path, lats, lons, cells, mask, opts.Variables)
			if err != nil {
				return err
			}
			batch = append(batch, slabs)
		}

		for i, slabs := range batch {
			t := base + i
			stamp := []float64{float64(units[t].cover.Start.Unix())}
			if _, err := out.Writer("time", []int{t}, nil).Write(stamp); err != nil && err != io.EOF {
				return fmt.Errorf("dataset: write time[%d]: %w", t, err)
			}
			for _, v := range opts.Variables {
				if _, err := out.Writer(v, []int{t, 0, 0}, nil).Write(slabs[v]); err != nil && err != io.EOF {
					return fmt.Errorf("dataset: write %s[%d]: %w", v, t, err)
				}
			}
		}
		fmt.Fprintf(opts.Log, "merged %d/%d units\n", limit, len(units))
	}
	return nil
}

// readUnit loads one unit's variables, verifying its axes and applying
// the boundary mask.
func readUnit(path string, lats, lons []float64, cells int, mask [][]bool, variables []string) (map[string][]float64, error) {
	u, err := openUnit(path)
	if err != nil {
		return nil, err
	}
	defer u.close()

	if err := u.checkAxes(lats, lons); err != nil {
		return nil, err
	}

	slabs := make(map[string][]float64, len(variables))
	for _, v := range variables {
		vals, err := u.slab(v)
		if err != nil {
			return nil, err
		}
		// Converted units carry a singleton time dimension; either
		// shape flattens to one grid of cells.
		if len(vals) != cells {
			return nil, fmt.Errorf("dataset: %s: %s has %d values, want %d",
				path, v, len(vals), cells)
		}
		if mask != nil {
			applyMask(vals, mask, len(lons))
		}
		slabs[v] = vals
	}
	return slabs, nil
}

func applyMask(vals []float64, mask [][]bool, nLon int) {
	for j := range mask {
		for i := range mask[j] {
			if !mask[j][i] {
				vals[j*nLon+i] = math.NaN()
			}
		}
	}
}

func toFloat64s(buf interface{}) ([]float64, error) {
	switch vals := buf.(type) {
	case []float64:
		return vals, nil
	case []float32:
		out := make([]float64, len(vals))
		for i, v := range vals {
			out[i] = float64(v)
		}
		return out, nil
	case []int32:
		out := make([]float64, len(vals))
		for i, v := range vals {
			out[i] = float64(v)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported variable type %T", buf)
	}
}
