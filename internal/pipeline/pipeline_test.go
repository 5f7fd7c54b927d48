package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ctessum/cdf"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"

	"github.com/bilelomrani1/s5p-tools/internal/config"
	"github.com/bilelomrani1/s5p-tools/internal/converter"
	"github.com/bilelomrani1/s5p-tools/internal/testutils"
)

var (
	testLats = []float64{48.25, 48.75}
	testLons = []float64{2.25, 2.75}

	// The variables an L2__AER_AI conversion carries besides the axes.
	unitVariables = []string{
		"absorbing_aerosol_index",
		"sensor_altitude",
		"sensor_azimuth_angle",
		"sensor_zenith_angle",
		"solar_azimuth_angle",
		"solar_zenith_angle",
	}
)

// granuleBytes renders a minimal L2-like granule carrying the coverage
// attributes the side table reads.
func granuleBytes(t *testing.T, start, end time.Time) []byte {
	t.Helper()

	h := cdf.NewHeader([]string{"latitude"}, []int{len(testLats)})
	h.AddVariable("latitude", []string{"latitude"}, []float64{})
	h.AddAttribute("", "time_coverage_start", start.UTC().Format(time.RFC3339))
	h.AddAttribute("", "time_coverage_end", end.UTC().Format(time.RFC3339))
	h.Define()

	path := filepath.Join(t.TempDir(), "granule.nc")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create granule: %v", err)
	}
	cf, err := cdf.Create(f, h)
	if err != nil {
		t.Fatalf("write granule header: %v", err)
	}
	if _, err := cf.Writer("latitude", nil, nil).Write(testLats); err != nil && err != io.EOF {
		t.Fatalf("write granule axis: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close granule: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read granule: %v", err)
	}
	return data
}

// writeUnit writes a converted unit on the test grid, all variables
// holding the given constant.
func writeUnit(dst, sourceProduct string, value float64) error {
	h := cdf.NewHeader(
		[]string{"time", "latitude", "longitude"},
		[]int{1, len(testLats), len(testLons)},
	)
	h.AddVariable("latitude", []string{"latitude"}, []float64{})
	h.AddVariable("longitude", []string{"longitude"}, []float64{})
	for _, v := range unitVariables {
		h.AddVariable(v, []string{"time", "latitude", "longitude"}, []float64{})
	}
	h.AddAttribute("", "source_product", sourceProduct)
	h.Define()

	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	cf, err := cdf.Create(f, h)
	if err != nil {
		f.Close()
		return err
	}
	if _, err := cf.Writer("latitude", nil, nil).Write(testLats); err != nil && err != io.EOF {
		f.Close()
		return err
	}
	if _, err := cf.Writer("longitude", nil, nil).Write(testLons); err != nil && err != io.EOF {
		f.Close()
		return err
	}
	slab := make([]float64, len(testLats)*len(testLons))
	for i := range slab {
		slab[i] = value
	}
	for _, v := range unitVariables {
		if _, err := cf.Writer(v, nil, nil).Write(slab); err != nil && err != io.EOF {
			f.Close()
			return err
		}
	}
	return f.Close()
}

// fakeTransform converts a source by writing a unit file, counting
// invocations.
func fakeTransform(calls *atomic.Int32) converter.TransformerFunc {
	return func(ctx context.Context, src, dst, operations string) error {
		calls.Add(1)
		return writeUnit(dst, filepath.Base(src), 1)
	}
}

func testProducts(t *testing.T, n int) []testutils.HubProduct {
	t.Helper()
	day := time.Date(2026, 1, 3, 0, 0, 0, 0, time.UTC)
	products := make([]testutils.HubProduct, 0, n)
	for i := 0; i < n; i++ {
		begin := day.Add(time.Duration(i) * time.Hour)
		end := begin.Add(50 * time.Minute)
		products = append(products, testutils.HubProduct{
			Id:          fmt.Sprintf("%08d-0000-0000-0000-000000000000", i),
			Title:       fmt.Sprintf("S5P_OFFL_L2__AER_AI_A%d", i),
			ProductType: "L2__AER_AI",
			Begin:       begin,
			End:         end,
			Data:        granuleBytes(t, begin, end),
		})
	}
	return products
}

func testConfig(t *testing.T, hubURL string) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Hub.URL = hubURL
	cfg.Hub.Username = ""
	cfg.Hub.Password = ""
	cfg.DownloadURL = "file://" + filepath.Join(t.TempDir(), "L2_data")
	cfg.ExportDir = filepath.Join(t.TempDir(), "L3_data")
	cfg.ProcessedDir = filepath.Join(t.TempDir(), "processed")
	cfg.NumThreads = 2
	cfg.NumWorkers = 2
	cfg.Retry.Backoff = time.Millisecond
	cfg.Retry.MaxBackoff = 5 * time.Millisecond
	return cfg
}

func TestRunEndToEnd(t *testing.T) {
	products := testProducts(t, 3)
	hub := testutils.StartFakeHub(t, products)
	cfg := testConfig(t, hub.URL())

	var calls atomic.Int32
	var log bytes.Buffer
	p := New(cfg)
	p.Log = &log
	// The second granule comes back empty after filtering.
	p.Transformer = converter.TransformerFunc(func(ctx context.Context, src, dst, operations string) error {
		calls.Add(1)
		if strings.Contains(src, "A1") {
			return converter.ErrNoData
		}
		return writeUnit(dst, filepath.Base(src), 1)
	})

	summary, err := p.Run(context.Background(), Request{
		ProductType: "L2__AER_AI",
		Begin:       time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		End:         time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if summary.Products != 3 || summary.Downloaded != 3 {
		t.Errorf("downloads: %+v", summary)
	}
	if summary.Converted != 2 || summary.ConvertSkipped != 1 {
		t.Errorf("conversions: %+v", summary)
	}
	if summary.MergedUnits != 2 {
		t.Errorf("merged units: %d", summary.MergedUnits)
	}

	want := filepath.Join(cfg.ProcessedDir, "processed__AER_AI", "AER_AI3-1-2026__3-1-2026.nc")
	if summary.ExportPath != want {
		t.Errorf("export path: got %s, want %s", summary.ExportPath, want)
	}
	if _, err := os.Stat(summary.ExportPath); err != nil {
		t.Fatalf("export missing: %v", err)
	}

	f, err := os.Open(summary.ExportPath)
	if err != nil {
		t.Fatalf("open export: %v", err)
	}
	defer f.Close()
	cf, err := cdf.Open(f)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	r := cf.Reader("time", nil, nil)
	times := r.Zero(-1).([]float64)
	if _, err := r.Read(times); err != nil {
		t.Fatalf("read time: %v", err)
	}
	if len(times) != 2 {
		t.Fatalf("time axis has %d entries, want 2", len(times))
	}
	if times[0] >= times[1] {
		t.Errorf("time axis not ascending: %v", times)
	}
}

func TestRunEmptyQuery(t *testing.T) {
	hub := testutils.StartFakeHub(t, testProducts(t, 2))
	cfg := testConfig(t, hub.URL())

	var log bytes.Buffer
	p := New(cfg)
	p.Log = &log

	summary, err := p.Run(context.Background(), Request{ProductType: "L2__NO2___"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !summary.Empty {
		t.Error("summary not marked empty")
	}
	if !strings.Contains(log.String(), "Done, nothing to do") {
		t.Errorf("missing early-exit message: %q", log.String())
	}
	if _, err := os.Stat(cfg.ProcessedDir); err == nil {
		t.Error("empty query must not create the processed dir")
	}
}

func TestRunIsIdempotent(t *testing.T) {
	products := testProducts(t, 3)
	hub := testutils.StartFakeHub(t, products)
	cfg := testConfig(t, hub.URL())

	var calls atomic.Int32
	p := New(cfg)
	p.Log = &bytes.Buffer{}
	p.Transformer = fakeTransform(&calls)

	req := Request{ProductType: "L2__AER_AI"}

	first, err := p.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if first.Downloaded != 3 || calls.Load() != 3 {
		t.Fatalf("first run did not process everything: %+v, %d calls", first, calls.Load())
	}

	second, err := p.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.Downloaded != 0 || second.AlreadyPresent != 3 {
		t.Errorf("second run re-downloaded: %+v", second)
	}
	if calls.Load() != 3 {
		t.Errorf("second run re-converted: %d calls", calls.Load())
	}
	for _, product := range products {
		if n := hub.Downloads(product.Id); n != 1 {
			t.Errorf("product %s transferred %d times, want 1", product.Id, n)
		}
	}
	if second.ExportPath != first.ExportPath {
		t.Errorf("export path changed between runs: %s vs %s", second.ExportPath, first.ExportPath)
	}
}

func TestRunRemoteBucket(t *testing.T) {
	products := testProducts(t, 2)
	hub := testutils.StartFakeHub(t, products)
	cfg := testConfig(t, hub.URL())
	cfg.DownloadURL = "mem://"

	var calls atomic.Int32
	p := New(cfg)
	p.Log = &bytes.Buffer{}
	p.Transformer = fakeTransform(&calls)

	summary, err := p.Run(context.Background(), Request{ProductType: "L2__AER_AI"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Downloaded != 2 || summary.MergedUnits != 2 {
		t.Errorf("unexpected summary: %+v", summary)
	}
	if _, err := os.Stat(summary.ExportPath); err != nil {
		t.Fatalf("export missing: %v", err)
	}
}

func TestRunUnknownProductType(t *testing.T) {
	hub := testutils.StartFakeHub(t, nil)
	cfg := testConfig(t, hub.URL())

	p := New(cfg)
	p.Log = &bytes.Buffer{}

	if _, err := p.Run(context.Background(), Request{ProductType: "L2__XYZ___"}); err == nil {
		t.Fatal("expected an error for an unknown product type")
	}
}
