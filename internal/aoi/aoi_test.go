package aoi

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// square is a FeatureCollection with one 2x2 degree square polygon.
const square = `{
  "type": "FeatureCollection",
  "features": [
    {
      "type": "Feature",
      "properties": {},
      "geometry": {
        "type": "Polygon",
        "coordinates": [[[2.0, 48.0], [4.0, 48.0], [4.0, 50.0], [2.0, 50.0], [2.0, 48.0]]]
      }
    }
  ]
}`

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aoi.geojson")
	if err := os.WriteFile(path, []byte(square), 0644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	b, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	ext := b.Extent()
	if ext.MinX != 2 || ext.MinY != 48 || ext.MaxX != 4 || ext.MaxY != 50 {
		t.Errorf("unexpected extent: %+v", ext)
	}
}

func TestParseBareGeometry(t *testing.T) {
	raw := `{"type": "Polygon", "coordinates": [[[0,0],[1,0],[1,1],[0,1],[0,0]]]}`
	b, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !b.Contains(0.5, 0.5) {
		t.Error("center of unit square must be inside")
	}
}

func TestParseMultiPolygon(t *testing.T) {
	raw := `{
	  "type": "Feature",
	  "geometry": {
	    "type": "MultiPolygon",
	    "coordinates": [
	      [[[0,0],[1,0],[1,1],[0,1],[0,0]]],
	      [[[10,10],[11,10],[11,11],[10,11],[10,10]]]
	    ]
	  }
	}`
	b, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if !b.Contains(0.5, 0.5) || !b.Contains(10.5, 10.5) {
		t.Error("both parts must contain their centers")
	}
	if b.Contains(5, 5) {
		t.Error("gap between the parts must be outside")
	}

	ext := b.Extent()
	if ext.MinX != 0 || ext.MaxX != 11 {
		t.Errorf("unexpected extent: %+v", ext)
	}

	if !strings.HasPrefix(b.WKT(), "MULTIPOLYGON(") {
		t.Errorf("unexpected WKT: %s", b.WKT())
	}
}

func TestParseRejectsPointGeometry(t *testing.T) {
	if _, err := Parse([]byte(`{"type": "Point", "coordinates": [1, 2]}`)); err == nil {
		t.Error("expected error for point geometry")
	}
}

func TestContains(t *testing.T) {
	b, err := Parse([]byte(square))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	cases := []struct {
		lon, lat float64
		want     bool
	}{
		{3.0, 49.0, true},
		{2.1, 48.1, true},
		{1.0, 49.0, false},
		{3.0, 51.0, false},
		{-3.0, -49.0, false},
	}
	for _, tc := range cases {
		if got := b.Contains(tc.lon, tc.lat); got != tc.want {
			t.Errorf("Contains(%g, %g) = %v, want %v", tc.lon, tc.lat, got, tc.want)
		}
	}
}

func TestMask(t *testing.T) {
	b, err := Parse([]byte(square))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	lats := []float64{47.5, 49.0, 50.5}
	lons := []float64{1.5, 3.0, 4.5}
	mask := b.Mask(lats, lons)

	if len(mask) != 3 || len(mask[0]) != 3 {
		t.Fatalf("unexpected mask shape %dx%d", len(mask), len(mask[0]))
	}
	for j := range mask {
		for i := range mask[j] {
			want := j == 1 && i == 1 // only (49N, 3E) is inside
			if mask[j][i] != want {
				t.Errorf("mask[%d][%d] = %v, want %v", j, i, mask[j][i], want)
			}
		}
	}
}

func TestWKT(t *testing.T) {
	b, err := Parse([]byte(square))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	want := "POLYGON((2 48,4 48,4 50,2 50,2 48))"
	if got := b.WKT(); got != want {
		t.Errorf("WKT: got %s, want %s", got, want)
	}
}
