package aoi

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/index/rtree"

	"github.com/bilelomrani1/s5p-tools/internal/recipe"
)

// Boundary is an area of interest: one or more polygons in geographic
// (EPSG:4326) coordinates, indexed for fast containment tests.
type Boundary struct {
	polygons []geom.Polygon
	index    *rtree.Rtree

	minX, minY, maxX, maxY float64
}

type indexedPolygon struct {
	geom.Polygon
}

// Load reads a GeoJSON file (FeatureCollection, Feature or bare
// geometry) holding Polygon or MultiPolygon geometries.
func Load(path string) (*Boundary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("aoi: read %s: %w", path, err)
	}
	b, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("aoi: %s: %w", path, err)
	}
	return b, nil
}

// Parse decodes GeoJSON bytes into a Boundary.
func Parse(data []byte) (*Boundary, error) {
	var doc struct {
		Type     string `json:"type"`
		Features []struct {
			Geometry json.RawMessage `json:"geometry"`
		} `json:"features"`
		Geometry    json.RawMessage `json:"geometry"`
		Coordinates json.RawMessage `json:"coordinates"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode geojson: %w", err)
	}

	var polygons []geom.Polygon
	switch doc.Type {
	case "FeatureCollection":
		for _, f := range doc.Features {
			polys, err := decodeGeometry(f.Geometry)
			if err != nil {
				return nil, err
			}
			polygons = append(polygons, polys...)
		}
	case "Feature":
		polys, err := decodeGeometry(doc.Geometry)
		if err != nil {
			return nil, err
		}
		polygons = polys
	case "Polygon", "MultiPolygon":
		polys, err := decodeGeometry(data)
		if err != nil {
			return nil, err
		}
		polygons = polys
	default:
		return nil, fmt.Errorf("unsupported geojson type %q", doc.Type)
	}

	if len(polygons) == 0 {
		return nil, fmt.Errorf("no polygon geometry found")
	}

	b := &Boundary{
		polygons: polygons,
		index:    rtree.NewTree(25, 50),
		minX:     math.Inf(1),
		minY:     math.Inf(1),
		maxX:     math.Inf(-1),
		maxY:     math.Inf(-1),
	}
	for _, p := range polygons {
		b.index.Insert(indexedPolygon{p})
		for _, ring := range p {
			for _, pt := range ring {
				b.minX = math.Min(b.minX, pt.X)
				b.minY = math.Min(b.minY, pt.Y)
				b.maxX = math.Max(b.maxX, pt.X)
				b.maxY = math.Max(b.maxY, pt.Y)
			}
		}
	}
	return b, nil
}

// decodeGeometry turns one GeoJSON geometry into polygons.
func decodeGeometry(raw json.RawMessage) ([]geom.Polygon, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("feature has no geometry")
	}

	var g struct {
		Type        string          `json:"type"`
		Coordinates json.RawMessage `json:"coordinates"`
	}
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, fmt.Errorf("decode geometry: %w", err)
	}

	switch g.Type {
	case "Polygon":
		var rings [][][]float64
		if err := json.Unmarshal(g.Coordinates, &rings); err != nil {
			return nil, fmt.Errorf("decode polygon coordinates: %w", err)
		}
		p, err := toPolygon(rings)
		if err != nil {
			return nil, err
		}
		return []geom.Polygon{p}, nil
	case "MultiPolygon":
		var multi [][][][]float64
		if err := json.Unmarshal(g.Coordinates, &multi); err != nil {
			return nil, fmt.Errorf("decode multipolygon coordinates: %w", err)
		}
		polys := make([]geom.Polygon, 0, len(multi))
		for _, rings := range multi {
			p, err := toPolygon(rings)
			if err != nil {
				return nil, err
			}
			polys = append(polys, p)
		}
		return polys, nil
	default:
		return nil, fmt.Errorf("unsupported geometry type %q", g.Type)
	}
}

func toPolygon(rings [][][]float64) (geom.Polygon, error) {
	p := make(geom.Polygon, 0, len(rings))
	for _, ring := range rings {
		path := make([]geom.Point, 0, len(ring))
		for _, coord := range ring {
			if len(coord) < 2 {
				return nil, fmt.Errorf("coordinate with %d components", len(coord))
			}
			path = append(path, geom.Point{X: coord[0], Y: coord[1]})
		}
		p = append(p, path)
	}
	return p, nil
}

// Extent returns the bounding box of the boundary in degrees.
func (b *Boundary) Extent() recipe.Extent {
	return recipe.Extent{MinX: b.minX, MinY: b.minY, MaxX: b.maxX, MaxY: b.maxY}
}

// Contains reports whether the point at (lon, lat) lies inside the
// boundary. Points on an edge count as inside.
func (b *Boundary) Contains(lon, lat float64) bool {
	pt := geom.Point{X: lon, Y: lat}
	for _, item := range b.index.SearchIntersect(pt.Bounds()) {
		poly := item.(indexedPolygon)
		if pt.Within(poly.Polygon) != geom.Outside {
			return true
		}
	}
	return false
}

// Mask returns a [len(lats)][len(lons)] containment grid for the given
// cell-center coordinates.
func (b *Boundary) Mask(lats, lons []float64) [][]bool {
	mask := make([][]bool, len(lats))
	for j, lat := range lats {
		row := make([]bool, len(lons))
		for i, lon := range lons {
			row[i] = b.Contains(lon, lat)
		}
		mask[j] = row
	}
	return mask
}

// WKT renders the boundary as a well-known-text polygon for the hub's
// footprint filter. Only outer rings participate: the hub treats the
// footprint as a coarse spatial filter, holes do not matter there.
func (b *Boundary) WKT() string {
	if len(b.polygons) == 1 {
		return "POLYGON(" + ringWKT(b.polygons[0][0]) + ")"
	}
	parts := make([]string, len(b.polygons))
	for i, p := range b.polygons {
		parts[i] = "(" + ringWKT(p[0]) + ")"
	}
	return "MULTIPOLYGON(" + strings.Join(parts, ",") + ")"
}

func ringWKT(ring []geom.Point) string {
	coords := make([]string, 0, len(ring)+1)
	for _, pt := range ring {
		coords = append(coords, fmt.Sprintf("%g %g", pt.X, pt.Y))
	}
	// WKT rings are explicitly closed.
	if len(ring) > 0 && ring[0] != ring[len(ring)-1] {
		coords = append(coords, fmt.Sprintf("%g %g", ring[0].X, ring[0].Y))
	}
	return "(" + strings.Join(coords, ",") + ")"
}
