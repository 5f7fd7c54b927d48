package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"time"

	s5phttp "github.com/bilelomrani1/s5p-tools/internal/http"
)

// pageSize is the number of entries requested per search page. The hub
// caps rows at 100.
const pageSize = 100

// Product is one catalog record: an L2 granule the hub offers for
// download. Records are immutable once returned and keyed by Id.
type Product struct {
	Id            string
	Title         string
	SizeBytes     int64
	BeginPosition time.Time
	EndPosition   time.Time
}

// Filename returns the local name the granule is stored under. The hub
// delivers a generic container; downstream stages expect netCDF.
func (p Product) Filename() string {
	return p.Title + ".nc"
}

// Meta is the per-product metadata fetched before download.
type Meta struct {
	Id            string
	Name          string
	ContentLength int64
	ChecksumMD5   string
	DownloadURL   string
}

// Query describes one catalog search.
type Query struct {
	// ProductType selects the L2 product, e.g. "L2__NO2___".
	ProductType string

	// Begin and End bound the sensing period (half-open, UTC).
	Begin, End time.Time

	// FootprintWKT optionally restricts results to products
	// intersecting the given polygon.
	FootprintWKT string
}

// Client queries a DHuS-style product hub.
type Client struct {
	hubURL string
	http   *s5phttp.Client
}

// NewClient creates a catalog client for the hub at hubURL.
func NewClient(hubURL string, httpClient *s5phttp.Client) *Client {
	return &Client{
		hubURL: strings.TrimSuffix(hubURL, "/"),
		http:   httpClient,
	}
}

// Search runs the query and returns all matching products in hub
// order, paging until the result set is exhausted. An empty result is
// not an error.
func (c *Client) Search(ctx context.Context, q Query) ([]Product, error) {
	terms := []string{`platformname:"Sentinel-5 Precursor"`}
	if q.ProductType != "" {
		terms = append(terms, fmt.Sprintf("producttype:%s", q.ProductType))
	}
	if !q.Begin.IsZero() || !q.End.IsZero() {
		terms = append(terms, fmt.Sprintf("beginposition:[%s TO %s]",
			formatQueryTime(q.Begin), formatQueryTime(q.End)))
	}
	if q.FootprintWKT != "" {
		terms = append(terms, fmt.Sprintf(`footprint:"Intersects(%s)"`, q.FootprintWKT))
	}
	queryString := strings.Join(terms, " AND ")

	var products []Product
	for start := 0; ; start += pageSize {
		page, total, err := c.searchPage(ctx, queryString, start)
		if err != nil {
			return nil, err
		}
		products = append(products, page...)
		if len(products) >= total || len(page) == 0 {
			break
		}
	}
	return products, nil
}

func (c *Client) searchPage(ctx context.Context, query string, start int) ([]Product, int, error) {
	u := fmt.Sprintf("%s/search?q=%s&rows=%d&start=%d&format=json",
		c.hubURL, url.QueryEscape(query), pageSize, start)

	body, err := c.http.Get(ctx, u)
	if err != nil {
		return nil, 0, fmt.Errorf("catalog: search: %w", err)
	}
	defer body.Close()

	var resp searchResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return nil, 0, fmt.Errorf("catalog: decode search response: %w", err)
	}

	total, err := strconv.Atoi(resp.Feed.TotalResults)
	if err != nil {
		return nil, 0, fmt.Errorf("catalog: parse total results %q: %w", resp.Feed.TotalResults, err)
	}

	products := make([]Product, 0, len(resp.Feed.Entries))
	for _, e := range resp.Feed.Entries {
		p, err := e.toProduct()
		if err != nil {
			return nil, 0, fmt.Errorf("catalog: entry %s: %w", e.Id, err)
		}
		products = append(products, p)
	}
	return products, total, nil
}

// Metadata fetches the per-product OData record: canonical name,
// content length, MD5 checksum and download URL. Returns
// http.ErrNotFound (wrapped) when the product is no longer in the
// catalog.
func (c *Client) Metadata(ctx context.Context, id string) (Meta, error) {
	u := fmt.Sprintf("%s/odata/v1/Products('%s')?$format=json", c.hubURL, id)

	body, err := c.http.Get(ctx, u)
	if err != nil {
		return Meta{}, fmt.Errorf("catalog: metadata for %s: %w", id, err)
	}
	defer body.Close()

	var resp odataResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return Meta{}, fmt.Errorf("catalog: decode metadata for %s: %w", id, err)
	}

	length, err := strconv.ParseInt(resp.D.ContentLength, 10, 64)
	if err != nil {
		return Meta{}, fmt.Errorf("catalog: parse content length %q: %w", resp.D.ContentLength, err)
	}

	checksum := resp.D.Checksum.Value
	if alg := resp.D.Checksum.Algorithm; alg != "" && !strings.EqualFold(alg, "MD5") {
		return Meta{}, fmt.Errorf("catalog: unsupported checksum algorithm %q for %s", alg, id)
	}

	return Meta{
		Id:            id,
		Name:          resp.D.Name,
		ContentLength: length,
		ChecksumMD5:   strings.ToLower(checksum),
		DownloadURL:   fmt.Sprintf("%s/odata/v1/Products('%s')/$value", c.hubURL, id),
	}, nil
}

// Download opens the granule byte stream for the given product.
func (c *Client) Download(ctx context.Context, id string) (io.ReadCloser, int64, error) {
	u := fmt.Sprintf("%s/odata/v1/Products('%s')/$value", c.hubURL, id)
	return c.http.GetStream(ctx, u)
}

// TotalSize sums the product sizes, for the query summary.
func TotalSize(products []Product) int64 {
	var total int64
	for _, p := range products {
		total += p.SizeBytes
	}
	return total
}

// searchResponse mirrors the hub's OpenSearch JSON feed.
type searchResponse struct {
	Feed searchFeed `json:"feed"`
}

type searchFeed struct {
	TotalResults string        `json:"opensearch:totalResults"`
	Entries      []searchEntry `json:"entry"`
}

// UnmarshalJSON tolerates the hub's habit of collapsing a single-entry
// result into a bare object instead of a one-element array.
func (f *searchFeed) UnmarshalJSON(data []byte) error {
	var raw struct {
		TotalResults string          `json:"opensearch:totalResults"`
		Entry        json.RawMessage `json:"entry"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	f.TotalResults = raw.TotalResults
	if len(raw.Entry) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw.Entry, &f.Entries); err == nil {
		return nil
	}
	var single searchEntry
	if err := json.Unmarshal(raw.Entry, &single); err != nil {
		return err
	}
	f.Entries = []searchEntry{single}
	return nil
}

type searchEntry struct {
	Id    string        `json:"id"`
	Title string        `json:"title"`
	Date  []nameContent `json:"date"`
	Str   []nameContent `json:"str"`
}

type nameContent struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

func (e searchEntry) toProduct() (Product, error) {
	if e.Id == "" {
		return Product{}, errors.New("entry has no id")
	}

	p := Product{Id: e.Id, Title: e.Title}

	for _, d := range e.Date {
		t, err := time.Parse(time.RFC3339, strings.TrimSpace(d.Content))
		if err != nil {
			// Some hubs emit millisecond timestamps without a zone.
			t, err = time.Parse("2006-01-02T15:04:05.999", strings.TrimSpace(d.Content))
			if err != nil {
				return Product{}, fmt.Errorf("parse %s %q: %w", d.Name, d.Content, err)
			}
			t = t.UTC()
		}
		switch d.Name {
		case "beginposition":
			p.BeginPosition = t
		case "endposition":
			p.EndPosition = t
		}
	}

	for _, s := range e.Str {
		if s.Name == "size" {
			size, err := parseSize(s.Content)
			if err != nil {
				return Product{}, fmt.Errorf("parse size %q: %w", s.Content, err)
			}
			p.SizeBytes = size
		}
	}

	return p, nil
}

// parseSize parses the hub's human-readable size strings ("417.81 MB").
func parseSize(s string) (int64, error) {
	fields := strings.Fields(s)
	if len(fields) != 2 {
		return 0, fmt.Errorf("malformed size string")
	}
	value, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, err
	}
	var mult float64
	switch strings.ToUpper(fields[1]) {
	case "B":
		mult = 1
	case "KB":
		mult = 1024
	case "MB":
		mult = 1024 * 1024
	case "GB":
		mult = 1024 * 1024 * 1024
	case "TB":
		mult = 1024 * 1024 * 1024 * 1024
	default:
		return 0, fmt.Errorf("unknown size unit %q", fields[1])
	}
	return int64(value * mult), nil
}

// odataResponse mirrors the hub's OData product record.
type odataResponse struct {
	D struct {
		Id            string `json:"Id"`
		Name          string `json:"Name"`
		ContentLength string `json:"ContentLength"`
		Checksum      struct {
			Algorithm string `json:"Algorithm"`
			Value     string `json:"Value"`
		} `json:"Checksum"`
	} `json:"d"`
}

func formatQueryTime(t time.Time) string {
	if t.IsZero() {
		return "*"
	}
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}
