// Package testutils provides a fake product hub for tests: an
// httptest server speaking the hub's OpenSearch and OData dialects.
package testutils

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

// HubProduct is one granule the fake hub offers.
type HubProduct struct {
	Id          string
	Title       string
	ProductType string
	Begin       time.Time
	End         time.Time
	Data        []byte
}

// FakeHub serves the search, metadata and download endpoints of a
// DHuS-style hub over httptest.
type FakeHub struct {
	Server *httptest.Server

	// Username and Password, when set, require basic auth on every
	// request.
	Username string
	Password string

	mu        sync.Mutex
	products  []HubProduct
	corrupt   map[string]int
	downloads map[string]int
}

// StartFakeHub starts a hub serving the given products. The server is
// shut down when the test finishes.
func StartFakeHub(t *testing.T, products []HubProduct) *FakeHub {
	t.Helper()

	h := &FakeHub{
		products:  products,
		corrupt:   make(map[string]int),
		downloads: make(map[string]int),
	}
	h.Server = httptest.NewServer(http.HandlerFunc(h.handle))
	t.Cleanup(h.Server.Close)
	return h
}

// URL returns the hub's base URL.
func (h *FakeHub) URL() string {
	return h.Server.URL
}

// CorruptNext makes the next n downloads of the given product serve a
// flipped payload, so the granule fails checksum verification.
func (h *FakeHub) CorruptNext(id string, n int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.corrupt[id] = n
}

// Downloads returns how many times the given product's byte stream
// was requested.
func (h *FakeHub) Downloads(id string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.downloads[id]
}

func (h *FakeHub) handle(w http.ResponseWriter, r *http.Request) {
	if h.Username != "" {
		user, pass, ok := r.BasicAuth()
		if !ok || user != h.Username || pass != h.Password {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	switch {
	case r.URL.Path == "/search":
		h.handleSearch(w, r)
	case strings.HasPrefix(r.URL.Path, "/odata/v1/Products('"):
		h.handleOData(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (h *FakeHub) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	rows, _ := strconv.Atoi(r.URL.Query().Get("rows"))
	if rows <= 0 {
		rows = 100
	}
	start, _ := strconv.Atoi(r.URL.Query().Get("start"))

	h.mu.Lock()
	var matches []HubProduct
	for _, p := range h.products {
		if matchesQuery(query, p) {
			matches = append(matches, p)
		}
	}
	h.mu.Unlock()

	total := len(matches)
	if start > total {
		start = total
	}
	end := start + rows
	if end > total {
		end = total
	}
	page := matches[start:end]

	entries := make([]map[string]interface{}, 0, len(page))
	for _, p := range page {
		entries = append(entries, map[string]interface{}{
			"id":    p.Id,
			"title": p.Title,
			"date": []map[string]string{
				{"name": "beginposition", "content": p.Begin.UTC().Format("2006-01-02T15:04:05.000Z")},
				{"name": "endposition", "content": p.End.UTC().Format("2006-01-02T15:04:05.000Z")},
			},
			"str": []map[string]string{
				{"name": "size", "content": fmt.Sprintf("%d B", len(p.Data))},
			},
		})
	}

	feed := map[string]interface{}{
		"opensearch:totalResults": strconv.Itoa(total),
	}
	switch len(entries) {
	case 0:
	case 1:
		// Real hubs collapse a single entry into a bare object.
		feed["entry"] = entries[0]
	default:
		feed["entry"] = entries
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"feed": feed})
}

func (h *FakeHub) handleOData(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/odata/v1/Products('")
	idx := strings.Index(rest, "')")
	if idx < 0 {
		http.NotFound(w, r)
		return
	}
	id := rest[:idx]
	isValue := strings.HasSuffix(rest, "/$value")

	h.mu.Lock()
	var product *HubProduct
	for i := range h.products {
		if h.products[i].Id == id {
			product = &h.products[i]
			break
		}
	}
	if product == nil {
		h.mu.Unlock()
		http.NotFound(w, r)
		return
	}

	if !isValue {
		sum := md5.Sum(product.Data)
		resp := map[string]interface{}{
			"d": map[string]interface{}{
				"Id":            product.Id,
				"Name":          product.Title,
				"ContentLength": strconv.Itoa(len(product.Data)),
				"Checksum": map[string]string{
					"Algorithm": "MD5",
					"Value":     strings.ToUpper(hex.EncodeToString(sum[:])),
				},
			},
		}
		h.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
		return
	}

	h.downloads[id]++
	data := product.Data
	if h.corrupt[id] > 0 {
		h.corrupt[id]--
		data = append([]byte{}, data...)
		if len(data) > 0 {
			data[0] ^= 0xff
		}
	}
	h.mu.Unlock()

	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Write(data)
}

// matchesQuery applies the subset of the hub query language the
// client emits: a producttype term and a beginposition range.
func matchesQuery(query string, p HubProduct) bool {
	for _, term := range strings.Split(query, " AND ") {
		term = strings.TrimSpace(term)
		switch {
		case strings.HasPrefix(term, "producttype:"):
			if strings.TrimPrefix(term, "producttype:") != p.ProductType {
				return false
			}
		case strings.HasPrefix(term, "beginposition:["):
			spec := strings.TrimSuffix(strings.TrimPrefix(term, "beginposition:["), "]")
			parts := strings.Split(spec, " TO ")
			if len(parts) != 2 {
				return false
			}
			if !withinRange(p.Begin, parts[0], parts[1]) {
				return false
			}
		}
	}
	return true
}

func withinRange(t time.Time, begin, end string) bool {
	const layout = "2006-01-02T15:04:05.000Z"
	if begin != "*" {
		b, err := time.Parse(layout, begin)
		if err != nil || t.Before(b) {
			return false
		}
	}
	if end != "*" {
		e, err := time.Parse(layout, end)
		if err != nil || !t.Before(e) {
			return false
		}
	}
	return true
}
