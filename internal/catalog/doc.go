// Package catalog queries a DHuS-style product hub for Sentinel-5P
// granules.
//
// Search runs an OpenSearch query (product type, sensing period,
// optional footprint polygon) and returns the matching product records
// in hub order. Metadata fetches the per-product OData record, which
// carries the MD5 checksum the downloader verifies against, and
// Download opens the granule byte stream.
//
// A query that matches nothing returns an empty slice, not an error;
// authentication and connection failures surface as errors from the
// underlying HTTP client.
package catalog
