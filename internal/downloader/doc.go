// Package downloader fetches catalog products into a storage bucket.
//
// Fetch runs a bounded pool of workers over the product list. Each
// worker's first action is the destination existence check, so re-runs
// only transfer what is missing. A granule is streamed under its
// archive name, MD5-verified against the hub's metadata, and only then
// renamed to the canonical .nc key; a checksum mismatch deletes the
// partial object and retries with backoff.
//
// Failures are isolated per task: a product that vanished from the
// catalog, or one that exhausts its retries, is recorded in its Result
// and never stops sibling downloads. Storage is abstracted behind
// gocloud.dev/blob, so the destination can be a local directory
// (file://), an in-memory bucket in tests (mem://), or object storage.
package downloader
