// Package progress provides per-stage progress reporting.
//
// Each pipeline stage (download, conversion) creates one Reporter.
// Workers publish task events (started, completed, skipped, failed)
// through atomic counters; a single goroutine renders the aggregate on
// one terminal line. Workers never write to the terminal themselves.
//
// # Output Format
//
//	[s5p] Downloading 12 products
//	[s5p] Downloading: 50% | 6/12 done | 2 skipped | 0 failed | 4 in-progress
//	[s5p] Downloading: 9 completed | 2 skipped | 1 failed | 3m 12s
package progress
