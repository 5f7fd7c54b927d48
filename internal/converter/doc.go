// Package converter turns downloaded L2 granules into gridded L3
// files by driving an external transformer over a bounded worker pool.
//
// The transformer is a capability interface: the production
// implementation (HarpTool) shells out to harpconvert, tests plug in a
// function. Each job is independent: an existing destination skips the
// transform entirely, an empty granule (ErrNoData) is a non-fatal
// skip, and any other failure is logged and isolated so sibling
// conversions keep running.
package converter
