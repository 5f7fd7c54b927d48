// Package dataset merges converted L3 units into a single
// time-ordered netCDF file.
//
// The transformer drops the sensing-time attributes of the original
// granules, so the pipeline extracts them up front into a side table
// (CoverageTable) keyed by L2 base name. Aggregate dates each unit
// from that table, sorts the batch by sensing start, verifies all
// units share the grid axes of the first, and streams variable data
// into the output in bounded batches.
package dataset
