// Package pipeline drives one batch run end to end: query the hub,
// download missing granules into the configured bucket, convert them
// with the transformer, and merge the converted units into a single
// time-ordered export.
//
// Stages pass their full output to the next stage; per-task failures
// are isolated and counted, never fatal. An empty query ends the run
// before any side effect.
package pipeline
