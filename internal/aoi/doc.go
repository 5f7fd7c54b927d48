// Package aoi reads area-of-interest boundaries from GeoJSON.
//
// A Boundary supplies three things to the pipeline: the bounding
// extent that parameterizes the binning grid, a WKT rendering for the
// hub's footprint filter, and an rtree-backed containment test used to
// mask merged datasets against the polygon.
package aoi
