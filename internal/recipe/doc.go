// Package recipe builds the declarative operation chains handed to the
// L2-to-L3 transformer.
//
// Each Sentinel-5P product type has a static spec (fields to keep,
// quality filters, unit derivations). Build combines a spec with the
// qa threshold, target unit and the binning grid into a single
// operation string:
//
//	grid, _ := recipe.GridFor(recipe.Globe, 0.5, 0.5)
//	ops, _ := recipe.Build("L2__NO2___", 50, "mol/m2", grid)
//
// The grid is computed once per run from the area of interest (or the
// full globe) so that every granule bins onto identical axes.
package recipe
