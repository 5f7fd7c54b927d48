package recipe

import (
	"fmt"
	"sort"
	"strings"
)

// Spec describes the harp operations for one L2 product type:
// which fields to keep, how to filter samples, and which unit
// derivations to apply. Filter and Convert are templates; the qa
// threshold and target unit are substituted by Build.
type Spec struct {
	Keep    []string
	Filter  []string
	Convert []string
}

// keepCommon lists the fields kept for every product type in addition
// to the product-specific ones.
var keepCommon = []string{
	"latitude",
	"longitude",
	"sensor_altitude",
	"sensor_azimuth_angle",
	"sensor_zenith_angle",
	"solar_azimuth_angle",
	"solar_zenith_angle",
}

// Table maps Sentinel-5P L2 product types to their conversion specs.
// The %d placeholder receives the qa threshold, %s the target unit.
var Table = map[string]Spec{
	"L2__O3____": {
		Keep: []string{
			"O3_column_number_density",
			"O3_effective_temperature",
			"cloud_fraction",
		},
		Filter:  []string{"O3_column_number_density_validity>=%d"},
		Convert: []string{"derive(O3_column_number_density [%s])"},
	},
	"L2__NO2___": {
		Keep: []string{
			"tropospheric_NO2_column_number_density",
			"NO2_column_number_density",
			"stratospheric_NO2_column_number_density",
			"NO2_slant_column_number_density",
			"tropopause_pressure",
			"absorbing_aerosol_index",
			"cloud_fraction",
		},
		Filter: []string{
			"tropospheric_NO2_column_number_density_validity>=%d",
			"tropospheric_NO2_column_number_density>=0",
		},
		Convert: []string{
			"derive(tropospheric_NO2_column_number_density [%s])",
			"derive(stratospheric_NO2_column_number_density [%s])",
			"derive(NO2_column_number_density [%s])",
			"derive(NO2_slant_column_number_density [%s])",
		},
	},
	"L2__SO2___": {
		Keep: []string{
			"SO2_column_number_density",
			"SO2_column_number_density_amf",
			"SO2_slant_column_number_density",
			"cloud_fraction",
		},
		Filter: []string{"SO2_column_number_density_validity>=%d"},
		Convert: []string{
			"derive(SO2_column_number_density [%s])",
			"derive(SO2_slant_column_number_density [%s])",
		},
	},
	"L2__CO____": {
		Keep:   []string{"CO_column_number_density", "H2O_column_number_density"},
		Filter: []string{"CO_column_number_density_validity>=%d"},
		Convert: []string{
			"derive(CO_column_number_density [%s])",
			"derive(H2O_column_number_density [%s])",
		},
	},
	"L2__CH4___": {
		Keep: []string{
			"CH4_column_volume_mixing_ratio_dry_air",
			"aerosol_height",
			"aerosol_optical_depth",
			"cloud_fraction",
		},
		Filter: []string{"CH4_column_volume_mixing_ratio_dry_air_validity>=%d"},
	},
	"L2__HCHO__": {
		Keep: []string{
			"tropospheric_HCHO_column_number_density",
			"tropospheric_HCHO_column_number_density_amf",
			"HCHO_slant_column_number_density",
			"cloud_fraction",
		},
		Filter: []string{"tropospheric_HCHO_column_number_density_validity>=%d"},
		Convert: []string{
			"derive(tropospheric_HCHO_column_number_density [%s])",
			"derive(HCHO_slant_column_number_density [%s])",
		},
	},
	"L2__CLOUD_": {
		Keep: []string{
			"cloud_fraction",
			"cloud_top_pressure",
			"cloud_top_height",
			"cloud_base_pressure",
			"cloud_base_height",
			"cloud_optical_depth",
			"surface_albedo",
		},
		Filter: []string{"cloud_fraction_validity>=%d"},
	},
	"L2__AER_AI": {
		Keep: []string{
			"absorbing_aerosol_index",
		},
		Filter: []string{"absorbing_aerosol_index_validity>=%d"},
	},
	"L2__AER_LH": {
		Keep: []string{
			"aerosol_height",
			"aerosol_pressure",
			"aerosol_optical_depth",
			"cloud_fraction",
		},
		Filter: []string{"aerosol_height_validity>=%d"},
	},
}

// ProductTypes returns the known product types in sorted order.
func ProductTypes() []string {
	types := make([]string, 0, len(Table))
	for t := range Table {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Build assembles the harp operation chain for one product type:
// quality filters, unit derivations, datetime_stop derivation, spatial
// binning onto the grid, coordinate derivations and the final keep
// list. The returned string is passed verbatim to the transformer.
func Build(productType string, qa int, unit string, grid Grid) (string, error) {
	spec, ok := Table[productType]
	if !ok {
		return "", fmt.Errorf("recipe: unknown product type %q (known: %s)",
			productType, strings.Join(ProductTypes(), ", "))
	}

	var ops []string
	for _, f := range spec.Filter {
		if strings.Contains(f, "%d") {
			ops = append(ops, fmt.Sprintf(f, qa))
		} else {
			ops = append(ops, f)
		}
	}
	for _, c := range spec.Convert {
		ops = append(ops, fmt.Sprintf(c, unit))
	}

	ops = append(ops, "derive(datetime_stop {time})")
	ops = append(ops, fmt.Sprintf("bin_spatial(%d,%s,%s,%d,%s,%s)",
		grid.LatLength, formatDegrees(grid.LatOffset), formatDegrees(grid.LatStep),
		grid.LonLength, formatDegrees(grid.LonOffset), formatDegrees(grid.LonStep)))
	ops = append(ops, "derive(latitude {latitude})", "derive(longitude {longitude})")

	keep := append(append([]string{}, spec.Keep...), keepCommon...)
	ops = append(ops, fmt.Sprintf("keep(%s)", strings.Join(keep, ",")))

	return strings.Join(ops, ";"), nil
}

// Fields returns the variables the converted product carries for the
// given type: the product-specific keep list plus the common fields.
// The aggregator uses this to know which variables to merge.
func Fields(productType string) ([]string, error) {
	spec, ok := Table[productType]
	if !ok {
		return nil, fmt.Errorf("recipe: unknown product type %q", productType)
	}
	return append(append([]string{}, spec.Keep...), keepCommon...), nil
}

// formatDegrees renders a coordinate or step without trailing zeros,
// matching what the harp CLI expects.
func formatDegrees(v float64) string {
	return fmt.Sprintf("%g", v)
}
