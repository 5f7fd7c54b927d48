// Package config defines configuration structures for the s5p CLI.
//
// Configuration can be provided via:
//   - Command-line flags
//   - Environment variables (S5P_ prefix)
//   - YAML configuration file
//
// Precedence: flags override environment variables, which override the
// configuration file, which overrides the defaults. The defaults point
// at the public Sentinel-5P pre-operations hub with the shared guest
// account and a local L2_data/L3_data/processed directory layout.
package config
