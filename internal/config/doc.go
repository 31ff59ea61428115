// SPDX-License-Identifier: MPL-2.0

// Package config loads simpkg settings with Viper, using CUE as the file
// format. Settings come from config.cue in the user configuration directory
// (or the working directory), then SIMPKG_* environment variables, then
// command-line flags bound by the CLI. The file is validated against an
// embedded schema before it reaches Viper.
package config
