// SPDX-License-Identifier: MPL-2.0

// Package cmd contains the simpkg command-line interface.
package cmd
