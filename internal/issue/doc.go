// SPDX-License-Identifier: MPL-2.0

// Package issue turns build failures into user-facing messages: a one-line
// error with suggestions for the terminal, plus longer Markdown guidance per
// failure class rendered with glamour.
package issue
