// SPDX-License-Identifier: MPL-2.0

// Package pipeline drives one package build through its stages: resolve the
// descriptor, check the host API version against the matrix, compile, sign,
// then assemble and commit the archive. A failure at any stage aborts the
// build, names the stage, and leaves nothing at the output path.
package pipeline
