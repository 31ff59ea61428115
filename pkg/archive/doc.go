// SPDX-License-Identifier: MPL-2.0

// Package archive assembles signed module packages and reads them back.
//
// A package is a gzip-compressed tar with a fixed layout:
//
//	manifest.json                    descriptor, host API, file list, signature
//	bin/<host triple>/<artifact>     the module library
//	resources/<relative path>        auxiliary files, paths preserved
//
// Archives are reproducible: entries are written in a fixed order with zeroed
// timestamps and ownership, so identical inputs give identical files (apart
// from the signature bytes of randomized schemes).
package archive
