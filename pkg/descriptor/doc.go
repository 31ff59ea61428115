// SPDX-License-Identifier: MPL-2.0

// Package descriptor defines the package descriptor that identifies a simulator
// extension module and resolves it from declarative metadata.
//
// A descriptor is produced exactly once per build by [Resolve], which merges the
// base metadata read from the source tree with an explicit map of override keys.
// Overrides usually come from the process environment, but the resolver never
// reads the environment itself: callers pass the result of [OverridesFromEnviron].
//
// The descriptor has a canonical byte encoding ([Descriptor.Canonical]) with a
// fixed field order. Signatures are computed over it, so the encoding must never
// change for an existing format tag.
package descriptor
