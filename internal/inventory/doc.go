// Package inventory persists the item store: a single serialized mapping
// from a stable item key (usually the source URL) to a free-form attribute
// record.
//
// The store is deliberately simple. Load tolerates an absent or corrupt file
// by returning an empty inventory, preserving the damaged original as a
// backup and attempting one bounded salvage pass first. MergeUpdate performs
// a locked load-merge-store cycle with a shallow top-level merge and an
// atomic replace, so a failed write never destroys the previous state.
// Concurrent workers inside a stage pass must route updates through Writer,
// which serializes all mutations onto one goroutine.
package inventory
