// Package project turns pipeline artifacts into the remote entity model:
// one Document per downloaded item, an Image per extracted image that passed
// evaluation, and a Face per detection with a usable feature vector.
//
// Projection is read-only over the artifact tree. Every entity carries its
// freshness fingerprint (max modification time over its dependent artifacts)
// so the publisher can skip entities that have not changed since the last
// committed sync.
package project
