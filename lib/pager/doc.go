// Package pager implements the page store underneath the aspen storage
// engine: a single backing file divided into fixed-size pages.
//
// Layout:
//
//   - Pages 0 and 1 are meta pages. A commit writes the new meta to page
//     txid%2, so the previous meta stays intact until the new one is durable.
//     Open picks the valid meta with the highest transaction id, which makes
//     a torn meta write roll back to the last committed state.
//   - Every page starts with an 8-byte xxhash64 checksum of its payload,
//     salted with a per-file seed so pages copied between files fail
//     verification.
//   - Free pages are tracked in memory and persisted on commit as a chain of
//     freelist pages referenced by the meta.
//
// Pages freed by a commit are not immediately reusable: a reader may still be
// pinned to an older version that references them. Freed batches are queued
// per transaction id and only released once the engine reports that no reader
// pins an older version.
//
// The backing filesystem is abstracted with afero.Fs; tests run against
// afero.NewMemMapFs().
package pager
