// Package btree implements the copy-on-write B+-tree that stores every
// key-value mapping of the aspen engine.
//
// A committed tree version is identified by its root page id and is
// immutable: readers open a Tree on any committed root and see a stable
// snapshot without coordination. The single writer opens a WriteTree on the
// latest root, applies its changes in memory, and on Commit rewrites only
// the modified nodes to fresh pages. Unchanged subtrees keep their page ids
// and are shared between versions, which also lets Diff compare two
// versions while skipping everything they share.
//
// Values above a quarter page move to contiguous overflow runs so a leaf
// always holds enough items to keep the tree shallow.
package btree
