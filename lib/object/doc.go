// Package object is the typed layer of aspen: declared collections with
// schemas, primary keys, secondary indexes and versioned migrations, built
// on the engine's raw buckets.
//
// A Schema declares collections, their typed properties and which
// properties carry a secondary index. Open binds the schema to an engine
// and reconciles it with the state stored in the database: a fresh file
// adopts the schema, an equal version must match exactly, and a higher
// declared version triggers a migration inside one write transaction.
//
// Records are stored under their order-preserving encoded primary key. The
// stored value carries the secondary index keys it owns, so updates and
// deletes remove stale index entries without recomputing them. Index
// ordinals are assigned once and never reused.
package object
