// Package query evaluates predicate trees against object collections.
//
// A Query pairs a collection with a predicate tree (Eq, Lt, Prefix, And,
// Or, ...), optional sorting and paging. Evaluation is lazy: Results pulls
// records from the snapshot and decodes them on demand, so iterating the
// first ten matches of a large collection touches only the pages holding
// them. Sorting is the one operation that materializes the match set.
//
// An equality predicate on an indexed property is answered from the index
// bucket instead of a full collection scan. Predicate trees serialize to
// JSON, which is how remote clients ship queries to a server.
package query
