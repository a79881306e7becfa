// Package util provides supporting data structures for the aspen storage
// engine and its surrounding packages.
//
// It contains:
//   - Seed and hash helpers used for checksum salting and identifier hashing
//   - KeyedHeap: a priority queue with O(1) key lookup, used by the pager to
//     schedule the release of pages freed under still-pinned versions
//   - LockFreeMPSC: a lock-free multi-producer single-consumer queue, used by
//     the watch dispatcher to deliver change sets without blocking commits
//   - SizeHistogram and distribution statistics backing DatabaseInfo reports
package util
