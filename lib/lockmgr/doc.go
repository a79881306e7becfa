// Package lockmgr coordinates access to one aspen database.
//
// Two independent locks are managed:
//
//   - File lock: a sibling ".lock" file created with O_EXCL grants one
//     process exclusive access to the database file. The file records the
//     holder's pid and a random instance id so a stale lock left behind by
//     a crashed process can be inspected and removed by hand.
//
//   - Writer lock: write transactions within the holding process are
//     serialized through a single-slot semaphore with optional timeout.
//     Acquisition returns a random owner token; release verifies the token
//     so a misbehaving caller cannot unlock a transaction it does not own.
//
// Thread Safety:
//
//	The writer lock operations are safe for concurrent use. The file lock
//	is taken once when the database is opened and released on close.
package lockmgr
