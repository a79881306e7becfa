package db

import (
	"github.com/pkg/errors"

	"github.com/aspendb/aspen/lib/lockmgr"
	"github.com/aspendb/aspen/lib/pager"
)

// --------------------------------------------------------------------------
// Helper Types
// --------------------------------------------------------------------------

type Implementation string

const (
	ImplAspen Implementation = "aspen"
)

// Feature represents engine features as bit flags
type Feature uint64

const (
	FeatureGet     Feature = 1 << iota // Support for Get operations
	FeaturePut                         // Support for Put operations
	FeatureDelete                      // Support for Delete operations
	FeatureCursor                      // Support for ordered iteration
	FeatureWatch                       // Support for change notifications
	FeatureBackup                      // Support for Backup operations
	FeatureRestore                     // Support for Restore operations
	FeatureCompact                     // Support for offline compaction
)

func (f Feature) String() string {
	switch f {
	case FeatureGet:
		return "Get"
	case FeaturePut:
		return "Put"
	case FeatureDelete:
		return "Delete"
	case FeatureCursor:
		return "Cursor"
	case FeatureWatch:
		return "Watch"
	case FeatureBackup:
		return "Backup"
	case FeatureRestore:
		return "Restore"
	case FeatureCompact:
		return "Compact"
	default:
		return "Unknown"
	}
}

// DatabaseInfo describes one open database
type DatabaseInfo struct {
	Path              string         `json:"path"`
	DbType            Implementation `json:"db_type"`
	TxID              uint64         `json:"tx_id"`
	SizeBytes         uint64         `json:"size_bytes"`
	PageCount         uint64         `json:"page_count"`
	FreePages         int            `json:"free_pages"`
	PendingPages      int            `json:"pending_pages"`
	ActiveReaders     int            `json:"active_readers"`
	Buckets           []string       `json:"buckets"`
	SupportedFeatures []Feature      `json:"supported_features"`
	ValueSizes        ValueSizeInfo  `json:"value_sizes"`
}

// ValueSizeInfo summarizes the sampled value size distribution
type ValueSizeInfo struct {
	Sampled uint64  `json:"sampled"`
	Average float64 `json:"average"`
	Median  uint64  `json:"median"`
	P99     uint64  `json:"p99"`
}

// --------------------------------------------------------------------------
// Errors
// --------------------------------------------------------------------------

var (
	// ErrNotFound is returned when a key does not exist
	ErrNotFound = errors.New("db: key not found")

	// ErrBucketNotFound is returned when a named bucket does not exist
	ErrBucketNotFound = errors.New("db: bucket not found")

	// ErrReadOnlyTx is returned when a write operation runs in a read
	// transaction
	ErrReadOnlyTx = errors.New("db: transaction is read-only")

	// ErrTxClosed is returned when a finished transaction is used again
	ErrTxClosed = errors.New("db: transaction already closed")

	// ErrClosed is returned when the engine has been closed
	ErrClosed = errors.New("db: database closed")

	// ErrTimeout is returned when the writer lock could not be acquired in
	// time
	ErrTimeout = lockmgr.ErrTimeout

	// ErrCorrupted is returned when the backing file fails validation
	ErrCorrupted = pager.ErrCorrupted
)

// --------------------------------------------------------------------------
// Iterator
// --------------------------------------------------------------------------

// Iterator walks bucket entries in key order. A nil key signals the end.
// Both snapshot cursors and write-view cursors implement it.
type Iterator interface {
	// First positions the iterator at the smallest key
	First() (key, value []byte, err error)

	// Seek positions the iterator at the first key >= the given key
	Seek(key []byte) (k, value []byte, err error)

	// Next advances the iterator to the following key
	Next() (key, value []byte, err error)
}
