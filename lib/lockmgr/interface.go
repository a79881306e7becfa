package lockmgr

import (
	"time"

	"github.com/pkg/errors"
)

var (
	// ErrTimeout is returned when the writer lock could not be acquired
	// within the requested duration
	ErrTimeout = errors.New("lockmgr: timed out waiting for writer lock")

	// ErrLocked is returned when the database file is already held by
	// another process
	ErrLocked = errors.New("lockmgr: database file locked by another process")

	// ErrNotOwner is returned when a release presents a token that does not
	// own the lock
	ErrNotOwner = errors.New("lockmgr: token does not own the lock")
)

// ILockManager defines the interface for database lock coordination.
//
// Two locks are managed: a file lock that grants one process exclusive
// access to the database file, and a writer lock that serializes write
// transactions within that process.
type ILockManager interface {
	// AcquireFile takes the process-exclusive file lock. It returns
	// ErrLocked if another live process already holds it.
	AcquireFile() error

	// ReleaseFile releases the process-exclusive file lock
	ReleaseFile() error

	// AcquireWrite blocks until the writer lock is available or timeout
	// elapses (0 = wait forever). It returns an owner token that must be
	// presented to ReleaseWrite.
	AcquireWrite(timeout time.Duration) (token string, err error)

	// ReleaseWrite releases the writer lock. The token must be the one
	// returned by the matching AcquireWrite.
	ReleaseWrite(token string) error
}
