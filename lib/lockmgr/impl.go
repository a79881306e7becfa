package lockmgr

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

type lockMgrImpl struct {
	fs       afero.Fs
	lockPath string

	writerCh chan struct{} // capacity 1, a slot in the channel = lock is free

	mu    sync.Mutex
	token string // owner of the writer lock, "" when unheld
}

// NewLockManager creates a lock manager for the database at dbPath. The
// file lock is a sibling file next to the database.
func NewLockManager(fs afero.Fs, dbPath string) ILockManager {
	ch := make(chan struct{}, 1)
	ch <- struct{}{}
	return &lockMgrImpl{
		fs:       fs,
		lockPath: dbPath + ".lock",
		writerCh: ch,
	}
}

// --------------------------------------------------------------------------
// File lock
// --------------------------------------------------------------------------

func (l *lockMgrImpl) AcquireFile() error {
	f, err := l.fs.OpenFile(l.lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		if os.IsExist(err) {
			return ErrLocked
		}
		return errors.Wrap(err, "create lock file")
	}
	defer f.Close()

	// owner info for debugging stale locks by hand
	_, err = fmt.Fprintf(f, "pid=%d\ninstance=%s\n", os.Getpid(), uuid.NewString())
	return errors.Wrap(err, "write lock file")
}

func (l *lockMgrImpl) ReleaseFile() error {
	if err := l.fs.Remove(l.lockPath); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "remove lock file")
	}
	return nil
}

// --------------------------------------------------------------------------
// Writer lock
// --------------------------------------------------------------------------

func (l *lockMgrImpl) AcquireWrite(timeout time.Duration) (string, error) {
	if timeout <= 0 {
		<-l.writerCh
	} else {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case <-l.writerCh:
		case <-timer.C:
			return "", ErrTimeout
		}
	}

	token := uuid.NewString()
	l.mu.Lock()
	l.token = token
	l.mu.Unlock()
	return token, nil
}

func (l *lockMgrImpl) ReleaseWrite(token string) error {
	l.mu.Lock()
	if l.token == "" || l.token != token {
		l.mu.Unlock()
		return ErrNotOwner
	}
	l.token = ""
	l.mu.Unlock()

	l.writerCh <- struct{}{}
	return nil
}
