package lockmgr

import (
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

func TestFileLockExclusive(t *testing.T) {
	fs := afero.NewMemMapFs()
	a := NewLockManager(fs, "db.aspen")
	b := NewLockManager(fs, "db.aspen")

	if err := a.AcquireFile(); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if err := b.AcquireFile(); !errors.Is(err, ErrLocked) {
		t.Errorf("second acquire: expected ErrLocked, got %v", err)
	}

	if err := a.ReleaseFile(); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := b.AcquireFile(); err != nil {
		t.Errorf("acquire after release: %v", err)
	}
}

func TestReleaseFileIdempotent(t *testing.T) {
	l := NewLockManager(afero.NewMemMapFs(), "db.aspen")
	if err := l.ReleaseFile(); err != nil {
		t.Errorf("release without acquire should be a no-op, got %v", err)
	}
}

func TestWriterLockSerializes(t *testing.T) {
	l := NewLockManager(afero.NewMemMapFs(), "db.aspen")

	var (
		mu      sync.Mutex
		holders int
		maxHeld int
		wg      sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			token, err := l.AcquireWrite(0)
			if err != nil {
				t.Errorf("acquire: %v", err)
				return
			}

			mu.Lock()
			holders++
			if holders > maxHeld {
				maxHeld = holders
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			holders--
			mu.Unlock()

			if err := l.ReleaseWrite(token); err != nil {
				t.Errorf("release: %v", err)
			}
		}()
	}
	wg.Wait()

	if maxHeld != 1 {
		t.Errorf("writer lock held by %d goroutines at once", maxHeld)
	}
}

func TestWriterLockTimeout(t *testing.T) {
	l := NewLockManager(afero.NewMemMapFs(), "db.aspen")

	token, err := l.AcquireWrite(0)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	if _, err := l.AcquireWrite(20 * time.Millisecond); !errors.Is(err, ErrTimeout) {
		t.Errorf("expected ErrTimeout, got %v", err)
	}

	if err := l.ReleaseWrite(token); err != nil {
		t.Fatalf("release: %v", err)
	}
	token2, err := l.AcquireWrite(time.Second)
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	l.ReleaseWrite(token2)
}

func TestReleaseWriteVerifiesToken(t *testing.T) {
	l := NewLockManager(afero.NewMemMapFs(), "db.aspen")

	token, _ := l.AcquireWrite(0)
	if err := l.ReleaseWrite("not-the-token"); !errors.Is(err, ErrNotOwner) {
		t.Errorf("expected ErrNotOwner, got %v", err)
	}
	if err := l.ReleaseWrite(token); err != nil {
		t.Errorf("release with correct token: %v", err)
	}
	if err := l.ReleaseWrite(token); !errors.Is(err, ErrNotOwner) {
		t.Errorf("double release: expected ErrNotOwner, got %v", err)
	}
}
