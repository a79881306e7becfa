package pager

import (
	"bytes"
	"testing"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

func newTestPager(t *testing.T, fs afero.Fs) *Pager {
	t.Helper()
	p, err := Open("test.aspen", &Options{Fs: fs})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return p
}

func TestOpenCreatesFreshFile(t *testing.T) {
	p := newTestPager(t, afero.NewMemMapFs())
	defer p.Close()

	m := p.Meta()
	if m.TxID != 0 {
		t.Errorf("fresh file should start at txid 0, got %d", m.TxID)
	}
	if m.Root != 0 {
		t.Errorf("fresh file should have no root, got %d", m.Root)
	}
	if m.PageCount != metaPageCount {
		t.Errorf("expected %d initial pages, got %d", metaPageCount, m.PageCount)
	}
	if m.Seed == 0 {
		t.Error("expected a non-zero checksum seed")
	}
}

func TestWriteReadPage(t *testing.T) {
	p := newTestPager(t, afero.NewMemMapFs())
	defer p.Close()

	id, err := p.Allocate(1)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}

	payload := bytes.Repeat([]byte("aspen"), 100)
	if err := p.WritePage(id, payload); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := p.ReadPage(id)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got[:len(payload)], payload) {
		t.Error("payload mismatch after roundtrip")
	}
}

func TestReadPageDetectsCorruption(t *testing.T) {
	fs := afero.NewMemMapFs()
	p := newTestPager(t, fs)

	id, _ := p.Allocate(1)
	if err := p.WritePage(id, []byte("important data")); err != nil {
		t.Fatalf("write: %v", err)
	}
	p.Close()

	// flip one byte in the page payload
	f, err := fs.OpenFile("test.aspen", 2 /* os.O_RDWR */, 0o600)
	if err != nil {
		t.Fatalf("reopen raw: %v", err)
	}
	if _, err := f.WriteAt([]byte{0xFF}, int64(id)*PageSize+pageHeaderSize+3); err != nil {
		t.Fatalf("corrupt: %v", err)
	}
	f.Close()

	p2 := newTestPager(t, fs)
	defer p2.Close()

	if _, err := p2.ReadPage(id); !errors.Is(err, ErrChecksum) {
		t.Errorf("expected ErrChecksum, got %v", err)
	}
}

func TestMetaRoundtrip(t *testing.T) {
	fs := afero.NewMemMapFs()
	p := newTestPager(t, fs)

	id, _ := p.Allocate(1)
	if err := p.WritePage(id, []byte("root page")); err != nil {
		t.Fatalf("write: %v", err)
	}

	m := p.Meta()
	m.TxID = 1
	m.Root = id
	if err := p.CommitMeta(m); err != nil {
		t.Fatalf("commit: %v", err)
	}
	p.Close()

	p2 := newTestPager(t, fs)
	defer p2.Close()

	m2 := p2.Meta()
	if m2.TxID != 1 {
		t.Errorf("expected txid 1 after reopen, got %d", m2.TxID)
	}
	if m2.Root != id {
		t.Errorf("expected root %d after reopen, got %d", id, m2.Root)
	}
	if m2.InstanceID != m.InstanceID {
		t.Error("instance id changed across reopen")
	}
}

func TestMetaRollbackOnTornWrite(t *testing.T) {
	fs := afero.NewMemMapFs()
	p := newTestPager(t, fs)

	id, _ := p.Allocate(1)
	p.WritePage(id, []byte("v1"))

	m := p.Meta()
	m.TxID = 1
	m.Root = id
	if err := p.CommitMeta(m); err != nil {
		t.Fatalf("commit: %v", err)
	}
	p.Close()

	// simulate a torn write of the *next* meta slot (txid 2 -> page 0)
	f, _ := fs.OpenFile("test.aspen", 2, 0o600)
	f.WriteAt(bytes.Repeat([]byte{0xAB}, 64), 0)
	f.Close()

	p2 := newTestPager(t, fs)
	defer p2.Close()

	if p2.Meta().TxID != 1 {
		t.Errorf("expected rollback to txid 1, got %d", p2.Meta().TxID)
	}
	if p2.Meta().Root != id {
		t.Errorf("expected root %d after rollback, got %d", id, p2.Meta().Root)
	}
}

func TestAllocateContiguousRun(t *testing.T) {
	p := newTestPager(t, afero.NewMemMapFs())
	defer p.Close()

	id, err := p.Allocate(4)
	if err != nil {
		t.Fatalf("allocate run: %v", err)
	}

	// the run must be writable end to end
	for i := 0; i < 4; i++ {
		if err := p.WritePage(id+PageID(i), []byte{byte(i)}); err != nil {
			t.Fatalf("write run page %d: %v", i, err)
		}
	}
}

func TestFreePendingAndRelease(t *testing.T) {
	p := newTestPager(t, afero.NewMemMapFs())
	defer p.Close()

	a, _ := p.Allocate(1)
	b, _ := p.Allocate(1)

	p.FreePending(5, []PageID{a, b})

	// not released yet: a reader at txid 3 may still reference them
	p.Release(3)
	if got := p.Stats().FreePages; got != 0 {
		t.Errorf("expected 0 free pages before release, got %d", got)
	}

	p.Release(5)
	if got := p.Stats().FreePages; got != 2 {
		t.Errorf("expected 2 free pages after release, got %d", got)
	}

	// released pages are reused before the file grows
	id, _ := p.Allocate(1)
	if id != a && id != b {
		t.Errorf("expected reuse of %d or %d, got %d", a, b, id)
	}
}

func TestWithdrawPendingKeepsPagesLive(t *testing.T) {
	p := newTestPager(t, afero.NewMemMapFs())
	defer p.Close()

	a, _ := p.Allocate(1)
	b, _ := p.Allocate(1)

	p.FreePending(7, []PageID{a, b})
	p.WithdrawPending(7)

	// the withdrawn batch must never reach the allocator
	p.Release(7)
	s := p.Stats()
	if s.FreePages != 0 || s.PendingPages != 0 {
		t.Errorf("expected no free or pending pages after withdraw, got %d/%d", s.FreePages, s.PendingPages)
	}

	// a later batch reusing the same txid is independent of the withdrawal
	p.FreePending(7, []PageID{a})
	p.Release(7)
	if got := p.Stats().FreePages; got != 1 {
		t.Errorf("expected 1 free page from the new batch, got %d", got)
	}
}

func TestFreelistSurvivesReopen(t *testing.T) {
	fs := afero.NewMemMapFs()
	p := newTestPager(t, fs)

	var ids []PageID
	for i := 0; i < 10; i++ {
		id, _ := p.Allocate(1)
		p.WritePage(id, []byte("x"))
		ids = append(ids, id)
	}

	// free half of them under txid 1 and commit
	p.FreePending(1, ids[:5])
	m := p.Meta()
	m.TxID = 1
	m.Root = ids[5]
	if err := p.CommitMeta(m); err != nil {
		t.Fatalf("commit: %v", err)
	}
	p.Close()

	p2 := newTestPager(t, fs)
	defer p2.Close()

	// after reopen no readers exist, so all persisted free pages are reusable
	if got := p2.Stats().FreePages; got < 5 {
		t.Errorf("expected at least 5 free pages after reopen, got %d", got)
	}
}

func TestOversizedPayloadRejected(t *testing.T) {
	p := newTestPager(t, afero.NewMemMapFs())
	defer p.Close()

	id, _ := p.Allocate(1)
	if err := p.WritePage(id, make([]byte, PayloadSize+1)); err == nil {
		t.Error("expected error for oversized payload")
	}
}
