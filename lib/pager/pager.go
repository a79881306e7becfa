package pager

import (
	"encoding/binary"
	"io"
	"os"
	"sort"
	"sync"

	"github.com/aspendb/aspen/lib/db/util"
	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// --------------------------------------------------------------------------
// Errors
// --------------------------------------------------------------------------

var (
	// ErrCorrupted indicates that the file structure is damaged beyond what a
	// meta rollback can repair
	ErrCorrupted = errors.New("pager: file corrupted")

	// ErrChecksum indicates a page whose content does not match its checksum
	ErrChecksum = errors.New("pager: page checksum mismatch")

	// ErrClosed is returned for operations on a closed pager
	ErrClosed = errors.New("pager: closed")
)

// PageID identifies one page in the backing file
type PageID uint64

// --------------------------------------------------------------------------
// Pager
// --------------------------------------------------------------------------

// Pager manages the pages of a single database file: reading and writing
// with checksum verification, allocation, deferred freeing and the two
// alternating meta pages.
//
// Thread-safety: ReadPage may be called concurrently (the file handle is
// accessed via ReadAt). All mutating methods are serialized by the single
// writer in lib/db and are not safe for concurrent use.
type Pager struct {
	fs   afero.Fs
	file afero.File
	path string

	meta      Meta   // last committed meta, swapped under mu
	pageCount uint64 // includes not-yet-committed growth

	// immutable after Open, readable without the lock
	seed       uint64
	instanceID [16]byte

	// freelist state, guarded by mu so readers of Stats don't race the writer
	mu           sync.Mutex
	free         []PageID          // released, reusable pages (sorted)
	pending      map[uint64][]PageID // txid -> pages freed by that commit
	pendingQ     *util.KeyedHeap     // schedules pending batches by txid
	lastFreelist []PageID            // pages occupied by the persisted freelist chain
}

// Options configures Open
type Options struct {
	// Fs is the backing filesystem (default afero.NewOsFs())
	Fs afero.Fs

	// ReadOnly opens the file without create/write access
	ReadOnly bool
}

// Open opens or creates the database file at path.
func Open(path string, opts *Options) (*Pager, error) {
	if opts == nil {
		opts = &Options{}
	}
	fs := opts.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}

	flag := os.O_RDWR | os.O_CREATE
	if opts.ReadOnly {
		flag = os.O_RDONLY
	}

	file, err := fs.OpenFile(path, flag, 0o600)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}

	p := &Pager{
		fs:       fs,
		file:     file,
		path:     path,
		pending:  make(map[uint64][]PageID),
		pendingQ: util.NewKeyedHeap(),
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, errors.Wrap(err, "stat database file")
	}

	if info.Size() == 0 {
		if err := p.init(); err != nil {
			file.Close()
			return nil, err
		}
		return p, nil
	}

	if err := p.load(info.Size()); err != nil {
		file.Close()
		return nil, err
	}
	return p, nil
}

// init writes a fresh file: two identical metas describing an empty database
func (p *Pager) init() error {
	id := uuid.New()

	m := Meta{
		Version:   formatVersion,
		PageSize:  PageSize,
		TxID:      0,
		Root:      0,
		Freelist:  0,
		PageCount: metaPageCount,
		Seed:      util.GenerateSeed(),
	}
	copy(m.InstanceID[:], id[:])

	buf := m.encode()
	for i := 0; i < metaPageCount; i++ {
		if _, err := p.file.WriteAt(buf, int64(i)*PageSize); err != nil {
			return errors.Wrap(err, "write initial meta")
		}
	}
	if err := p.file.Sync(); err != nil {
		return errors.Wrap(err, "sync initial meta")
	}

	p.meta = m
	p.pageCount = metaPageCount
	p.seed = m.Seed
	p.instanceID = m.InstanceID
	return nil
}

// load reads both metas, picks the newest valid one and restores the freelist
func (p *Pager) load(size int64) error {
	var metas []Meta
	for i := 0; i < metaPageCount; i++ {
		buf := make([]byte, PageSize)
		if _, err := p.file.ReadAt(buf, int64(i)*PageSize); err != nil {
			continue
		}
		m, err := decodeMeta(buf)
		if err != nil {
			continue
		}
		metas = append(metas, m)
	}

	if len(metas) == 0 {
		return errors.Wrap(ErrCorrupted, "no valid meta page")
	}

	best := metas[0]
	for _, m := range metas[1:] {
		if m.TxID > best.TxID {
			best = m
		}
	}

	p.meta = best
	p.pageCount = best.PageCount
	p.seed = best.Seed
	p.instanceID = best.InstanceID

	if best.Freelist != 0 {
		free, err := p.readFreelist(best.Freelist)
		if err != nil {
			return err
		}
		p.free = free
	}

	// pages past the committed count belong to a rolled-back transaction;
	// make them reusable instead of leaking them
	filePages := uint64(size) / PageSize
	for id := best.PageCount; id < filePages; id++ {
		p.free = append(p.free, PageID(id))
	}
	sortPageIDs(p.free)

	return nil
}

// --------------------------------------------------------------------------
// Page I/O
// --------------------------------------------------------------------------

// ReadPage reads a data page and verifies its checksum.
// The returned slice has PayloadSize bytes and is owned by the caller.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (p *Pager) ReadPage(id PageID) ([]byte, error) {
	if p.file == nil {
		return nil, ErrClosed
	}
	if uint64(id) < metaPageCount {
		return nil, errors.Wrapf(ErrCorrupted, "read of meta page %d as data page", id)
	}

	buf := make([]byte, PageSize)
	if _, err := p.file.ReadAt(buf, int64(id)*PageSize); err != nil {
		return nil, errors.Wrapf(err, "read page %d", id)
	}

	sum := binary.LittleEndian.Uint64(buf[0:pageHeaderSize])
	if p.checksum(buf[pageHeaderSize:]) != sum {
		return nil, errors.Wrapf(ErrChecksum, "page %d", id)
	}

	return buf[pageHeaderSize:], nil
}

// WritePage writes a data page payload (at most PayloadSize bytes) with its
// checksum. Writing a page that a committed meta references is forbidden by
// the copy-on-write contract; the pager does not re-check this.
func (p *Pager) WritePage(id PageID, payload []byte) error {
	if p.file == nil {
		return ErrClosed
	}
	if len(payload) > PayloadSize {
		return errors.Errorf("pager: payload of %d bytes exceeds page capacity %d", len(payload), PayloadSize)
	}
	if uint64(id) < metaPageCount {
		return errors.Wrapf(ErrCorrupted, "write of meta page %d as data page", id)
	}

	buf := make([]byte, PageSize)
	copy(buf[pageHeaderSize:], payload)
	binary.LittleEndian.PutUint64(buf[0:pageHeaderSize], p.checksum(buf[pageHeaderSize:]))

	if _, err := p.file.WriteAt(buf, int64(id)*PageSize); err != nil {
		return errors.Wrapf(err, "write page %d", id)
	}
	return nil
}

// checksum hashes a page payload with the per-file seed. The seed is
// immutable, so concurrent readers need no lock here.
func (p *Pager) checksum(payload []byte) uint64 {
	var seed [8]byte
	binary.LittleEndian.PutUint64(seed[:], p.seed)

	h := xxhash.New()
	_, _ = h.Write(seed[:])
	_, _ = h.Write(payload)
	return h.Sum64()
}

// --------------------------------------------------------------------------
// Allocation
// --------------------------------------------------------------------------

// Allocate returns the first id of a run of n contiguous pages, reusing
// released pages where possible and growing the file otherwise.
func (p *Pager) Allocate(n int) (PageID, error) {
	if p.file == nil {
		return 0, ErrClosed
	}
	if n < 1 {
		return 0, errors.Errorf("pager: invalid allocation size %d", n)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	return p.allocateLocked(n)
}

// FreePending queues pages freed by the commit with the given txid. They
// become reusable only after Release confirms no reader needs them.
func (p *Pager) FreePending(txid uint64, ids []PageID) {
	if len(ids) == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.pending[txid] = append(p.pending[txid], ids...)
	p.pendingQ.AddItem(txid, txid)
}

// WithdrawPending drops the batch queued under txid without freeing it. A
// commit that queued its batch but then failed to write the new meta calls
// this: the batch's pages still belong to the live version, and a later
// commit reusing the same txid must not inherit them. The withdrawn pages are
// never handed to the allocator; pages only the failed commit referenced stay
// unused until a compaction.
func (p *Pager) WithdrawPending(txid uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.pending, txid)
	p.pendingQ.RemoveByKey(txid)
}

// Release moves every pending batch freed at or before minTxID into the
// reusable list. The engine calls this with the smallest transaction id any
// active reader is pinned to (or the current txid when no readers exist).
func (p *Pager) Release(minTxID uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for {
		it, ok := p.pendingQ.Peek()
		if !ok || it.Priority > minTxID {
			break
		}
		p.pendingQ.RemoveByKey(it.Key)
		p.free = append(p.free, p.pending[it.Key]...)
		delete(p.pending, it.Key)
	}
	sortPageIDs(p.free)
}

// Reclaim returns rolled-back pages directly to the reusable list. Only valid
// for pages no committed meta has ever referenced.
func (p *Pager) Reclaim(ids []PageID) {
	if len(ids) == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.free = append(p.free, ids...)
	sortPageIDs(p.free)
}

// --------------------------------------------------------------------------
// Commit
// --------------------------------------------------------------------------

// CommitMeta persists the freelist, syncs all data writes and then writes the
// new meta. After CommitMeta returns, m is the durable current version.
func (p *Pager) CommitMeta(m Meta) error {
	if p.file == nil {
		return ErrClosed
	}

	head, err := p.writeFreelist(m.TxID)
	if err != nil {
		return err
	}
	m.Freelist = head
	m.PageCount = p.pageCount
	m.Version = formatVersion
	m.PageSize = PageSize
	m.Seed = p.seed
	m.InstanceID = p.instanceID

	// data pages and freelist first, meta only after they are durable
	if err := p.file.Sync(); err != nil {
		return errors.Wrap(err, "sync before meta")
	}

	slot := int64(m.TxID % metaPageCount)
	if _, err := p.file.WriteAt(m.encode(), slot*PageSize); err != nil {
		return errors.Wrap(err, "write meta")
	}
	if err := p.file.Sync(); err != nil {
		return errors.Wrap(err, "sync meta")
	}

	p.mu.Lock()
	p.meta = m
	p.mu.Unlock()
	return nil
}

// Meta returns the last committed meta
func (p *Pager) Meta() Meta {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.meta
}

// Sync flushes the backing file
func (p *Pager) Sync() error {
	if p.file == nil {
		return ErrClosed
	}
	return p.file.Sync()
}

// Close flushes and closes the backing file
func (p *Pager) Close() error {
	if p.file == nil {
		return nil
	}
	err := p.file.Sync()
	if cerr := p.file.Close(); err == nil {
		err = cerr
	}
	p.file = nil
	return err
}

// --------------------------------------------------------------------------
// Stats
// --------------------------------------------------------------------------

// Stats describes the page population of the file
type Stats struct {
	PageCount    uint64 `json:"page_count"`
	FreePages    int    `json:"free_pages"`
	PendingPages int    `json:"pending_pages"`
	SizeBytes    uint64 `json:"size_bytes"`
}

// Stats returns a snapshot of the page population.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (p *Pager) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	pending := 0
	for _, ids := range p.pending {
		pending += len(ids)
	}
	return Stats{
		PageCount:    p.pageCount,
		FreePages:    len(p.free),
		PendingPages: pending,
		SizeBytes:    p.pageCount * PageSize,
	}
}

// WriteTo streams the raw file (current committed length) to w. The caller
// must hold the writer lock so no commit changes the metas mid-stream.
func (p *Pager) WriteTo(w io.Writer) (int64, error) {
	if p.file == nil {
		return 0, ErrClosed
	}

	size := int64(p.Meta().PageCount) * PageSize
	return io.Copy(w, io.NewSectionReader(readerAtOf(p.file), 0, size))
}

// readerAtOf adapts an afero.File to io.ReaderAt
func readerAtOf(f afero.File) io.ReaderAt { return f }

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

func sortPageIDs(ids []PageID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}

// findRun returns the start index of n contiguous ids in the sorted slice,
// or -1 if no such run exists
func findRun(ids []PageID, n int) int {
	if len(ids) < n {
		return -1
	}
	runStart := 0
	for i := 1; i <= len(ids); i++ {
		if i == len(ids) || ids[i] != ids[i-1]+1 {
			if i-runStart >= n {
				return runStart
			}
			runStart = i
		}
	}
	return -1
}
