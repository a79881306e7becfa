package db

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/aspendb/aspen/lib/btree"
	"github.com/aspendb/aspen/lib/pager"
)

// --------------------------------------------------------------------------
// Transaction
// --------------------------------------------------------------------------

// Tx is one transaction against a fixed snapshot. Read transactions pin the
// snapshot current at Begin; the write transaction builds the next version
// on top of it.
//
// Thread-safety: a Tx belongs to one goroutine and is NOT safe for
// concurrent use.
type Tx struct {
	e        *Engine
	meta     pager.Meta
	writable bool
	done     bool

	readerID uint64 // read tx: registry key
	token    string // write tx: writer lock owner

	catalogR *btree.Tree      // read tx: committed catalog view
	catalogW *btree.WriteTree // write tx: catalog under construction

	buckets map[string]*Bucket
	freed   []pager.PageID // dropped bucket trees, freed on commit
}

// TxID returns the snapshot's transaction id
func (tx *Tx) TxID() uint64 {
	return tx.meta.TxID
}

// Writable reports whether the transaction accepts writes
func (tx *Tx) Writable() bool {
	return tx.writable
}

// Bucket opens an existing named bucket
func (tx *Tx) Bucket(name string) (*Bucket, error) {
	if tx.done {
		return nil, ErrTxClosed
	}
	if b, ok := tx.buckets[name]; ok {
		return b, nil
	}

	rootBytes, err := tx.catalogGet(name)
	if err != nil {
		return nil, err
	}
	if rootBytes == nil {
		return nil, errors.Wrap(ErrBucketNotFound, name)
	}
	return tx.openBucket(name, decodeRoot(rootBytes))
}

// CreateBucketIfNotExists opens the named bucket, creating it when missing
func (tx *Tx) CreateBucketIfNotExists(name string) (*Bucket, error) {
	if tx.done {
		return nil, ErrTxClosed
	}
	if !tx.writable {
		return nil, ErrReadOnlyTx
	}
	if name == "" {
		return nil, errors.New("db: empty bucket name")
	}
	if b, ok := tx.buckets[name]; ok {
		return b, nil
	}

	rootBytes, err := tx.catalogGet(name)
	if err != nil {
		return nil, err
	}
	if rootBytes == nil {
		return tx.openBucket(name, 0)
	}
	return tx.openBucket(name, decodeRoot(rootBytes))
}

// DeleteBucket drops the named bucket and all its entries
func (tx *Tx) DeleteBucket(name string) error {
	if tx.done {
		return ErrTxClosed
	}
	if !tx.writable {
		return ErrReadOnlyTx
	}

	rootBytes, err := tx.catalogGet(name)
	if err != nil {
		return err
	}
	if rootBytes == nil {
		return errors.Wrap(ErrBucketNotFound, name)
	}

	// every page of the dropped tree goes to the deferred free set
	ids, err := btree.Pages(tx.e.pg, decodeRoot(rootBytes))
	if err != nil {
		return err
	}
	tx.freed = append(tx.freed, ids...)

	if _, err := tx.catalogW.Delete([]byte(name)); err != nil {
		return err
	}

	// Pages the open write view allocated in this transaction (overflow
	// runs) are unreferenced once the view is dropped. Hand them straight
	// back, the view never reaches Commit and rollback no longer sees it.
	if b, ok := tx.buckets[name]; ok && b.wt != nil {
		tx.e.pg.Reclaim(b.wt.Allocated())
		b.wt = nil
	}
	delete(tx.buckets, name)
	return nil
}

// Buckets returns all bucket names in lexical order
func (tx *Tx) Buckets() ([]string, error) {
	if tx.done {
		return nil, ErrTxClosed
	}

	var names []string
	it := tx.catalogIterator()
	for k, _, err := it.First(); k != nil; k, _, err = it.Next() {
		if err != nil {
			return nil, err
		}
		names = append(names, string(k))
	}
	return names, nil
}

// Commit makes the transaction's changes durable and publishes the new
// version. Committing a read transaction just drops its snapshot pin.
func (tx *Tx) Commit() error {
	if tx.done {
		return ErrTxClosed
	}
	if !tx.writable {
		return tx.Rollback()
	}
	tx.done = true
	defer func() { _ = tx.e.locks.ReleaseWrite(tx.token) }()

	newMeta := tx.meta
	newMeta.TxID = tx.meta.TxID + 1

	freed := tx.freed
	rollback := func() {
		tx.reclaimAllocated()
		metricRollbacks.Inc()
	}

	// spill modified buckets, then point the catalog at their new roots
	for name, b := range tx.buckets {
		if b.wt == nil {
			continue
		}
		root, f, err := b.wt.Commit()
		if err != nil {
			rollback()
			return errors.Wrapf(err, "commit bucket %s", name)
		}
		freed = append(freed, f...)
		if err := tx.catalogW.Put([]byte(name), encodeRoot(root)); err != nil {
			rollback()
			return errors.Wrapf(err, "update catalog for bucket %s", name)
		}
	}

	root, f, err := tx.catalogW.Commit()
	if err != nil {
		rollback()
		return errors.Wrap(err, "commit catalog")
	}
	freed = append(freed, f...)
	newMeta.Root = root

	// The batch must be queued before CommitMeta so the persisted freelist
	// covers it. If the meta write fails the batch is withdrawn again: the
	// pages it lists are still referenced by the surviving version, and the
	// next commit will reuse this txid.
	tx.e.pg.FreePending(newMeta.TxID, freed)

	if err := tx.e.pg.CommitMeta(newMeta); err != nil {
		tx.e.pg.WithdrawPending(newMeta.TxID)
		rollback()
		return errors.Wrap(err, "commit meta")
	}
	metricPagesFreed.Add(len(freed))

	tx.e.publish(tx.meta, newMeta)
	tx.e.releasePages()
	return nil
}

// Rollback discards the transaction. For read transactions this drops the
// snapshot pin; calling it after Commit is a no-op.
func (tx *Tx) Rollback() error {
	if tx.done {
		return nil
	}
	tx.done = true

	if !tx.writable {
		tx.e.readers.Delete(tx.readerID)
		tx.e.releasePages()
		return nil
	}

	tx.reclaimAllocated()
	metricRollbacks.Inc()
	return tx.e.locks.ReleaseWrite(tx.token)
}

// reclaimAllocated hands every page the write transaction allocated back to
// the pager. No committed meta references them, so immediate reuse is safe.
func (tx *Tx) reclaimAllocated() {
	var ids []pager.PageID
	for _, b := range tx.buckets {
		if b.wt != nil {
			ids = append(ids, b.wt.Allocated()...)
		}
	}
	ids = append(ids, tx.catalogW.Allocated()...)
	tx.e.pg.Reclaim(ids)
}

func (tx *Tx) openBucket(name string, root pager.PageID) (*Bucket, error) {
	b := &Bucket{tx: tx, name: name}
	if tx.writable {
		wt, err := btree.Write(tx.e.pg, root)
		if err != nil {
			return nil, err
		}
		b.wt = wt
	} else {
		b.view = btree.View(tx.e.pg, root)
	}

	if tx.buckets == nil {
		tx.buckets = map[string]*Bucket{}
	}
	tx.buckets[name] = b
	return b, nil
}

func (tx *Tx) catalogGet(name string) ([]byte, error) {
	if tx.writable {
		return tx.catalogW.Get([]byte(name))
	}
	return tx.catalogR.Get([]byte(name))
}

func (tx *Tx) catalogIterator() Iterator {
	if tx.writable {
		return tx.catalogW.Cursor()
	}
	return tx.catalogR.Cursor()
}

// --------------------------------------------------------------------------
// Bucket
// --------------------------------------------------------------------------

// Bucket is one named key space inside a transaction
type Bucket struct {
	tx   *Tx
	name string

	view *btree.Tree      // read tx
	wt   *btree.WriteTree // write tx
}

// Name returns the bucket name
func (b *Bucket) Name() string {
	return b.name
}

// Get returns the value stored under key or ErrNotFound
func (b *Bucket) Get(key []byte) ([]byte, error) {
	if b.tx.done {
		return nil, ErrTxClosed
	}

	var (
		v   []byte
		err error
	)
	if b.wt != nil {
		v, err = b.wt.Get(key)
	} else {
		v, err = b.view.Get(key)
	}
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, errors.Wrap(ErrNotFound, string(key))
	}
	return v, nil
}

// Has reports whether key exists
func (b *Bucket) Has(key []byte) (bool, error) {
	_, err := b.Get(key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Put inserts or replaces key with value
func (b *Bucket) Put(key, value []byte) error {
	if b.tx.done {
		return ErrTxClosed
	}
	if b.wt == nil {
		return ErrReadOnlyTx
	}
	return b.wt.Put(key, value)
}

// Delete removes key. Deleting an absent key is not an error.
func (b *Bucket) Delete(key []byte) error {
	if b.tx.done {
		return ErrTxClosed
	}
	if b.wt == nil {
		return ErrReadOnlyTx
	}
	_, err := b.wt.Delete(key)
	return err
}

// Cursor returns an iterator over the bucket in key order
func (b *Bucket) Cursor() Iterator {
	if b.wt != nil {
		return b.wt.Cursor()
	}
	return b.view.Cursor()
}

// --------------------------------------------------------------------------
// Catalog encoding
// --------------------------------------------------------------------------

// catalog values are the 8-byte little-endian root page id of the bucket
// tree (0 = empty bucket)

func encodeRoot(root pager.PageID) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(root))
	return buf
}

func decodeRoot(buf []byte) pager.PageID {
	if len(buf) < 8 {
		return 0
	}
	return pager.PageID(binary.LittleEndian.Uint64(buf))
}
