package object

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/aspendb/aspen/lib/db"
	"github.com/aspendb/aspen/lib/watch"
)

// ErrStop aborts an iteration early without reporting an error to the
// caller
var ErrStop = errors.New("object: stop iteration")

// bucket naming: one data bucket per collection, one bucket per index
// ordinal, one meta bucket for the stored schema state
const (
	metaBucket   = "m:schema"
	metaStateKey = "state"
)

func dataBucket(collection string) string {
	return "c:" + collection
}

func indexBucket(ordinal uint64) string {
	return fmt.Sprintf("x:%d", ordinal)
}

// --------------------------------------------------------------------------
// Store
// --------------------------------------------------------------------------

// Store is the object layer over one engine: typed collections, secondary
// indexes and schema migrations on top of raw buckets.
//
// Thread-safety: all exported methods are safe for concurrent use; the
// engine below provides the transaction isolation.
type Store struct {
	e      *db.Engine
	schema *Schema
}

// Engine returns the underlying storage engine
func (s *Store) Engine() *db.Engine {
	return s.e
}

// Schema returns the declared schema
func (s *Store) Schema() *Schema {
	return s.schema
}

// View runs fn in a read transaction
func (s *Store) View(fn func(*Txn) error) error {
	return s.e.View(func(tx *db.Tx) error {
		return fn(&Txn{s: s, tx: tx})
	})
}

// Update runs fn in the write transaction
func (s *Store) Update(fn func(*Txn) error) error {
	return s.e.Update(func(tx *db.Tx) error {
		return fn(&Txn{s: s, tx: tx})
	})
}

// Watch subscribes to changes of one collection's data bucket
func (s *Store) Watch(collection string) (*WatchHandle, error) {
	c, err := s.schema.get(collection)
	if err != nil {
		return nil, err
	}
	sub, err := s.e.Watch(dataBucket(c.Name))
	if err != nil {
		return nil, err
	}
	return &WatchHandle{s: s, c: c, sub: sub}, nil
}

// --------------------------------------------------------------------------
// Transaction
// --------------------------------------------------------------------------

// Txn is one object-level transaction
type Txn struct {
	s  *Store
	tx *db.Tx
}

// Tx exposes the raw engine transaction
func (t *Txn) Tx() *db.Tx {
	return t.tx
}

// Collection opens the handle for one declared collection
func (t *Txn) Collection(name string) (*CollectionTx, error) {
	c, err := t.s.schema.get(name)
	if err != nil {
		return nil, err
	}

	var data *db.Bucket
	if t.tx.Writable() {
		data, err = t.tx.CreateBucketIfNotExists(dataBucket(c.Name))
	} else {
		data, err = t.tx.Bucket(dataBucket(c.Name))
		if errors.Is(err, db.ErrBucketNotFound) {
			// collection never written: behave as empty
			return &CollectionTx{t: t, c: c}, nil
		}
	}
	if err != nil {
		return nil, err
	}
	return &CollectionTx{t: t, c: c, data: data}, nil
}

// --------------------------------------------------------------------------
// Collection handle
// --------------------------------------------------------------------------

// CollectionTx operates on one collection within a transaction
type CollectionTx struct {
	t    *Txn
	c    *Collection
	data *db.Bucket
}

// Schema returns the collection declaration
func (ct *CollectionTx) Schema() *Collection {
	return ct.c
}

// Insert stores a new record. An existing primary key fails with
// ErrConstraint.
func (ct *CollectionTx) Insert(rec Record) error {
	pk, err := ct.c.primaryKeyOf(rec)
	if err != nil {
		return err
	}
	ok, err := ct.data.Has(pk)
	if err != nil {
		return err
	}
	if ok {
		return errors.Wrapf(ErrConstraint, "collection %s", ct.c.Name)
	}
	return ct.put(pk, rec, nil)
}

// Upsert stores a record, replacing any existing version
func (ct *CollectionTx) Upsert(rec Record) error {
	pk, err := ct.c.primaryKeyOf(rec)
	if err != nil {
		return err
	}
	old, err := ct.data.Get(pk)
	if errors.Is(err, db.ErrNotFound) {
		old = nil
	} else if err != nil {
		return err
	}
	return ct.put(pk, rec, old)
}

// Get loads the record with the given primary key value
func (ct *CollectionTx) Get(pk interface{}) (Record, error) {
	key, err := ct.c.encodePrimaryKey(pk)
	if err != nil {
		return nil, err
	}
	if ct.data == nil {
		return nil, errors.Wrapf(db.ErrNotFound, "collection %s", ct.c.Name)
	}
	buf, err := ct.data.Get(key)
	if err != nil {
		return nil, err
	}
	return ct.c.decodeRecord(buf)
}

// Has reports whether a record with the primary key exists
func (ct *CollectionTx) Has(pk interface{}) (bool, error) {
	_, err := ct.Get(pk)
	if errors.Is(err, db.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Delete removes the record with the primary key. The bool reports whether
// anything was removed.
func (ct *CollectionTx) Delete(pk interface{}) (bool, error) {
	key, err := ct.c.encodePrimaryKey(pk)
	if err != nil {
		return false, err
	}
	if ct.data == nil {
		return false, nil
	}

	old, err := ct.data.Get(key)
	if errors.Is(err, db.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if err := ct.removeIndexRefs(old); err != nil {
		return false, err
	}
	return true, ct.data.Delete(key)
}

// Iterate calls fn for every record in primary key order. Return ErrStop
// to end the iteration early.
func (ct *CollectionTx) Iterate(fn func(Record) error) error {
	if ct.data == nil {
		return nil
	}

	it := ct.data.Cursor()
	for k, v, err := it.First(); k != nil; k, v, err = it.Next() {
		if err != nil {
			return err
		}
		rec, err := ct.c.decodeRecord(v)
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			if errors.Is(err, ErrStop) {
				return nil
			}
			return err
		}
	}
	return nil
}

// Count returns the number of records without decoding them
func (ct *CollectionTx) Count() (int, error) {
	if ct.data == nil {
		return 0, nil
	}

	count := 0
	it := ct.data.Cursor()
	for k, _, err := it.First(); k != nil; k, _, err = it.Next() {
		if err != nil {
			return 0, err
		}
		count++
	}
	return count, nil
}

// LookupIndex calls fn for every record whose indexed property equals
// value, in primary key order. The property must carry a secondary index.
func (ct *CollectionTx) LookupIndex(prop string, value interface{}, fn func(Record) error) error {
	p, err := ct.c.property(prop)
	if err != nil {
		return err
	}
	ord, ok := ct.c.ordinals[prop]
	if !ok {
		return errors.Wrapf(ErrNotIndexed, "%s.%s", ct.c.Name, prop)
	}
	if ct.data == nil {
		return nil
	}

	prefix, err := encodeIndexable(p.Kind, value)
	if err != nil {
		return err
	}

	idx, err := ct.t.tx.Bucket(indexBucket(ord))
	if errors.Is(err, db.ErrBucketNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	it := idx.Cursor()
	for k, _, err := it.Seek(prefix); k != nil; k, _, err = it.Next() {
		if err != nil {
			return err
		}
		if len(k) < len(prefix) || string(k[:len(prefix)]) != string(prefix) {
			break
		}

		// the index key is the encoded value followed by the primary key
		buf, err := ct.data.Get(k[len(prefix):])
		if err != nil {
			return err
		}
		rec, err := ct.c.decodeRecord(buf)
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			if errors.Is(err, ErrStop) {
				return nil
			}
			return err
		}
	}
	return nil
}

// put writes the record and reconciles its secondary index entries against
// the previous stored version
func (ct *CollectionTx) put(pk []byte, rec Record, old []byte) error {
	if old != nil {
		if err := ct.removeIndexRefs(old); err != nil {
			return err
		}
	}

	val, err := ct.c.encodeRecord(rec, ct.t.s.schema.Version)
	if err != nil {
		return err
	}
	if err := ct.data.Put(pk, val); err != nil {
		return err
	}

	refs, err := ct.c.indexRefs(rec)
	if err != nil {
		return err
	}
	for _, ref := range refs {
		idx, err := ct.t.tx.CreateBucketIfNotExists(indexBucket(ref.ordinal))
		if err != nil {
			return err
		}
		if err := idx.Put(ref.key, nil); err != nil {
			return err
		}
	}
	return nil
}

// removeIndexRefs deletes the index entries recorded in a stored value.
// Ordinals no longer in the schema are skipped: their buckets were dropped
// with the index.
func (ct *CollectionTx) removeIndexRefs(stored []byte) error {
	refs, err := storedIndexRefs(stored)
	if err != nil {
		return err
	}

	live := map[uint64]bool{}
	for _, ord := range ct.c.ordinals {
		live[ord] = true
	}

	for _, ref := range refs {
		if !live[ref.ordinal] {
			continue
		}
		idx, err := ct.t.tx.Bucket(indexBucket(ref.ordinal))
		if errors.Is(err, db.ErrBucketNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if err := idx.Delete(ref.key); err != nil {
			return err
		}
	}
	return nil
}

// --------------------------------------------------------------------------
// Watch handle
// --------------------------------------------------------------------------

// WatchHandle adapts an engine subscription to collection semantics
type WatchHandle struct {
	s   *Store
	c   *Collection
	sub *watch.Subscription
}

// Changes returns the change set delivery channel of the collection's
// data bucket. Keys inside the change sets are encoded primary keys.
func (w *WatchHandle) Changes() <-chan watch.ChangeSet {
	return w.sub.Changes()
}

// Close cancels the subscription
func (w *WatchHandle) Close() {
	w.s.e.Unwatch(w.sub)
}
