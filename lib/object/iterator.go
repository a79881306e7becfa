package object

import (
	"github.com/pkg/errors"

	"github.com/aspendb/aspen/lib/db"
)

// RecordIterator pulls records one at a time. Next returns (nil, nil) when
// the iteration is exhausted. The iterator is bound to its transaction and
// must not outlive it.
type RecordIterator struct {
	next func() (Record, error)
}

// Next returns the following record, or (nil, nil) at the end
func (ri *RecordIterator) Next() (Record, error) {
	return ri.next()
}

// HasIndex reports whether the property carries a secondary index
func (ct *CollectionTx) HasIndex(prop string) bool {
	_, ok := ct.c.ordinals[prop]
	return ok
}

// Records returns a lazy iterator over all records in primary key order
func (ct *CollectionTx) Records() *RecordIterator {
	if ct.data == nil {
		return &RecordIterator{next: func() (Record, error) { return nil, nil }}
	}

	it := ct.data.Cursor()
	started := false
	return &RecordIterator{next: func() (Record, error) {
		var (
			k, v []byte
			err  error
		)
		if !started {
			started = true
			k, v, err = it.First()
		} else {
			k, v, err = it.Next()
		}
		if err != nil || k == nil {
			return nil, err
		}
		return ct.c.decodeRecord(v)
	}}
}

// IndexRecords returns a lazy iterator over the records whose indexed
// property equals value, in primary key order
func (ct *CollectionTx) IndexRecords(prop string, value interface{}) (*RecordIterator, error) {
	p, err := ct.c.property(prop)
	if err != nil {
		return nil, err
	}
	ord, ok := ct.c.ordinals[prop]
	if !ok {
		return nil, errors.Wrapf(ErrNotIndexed, "%s.%s", ct.c.Name, prop)
	}

	empty := &RecordIterator{next: func() (Record, error) { return nil, nil }}
	if ct.data == nil {
		return empty, nil
	}

	prefix, err := encodeIndexable(p.Kind, value)
	if err != nil {
		return nil, err
	}

	idx, err := ct.t.tx.Bucket(indexBucket(ord))
	if errors.Is(err, db.ErrBucketNotFound) {
		return empty, nil
	}
	if err != nil {
		return nil, err
	}

	it := idx.Cursor()
	started := false
	return &RecordIterator{next: func() (Record, error) {
		var (
			k   []byte
			err error
		)
		if !started {
			started = true
			k, _, err = it.Seek(prefix)
		} else {
			k, _, err = it.Next()
		}
		if err != nil || k == nil {
			return nil, err
		}
		if len(k) < len(prefix) || string(k[:len(prefix)]) != string(prefix) {
			return nil, nil
		}

		buf, err := ct.data.Get(k[len(prefix):])
		if err != nil {
			return nil, err
		}
		return ct.c.decodeRecord(buf)
	}}, nil
}
