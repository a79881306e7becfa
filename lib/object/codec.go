package object

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/jgraettinger/cockroach-encoding/encoding"
	"github.com/pkg/errors"
)

// Record is one object as a property map. Values are string, int64,
// float64, bool, []byte or time.Time per the declared property kinds.
type Record map[string]interface{}

// --------------------------------------------------------------------------
// Value layout
// --------------------------------------------------------------------------

// A stored record value is
//
//	[flags uvarint][schemaVersion uvarint][dataSize uvarint][indexSize uvarint]
//	[data: per declared property, presence byte + encoded value]
//	[index refs: per index entry, ordinal uvarint + keyLen uvarint + key]
//
// The index ref section holds the exact secondary index keys written for
// this record, so an update or delete removes stale index entries without
// recomputing them from an old schema.

// encodeRecord serializes rec for the collection, including the index keys
// derived from it
func (c *Collection) encodeRecord(rec Record, schemaVersion int64) ([]byte, error) {
	var data []byte
	for _, p := range c.Properties {
		v, ok := rec[p.Name]
		if !ok || v == nil {
			data = append(data, 0)
			continue
		}
		data = append(data, 1)

		var err error
		data, err = appendValue(data, p.Kind, v)
		if err != nil {
			return nil, errors.Wrapf(err, "property %s.%s", c.Name, p.Name)
		}
	}

	idx, err := c.indexRefs(rec)
	if err != nil {
		return nil, err
	}
	var idxBytes []byte
	for _, ref := range idx {
		idxBytes = binary.AppendUvarint(idxBytes, ref.ordinal)
		idxBytes = binary.AppendUvarint(idxBytes, uint64(len(ref.key)))
		idxBytes = append(idxBytes, ref.key...)
	}

	out := binary.AppendUvarint(nil, 0) // flags, reserved
	out = binary.AppendUvarint(out, uint64(schemaVersion))
	out = binary.AppendUvarint(out, uint64(len(data)))
	out = binary.AppendUvarint(out, uint64(len(idxBytes)))
	out = append(out, data...)
	out = append(out, idxBytes...)
	return out, nil
}

// decodeRecord parses a stored value back into a Record. Properties the
// stored data does not cover (added after the record was written) are left
// absent.
func (c *Collection) decodeRecord(buf []byte) (Record, error) {
	data, _, err := splitValue(buf)
	if err != nil {
		return nil, err
	}

	rec := Record{}
	off := 0
	for _, p := range c.Properties {
		if off >= len(data) {
			break
		}
		present := data[off]
		off++
		if present == 0 {
			continue
		}

		v, n, err := readValue(data[off:], p.Kind)
		if err != nil {
			return nil, errors.Wrapf(err, "property %s.%s", c.Name, p.Name)
		}
		rec[p.Name] = v
		off += n
	}
	return rec, nil
}

// indexRef is one secondary index key a record owns
type indexRef struct {
	ordinal uint64
	key     []byte
}

// indexRefs computes the index keys for rec under the collection's current
// index set
func (c *Collection) indexRefs(rec Record) ([]indexRef, error) {
	if len(c.ordinals) == 0 {
		return nil, nil
	}

	pkKey, err := c.primaryKeyOf(rec)
	if err != nil {
		return nil, err
	}

	var refs []indexRef
	for _, prop := range c.indexed {
		ord, ok := c.ordinals[prop]
		if !ok {
			continue
		}
		v, present := rec[prop]
		if !present || v == nil {
			continue
		}

		key, err := encodeIndexable(c.props[prop].Kind, v)
		if err != nil {
			return nil, errors.Wrapf(err, "index %s.%s", c.Name, prop)
		}
		refs = append(refs, indexRef{ordinal: ord, key: append(key, pkKey...)})
	}
	return refs, nil
}

// storedIndexRefs extracts the index ref section of a stored value
func storedIndexRefs(buf []byte) ([]indexRef, error) {
	_, idx, err := splitValue(buf)
	if err != nil {
		return nil, err
	}

	var refs []indexRef
	off := 0
	for off < len(idx) {
		ord, n := binary.Uvarint(idx[off:])
		if n <= 0 {
			return nil, errors.New("object: corrupt index ref section")
		}
		off += n

		klen, n := binary.Uvarint(idx[off:])
		if n <= 0 || off+n+int(klen) > len(idx) {
			return nil, errors.New("object: corrupt index ref section")
		}
		off += n

		refs = append(refs, indexRef{ordinal: ord, key: idx[off : off+int(klen)]})
		off += int(klen)
	}
	return refs, nil
}

// splitValue validates the header and returns the data and index sections
func splitValue(buf []byte) (data, idx []byte, err error) {
	off := 0
	read := func() uint64 {
		v, n := binary.Uvarint(buf[off:])
		if n <= 0 {
			err = errors.New("object: corrupt value header")
			return 0
		}
		off += n
		return v
	}

	_ = read() // flags
	_ = read() // schema version
	dataSize := read()
	idxSize := read()
	if err != nil {
		return nil, nil, err
	}
	if off+int(dataSize)+int(idxSize) > len(buf) {
		return nil, nil, errors.New("object: value truncated")
	}

	data = buf[off : off+int(dataSize)]
	idx = buf[off+int(dataSize) : off+int(dataSize)+int(idxSize)]
	return data, idx, nil
}

// primaryKeyOf encodes the record's primary key
func (c *Collection) primaryKeyOf(rec Record) ([]byte, error) {
	v, ok := rec[c.PrimaryKey]
	if !ok || v == nil {
		return nil, errors.Errorf("object: collection %s: record has no primary key %q", c.Name, c.PrimaryKey)
	}
	return c.encodePrimaryKey(v)
}

// encodePrimaryKey encodes a primary key value into its stored form
func (c *Collection) encodePrimaryKey(v interface{}) ([]byte, error) {
	key, err := encodeIndexable(c.props[c.PrimaryKey].Kind, v)
	return key, errors.Wrapf(err, "primary key %s.%s", c.Name, c.PrimaryKey)
}

// --------------------------------------------------------------------------
// Property value encoding
// --------------------------------------------------------------------------

func appendValue(b []byte, kind Kind, v interface{}) ([]byte, error) {
	switch kind {
	case KindString:
		s, ok := v.(string)
		if !ok {
			return nil, typeErr(kind, v)
		}
		b = binary.AppendUvarint(b, uint64(len(s)))
		return append(b, s...), nil

	case KindBytes:
		raw, ok := v.([]byte)
		if !ok {
			return nil, typeErr(kind, v)
		}
		b = binary.AppendUvarint(b, uint64(len(raw)))
		return append(b, raw...), nil

	case KindInt:
		i, ok := asInt64(v)
		if !ok {
			return nil, typeErr(kind, v)
		}
		return binary.AppendVarint(b, i), nil

	case KindFloat:
		f, ok := v.(float64)
		if !ok {
			return nil, typeErr(kind, v)
		}
		return binary.LittleEndian.AppendUint64(b, math.Float64bits(f)), nil

	case KindBool:
		x, ok := v.(bool)
		if !ok {
			return nil, typeErr(kind, v)
		}
		if x {
			return append(b, 1), nil
		}
		return append(b, 0), nil

	case KindTime:
		ts, ok := v.(time.Time)
		if !ok {
			return nil, typeErr(kind, v)
		}
		return binary.AppendVarint(b, ts.UnixNano()), nil

	default:
		return nil, errors.Errorf("object: unknown kind %d", kind)
	}
}

func readValue(b []byte, kind Kind) (interface{}, int, error) {
	switch kind {
	case KindString:
		l, n := binary.Uvarint(b)
		if n <= 0 || n+int(l) > len(b) {
			return nil, 0, errors.New("object: truncated string value")
		}
		return string(b[n : n+int(l)]), n + int(l), nil

	case KindBytes:
		l, n := binary.Uvarint(b)
		if n <= 0 || n+int(l) > len(b) {
			return nil, 0, errors.New("object: truncated bytes value")
		}
		return append([]byte(nil), b[n:n+int(l)]...), n + int(l), nil

	case KindInt:
		i, n := binary.Varint(b)
		if n <= 0 {
			return nil, 0, errors.New("object: truncated int value")
		}
		return i, n, nil

	case KindFloat:
		if len(b) < 8 {
			return nil, 0, errors.New("object: truncated float value")
		}
		return math.Float64frombits(binary.LittleEndian.Uint64(b)), 8, nil

	case KindBool:
		if len(b) < 1 {
			return nil, 0, errors.New("object: truncated bool value")
		}
		return b[0] != 0, 1, nil

	case KindTime:
		ns, n := binary.Varint(b)
		if n <= 0 {
			return nil, 0, errors.New("object: truncated time value")
		}
		return time.Unix(0, ns).UTC(), n, nil

	default:
		return nil, 0, errors.Errorf("object: unknown kind %d", kind)
	}
}

// encodeIndexable produces the order-preserving key form of an indexable
// value
func encodeIndexable(kind Kind, v interface{}) ([]byte, error) {
	switch kind {
	case KindString:
		s, ok := v.(string)
		if !ok {
			return nil, typeErr(kind, v)
		}
		return encoding.EncodeStringAscending(nil, s), nil

	case KindBytes:
		raw, ok := v.([]byte)
		if !ok {
			return nil, typeErr(kind, v)
		}
		return encoding.EncodeBytesAscending(nil, raw), nil

	case KindInt:
		i, ok := asInt64(v)
		if !ok {
			return nil, typeErr(kind, v)
		}
		return encoding.EncodeVarintAscending(nil, i), nil

	case KindBool:
		x, ok := v.(bool)
		if !ok {
			return nil, typeErr(kind, v)
		}
		var i int64
		if x {
			i = 1
		}
		return encoding.EncodeVarintAscending(nil, i), nil

	case KindTime:
		ts, ok := v.(time.Time)
		if !ok {
			return nil, typeErr(kind, v)
		}
		return encoding.EncodeVarintAscending(nil, ts.UnixNano()), nil

	default:
		return nil, errors.Errorf("object: %s values have no key encoding", kind)
	}
}

func asInt64(v interface{}) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int:
		return int64(x), true
	case int32:
		return int64(x), true
	case uint32:
		return int64(x), true
	case float64:
		// JSON decodes every number as float64
		if x == math.Trunc(x) {
			return int64(x), true
		}
	}
	return 0, false
}

func typeErr(kind Kind, v interface{}) error {
	return errors.Wrapf(ErrTypeMismatch, "want %s, got %T", kind, v)
}
