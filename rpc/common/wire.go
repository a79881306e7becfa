package common

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/aspendb/aspen/lib/object"
	"github.com/aspendb/aspen/lib/watch"
)

// Records travel gob-encoded: unlike JSON, gob keeps int64, []byte and
// time.Time values intact across the wire. The property values sit behind
// interface{}, so every concrete kind must be registered.
func init() {
	gob.Register("")
	gob.Register(int64(0))
	gob.Register(float64(0))
	gob.Register(false)
	gob.Register([]byte(nil))
	gob.Register(time.Time{})
}

// --------------------------------------------------------------------------
// Record Encoding
// --------------------------------------------------------------------------

// EncodeRecord encodes one record for transport
func EncodeRecord(rec object.Record) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(rec); err != nil {
		return nil, errors.Wrap(err, "encode record")
	}
	return buf.Bytes(), nil
}

// DecodeRecord decodes one transported record
func DecodeRecord(b []byte) (object.Record, error) {
	var rec object.Record
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&rec); err != nil {
		return nil, errors.Wrap(err, "decode record")
	}
	return rec, nil
}

// EncodeRecords encodes a query result list for transport
func EncodeRecords(recs []object.Record) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(recs); err != nil {
		return nil, errors.Wrap(err, "encode records")
	}
	return buf.Bytes(), nil
}

// DecodeRecords decodes a transported query result list
func DecodeRecords(b []byte) ([]object.Record, error) {
	var recs []object.Record
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&recs); err != nil {
		return nil, errors.Wrap(err, "decode records")
	}
	return recs, nil
}

// --------------------------------------------------------------------------
// Change Set Encoding
// --------------------------------------------------------------------------

// EncodeChangeSets encodes polled change sets for transport
func EncodeChangeSets(sets []watch.ChangeSet) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(sets); err != nil {
		return nil, errors.Wrap(err, "encode change sets")
	}
	return buf.Bytes(), nil
}

// DecodeChangeSets decodes transported change sets
func DecodeChangeSets(b []byte) ([]watch.ChangeSet, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var sets []watch.ChangeSet
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&sets); err != nil {
		return nil, errors.Wrap(err, "decode change sets")
	}
	return sets, nil
}

// --------------------------------------------------------------------------
// Primary Key Encoding
// --------------------------------------------------------------------------

// EncodePrimaryKey encodes a primary key value as JSON. The server coerces
// the decoded value against the collection's declared key kind.
func EncodePrimaryKey(pk interface{}) ([]byte, error) {
	b, err := json.Marshal(pk)
	return b, errors.Wrap(err, "encode primary key")
}

// DecodePrimaryKey decodes a JSON-encoded primary key value
func DecodePrimaryKey(b []byte) (interface{}, error) {
	var pk interface{}
	if err := json.Unmarshal(b, &pk); err != nil {
		return nil, errors.Wrap(err, "decode primary key")
	}
	return pk, nil
}
