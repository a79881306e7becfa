package object

import (
	"encoding/json"
	"reflect"

	"github.com/pkg/errors"

	"github.com/aspendb/aspen/lib/db"
)

// MigrateFunc transforms data during a schema version bump. It runs inside
// the same write transaction that rewrites structures and bumps the stored
// version, so a failed migration leaves the database untouched.
type MigrateFunc func(tx *Txn, from, to int64) error

// Open binds a declared schema to an engine. Three cases:
//
//   - fresh database: the schema is stored and index ordinals assigned
//   - stored version == declared version: the declarations must match
//   - stored version < declared version: structures are reconciled (data
//     rewritten under the new property layout, added indexes backfilled,
//     removed indexes and collections dropped), then migrate runs, then the
//     new schema is stored. All inside one write transaction.
//
// A stored version newer than the declared one fails with ErrDowngrade.
func Open(e *db.Engine, schema *Schema, migrate MigrateFunc) (*Store, error) {
	if err := schema.validate(); err != nil {
		return nil, err
	}

	s := &Store{e: e, schema: schema}
	err := e.Update(func(tx *db.Tx) error {
		meta, err := tx.CreateBucketIfNotExists(metaBucket)
		if err != nil {
			return err
		}

		raw, err := meta.Get([]byte(metaStateKey))
		if errors.Is(err, db.ErrNotFound) {
			return s.initFresh(meta)
		}
		if err != nil {
			return err
		}

		var state storedState
		if err := json.Unmarshal(raw, &state); err != nil {
			return errors.Wrap(err, "parse stored schema state")
		}

		switch {
		case state.Version > schema.Version:
			return errors.Wrapf(ErrDowngrade, "stored %d, declared %d", state.Version, schema.Version)

		case state.Version == schema.Version:
			return s.verifyUnchanged(&state)

		default:
			return s.migrateTo(&Txn{s: s, tx: tx}, meta, &state, migrate)
		}
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// ErrNoSchema is returned by OpenExisting when the database holds no stored
// schema state
var ErrNoSchema = errors.New("object: database has no stored schema")

// OpenExisting binds to a database using the schema stored inside it. No
// migration can run: the store serves exactly the declarations the last
// writer left behind. This is how the RPC server opens files whose schema
// it does not compile in.
func OpenExisting(e *db.Engine) (*Store, error) {
	var state storedState
	err := e.View(func(tx *db.Tx) error {
		meta, err := tx.Bucket(metaBucket)
		if errors.Is(err, db.ErrBucketNotFound) {
			return ErrNoSchema
		}
		if err != nil {
			return err
		}

		raw, err := meta.Get([]byte(metaStateKey))
		if errors.Is(err, db.ErrNotFound) {
			return ErrNoSchema
		}
		if err != nil {
			return err
		}
		return errors.Wrap(json.Unmarshal(raw, &state), "parse stored schema state")
	})
	if err != nil {
		return nil, err
	}

	schema := NewSchema(state.Version)
	for name, sc := range state.Collections {
		c := schema.Collection(name, sc.PrimaryKey, sc.Properties...)
		c.ordinals = map[string]uint64{}
		for prop, ord := range sc.Indexes {
			c.indexed = append(c.indexed, prop)
			c.ordinals[prop] = ord
		}
	}
	if err := schema.validate(); err != nil {
		return nil, err
	}
	return &Store{e: e, schema: schema}, nil
}

// initFresh stores the declared schema into an empty database
func (s *Store) initFresh(meta *db.Bucket) error {
	state := storedState{
		Version:     s.schema.Version,
		NextOrdinal: 1,
		Collections: map[string]storedCollection{},
	}

	for _, name := range s.schema.order {
		c := s.schema.collections[name]
		sc := storedCollection{
			PrimaryKey: c.PrimaryKey,
			Properties: c.Properties,
			Indexes:    map[string]uint64{},
		}
		c.ordinals = map[string]uint64{}
		for _, prop := range c.indexed {
			sc.Indexes[prop] = state.NextOrdinal
			c.ordinals[prop] = state.NextOrdinal
			state.NextOrdinal++
		}
		state.Collections[name] = sc
	}

	return saveState(meta, &state)
}

// verifyUnchanged checks that the declaration matches the stored state at
// an equal version and loads the persisted index ordinals
func (s *Store) verifyUnchanged(state *storedState) error {
	if len(state.Collections) != len(s.schema.collections) {
		return errors.Wrap(ErrSchemaMismatch, "collection set changed without a version bump")
	}

	for _, name := range s.schema.order {
		c := s.schema.collections[name]
		sc, ok := state.Collections[name]
		if !ok {
			return errors.Wrapf(ErrSchemaMismatch, "collection %s not in stored schema", name)
		}
		if sc.PrimaryKey != c.PrimaryKey {
			return errors.Wrapf(ErrSchemaMismatch, "collection %s: primary key changed", name)
		}
		if !reflect.DeepEqual(sc.Properties, c.Properties) {
			return errors.Wrapf(ErrSchemaMismatch, "collection %s: properties changed", name)
		}
		if len(sc.Indexes) != len(c.indexed) {
			return errors.Wrapf(ErrSchemaMismatch, "collection %s: index set changed", name)
		}

		c.ordinals = map[string]uint64{}
		for _, prop := range c.indexed {
			ord, ok := sc.Indexes[prop]
			if !ok {
				return errors.Wrapf(ErrSchemaMismatch, "collection %s: index on %s not in stored schema", name, prop)
			}
			c.ordinals[prop] = ord
		}
	}
	return nil
}

// migrateTo reconciles the stored structures with the declared schema and
// bumps the stored version
func (s *Store) migrateTo(txn *Txn, meta *db.Bucket, state *storedState, migrate MigrateFunc) error {
	tx := txn.tx
	from := state.Version

	// drop collections the new schema no longer declares
	for name, sc := range state.Collections {
		if _, ok := s.schema.collections[name]; ok {
			continue
		}
		if err := dropBucketIfExists(tx, dataBucket(name)); err != nil {
			return err
		}
		for _, ord := range sc.Indexes {
			if err := dropBucketIfExists(tx, indexBucket(ord)); err != nil {
				return err
			}
		}
		delete(state.Collections, name)
	}

	// reconcile surviving and new collections
	for _, name := range s.schema.order {
		c := s.schema.collections[name]
		sc, existed := state.Collections[name]
		if !existed {
			sc = storedCollection{
				PrimaryKey: c.PrimaryKey,
				Properties: c.Properties,
				Indexes:    map[string]uint64{},
			}
		}
		if sc.PrimaryKey != c.PrimaryKey {
			return errors.Wrapf(ErrSchemaMismatch, "collection %s: primary key cannot change", name)
		}
		oldIndexes := indexSetOf(sc)

		declared := map[string]bool{}
		for _, prop := range c.indexed {
			declared[prop] = true
		}

		// removed indexes: drop the bucket, retire the ordinal
		for prop, ord := range sc.Indexes {
			if declared[prop] {
				continue
			}
			if err := dropBucketIfExists(tx, indexBucket(ord)); err != nil {
				return err
			}
			delete(sc.Indexes, prop)
		}

		// added indexes get a fresh ordinal, never a recycled one
		for _, prop := range c.indexed {
			if _, ok := sc.Indexes[prop]; !ok {
				sc.Indexes[prop] = state.NextOrdinal
				state.NextOrdinal++
			}
		}

		c.ordinals = map[string]uint64{}
		for prop, ord := range sc.Indexes {
			c.ordinals[prop] = ord
		}

		// rewrite stored records when the property layout or index set
		// changed: decode with the old layout, re-encode with the new one,
		// which also backfills added indexes
		layoutChanged := !reflect.DeepEqual(sc.Properties, c.Properties)
		indexChanged := !reflect.DeepEqual(oldIndexes, declared)
		if existed && (layoutChanged || indexChanged) {
			if err := rewriteCollection(txn, c, sc.Properties); err != nil {
				return err
			}
		}

		sc.Properties = c.Properties
		state.Collections[name] = sc
	}

	if migrate != nil {
		if err := migrate(txn, from, s.schema.Version); err != nil {
			return errors.Wrapf(err, "migrate %d -> %d", from, s.schema.Version)
		}
	}

	state.Version = s.schema.Version
	return saveState(meta, state)
}

// rewriteCollection re-encodes every stored record of c. Old values decode
// under oldProps, the new encoding follows the current declaration and
// rebuilds the index entries.
func rewriteCollection(txn *Txn, c *Collection, oldProps []Property) error {
	ct, err := txn.Collection(c.Name)
	if err != nil {
		return err
	}
	if ct.data == nil {
		return nil
	}

	// collect first: the rewrite must not race its own cursor
	type entry struct {
		key []byte
		rec Record
	}
	var entries []entry

	it := ct.data.Cursor()
	for k, v, err := it.First(); k != nil; k, v, err = it.Next() {
		if err != nil {
			return err
		}
		rec, err := decodeWithLayout(c, oldProps, v)
		if err != nil {
			return err
		}
		entries = append(entries, entry{key: append([]byte(nil), k...), rec: rec})
	}

	for _, en := range entries {
		if err := ct.put(en.key, en.rec, nil); err != nil {
			return err
		}
	}
	return nil
}

// decodeWithLayout decodes a stored value under an explicit property order,
// keeping only properties the current declaration still knows
func decodeWithLayout(c *Collection, layout []Property, buf []byte) (Record, error) {
	data, _, err := splitValue(buf)
	if err != nil {
		return nil, err
	}

	rec := Record{}
	off := 0
	for _, p := range layout {
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
			return nil, errors.Wrapf(err, "property %s.%s (old layout)", c.Name, p.Name)
		}
		off += n

		// keep the value only if the property survives with the same kind
		if cur, ok := c.props[p.Name]; ok && cur.Kind == p.Kind {
			rec[p.Name] = v
		}
	}
	return rec, nil
}

func dropBucketIfExists(tx *db.Tx, name string) error {
	err := tx.DeleteBucket(name)
	if errors.Is(err, db.ErrBucketNotFound) {
		return nil
	}
	return err
}

func saveState(meta *db.Bucket, state *storedState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return errors.Wrap(err, "encode schema state")
	}
	return meta.Put([]byte(metaStateKey), raw)
}

func indexSetOf(sc storedCollection) map[string]bool {
	out := map[string]bool{}
	for prop := range sc.Indexes {
		out[prop] = true
	}
	return out
}
