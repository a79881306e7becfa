package object_test

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"github.com/aspendb/aspen/lib/db"
	"github.com/aspendb/aspen/lib/object"
)

func userSchema(version int64) *object.Schema {
	s := object.NewSchema(version)
	s.Collection("users", "id",
		object.Prop("id", object.KindString),
		object.Prop("name", object.KindString),
		object.Prop("age", object.KindInt),
		object.Prop("score", object.KindFloat),
		object.Prop("active", object.KindBool),
		object.Prop("joined", object.KindTime),
	).WithIndex("name")
	return s
}

func newTestStore(t *testing.T, fs afero.Fs, schema *object.Schema, migrate object.MigrateFunc) *object.Store {
	t.Helper()
	e, err := db.Open("objects.aspen", &db.Options{Fs: fs})
	if err != nil {
		t.Fatalf("open engine: %v", err)
	}
	s, err := object.Open(e, schema, migrate)
	if err != nil {
		e.Close()
		t.Fatalf("open store: %v", err)
	}
	return s
}

func TestInsertGetRoundtrip(t *testing.T) {
	s := newTestStore(t, afero.NewMemMapFs(), userSchema(1), nil)
	defer s.Engine().Close()

	joined := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	err := s.Update(func(tx *object.Txn) error {
		users, err := tx.Collection("users")
		if err != nil {
			return err
		}
		return users.Insert(object.Record{
			"id":     "u1",
			"name":   "ada",
			"age":    int64(36),
			"score":  99.5,
			"active": true,
			"joined": joined,
		})
	})
	if err != nil {
		t.Fatal(err)
	}

	err = s.View(func(tx *object.Txn) error {
		users, err := tx.Collection("users")
		if err != nil {
			return err
		}
		rec, err := users.Get("u1")
		if err != nil {
			return err
		}
		if rec["name"] != "ada" || rec["age"] != int64(36) || rec["score"] != 99.5 || rec["active"] != true {
			t.Errorf("roundtrip mismatch: %+v", rec)
		}
		if !rec["joined"].(time.Time).Equal(joined) {
			t.Errorf("time mismatch: %v", rec["joined"])
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestInsertDuplicateFails(t *testing.T) {
	s := newTestStore(t, afero.NewMemMapFs(), userSchema(1), nil)
	defer s.Engine().Close()

	put := func() error {
		return s.Update(func(tx *object.Txn) error {
			users, err := tx.Collection("users")
			if err != nil {
				return err
			}
			return users.Insert(object.Record{"id": "u1", "name": "ada"})
		})
	}

	if err := put(); err != nil {
		t.Fatal(err)
	}
	if err := put(); !errors.Is(err, object.ErrConstraint) {
		t.Errorf("expected ErrConstraint, got %v", err)
	}
}

func TestUpsertAndDeleteMaintainIndex(t *testing.T) {
	s := newTestStore(t, afero.NewMemMapFs(), userSchema(1), nil)
	defer s.Engine().Close()

	err := s.Update(func(tx *object.Txn) error {
		users, err := tx.Collection("users")
		if err != nil {
			return err
		}
		if err := users.Insert(object.Record{"id": "u1", "name": "ada"}); err != nil {
			return err
		}
		return users.Insert(object.Record{"id": "u2", "name": "ada"})
	})
	if err != nil {
		t.Fatal(err)
	}

	countByName := func(name string) int {
		n := 0
		err := s.View(func(tx *object.Txn) error {
			users, err := tx.Collection("users")
			if err != nil {
				return err
			}
			return users.LookupIndex("name", name, func(object.Record) error {
				n++
				return nil
			})
		})
		if err != nil {
			t.Fatalf("lookup %s: %v", name, err)
		}
		return n
	}

	if got := countByName("ada"); got != 2 {
		t.Errorf("index lookup ada: got %d, want 2", got)
	}

	// rename u1: the stale index entry must disappear
	err = s.Update(func(tx *object.Txn) error {
		users, err := tx.Collection("users")
		if err != nil {
			return err
		}
		return users.Upsert(object.Record{"id": "u1", "name": "grace"})
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := countByName("ada"); got != 1 {
		t.Errorf("after rename: ada count %d, want 1", got)
	}
	if got := countByName("grace"); got != 1 {
		t.Errorf("after rename: grace count %d, want 1", got)
	}

	// delete u2: its index entry goes too
	err = s.Update(func(tx *object.Txn) error {
		users, err := tx.Collection("users")
		if err != nil {
			return err
		}
		removed, err := users.Delete("u2")
		if err != nil {
			return err
		}
		if !removed {
			t.Error("delete reported nothing removed")
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := countByName("ada"); got != 0 {
		t.Errorf("after delete: ada count %d, want 0", got)
	}
}

func TestIterateAndCount(t *testing.T) {
	s := newTestStore(t, afero.NewMemMapFs(), userSchema(1), nil)
	defer s.Engine().Close()

	err := s.Update(func(tx *object.Txn) error {
		users, err := tx.Collection("users")
		if err != nil {
			return err
		}
		for _, id := range []string{"c", "a", "b"} {
			if err := users.Insert(object.Record{"id": id, "name": "n-" + id}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	err = s.View(func(tx *object.Txn) error {
		users, err := tx.Collection("users")
		if err != nil {
			return err
		}

		n, err := users.Count()
		if err != nil {
			return err
		}
		if n != 3 {
			t.Errorf("count: got %d, want 3", n)
		}

		// iteration follows primary key order
		var ids []string
		err = users.Iterate(func(rec object.Record) error {
			ids = append(ids, rec["id"].(string))
			return nil
		})
		if err != nil {
			return err
		}
		if len(ids) != 3 || ids[0] != "a" || ids[1] != "b" || ids[2] != "c" {
			t.Errorf("iteration order: %v", ids)
		}

		// early stop
		seen := 0
		err = users.Iterate(func(object.Record) error {
			seen++
			return object.ErrStop
		})
		if err != nil || seen != 1 {
			t.Errorf("early stop: seen=%d err=%v", seen, err)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestSchemaMismatchRejected(t *testing.T) {
	fs := afero.NewMemMapFs()

	s := newTestStore(t, fs, userSchema(1), nil)
	s.Engine().Close()

	// same version, different property kind
	bad := object.NewSchema(1)
	bad.Collection("users", "id",
		object.Prop("id", object.KindString),
		object.Prop("name", object.KindInt),
		object.Prop("age", object.KindInt),
		object.Prop("score", object.KindFloat),
		object.Prop("active", object.KindBool),
		object.Prop("joined", object.KindTime),
	).WithIndex("name")

	e, err := db.Open("objects.aspen", &db.Options{Fs: fs})
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()

	if _, err := object.Open(e, bad, nil); !errors.Is(err, object.ErrSchemaMismatch) {
		t.Errorf("expected ErrSchemaMismatch, got %v", err)
	}
}

func TestDowngradeRejected(t *testing.T) {
	fs := afero.NewMemMapFs()

	s := newTestStore(t, fs, userSchema(2), nil)
	s.Engine().Close()

	e, err := db.Open("objects.aspen", &db.Options{Fs: fs})
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()

	if _, err := object.Open(e, userSchema(1), nil); !errors.Is(err, object.ErrDowngrade) {
		t.Errorf("expected ErrDowngrade, got %v", err)
	}
}

func TestMigrationAddsPropertyAndIndex(t *testing.T) {
	fs := afero.NewMemMapFs()

	s := newTestStore(t, fs, userSchema(1), nil)
	err := s.Update(func(tx *object.Txn) error {
		users, err := tx.Collection("users")
		if err != nil {
			return err
		}
		for _, u := range []object.Record{
			{"id": "u1", "name": "ada", "age": int64(36)},
			{"id": "u2", "name": "grace", "age": int64(45)},
		} {
			if err := users.Insert(u); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	s.Engine().Close()

	// v2 adds an email property and an index on age, and fills emails in
	// the migration func
	v2 := object.NewSchema(2)
	v2.Collection("users", "id",
		object.Prop("id", object.KindString),
		object.Prop("name", object.KindString),
		object.Prop("age", object.KindInt),
		object.Prop("score", object.KindFloat),
		object.Prop("active", object.KindBool),
		object.Prop("joined", object.KindTime),
		object.Prop("email", object.KindString),
	).WithIndex("name").WithIndex("age")

	e, err := db.Open("objects.aspen", &db.Options{Fs: fs})
	if err != nil {
		t.Fatal(err)
	}

	migrated := false
	s2, err := object.Open(e, v2, func(tx *object.Txn, from, to int64) error {
		if from != 1 || to != 2 {
			t.Errorf("migration versions: %d -> %d", from, to)
		}
		migrated = true

		users, err := tx.Collection("users")
		if err != nil {
			return err
		}

		// collect first: upserting while iterating would disturb the cursor
		var recs []object.Record
		err = users.Iterate(func(rec object.Record) error {
			recs = append(recs, rec)
			return nil
		})
		if err != nil {
			return err
		}
		for _, rec := range recs {
			rec["email"] = rec["id"].(string) + "@example.com"
			if err := users.Upsert(rec); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("migrating open: %v", err)
	}
	defer s2.Engine().Close()

	if !migrated {
		t.Fatal("migration func did not run")
	}

	err = s2.View(func(tx *object.Txn) error {
		users, err := tx.Collection("users")
		if err != nil {
			return err
		}

		rec, err := users.Get("u1")
		if err != nil {
			return err
		}
		if rec["email"] != "u1@example.com" {
			t.Errorf("migration fill missing: %+v", rec)
		}
		if rec["name"] != "ada" {
			t.Errorf("pre-migration data lost: %+v", rec)
		}

		// the new index was backfilled
		found := 0
		err = users.LookupIndex("age", int64(45), func(rec object.Record) error {
			if rec["id"] != "u2" {
				t.Errorf("wrong record from age index: %+v", rec)
			}
			found++
			return nil
		})
		if err != nil {
			return err
		}
		if found != 1 {
			t.Errorf("age index lookup found %d records, want 1", found)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestMigrationDropsCollection(t *testing.T) {
	fs := afero.NewMemMapFs()

	v1 := userSchema(1)
	v1.Collection("legacy", "id", object.Prop("id", object.KindString))

	s := newTestStore(t, fs, v1, nil)
	err := s.Update(func(tx *object.Txn) error {
		legacy, err := tx.Collection("legacy")
		if err != nil {
			return err
		}
		return legacy.Insert(object.Record{"id": "old"})
	})
	if err != nil {
		t.Fatal(err)
	}
	s.Engine().Close()

	e, err := db.Open("objects.aspen", &db.Options{Fs: fs})
	if err != nil {
		t.Fatal(err)
	}

	s2, err := object.Open(e, userSchema(2), nil)
	if err != nil {
		t.Fatalf("migrating open: %v", err)
	}
	defer s2.Engine().Close()

	err = s2.View(func(tx *object.Txn) error {
		_, err := tx.Collection("legacy")
		if !errors.Is(err, object.ErrUnknownCollection) {
			t.Errorf("expected ErrUnknownCollection, got %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestTypeMismatchRejected(t *testing.T) {
	s := newTestStore(t, afero.NewMemMapFs(), userSchema(1), nil)
	defer s.Engine().Close()

	err := s.Update(func(tx *object.Txn) error {
		users, err := tx.Collection("users")
		if err != nil {
			return err
		}
		return users.Insert(object.Record{"id": "u1", "age": "not a number"})
	})
	if !errors.Is(err, object.ErrTypeMismatch) {
		t.Errorf("expected ErrTypeMismatch, got %v", err)
	}
}

func TestWatchCollection(t *testing.T) {
	s := newTestStore(t, afero.NewMemMapFs(), userSchema(1), nil)
	defer s.Engine().Close()

	// seed so the data bucket exists before subscribing
	err := s.Update(func(tx *object.Txn) error {
		users, err := tx.Collection("users")
		if err != nil {
			return err
		}
		return users.Insert(object.Record{"id": "u0", "name": "seed"})
	})
	if err != nil {
		t.Fatal(err)
	}

	w, err := s.Watch("users")
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	err = s.Update(func(tx *object.Txn) error {
		users, err := tx.Collection("users")
		if err != nil {
			return err
		}
		return users.Insert(object.Record{"id": "u1", "name": "ada"})
	})
	if err != nil {
		t.Fatal(err)
	}

	select {
	case cs := <-w.Changes():
		if len(cs.Inserted) != 1 {
			t.Errorf("expected one inserted key, got %+v", cs)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no change set delivered")
	}
}
