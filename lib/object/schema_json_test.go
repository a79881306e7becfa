package object_test

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"github.com/aspendb/aspen/lib/db"
	"github.com/aspendb/aspen/lib/object"
)

const userSchemaJSON = `{
  "version": 1,
  "collections": [
    {
      "name": "users",
      "primary_key": "id",
      "properties": [
        {"name": "id", "kind": "string"},
        {"name": "name", "kind": "string"},
        {"name": "age", "kind": "int"}
      ],
      "indexes": ["name"]
    }
  ]
}`

func TestSchemaFromJSON(t *testing.T) {
	schema, err := object.SchemaFromJSON([]byte(userSchemaJSON))
	if err != nil {
		t.Fatal(err)
	}

	s := newTestStore(t, afero.NewMemMapFs(), schema, nil)
	defer s.Engine().Close()

	err = s.Update(func(tx *object.Txn) error {
		users, err := tx.Collection("users")
		if err != nil {
			return err
		}
		return users.Insert(object.Record{"id": "u1", "name": "ada", "age": int64(36)})
	})
	if err != nil {
		t.Fatal(err)
	}

	// The declared index must be queryable
	err = s.View(func(tx *object.Txn) error {
		users, err := tx.Collection("users")
		if err != nil {
			return err
		}
		hits := 0
		err = users.LookupIndex("name", "ada", func(object.Record) error {
			hits++
			return nil
		})
		if err != nil {
			return err
		}
		if hits != 1 {
			t.Errorf("expected 1 record via index, got %d", hits)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestSchemaFromJSONRejectsBadInput(t *testing.T) {
	cases := map[string]string{
		"BadKind":   `{"version":1,"collections":[{"name":"a","primary_key":"id","properties":[{"name":"id","kind":"uuid"}]}]}`,
		"NoVersion": `{"collections":[{"name":"a","primary_key":"id","properties":[{"name":"id","kind":"string"}]}]}`,
		"MissingPK": `{"version":1,"collections":[{"name":"a","primary_key":"id","properties":[{"name":"x","kind":"string"}]}]}`,
		"NotJSON":   `version: 1`,
	}

	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := object.SchemaFromJSON([]byte(raw)); err == nil {
				t.Errorf("expected error for %s", raw)
			}
		})
	}
}

func TestOpenExisting(t *testing.T) {
	fs := afero.NewMemMapFs()

	// Create a store with a compiled-in schema and close it again
	s := newTestStore(t, fs, userSchema(1), nil)
	err := s.Update(func(tx *object.Txn) error {
		users, err := tx.Collection("users")
		if err != nil {
			return err
		}
		return users.Insert(object.Record{
			"id": "u1", "name": "ada", "age": int64(36),
			"score": 1.0, "active": true,
		})
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Engine().Close(); err != nil {
		t.Fatal(err)
	}

	// Reopen without a schema declaration
	e, err := db.Open("objects.aspen", &db.Options{Fs: fs})
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()

	reopened, err := object.OpenExisting(e)
	if err != nil {
		t.Fatal(err)
	}

	err = reopened.View(func(tx *object.Txn) error {
		users, err := tx.Collection("users")
		if err != nil {
			return err
		}
		rec, err := users.Get("u1")
		if err != nil {
			return err
		}
		if rec["name"] != "ada" || rec["age"] != int64(36) {
			t.Errorf("record mismatch after reopen: %+v", rec)
		}

		// The rebuilt schema must include the secondary index
		hits := 0
		err = users.LookupIndex("name", "ada", func(object.Record) error {
			hits++
			return nil
		})
		if err != nil {
			return err
		}
		if hits != 1 {
			t.Errorf("expected 1 record via index, got %d", hits)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestOpenExistingFreshFile(t *testing.T) {
	e, err := db.Open("fresh.aspen", &db.Options{Fs: afero.NewMemMapFs()})
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()

	_, err = object.OpenExisting(e)
	if !errors.Is(err, object.ErrNoSchema) {
		t.Fatalf("expected ErrNoSchema, got %v", err)
	}
}
