package query_test

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/spf13/afero"

	"github.com/aspendb/aspen/lib/db"
	"github.com/aspendb/aspen/lib/object"
	"github.com/aspendb/aspen/lib/query"
)

func newTestStore(t *testing.T) *object.Store {
	t.Helper()

	schema := object.NewSchema(1)
	schema.Collection("users", "id",
		object.Prop("id", object.KindString),
		object.Prop("name", object.KindString),
		object.Prop("age", object.KindInt),
		object.Prop("city", object.KindString),
	).WithIndex("city")

	e, err := db.Open("query.aspen", &db.Options{Fs: afero.NewMemMapFs()})
	if err != nil {
		t.Fatalf("open engine: %v", err)
	}
	t.Cleanup(func() { e.Close() })

	s, err := object.Open(e, schema, nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	err = s.Update(func(tx *object.Txn) error {
		users, err := tx.Collection("users")
		if err != nil {
			return err
		}
		for i := 0; i < 100; i++ {
			city := "berlin"
			if i%3 == 0 {
				city = "hamburg"
			}
			err := users.Insert(object.Record{
				"id":   fmt.Sprintf("u%03d", i),
				"name": fmt.Sprintf("user-%d", i),
				"age":  int64(20 + i%50),
				"city": city,
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func runCollect(t *testing.T, s *object.Store, q *query.Query) []object.Record {
	t.Helper()
	var out []object.Record
	err := s.View(func(tx *object.Txn) error {
		res, err := query.Run(tx, q)
		if err != nil {
			return err
		}
		out, err = res.Collect()
		return err
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	return out
}

func TestEqualityFilter(t *testing.T) {
	s := newTestStore(t)

	out := runCollect(t, s, query.New("users").Filter(query.Eq("id", "u042")))
	if len(out) != 1 || out[0]["name"] != "user-42" {
		t.Errorf("eq filter: %v", out)
	}
}

func TestRangeAndCombinators(t *testing.T) {
	s := newTestStore(t)

	// ages 20..69 cycle; age >= 60 covers i%50 in [40,49] -> 20 users
	out := runCollect(t, s, query.New("users").Filter(query.Ge("age", int64(60))))
	if len(out) != 20 {
		t.Errorf("ge filter: got %d, want 20", len(out))
	}

	out = runCollect(t, s, query.New("users").Filter(
		query.And(
			query.Ge("age", int64(60)),
			query.Eq("city", "berlin"),
		),
	))
	for _, rec := range out {
		if rec["city"] != "berlin" || rec["age"].(int64) < 60 {
			t.Errorf("and filter leaked: %v", rec)
		}
	}

	notBerlin := runCollect(t, s, query.New("users").Filter(
		query.Not(query.Eq("city", "berlin")),
	))
	berlin := runCollect(t, s, query.New("users").Filter(query.Eq("city", "berlin")))
	if len(notBerlin)+len(berlin) != 100 {
		t.Errorf("not partition broken: %d + %d != 100", len(notBerlin), len(berlin))
	}
}

func TestPrefixContains(t *testing.T) {
	s := newTestStore(t)

	out := runCollect(t, s, query.New("users").Filter(query.Prefix("name", "user-1")))
	// user-1, user-10..19, user-100 minus user-100 (only 0..99): 12 matches
	if len(out) != 11 {
		t.Errorf("prefix filter: got %d, want 11", len(out))
	}

	out = runCollect(t, s, query.New("users").Filter(query.Contains("name", "-99")))
	if len(out) != 1 || out[0]["id"] != "u099" {
		t.Errorf("contains filter: %v", out)
	}
}

func TestSortLimitOffset(t *testing.T) {
	s := newTestStore(t)

	out := runCollect(t, s, query.New("users").
		Sort("age", true).
		Take(5))
	if len(out) != 5 {
		t.Fatalf("limit: got %d", len(out))
	}
	for i := 1; i < len(out); i++ {
		if out[i]["age"].(int64) > out[i-1]["age"].(int64) {
			t.Errorf("descending sort violated at %d", i)
		}
	}

	// paging is stable
	page1 := runCollect(t, s, query.New("users").Sort("id", false).Take(10))
	page2 := runCollect(t, s, query.New("users").Sort("id", false).Skip(10).Take(10))
	if page1[0]["id"] != "u000" || page2[0]["id"] != "u010" {
		t.Errorf("paging: %v / %v", page1[0]["id"], page2[0]["id"])
	}
}

func TestIndexedEqualityUsesIndex(t *testing.T) {
	s := newTestStore(t)

	// correctness of the index route: same result as a full scan
	indexed := runCollect(t, s, query.New("users").Filter(query.Eq("city", "hamburg")))
	if len(indexed) != 34 {
		t.Errorf("index route: got %d, want 34", len(indexed))
	}
	for _, rec := range indexed {
		if rec["city"] != "hamburg" {
			t.Errorf("index route leaked: %v", rec)
		}
	}

	// index route under And keeps the residual predicate
	out := runCollect(t, s, query.New("users").Filter(
		query.And(
			query.Eq("city", "hamburg"),
			query.Lt("age", int64(25)),
		),
	))
	for _, rec := range out {
		if rec["city"] != "hamburg" || rec["age"].(int64) >= 25 {
			t.Errorf("residual predicate leaked: %v", rec)
		}
	}
}

func TestLazyEvaluationStopsEarly(t *testing.T) {
	s := newTestStore(t)

	err := s.View(func(tx *object.Txn) error {
		res, err := query.Run(tx, query.New("users").Take(3))
		if err != nil {
			return err
		}
		n := 0
		for {
			rec, err := res.Next()
			if err != nil {
				return err
			}
			if rec == nil {
				break
			}
			n++
		}
		if n != 3 {
			t.Errorf("take(3) yielded %d", n)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestCount(t *testing.T) {
	s := newTestStore(t)

	err := s.View(func(tx *object.Txn) error {
		res, err := query.Run(tx, query.New("users").Filter(query.Eq("city", "berlin")))
		if err != nil {
			return err
		}
		n, err := res.Count()
		if err != nil {
			return err
		}
		if n != 66 {
			t.Errorf("count: got %d, want 66", n)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestLargeIntComparisonsExact(t *testing.T) {
	schema := object.NewSchema(1)
	schema.Collection("counters", "id",
		object.Prop("id", object.KindString),
		object.Prop("value", object.KindInt),
	)

	e, err := db.Open("bigint.aspen", &db.Options{Fs: afero.NewMemMapFs()})
	if err != nil {
		t.Fatalf("open engine: %v", err)
	}
	t.Cleanup(func() { e.Close() })

	s, err := object.Open(e, schema, nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	// adjacent values past 53 bits collapse to the same float64
	base := int64(1) << 60
	err = s.Update(func(tx *object.Txn) error {
		c, err := tx.Collection("counters")
		if err != nil {
			return err
		}
		for i, v := range []int64{base, base + 1, base + 2} {
			if err := c.Insert(object.Record{"id": fmt.Sprintf("c%d", i), "value": v}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	out := runCollect(t, s, query.New("counters").Filter(query.Eq("value", base+1)))
	if len(out) != 1 || out[0]["id"] != "c1" {
		t.Errorf("eq on large int: %v", out)
	}

	out = runCollect(t, s, query.New("counters").Filter(query.Gt("value", base+1)))
	if len(out) != 1 || out[0]["id"] != "c2" {
		t.Errorf("gt on large int: %v", out)
	}
}

func TestNodeJSONRoundtrip(t *testing.T) {
	s := newTestStore(t)

	q := query.New("users").Filter(
		query.And(
			query.Eq("city", "berlin"),
			query.Ge("age", 60), // plain int: JSON turns numbers into float64
		),
	).Sort("id", false).Take(5)

	raw, err := json.Marshal(q)
	if err != nil {
		t.Fatal(err)
	}
	var decoded query.Query
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatal(err)
	}

	direct := runCollect(t, s, q)
	viaJSON := runCollect(t, s, &decoded)
	if len(direct) != len(viaJSON) {
		t.Fatalf("json roundtrip changed results: %d vs %d", len(direct), len(viaJSON))
	}
	for i := range direct {
		if direct[i]["id"] != viaJSON[i]["id"] {
			t.Errorf("result %d differs: %v vs %v", i, direct[i]["id"], viaJSON[i]["id"])
		}
	}
}
