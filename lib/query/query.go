package query

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/aspendb/aspen/lib/object"
)

// --------------------------------------------------------------------------
// Query
// --------------------------------------------------------------------------

// Query describes what to fetch from one collection. Build it with the
// chainable setters and hand it to Run.
type Query struct {
	Collection string `json:"collection"`
	Where      *Node  `json:"where,omitempty"`
	SortProp   string `json:"sort_prop,omitempty"`
	SortDesc   bool   `json:"sort_desc,omitempty"`
	Offset     int    `json:"offset,omitempty"`
	Limit      int    `json:"limit,omitempty"` // 0 = unlimited
}

func New(collection string) *Query {
	return &Query{Collection: collection}
}

func (q *Query) Filter(where *Node) *Query {
	q.Where = where
	return q
}

func (q *Query) Sort(prop string, desc bool) *Query {
	q.SortProp = prop
	q.SortDesc = desc
	return q
}

func (q *Query) Skip(n int) *Query {
	q.Offset = n
	return q
}

func (q *Query) Take(n int) *Query {
	q.Limit = n
	return q
}

// --------------------------------------------------------------------------
// Results
// --------------------------------------------------------------------------

// Results is a lazy result iterator: records are pulled from the snapshot
// and decoded on demand. Only a Sort forces materialization.
type Results struct {
	q   *Query
	src *object.RecordIterator

	sorted  []object.Record // filled lazily when SortProp is set
	sortPos int
	skipped int
	taken   int
}

// Run evaluates the query inside the transaction. An equality predicate on
// an indexed property routes through the index instead of a full scan.
func Run(tx *object.Txn, q *Query) (*Results, error) {
	if err := q.Where.validate(); err != nil {
		return nil, err
	}

	ct, err := tx.Collection(q.Collection)
	if err != nil {
		return nil, err
	}

	src, err := sourceFor(ct, q.Where)
	if err != nil {
		return nil, err
	}
	return &Results{q: q, src: src}, nil
}

// Next returns the following matching record, or (nil, nil) when the
// result set is exhausted
func (r *Results) Next() (object.Record, error) {
	if r.q.SortProp != "" {
		return r.nextSorted()
	}

	for {
		if r.q.Limit > 0 && r.taken >= r.q.Limit {
			return nil, nil
		}
		rec, err := r.nextMatch()
		if err != nil || rec == nil {
			return nil, err
		}
		if r.skipped < r.q.Offset {
			r.skipped++
			continue
		}
		r.taken++
		return rec, nil
	}
}

// Collect drains the remaining results into a slice
func (r *Results) Collect() ([]object.Record, error) {
	var out []object.Record
	for {
		rec, err := r.Next()
		if err != nil {
			return nil, err
		}
		if rec == nil {
			return out, nil
		}
		out = append(out, rec)
	}
}

// Count drains the remaining results and returns how many matched
func (r *Results) Count() (int, error) {
	n := 0
	for {
		rec, err := r.Next()
		if err != nil {
			return 0, err
		}
		if rec == nil {
			return n, nil
		}
		n++
	}
}

// nextMatch pulls source records until one satisfies the predicate
func (r *Results) nextMatch() (object.Record, error) {
	for {
		rec, err := r.src.Next()
		if err != nil || rec == nil {
			return nil, err
		}
		ok, err := r.q.Where.Match(rec)
		if err != nil {
			return nil, err
		}
		if ok {
			return rec, nil
		}
	}
}

// nextSorted materializes and sorts all matches on first use, then pages
// through the sorted slice
func (r *Results) nextSorted() (object.Record, error) {
	if r.sorted == nil {
		var all []object.Record
		for {
			rec, err := r.nextMatch()
			if err != nil {
				return nil, err
			}
			if rec == nil {
				break
			}
			all = append(all, rec)
		}

		var sortErr error
		sort.SliceStable(all, func(i, j int) bool {
			vi, iok := all[i][r.q.SortProp]
			vj, jok := all[j][r.q.SortProp]
			// records without the sort property order last
			if !iok || !jok {
				return iok && !jok
			}
			cmp, err := compareValues(vi, vj)
			if err != nil && sortErr == nil {
				sortErr = err
			}
			if r.q.SortDesc {
				return cmp > 0
			}
			return cmp < 0
		})
		if sortErr != nil {
			return nil, errors.Wrapf(sortErr, "sort by %s", r.q.SortProp)
		}

		if r.q.Offset > 0 {
			if r.q.Offset >= len(all) {
				all = nil
			} else {
				all = all[r.q.Offset:]
			}
		}
		if r.q.Limit > 0 && r.q.Limit < len(all) {
			all = all[:r.q.Limit]
		}
		if all == nil {
			all = []object.Record{}
		}
		r.sorted = all
	}

	if r.sortPos >= len(r.sorted) {
		return nil, nil
	}
	rec := r.sorted[r.sortPos]
	r.sortPos++
	return rec, nil
}

// --------------------------------------------------------------------------
// Index routing
// --------------------------------------------------------------------------

// sourceFor picks the record source: an index iterator when the predicate
// pins an indexed property to one value, a full scan otherwise. The full
// predicate is still applied to every candidate.
func sourceFor(ct *object.CollectionTx, where *Node) (*object.RecordIterator, error) {
	if eq := indexableEq(ct, where); eq != nil {
		return ct.IndexRecords(eq.Prop, eq.Value)
	}
	return ct.Records(), nil
}

// indexableEq finds an equality leaf on an indexed property that every
// match must satisfy: the root itself, or a direct child of a root And
func indexableEq(ct *object.CollectionTx, n *Node) *Node {
	if n == nil {
		return nil
	}
	if n.Op == OpEq && ct.HasIndex(n.Prop) {
		return n
	}
	if n.Op == OpAnd {
		for _, kid := range n.Kids {
			if kid.Op == OpEq && ct.HasIndex(kid.Prop) {
				return kid
			}
		}
	}
	return nil
}
