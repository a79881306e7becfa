package object

import (
	"github.com/pkg/errors"
)

// --------------------------------------------------------------------------
// Kinds
// --------------------------------------------------------------------------

// Kind is the type of a property value
type Kind uint8

const (
	KindString Kind = iota + 1
	KindInt
	KindFloat
	KindBool
	KindBytes
	KindTime
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindBytes:
		return "bytes"
	case KindTime:
		return "time"
	default:
		return "unknown"
	}
}

// indexable reports whether values of this kind have an order-preserving
// key encoding. Floats are stored but cannot be used as primary keys or
// secondary indexes.
func (k Kind) indexable() bool {
	return k != KindFloat && k >= KindString && k <= KindTime
}

// --------------------------------------------------------------------------
// Errors
// --------------------------------------------------------------------------

var (
	// ErrConstraint is returned when an Insert hits an existing primary key
	ErrConstraint = errors.New("object: primary key already exists")

	// ErrUnknownCollection is returned for a collection the schema does not
	// declare
	ErrUnknownCollection = errors.New("object: unknown collection")

	// ErrUnknownProperty is returned for a property the collection does not
	// declare
	ErrUnknownProperty = errors.New("object: unknown property")

	// ErrTypeMismatch is returned when a record value does not match the
	// declared property kind
	ErrTypeMismatch = errors.New("object: value does not match property kind")

	// ErrSchemaMismatch is returned when the declared schema conflicts with
	// the one stored in the database at the same version
	ErrSchemaMismatch = errors.New("object: declared schema conflicts with stored schema")

	// ErrDowngrade is returned when the database was written by a newer
	// schema version
	ErrDowngrade = errors.New("object: database schema is newer than the declared one")

	// ErrNotIndexed is returned when an index lookup targets a property
	// without a secondary index
	ErrNotIndexed = errors.New("object: property is not indexed")
)

// --------------------------------------------------------------------------
// Schema
// --------------------------------------------------------------------------

// Property declares one typed field of a collection
type Property struct {
	Name string `json:"name"`
	Kind Kind   `json:"kind"`
}

// Prop is a shorthand constructor for schema declarations
func Prop(name string, kind Kind) Property {
	return Property{Name: name, Kind: kind}
}

// Collection declares one object collection: typed properties, a primary
// key and the properties carrying a secondary index.
type Collection struct {
	Name       string
	PrimaryKey string
	Properties []Property

	indexed []string // property names with a secondary index

	props    map[string]Property
	ordinals map[string]uint64 // index property -> ordinal, set at Open
}

// WithIndex declares a secondary index on a property. Returns the
// collection for chaining.
func (c *Collection) WithIndex(prop string) *Collection {
	c.indexed = append(c.indexed, prop)
	return c
}

// Schema declares the full object model at one version. Build it with
// NewSchema and Collection, then hand it to Open.
type Schema struct {
	Version     int64
	collections map[string]*Collection
	order       []string
}

func NewSchema(version int64) *Schema {
	return &Schema{
		Version:     version,
		collections: map[string]*Collection{},
	}
}

// Collection declares a collection with its primary key property and full
// property list
func (s *Schema) Collection(name, primaryKey string, props ...Property) *Collection {
	c := &Collection{
		Name:       name,
		PrimaryKey: primaryKey,
		Properties: props,
		props:      map[string]Property{},
	}
	for _, p := range props {
		c.props[p.Name] = p
	}
	s.collections[name] = c
	s.order = append(s.order, name)
	return c
}

// validate checks the declaration for internal consistency
func (s *Schema) validate() error {
	if s.Version <= 0 {
		return errors.New("object: schema version must be positive")
	}
	for _, name := range s.order {
		c := s.collections[name]
		if c.Name == "" {
			return errors.New("object: empty collection name")
		}

		pk, ok := c.props[c.PrimaryKey]
		if !ok {
			return errors.Errorf("object: collection %s: primary key property %q not declared", c.Name, c.PrimaryKey)
		}
		if !pk.Kind.indexable() {
			return errors.Errorf("object: collection %s: %s properties cannot be primary keys", c.Name, pk.Kind)
		}

		seen := map[string]bool{}
		for _, p := range c.Properties {
			if p.Name == "" {
				return errors.Errorf("object: collection %s: empty property name", c.Name)
			}
			if seen[p.Name] {
				return errors.Errorf("object: collection %s: duplicate property %q", c.Name, p.Name)
			}
			seen[p.Name] = true
		}

		for _, idx := range c.indexed {
			p, ok := c.props[idx]
			if !ok {
				return errors.Errorf("object: collection %s: index on undeclared property %q", c.Name, idx)
			}
			if !p.Kind.indexable() {
				return errors.Errorf("object: collection %s: %s properties cannot be indexed", c.Name, p.Kind)
			}
		}
	}
	return nil
}

// get returns the declared collection or ErrUnknownCollection
func (s *Schema) get(name string) (*Collection, error) {
	c, ok := s.collections[name]
	if !ok {
		return nil, errors.Wrap(ErrUnknownCollection, name)
	}
	return c, nil
}

// property returns the declared property or ErrUnknownProperty
func (c *Collection) property(name string) (Property, error) {
	p, ok := c.props[name]
	if !ok {
		return Property{}, errors.Wrapf(ErrUnknownProperty, "%s.%s", c.Name, name)
	}
	return p, nil
}

// --------------------------------------------------------------------------
// Stored schema state
// --------------------------------------------------------------------------

// storedState is the schema snapshot persisted in the meta bucket. Index
// ordinals live here: they are assigned once when an index first appears
// and never reused, so a dropped and re-added index gets a fresh bucket.
type storedState struct {
	Version     int64                       `json:"version"`
	NextOrdinal uint64                      `json:"next_ordinal"`
	Collections map[string]storedCollection `json:"collections"`
}

type storedCollection struct {
	PrimaryKey string            `json:"primary_key"`
	Properties []Property        `json:"properties"`
	Indexes    map[string]uint64 `json:"indexes"` // property -> ordinal
}
