package object

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// --------------------------------------------------------------------------
// JSON schema declaration
// --------------------------------------------------------------------------

// schemaDecl is the JSON form of a schema declaration, used by the server
// CLI to declare collections without compiling them in:
//
//	{
//	  "version": 1,
//	  "collections": [
//	    {
//	      "name": "users",
//	      "primary_key": "id",
//	      "properties": [{"name": "id", "kind": "string"}, ...],
//	      "indexes": ["name"]
//	    }
//	  ]
//	}
type schemaDecl struct {
	Version     int64            `json:"version"`
	Collections []collectionDecl `json:"collections"`
}

type collectionDecl struct {
	Name       string         `json:"name"`
	PrimaryKey string         `json:"primary_key"`
	Properties []propertyDecl `json:"properties"`
	Indexes    []string       `json:"indexes,omitempty"`
}

type propertyDecl struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
}

// SchemaFromJSON parses a JSON schema declaration. Property kinds use their
// String names (string, int, float, bool, bytes, time).
func SchemaFromJSON(raw []byte) (*Schema, error) {
	var decl schemaDecl
	if err := json.Unmarshal(raw, &decl); err != nil {
		return nil, errors.Wrap(err, "parse schema declaration")
	}

	s := NewSchema(decl.Version)
	for _, cd := range decl.Collections {
		props := make([]Property, 0, len(cd.Properties))
		for _, pd := range cd.Properties {
			kind, err := kindFromString(pd.Kind)
			if err != nil {
				return nil, errors.Wrapf(err, "collection %s, property %s", cd.Name, pd.Name)
			}
			props = append(props, Prop(pd.Name, kind))
		}

		c := s.Collection(cd.Name, cd.PrimaryKey, props...)
		for _, idx := range cd.Indexes {
			c.WithIndex(idx)
		}
	}

	if err := s.validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func kindFromString(name string) (Kind, error) {
	for k := KindString; k <= KindTime; k++ {
		if k.String() == name {
			return k, nil
		}
	}
	return 0, errors.Errorf("object: unknown property kind %q", name)
}
