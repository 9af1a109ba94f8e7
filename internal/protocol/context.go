package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// KindRIC is the entity kind used for instrument codes.
const KindRIC = "RIC"

// Entity is one symbolic reference. On the wire it is a single-key object
// such as {"RIC":"IBM.N"}.
type Entity struct {
	Kind  string
	Value string
}

// MarshalJSON encodes e as a one-key object keyed by its kind, RIC when
// unset.
func (e Entity) MarshalJSON() ([]byte, error) {
	kind := e.Kind
	if kind == "" {
		kind = KindRIC
	}
	return json.Marshal(map[string]string{kind: e.Value})
}

// UnmarshalJSON keeps the RIC key when present, otherwise the first
// string-valued key in document order.
func (e *Entity) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("%w: entity is not an object", ErrMalformedMessage)
	}

	var first *Entity
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := keyTok.(string)

		var v interface{}
		if err := dec.Decode(&v); err != nil {
			return err
		}
		s, ok := v.(string)
		if !ok {
			continue
		}
		if key == KindRIC {
			e.Kind, e.Value = key, s
			return nil
		}
		if first == nil {
			first = &Entity{Kind: key, Value: s}
		}
	}

	if first == nil {
		return fmt.Errorf("%w: entity has no reference", ErrMalformedMessage)
	}
	*e = *first
	return nil
}

// Context is the payload exchanged in both directions. The full entity
// sequence is preserved even though consumers usually read only the first.
type Context struct {
	Entities []Entity `json:"entities"`
}

// NewRICContext wraps a single RIC.
func NewRICContext(ric string) Context {
	return Context{Entities: []Entity{{Kind: KindRIC, Value: ric}}}
}

// First returns the first entity reference, if any.
func (c Context) First() (Entity, bool) {
	if len(c.Entities) == 0 {
		return Entity{}, false
	}
	return c.Entities[0], true
}
