package zhmc

import (
	"github.com/anand-gl/jsoncanonicalizer"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Properties is an insertion-ordered map of HMC resource properties.
// Keys are property names as returned by the HMC (case-sensitive); values
// are the JSON-typed values of those properties.
//
// Properties is not safe for concurrent use by itself; the owning Resource
// serializes access under its own lock.
type Properties struct {
	keys []string
	vals map[string]any
}

// PropertyItem is one key/value pair of a Properties container.
type PropertyItem struct {
	Name  string
	Value any
}

// NewProperties creates an empty Properties container.
func NewProperties() *Properties {
	return &Properties{vals: make(map[string]any)}
}

// PropertiesFrom creates a Properties container from a plain map. Key order
// is not defined by the map; entries are inserted in sorted-iteration order
// of Go's map range, which is fine for callers that do not care about
// ordering (server responses are decoded via UnmarshalJSON instead).
func PropertiesFrom(m map[string]any) *Properties {
	p := NewProperties()
	for k, v := range m {
		p.Set(k, v)
	}
	return p
}

// Get returns the value of the named property and whether it is present.
func (p *Properties) Get(name string) (any, bool) {
	v, ok := p.vals[name]
	return v, ok
}

// Set inserts or overwrites the named property. A new name is appended at
// the end of the key order.
func (p *Properties) Set(name string, value any) {
	if _, ok := p.vals[name]; !ok {
		p.keys = append(p.keys, name)
	}
	p.vals[name] = value
}

// Delete removes the named property. It reports whether the property was
// present.
func (p *Properties) Delete(name string) bool {
	if _, ok := p.vals[name]; !ok {
		return false
	}
	delete(p.vals, name)
	for i, k := range p.keys {
		if k == name {
			p.keys = append(p.keys[:i], p.keys[i+1:]...)
			break
		}
	}
	return true
}

// Update merges the given properties into the container, overwriting
// existing values.
func (p *Properties) Update(m map[string]any) {
	for k, v := range m {
		p.Set(k, v)
	}
}

// UpdateFrom merges another Properties container, preserving its key order
// for newly added keys.
func (p *Properties) UpdateFrom(o *Properties) {
	for _, k := range o.keys {
		p.Set(k, o.vals[k])
	}
}

// Keys returns the property names in insertion order.
func (p *Properties) Keys() []string {
	return append([]string(nil), p.keys...)
}

// Values returns the property values in key order.
func (p *Properties) Values() []any {
	out := make([]any, 0, len(p.keys))
	for _, k := range p.keys {
		out = append(out, p.vals[k])
	}
	return out
}

// Items returns the key/value pairs in key order.
func (p *Properties) Items() []PropertyItem {
	out := make([]PropertyItem, 0, len(p.keys))
	for _, k := range p.keys {
		out = append(out, PropertyItem{Name: k, Value: p.vals[k]})
	}
	return out
}

// Len returns the number of properties.
func (p *Properties) Len() int {
	return len(p.keys)
}

// Clone returns a shallow copy of the container.
func (p *Properties) Clone() *Properties {
	c := &Properties{
		keys: append([]string(nil), p.keys...),
		vals: make(map[string]any, len(p.vals)),
	}
	for k, v := range p.vals {
		c.vals[k] = v
	}
	return c
}

// Map returns the properties as a plain map. Mutating the returned map does
// not affect the container.
func (p *Properties) Map() map[string]any {
	out := make(map[string]any, len(p.vals))
	for k, v := range p.vals {
		out[k] = v
	}
	return out
}

// Equal reports whether two containers hold the same property-name set with
// values that compare equal. Key order does not matter: both sides are
// serialized to canonical JSON (RFC 8785) and compared byte-wise.
func (p *Properties) Equal(o *Properties) bool {
	if p.Len() != o.Len() {
		return false
	}
	a, err := p.MarshalJSON()
	if err != nil {
		return false
	}
	b, err := o.MarshalJSON()
	if err != nil {
		return false
	}
	ca, err := jsoncanonicalizer.Transform(a)
	if err != nil {
		return false
	}
	cb, err := jsoncanonicalizer.Transform(b)
	if err != nil {
		return false
	}
	return string(ca) == string(cb)
}

// MarshalJSON serializes the properties as a JSON object in key order.
func (p *Properties) MarshalJSON() ([]byte, error) {
	out := []byte("{}")
	var err error
	for _, k := range p.keys {
		// property names may contain characters that are path syntax to
		// sjson, so escape them
		out, err = sjson.SetBytes(out, escapePath(k), p.vals[k])
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// UnmarshalJSON decodes a JSON object preserving the key order of the
// document.
func (p *Properties) UnmarshalJSON(data []byte) error {
	parsed := gjson.ParseBytes(data)
	if !parsed.IsObject() {
		return ErrParse.Msg("property set is not a JSON object")
	}
	p.keys = nil
	p.vals = make(map[string]any)
	parsed.ForEach(func(key, value gjson.Result) bool {
		p.Set(key.String(), value.Value())
		return true
	})
	return nil
}

func escapePath(key string) string {
	out := make([]byte, 0, len(key))
	for i := 0; i < len(key); i++ {
		switch key[i] {
		case '.', '*', '?', '|', '#', '@', '\\':
			out = append(out, '\\')
		}
		out = append(out, key[i])
	}
	return string(out)
}
