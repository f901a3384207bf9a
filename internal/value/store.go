package value

import (
	"fmt"
	"math/big"
)

// ValueStore is the ordered, string-keyed currency between the evaluator and
// commands. Lookups fall back to a companion defaults map on miss.
type ValueStore struct {
	Name     string
	Did      string
	inputs   *ObjectMap
	defaults *ObjectMap
}

func NewValueStore(name string, did string) *ValueStore {
	return &ValueStore{
		Name:     name,
		Did:      did,
		inputs:   NewObjectMap(),
		defaults: NewObjectMap(),
	}
}

// WithDefaults replaces the defaults map consulted on miss.
func (s *ValueStore) WithDefaults(defaults *ObjectMap) *ValueStore {
	if defaults != nil {
		s.defaults = defaults.Clone()
	}
	return s
}

func (s *ValueStore) Insert(key string, v *Value) {
	s.inputs.Set(key, v)
}

func (s *ValueStore) InsertDefault(key string, v *Value) {
	s.defaults.Set(key, v)
}

// Get consults the primary map, then the defaults.
func (s *ValueStore) Get(key string) (*Value, bool) {
	if v, ok := s.inputs.Get(key); ok {
		return v, true
	}
	if v, ok := s.defaults.Get(key); ok {
		return v, true
	}
	return nil, false
}

func (s *ValueStore) Has(key string) bool {
	_, ok := s.Get(key)
	return ok
}

func (s *ValueStore) Delete(key string) {
	s.inputs.Delete(key)
}

// Inputs exposes the primary map (insertion-ordered, no defaults).
func (s *ValueStore) Inputs() *ObjectMap { return s.inputs }

// Defaults exposes the fallback map.
func (s *ValueStore) Defaults() *ObjectMap { return s.defaults }

func (s *ValueStore) Len() int { return s.inputs.Len() }

// Range visits primary entries in insertion order.
func (s *ValueStore) Range(fn func(key string, v *Value) bool) {
	s.inputs.Range(fn)
}

func (s *ValueStore) Clone() *ValueStore {
	return &ValueStore{
		Name:     s.Name,
		Did:      s.Did,
		inputs:   s.inputs.Clone(),
		defaults: s.defaults.Clone(),
	}
}

func (s *ValueStore) GetString(key string) (string, bool) {
	v, ok := s.Get(key)
	if !ok {
		return "", false
	}
	return v.AsString()
}

func (s *ValueStore) GetBool(key string) (bool, bool) {
	v, ok := s.Get(key)
	if !ok {
		return false, false
	}
	return v.AsBool()
}

func (s *ValueStore) GetInteger(key string) (*big.Int, bool) {
	v, ok := s.Get(key)
	if !ok {
		return nil, false
	}
	return v.AsInteger()
}

// ExpectString errors with the store name for context; used by addon
// callbacks that have already validated their inputs shape.
func (s *ValueStore) ExpectString(key string) (string, error) {
	v, ok := s.Get(key)
	if !ok {
		return "", fmt.Errorf("store %q is missing input %q", s.Name, key)
	}
	str, ok := v.AsString()
	if !ok {
		return "", fmt.Errorf("store %q input %q is %s, expected string", s.Name, key, v.Kind())
	}
	return str, nil
}

func (s *ValueStore) ExpectInteger(key string) (*big.Int, error) {
	v, ok := s.Get(key)
	if !ok {
		return nil, fmt.Errorf("store %q is missing input %q", s.Name, key)
	}
	i, ok := v.AsInteger()
	if !ok {
		return nil, fmt.Errorf("store %q input %q is %s, expected integer", s.Name, key, v.Kind())
	}
	return i, nil
}

func (s *ValueStore) ExpectBuffer(key string) ([]byte, error) {
	v, ok := s.Get(key)
	if !ok {
		return nil, fmt.Errorf("store %q is missing input %q", s.Name, key)
	}
	if b, ok := v.AsBuffer(); ok {
		return b, nil
	}
	if _, b, ok := v.AsAddon(); ok {
		return b, nil
	}
	return nil, fmt.Errorf("store %q input %q is %s, expected buffer", s.Name, key, v.Kind())
}
