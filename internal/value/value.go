package value

import (
	"bytes"
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

// Kind discriminates the runtime value union.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInteger
	KindFloat
	KindString
	KindBuffer
	KindArray
	KindObject
	KindAddon
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInteger:
		return "integer"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindBuffer:
		return "buffer"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	case KindAddon:
		return "addon"
	}
	return "unknown"
}

// Integer bounds: runbook integers are 128-bit signed. Arithmetic that
// leaves this range is a diagnostic, never a wrap.
var (
	MaxInteger = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))
	MinInteger = new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 127))
)

// Value is the tagged runtime value flowing between evaluator, commands and
// signers. Values are immutable once constructed; consumers share pointers.
type Value struct {
	kind    Kind
	boolean bool
	integer *big.Int
	float   float64
	str     string
	bytes   []byte
	arr     []*Value
	obj     *ObjectMap
	addonID string
}

func Null() *Value                  { return &Value{kind: KindNull} }
func Bool(b bool) *Value            { return &Value{kind: KindBool, boolean: b} }
func Integer(i int64) *Value        { return &Value{kind: KindInteger, integer: big.NewInt(i)} }
func Float(f float64) *Value        { return &Value{kind: KindFloat, float: f} }
func String(s string) *Value        { return &Value{kind: KindString, str: s} }
func Buffer(b []byte) *Value        { return &Value{kind: KindBuffer, bytes: b} }
func Array(items []*Value) *Value   { return &Value{kind: KindArray, arr: items} }
func Object(m *ObjectMap) *Value    { return &Value{kind: KindObject, obj: m} }
func EmptyObject() *Value           { return Object(NewObjectMap()) }

// IntegerBig copies i so later mutation of the argument cannot leak in.
func IntegerBig(i *big.Int) *Value {
	return &Value{kind: KindInteger, integer: new(big.Int).Set(i)}
}

// Addon wraps an opaque payload typed by an addon-defined identifier such as
// "svm::pubkey". Equality and serialization are structural on the bytes.
func Addon(id string, payload []byte) *Value {
	return &Value{kind: KindAddon, addonID: id, bytes: payload}
}

func (v *Value) Kind() Kind { return v.kind }

func (v *Value) IsNull() bool { return v == nil || v.kind == KindNull }

func (v *Value) AsBool() (bool, bool) {
	if v.kind != KindBool {
		return false, false
	}
	return v.boolean, true
}

func (v *Value) AsInteger() (*big.Int, bool) {
	if v.kind != KindInteger {
		return nil, false
	}
	return v.integer, true
}

// AsInt64 narrows the 128-bit integer; the second result is false when the
// value is not an integer or does not fit.
func (v *Value) AsInt64() (int64, bool) {
	if v.kind != KindInteger || !v.integer.IsInt64() {
		return 0, false
	}
	return v.integer.Int64(), true
}

func (v *Value) AsFloat() (float64, bool) {
	if v.kind != KindFloat {
		return 0, false
	}
	return v.float, true
}

func (v *Value) AsString() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.str, true
}

func (v *Value) AsBuffer() ([]byte, bool) {
	if v.kind != KindBuffer {
		return nil, false
	}
	return v.bytes, true
}

func (v *Value) AsArray() ([]*Value, bool) {
	if v.kind != KindArray {
		return nil, false
	}
	return v.arr, true
}

func (v *Value) AsObject() (*ObjectMap, bool) {
	if v.kind != KindObject {
		return nil, false
	}
	return v.obj, true
}

// AsAddon returns the addon type id and payload.
func (v *Value) AsAddon() (string, []byte, bool) {
	if v.kind != KindAddon {
		return "", nil, false
	}
	return v.addonID, v.bytes, true
}

// AddonID returns the addon type id, or "" for non-addon values.
func (v *Value) AddonID() string { return v.addonID }

// TypeEq reports whether two values have the same shape for the purpose of
// binary operator dispatch. Addon values additionally match on their id.
func (v *Value) TypeEq(other *Value) bool {
	if v.kind != other.kind {
		return false
	}
	if v.kind == KindAddon {
		return v.addonID == other.addonID
	}
	return true
}

// Equal is deep structural equality. Object comparison is order-sensitive.
func (v *Value) Equal(other *Value) bool {
	if v == nil || other == nil {
		return v == other
	}
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.boolean == other.boolean
	case KindInteger:
		return v.integer.Cmp(other.integer) == 0
	case KindFloat:
		return v.float == other.float
	case KindString:
		return v.str == other.str
	case KindBuffer:
		return bytes.Equal(v.bytes, other.bytes)
	case KindArray:
		if len(v.arr) != len(other.arr) {
			return false
		}
		for i := range v.arr {
			if !v.arr[i].Equal(other.arr[i]) {
				return false
			}
		}
		return true
	case KindObject:
		return v.obj.Equal(other.obj)
	case KindAddon:
		return v.addonID == other.addonID && bytes.Equal(v.bytes, other.bytes)
	}
	return false
}

// String renders the value for template interpolation and display.
func (v *Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindBool:
		return strconv.FormatBool(v.boolean)
	case KindInteger:
		return v.integer.String()
	case KindFloat:
		return strconv.FormatFloat(v.float, 'g', -1, 64)
	case KindString:
		return v.str
	case KindBuffer:
		return "0x" + hexEncode(v.bytes)
	case KindArray:
		parts := make([]string, len(v.arr))
		for i, item := range v.arr {
			parts[i] = item.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case KindObject:
		var b strings.Builder
		b.WriteString("{")
		first := true
		v.obj.Range(func(k string, item *Value) bool {
			if !first {
				b.WriteString(", ")
			}
			first = false
			fmt.Fprintf(&b, "%s: %s", k, item.String())
			return true
		})
		b.WriteString("}")
		return b.String()
	case KindAddon:
		return fmt.Sprintf("%s(0x%s)", v.addonID, hexEncode(v.bytes))
	}
	return ""
}

// GetKeyFromObject indexes one level into an object value.
func (v *Value) GetKeyFromObject(key string) (*Value, bool) {
	obj, ok := v.AsObject()
	if !ok {
		return nil, false
	}
	return obj.Get(key)
}

// GetKeysFromObject walks a component path through nested objects, the way
// traversal remainders are resolved against command outputs.
func (v *Value) GetKeysFromObject(components []string) (*Value, error) {
	current := v
	for _, component := range components {
		obj, ok := current.AsObject()
		if !ok {
			return nil, fmt.Errorf("cannot access field %q on %s value", component, current.kind)
		}
		next, ok := obj.Get(component)
		if !ok {
			return nil, fmt.Errorf("object has no field %q", component)
		}
		current = next
	}
	return current, nil
}

const hexdigits = "0123456789abcdef"

func hexEncode(b []byte) string {
	out := make([]byte, 0, len(b)*2)
	for _, c := range b {
		out = append(out, hexdigits[c>>4], hexdigits[c&0xf])
	}
	return string(out)
}
