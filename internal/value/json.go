package value

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
)

// Wire encoding:
//
//	null/bool/string  -> native JSON
//	integer           -> JSON number carrying the raw big-int digits
//	float             -> JSON number
//	buffer            -> {"bytes": <base64>}
//	addon             -> {"addon": <id>, "bytes": <base64>}
//	array/object      -> native JSON, object keys in insertion order
//
// Decoding inverts by shape: an object whose exact key set is {bytes} or
// {addon, bytes} is a buffer or addon payload, a number without a fraction
// or exponent is an integer.

func (v *Value) MarshalJSON() ([]byte, error) {
	var b bytes.Buffer
	if err := encodeValue(&b, v); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

func encodeValue(b *bytes.Buffer, v *Value) error {
	switch v.kind {
	case KindNull:
		b.WriteString("null")
	case KindBool:
		if v.boolean {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}
	case KindInteger:
		b.WriteString(v.integer.String())
	case KindFloat:
		raw, err := json.Marshal(v.float)
		if err != nil {
			return err
		}
		b.Write(raw)
	case KindString:
		raw, err := json.Marshal(v.str)
		if err != nil {
			return err
		}
		b.Write(raw)
	case KindBuffer:
		fmt.Fprintf(b, `{"bytes":%q}`, base64.StdEncoding.EncodeToString(v.bytes))
	case KindAddon:
		idRaw, err := json.Marshal(v.addonID)
		if err != nil {
			return err
		}
		fmt.Fprintf(b, `{"addon":%s,"bytes":%q}`, idRaw, base64.StdEncoding.EncodeToString(v.bytes))
	case KindArray:
		b.WriteByte('[')
		for i, item := range v.arr {
			if i > 0 {
				b.WriteByte(',')
			}
			if err := encodeValue(b, item); err != nil {
				return err
			}
		}
		b.WriteByte(']')
	case KindObject:
		b.WriteByte('{')
		first := true
		var encErr error
		v.obj.Range(func(k string, item *Value) bool {
			if !first {
				b.WriteByte(',')
			}
			first = false
			keyRaw, err := json.Marshal(k)
			if err != nil {
				encErr = err
				return false
			}
			b.Write(keyRaw)
			b.WriteByte(':')
			encErr = encodeValue(b, item)
			return encErr == nil
		})
		if encErr != nil {
			return encErr
		}
		b.WriteByte('}')
	}
	return nil
}

func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	decoded, err := decodeValue(dec)
	if err != nil {
		return err
	}
	*v = *decoded
	return nil
}

// FromJSON decodes a wire-encoded value.
func FromJSON(data []byte) (*Value, error) {
	var v Value
	if err := v.UnmarshalJSON(data); err != nil {
		return nil, err
	}
	return &v, nil
}

// MarshalJSON encodes the map as a plain JSON object in insertion order.
func (m *ObjectMap) MarshalJSON() ([]byte, error) {
	return Object(m).MarshalJSON()
}

// UnmarshalJSON decodes a JSON object preserving key order. Unlike value
// decoding, the top level is always a map; the buffer/addon shapes only
// apply to nested values.
func (m *ObjectMap) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, isDelim := tok.(json.Delim); !isDelim || delim != '{' {
		return fmt.Errorf("expected JSON object, got %v", tok)
	}
	out := NewObjectMap()
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, isString := keyTok.(string)
		if !isString {
			return fmt.Errorf("object key is not a string: %v", keyTok)
		}
		item, err := decodeValue(dec)
		if err != nil {
			return err
		}
		out.Set(key, item)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*m = *out
	return nil
}

func decodeValue(dec *json.Decoder) (*Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	return decodeFromToken(dec, tok)
}

func decodeFromToken(dec *json.Decoder, tok json.Token) (*Value, error) {
	switch t := tok.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(t), nil
	case string:
		return String(t), nil
	case json.Number:
		raw := t.String()
		if !strings.ContainsAny(raw, ".eE") {
			i, ok := new(big.Int).SetString(raw, 10)
			if !ok {
				return nil, fmt.Errorf("invalid integer literal %q", raw)
			}
			return IntegerBig(i), nil
		}
		f, err := t.Float64()
		if err != nil {
			return nil, err
		}
		return Float(f), nil
	case json.Delim:
		switch t {
		case '[':
			var items []*Value
			for dec.More() {
				item, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}
				items = append(items, item)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return Array(items), nil
		case '{':
			obj := NewObjectMap()
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return nil, fmt.Errorf("object key is not a string: %v", keyTok)
				}
				item, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}
				obj.Set(key, item)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return objectOrOpaque(obj)
		}
	}
	return nil, fmt.Errorf("unexpected JSON token %v", tok)
}

// objectOrOpaque recognizes the buffer and addon encodings by shape.
func objectOrOpaque(obj *ObjectMap) (*Value, error) {
	switch obj.Len() {
	case 1:
		if raw, ok := obj.Get("bytes"); ok {
			payload, err := decodeBase64Field(raw)
			if err != nil {
				return nil, err
			}
			return Buffer(payload), nil
		}
	case 2:
		idVal, hasAddon := obj.Get("addon")
		raw, hasBytes := obj.Get("bytes")
		if hasAddon && hasBytes {
			id, ok := idVal.AsString()
			if !ok {
				return nil, fmt.Errorf("addon id is not a string")
			}
			payload, err := decodeBase64Field(raw)
			if err != nil {
				return nil, err
			}
			return Addon(id, payload), nil
		}
	}
	return Object(obj), nil
}

func decodeBase64Field(v *Value) ([]byte, error) {
	s, ok := v.AsString()
	if !ok {
		return nil, fmt.Errorf("bytes field is not a string")
	}
	return base64.StdEncoding.DecodeString(s)
}
