package value

// TypeKind discriminates the structural type model.
type TypeKind int

const (
	TypeNull TypeKind = iota
	TypeBool
	TypeInteger
	TypeFloat
	TypeString
	TypeBuffer
	TypeArray
	TypeObject
	// TypeMap is a repeated-object-blocks input: serialized as an array of
	// objects sharing the declared property set.
	TypeMap
	TypeAddon
	// TypeTypedNull marks optional absence of an inner type.
	TypeTypedNull
	// TypeAny accepts any value shape; used by pass-through inputs like a
	// variable's value.
	TypeAny
)

// Type is a structural type. A value conforms iff shapes match
// field-by-field; addon types match by id.
type Type struct {
	Kind    TypeKind
	Elem    *Type            // Array element, TypedNull inner
	Fields  []ObjectProperty // Object / Map
	AddonID string
}

// ObjectProperty declares one field of an object or map input.
type ObjectProperty struct {
	Name        string
	Description string
	Typing      Type
	Optional    bool
}

func AnyType() Type             { return Type{Kind: TypeAny} }
func NullType() Type            { return Type{Kind: TypeNull} }
func BoolType() Type            { return Type{Kind: TypeBool} }
func IntegerType() Type         { return Type{Kind: TypeInteger} }
func FloatType() Type           { return Type{Kind: TypeFloat} }
func StringType() Type          { return Type{Kind: TypeString} }
func BufferType() Type          { return Type{Kind: TypeBuffer} }
func ArrayType(elem Type) Type  { return Type{Kind: TypeArray, Elem: &elem} }
func AddonType(id string) Type  { return Type{Kind: TypeAddon, AddonID: id} }
func TypedNull(inner Type) Type { return Type{Kind: TypeTypedNull, Elem: &inner} }

func ObjectType(fields []ObjectProperty) Type {
	return Type{Kind: TypeObject, Fields: fields}
}

func MapType(fields []ObjectProperty) Type {
	return Type{Kind: TypeMap, Fields: fields}
}

func (t Type) IsObject() bool { return t.Kind == TypeObject }
func (t Type) IsArray() bool  { return t.Kind == TypeArray }
func (t Type) IsMap() bool    { return t.Kind == TypeMap }

func (t Type) String() string {
	switch t.Kind {
	case TypeAny:
		return "any"
	case TypeNull:
		return "null"
	case TypeBool:
		return "bool"
	case TypeInteger:
		return "integer"
	case TypeFloat:
		return "float"
	case TypeString:
		return "string"
	case TypeBuffer:
		return "buffer"
	case TypeArray:
		if t.Elem == nil {
			return "array"
		}
		return "array[" + t.Elem.String() + "]"
	case TypeObject:
		return "object"
	case TypeMap:
		return "map"
	case TypeAddon:
		return "addon(" + t.AddonID + ")"
	case TypeTypedNull:
		if t.Elem == nil {
			return "null"
		}
		return "optional " + t.Elem.String()
	}
	return "unknown"
}

// Conforms reports whether v matches the type shape. A plain null conforms
// to TypedNull, TypeNull and TypeAny only.
func (t Type) Conforms(v *Value) bool {
	if v.IsNull() {
		return t.Kind == TypeNull || t.Kind == TypeTypedNull || t.Kind == TypeAny
	}
	switch t.Kind {
	case TypeAny:
		return true
	case TypeNull:
		return false
	case TypeTypedNull:
		return t.Elem != nil && t.Elem.Conforms(v)
	case TypeBool:
		return v.Kind() == KindBool
	case TypeInteger:
		return v.Kind() == KindInteger
	case TypeFloat:
		return v.Kind() == KindFloat
	case TypeString:
		return v.Kind() == KindString
	case TypeBuffer:
		return v.Kind() == KindBuffer || v.Kind() == KindAddon
	case TypeAddon:
		id, _, ok := v.AsAddon()
		return ok && id == t.AddonID
	case TypeArray:
		items, ok := v.AsArray()
		if !ok {
			return false
		}
		if t.Elem == nil {
			return true
		}
		for _, item := range items {
			if !t.Elem.Conforms(item) {
				return false
			}
		}
		return true
	case TypeObject:
		obj, ok := v.AsObject()
		if !ok {
			return false
		}
		return fieldsConform(t.Fields, obj)
	case TypeMap:
		items, ok := v.AsArray()
		if !ok {
			return false
		}
		for _, item := range items {
			obj, ok := item.AsObject()
			if !ok {
				return false
			}
			if !fieldsConform(t.Fields, obj) {
				return false
			}
		}
		return true
	}
	return false
}

func fieldsConform(fields []ObjectProperty, obj *ObjectMap) bool {
	for _, field := range fields {
		item, ok := obj.Get(field.Name)
		if !ok || item.IsNull() {
			if field.Optional {
				continue
			}
			return false
		}
		if !field.Typing.Conforms(item) {
			return false
		}
	}
	return true
}
