// Package schema defines the record, field and relation type system shared by
// storage adapters and every collection decorator. Schemas are values: once a
// *CollectionSchema has been published it is never mutated, decorators derive
// new schemas instead.
package schema

import (
	"fmt"
	"sort"
)

// Record is a single row of data keyed by field name. Relation fields hold a
// nested Record (or nil when the related record does not exist).
type Record = map[string]any

// ColumnType is the recursive type of a column: a PrimitiveType, an ArrayType
// or a StructType.
type ColumnType interface {
	isColumnType()
	String() string
}

// PrimitiveType is a scalar column type.
type PrimitiveType string

const (
	TypeBoolean  PrimitiveType = "Boolean"
	TypeBinary   PrimitiveType = "Binary"
	TypeDate     PrimitiveType = "Date"
	TypeDateonly PrimitiveType = "Dateonly"
	TypeEnum     PrimitiveType = "Enum"
	TypeJSON     PrimitiveType = "Json"
	TypeNumber   PrimitiveType = "Number"
	TypePoint    PrimitiveType = "Point"
	TypeString   PrimitiveType = "String"
	TypeTimeonly PrimitiveType = "Timeonly"
	TypeUUID     PrimitiveType = "Uuid"
)

func (PrimitiveType) isColumnType() {}

func (p PrimitiveType) String() string { return string(p) }

// ArrayType is a column holding an ordered list of values of the same type.
type ArrayType struct {
	Element ColumnType
}

func (ArrayType) isColumnType() {}

func (a ArrayType) String() string { return "[" + a.Element.String() + "]" }

// StructType is a column holding a nested object with typed keys.
type StructType map[string]ColumnType

func (StructType) isColumnType() {}

func (s StructType) String() string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := "{"
	for i, k := range keys {
		if i > 0 {
			out += ", "
		}
		out += k + ": " + s[k].String()
	}
	return out + "}"
}

// MapColumnType rebuilds a column type, replacing every primitive leaf with
// the result of fn. Arrays and structs are rebuilt, never mutated.
func MapColumnType(t ColumnType, fn func(PrimitiveType) ColumnType) ColumnType {
	switch ct := t.(type) {
	case PrimitiveType:
		return fn(ct)
	case ArrayType:
		return ArrayType{Element: MapColumnType(ct.Element, fn)}
	case StructType:
		out := make(StructType, len(ct))
		for k, v := range ct {
			out[k] = MapColumnType(v, fn)
		}
		return out
	case nil:
		return nil
	default:
		panic(fmt.Sprintf("schema: unknown column type %T", t))
	}
}

// ValidationRule is a constraint declared on a column.
type ValidationRule struct {
	Operator Operator
	Value    any
}

// ActionSchema describes a custom action exposed by a collection.
type ActionSchema struct {
	Scope        string // "Single", "Bulk" or "Global"
	GenerateFile bool
	StaticForm   bool
	Description  string
	SubmitButton string
}

// CollectionSchema maps field names to their definitions, along with the
// capabilities of the collection.
type CollectionSchema struct {
	Fields     map[string]FieldSchema
	Actions    map[string]ActionSchema
	Charts     []string
	Segments   []string
	Searchable bool
	Countable  bool
}

// Clone returns a shallow copy of the schema: maps are copied, field
// definitions are shared. Callers replacing a field must clone the field
// itself before changing it.
func (s *CollectionSchema) Clone() *CollectionSchema {
	out := &CollectionSchema{
		Fields:     make(map[string]FieldSchema, len(s.Fields)),
		Actions:    make(map[string]ActionSchema, len(s.Actions)),
		Charts:     append([]string(nil), s.Charts...),
		Segments:   append([]string(nil), s.Segments...),
		Searchable: s.Searchable,
		Countable:  s.Countable,
	}
	for name, field := range s.Fields {
		out.Fields[name] = field
	}
	for name, action := range s.Actions {
		out.Actions[name] = action
	}
	return out
}

// FieldNames returns the sorted field names of the schema.
func (s *CollectionSchema) FieldNames() []string {
	names := make([]string, 0, len(s.Fields))
	for name := range s.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Column returns the column named name, or nil if the field is missing or is
// a relation.
func (s *CollectionSchema) Column(name string) *ColumnSchema {
	col, _ := s.Fields[name].(*ColumnSchema)
	return col
}

// PrimaryKeys returns the sorted names of the primary key columns.
func (s *CollectionSchema) PrimaryKeys() []string {
	var pks []string
	for _, name := range s.FieldNames() {
		if col := s.Column(name); col != nil && col.IsPrimaryKey {
			pks = append(pks, name)
		}
	}
	return pks
}

// IsForeignKey reports whether the column is referenced as the foreign key of
// a many-to-one relation of this schema.
func (s *CollectionSchema) IsForeignKey(name string) bool {
	for _, field := range s.Fields {
		if rel, ok := field.(*ManyToOneSchema); ok && rel.ForeignKey == name {
			return true
		}
	}
	return false
}
