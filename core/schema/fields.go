package schema

import "fmt"

// FieldKind names the variant of a FieldSchema.
type FieldKind string

const (
	KindColumn     FieldKind = "Column"
	KindManyToOne  FieldKind = "ManyToOne"
	KindOneToOne   FieldKind = "OneToOne"
	KindOneToMany  FieldKind = "OneToMany"
	KindManyToMany FieldKind = "ManyToMany"
)

// FieldSchema is the closed sum of field definitions. The unexported method
// keeps the set of variants limited to this package.
type FieldSchema interface {
	Kind() FieldKind
	Accept(v FieldVisitor) error
	sealed()
}

// FieldVisitor has one method per FieldSchema variant. Adding a variant adds a
// method here, which breaks every implementation at compile time.
type FieldVisitor interface {
	VisitColumn(f *ColumnSchema) error
	VisitManyToOne(f *ManyToOneSchema) error
	VisitOneToOne(f *OneToOneSchema) error
	VisitOneToMany(f *OneToManySchema) error
	VisitManyToMany(f *ManyToManySchema) error
}

// ColumnSchema is a field holding a value.
type ColumnSchema struct {
	ColumnType      ColumnType
	FilterOperators OperatorSet
	IsPrimaryKey    bool
	IsReadOnly      bool
	IsSortable      bool
	DefaultValue    any
	EnumValues      []string
	Validation      []ValidationRule
}

// ManyToOneSchema is a relation where this collection holds the foreign key.
type ManyToOneSchema struct {
	ForeignCollection string
	ForeignKey        string
	ForeignKeyTarget  string
}

// OneToOneSchema is a relation where the foreign collection holds a
// back-reference to this one.
type OneToOneSchema struct {
	ForeignCollection string
	OriginKey         string
	OriginKeyTarget   string
}

// OneToManySchema is like OneToOneSchema with many related records.
type OneToManySchema struct {
	ForeignCollection string
	OriginKey         string
	OriginKeyTarget   string
}

// ManyToManySchema is a relation going through a join collection.
type ManyToManySchema struct {
	ForeignCollection string
	ThroughCollection string
	ForeignKey        string
	ForeignKeyTarget  string
	OriginKey         string
	OriginKeyTarget   string
}

func (*ColumnSchema) Kind() FieldKind     { return KindColumn }
func (*ManyToOneSchema) Kind() FieldKind  { return KindManyToOne }
func (*OneToOneSchema) Kind() FieldKind   { return KindOneToOne }
func (*OneToManySchema) Kind() FieldKind  { return KindOneToMany }
func (*ManyToManySchema) Kind() FieldKind { return KindManyToMany }

func (f *ColumnSchema) Accept(v FieldVisitor) error     { return v.VisitColumn(f) }
func (f *ManyToOneSchema) Accept(v FieldVisitor) error  { return v.VisitManyToOne(f) }
func (f *OneToOneSchema) Accept(v FieldVisitor) error   { return v.VisitOneToOne(f) }
func (f *OneToManySchema) Accept(v FieldVisitor) error  { return v.VisitOneToMany(f) }
func (f *ManyToManySchema) Accept(v FieldVisitor) error { return v.VisitManyToMany(f) }

func (*ColumnSchema) sealed()     {}
func (*ManyToOneSchema) sealed()  {}
func (*OneToOneSchema) sealed()   {}
func (*OneToManySchema) sealed()  {}
func (*ManyToManySchema) sealed() {}

// Clone copies the column. The operator set and validation rules are copied
// so that the clone can be changed freely.
func (f *ColumnSchema) Clone() *ColumnSchema {
	out := *f
	out.FilterOperators = f.FilterOperators.Clone()
	out.EnumValues = append([]string(nil), f.EnumValues...)
	out.Validation = append([]ValidationRule(nil), f.Validation...)
	return &out
}

// Clone copies the relation.
func (f *ManyToOneSchema) Clone() *ManyToOneSchema { out := *f; return &out }

// Clone copies the relation.
func (f *OneToOneSchema) Clone() *OneToOneSchema { out := *f; return &out }

// Clone copies the relation.
func (f *OneToManySchema) Clone() *OneToManySchema { out := *f; return &out }

// Clone copies the relation.
func (f *ManyToManySchema) Clone() *ManyToManySchema { out := *f; return &out }

// CloneField copies any field variant.
func CloneField(f FieldSchema) FieldSchema {
	switch field := f.(type) {
	case *ColumnSchema:
		return field.Clone()
	case *ManyToOneSchema:
		return field.Clone()
	case *OneToOneSchema:
		return field.Clone()
	case *OneToManySchema:
		return field.Clone()
	case *ManyToManySchema:
		return field.Clone()
	default:
		panic(UnknownFieldKind(f))
	}
}

// ForeignCollection returns the collection targeted by a relation field, and
// false for columns.
func ForeignCollection(f FieldSchema) (string, bool) {
	switch field := f.(type) {
	case *ManyToOneSchema:
		return field.ForeignCollection, true
	case *OneToOneSchema:
		return field.ForeignCollection, true
	case *OneToManySchema:
		return field.ForeignCollection, true
	case *ManyToManySchema:
		return field.ForeignCollection, true
	case *ColumnSchema:
		return "", false
	default:
		panic(UnknownFieldKind(f))
	}
}

// IsSingleRelation reports whether a field is a ManyToOne or OneToOne
// relation, the only relations that can be traversed by a field path.
func IsSingleRelation(f FieldSchema) bool {
	switch f.(type) {
	case *ManyToOneSchema, *OneToOneSchema:
		return true
	default:
		return false
	}
}

// UnknownFieldKind builds the message used when a type switch meets a
// FieldSchema implementation it does not know about.
func UnknownFieldKind(f FieldSchema) string {
	return fmt.Sprintf("schema: unexpected field schema %T", f)
}
