package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func booksSchema() *CollectionSchema {
	return &CollectionSchema{
		Fields: map[string]FieldSchema{
			"id":       &ColumnSchema{ColumnType: TypeUUID, IsPrimaryKey: true, FilterOperators: NewOperatorSet(OperatorEqual, OperatorIn)},
			"title":    &ColumnSchema{ColumnType: TypeString},
			"authorId": &ColumnSchema{ColumnType: TypeUUID},
			"author":   &ManyToOneSchema{ForeignCollection: "authors", ForeignKey: "authorId", ForeignKeyTarget: "id"},
		},
	}
}

func TestCollectionSchema_PrimaryKeysAndForeignKeys(t *testing.T) {
	s := booksSchema()

	assert.Equal(t, []string{"id"}, s.PrimaryKeys())
	assert.True(t, s.IsForeignKey("authorId"))
	assert.False(t, s.IsForeignKey("title"))
	assert.NotNil(t, s.Column("title"))
	assert.Nil(t, s.Column("author"))
	assert.Nil(t, s.Column("missing"))
}

func TestCollectionSchema_CloneIsIndependent(t *testing.T) {
	s := booksSchema()
	clone := s.Clone()
	delete(clone.Fields, "title")

	assert.Contains(t, s.Fields, "title")
	assert.NotContains(t, clone.Fields, "title")

	col := s.Column("id").Clone()
	col.FilterOperators[OperatorLike] = struct{}{}
	assert.False(t, s.Column("id").FilterOperators.Has(OperatorLike))
}

func TestMapColumnType(t *testing.T) {
	original := StructType{
		"data":  TypeBinary,
		"files": ArrayType{Element: TypeBinary},
		"name":  TypeString,
	}

	mapped := MapColumnType(original, func(p PrimitiveType) ColumnType {
		if p == TypeBinary {
			return TypeString
		}
		return p
	})

	assert.Equal(t, StructType{
		"data":  TypeString,
		"files": ArrayType{Element: TypeString},
		"name":  TypeString,
	}, mapped)
	assert.Equal(t, TypeBinary, original["data"], "original type must not change")
	assert.Equal(t, "{data: Binary, files: [Binary], name: String}", original.String())
}

type kindCounter struct{ columns, relations int }

func (k *kindCounter) VisitColumn(*ColumnSchema) error         { k.columns++; return nil }
func (k *kindCounter) VisitManyToOne(*ManyToOneSchema) error   { k.relations++; return nil }
func (k *kindCounter) VisitOneToOne(*OneToOneSchema) error     { k.relations++; return nil }
func (k *kindCounter) VisitOneToMany(*OneToManySchema) error   { k.relations++; return nil }
func (k *kindCounter) VisitManyToMany(*ManyToManySchema) error { k.relations++; return nil }

func TestFieldVisitor(t *testing.T) {
	counter := &kindCounter{}
	for _, field := range booksSchema().Fields {
		assert.NoError(t, field.Accept(counter))
	}
	assert.Equal(t, 3, counter.columns)
	assert.Equal(t, 1, counter.relations)
}

func TestOperatorSet(t *testing.T) {
	set := NewOperatorSet(OperatorEqual)
	union := set.Union(NewOperatorSet(OperatorIn))

	assert.True(t, union.Has(OperatorIn))
	assert.False(t, set.Has(OperatorIn))
	assert.Equal(t, []Operator{OperatorEqual, OperatorIn}, union.Sorted())

	var empty OperatorSet
	assert.False(t, empty.Has(OperatorEqual))
}
