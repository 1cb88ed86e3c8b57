// Package fields provides the Field token used to reference document
// attributes in queries, updates and sort specifications.
package fields

import (
	"fmt"
	"strings"

	"syndrodm/src/operators"
)

// Field is the dotted path of a document attribute, e.g. "address.city".
// Comparison methods build find expressions rather than evaluating.
type Field string

// New returns the token for a top-level attribute.
func New(name string) Field {
	return Field(name)
}

// Attr extends the path with a nested attribute name.
func (f Field) Attr(name string) Field {
	if f == "" {
		return Field(name)
	}
	return Field(string(f) + "." + name)
}

// Index extends the path with an array position or map key.
func (f Field) Index(i any) Field {
	return f.Attr(fmt.Sprint(i))
}

func (f Field) Path() string {
	return string(f)
}

func (f Field) String() string {
	return string(f)
}

// Equal reports whether both tokens reference the same path.
func (f Field) Equal(other Field) bool {
	return f == other
}

// Segments splits the path on dots.
func (f Field) Segments() []string {
	if f == "" {
		return nil
	}
	return strings.Split(string(f), ".")
}

func (f Field) Eq(v any) *operators.Comparison  { return operators.Eq(f, v) }
func (f Field) Ne(v any) *operators.Comparison  { return operators.Ne(f, v) }
func (f Field) Gt(v any) *operators.Comparison  { return operators.Gt(f, v) }
func (f Field) Gte(v any) *operators.Comparison { return operators.Gte(f, v) }
func (f Field) Lt(v any) *operators.Comparison  { return operators.Lt(f, v) }
func (f Field) Lte(v any) *operators.Comparison { return operators.Lte(f, v) }

func (f Field) In(values ...any) *operators.Comparison {
	return operators.In(f, values...)
}

func (f Field) NotIn(values ...any) *operators.Comparison {
	return operators.NotIn(f, values...)
}

func (f Field) Exists(exists bool) *operators.FieldOperator {
	return operators.Exists(f, exists)
}

func (f Field) Asc() SortSpec {
	return SortSpec{Field: f, Direction: Ascending}
}

func (f Field) Desc() SortSpec {
	return SortSpec{Field: f, Direction: Descending}
}
