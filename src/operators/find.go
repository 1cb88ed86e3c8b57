// Package operators holds the expression tree used by the query builders.
//
// Every node knows how to render itself into the filter or update document
// understood by the storage driver: nested mappings keyed by `$`-prefixed
// operator names, e.g. {"age": {"$gt": 25}}.
package operators

import (
	"reflect"

	"go.mongodb.org/mongo-driver/bson"
)

// Comparison operator names.
const (
	OpEq  = "$eq"
	OpNe  = "$ne"
	OpGt  = "$gt"
	OpGte = "$gte"
	OpLt  = "$lt"
	OpLte = "$lte"
	OpIn  = "$in"
	OpNin = "$nin"
)

// FindExpression is a node of a filter tree.
type FindExpression interface {
	Render() bson.M
	findExpression()
}

// Comparison compares one field against an operand. Eq renders to the
// short form {field: value}; every other operator renders as
// {field: {op: value}}.
type Comparison struct {
	Field    string
	Operator string
	Value    any
}

func (c *Comparison) Render() bson.M {
	if c.Operator == OpEq {
		return bson.M{c.Field: c.Value}
	}
	return bson.M{c.Field: bson.M{c.Operator: c.Value}}
}

func (*Comparison) findExpression() {}

func Eq[F ~string](field F, value any) *Comparison {
	return &Comparison{Field: string(field), Operator: OpEq, Value: value}
}

func Ne[F ~string](field F, value any) *Comparison {
	return &Comparison{Field: string(field), Operator: OpNe, Value: value}
}

func Gt[F ~string](field F, value any) *Comparison {
	return &Comparison{Field: string(field), Operator: OpGt, Value: value}
}

func Gte[F ~string](field F, value any) *Comparison {
	return &Comparison{Field: string(field), Operator: OpGte, Value: value}
}

func Lt[F ~string](field F, value any) *Comparison {
	return &Comparison{Field: string(field), Operator: OpLt, Value: value}
}

func Lte[F ~string](field F, value any) *Comparison {
	return &Comparison{Field: string(field), Operator: OpLte, Value: value}
}

// In matches documents whose field equals any of values.
func In[F ~string, V any](field F, values ...V) *Comparison {
	return &Comparison{Field: string(field), Operator: OpIn, Value: toArray(values)}
}

// NotIn matches documents whose field equals none of values.
func NotIn[F ~string, V any](field F, values ...V) *Comparison {
	return &Comparison{Field: string(field), Operator: OpNin, Value: toArray(values)}
}

// RawExpression is a filter mapping passed through unchanged.
type RawExpression bson.M

// Raw wraps an already rendered filter document.
func Raw(filter bson.M) RawExpression {
	return RawExpression(filter)
}

func (r RawExpression) Render() bson.M {
	if r == nil {
		return bson.M{}
	}
	return bson.M(r)
}

func (RawExpression) findExpression() {}

func toArray[V any](values []V) bson.A {
	out := make(bson.A, 0, len(values))
	for _, v := range values {
		out = append(out, v)
	}
	return out
}

// anyArray converts a slice or array of any element type into bson.A.
// Scalars are wrapped in a one-element array.
func anyArray(values any) bson.A {
	if a, ok := values.(bson.A); ok {
		return a
	}
	rv := reflect.ValueOf(values)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return bson.A{values}
	}
	out := make(bson.A, 0, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		out = append(out, rv.Index(i).Interface())
	}
	return out
}
