package operators

import "go.mongodb.org/mongo-driver/bson"

// FieldOperator renders as {field: {operator: value}} for the operators
// that carry nothing but a single operand.
type FieldOperator struct {
	Field    string
	Operator string
	Value    any
}

func (f *FieldOperator) Render() bson.M {
	return bson.M{f.Field: bson.M{f.Operator: f.Value}}
}

func (*FieldOperator) findExpression() {}

func Exists[F ~string](field F, exists bool) *FieldOperator {
	return &FieldOperator{Field: string(field), Operator: "$exists", Value: exists}
}

// Type matches on the BSON type alias or number, e.g. "string" or 2.
func Type[F ~string](field F, bsonType any) *FieldOperator {
	return &FieldOperator{Field: string(field), Operator: "$type", Value: bsonType}
}

// Size matches arrays with exactly n elements.
func Size[F ~string](field F, n int) *FieldOperator {
	return &FieldOperator{Field: string(field), Operator: "$size", Value: n}
}

// All matches arrays containing every one of values.
func All[F ~string](field F, values any) *FieldOperator {
	return &FieldOperator{Field: string(field), Operator: "$all", Value: anyArray(values)}
}

// ElemMatch matches arrays with at least one element satisfying expression.
type ElemMatchExpression struct {
	Field      string
	Expression FindExpression
}

func ElemMatch[F ~string](field F, expression FindExpression) *ElemMatchExpression {
	return &ElemMatchExpression{Field: string(field), Expression: expression}
}

func (e *ElemMatchExpression) Render() bson.M {
	return bson.M{e.Field: bson.M{"$elemMatch": e.Expression.Render()}}
}

func (*ElemMatchExpression) findExpression() {}

// RegexExpression matches string fields against a pattern.
type RegexExpression struct {
	Field   string
	Pattern string
	Options string
}

func Regex[F ~string](field F, pattern, options string) *RegexExpression {
	return &RegexExpression{Field: string(field), Pattern: pattern, Options: options}
}

func (r *RegexExpression) Render() bson.M {
	expr := bson.M{"$regex": r.Pattern}
	if r.Options != "" {
		expr["$options"] = r.Options
	}
	return bson.M{r.Field: expr}
}

func (*RegexExpression) findExpression() {}

// TextExpression runs a $text search against the collection's text index.
type TextExpression struct {
	Search        string
	Language      string
	CaseSensitive bool
}

func Text(search string) *TextExpression {
	return &TextExpression{Search: search}
}

func (t *TextExpression) Render() bson.M {
	expr := bson.M{"$search": t.Search}
	if t.Language != "" {
		expr["$language"] = t.Language
	}
	if t.CaseSensitive {
		expr["$caseSensitive"] = true
	}
	return bson.M{"$text": expr}
}

func (*TextExpression) findExpression() {}
