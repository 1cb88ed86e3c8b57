package operators

import (
	"strings"

	"go.mongodb.org/mongo-driver/bson"
)

// Logical operator names.
const (
	OpAnd = "$and"
	OpOr  = "$or"
	OpNor = "$nor"
	OpNot = "$not"
)

// Logical combines sub-expressions. Nested combinators of the same kind are
// rendered as written, never flattened.
type Logical struct {
	Operator    string
	Expressions []FindExpression
}

// And renders to {} for zero expressions, to the single expression itself
// for one, and to {"$and": [...]} otherwise.
func And(expressions ...FindExpression) *Logical {
	return &Logical{Operator: OpAnd, Expressions: expressions}
}

func Or(expressions ...FindExpression) *Logical {
	return &Logical{Operator: OpOr, Expressions: expressions}
}

func Nor(expressions ...FindExpression) *Logical {
	return &Logical{Operator: OpNor, Expressions: expressions}
}

func (l *Logical) Render() bson.M {
	if len(l.Expressions) == 0 {
		return bson.M{}
	}
	if l.Operator == OpAnd && len(l.Expressions) == 1 {
		return l.Expressions[0].Render()
	}
	rendered := make(bson.A, 0, len(l.Expressions))
	for _, e := range l.Expressions {
		rendered = append(rendered, e.Render())
	}
	return bson.M{l.Operator: rendered}
}

func (*Logical) findExpression() {}

// Negation inverts a single-field expression.
type Negation struct {
	Expression FindExpression
}

// Not negates expression. A single-field operator expression renders as
// {field: {"$not": {...}}}, a bare equality as {field: {"$not": {"$eq": v}}},
// and anything else (logical combinators, raw multi-key filters) as
// {"$nor": [expression]}.
func Not(expression FindExpression) *Negation {
	return &Negation{Expression: expression}
}

func (n *Negation) Render() bson.M {
	inner := n.Expression.Render()
	if len(inner) != 1 {
		return bson.M{OpNor: bson.A{inner}}
	}
	for field, value := range inner {
		if strings.HasPrefix(field, "$") {
			return bson.M{OpNor: bson.A{inner}}
		}
		if ops, ok := value.(bson.M); ok && isOperatorDocument(ops) {
			return bson.M{field: bson.M{OpNot: ops}}
		}
		return bson.M{field: bson.M{OpNot: bson.M{OpEq: value}}}
	}
	return inner
}

func (*Negation) findExpression() {}

func isOperatorDocument(m bson.M) bool {
	if len(m) == 0 {
		return false
	}
	for k := range m {
		if !strings.HasPrefix(k, "$") {
			return false
		}
	}
	return true
}
