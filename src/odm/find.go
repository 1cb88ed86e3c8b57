package odm

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"

	"syndrodm/src/driver"
	"syndrodm/src/operators"
)

// FindMany is a multi-document query builder. Chain methods mutate the
// builder and return it; terminals run one driver call each and can be
// invoked again against current data. A builder is not safe for
// concurrent use.
type FindMany[T any] struct {
	state queryState[T]
}

func newFindMany[T any](s *Schema[T]) *FindMany[T] {
	return &FindMany[T]{state: queryState[T]{schema: s, session: s.session}}
}

// Find appends filter expressions; they are combined with $and.
func (q *FindMany[T]) Find(exprs ...operators.FindExpression) *FindMany[T] {
	q.state.addFilters(exprs)
	return q
}

// Sort appends sort keys. Arguments may be nil, a fields.SortSpec, a
// string with an optional +/- prefix, or a slice of those. A malformed
// argument is recorded and returned by every terminal.
func (q *FindMany[T]) Sort(args ...any) *FindMany[T] {
	_ = q.state.addSort(args)
	return q
}

// SortE is Sort returning the argument error directly.
func (q *FindMany[T]) SortE(args ...any) (*FindMany[T], error) {
	err := q.state.addSort(args)
	return q, err
}

func (q *FindMany[T]) Skip(n int64) *FindMany[T] {
	q.state.skip = n
	return q
}

func (q *FindMany[T]) Limit(n int64) *FindMany[T] {
	q.state.limit = n
	return q
}

// Project restricts the returned attributes to the stored fields of
// model's type. nil restores full documents.
func (q *FindMany[T]) Project(model any) *FindMany[T] {
	if model == nil {
		q.state.projection = nil
		return q
	}
	q.state.projection = projectionOf(model)
	return q
}

// SetSession runs the query inside s. nil keeps the current session.
func (q *FindMany[T]) SetSession(s driver.Session) *FindMany[T] {
	q.state.setSession(s)
	return q
}

// Err returns the first error recorded while chaining.
func (q *FindMany[T]) Err() error {
	return q.state.err
}

// Filter renders the accumulated filter.
func (q *FindMany[T]) Filter() bson.M {
	return operators.And(q.state.filters...).Render()
}

func (q *FindMany[T]) ToList(ctx context.Context) ([]T, error) {
	return q.state.list(ctx, 0)
}

// Each streams the matching documents to fn, stopping at its first error.
func (q *FindMany[T]) Each(ctx context.Context, fn func(*T) error) error {
	return q.state.each(ctx, 0, fn)
}

// First returns the first matching document, or nil.
func (q *FindMany[T]) First(ctx context.Context) (*T, error) {
	docs, err := q.state.list(ctx, 1)
	if err != nil || len(docs) == 0 {
		return nil, err
	}
	return &docs[0], nil
}

func (q *FindMany[T]) Count(ctx context.Context) (int64, error) {
	return q.state.count(ctx)
}

func (q *FindMany[T]) Exists(ctx context.Context) (bool, error) {
	doc, err := q.First(ctx)
	return doc != nil, err
}

// Update spawns a many-document update builder over the current filter.
func (q *FindMany[T]) Update(updates ...any) *UpdateQuery[T] {
	filter, err := q.state.spawnFilter()
	return newUpdateQuery(q.state.schema, filter, err, q.state.session, true).Update(updates...)
}

func (q *FindMany[T]) Set(values bson.M) *UpdateQuery[T] {
	return q.Update(operators.Set(map[string]any(values)))
}

func (q *FindMany[T]) Inc(values bson.M) *UpdateQuery[T] {
	return q.Update(operators.Inc(map[string]any(values)))
}

func (q *FindMany[T]) CurrentDate(values bson.M) *UpdateQuery[T] {
	return q.Update(operators.CurrentDate(map[string]any(values)))
}

// Delete spawns a many-document delete builder over the current filter.
func (q *FindMany[T]) Delete() *DeleteQuery[T] {
	filter, err := q.state.spawnFilter()
	return newDeleteQuery(q.state.schema, filter, err, q.state.session, true)
}

// Aggregate runs pipeline after $match, $sort, $skip and $limit stages
// derived from the builder.
func (q *FindMany[T]) Aggregate(pipeline ...bson.D) *AggregationQuery[T, bson.M] {
	return AggregateAs[bson.M](q, pipeline...)
}

// AggregateAs is FindMany.Aggregate decoding results into R.
func AggregateAs[R, T any](q *FindMany[T], pipeline ...bson.D) *AggregationQuery[T, R] {
	prefix, err := q.state.pipelinePrefix()
	a := newAggregation[T, R](q.state.schema, q.state.session, append(prefix, pipeline...))
	a.err = err
	return a
}

// FindOne is a single-document query builder. Result is its terminal.
type FindOne[T any] struct {
	state queryState[T]
}

func newFindOne[T any](s *Schema[T]) *FindOne[T] {
	return &FindOne[T]{state: queryState[T]{schema: s, session: s.session}}
}

func (q *FindOne[T]) Find(exprs ...operators.FindExpression) *FindOne[T] {
	q.state.addFilters(exprs)
	return q
}

func (q *FindOne[T]) Sort(args ...any) *FindOne[T] {
	_ = q.state.addSort(args)
	return q
}

func (q *FindOne[T]) SortE(args ...any) (*FindOne[T], error) {
	err := q.state.addSort(args)
	return q, err
}

func (q *FindOne[T]) Skip(n int64) *FindOne[T] {
	q.state.skip = n
	return q
}

func (q *FindOne[T]) Project(model any) *FindOne[T] {
	if model == nil {
		q.state.projection = nil
		return q
	}
	q.state.projection = projectionOf(model)
	return q
}

func (q *FindOne[T]) SetSession(s driver.Session) *FindOne[T] {
	q.state.setSession(s)
	return q
}

func (q *FindOne[T]) Err() error {
	return q.state.err
}

func (q *FindOne[T]) Filter() bson.M {
	return operators.And(q.state.filters...).Render()
}

// Result runs the query. No match is (nil, nil).
func (q *FindOne[T]) Result(ctx context.Context) (*T, error) {
	return q.state.findOne(ctx)
}

func (q *FindOne[T]) Exists(ctx context.Context) (bool, error) {
	doc, err := q.state.findOne(ctx)
	return doc != nil, err
}

// Update spawns a single-document update builder over the current filter.
func (q *FindOne[T]) Update(updates ...any) *UpdateQuery[T] {
	filter, err := q.state.spawnFilter()
	return newUpdateQuery(q.state.schema, filter, err, q.state.session, false).Update(updates...)
}

// Set is Update(operators.Set(values)).
func (q *FindOne[T]) Set(values bson.M) *UpdateQuery[T] {
	return q.Update(operators.Set(map[string]any(values)))
}

func (q *FindOne[T]) Inc(values bson.M) *UpdateQuery[T] {
	return q.Update(operators.Inc(map[string]any(values)))
}

func (q *FindOne[T]) CurrentDate(values bson.M) *UpdateQuery[T] {
	return q.Update(operators.CurrentDate(map[string]any(values)))
}

func (q *FindOne[T]) Delete() *DeleteQuery[T] {
	filter, err := q.state.spawnFilter()
	return newDeleteQuery(q.state.schema, filter, err, q.state.session, false)
}

// ReplaceOne replaces the first match with doc. ErrNotFound when nothing
// matched.
func (q *FindOne[T]) ReplaceOne(ctx context.Context, doc *T) (*driver.UpdateResult, error) {
	if q.state.err != nil {
		return nil, q.state.err
	}
	filter, err := q.state.filterDocument()
	if err != nil {
		return nil, err
	}
	raw, err := q.state.schema.reg.codecs.Marshal(doc)
	if err != nil {
		return nil, err
	}
	res, err := q.state.schema.coll.ReplaceOne(ctx, filter, raw, driver.UpdateOptions{Session: q.state.session})
	if err != nil {
		return nil, fmt.Errorf("failed to replace in %s: %w", q.state.schema.name, err)
	}
	if res.MatchedCount == 0 {
		return res, fmt.Errorf("%w: %s %v", ErrNotFound, q.state.schema.name, filter)
	}
	return res, nil
}
