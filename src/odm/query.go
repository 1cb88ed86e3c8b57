package odm

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/multierr"

	"syndrodm/src/driver"
	"syndrodm/src/fields"
	"syndrodm/src/operators"
)

// queryState is the accumulator shared by the find builders. A builder
// owns its state; spawned update and delete builders get a copy of the
// rendered filter.
type queryState[T any] struct {
	schema     *Schema[T]
	filters    []operators.FindExpression
	sort       []fields.SortSpec
	skip       int64
	limit      int64
	projection bson.D
	session    driver.Session
	err        error
}

func (q *queryState[T]) addFilters(exprs []operators.FindExpression) {
	for _, e := range exprs {
		if e != nil {
			q.filters = append(q.filters, e)
		}
	}
}

func (q *queryState[T]) addSort(args []any) error {
	specs, err := fields.ParseSort(args...)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrTypeMismatch, err)
		if q.err == nil {
			q.err = err
		}
		return err
	}
	q.sort = append(q.sort, specs...)
	return nil
}

func (q *queryState[T]) setSession(s driver.Session) {
	if s != nil {
		q.session = s
	}
}

// filterDocument renders the accumulated filter in its stored form. An
// empty accumulator renders to {}.
func (q *queryState[T]) filterDocument() (bson.D, error) {
	return q.schema.reg.codecs.Normalize(operators.And(q.filters...).Render())
}

func (q *queryState[T]) findOptions() driver.FindOptions {
	return driver.FindOptions{
		Projection: q.projection,
		Sort:       fields.SortDocument(q.sort),
		Skip:       q.skip,
		Limit:      q.limit,
		Session:    q.session,
	}
}

func (q *queryState[T]) cursor(ctx context.Context, limit int64) (driver.Cursor, error) {
	if q.err != nil {
		return nil, q.err
	}
	filter, err := q.filterDocument()
	if err != nil {
		return nil, err
	}
	opts := q.findOptions()
	if limit > 0 {
		opts.Limit = limit
	}
	cur, err := q.schema.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", q.schema.name, err)
	}
	return cur, nil
}

func (q *queryState[T]) each(ctx context.Context, limit int64, fn func(*T) error) (err error) {
	cur, err := q.cursor(ctx, limit)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, cur.Close(ctx))
	}()
	for cur.Next(ctx) {
		doc, err := q.schema.decode(cur.Current())
		if err != nil {
			return err
		}
		if err := fn(doc); err != nil {
			return err
		}
	}
	return cur.Err()
}

func (q *queryState[T]) list(ctx context.Context, limit int64) ([]T, error) {
	var out []T
	err := q.each(ctx, limit, func(doc *T) error {
		out = append(out, *doc)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (q *queryState[T]) count(ctx context.Context) (int64, error) {
	if q.err != nil {
		return 0, q.err
	}
	filter, err := q.filterDocument()
	if err != nil {
		return 0, err
	}
	n, err := q.schema.coll.CountDocuments(ctx, filter, driver.CountOptions{
		Skip:    q.skip,
		Limit:   q.limit,
		Session: q.session,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", q.schema.name, err)
	}
	return n, nil
}

func (q *queryState[T]) findOne(ctx context.Context) (*T, error) {
	if q.err != nil {
		return nil, q.err
	}
	filter, err := q.filterDocument()
	if err != nil {
		return nil, err
	}
	raw, err := q.schema.coll.FindOne(ctx, filter, q.findOptions())
	if isNoDocuments(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", q.schema.name, err)
	}
	return q.schema.decode(raw)
}

// spawnFilter returns a deep copy of the current filter for a builder of
// another kind.
func (q *queryState[T]) spawnFilter() (bson.D, error) {
	if q.err != nil {
		return nil, q.err
	}
	return q.filterDocument()
}

// pipelinePrefix turns the find state into leading aggregation stages.
func (q *queryState[T]) pipelinePrefix() ([]bson.D, error) {
	filter, err := q.spawnFilter()
	if err != nil {
		return nil, err
	}
	var stages []bson.D
	if len(filter) > 0 {
		stages = append(stages, bson.D{{Key: "$match", Value: filter}})
	}
	if len(q.sort) > 0 {
		stages = append(stages, bson.D{{Key: "$sort", Value: fields.SortDocument(q.sort)}})
	}
	if q.skip > 0 {
		stages = append(stages, bson.D{{Key: "$skip", Value: q.skip}})
	}
	if q.limit > 0 {
		stages = append(stages, bson.D{{Key: "$limit", Value: q.limit}})
	}
	return stages, nil
}
