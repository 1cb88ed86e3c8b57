package odm

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"

	"syndrodm/src/driver"
	"syndrodm/src/operators"
)

var errEmptyUpdate = errors.New("update has no operators")

// UpdateQuery updates the documents matched by the filter it was spawned
// with. Update calls accumulate: within one operator kind the last write
// to a key wins, different kinds are kept side by side.
type UpdateQuery[T any] struct {
	schema  *Schema[T]
	filter  bson.D
	update  bson.M
	many    bool
	upsert  *T
	session driver.Session
	err     error
}

func newUpdateQuery[T any](s *Schema[T], filter bson.D, err error, session driver.Session, many bool) *UpdateQuery[T] {
	return &UpdateQuery[T]{
		schema:  s,
		filter:  filter,
		update:  bson.M{},
		many:    many,
		session: session,
		err:     err,
	}
}

// Update merges update expressions, raw update documents or bson.M
// operator documents into the builder. Any other argument is recorded as
// ErrTypeMismatch and returned by Execute.
func (q *UpdateQuery[T]) Update(updates ...any) *UpdateQuery[T] {
	for _, u := range updates {
		if err := operators.Merge(q.update, u); err != nil && q.err == nil {
			q.err = fmt.Errorf("%w: %w", ErrTypeMismatch, err)
		}
	}
	return q
}

func (q *UpdateQuery[T]) Set(values bson.M) *UpdateQuery[T] {
	return q.Update(operators.Set(map[string]any(values)))
}

func (q *UpdateQuery[T]) Inc(values bson.M) *UpdateQuery[T] {
	return q.Update(operators.Inc(map[string]any(values)))
}

func (q *UpdateQuery[T]) CurrentDate(values bson.M) *UpdateQuery[T] {
	return q.Update(operators.CurrentDate(map[string]any(values)))
}

// Upsert inserts doc when the filter matches nothing.
func (q *UpdateQuery[T]) Upsert(doc *T) *UpdateQuery[T] {
	q.upsert = doc
	return q
}

func (q *UpdateQuery[T]) SetSession(s driver.Session) *UpdateQuery[T] {
	if s != nil {
		q.session = s
	}
	return q
}

// Document returns the accumulated update document.
func (q *UpdateQuery[T]) Document() bson.M {
	return q.update
}

// Execute sends the update. A single-document update that matched nothing
// and has no upsert document fails with ErrNotFound.
func (q *UpdateQuery[T]) Execute(ctx context.Context) (*driver.UpdateResult, error) {
	if q.err != nil {
		return nil, q.err
	}
	if len(q.update) == 0 {
		return nil, fmt.Errorf("%s: %w", q.schema.name, errEmptyUpdate)
	}
	update, err := q.schema.reg.codecs.Normalize(q.update)
	if err != nil {
		return nil, err
	}

	opts := driver.UpdateOptions{Session: q.session}
	var res *driver.UpdateResult
	if q.many {
		res, err = q.schema.coll.UpdateMany(ctx, q.filter, update, opts)
	} else {
		res, err = q.schema.coll.UpdateOne(ctx, q.filter, update, opts)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update %s: %w", q.schema.name, err)
	}
	if res.MatchedCount > 0 {
		return res, nil
	}

	if q.upsert != nil {
		if err := q.schema.Insert(ctx, q.upsert, InSession(q.session)); err != nil {
			return nil, err
		}
		res.UpsertedCount = 1
		res.UpsertedID = *identify(q.upsert).GetID()
		return res, nil
	}
	if !q.many {
		return res, fmt.Errorf("%w: %s %v", ErrNotFound, q.schema.name, q.filter)
	}
	return res, nil
}

// DeleteQuery deletes the documents matched by the filter it was spawned
// with.
type DeleteQuery[T any] struct {
	schema  *Schema[T]
	filter  bson.D
	many    bool
	session driver.Session
	err     error
}

func newDeleteQuery[T any](s *Schema[T], filter bson.D, err error, session driver.Session, many bool) *DeleteQuery[T] {
	return &DeleteQuery[T]{schema: s, filter: filter, many: many, session: session, err: err}
}

func (q *DeleteQuery[T]) SetSession(s driver.Session) *DeleteQuery[T] {
	if s != nil {
		q.session = s
	}
	return q
}

func (q *DeleteQuery[T]) Execute(ctx context.Context) (*driver.DeleteResult, error) {
	if q.err != nil {
		return nil, q.err
	}
	opts := driver.WriteOptions{Session: q.session}
	var res *driver.DeleteResult
	var err error
	if q.many {
		res, err = q.schema.coll.DeleteMany(ctx, q.filter, opts)
	} else {
		res, err = q.schema.coll.DeleteOne(ctx, q.filter, opts)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to delete from %s: %w", q.schema.name, err)
	}
	return res, nil
}
