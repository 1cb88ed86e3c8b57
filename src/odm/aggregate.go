package odm

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/multierr"

	"syndrodm/src/driver"
)

// AggregationQuery runs a pipeline over T's collection and decodes each
// result into R.
type AggregationQuery[T, R any] struct {
	schema   *Schema[T]
	pipeline []bson.D
	session  driver.Session
	err      error
}

func newAggregation[T, R any](s *Schema[T], session driver.Session, pipeline []bson.D) *AggregationQuery[T, R] {
	return &AggregationQuery[T, R]{schema: s, pipeline: pipeline, session: session}
}

// Project appends a $project stage derived from model's stored fields.
func (q *AggregationQuery[T, R]) Project(model any) *AggregationQuery[T, R] {
	if p := projectionOf(model); len(p) > 0 {
		q.pipeline = append(q.pipeline, bson.D{{Key: "$project", Value: p}})
	}
	return q
}

func (q *AggregationQuery[T, R]) SetSession(s driver.Session) *AggregationQuery[T, R] {
	if s != nil {
		q.session = s
	}
	return q
}

// Pipeline returns the stages that will be sent.
func (q *AggregationQuery[T, R]) Pipeline() []bson.D {
	return q.pipeline
}

func (q *AggregationQuery[T, R]) Each(ctx context.Context, fn func(*R) error) (err error) {
	if q.err != nil {
		return q.err
	}
	stages := make(bson.A, 0, len(q.pipeline))
	for _, st := range q.pipeline {
		stages = append(stages, st)
	}
	cur, err := q.schema.coll.Aggregate(ctx, stages, driver.WriteOptions{Session: q.session})
	if err != nil {
		return fmt.Errorf("failed to aggregate %s: %w", q.schema.name, err)
	}
	defer func() {
		err = multierr.Append(err, cur.Close(ctx))
	}()
	for cur.Next(ctx) {
		var out R
		if err := q.schema.reg.codecs.Unmarshal(cur.Current(), &out); err != nil {
			return err
		}
		if err := fn(&out); err != nil {
			return err
		}
	}
	return cur.Err()
}

func (q *AggregationQuery[T, R]) ToList(ctx context.Context) ([]R, error) {
	var out []R
	err := q.Each(ctx, func(r *R) error {
		out = append(out, *r)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
