package engine

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
)

// Cursor iterates over a materialized result set.
type Cursor struct {
	docs    []bson.Raw
	pos     int
	current bson.Raw
	err     error
	closed  bool
}

func newCursor(docs []bson.D) (*Cursor, error) {
	raws := make([]bson.Raw, 0, len(docs))
	for _, d := range docs {
		data, err := bson.Marshal(d)
		if err != nil {
			return nil, err
		}
		raws = append(raws, data)
	}
	return &Cursor{docs: raws}, nil
}

func (c *Cursor) Next(ctx context.Context) bool {
	if c.closed || c.err != nil {
		return false
	}
	if err := ctx.Err(); err != nil {
		c.err = err
		return false
	}
	if c.pos >= len(c.docs) {
		c.current = nil
		return false
	}
	c.current = c.docs[c.pos]
	c.pos++
	return true
}

func (c *Cursor) Current() bson.Raw {
	return c.current
}

func (c *Cursor) Err() error {
	return c.err
}

func (c *Cursor) Close(context.Context) error {
	c.closed = true
	c.docs = nil
	return nil
}

// Remaining reports how many documents have not been returned yet.
func (c *Cursor) Remaining() int {
	return len(c.docs) - c.pos
}
