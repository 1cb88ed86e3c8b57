// Package driver defines the storage collaborator the ODM talks to.
//
// Two implementations exist: the MongoDB adapter in this package and the
// in-memory engine in syndrodm/src/engine. Filters, updates and pipelines
// are driver-native documents ($-prefixed operator mappings).
package driver

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
)

var (
	// ErrNoDocuments is returned by FindOne when the filter matched nothing.
	ErrNoDocuments = errors.New("no documents in result")
	ErrClosed      = errors.New("driver is closed")
)

// Database hands out collection handles and sessions.
type Database interface {
	Name() string
	Collection(name string) Collection
	StartSession(ctx context.Context) (Session, error)
}

// Session groups operations into a transaction. Handles are passed by
// reference through the query builders; only the migration runner opens
// and closes them.
type Session interface {
	ID() string
	StartTransaction(ctx context.Context) error
	CommitTransaction(ctx context.Context) error
	AbortTransaction(ctx context.Context) error
	EndSession(ctx context.Context)
}

// Cursor is a lazy sequence of raw records.
type Cursor interface {
	Next(ctx context.Context) bool
	Current() bson.Raw
	Err() error
	Close(ctx context.Context) error
}

type FindOptions struct {
	Projection bson.D
	Sort       bson.D
	Skip       int64
	Limit      int64
	Session    Session
}

type WriteOptions struct {
	Session Session
}

type UpdateOptions struct {
	Upsert  bool
	Session Session
}

type CountOptions struct {
	Skip    int64
	Limit   int64
	Session Session
}

type UpdateResult struct {
	MatchedCount  int64
	ModifiedCount int64
	UpsertedCount int64
	UpsertedID    any
}

type DeleteResult struct {
	DeletedCount int64
}

// IndexModel describes one index to create. Options hold the raw index
// options (unique, sparse, expireAfterSeconds, ...).
type IndexModel struct {
	Name    string
	Keys    bson.D
	Options bson.D
}

// Collection is the per-collection operation surface.
type Collection interface {
	Name() string
	Find(ctx context.Context, filter any, opts FindOptions) (Cursor, error)
	// FindOne returns ErrNoDocuments when nothing matched.
	FindOne(ctx context.Context, filter any, opts FindOptions) (bson.Raw, error)
	InsertOne(ctx context.Context, doc any, opts WriteOptions) (any, error)
	InsertMany(ctx context.Context, docs []any, opts WriteOptions) ([]any, error)
	UpdateOne(ctx context.Context, filter, update any, opts UpdateOptions) (*UpdateResult, error)
	UpdateMany(ctx context.Context, filter, update any, opts UpdateOptions) (*UpdateResult, error)
	ReplaceOne(ctx context.Context, filter, doc any, opts UpdateOptions) (*UpdateResult, error)
	DeleteOne(ctx context.Context, filter any, opts WriteOptions) (*DeleteResult, error)
	DeleteMany(ctx context.Context, filter any, opts WriteOptions) (*DeleteResult, error)
	CountDocuments(ctx context.Context, filter any, opts CountOptions) (int64, error)
	Aggregate(ctx context.Context, pipeline any, opts WriteOptions) (Cursor, error)
	// ListIndexes returns the live index metadata, including the _id index.
	ListIndexes(ctx context.Context) ([]bson.D, error)
	CreateIndexes(ctx context.Context, models []IndexModel) error
	DropIndex(ctx context.Context, name string) error
}
