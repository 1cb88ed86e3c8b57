// Package odm maps Go structs to collections and provides the query
// builders, document lifecycle operations and link resolution on top of
// a driver.Database.
//
// Every document type is registered once against a Registry. Registration
// binds the type to a collection and reconciles the declared index set
// with the live one:
//
//	type User struct {
//		odm.Base `bson:",inline"`
//		Email    string `bson:"email" odm:"index,unique"`
//	}
//
//	users, err := odm.Register[User](ctx, reg)
//	u, err := users.FindOne(users.Field("Email").Eq("a@b.c")).Result(ctx)
package odm

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"go.uber.org/zap"

	"syndrodm/src/driver"
	"syndrodm/src/encoder"
	"syndrodm/src/indexes"
	"syndrodm/src/metrics"
)

// Registry maps document types to their collection bindings. It is built
// once at startup and passed to everything that issues queries.
type Registry struct {
	db      driver.Database
	codecs  *encoder.Table
	logger  *zap.SugaredLogger
	metrics metrics.Collector

	mu      sync.RWMutex
	schemas map[reflect.Type]any
}

type RegistryOption func(*Registry)

func WithLogger(logger *zap.SugaredLogger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics reports index reconciliation and migration runs to c.
func WithMetrics(c metrics.Collector) RegistryOption {
	return func(r *Registry) { r.metrics = metrics.OrNoop(c) }
}

// WithCodecs replaces the default codec table.
func WithCodecs(table *encoder.Table) RegistryOption {
	return func(r *Registry) {
		if table != nil {
			r.codecs = table
		}
	}
}

func NewRegistry(db driver.Database, opts ...RegistryOption) *Registry {
	r := &Registry{
		db:      db,
		codecs:  encoder.New(),
		logger:  zap.NewNop().Sugar(),
		metrics: metrics.Noop{},
		schemas: make(map[reflect.Type]any),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) Database() driver.Database {
	return r.db
}

func (r *Registry) Codecs() *encoder.Table {
	return r.codecs
}

func (r *Registry) Logger() *zap.SugaredLogger {
	return r.logger
}

func (r *Registry) Metrics() metrics.Collector {
	return r.metrics
}

// Collections lists the bound collection names.
func (r *Registry) Collections() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.schemas))
	for _, s := range r.schemas {
		out = append(out, s.(binding).collectionName())
	}
	return out
}

// binding is the type-independent view of a Schema.
type binding interface {
	collectionName() string
}

type schemaConfig struct {
	name     string
	indexes  []indexes.Model
	keepLive bool
	session  driver.Session
}

type SchemaOption func(*schemaConfig)

// WithCollectionName overrides the collection name, which defaults to the
// Go type name.
func WithCollectionName(name string) SchemaOption {
	return func(c *schemaConfig) { c.name = name }
}

// WithIndexes declares indexes in addition to the ones read from odm
// struct tags.
func WithIndexes(models ...indexes.Model) SchemaOption {
	return func(c *schemaConfig) { c.indexes = append(c.indexes, models...) }
}

// KeepLiveIndexes keeps live indexes that are not declared instead of
// dropping them.
func KeepLiveIndexes() SchemaOption {
	return func(c *schemaConfig) { c.keepLive = true }
}

// BindSession makes s the default session of every builder the schema
// creates.
func BindSession(s driver.Session) SchemaOption {
	return func(c *schemaConfig) { c.session = s }
}

var identifiableType = reflect.TypeOf((*Identifiable)(nil)).Elem()

// Register binds T to its collection and reconciles indexes. Registering
// the same type again rebinds it and reconciles again.
func Register[T any](ctx context.Context, reg *Registry, opts ...SchemaOption) (*Schema[T], error) {
	typ := typeOf[T]()
	if typ.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: %s is not a struct", ErrTypeMismatch, typ)
	}
	if !reflect.PointerTo(typ).Implements(identifiableType) {
		return nil, fmt.Errorf("%w: *%s does not implement Identifiable, embed odm.Base", ErrTypeMismatch, typ)
	}

	cfg := schemaConfig{name: typ.Name()}
	for _, opt := range opts {
		opt(&cfg)
	}
	declared := append(tagIndexes(typ), cfg.indexes...)

	s := &Schema[T]{
		reg:     reg,
		name:    cfg.name,
		coll:    reg.db.Collection(cfg.name),
		indexes: declared,
		fields:  fieldMap(typ),
		session: cfg.session,
	}
	plan, err := indexes.Reconcile(ctx, s.coll, declared, indexes.Options{KeepLive: cfg.keepLive, Logger: reg.logger})
	if err != nil {
		return nil, fmt.Errorf("failed to bind %s to %s: %w", typ, cfg.name, err)
	}

	reg.mu.Lock()
	reg.schemas[typ] = s
	reg.mu.Unlock()
	reg.metrics.ObserveIndexes(cfg.name, len(plan.Drop), len(plan.Create))
	reg.logger.Infof("Bound %s to collection %s (%d indexes dropped, %d created)",
		typ, cfg.name, len(plan.Drop), len(plan.Create))
	return s, nil
}

// SchemaOf returns the binding of T.
func SchemaOf[T any](reg *Registry) (*Schema[T], error) {
	typ := typeOf[T]()
	reg.mu.RLock()
	s, ok := reg.schemas[typ]
	reg.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnbound, typ)
	}
	return s.(*Schema[T]), nil
}

func typeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}
