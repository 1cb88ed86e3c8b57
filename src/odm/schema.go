package odm

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/multierr"

	"syndrodm/src/driver"
	"syndrodm/src/fields"
	"syndrodm/src/indexes"
	"syndrodm/src/operators"
)

// Schema is the binding of document type T to its collection.
type Schema[T any] struct {
	reg     *Registry
	name    string
	coll    driver.Collection
	indexes []indexes.Model
	fields  map[string]fields.Field
	session driver.Session
}

func (s *Schema[T]) collectionName() string {
	return s.name
}

func (s *Schema[T]) Name() string {
	return s.name
}

func (s *Schema[T]) Collection() driver.Collection {
	return s.coll
}

func (s *Schema[T]) Registry() *Registry {
	return s.reg
}

// Indexes returns the declared index set.
func (s *Schema[T]) Indexes() []indexes.Model {
	return append([]indexes.Model(nil), s.indexes...)
}

// Field returns the token for a declared attribute, addressed by Go name
// ("Address.City") or stored name ("address.city"). It panics for unknown
// names; use LookupField to check first.
func (s *Schema[T]) Field(name string) fields.Field {
	f, ok := s.LookupField(name)
	if !ok {
		panic(fmt.Sprintf("odm: %s has no field %q", s.name, name))
	}
	return f
}

func (s *Schema[T]) LookupField(name string) (fields.Field, bool) {
	if name == "ID" || name == "_id" {
		return fields.New("_id"), true
	}
	f, ok := s.fields[name]
	return f, ok
}

// Find starts a multi-document query.
func (s *Schema[T]) Find(exprs ...operators.FindExpression) *FindMany[T] {
	return newFindMany(s).Find(exprs...)
}

func (s *Schema[T]) FindAll() *FindMany[T] {
	return newFindMany(s)
}

// FindOne starts a single-document query.
func (s *Schema[T]) FindOne(exprs ...operators.FindExpression) *FindOne[T] {
	return newFindOne(s).Find(exprs...)
}

// Get fetches a document by id. A missing document is (nil, nil).
func (s *Schema[T]) Get(ctx context.Context, id primitive.ObjectID, opts ...CallOption) (*T, error) {
	cfg := s.callConfig(opts)
	return s.FindOne(operators.Eq("_id", id)).SetSession(cfg.session).Result(ctx)
}

func (s *Schema[T]) Count(ctx context.Context) (int64, error) {
	return s.FindAll().Count(ctx)
}

func (s *Schema[T]) DeleteAll(ctx context.Context, opts ...CallOption) (*driver.DeleteResult, error) {
	cfg := s.callConfig(opts)
	return s.FindAll().Delete().SetSession(cfg.session).Execute(ctx)
}

// UpdateAll returns an update builder over every document.
func (s *Schema[T]) UpdateAll(updates ...any) *UpdateQuery[T] {
	return s.FindAll().Update(updates...)
}

// Aggregate runs a raw pipeline against the collection.
func (s *Schema[T]) Aggregate(pipeline ...bson.D) *AggregationQuery[T, bson.M] {
	return newAggregation[T, bson.M](s, s.session, pipeline)
}

// Insert stores a new document and writes the assigned id back into it.
func (s *Schema[T]) Insert(ctx context.Context, doc *T, opts ...CallOption) error {
	ident := identify(doc)
	if ident.GetID() != nil {
		return fmt.Errorf("%w: %s %s", ErrAlreadyCreated, s.name, ident.GetID().Hex())
	}
	raw, err := s.reg.codecs.Marshal(doc)
	if err != nil {
		return err
	}
	cfg := s.callConfig(opts)
	id, err := s.coll.InsertOne(ctx, raw, driver.WriteOptions{Session: cfg.session})
	if err != nil {
		return fmt.Errorf("failed to insert into %s: %w", s.name, err)
	}
	oid, ok := id.(primitive.ObjectID)
	if !ok {
		return fmt.Errorf("%w: driver assigned a %T id", ErrTypeMismatch, id)
	}
	ident.SetID(oid)
	return nil
}

// InsertMany stores docs in one driver call. Ids are written back for the
// documents the driver reports; a partial failure is returned as is.
func (s *Schema[T]) InsertMany(ctx context.Context, docs []*T, opts ...CallOption) ([]any, error) {
	batch := make([]any, 0, len(docs))
	for _, doc := range docs {
		raw, err := s.reg.codecs.Marshal(doc)
		if err != nil {
			return nil, err
		}
		batch = append(batch, raw)
	}
	cfg := s.callConfig(opts)
	ids, err := s.coll.InsertMany(ctx, batch, driver.WriteOptions{Session: cfg.session})
	for i, id := range ids {
		if oid, ok := id.(primitive.ObjectID); ok && i < len(docs) {
			identify(docs[i]).SetID(oid)
		}
	}
	if err != nil {
		return ids, fmt.Errorf("failed to insert into %s: %w", s.name, err)
	}
	return ids, nil
}

// Replace overwrites the stored document with doc.
func (s *Schema[T]) Replace(ctx context.Context, doc *T, opts ...CallOption) (*driver.UpdateResult, error) {
	id, err := s.savedID(doc)
	if err != nil {
		return nil, err
	}
	cfg := s.callConfig(opts)
	return s.FindOne(operators.Eq("_id", id)).SetSession(cfg.session).ReplaceOne(ctx, doc)
}

// Save inserts an unsaved document and upserts a saved one.
func (s *Schema[T]) Save(ctx context.Context, doc *T, opts ...CallOption) error {
	id := identify(doc).GetID()
	if id == nil {
		return s.Insert(ctx, doc, opts...)
	}
	raw, err := s.reg.codecs.Marshal(doc)
	if err != nil {
		return err
	}
	cfg := s.callConfig(opts)
	_, err = s.coll.ReplaceOne(ctx, bson.M{"_id": *id}, raw, driver.UpdateOptions{Upsert: true, Session: cfg.session})
	if err != nil {
		return fmt.Errorf("failed to save %s %s: %w", s.name, id.Hex(), err)
	}
	return nil
}

// Update applies updates to the stored document, then syncs doc from the
// stored copy so server-computed values are visible.
func (s *Schema[T]) Update(ctx context.Context, doc *T, updates ...any) error {
	return s.UpdateIn(ctx, doc, nil, updates...)
}

// UpdateIn is Update inside a session.
func (s *Schema[T]) UpdateIn(ctx context.Context, doc *T, session driver.Session, updates ...any) error {
	id, err := s.savedID(doc)
	if err != nil {
		return err
	}
	q := s.FindOne(operators.Eq("_id", id)).SetSession(session).Update(updates...)
	if _, err := q.Execute(ctx); err != nil {
		return err
	}
	return s.Sync(ctx, doc, InSession(session))
}

// Sync overwrites doc with the stored copy.
func (s *Schema[T]) Sync(ctx context.Context, doc *T, opts ...CallOption) error {
	id, err := s.savedID(doc)
	if err != nil {
		return err
	}
	fresh, err := s.Get(ctx, id, opts...)
	if err != nil {
		return err
	}
	if fresh == nil {
		return fmt.Errorf("%w: %s %s", ErrNotFound, s.name, id.Hex())
	}
	*doc = *fresh
	return nil
}

// Delete removes the stored document.
func (s *Schema[T]) Delete(ctx context.Context, doc *T, opts ...CallOption) (*driver.DeleteResult, error) {
	id, err := s.savedID(doc)
	if err != nil {
		return nil, err
	}
	cfg := s.callConfig(opts)
	return s.FindOne(operators.Eq("_id", id)).Delete().SetSession(cfg.session).Execute(ctx)
}

// ReplaceMany replaces a batch of saved documents. Every document must
// already exist, otherwise nothing is written and ErrReplace is returned.
func (s *Schema[T]) ReplaceMany(ctx context.Context, docs []*T, opts ...CallOption) error {
	ids := make([]primitive.ObjectID, 0, len(docs))
	for _, doc := range docs {
		id, err := s.savedID(doc)
		if err != nil {
			return err
		}
		ids = append(ids, id)
	}
	cfg := s.callConfig(opts)
	byID := operators.In("_id", ids...)
	found, err := s.Find(byID).SetSession(cfg.session).Count(ctx)
	if err != nil {
		return err
	}
	if found != int64(len(ids)) {
		return fmt.Errorf("%w: %d of %d found in %s", ErrReplace, found, len(ids), s.name)
	}
	if _, err := s.Find(byID).Delete().SetSession(cfg.session).Execute(ctx); err != nil {
		return err
	}
	_, err = s.InsertMany(ctx, docs, opts...)
	return err
}

// LinkTo returns a resolved link to a saved document.
func (s *Schema[T]) LinkTo(doc *T) (Link[T], error) {
	id, err := s.savedID(doc)
	if err != nil {
		return Link[T]{}, err
	}
	return Link[T]{Ref: Ref{Collection: s.name, ID: id}, Doc: doc}, nil
}

// InspectionError records a stored document that does not decode into T.
type InspectionError struct {
	ID    any
	Error string
}

type InspectionResult struct {
	Checked int
	Errors  []InspectionError
}

func (r *InspectionResult) OK() bool {
	return len(r.Errors) == 0
}

// Inspect decodes every stored document and reports those that fail.
func (s *Schema[T]) Inspect(ctx context.Context) (result *InspectionResult, err error) {
	cur, err := s.coll.Find(ctx, bson.M{}, driver.FindOptions{Session: s.session})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", s.name, err)
	}
	defer func() {
		err = multierr.Append(err, cur.Close(ctx))
	}()

	result = &InspectionResult{}
	for cur.Next(ctx) {
		result.Checked++
		var doc T
		if decodeErr := s.reg.codecs.Unmarshal(cur.Current(), &doc); decodeErr != nil {
			var id any
			if v, lookupErr := cur.Current().LookupErr("_id"); lookupErr == nil {
				id = v
			}
			result.Errors = append(result.Errors, InspectionError{ID: id, Error: decodeErr.Error()})
		}
	}
	return result, cur.Err()
}

func (s *Schema[T]) savedID(doc *T) (primitive.ObjectID, error) {
	id := identify(doc).GetID()
	if id == nil {
		return primitive.NilObjectID, fmt.Errorf("%w: %s", ErrNotSaved, s.name)
	}
	return *id, nil
}

func (s *Schema[T]) callConfig(opts []CallOption) callConfig {
	cfg := callConfig{session: s.session}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

func (s *Schema[T]) decode(raw bson.Raw) (*T, error) {
	var doc T
	if err := s.reg.codecs.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode %s document: %w", s.name, err)
	}
	return &doc, nil
}

func isNoDocuments(err error) bool {
	return errors.Is(err, driver.ErrNoDocuments)
}
