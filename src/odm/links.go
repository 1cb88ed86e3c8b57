package odm

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsoncodec"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/sync/errgroup"

	"syndrodm/src/operators"
)

// Ref is the stored part of a link: target collection and id.
type Ref struct {
	Collection string
	ID         primitive.ObjectID
}

// Link is a weak reference to a T document. It is stored as a DBRef and
// resolved on demand; Doc is nil until then.
type Link[T any] struct {
	Ref Ref
	Doc *T
}

// NewLink returns an unresolved link.
func NewLink[T any](collection string, id primitive.ObjectID) Link[T] {
	return Link[T]{Ref: Ref{Collection: collection, ID: id}}
}

func (l Link[T]) Resolved() bool {
	return l.Doc != nil
}

func (l Link[T]) IsZero() bool {
	return l.Doc == nil && l.Ref.ID.IsZero()
}

// ID is the referenced id: Ref.ID, or the id of a resolved Doc when the
// link was built from a document.
func (l Link[T]) ID() primitive.ObjectID {
	if !l.Ref.ID.IsZero() || l.Doc == nil {
		return l.Ref.ID
	}
	if doc, ok := any(l.Doc).(Identifiable); ok {
		if id := doc.GetID(); id != nil {
			return *id
		}
	}
	return primitive.NilObjectID
}

// MarshalBSONValue writes a DBRef, a bare ObjectID when the collection
// is unknown, or null for an empty link.
func (l Link[T]) MarshalBSONValue() (bsontype.Type, []byte, error) {
	id := l.ID()
	if id.IsZero() {
		return bsontype.Null, nil, nil
	}
	if l.Ref.Collection == "" {
		return bson.MarshalValue(id)
	}
	return bson.MarshalValue(bson.D{
		{Key: "$ref", Value: l.Ref.Collection},
		{Key: "$id", Value: id},
	})
}

// UnmarshalBSONValue accepts a DBRef, an embedded document or a bare
// ObjectID.
func (l *Link[T]) UnmarshalBSONValue(t bsontype.Type, data []byte) error {
	return l.UnmarshalBSONValueWithRegistry(bson.DefaultRegistry, t, data)
}

// UnmarshalBSONValueWithRegistry is UnmarshalBSONValue decoding an
// embedded document with reg, so registered codecs apply to its fields.
func (l *Link[T]) UnmarshalBSONValueWithRegistry(reg *bsoncodec.Registry, t bsontype.Type, data []byte) error {
	*l = Link[T]{}
	switch t {
	case bsontype.Null, bsontype.Undefined:
		return nil
	case bsontype.ObjectID:
		oid, ok := (bson.RawValue{Type: t, Value: data}).ObjectIDOK()
		if !ok {
			return fmt.Errorf("%w: malformed link id", ErrTypeMismatch)
		}
		l.Ref.ID = oid
		return nil
	case bsontype.EmbeddedDocument:
		raw := bson.Raw(data)
		if ref, err := raw.LookupErr("$ref"); err == nil {
			l.Ref.Collection, _ = ref.StringValueOK()
			id, err := raw.LookupErr("$id")
			if err != nil {
				return fmt.Errorf("%w: link without $id", ErrTypeMismatch)
			}
			oid, ok := id.ObjectIDOK()
			if !ok {
				return fmt.Errorf("%w: link $id is %s", ErrTypeMismatch, id.Type)
			}
			l.Ref.ID = oid
			return nil
		}
		var doc T
		if err := bson.UnmarshalWithRegistry(reg, raw, &doc); err != nil {
			return fmt.Errorf("failed to decode linked document: %w", err)
		}
		if id, err := raw.LookupErr("_id"); err == nil {
			l.Ref.ID, _ = id.ObjectIDOK()
		}
		l.Doc = &doc
		return nil
	}
	return fmt.Errorf("%w: cannot decode a link from %s", ErrTypeMismatch, t)
}

// Fetch resolves the link. When the target no longer exists it returns
// nil and the link stays unresolved.
func (l *Link[T]) Fetch(ctx context.Context, reg *Registry) (*T, error) {
	if l.Doc != nil {
		return l.Doc, nil
	}
	schema, err := SchemaOf[T](reg)
	if err != nil {
		return nil, err
	}
	if l.Ref.Collection != "" && l.Ref.Collection != schema.name {
		return nil, fmt.Errorf("%w: link to %s fetched as %s", ErrTypeMismatch, l.Ref.Collection, schema.name)
	}
	doc, err := schema.Get(ctx, l.Ref.ID)
	if err != nil {
		return nil, err
	}
	l.Doc = doc
	return doc, nil
}

// FetchList resolves links with a single $in query over the distinct
// unresolved ids. The result keeps the input order and length; links
// whose target is missing stay unresolved.
func FetchList[T any](ctx context.Context, reg *Registry, links []Link[T]) ([]Link[T], error) {
	schema, err := SchemaOf[T](reg)
	if err != nil {
		return nil, err
	}

	resolved := make(map[primitive.ObjectID]*T, len(links))
	var pending []primitive.ObjectID
	seen := make(map[primitive.ObjectID]bool, len(links))
	for _, l := range links {
		if l.Doc != nil {
			if id := l.ID(); !id.IsZero() {
				resolved[id] = l.Doc
			}
			continue
		}
		if l.Ref.Collection != "" && l.Ref.Collection != schema.name {
			return nil, fmt.Errorf("%w: link to %s in a %s batch", ErrTypeMismatch, l.Ref.Collection, schema.name)
		}
		if !seen[l.Ref.ID] {
			seen[l.Ref.ID] = true
			pending = append(pending, l.Ref.ID)
		}
	}

	var missing []primitive.ObjectID
	for _, id := range pending {
		if _, ok := resolved[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		err := schema.Find(operators.In("_id", missing...)).Each(ctx, func(doc *T) error {
			if id := identify(doc).GetID(); id != nil {
				resolved[*id] = doc
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	out := make([]Link[T], len(links))
	for i, l := range links {
		out[i] = l
		if l.Doc == nil {
			out[i].Doc = resolved[l.Ref.ID]
		}
	}
	return out, nil
}

// FetchMany resolves every link concurrently. Results are in input order;
// missing targets are nil.
func FetchMany[T any](ctx context.Context, reg *Registry, links []Link[T]) ([]*T, error) {
	if _, err := SchemaOf[T](reg); err != nil {
		return nil, err
	}
	out := make([]*T, len(links))
	g, gctx := errgroup.WithContext(ctx)
	for i := range links {
		i := i
		l := links[i]
		g.Go(func() error {
			doc, err := l.Fetch(gctx, reg)
			if err != nil {
				return err
			}
			out[i] = doc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// BackLink lists the T documents whose Field links to an owner. Declare
// it with bson:"-" on the owner type.
type BackLink[T any] struct {
	Field string
	Docs  []T
}

func NewBackLink[T any](field string) BackLink[T] {
	return BackLink[T]{Field: field}
}

// Fetch loads the documents linking to ownerID and stores them in Docs.
func (b *BackLink[T]) Fetch(ctx context.Context, reg *Registry, ownerID primitive.ObjectID) ([]T, error) {
	schema, err := SchemaOf[T](reg)
	if err != nil {
		return nil, err
	}
	docs, err := schema.Find(operators.Or(
		operators.Eq(b.Field+".$id", ownerID),
		operators.Eq(b.Field, ownerID),
	)).ToList(ctx)
	if err != nil {
		return nil, err
	}
	b.Docs = docs
	return docs, nil
}
