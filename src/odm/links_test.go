package odm

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"syndrodm/src/driver"
	"syndrodm/src/encoder"
	"syndrodm/src/engine"
)

func TestLinkFromSavedDocumentStoresID(t *testing.T) {
	ctx, db, _, books, authors := setup(t)
	author := Author{Name: "Butler"}
	require.NoError(t, authors.Insert(ctx, &author))

	require.NoError(t, books.Insert(ctx, &Book{Title: "bare", Author: Link[Author]{Doc: &author}}))
	require.NoError(t, books.Insert(ctx, &Book{Title: "ref", Author: Link[Author]{Ref: Ref{Collection: "Author"}, Doc: &author}}))
	require.NoError(t, books.Insert(ctx, &Book{Title: "unsaved", Author: Link[Author]{Doc: &Author{Name: "nobody"}}}))

	raw, err := db.Bundle("Book").FindOne(ctx, bson.M{"title": "bare"}, driver.FindOptions{})
	require.NoError(t, err)
	assert.Equal(t, *author.ID, raw.Lookup("author").ObjectID())

	raw, err = db.Bundle("Book").FindOne(ctx, bson.M{"title": "ref"}, driver.FindOptions{})
	require.NoError(t, err)
	ref := raw.Lookup("author").Document()
	assert.Equal(t, "Author", ref.Lookup("$ref").StringValue())
	assert.Equal(t, *author.ID, ref.Lookup("$id").ObjectID())

	raw, err = db.Bundle("Book").FindOne(ctx, bson.M{"title": "unsaved"}, driver.FindOptions{})
	require.NoError(t, err)
	assert.Equal(t, bson.TypeNull, raw.Lookup("author").Type)

	for _, title := range []string{"bare", "ref"} {
		got, err := books.FindOne(books.Field("Title").Eq(title)).Result(ctx)
		require.NoError(t, err)
		assert.Equal(t, *author.ID, got.Author.Ref.ID, title)
	}
}

type shout string

type Badge struct {
	Base  `bson:",inline"`
	Label shout `bson:"label"`
}

type Holder struct {
	Base   `bson:",inline"`
	Badge  Link[Badge]   `bson:"badge"`
	Spare  *Link[Badge]  `bson:"spare"`
	Others []Link[Badge] `bson:"others"`
}

func TestEmbeddedLinkUsesRegisteredCodecs(t *testing.T) {
	ctx := context.Background()
	db := engine.NewDatabase("links")
	table := encoder.New()
	encoder.Register(table,
		func(s shout) (any, error) { return strings.ToUpper(string(s)), nil },
		func(raw bson.RawValue) (shout, error) { return shout(strings.ToLower(raw.StringValue())), nil },
	)
	reg := NewRegistry(db, WithCodecs(table))
	holders, err := Register[Holder](ctx, reg)
	require.NoError(t, err)

	badge := func(label string) bson.D {
		return bson.D{{Key: "_id", Value: primitive.NewObjectID()}, {Key: "label", Value: label}}
	}
	_, err = db.Bundle("Holder").InsertOne(ctx, bson.D{
		{Key: "badge", Value: badge("GOLD")},
		{Key: "spare", Value: badge("SILVER")},
		{Key: "others", Value: bson.A{badge("BRONZE")}},
	}, driver.WriteOptions{})
	require.NoError(t, err)

	got, err := holders.FindAll().First(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.True(t, got.Badge.Resolved())
	assert.Equal(t, shout("gold"), got.Badge.Doc.Label)
	assert.False(t, got.Badge.Ref.ID.IsZero())
	require.NotNil(t, got.Spare)
	require.True(t, got.Spare.Resolved())
	assert.Equal(t, shout("silver"), got.Spare.Doc.Label)
	require.Len(t, got.Others, 1)
	assert.Equal(t, shout("bronze"), got.Others[0].Doc.Label)
}

func TestNullPointerLinkDecodesToNil(t *testing.T) {
	ctx := context.Background()
	db := engine.NewDatabase("links")
	reg := NewRegistry(db)
	holders, err := Register[Holder](ctx, reg)
	require.NoError(t, err)

	id := primitive.NewObjectID()
	_, err = db.Bundle("Holder").InsertOne(ctx, bson.D{
		{Key: "badge", Value: id},
		{Key: "spare", Value: nil},
	}, driver.WriteOptions{})
	require.NoError(t, err)

	got, err := holders.FindAll().First(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, id, got.Badge.Ref.ID)
	assert.Nil(t, got.Spare)
}
