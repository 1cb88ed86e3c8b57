package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"syndrodm/src/driver"
)

func seedPeople(t *testing.T, b *Bundle) {
	t.Helper()
	ctx := context.Background()
	docs := []any{
		bson.D{{Key: "name", Value: "ada"}, {Key: "age", Value: 36}, {Key: "tags", Value: bson.A{"math", "code"}}},
		bson.D{{Key: "name", Value: "grace"}, {Key: "age", Value: 85}, {Key: "tags", Value: bson.A{"navy", "code"}}},
		bson.D{{Key: "name", Value: "alan"}, {Key: "age", Value: 41.5}, {Key: "address", Value: bson.D{{Key: "city", Value: "london"}}}},
	}
	_, err := b.InsertMany(ctx, docs, driver.WriteOptions{})
	require.NoError(t, err)
}

func names(t *testing.T, cur driver.Cursor) []string {
	t.Helper()
	ctx := context.Background()
	var out []string
	for cur.Next(ctx) {
		out = append(out, cur.Current().Lookup("name").StringValue())
	}
	require.NoError(t, cur.Err())
	require.NoError(t, cur.Close(ctx))
	return out
}

func TestFindFilters(t *testing.T) {
	ctx := context.Background()
	db := NewDatabase("test")
	people := db.Bundle("people")
	seedPeople(t, people)

	cases := []struct {
		name   string
		filter bson.M
		want   []string
	}{
		{"empty", bson.M{}, []string{"ada", "grace", "alan"}},
		{"eq", bson.M{"name": "ada"}, []string{"ada"}},
		{"numeric coercion", bson.M{"age": bson.M{"$gt": 40}}, []string{"grace", "alan"}},
		{"range", bson.M{"age": bson.M{"$gte": 36, "$lt": 50}}, []string{"ada", "alan"}},
		{"array membership", bson.M{"tags": "code"}, []string{"ada", "grace"}},
		{"in", bson.M{"name": bson.M{"$in": bson.A{"ada", "alan"}}}, []string{"ada", "alan"}},
		{"nin", bson.M{"name": bson.M{"$nin": bson.A{"ada"}}}, []string{"grace", "alan"}},
		{"nested path", bson.M{"address.city": "london"}, []string{"alan"}},
		{"exists", bson.M{"address": bson.M{"$exists": false}}, []string{"ada", "grace"}},
		{"or", bson.M{"$or": bson.A{bson.M{"name": "ada"}, bson.M{"age": 85}}}, []string{"ada", "grace"}},
		{"nor", bson.M{"$nor": bson.A{bson.M{"name": "ada"}}}, []string{"grace", "alan"}},
		{"not", bson.M{"age": bson.M{"$not": bson.M{"$gt": 40}}}, []string{"ada"}},
		{"regex", bson.M{"name": bson.M{"$regex": "^A", "$options": "i"}}, []string{"ada", "alan"}},
		{"size", bson.M{"tags": bson.M{"$size": 2}}, []string{"ada", "grace"}},
		{"all", bson.M{"tags": bson.M{"$all": bson.A{"code", "navy"}}}, []string{"grace"}},
		{"missing equals null", bson.M{"tags": nil}, []string{"alan"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cur, err := people.Find(ctx, tc.filter, driver.FindOptions{})
			require.NoError(t, err)
			assert.Equal(t, tc.want, names(t, cur))
		})
	}
}

func TestFindUnsupportedOperator(t *testing.T) {
	db := NewDatabase("test")
	people := db.Bundle("people")
	seedPeople(t, people)

	_, err := people.Find(context.Background(), bson.M{"loc": bson.M{"$near": bson.A{0, 0}}}, driver.FindOptions{})
	assert.True(t, errors.Is(err, ErrUnsupportedOperator))
}

func TestFindSortSkipLimitProjection(t *testing.T) {
	ctx := context.Background()
	db := NewDatabase("test")
	people := db.Bundle("people")
	seedPeople(t, people)

	cur, err := people.Find(ctx, bson.M{}, driver.FindOptions{
		Sort:  bson.D{{Key: "age", Value: -1}},
		Skip:  1,
		Limit: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"alan"}, names(t, cur))

	raw, err := people.FindOne(ctx, bson.M{"name": "ada"}, driver.FindOptions{Projection: bson.D{{Key: "name", Value: 1}}})
	require.NoError(t, err)
	elems, err := raw.Elements()
	require.NoError(t, err)
	require.Len(t, elems, 2)
	assert.Equal(t, "_id", elems[0].Key())
	assert.Equal(t, "name", elems[1].Key())

	_, err = people.FindOne(ctx, bson.M{"name": "nobody"}, driver.FindOptions{})
	assert.ErrorIs(t, err, driver.ErrNoDocuments)
}

func TestUpdateOperators(t *testing.T) {
	ctx := context.Background()
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	db := NewDatabase("test", WithClock(func() time.Time { return fixed }))
	people := db.Bundle("people")
	seedPeople(t, people)

	res, err := people.UpdateOne(ctx, bson.M{"name": "ada"}, bson.M{
		"$inc":         bson.M{"age": 5, "visits": 1},
		"$set":         bson.M{"address.city": "paris"},
		"$push":        bson.M{"tags": bson.M{"$each": bson.A{"poetry"}}},
		"$addToSet":    bson.M{"langs": "en"},
		"$currentDate": bson.M{"seen": true},
	}, driver.UpdateOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.MatchedCount)
	assert.Equal(t, int64(1), res.ModifiedCount)

	raw, err := people.FindOne(ctx, bson.M{"name": "ada"}, driver.FindOptions{})
	require.NoError(t, err)
	assert.Equal(t, int32(41), raw.Lookup("age").Int32())
	assert.Equal(t, int32(1), raw.Lookup("visits").Int32())
	assert.Equal(t, "paris", raw.Lookup("address", "city").StringValue())
	assert.Equal(t, fixed.UnixMilli(), raw.Lookup("seen").DateTime())

	tags, err := raw.Lookup("tags").Array().Values()
	require.NoError(t, err)
	assert.Len(t, tags, 3)

	res, err = people.UpdateMany(ctx, bson.M{"tags": "code"}, bson.M{
		"$pull":  bson.M{"tags": "code"},
		"$unset": bson.M{"address": ""},
	}, driver.UpdateOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.MatchedCount)

	n, err := people.CountDocuments(ctx, bson.M{"tags": "code"}, driver.CountOptions{})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestUpdateRejectsIDChangeAndPlainDocuments(t *testing.T) {
	ctx := context.Background()
	db := NewDatabase("test")
	people := db.Bundle("people")
	seedPeople(t, people)

	_, err := people.UpdateOne(ctx, bson.M{"name": "ada"}, bson.M{"$set": bson.M{"_id": 1}}, driver.UpdateOptions{})
	assert.Error(t, err)
	_, err = people.UpdateOne(ctx, bson.M{"name": "ada"}, bson.M{"name": "x"}, driver.UpdateOptions{})
	assert.Error(t, err)
}

func TestUpsertSeedsFromFilter(t *testing.T) {
	ctx := context.Background()
	db := NewDatabase("test")
	logs := db.Bundle("log")

	res, err := logs.UpdateOne(ctx,
		bson.M{"name": "0001_init"},
		bson.M{"$set": bson.M{"is_current": true}, "$setOnInsert": bson.M{"created": 1}},
		driver.UpdateOptions{Upsert: true},
	)
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.MatchedCount)
	assert.Equal(t, int64(1), res.UpsertedCount)
	assert.IsType(t, primitive.ObjectID{}, res.UpsertedID)

	raw, err := logs.FindOne(ctx, bson.M{"name": "0001_init"}, driver.FindOptions{})
	require.NoError(t, err)
	assert.True(t, raw.Lookup("is_current").Boolean())
	assert.Equal(t, int32(1), raw.Lookup("created").Int32())
}

func TestReplaceOne(t *testing.T) {
	ctx := context.Background()
	db := NewDatabase("test")
	people := db.Bundle("people")
	seedPeople(t, people)

	res, err := people.ReplaceOne(ctx, bson.M{"name": "nobody"}, bson.M{"name": "x"}, driver.UpdateOptions{})
	require.NoError(t, err)
	assert.Zero(t, res.MatchedCount)

	res, err = people.ReplaceOne(ctx, bson.M{"name": "ada"}, bson.M{"name": "ada", "age": 1}, driver.UpdateOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.MatchedCount)

	raw, err := people.FindOne(ctx, bson.M{"name": "ada"}, driver.FindOptions{})
	require.NoError(t, err)
	_, err = raw.LookupErr("tags")
	assert.Error(t, err, "replaced document keeps only the new body")
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	db := NewDatabase("test")
	people := db.Bundle("people")
	seedPeople(t, people)

	res, err := people.DeleteOne(ctx, bson.M{"tags": "code"}, driver.WriteOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.DeletedCount)

	res, err = people.DeleteMany(ctx, bson.M{}, driver.WriteOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.DeletedCount)
	assert.Zero(t, people.Len())
}

func TestAggregate(t *testing.T) {
	ctx := context.Background()
	db := NewDatabase("test")
	people := db.Bundle("people")
	seedPeople(t, people)

	cur, err := people.Aggregate(ctx, bson.A{
		bson.M{"$unwind": "$tags"},
		bson.M{"$match": bson.M{"tags": "code"}},
		bson.M{"$count": "total"},
	}, driver.WriteOptions{})
	require.NoError(t, err)
	require.True(t, cur.Next(ctx))
	assert.Equal(t, int32(2), cur.Current().Lookup("total").Int32())
	assert.False(t, cur.Next(ctx))
}

func TestIndexes(t *testing.T) {
	ctx := context.Background()
	db := NewDatabase("test")
	people := db.Bundle("people")
	seedPeople(t, people)

	err := people.CreateIndexes(ctx, []driver.IndexModel{{
		Name:    "name_1",
		Keys:    bson.D{{Key: "name", Value: 1}},
		Options: bson.D{{Key: "unique", Value: true}},
	}})
	require.NoError(t, err)

	listed, err := people.ListIndexes(ctx)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, "_id_", listed[0].Map()["name"])
	assert.Equal(t, "name_1", listed[1].Map()["name"])

	_, err = people.InsertOne(ctx, bson.M{"name": "ada"}, driver.WriteOptions{})
	assert.ErrorIs(t, err, ErrDuplicateKey)

	require.NoError(t, people.DropIndex(ctx, "name_1"))
	assert.ErrorIs(t, people.DropIndex(ctx, "name_1"), ErrIndexNotFound)
	assert.Error(t, people.DropIndex(ctx, "_id_"))
}

func TestTransactionAbortRestoresState(t *testing.T) {
	ctx := context.Background()
	db := NewDatabase("test")
	people := db.Bundle("people")
	seedPeople(t, people)

	sess, err := db.StartSession(ctx)
	require.NoError(t, err)
	defer sess.EndSession(ctx)

	require.NoError(t, sess.StartTransaction(ctx))
	_, err = people.DeleteMany(ctx, bson.M{}, driver.WriteOptions{Session: sess})
	require.NoError(t, err)
	_, err = db.Bundle("other").InsertOne(ctx, bson.M{"x": 1}, driver.WriteOptions{Session: sess})
	require.NoError(t, err)
	assert.ErrorIs(t, sess.StartTransaction(ctx), ErrTransactionInProgress)

	require.NoError(t, sess.AbortTransaction(ctx))
	assert.Equal(t, 3, people.Len())
	assert.Zero(t, db.Bundle("other").Len())
	assert.ErrorIs(t, sess.CommitTransaction(ctx), ErrNoTransaction)

	require.NoError(t, sess.StartTransaction(ctx))
	_, err = people.DeleteOne(ctx, bson.M{"name": "ada"}, driver.WriteOptions{Session: sess})
	require.NoError(t, err)
	require.NoError(t, sess.CommitTransaction(ctx))
	assert.Equal(t, 2, people.Len())
}

func TestJournalRecordsCommands(t *testing.T) {
	ctx := context.Background()
	db := NewDatabase("test")
	people := db.Bundle("people")
	seedPeople(t, people)
	db.Journal().Reset()

	_, err := people.Find(ctx, bson.M{"name": "ada"}, driver.FindOptions{})
	require.NoError(t, err)
	_, err = people.CountDocuments(ctx, bson.M{}, driver.CountOptions{})
	require.NoError(t, err)

	finds := db.Journal().Filter(CommandFind, "people")
	require.Len(t, finds, 1)
	assert.Equal(t, bson.D{{Key: "name", Value: "ada"}}, finds[0].Payload)
	assert.Contains(t, finds[0].Details, `"ada"`)
	assert.Equal(t, 1, db.Journal().Count(CommandCount, ""))
}
