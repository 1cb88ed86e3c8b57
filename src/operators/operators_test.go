package operators

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func TestComparisonRender(t *testing.T) {
	assert.Equal(t, bson.M{"name": "ada"}, Eq("name", "ada").Render())
	assert.Equal(t, bson.M{"age": bson.M{"$gt": 25}}, Gt("age", 25).Render())
	assert.Equal(t, bson.M{"age": bson.M{"$lte": 30}}, Lte("age", 30).Render())
	assert.Equal(t, bson.M{"tag": bson.M{"$ne": "x"}}, Ne("tag", "x").Render())
	assert.Equal(t, bson.M{"n": bson.M{"$in": bson.A{1, 2, 3}}}, In("n", 1, 2, 3).Render())
	assert.Equal(t, bson.M{"n": bson.M{"$nin": bson.A{"a"}}}, NotIn("n", "a").Render())
}

func TestAndRender(t *testing.T) {
	assert.Equal(t, bson.M{}, And().Render())
	assert.Equal(t, bson.M{"a": 1}, And(Eq("a", 1)).Render())
	assert.Equal(t,
		bson.M{"$and": bson.A{bson.M{"a": 1}, bson.M{"b": bson.M{"$gt": 2}}}},
		And(Eq("a", 1), Gt("b", 2)).Render(),
	)
}

func TestNestedCombinatorsAreNotFlattened(t *testing.T) {
	expr := Or(Or(Eq("a", 1), Eq("b", 2)), Eq("c", 3))
	assert.Equal(t, bson.M{
		"$or": bson.A{
			bson.M{"$or": bson.A{bson.M{"a": 1}, bson.M{"b": 2}}},
			bson.M{"c": 3},
		},
	}, expr.Render())
	assert.Equal(t, bson.M{}, Nor().Render())
}

func TestNotRender(t *testing.T) {
	assert.Equal(t, bson.M{"age": bson.M{"$not": bson.M{"$gt": 3}}}, Not(Gt("age", 3)).Render())
	assert.Equal(t, bson.M{"age": bson.M{"$not": bson.M{"$eq": 3}}}, Not(Eq("age", 3)).Render())
	assert.Equal(t,
		bson.M{"$nor": bson.A{bson.M{"$or": bson.A{bson.M{"a": 1}, bson.M{"b": 1}}}}},
		Not(Or(Eq("a", 1), Eq("b", 1))).Render(),
	)
}

func TestElementOperators(t *testing.T) {
	assert.Equal(t, bson.M{"x": bson.M{"$exists": true}}, Exists("x", true).Render())
	assert.Equal(t, bson.M{"tags": bson.M{"$size": 2}}, Size("tags", 2).Render())
	assert.Equal(t, bson.M{"tags": bson.M{"$all": bson.A{"a", "b"}}}, All("tags", []string{"a", "b"}).Render())
	assert.Equal(t,
		bson.M{"name": bson.M{"$regex": "^a", "$options": "i"}},
		Regex("name", "^a", "i").Render(),
	)
	assert.Equal(t,
		bson.M{"items": bson.M{"$elemMatch": bson.M{"qty": bson.M{"$gt": 1}}}},
		ElemMatch("items", Gt("qty", 1)).Render(),
	)
}

func TestRawRender(t *testing.T) {
	assert.Equal(t, bson.M{}, Raw(nil).Render())
	assert.Equal(t, bson.M{"a": bson.M{"$mod": bson.A{2, 0}}}, Raw(bson.M{"a": bson.M{"$mod": bson.A{2, 0}}}).Render())
}

func TestNearRenderOmitsZeroDistances(t *testing.T) {
	expr := Near("loc", 1.5, 2.5)
	inner := expr.Render()["loc"].(bson.M)["$near"].(bson.M)
	assert.NotContains(t, inner, "$maxDistance")
	assert.NotContains(t, inner, "$minDistance")

	expr.MaxDistance(100)
	inner = expr.Render()["loc"].(bson.M)["$near"].(bson.M)
	assert.Equal(t, 100.0, inner["$maxDistance"])
	assert.Equal(t, bson.M{"type": "Point", "coordinates": bson.A{1.5, 2.5}}, inner["$geometry"])
}

func TestGeoWithinRender(t *testing.T) {
	coords := [][][]float64{{{0, 0}, {1, 0}, {1, 1}, {0, 0}}}
	assert.Equal(t, bson.M{
		"area": bson.M{"$geoWithin": bson.M{"$geometry": bson.M{"type": Polygon, "coordinates": coords}}},
	}, GeoWithin("area", Polygon, coords).Render())
}

func TestUpdateRender(t *testing.T) {
	assert.Equal(t, bson.M{"$set": bson.M{"a": 1}}, Set(bson.M{"a": 1}).Render())
	assert.Equal(t, bson.M{"$unset": bson.M{"a": "", "b": ""}}, Unset("a", "b").Render())
	assert.Equal(t, bson.M{"$inc": bson.M{"n": 5}}, Inc(map[string]any{"n": 5}).Render())
}

func TestCombineMergesSameKind(t *testing.T) {
	got, err := Combine(Set(bson.M{"a": 1}), Set(bson.M{"b": 2}), Inc(bson.M{"n": 1}))
	require.NoError(t, err)
	assert.Equal(t, bson.M{
		"$set": bson.M{"a": 1, "b": 2},
		"$inc": bson.M{"n": 1},
	}, got)
}

func TestCombineLastWriteWins(t *testing.T) {
	got, err := Combine(Set(bson.M{"a": 10}), Set(bson.M{"b": nil}))
	require.NoError(t, err)
	assert.Equal(t, bson.M{"$set": bson.M{"a": 10, "b": nil}}, got)

	got, err = Combine(Set(bson.M{"a": 10}), Set(bson.M{"a": nil}))
	require.NoError(t, err)
	assert.Equal(t, bson.M{"$set": bson.M{"a": nil}}, got)
}

func TestCombineAcceptsRawDocuments(t *testing.T) {
	got, err := Combine(
		bson.M{"$set": bson.M{"a": 1}, "$inc": bson.M{"n": 1}},
		RawUpdate{"$set": bson.M{"b": 2}},
	)
	require.NoError(t, err)
	assert.Equal(t, bson.M{
		"$set": bson.M{"a": 1, "b": 2},
		"$inc": bson.M{"n": 1},
	}, got)
}

func TestMergeRejectsNonUpdates(t *testing.T) {
	for name, arg := range map[string]any{
		"find expression": Eq("a", 1),
		"typed map":       map[string]int{"$inc": 1},
		"struct":          struct{ A int }{A: 1},
		"bare field":      bson.M{"a": 1},
		"scalar payload":  bson.M{"$inc": 1},
	} {
		t.Run(name, func(t *testing.T) {
			dst := bson.M{"$set": bson.M{"a": 1}}
			err := Merge(dst, arg)
			assert.ErrorIs(t, err, ErrUnsupportedUpdate)
			assert.Equal(t, bson.M{"$set": bson.M{"a": 1}}, dst)
		})
	}

	_, err := Combine(Set(bson.M{"a": 1}), Eq("a", 1))
	assert.ErrorIs(t, err, ErrUnsupportedUpdate)
}
