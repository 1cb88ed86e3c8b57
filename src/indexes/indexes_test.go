package indexes

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"syndrodm/src/driver"
	"syndrodm/src/engine"
)

func keys(fields ...string) bson.D {
	d := bson.D{}
	for _, f := range fields {
		d = append(d, bson.E{Key: f, Value: 1})
	}
	return d
}

func fieldSets(ds []Descriptor) []string {
	out := make([]string, 0, len(ds))
	for _, d := range ds {
		out = append(out, d.fieldKey())
	}
	return out
}

func TestDiff(t *testing.T) {
	declared := []Descriptor{FromModel(Model{Keys: keys("a")}), FromModel(Model{Keys: keys("a", "b")})}
	live := []Descriptor{FromModel(Model{Keys: keys("a")}), FromModel(Model{Keys: keys("c")})}

	plan := Diff(declared, live, false)
	assert.Equal(t, []string{"c:1"}, fieldSets(plan.Drop))
	assert.Equal(t, []string{"a:1,b:1"}, fieldSets(plan.Create))
}

func TestDiffKeepLive(t *testing.T) {
	declared := []Descriptor{FromModel(Model{Keys: keys("a"), Options: bson.D{{Key: "unique", Value: true}}})}
	live := []Descriptor{FromModel(Model{Keys: keys("a")}), FromModel(Model{Keys: keys("c")})}

	plan := Diff(declared, live, true)
	assert.Equal(t, []string{"a:1"}, fieldSets(plan.Drop), "declared options replace the live index")
	assert.Equal(t, []string{"a:1"}, fieldSets(plan.Create))
}

func TestEqualityIgnoresNameAndNumericType(t *testing.T) {
	a := FromModel(Model{Name: "first", Keys: bson.D{{Key: "x", Value: int32(1)}}, Options: bson.D{{Key: "unique", Value: true}}})
	b := FromModel(Model{Name: "second", Keys: bson.D{{Key: "x", Value: 1.0}}, Options: bson.D{{Key: "unique", Value: true}}})
	assert.True(t, a.Equal(b))

	c := FromModel(Model{Keys: bson.D{{Key: "x", Value: -1}}})
	assert.False(t, a.Equal(c))
	assert.False(t, a.SameFields(c))
}

func TestMergeRightWins(t *testing.T) {
	left := []Descriptor{FromModel(Model{Name: "old", Keys: keys("a")}), FromModel(Model{Keys: keys("b")})}
	right := []Descriptor{FromModel(Model{Name: "new", Keys: keys("a")})}

	merged := Merge(left, right)
	require.Len(t, merged, 2)
	assert.Equal(t, "new", merged[0].Name)
	assert.Equal(t, "b_1", merged[1].Name)
}

func TestFromListedSkipsIDIndex(t *testing.T) {
	listed := []bson.D{
		{{Key: "v", Value: int32(2)}, {Key: "key", Value: bson.D{{Key: "_id", Value: int32(1)}}}, {Key: "name", Value: "_id_"}},
		{{Key: "v", Value: int32(2)}, {Key: "key", Value: bson.D{{Key: "email", Value: int32(1)}}}, {Key: "name", Value: "email_1"}, {Key: "unique", Value: true}},
	}
	ds := FromListed(listed)
	require.Len(t, ds, 1)
	assert.Equal(t, "email_1", ds[0].Name)
	assert.Equal(t, []Option{{Name: "unique", Value: "true"}}, ds[0].Options)
}

func TestGenerateName(t *testing.T) {
	assert.Equal(t, "a_1_b_-1", GenerateName(bson.D{{Key: "a", Value: 1}, {Key: "b", Value: -1}}))
	assert.Equal(t, "body_text", GenerateName(bson.D{{Key: "body", Value: "text"}}))

	long := bson.D{{Key: strings.Repeat("x", 200), Value: 1}}
	name := GenerateName(long)
	assert.Len(t, name, MaxNameLength)
	assert.NotEqual(t, name, GenerateName(bson.D{{Key: strings.Repeat("x", 201), Value: 1}}))
}

func TestReconcileAgainstEngine(t *testing.T) {
	ctx := context.Background()
	db := engine.NewDatabase("test")
	coll := db.Bundle("items")
	require.NoError(t, coll.CreateIndexes(ctx, []driver.IndexModel{
		{Name: "a_1", Keys: keys("a")},
		{Name: "c_1", Keys: keys("c")},
	}))

	declared := []Model{{Keys: keys("a")}, {Keys: keys("a", "b")}}
	plan, err := Reconcile(ctx, coll, declared, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"c:1"}, fieldSets(plan.Drop))
	assert.Equal(t, []string{"a:1,b:1"}, fieldSets(plan.Create))

	listed, err := coll.ListIndexes(ctx)
	require.NoError(t, err)
	var got []string
	for _, spec := range listed {
		got = append(got, spec.Map()["name"].(string))
	}
	assert.ElementsMatch(t, []string{"_id_", "a_1", "a_1_b_1"}, got)

	plan, err = Reconcile(ctx, coll, declared, Options{})
	require.NoError(t, err)
	assert.True(t, plan.Empty(), "second pass is a no-op")
}
