package encoder

import (
	"net"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type session struct {
	Token   uuid.UUID     `bson:"token"`
	TTL     time.Duration `bson:"ttl"`
	Address net.IP        `bson:"address"`
	Label   string        `bson:"label"`
}

func TestDefaultCodecsRoundTrip(t *testing.T) {
	table := New()
	in := session{
		Token:   uuid.New(),
		TTL:     90 * time.Second,
		Address: net.ParseIP("10.0.0.1"),
		Label:   "primary",
	}

	raw, err := table.Marshal(in)
	require.NoError(t, err)

	token := raw.Lookup("token")
	assert.Equal(t, bsontype.Binary, token.Type)
	subtype, _ := token.Binary()
	assert.Equal(t, byte(0x04), subtype)
	assert.Equal(t, 90.0, raw.Lookup("ttl").Double())
	assert.Equal(t, "10.0.0.1", raw.Lookup("address").StringValue())

	var out session
	require.NoError(t, table.Unmarshal(raw, &out))
	assert.Equal(t, in.Token, out.Token)
	assert.Equal(t, in.TTL, out.TTL)
	assert.True(t, in.Address.Equal(out.Address))
	assert.Equal(t, in.Label, out.Label)
}

type upper string

func TestRegisterCustomCodec(t *testing.T) {
	table := New()
	Register(table,
		func(u upper) (any, error) { return strings.ToUpper(string(u)), nil },
		func(raw bson.RawValue) (upper, error) { return upper(strings.ToLower(raw.StringValue())), nil },
	)

	raw, err := table.Marshal(bson.M{"v": upper("abc")})
	require.NoError(t, err)
	assert.Equal(t, "ABC", raw.Lookup("v").StringValue())

	var out struct {
		V upper `bson:"v"`
	}
	require.NoError(t, table.Unmarshal(raw, &out))
	assert.Equal(t, upper("abc"), out.V)
}

func TestToDocumentExcludesKeys(t *testing.T) {
	table := New()
	id := primitive.NewObjectID()
	doc, err := table.ToDocument(bson.D{{Key: "_id", Value: id}, {Key: "a", Value: 1}}, "_id")
	require.NoError(t, err)
	assert.Equal(t, bson.D{{Key: "a", Value: int32(1)}}, doc)
}

func TestNormalizeEncodesFilterValues(t *testing.T) {
	table := New()
	u := uuid.New()
	out, err := table.Normalize(bson.M{"token": bson.M{"$in": bson.A{u}}})
	require.NoError(t, err)

	in := out.Map()["token"].(bson.D).Map()["$in"].(bson.A)
	assert.Equal(t, primitive.Binary{Subtype: 0x04, Data: u[:]}, in[0])
}

func TestNormalizeKeepsOperandOrder(t *testing.T) {
	table := New()
	point := bson.D{{Key: "z", Value: 1}, {Key: "a", Value: 2}, {Key: "m", Value: 3}, {Key: "b", Value: 4}}
	type span struct {
		To   int `bson:"to"`
		From int `bson:"from"`
	}

	var first []byte
	for i := 0; i < 32; i++ {
		out, err := table.Normalize(bson.M{"pt": point, "span": span{To: 2, From: 1}, "n": 1, "k": bson.M{"y": 1, "x": 2}})
		require.NoError(t, err)
		data, err := bson.Marshal(out)
		require.NoError(t, err)
		if first == nil {
			first = data
			continue
		}
		require.Equal(t, first, data, "iteration %d", i)
	}

	out, err := table.Normalize(bson.M{"pt": point, "span": span{To: 2, From: 1}, "n": 1, "k": bson.M{"y": 1, "x": 2}})
	require.NoError(t, err)
	assert.Equal(t, []string{"k", "n", "pt", "span"}, keys(out))
	m := out.Map()
	assert.Equal(t, []string{"z", "a", "m", "b"}, keys(m["pt"].(bson.D)))
	assert.Equal(t, []string{"to", "from"}, keys(m["span"].(bson.D)))
	assert.Equal(t, []string{"x", "y"}, keys(m["k"].(bson.D)))
}

func TestNormalizeEmpty(t *testing.T) {
	out, err := New().Normalize(nil)
	require.NoError(t, err)
	assert.Equal(t, bson.D{}, out)
}

func keys(d bson.D) []string {
	out := make([]string, len(d))
	for i, e := range d {
		out[i] = e.Key
	}
	return out
}
