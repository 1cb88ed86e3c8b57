package encoder

import (
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Binary subtype used for RFC 4122 UUIDs.
const uuidSubtype byte = 0x04

func registerDefaults(t *Table) {
	Register(t, encodeUUID, decodeUUID)
	Register(t, encodeDuration, decodeDuration)
	Register(t, encodeIP, decodeIP)
}

func encodeUUID(u uuid.UUID) (any, error) {
	return primitive.Binary{Subtype: uuidSubtype, Data: u[:]}, nil
}

func decodeUUID(raw bson.RawValue) (uuid.UUID, error) {
	switch raw.Type {
	case bsontype.Binary:
		_, data := raw.Binary()
		return uuid.FromBytes(data)
	case bsontype.String:
		return uuid.Parse(raw.StringValue())
	case bsontype.Null:
		return uuid.Nil, nil
	default:
		return uuid.Nil, fmt.Errorf("cannot decode %s into uuid", raw.Type)
	}
}

// Durations are stored as float seconds.
func encodeDuration(d time.Duration) (any, error) {
	return d.Seconds(), nil
}

func decodeDuration(raw bson.RawValue) (time.Duration, error) {
	var seconds float64
	switch raw.Type {
	case bsontype.Double:
		seconds = raw.Double()
	case bsontype.Int32:
		seconds = float64(raw.Int32())
	case bsontype.Int64:
		seconds = float64(raw.Int64())
	case bsontype.Null:
		return 0, nil
	default:
		return 0, fmt.Errorf("cannot decode %s into duration", raw.Type)
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

func encodeIP(ip net.IP) (any, error) {
	if ip == nil {
		return nil, nil
	}
	return ip.String(), nil
}

func decodeIP(raw bson.RawValue) (net.IP, error) {
	switch raw.Type {
	case bsontype.Null:
		return nil, nil
	case bsontype.String:
		ip := net.ParseIP(raw.StringValue())
		if ip == nil {
			return nil, fmt.Errorf("invalid ip address %q", raw.StringValue())
		}
		return ip, nil
	default:
		return nil, fmt.Errorf("cannot decode %s into ip address", raw.Type)
	}
}
