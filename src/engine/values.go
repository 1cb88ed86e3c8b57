package engine

import (
	"bytes"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// getField returns the value stored under key in a document value.
func getField(container any, key string) (any, bool) {
	switch c := container.(type) {
	case bson.D:
		for _, e := range c {
			if e.Key == key {
				return e.Value, true
			}
		}
	case bson.M:
		v, ok := c[key]
		return v, ok
	case bson.A:
		i, err := strconv.Atoi(key)
		if err != nil || i < 0 || i >= len(c) {
			return nil, false
		}
		return c[i], true
	}
	return nil, false
}

// resolve walks a dotted path. Arrays fan out: a non-numeric segment
// applied to an array is applied to each of its document elements.
// Missing paths produce no values.
func resolve(v any, path []string) []any {
	if len(path) == 0 {
		return []any{v}
	}
	seg, rest := path[0], path[1:]

	var out []any
	if arr, ok := v.(bson.A); ok {
		if child, ok := getField(arr, seg); ok {
			out = append(out, resolve(child, rest)...)
			return out
		}
		for _, elem := range arr {
			if isDocument(elem) {
				out = append(out, resolve(elem, path)...)
			}
		}
		return out
	}
	child, ok := getField(v, seg)
	if !ok {
		return nil
	}
	return resolve(child, rest)
}

func splitPath(path string) []string {
	return strings.Split(path, ".")
}

func isDocument(v any) bool {
	switch v.(type) {
	case bson.D, bson.M:
		return true
	}
	return false
}

// isOperatorDocument reports whether every key of v is a $-operator.
func isOperatorDocument(v any) bool {
	d, ok := v.(bson.D)
	if !ok {
		if m, isMap := v.(bson.M); isMap {
			d = mapToDocument(m)
		} else {
			return false
		}
	}
	if len(d) == 0 {
		return false
	}
	for _, e := range d {
		if !strings.HasPrefix(e.Key, "$") {
			return false
		}
	}
	return true
}

func mapToDocument(m bson.M) bson.D {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	d := make(bson.D, 0, len(m))
	for _, k := range keys {
		d = append(d, bson.E{Key: k, Value: m[k]})
	}
	return d
}

func asDocument(v any) (bson.D, bool) {
	switch d := v.(type) {
	case bson.D:
		return d, true
	case bson.M:
		return mapToDocument(d), true
	}
	return nil, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	}
	return 0, false
}

// typeRank orders values of different BSON types the way the database
// does when sorting.
func typeRank(v any) int {
	switch v.(type) {
	case nil, primitive.Null, primitive.Undefined:
		return 1
	case int, int32, int64, float32, float64, primitive.Decimal128:
		return 2
	case string, primitive.Symbol:
		return 3
	case bson.D, bson.M:
		return 4
	case bson.A:
		return 5
	case primitive.Binary:
		return 6
	case primitive.ObjectID:
		return 7
	case bool:
		return 8
	case primitive.DateTime, time.Time:
		return 9
	case primitive.Timestamp:
		return 10
	case primitive.Regex:
		return 11
	}
	return 12
}

// compareValues orders two values. ok is false when they have different
// types and cannot be compared by a range operator.
func compareValues(a, b any) (int, bool) {
	if af, ok := toFloat(a); ok {
		bf, ok := toFloat(b)
		if !ok {
			return 0, false
		}
		return compareFloat(af, bf), true
	}

	switch av := a.(type) {
	case nil:
		if b == nil {
			return 0, true
		}
	case string:
		if bv, ok := b.(string); ok {
			return strings.Compare(av, bv), true
		}
	case bool:
		if bv, ok := b.(bool); ok {
			return compareBool(av, bv), true
		}
	case primitive.ObjectID:
		if bv, ok := b.(primitive.ObjectID); ok {
			return bytes.Compare(av[:], bv[:]), true
		}
	case primitive.DateTime:
		if bv, ok := toDateTime(b); ok {
			return compareInt(int64(av), int64(bv)), true
		}
	case time.Time:
		if bv, ok := toDateTime(b); ok {
			return compareInt(int64(primitive.NewDateTimeFromTime(av)), int64(bv)), true
		}
	case primitive.Timestamp:
		if bv, ok := b.(primitive.Timestamp); ok {
			return primitive.CompareTimestamp(av, bv), true
		}
	case primitive.Binary:
		if bv, ok := b.(primitive.Binary); ok {
			if av.Subtype != bv.Subtype {
				return compareInt(int64(av.Subtype), int64(bv.Subtype)), true
			}
			return bytes.Compare(av.Data, bv.Data), true
		}
	}
	return 0, false
}

// sortCompare is a total order across types used by $sort and $min/$max.
func sortCompare(a, b any) int {
	if c, ok := compareValues(a, b); ok {
		return c
	}
	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		return compareInt(int64(ra), int64(rb))
	}
	if valuesEqual(a, b) {
		return 0
	}
	// Same rank but not directly comparable: documents and arrays.
	return strings.Compare(debugString(a), debugString(b))
}

// valuesEqual is structural equality with numeric coercion across int and
// float types. Document key order is ignored.
func valuesEqual(a, b any) bool {
	if c, ok := compareValues(a, b); ok {
		return c == 0
	}
	if ad, ok := asDocument(a); ok {
		bd, ok := asDocument(b)
		if !ok || len(ad) != len(bd) {
			return false
		}
		for _, e := range ad {
			other, found := getField(bd, e.Key)
			if !found || !valuesEqual(e.Value, other) {
				return false
			}
		}
		return true
	}
	if aa, ok := a.(bson.A); ok {
		ba, ok := b.(bson.A)
		if !ok || len(aa) != len(ba) {
			return false
		}
		for i := range aa {
			if !valuesEqual(aa[i], ba[i]) {
				return false
			}
		}
		return true
	}
	if ar, ok := a.(primitive.Regex); ok {
		br, ok := b.(primitive.Regex)
		return ok && ar.Pattern == br.Pattern && ar.Options == br.Options
	}
	return false
}

func toDateTime(v any) (primitive.DateTime, bool) {
	switch t := v.(type) {
	case primitive.DateTime:
		return t, true
	case time.Time:
		return primitive.NewDateTimeFromTime(t), true
	}
	return 0, false
}

func compareFloat(a, b float64) int {
	switch {
	case math.IsNaN(a) && math.IsNaN(b):
		return 0
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func compareInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func compareBool(a, b bool) int {
	switch {
	case a == b:
		return 0
	case !a:
		return -1
	}
	return 1
}

func debugString(v any) string {
	_, data, err := bson.MarshalValue(v)
	if err != nil {
		return ""
	}
	return string(data)
}
