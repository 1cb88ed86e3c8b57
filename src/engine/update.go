package engine

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// applyUpdate runs an operator update document against a copy-on-write
// document and returns the new version. inserting enables $setOnInsert.
func applyUpdate(doc bson.D, update bson.D, inserting bool, now time.Time) (bson.D, error) {
	if len(update) == 0 {
		return nil, fmt.Errorf("update document must not be empty")
	}
	var err error
	for _, op := range update {
		payload, ok := asDocument(op.Value)
		if !ok {
			return nil, fmt.Errorf("%s expects a document, got %T", op.Key, op.Value)
		}
		for _, field := range payload {
			if field.Key == "_id" && op.Key != "$setOnInsert" {
				return nil, fmt.Errorf("performing an update on the path '_id' would modify the immutable field '_id'")
			}
			doc, err = applyOperator(doc, op.Key, field.Key, field.Value, inserting, now)
			if err != nil {
				return nil, fmt.Errorf("%s %s: %w", op.Key, field.Key, err)
			}
		}
	}
	return doc, nil
}

func applyOperator(doc bson.D, op, path string, arg any, inserting bool, now time.Time) (bson.D, error) {
	segments := splitPath(path)
	current, exists := lookupPath(doc, segments)

	switch op {
	case "$set":
		return setDocPath(doc, segments, arg)
	case "$setOnInsert":
		if !inserting {
			return doc, nil
		}
		return setDocPath(doc, segments, arg)
	case "$unset":
		return unsetPath(doc, segments), nil
	case "$inc", "$mul":
		if exists && current != nil {
			if _, ok := toFloat(current); !ok {
				return nil, fmt.Errorf("cannot apply %s to a value of non-numeric type %T", op, current)
			}
		}
		if _, ok := toFloat(arg); !ok {
			return nil, fmt.Errorf("cannot %s with non-numeric argument %T", op, arg)
		}
		var result any
		if !exists || current == nil {
			if op == "$inc" {
				result = arg
			} else {
				result = arithmetic(zeroLike(arg), arg, op)
			}
		} else {
			result = arithmetic(current, arg, op)
		}
		return setDocPath(doc, segments, result)
	case "$min", "$max":
		if !exists {
			return setDocPath(doc, segments, arg)
		}
		c := sortCompare(arg, current)
		if (op == "$min" && c < 0) || (op == "$max" && c > 0) {
			return setDocPath(doc, segments, arg)
		}
		return doc, nil
	case "$currentDate":
		var value any = primitive.NewDateTimeFromTime(now)
		if spec, ok := asDocument(arg); ok {
			if t, _ := getField(spec, "$type"); t == "timestamp" {
				value = primitive.Timestamp{T: uint32(now.Unix()), I: 1}
			}
		}
		return setDocPath(doc, segments, value)
	case "$rename":
		target, ok := arg.(string)
		if !ok {
			return nil, fmt.Errorf("$rename target must be a string")
		}
		if !exists {
			return doc, nil
		}
		doc = unsetPath(doc, segments)
		return setDocPath(doc, splitPath(target), current)
	case "$push", "$addToSet":
		arr, err := arrayAt(current, exists)
		if err != nil {
			return nil, err
		}
		items, position := eachItems(arg)
		for _, item := range items {
			if op == "$addToSet" && containsValue(arr, item) {
				continue
			}
			if position >= 0 && position <= len(arr) {
				arr = append(arr[:position], append(bson.A{item}, arr[position:]...)...)
				position++
				continue
			}
			arr = append(arr, item)
		}
		return setDocPath(doc, segments, arr)
	case "$pull", "$pullAll":
		if !exists {
			return doc, nil
		}
		arr, err := arrayAt(current, exists)
		if err != nil {
			return nil, err
		}
		kept := make(bson.A, 0, len(arr))
		for _, elem := range arr {
			drop, err := pullMatches(op, elem, arg)
			if err != nil {
				return nil, err
			}
			if !drop {
				kept = append(kept, elem)
			}
		}
		return setDocPath(doc, segments, kept)
	case "$pop":
		if !exists {
			return doc, nil
		}
		arr, err := arrayAt(current, exists)
		if err != nil {
			return nil, err
		}
		if len(arr) == 0 {
			return doc, nil
		}
		if n, _ := toFloat(arg); n < 0 {
			arr = arr[1:]
		} else {
			arr = arr[:len(arr)-1]
		}
		return setDocPath(doc, segments, append(bson.A{}, arr...))
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedOperator, op)
}

// replaceDocument swaps the body of doc for replacement, keeping _id.
func replaceDocument(doc, replacement bson.D) (bson.D, error) {
	id, _ := getField(doc, "_id")
	out := bson.D{{Key: "_id", Value: id}}
	for _, e := range replacement {
		if strings.HasPrefix(e.Key, "$") {
			return nil, fmt.Errorf("replacement document must not contain update operators")
		}
		if e.Key == "_id" {
			if !valuesEqual(e.Value, id) {
				return nil, fmt.Errorf("the _id field cannot be changed by a replacement")
			}
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// seedFromFilter builds the base document of an upsert from the equality
// conditions of filter.
func seedFromFilter(filter bson.D) bson.D {
	doc := bson.D{}
	var walk func(f bson.D)
	walk = func(f bson.D) {
		for _, e := range f {
			if e.Key == "$and" {
				if subs, ok := e.Value.(bson.A); ok {
					for _, s := range subs {
						if d, ok := asDocument(s); ok {
							walk(d)
						}
					}
				}
				continue
			}
			if strings.HasPrefix(e.Key, "$") {
				continue
			}
			value := e.Value
			if ops, ok := asDocument(value); ok && isOperatorDocument(ops) {
				eq, found := getField(ops, "$eq")
				if !found {
					continue
				}
				value = eq
			}
			if updated, err := setDocPath(doc, splitPath(e.Key), value); err == nil {
				doc = updated
			}
		}
	}
	walk(filter)
	return doc
}

func lookupPath(doc any, path []string) (any, bool) {
	var cur any = doc
	for _, seg := range path {
		next, ok := getField(cur, seg)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

func setDocPath(doc bson.D, path []string, value any) (bson.D, error) {
	out, err := setPath(doc, path, value)
	if err != nil {
		return nil, err
	}
	return out.(bson.D), nil
}

func setPath(container any, path []string, value any) (any, error) {
	seg := path[0]
	switch c := container.(type) {
	case nil:
		return setPath(bson.D{}, path, value)
	case bson.D:
		for i, e := range c {
			if e.Key != seg {
				continue
			}
			if len(path) == 1 {
				c[i].Value = value
				return c, nil
			}
			child, err := setPath(e.Value, path[1:], value)
			if err != nil {
				return nil, err
			}
			c[i].Value = child
			return c, nil
		}
		if len(path) == 1 {
			return append(c, bson.E{Key: seg, Value: value}), nil
		}
		child, err := setPath(bson.D{}, path[1:], value)
		if err != nil {
			return nil, err
		}
		return append(c, bson.E{Key: seg, Value: child}), nil
	case bson.M:
		return setPath(mapToDocument(c), path, value)
	case bson.A:
		idx, err := strconv.Atoi(seg)
		if err != nil || idx < 0 {
			return nil, fmt.Errorf("cannot create field %q in an array", seg)
		}
		for len(c) <= idx {
			c = append(c, nil)
		}
		if len(path) == 1 {
			c[idx] = value
			return c, nil
		}
		child, err := setPath(c[idx], path[1:], value)
		if err != nil {
			return nil, err
		}
		c[idx] = child
		return c, nil
	}
	return nil, fmt.Errorf("cannot create field %q in element of type %T", seg, container)
}

func unsetPath(doc bson.D, path []string) bson.D {
	out, _ := unsetIn(doc, path).(bson.D)
	return out
}

func unsetIn(container any, path []string) any {
	seg := path[0]
	switch c := container.(type) {
	case bson.D:
		for i, e := range c {
			if e.Key != seg {
				continue
			}
			if len(path) == 1 {
				return append(c[:i:i], c[i+1:]...)
			}
			c[i].Value = unsetIn(e.Value, path[1:])
			return c
		}
	case bson.A:
		idx, err := strconv.Atoi(seg)
		if err != nil || idx < 0 || idx >= len(c) {
			return c
		}
		if len(path) == 1 {
			c[idx] = nil
			return c
		}
		c[idx] = unsetIn(c[idx], path[1:])
		return c
	}
	return container
}

func arrayAt(current any, exists bool) (bson.A, error) {
	if !exists || current == nil {
		return bson.A{}, nil
	}
	arr, ok := current.(bson.A)
	if !ok {
		return nil, fmt.Errorf("the field must be an array but is of type %T", current)
	}
	return append(bson.A{}, arr...), nil
}

func eachItems(arg any) (bson.A, int) {
	spec, ok := asDocument(arg)
	if !ok {
		return bson.A{arg}, -1
	}
	each, found := getField(spec, "$each")
	if !found {
		return bson.A{arg}, -1
	}
	items, _ := each.(bson.A)
	position := -1
	if p, ok := getField(spec, "$position"); ok {
		if n, isNum := toFloat(p); isNum {
			position = int(n)
		}
	}
	return items, position
}

func containsValue(arr bson.A, v any) bool {
	for _, elem := range arr {
		if valuesEqual(elem, v) {
			return true
		}
	}
	return false
}

func pullMatches(op string, elem, arg any) (bool, error) {
	if op == "$pullAll" {
		values, ok := arg.(bson.A)
		if !ok {
			return false, fmt.Errorf("$pullAll requires an array argument")
		}
		return containsValue(values, elem), nil
	}
	cond, ok := asDocument(arg)
	if !ok {
		return valuesEqual(elem, arg), nil
	}
	if isOperatorDocument(cond) {
		return matchOperators([]any{elem}, cond)
	}
	if !isDocument(elem) {
		return false, nil
	}
	return matchDocument(elem, cond)
}

func zeroLike(v any) any {
	switch v.(type) {
	case int32:
		return int32(0)
	case int64:
		return int64(0)
	case float64, float32:
		return float64(0)
	}
	return int32(0)
}

// arithmetic adds or multiplies two numbers, widening int32 to int64 on
// overflow and to float64 when either side is a float.
func arithmetic(a, b any, op string) any {
	ai, aInt := asInt64(a)
	bi, bInt := asInt64(b)
	if aInt && bInt {
		var r int64
		if op == "$inc" {
			r = ai + bi
		} else {
			r = ai * bi
		}
		_, a32 := a.(int32)
		_, b32 := b.(int32)
		if a32 && b32 && r >= math.MinInt32 && r <= math.MaxInt32 {
			return int32(r)
		}
		return r
	}
	af, _ := toFloat(a)
	bf, _ := toFloat(b)
	if op == "$inc" {
		return af + bf
	}
	return af * bf
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	}
	return 0, false
}
