package engine

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
)

const idIndexName = "_id_"

// indexSpec records one secondary index of a bundle.
type indexSpec struct {
	Name    string
	Keys    bson.D
	Options bson.D
}

func (s indexSpec) unique() bool {
	v, ok := getField(s.Options, "unique")
	return ok && truthy(v)
}

func (s indexSpec) sparse() bool {
	v, ok := getField(s.Options, "sparse")
	return ok && truthy(v)
}

// describe renders the listIndexes shape: {v, key, name, ...options}.
func (s indexSpec) describe() bson.D {
	d := bson.D{
		{Key: "v", Value: int32(2)},
		{Key: "key", Value: cloneD(s.Keys)},
		{Key: "name", Value: s.Name},
	}
	for _, o := range s.Options {
		d = append(d, bson.E{Key: o.Key, Value: cloneValue(o.Value)})
	}
	return d
}

func idIndex() indexSpec {
	return indexSpec{Name: idIndexName, Keys: bson.D{{Key: "_id", Value: int32(1)}}}
}

func (b *Bundle) findIndexLocked(name string) int {
	for i, idx := range b.indexes {
		if idx.Name == name {
			return i
		}
	}
	return -1
}

// indexKey returns the tuple of values doc holds for the index keys. ok is
// false for sparse indexes when every key is missing.
func indexKey(doc bson.D, idx indexSpec) (bson.A, bool) {
	key := make(bson.A, 0, len(idx.Keys))
	present := false
	for _, k := range idx.Keys {
		v, found := lookupPath(doc, splitPath(k.Key))
		if found {
			present = true
		}
		key = append(key, v)
	}
	if idx.sparse() && !present {
		return nil, false
	}
	return key, true
}

// checkUniqueLocked verifies candidate does not collide with any document
// other than the one at position skip on _id or a unique index.
func (b *Bundle) checkUniqueLocked(candidate bson.D, skip int) error {
	id, _ := getField(candidate, "_id")
	for i, d := range b.documents {
		if i == skip {
			continue
		}
		if other, _ := getField(d, "_id"); valuesEqual(id, other) {
			return fmt.Errorf("%w: collection %s index %s dup key %v", ErrDuplicateKey, b.name, idIndexName, id)
		}
	}
	for _, idx := range b.indexes {
		if !idx.unique() {
			continue
		}
		key, ok := indexKey(candidate, idx)
		if !ok {
			continue
		}
		for i, d := range b.documents {
			if i == skip {
				continue
			}
			other, ok := indexKey(d, idx)
			if ok && valuesEqual(key, other) {
				return fmt.Errorf("%w: collection %s index %s dup key %v", ErrDuplicateKey, b.name, idx.Name, key)
			}
		}
	}
	return nil
}
