package engine

import (
	"fmt"
	"sort"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
)

// sortDocuments orders docs in place by a sort specification such as
// {"age": -1, "name": 1}. The sort is stable so insertion order breaks ties.
func sortDocuments(docs []bson.D, spec bson.D) error {
	if len(spec) == 0 {
		return nil
	}
	dirs := make([]int, len(spec))
	for i, e := range spec {
		n, ok := toFloat(e.Value)
		if !ok || (n != 1 && n != -1) {
			return fmt.Errorf("invalid sort direction for %q: %v", e.Key, e.Value)
		}
		dirs[i] = int(n)
	}
	sort.SliceStable(docs, func(i, j int) bool {
		for k, e := range spec {
			path := splitPath(e.Key)
			a := sortKey(docs[i], path, dirs[k])
			b := sortKey(docs[j], path, dirs[k])
			if c := sortCompare(a, b); c != 0 {
				return c*dirs[k] < 0
			}
		}
		return false
	})
	return nil
}

// sortKey picks the value a document sorts by: the minimum array element
// ascending, the maximum descending, nil when missing.
func sortKey(doc bson.D, path []string, dir int) any {
	values := resolve(doc, path)
	var flat []any
	for _, v := range values {
		if arr, ok := v.(bson.A); ok && len(arr) > 0 {
			flat = append(flat, arr...)
			continue
		}
		flat = append(flat, v)
	}
	if len(flat) == 0 {
		return nil
	}
	best := flat[0]
	for _, v := range flat[1:] {
		c := sortCompare(v, best)
		if (dir > 0 && c < 0) || (dir < 0 && c > 0) {
			best = v
		}
	}
	return best
}

// projectDocument applies an inclusion or exclusion projection. _id is
// kept unless excluded explicitly.
func projectDocument(doc bson.D, projection bson.D) (bson.D, error) {
	if len(projection) == 0 {
		return doc, nil
	}
	include, exclude := false, false
	idExcluded := false
	for _, e := range projection {
		if e.Key == "_id" {
			idExcluded = !truthy(e.Value)
			continue
		}
		if truthy(e.Value) {
			include = true
		} else {
			exclude = true
		}
	}
	if include && exclude {
		return nil, fmt.Errorf("cannot mix inclusion and exclusion in a projection")
	}

	if !include {
		out := doc
		for _, e := range projection {
			if !truthy(e.Value) {
				out = unsetPath(out, splitPath(e.Key))
			}
		}
		return out, nil
	}

	out := bson.D{}
	if !idExcluded {
		if id, ok := getField(doc, "_id"); ok {
			out = append(out, bson.E{Key: "_id", Value: id})
		}
	}
	for _, e := range projection {
		if e.Key == "_id" || !truthy(e.Value) {
			continue
		}
		path := splitPath(e.Key)
		v, ok := lookupPath(doc, path)
		if !ok {
			continue
		}
		var err error
		if out, err = setDocPath(out, path, v); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// runPipeline evaluates the supported aggregation stages in order.
func runPipeline(docs []bson.D, pipeline bson.A) ([]bson.D, error) {
	for _, raw := range pipeline {
		stage, ok := asDocument(raw)
		if !ok || len(stage) != 1 {
			return nil, fmt.Errorf("a pipeline stage must be a single-key document, got %v", raw)
		}
		name, arg := stage[0].Key, stage[0].Value
		var err error
		switch name {
		case "$match":
			filter, ok := asDocument(arg)
			if !ok {
				return nil, fmt.Errorf("$match expects a document")
			}
			docs, err = filterDocuments(docs, filter)
		case "$sort":
			spec, ok := asDocument(arg)
			if !ok {
				return nil, fmt.Errorf("$sort expects a document")
			}
			err = sortDocuments(docs, spec)
		case "$skip":
			n, _ := toFloat(arg)
			if int(n) >= len(docs) {
				docs = nil
			} else {
				docs = docs[int(n):]
			}
		case "$limit":
			n, _ := toFloat(arg)
			if int(n) < len(docs) {
				docs = docs[:int(n)]
			}
		case "$project":
			spec, ok := asDocument(arg)
			if !ok {
				return nil, fmt.Errorf("$project expects a document")
			}
			for i := range docs {
				if docs[i], err = projectDocument(docs[i], spec); err != nil {
					break
				}
			}
		case "$count":
			field, ok := arg.(string)
			if !ok || field == "" || strings.HasPrefix(field, "$") {
				return nil, fmt.Errorf("$count expects a non-empty field name")
			}
			if len(docs) == 0 {
				docs = nil
			} else {
				docs = []bson.D{{{Key: field, Value: int32(len(docs))}}}
			}
		case "$unwind":
			docs, err = unwind(docs, arg)
		default:
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedOperator, name)
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
	}
	return docs, nil
}

func filterDocuments(docs []bson.D, filter bson.D) ([]bson.D, error) {
	out := make([]bson.D, 0, len(docs))
	for _, d := range docs {
		ok, err := matchDocument(d, filter)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, d)
		}
	}
	return out, nil
}

func unwind(docs []bson.D, arg any) ([]bson.D, error) {
	path, ok := arg.(string)
	if spec, isDoc := asDocument(arg); isDoc {
		p, _ := getField(spec, "path")
		path, ok = p.(string)
	}
	if !ok || !strings.HasPrefix(path, "$") {
		return nil, fmt.Errorf("path must be a field path prefixed with '$'")
	}
	segments := splitPath(path[1:])

	var out []bson.D
	for _, d := range docs {
		v, found := lookupPath(d, segments)
		arr, isArr := v.(bson.A)
		if !found || (isArr && len(arr) == 0) || v == nil {
			continue
		}
		if !isArr {
			out = append(out, d)
			continue
		}
		for _, elem := range arr {
			clone := cloneD(d)
			updated, err := setDocPath(clone, segments, elem)
			if err != nil {
				return nil, err
			}
			out = append(out, updated)
		}
	}
	return out, nil
}

// cloneD copies the spine of a document so path writes do not alias.
func cloneD(d bson.D) bson.D {
	out := make(bson.D, len(d))
	for i, e := range d {
		out[i] = bson.E{Key: e.Key, Value: cloneValue(e.Value)}
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case bson.D:
		return cloneD(t)
	case bson.M:
		return cloneD(mapToDocument(t))
	case bson.A:
		out := make(bson.A, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	}
	return v
}
