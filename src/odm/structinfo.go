package odm

import (
	"reflect"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"syndrodm/src/fields"
	"syndrodm/src/indexes"
)

var (
	timeType           = reflect.TypeOf(time.Time{})
	valueMarshalerType = reflect.TypeOf((*bson.ValueMarshaler)(nil)).Elem()
)

// structField is one stored attribute of a document type.
type structField struct {
	goName string
	name   string
	inline bool
	odmTag string
	typ    reflect.Type
}

// storedFields lists the exported fields of typ with their bson names,
// following the driver's default struct tag rules: the tag name when
// given, else the lowercased Go name.
func storedFields(typ reflect.Type) []structField {
	var out []structField
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		if !f.IsExported() {
			continue
		}
		tag := f.Tag.Get("bson")
		if tag == "-" {
			continue
		}
		parts := strings.Split(tag, ",")
		sf := structField{goName: f.Name, name: parts[0], odmTag: f.Tag.Get("odm"), typ: f.Type}
		for _, p := range parts[1:] {
			if p == "inline" {
				sf.inline = true
			}
		}
		if sf.name == "" {
			sf.name = strings.ToLower(f.Name)
		}
		out = append(out, sf)
	}
	return out
}

// fieldMap indexes every attribute path of typ by Go name and by stored
// name, both resolving to the stored path.
func fieldMap(typ reflect.Type) map[string]fields.Field {
	out := make(map[string]fields.Field)
	collectFields(typ, "", "", out, 0)
	return out
}

func collectFields(typ reflect.Type, goPrefix string, prefix fields.Field, out map[string]fields.Field, depth int) {
	if depth > 8 {
		return
	}
	for _, sf := range storedFields(typ) {
		t := derefType(sf.typ)
		if sf.inline && t.Kind() == reflect.Struct {
			collectFields(t, goPrefix, prefix, out, depth+1)
			continue
		}
		path := prefix.Attr(sf.name)
		goPath := sf.goName
		if goPrefix != "" {
			goPath = goPrefix + "." + sf.goName
		}
		out[goPath] = path
		out[path.Path()] = path
		if nestedStruct(t) {
			collectFields(t, goPath, path, out, depth+1)
		}
	}
}

// tagIndexes reads odm:"index[,unique][,desc][,sparse]" and odm:"text"
// tags into index models.
func tagIndexes(typ reflect.Type) []indexes.Model {
	var out []indexes.Model
	walkTags(typ, "", &out, 0)
	return out
}

func walkTags(typ reflect.Type, prefix fields.Field, out *[]indexes.Model, depth int) {
	if depth > 8 {
		return
	}
	for _, sf := range storedFields(typ) {
		t := derefType(sf.typ)
		if sf.inline && t.Kind() == reflect.Struct {
			walkTags(t, prefix, out, depth+1)
			continue
		}
		path := prefix.Attr(sf.name)
		if sf.odmTag != "" {
			if m, ok := parseIndexTag(path.Path(), sf.odmTag); ok {
				*out = append(*out, m)
			}
		}
		if nestedStruct(t) {
			walkTags(t, path, out, depth+1)
		}
	}
}

func parseIndexTag(path, tag string) (indexes.Model, bool) {
	var kind any = 1
	var options bson.D
	indexed := false
	for _, p := range strings.Split(tag, ",") {
		switch strings.TrimSpace(p) {
		case "index":
			indexed = true
		case "unique":
			indexed = true
			options = append(options, bson.E{Key: "unique", Value: true})
		case "sparse":
			options = append(options, bson.E{Key: "sparse", Value: true})
		case "desc":
			kind = -1
		case "text":
			indexed = true
			kind = "text"
		case "hashed":
			indexed = true
			kind = "hashed"
		case "2dsphere":
			indexed = true
			kind = "2dsphere"
		}
	}
	if !indexed {
		return indexes.Model{}, false
	}
	return indexes.Model{Keys: bson.D{{Key: path, Value: kind}}, Options: options}, true
}

// projectionOf derives an inclusion projection from the stored fields of
// model's type.
func projectionOf(model any) bson.D {
	typ := derefType(reflect.TypeOf(model))
	if typ.Kind() != reflect.Struct {
		return nil
	}
	var out bson.D
	var walk func(t reflect.Type, depth int)
	walk = func(t reflect.Type, depth int) {
		for _, sf := range storedFields(t) {
			inner := derefType(sf.typ)
			if sf.inline && inner.Kind() == reflect.Struct && depth < 8 {
				walk(inner, depth+1)
				continue
			}
			out = append(out, bson.E{Key: sf.name, Value: 1})
		}
	}
	walk(typ, 0)
	return out
}

func nestedStruct(t reflect.Type) bool {
	if t.Kind() != reflect.Struct || t == timeType {
		return false
	}
	if t.Implements(valueMarshalerType) || reflect.PointerTo(t).Implements(valueMarshalerType) {
		return false
	}
	return !strings.HasPrefix(t.PkgPath(), "go.mongodb.org/")
}

func derefType(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}
