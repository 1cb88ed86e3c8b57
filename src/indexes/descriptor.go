// Package indexes reconciles the index set declared for a collection with
// the indexes the database reports for it.
package indexes

import (
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"golang.org/x/crypto/blake2b"

	"syndrodm/src/driver"
)

// MaxNameLength bounds generated index names.
const MaxNameLength = 120

// Model is an index as declared on a schema.
type Model = driver.IndexModel

// Key is one (field, direction-or-kind) pair. Kind is 1, -1 or a string
// such as "text", "2dsphere" or "hashed".
type Key struct {
	Field string
	Kind  string
}

// Option is one canonical index option.
type Option struct {
	Name  string
	Value string
}

// Descriptor is the canonical, name-independent form of an index. Two
// descriptors are equal when their key lists and option lists are.
type Descriptor struct {
	Name    string
	Keys    []Key
	Options []Option

	model Model
}

// ignoredOptions never take part in equality.
var ignoredOptions = map[string]bool{
	"v":    true,
	"ns":   true,
	"name": true,
	"key":  true,
}

// FromModel canonicalizes a declared index. An empty name is generated
// from the keys.
func FromModel(m Model) Descriptor {
	d := Descriptor{
		Keys:    canonicalKeys(m.Keys),
		Options: canonicalOptions(m.Options),
	}
	d.Name = m.Name
	if d.Name == "" {
		d.Name = GenerateName(m.Keys)
	}
	d.model = Model{Name: d.Name, Keys: m.Keys, Options: m.Options}
	return d
}

// FromListed converts listIndexes output into descriptors, skipping the
// _id index.
func FromListed(listed []bson.D) []Descriptor {
	out := make([]Descriptor, 0, len(listed))
	for _, spec := range listed {
		var name string
		var keys, options bson.D
		for _, e := range spec {
			switch e.Key {
			case "name":
				name, _ = e.Value.(string)
			case "key":
				keys = toD(e.Value)
			default:
				if !ignoredOptions[e.Key] {
					options = append(options, e)
				}
			}
		}
		if name == "_id_" || isIDOnly(keys) {
			continue
		}
		out = append(out, FromModel(Model{Name: name, Keys: keys, Options: options}))
	}
	return out
}

// Model returns the index model the descriptor was built from.
func (d Descriptor) Model() Model {
	return d.model
}

// Equal compares keys and options; the name is ignored.
func (d Descriptor) Equal(other Descriptor) bool {
	return d.SameFields(other) && optionsEqual(d.Options, other.Options)
}

// SameFields reports whether both descriptors cover the same key list.
func (d Descriptor) SameFields(other Descriptor) bool {
	return d.fieldKey() == other.fieldKey()
}

func (d Descriptor) fieldKey() string {
	parts := make([]string, 0, len(d.Keys))
	for _, k := range d.Keys {
		parts = append(parts, k.Field+":"+k.Kind)
	}
	return strings.Join(parts, ",")
}

func (d Descriptor) String() string {
	return fmt.Sprintf("%s(%s)", d.Name, d.fieldKey())
}

// GenerateName joins field and direction the way the database does, e.g.
// "a_1_b_-1". Names longer than MaxNameLength are truncated and suffixed
// with a digest of the full name so they stay unique.
func GenerateName(keys bson.D) string {
	parts := make([]string, 0, len(keys)*2)
	for _, k := range keys {
		parts = append(parts, k.Key, kindString(k.Value))
	}
	name := strings.Join(parts, "_")
	if len(name) <= MaxNameLength {
		return name
	}
	sum := blake2b.Sum256([]byte(name))
	digest := hex.EncodeToString(sum[:8])
	return name[:MaxNameLength-len(digest)-1] + "_" + digest
}

// canonicalKeys sorts the key list. The declared order is still used when
// the index is created, through Model.
func canonicalKeys(keys bson.D) []Key {
	out := make([]Key, 0, len(keys))
	for _, k := range keys {
		out = append(out, Key{Field: k.Key, Kind: kindString(k.Value)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Field != out[j].Field {
			return out[i].Field < out[j].Field
		}
		return out[i].Kind < out[j].Kind
	})
	return out
}

func canonicalOptions(options bson.D) []Option {
	out := make([]Option, 0, len(options))
	for _, o := range options {
		if ignoredOptions[o.Key] {
			continue
		}
		out = append(out, Option{Name: o.Key, Value: valueString(o.Value)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func optionsEqual(a, b []Option) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// kindString normalizes numeric directions so 1, int32(1), int64(1) and
// 1.0 compare equal.
func kindString(v any) string {
	switch n := v.(type) {
	case int:
		return fmt.Sprint(n)
	case int32:
		return fmt.Sprint(n)
	case int64:
		return fmt.Sprint(n)
	case float64:
		if n == float64(int64(n)) {
			return fmt.Sprint(int64(n))
		}
		return fmt.Sprint(n)
	case string:
		return n
	}
	return fmt.Sprint(v)
}

func valueString(v any) string {
	switch t := v.(type) {
	case int, int32, int64, float64:
		return kindString(t)
	case bson.D, bson.M, bson.A:
		data, err := bson.MarshalExtJSON(bson.D{{Key: "v", Value: t}}, true, false)
		if err == nil {
			return string(data)
		}
	}
	return fmt.Sprint(v)
}

func toD(v any) bson.D {
	switch t := v.(type) {
	case bson.D:
		return t
	case bson.M:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		d := make(bson.D, 0, len(t))
		for _, k := range keys {
			d = append(d, bson.E{Key: k, Value: t[k]})
		}
		return d
	case bson.Raw:
		var d bson.D
		if err := bson.Unmarshal(t, &d); err == nil {
			return d
		}
	}
	return nil
}

func isIDOnly(keys bson.D) bool {
	return len(keys) == 1 && keys[0].Key == "_id"
}
