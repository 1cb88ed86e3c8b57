// Package encoder keeps the per-type encode/decode table consulted when
// documents are converted to and from their stored representation.
package encoder

import (
	"fmt"
	"reflect"
	"sort"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsoncodec"
	"go.mongodb.org/mongo-driver/bson/bsonrw"
	"go.mongodb.org/mongo-driver/bson/bsontype"
)

// Codec converts one Go type to a value the bson encoder already knows
// how to write, and back from the stored raw value.
type Codec struct {
	Encode func(v reflect.Value) (any, error)
	Decode func(raw bson.RawValue) (any, error)
}

// Table maps Go types to codecs. The zero value is not usable; call New.
type Table struct {
	mu       sync.RWMutex
	codecs   map[reflect.Type]Codec
	registry *bsoncodec.Registry
}

// New returns a table preloaded with the default codecs.
func New() *Table {
	t := &Table{codecs: make(map[reflect.Type]Codec)}
	registerDefaults(t)
	return t
}

// Register installs a codec for the concrete type T, replacing any
// previous entry.
func Register[T any](t *Table, encode func(T) (any, error), decode func(bson.RawValue) (T, error)) {
	typ := reflect.TypeOf((*T)(nil)).Elem()
	t.Set(typ, Codec{
		Encode: func(v reflect.Value) (any, error) {
			return encode(v.Interface().(T))
		},
		Decode: func(raw bson.RawValue) (any, error) {
			return decode(raw)
		},
	})
}

// Set installs a codec for typ.
func (t *Table) Set(typ reflect.Type, c Codec) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.codecs[typ] = c
	t.registry = nil
}

// Lookup returns the codec registered for typ.
func (t *Table) Lookup(typ reflect.Type) (Codec, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.codecs[typ]
	return c, ok
}

// Registry returns a bson registry that consults the table before
// falling back to the driver defaults. It is rebuilt after every Set.
func (t *Table) Registry() *bsoncodec.Registry {
	t.mu.RLock()
	reg := t.registry
	t.mu.RUnlock()
	if reg != nil {
		return reg
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.registry != nil {
		return t.registry
	}
	reg = bson.NewRegistry()
	for typ, c := range t.codecs {
		reg.RegisterTypeEncoder(typ, encoderFor(c))
		reg.RegisterTypeDecoder(typ, decoderFor(c))
	}
	reg.RegisterInterfaceDecoder(tValueUnmarshaler, valueUnmarshalerDecoder(reg))
	t.registry = reg
	return reg
}

// RegistryUnmarshaler is a bson.ValueUnmarshaler that decodes nested
// documents itself. Registry hands it the registry in use so table
// codecs reach those documents too.
type RegistryUnmarshaler interface {
	UnmarshalBSONValueWithRegistry(reg *bsoncodec.Registry, t bsontype.Type, data []byte) error
}

var (
	tValueUnmarshaler    = reflect.TypeOf((*bsoncodec.ValueUnmarshaler)(nil)).Elem()
	tRegistryUnmarshaler = reflect.TypeOf((*RegistryUnmarshaler)(nil)).Elem()
)

func valueUnmarshalerDecoder(reg *bsoncodec.Registry) bsoncodec.ValueDecoderFunc {
	fallback := bsoncodec.DefaultValueDecoders{}.ValueUnmarshalerDecodeValue
	return func(dc bsoncodec.DecodeContext, vr bsonrw.ValueReader, val reflect.Value) error {
		target := val
		switch {
		case val.Kind() == reflect.Ptr && vr.Type() == bsontype.Null:
			return fallback(dc, vr, val)
		case val.Kind() == reflect.Ptr:
			if val.IsNil() {
				if !val.CanSet() {
					return fallback(dc, vr, val)
				}
				val.Set(reflect.New(val.Type().Elem()))
			}
			target = val.Elem().Addr()
		case val.CanAddr():
			target = val.Addr()
		default:
			return fallback(dc, vr, val)
		}
		if !target.Type().Implements(tRegistryUnmarshaler) {
			return fallback(dc, vr, val)
		}
		typ, data, err := bsonrw.Copier{}.CopyValueToBytes(vr)
		if err != nil {
			return err
		}
		return target.Interface().(RegistryUnmarshaler).UnmarshalBSONValueWithRegistry(reg, typ, data)
	}
}

// Marshal encodes v into a document.
func (t *Table) Marshal(v any) (bson.Raw, error) {
	data, err := bson.MarshalWithRegistry(t.Registry(), v)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	return bson.Raw(data), nil
}

// Unmarshal decodes a document into v, which must be a pointer.
func (t *Table) Unmarshal(data []byte, v any) error {
	if err := bson.UnmarshalWithRegistry(t.Registry(), data, v); err != nil {
		return fmt.Errorf("decode into %T: %w", v, err)
	}
	return nil
}

// ToDocument encodes v and returns the ordered document with the given
// top-level keys removed.
func (t *Table) ToDocument(v any, exclude ...string) (bson.D, error) {
	raw, err := t.Marshal(v)
	if err != nil {
		return nil, err
	}
	var doc bson.D
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	if len(exclude) == 0 {
		return doc, nil
	}
	out := doc[:0]
	for _, e := range doc {
		if !contains(exclude, e.Key) {
			out = append(out, e)
		}
	}
	return out, nil
}

// Normalize encodes a filter or update document so values with a
// registered codec reach the driver in their stored form. Map keys are
// written in sorted order; ordered operands (bson.D, structs) keep their
// own order, so equal inputs always produce the same bytes.
func (t *Table) Normalize(doc bson.M) (bson.D, error) {
	if len(doc) == 0 {
		return bson.D{}, nil
	}
	raw, err := t.Marshal(ordered(doc))
	if err != nil {
		return nil, err
	}
	var out bson.D
	if err := bson.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return out, nil
}

// ordered rewrites maps into bson.D with sorted keys, descending into
// documents and arrays. Anything else is left for the registry.
func ordered(v any) any {
	switch x := v.(type) {
	case bson.M:
		return sortedDocument(x)
	case map[string]any:
		return sortedDocument(x)
	case bson.D:
		out := make(bson.D, len(x))
		for i, e := range x {
			out[i] = bson.E{Key: e.Key, Value: ordered(e.Value)}
		}
		return out
	case bson.A:
		out := make(bson.A, len(x))
		for i, e := range x {
			out[i] = ordered(e)
		}
		return out
	case []any:
		out := make(bson.A, len(x))
		for i, e := range x {
			out[i] = ordered(e)
		}
		return out
	default:
		return v
	}
}

func sortedDocument(m map[string]any) bson.D {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make(bson.D, len(keys))
	for i, k := range keys {
		out[i] = bson.E{Key: k, Value: ordered(m[k])}
	}
	return out
}

func encoderFor(c Codec) bsoncodec.ValueEncoderFunc {
	return func(ec bsoncodec.EncodeContext, vw bsonrw.ValueWriter, val reflect.Value) error {
		out, err := c.Encode(val)
		if err != nil {
			return err
		}
		if out == nil {
			return vw.WriteNull()
		}
		enc, err := ec.LookupEncoder(reflect.TypeOf(out))
		if err != nil {
			return err
		}
		return enc.EncodeValue(ec, vw, reflect.ValueOf(out))
	}
}

func decoderFor(c Codec) bsoncodec.ValueDecoderFunc {
	return func(_ bsoncodec.DecodeContext, vr bsonrw.ValueReader, val reflect.Value) error {
		typ, data, err := bsonrw.Copier{}.CopyValueToBytes(vr)
		if err != nil {
			return err
		}
		out, err := c.Decode(bson.RawValue{Type: typ, Value: data})
		if err != nil {
			return err
		}
		if out == nil {
			val.Set(reflect.Zero(val.Type()))
			return nil
		}
		rv := reflect.ValueOf(out)
		if !rv.Type().AssignableTo(val.Type()) {
			if !rv.Type().ConvertibleTo(val.Type()) {
				return fmt.Errorf("codec returned %s, want %s", rv.Type(), val.Type())
			}
			rv = rv.Convert(val.Type())
		}
		val.Set(rv)
		return nil
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
