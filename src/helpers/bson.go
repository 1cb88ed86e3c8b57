package helpers

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
)

// EncodeBSON encodes v into a BSON document. Raw documents are validated
// and returned as is.
func EncodeBSON(v any) (bson.Raw, error) {
	switch d := v.(type) {
	case bson.Raw:
		if err := d.Validate(); err != nil {
			return nil, fmt.Errorf("invalid bson document: %w", err)
		}
		return d, nil
	case []byte:
		return EncodeBSON(bson.Raw(d))
	}
	data, err := bson.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("error encoding bson: %w", err)
	}
	return data, nil
}

// DecodeDocument decodes a BSON document into an ordered document.
// Embedded documents decode as bson.D and arrays as bson.A.
func DecodeDocument(data []byte) (bson.D, error) {
	var doc bson.D
	if err := bson.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("error decoding bson: %w", err)
	}
	if doc == nil {
		doc = bson.D{}
	}
	return doc, nil
}

// ToDocument converts any document-shaped value (struct, map, bson.D,
// raw bytes) into a freshly allocated bson.D. A nil value yields an
// empty document.
func ToDocument(v any) (bson.D, error) {
	if v == nil {
		return bson.D{}, nil
	}
	raw, err := EncodeBSON(v)
	if err != nil {
		return nil, err
	}
	return DecodeDocument(raw)
}

// ToArray converts a slice value (pipelines, $in operands) into bson.A
// with every element normalized the same way ToDocument does.
func ToArray(v any) (bson.A, error) {
	if v == nil {
		return bson.A{}, nil
	}
	doc, err := ToDocument(bson.D{{Key: "v", Value: v}})
	if err != nil {
		return nil, err
	}
	arr, ok := doc[0].Value.(bson.A)
	if !ok {
		return nil, fmt.Errorf("expected an array, got %T", v)
	}
	return arr, nil
}
