package fields

import (
	"errors"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
)

type SortDirection int

const (
	Ascending  SortDirection = 1
	Descending SortDirection = -1
)

// SortSpec is one (field, direction) pair of a sort order.
type SortSpec struct {
	Field     Field
	Direction SortDirection
}

var ErrInvalidSort = errors.New("invalid sort argument")

// ParseSort normalizes a list of sort arguments into ordered specs.
//
// nil entries are skipped, slices are flattened, a string may carry a
// leading "+" or "-" and a SortSpec is taken as is. Any other type
// returns an error wrapping ErrInvalidSort.
func ParseSort(args ...any) ([]SortSpec, error) {
	out := make([]SortSpec, 0, len(args))
	for _, arg := range args {
		specs, err := parseSortArg(arg)
		if err != nil {
			return nil, err
		}
		out = append(out, specs...)
	}
	return out, nil
}

func parseSortArg(arg any) ([]SortSpec, error) {
	switch v := arg.(type) {
	case nil:
		return nil, nil
	case SortSpec:
		return []SortSpec{v}, nil
	case []SortSpec:
		return v, nil
	case Field:
		return []SortSpec{v.Asc()}, nil
	case string:
		return []SortSpec{parseSortString(v)}, nil
	case []string:
		out := make([]SortSpec, 0, len(v))
		for _, s := range v {
			out = append(out, parseSortString(s))
		}
		return out, nil
	case []any:
		return ParseSort(v...)
	default:
		return nil, fmt.Errorf("%w: unsupported type %T", ErrInvalidSort, arg)
	}
}

func parseSortString(s string) SortSpec {
	switch {
	case strings.HasPrefix(s, "-"):
		return SortSpec{Field: Field(s[1:]), Direction: Descending}
	case strings.HasPrefix(s, "+"):
		return SortSpec{Field: Field(s[1:]), Direction: Ascending}
	default:
		return SortSpec{Field: Field(s), Direction: Ascending}
	}
}

// SortDocument renders specs as an ordered driver sort document.
func SortDocument(specs []SortSpec) bson.D {
	if len(specs) == 0 {
		return nil
	}
	doc := make(bson.D, 0, len(specs))
	for _, s := range specs {
		doc = append(doc, bson.E{Key: s.Field.Path(), Value: int(s.Direction)})
	}
	return doc
}
