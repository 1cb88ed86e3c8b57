package operators

import (
	"errors"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
)

// Update operator names.
const (
	OpSet         = "$set"
	OpUnset       = "$unset"
	OpInc         = "$inc"
	OpCurrentDate = "$currentDate"
	OpMax         = "$max"
	OpMin         = "$min"
	OpMul         = "$mul"
	OpRename      = "$rename"
	OpSetOnInsert = "$setOnInsert"
	OpAddToSet    = "$addToSet"
	OpPull        = "$pull"
	OpPullAll     = "$pullAll"
	OpPush        = "$push"
	OpPop         = "$pop"
)

// UpdateExpression is one operator kind with its key/value payload.
type UpdateExpression interface {
	Operator() string
	Payload() bson.M
	Render() bson.M
}

// FieldUpdate is the single node type behind every update constructor.
type FieldUpdate struct {
	Op     string
	Values bson.M
}

func (u *FieldUpdate) Operator() string { return u.Op }

func (u *FieldUpdate) Payload() bson.M { return u.Values }

func (u *FieldUpdate) Render() bson.M {
	return bson.M{u.Op: u.Values}
}

func newUpdate[K ~string](op string, values map[K]any) *FieldUpdate {
	payload := make(bson.M, len(values))
	for k, v := range values {
		payload[string(k)] = v
	}
	return &FieldUpdate{Op: op, Values: payload}
}

func Set[K ~string](values map[K]any) *FieldUpdate { return newUpdate(OpSet, values) }

func Inc[K ~string](values map[K]any) *FieldUpdate { return newUpdate(OpInc, values) }

func Max[K ~string](values map[K]any) *FieldUpdate { return newUpdate(OpMax, values) }

func Min[K ~string](values map[K]any) *FieldUpdate { return newUpdate(OpMin, values) }

func Mul[K ~string](values map[K]any) *FieldUpdate { return newUpdate(OpMul, values) }

// Rename maps old field names to new ones.
func Rename[K ~string](values map[K]any) *FieldUpdate { return newUpdate(OpRename, values) }

func SetOnInsert[K ~string](values map[K]any) *FieldUpdate {
	return newUpdate(OpSetOnInsert, values)
}

func AddToSet[K ~string](values map[K]any) *FieldUpdate { return newUpdate(OpAddToSet, values) }

func Pull[K ~string](values map[K]any) *FieldUpdate { return newUpdate(OpPull, values) }

func PullAll[K ~string](values map[K]any) *FieldUpdate { return newUpdate(OpPullAll, values) }

func Push[K ~string](values map[K]any) *FieldUpdate { return newUpdate(OpPush, values) }

// Pop removes the first (-1) or last (1) element of each array.
func Pop[K ~string](values map[K]any) *FieldUpdate { return newUpdate(OpPop, values) }

// Unset removes fields. The stored value is always "".
func Unset[F ~string](fields ...F) *FieldUpdate {
	payload := make(bson.M, len(fields))
	for _, f := range fields {
		payload[string(f)] = ""
	}
	return &FieldUpdate{Op: OpUnset, Values: payload}
}

// CurrentDate sets each field to the current date; a value of true or
// {"$type": "timestamp"} is passed through to the driver.
func CurrentDate[K ~string](values map[K]any) *FieldUpdate {
	return newUpdate(OpCurrentDate, values)
}

// RawUpdate is an already rendered update document, possibly holding
// several operator kinds.
type RawUpdate bson.M

func (r RawUpdate) Render() bson.M { return bson.M(r) }

// ErrUnsupportedUpdate is returned by Merge for arguments that are not
// update documents.
var ErrUnsupportedUpdate = errors.New("unsupported update")

// Combine merges update documents per operator kind in argument order.
// Within one kind the last write to a key wins; different kinds
// accumulate side by side. Arguments may be UpdateExpression values,
// RawUpdate or bson.M documents keyed by operator name.
func Combine(updates ...any) (bson.M, error) {
	out := bson.M{}
	for _, u := range updates {
		if err := Merge(out, u); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Merge folds one update into dst in place. dst is left untouched when
// update is rejected.
func Merge(dst bson.M, update any) error {
	switch u := update.(type) {
	case nil:
		return nil
	case UpdateExpression:
		mergeKind(dst, u.Operator(), u.Payload())
		return nil
	case RawUpdate:
		return mergeDocument(dst, bson.M(u))
	case bson.M:
		return mergeDocument(dst, u)
	case map[string]any:
		return mergeDocument(dst, bson.M(u))
	case bson.D:
		return mergeDocument(dst, u.Map())
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedUpdate, update)
	}
}

func mergeDocument(dst, doc bson.M) error {
	kinds := make(map[string]bson.M, len(doc))
	for op, payload := range doc {
		if !strings.HasPrefix(op, "$") {
			return fmt.Errorf("%w: %q is not an update operator", ErrUnsupportedUpdate, op)
		}
		switch p := payload.(type) {
		case bson.M:
			kinds[op] = p
		case map[string]any:
			kinds[op] = bson.M(p)
		case bson.D:
			kinds[op] = p.Map()
		default:
			return fmt.Errorf("%w: %s payload is %T", ErrUnsupportedUpdate, op, payload)
		}
	}
	for op, payload := range kinds {
		mergeKind(dst, op, payload)
	}
	return nil
}

func mergeKind(dst bson.M, op string, payload bson.M) {
	existing, ok := dst[op].(bson.M)
	if !ok {
		existing = make(bson.M, len(payload))
		dst[op] = existing
	}
	for k, v := range payload {
		existing[k] = v
	}
}
