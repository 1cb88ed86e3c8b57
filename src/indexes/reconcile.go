package indexes

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"syndrodm/src/driver"
	"syndrodm/src/logging"
)

// Difference returns the descriptors of left that have no equal in right.
func Difference(left, right []Descriptor) []Descriptor {
	var out []Descriptor
	for _, l := range left {
		if !containsEqual(right, l) {
			out = append(out, l)
		}
	}
	return out
}

// Merge combines two index sets keyed by field list. When both sides
// declare the same fields the right side wins. Order is first appearance.
func Merge(left, right []Descriptor) []Descriptor {
	out := make([]Descriptor, 0, len(left)+len(right))
	positions := make(map[string]int, len(left)+len(right))
	for _, set := range [][]Descriptor{left, right} {
		for _, d := range set {
			if i, ok := positions[d.fieldKey()]; ok {
				out[i] = d
				continue
			}
			positions[d.fieldKey()] = len(out)
			out = append(out, d)
		}
	}
	return out
}

// Plan is the set of changes that brings the live indexes in line with
// the target set.
type Plan struct {
	Drop   []Descriptor
	Create []Descriptor
}

func (p Plan) Empty() bool {
	return len(p.Drop) == 0 && len(p.Create) == 0
}

// Diff computes the plan for declared against live. With keepLive the
// target is Merge(live, declared): live indexes nobody declared survive,
// and a declared index replaces a live one on the same fields.
func Diff(declared, live []Descriptor, keepLive bool) Plan {
	target := declared
	if keepLive {
		target = Merge(live, declared)
	}
	return Plan{
		Drop:   Difference(live, target),
		Create: Difference(target, live),
	}
}

type Options struct {
	// KeepLive keeps live indexes that are not declared.
	KeepLive bool
	Logger   *zap.SugaredLogger
}

// Reconcile reads the live indexes of coll, drops the obsolete ones and
// creates the missing ones. Drops run before creates so an index whose
// options changed can be recreated under the same name.
func Reconcile(ctx context.Context, coll driver.Collection, declared []Model, opts Options) (Plan, error) {
	logger := logging.OrNop(opts.Logger)

	listed, err := coll.ListIndexes(ctx)
	if err != nil {
		return Plan{}, fmt.Errorf("failed to list indexes of %s: %w", coll.Name(), err)
	}
	want := make([]Descriptor, 0, len(declared))
	for _, m := range declared {
		want = append(want, FromModel(m))
	}
	plan := Diff(want, FromListed(listed), opts.KeepLive)

	for _, d := range plan.Drop {
		logger.Infof("Dropping index %s on %s", d, coll.Name())
		if err := coll.DropIndex(ctx, d.Name); err != nil {
			return plan, fmt.Errorf("failed to drop index %s on %s: %w", d.Name, coll.Name(), err)
		}
	}
	if len(plan.Create) > 0 {
		models := make([]driver.IndexModel, 0, len(plan.Create))
		for _, d := range plan.Create {
			logger.Infof("Creating index %s on %s", d, coll.Name())
			models = append(models, d.Model())
		}
		if err := coll.CreateIndexes(ctx, models); err != nil {
			return plan, fmt.Errorf("failed to create indexes on %s: %w", coll.Name(), err)
		}
	}
	return plan, nil
}

func containsEqual(set []Descriptor, d Descriptor) bool {
	for _, s := range set {
		if s.Equal(d) {
			return true
		}
	}
	return false
}
