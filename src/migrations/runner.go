package migrations

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/multierr"

	"syndrodm/src/driver"
	"syndrodm/src/helpers"
)

// Result reports the nodes a run executed, in execution order.
type Result struct {
	RunID   string
	Applied []string
	Current string
}

// Run walks the chain from the current node. Forward runs execute the
// forward procedures of each following node and move the marker onto it.
// Backward runs execute the backward procedures of the current node and
// move the marker to its predecessor; leaving the first node clears the
// marker. Every node runs in its own transaction together with its marker
// update. The first failing node is rolled back and stops the run.
func (c *Chain) Run(ctx context.Context, mode Mode) (*Result, error) {
	res := &Result{RunID: helpers.NewID()}
	c.logger.Infof("Migration run %s: %s, distance %d, from %q", res.RunID, mode.Direction, mode.Distance, c.Current())

	for hops := 0; mode.Distance == 0 || hops < mode.Distance; hops++ {
		var idx, target int
		var procs []Procedure
		switch mode.Direction {
		case Forward:
			idx = c.nodes[c.current].next
			if idx != none {
				target, procs = idx, c.nodes[idx].module.Forward
			}
		case Backward:
			idx = c.current
			if idx == 0 {
				idx = none
			} else {
				target, procs = c.nodes[idx].prev, c.nodes[idx].module.Backward
			}
		default:
			return res, fmt.Errorf("unknown migration direction %d", mode.Direction)
		}
		if idx == none {
			break
		}

		name := c.nodes[idx].module.Name
		started := time.Now()
		err := c.runNode(ctx, name, procs, target, res.RunID)
		c.reg.Metrics().ObserveMigration(name, mode.Direction.String(), time.Since(started), err)
		if err != nil {
			c.logger.Warnf("Migration %s (%s) failed, run %s stopped: %v", name, mode.Direction, res.RunID, err)
			res.Current = c.Current()
			return res, err
		}
		c.current = target
		res.Applied = append(res.Applied, name)
		c.logger.Infof("Migration %s (%s) applied", name, mode.Direction)
	}

	res.Current = c.Current()
	return res, nil
}

func (c *Chain) runNode(ctx context.Context, name string, procs []Procedure, target int, runID string) (err error) {
	session, err := c.reg.Database().StartSession(ctx)
	if err != nil {
		return fmt.Errorf("failed to start a session for %s: %w", name, err)
	}
	defer session.EndSession(ctx)

	if err := session.StartTransaction(ctx); err != nil {
		return fmt.Errorf("failed to start a transaction for %s: %w", name, err)
	}
	abort := func(cause error) error {
		return multierr.Append(cause, session.AbortTransaction(ctx))
	}

	tx := &Tx{Session: session, Registry: c.reg, Name: name, RunID: runID}
	for i, p := range procs {
		if err := p(ctx, tx); err != nil {
			return abort(fmt.Errorf("migration %s step %d: %w", name, i+1, err))
		}
	}
	if err := c.setMarker(ctx, session, target, runID); err != nil {
		return abort(fmt.Errorf("migration %s: %w", name, err))
	}
	if err := session.CommitTransaction(ctx); err != nil {
		return fmt.Errorf("failed to commit migration %s: %w", name, err)
	}
	return nil
}

// setMarker clears every current flag, then flags target. Target 0 leaves
// no node current.
func (c *Chain) setMarker(ctx context.Context, session driver.Session, target int, runID string) error {
	_, err := c.logs.UpdateAll(bson.M{"$set": bson.M{"is_current": false}}).
		SetSession(session).
		Execute(ctx)
	if err != nil {
		return fmt.Errorf("failed to clear the current marker: %w", err)
	}
	if target == 0 {
		return nil
	}

	name := c.nodes[target].module.Name
	now := time.Now().UTC()
	_, err = c.logs.FindOne(c.logs.Field("Name").Eq(name)).
		SetSession(session).
		Set(bson.M{"is_current": true, "applied_at": now, "run_id": runID}).
		Upsert(&Log{Name: name, IsCurrent: true, AppliedAt: now, RunID: runID}).
		Execute(ctx)
	if err != nil {
		return fmt.Errorf("failed to set the current marker to %s: %w", name, err)
	}
	return nil
}
