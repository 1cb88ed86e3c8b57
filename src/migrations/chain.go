// Package migrations runs ordered data migrations against an odm
// registry. Each migration node runs inside its own transaction and the
// position of the chain is persisted in a log collection.
package migrations

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"syndrodm/src/driver"
	"syndrodm/src/odm"
)

// DefaultCollection stores the migration log.
const DefaultCollection = "migrations_log"

const none = -1

var (
	ErrDuplicateModule = errors.New("duplicate migration name")
	ErrUnknownCurrent  = errors.New("current migration is not in the chain")
)

type Direction int

const (
	Forward Direction = iota
	Backward
)

func (d Direction) String() string {
	if d == Backward {
		return "backward"
	}
	return "forward"
}

// Mode selects the direction of a run and how many nodes it may cross.
// A zero Distance runs to the end of the chain.
type Mode struct {
	Direction Direction
	Distance  int
}

// Tx is handed to every procedure of a node. Operations that should be
// part of the node's transaction must run in Session.
type Tx struct {
	Session  driver.Session
	Registry *odm.Registry
	Name     string
	RunID    string
}

type Procedure func(ctx context.Context, tx *Tx) error

// Module is one migration. Either procedure set may be empty.
type Module struct {
	Name     string
	Forward  []Procedure
	Backward []Procedure
}

// Log is the persisted state of one migration node.
type Log struct {
	odm.Base  `bson:",inline"`
	Name      string    `bson:"name" odm:"index,unique"`
	IsCurrent bool      `bson:"is_current"`
	AppliedAt time.Time `bson:"applied_at"`
	RunID     string    `bson:"run_id"`
}

type node struct {
	module Module
	next   int
	prev   int
}

// Chain is the doubly linked list of migration nodes, stored as an arena.
// Index 0 is the root sentinel.
type Chain struct {
	reg     *odm.Registry
	logs    *odm.Schema[Log]
	nodes   []node
	current int
	logger  *zap.SugaredLogger
}

type Option func(*options)

type options struct {
	collection string
}

// WithCollection overrides the log collection name.
func WithCollection(name string) Option {
	return func(o *options) {
		if name != "" {
			o.collection = name
		}
	}
}

// Build sorts modules by name, links them behind the root and reads the
// current node from the log.
func Build(ctx context.Context, reg *odm.Registry, modules []Module, opts ...Option) (*Chain, error) {
	o := options{collection: DefaultCollection}
	for _, opt := range opts {
		opt(&o)
	}

	sorted := append([]Module(nil), modules...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	c := &Chain{
		reg:    reg,
		nodes:  []node{{next: none, prev: none}},
		logger: reg.Logger(),
	}
	for i, m := range sorted {
		if m.Name == "" {
			return nil, fmt.Errorf("migration %d has no name", i)
		}
		if i > 0 && sorted[i-1].Name == m.Name {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateModule, m.Name)
		}
		idx := len(c.nodes)
		c.nodes = append(c.nodes, node{module: m, next: none, prev: idx - 1})
		c.nodes[idx-1].next = idx
	}

	logs, err := odm.Register[Log](ctx, reg, odm.WithCollectionName(o.collection))
	if err != nil {
		return nil, err
	}
	c.logs = logs

	marker, err := logs.FindOne(logs.Field("IsCurrent").Eq(true)).Result(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read the current migration: %w", err)
	}
	if marker != nil {
		idx := c.indexOf(marker.Name)
		if idx == none {
			return nil, fmt.Errorf("%w: %s", ErrUnknownCurrent, marker.Name)
		}
		c.current = idx
	}
	c.logger.Debugf("Built migration chain with %d nodes, current %q", len(c.nodes)-1, c.Current())
	return c, nil
}

// Node is a read-only view of a chain node.
type Node struct {
	Name string
	Next string
	Prev string
}

func (c *Chain) Root() Node {
	return c.view(0)
}

// Current returns the name of the current node, or "" when no migration
// is applied.
func (c *Chain) Current() string {
	if c.current == 0 {
		return ""
	}
	return c.nodes[c.current].module.Name
}

// Nodes lists the migration nodes in order, without the root.
func (c *Chain) Nodes() []Node {
	out := make([]Node, 0, len(c.nodes)-1)
	for i := c.nodes[0].next; i != none; i = c.nodes[i].next {
		out = append(out, c.view(i))
	}
	return out
}

// Status describes whether a node is applied.
type Status struct {
	Name    string
	Applied bool
	Current bool
}

func (c *Chain) Status() []Status {
	out := make([]Status, 0, len(c.nodes)-1)
	for i := c.nodes[0].next; i != none; i = c.nodes[i].next {
		out = append(out, Status{
			Name:    c.nodes[i].module.Name,
			Applied: c.current != 0 && i <= c.current,
			Current: i == c.current,
		})
	}
	return out
}

func (c *Chain) view(i int) Node {
	n := Node{Name: c.nodes[i].module.Name}
	if c.nodes[i].next != none {
		n.Next = c.nodes[c.nodes[i].next].module.Name
	}
	if c.nodes[i].prev > 0 {
		n.Prev = c.nodes[c.nodes[i].prev].module.Name
	}
	return n
}

func (c *Chain) indexOf(name string) int {
	for i := 1; i < len(c.nodes); i++ {
		if c.nodes[i].module.Name == name {
			return i
		}
	}
	return none
}
