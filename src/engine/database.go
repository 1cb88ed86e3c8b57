// Package engine is an embedded, in-memory document store implementing
// the driver interfaces. It evaluates the same $-operator filter, update
// and pipeline documents a MongoDB server would, for the subset of
// operators the ODM renders, and journals every command it runs.
package engine

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"

	"syndrodm/src/driver"
)

var (
	ErrDuplicateKey          = errors.New("duplicate key error")
	ErrTransactionInProgress = errors.New("another transaction is already in progress")
	ErrNoTransaction         = errors.New("no transaction started")
	ErrSessionEnded          = errors.New("session has ended")
	ErrIndexNotFound         = errors.New("index not found")
)

// Database holds bundles (collections) in memory. All bundles share one
// lock so a transaction can snapshot and restore the whole database.
type Database struct {
	name    string
	mu      sync.Mutex
	bundles map[string]*Bundle
	journal *Journal
	logger  *zap.SugaredLogger
	now     func() time.Time

	// active transaction and the state captured when it started
	txn      *Session
	snapshot map[string]bundleState
}

type Option func(*Database)

func WithLogger(logger *zap.SugaredLogger) Option {
	return func(db *Database) {
		if logger != nil {
			db.logger = logger
		}
	}
}

func WithJournal(j *Journal) Option {
	return func(db *Database) {
		if j != nil {
			db.journal = j
		}
	}
}

// WithClock overrides the time source used by $currentDate.
func WithClock(now func() time.Time) Option {
	return func(db *Database) {
		if now != nil {
			db.now = now
		}
	}
}

// NewDatabase creates an empty in-memory database.
func NewDatabase(name string, opts ...Option) *Database {
	db := &Database{
		name:    name,
		bundles: make(map[string]*Bundle),
		journal: NewJournal(nil),
		logger:  zap.NewNop().Sugar(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(db)
	}
	db.logger.Debugf("Created in-memory database %s", name)
	return db
}

func (db *Database) Name() string {
	return db.name
}

// Journal returns the command journal.
func (db *Database) Journal() *Journal {
	return db.journal
}

// Collection returns the bundle with the given name, creating it on
// first use.
func (db *Database) Collection(name string) driver.Collection {
	return db.Bundle(name)
}

func (db *Database) Bundle(name string) *Bundle {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.bundleLocked(name)
}

func (db *Database) bundleLocked(name string) *Bundle {
	b, ok := db.bundles[name]
	if !ok {
		b = &Bundle{name: name, db: db}
		db.bundles[name] = b
	}
	return b
}

// ListBundles returns the bundle names in sorted order.
func (db *Database) ListBundles() []string {
	db.mu.Lock()
	defer db.mu.Unlock()
	names := make([]string, 0, len(db.bundles))
	for name := range db.bundles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DropBundle removes a bundle with its documents and indexes.
func (db *Database) DropBundle(name string) {
	db.mu.Lock()
	defer db.mu.Unlock()
	delete(db.bundles, name)
}

func (db *Database) StartSession(ctx context.Context) (driver.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return newSession(db), nil
}

type bundleState struct {
	documents []bson.D
	indexes   []indexSpec
}

func (db *Database) snapshotLocked() map[string]bundleState {
	out := make(map[string]bundleState, len(db.bundles))
	for name, b := range db.bundles {
		state := bundleState{indexes: append([]indexSpec(nil), b.indexes...)}
		for _, d := range b.documents {
			state.documents = append(state.documents, cloneD(d))
		}
		out[name] = state
	}
	return out
}

// restoreLocked rolls every bundle back to snapshot. Bundle handles stay
// valid; bundles created after the snapshot are emptied.
func (db *Database) restoreLocked(snapshot map[string]bundleState) {
	for name, b := range db.bundles {
		state, ok := snapshot[name]
		if !ok {
			b.documents, b.indexes = nil, nil
			continue
		}
		b.documents, b.indexes = state.documents, state.indexes
	}
	for name, state := range snapshot {
		if _, ok := db.bundles[name]; !ok {
			db.bundles[name] = &Bundle{name: name, db: db, documents: state.documents, indexes: state.indexes}
		}
	}
}
