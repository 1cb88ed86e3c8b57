package engine

import (
	"context"

	"syndrodm/src/helpers"
)

// Session implements driver.Session. Only one transaction may be open
// per database; aborting restores the state captured at its start.
type Session struct {
	id     string
	db     *Database
	active bool
	ended  bool
}

func newSession(db *Database) *Session {
	return &Session{id: helpers.NewID(), db: db}
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) StartTransaction(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	db := s.db
	db.mu.Lock()
	defer db.mu.Unlock()
	if s.ended {
		return ErrSessionEnded
	}
	if db.txn != nil {
		return ErrTransactionInProgress
	}
	db.txn = s
	db.snapshot = db.snapshotLocked()
	s.active = true
	db.logger.Debugf("Session %s started a transaction", s.id)
	return db.journal.AddEntry(CommandStartTransaction, "", nil)
}

func (s *Session) CommitTransaction(ctx context.Context) error {
	db := s.db
	db.mu.Lock()
	defer db.mu.Unlock()
	if !s.active || db.txn != s {
		return ErrNoTransaction
	}
	db.txn, db.snapshot = nil, nil
	s.active = false
	db.logger.Debugf("Session %s committed", s.id)
	return db.journal.AddEntry(CommandCommit, "", nil)
}

func (s *Session) AbortTransaction(ctx context.Context) error {
	db := s.db
	db.mu.Lock()
	defer db.mu.Unlock()
	return s.abortLocked()
}

func (s *Session) abortLocked() error {
	db := s.db
	if !s.active || db.txn != s {
		return ErrNoTransaction
	}
	db.restoreLocked(db.snapshot)
	db.txn, db.snapshot = nil, nil
	s.active = false
	db.logger.Debugf("Session %s aborted, state restored", s.id)
	return db.journal.AddEntry(CommandAbort, "", nil)
}

// EndSession aborts an open transaction and releases the session.
func (s *Session) EndSession(ctx context.Context) {
	db := s.db
	db.mu.Lock()
	defer db.mu.Unlock()
	if s.active {
		_ = s.abortLocked()
	}
	s.ended = true
}
