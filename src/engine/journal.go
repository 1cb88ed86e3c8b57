package engine

// This file contains the journal for the in-memory engine.
// Every operation against a bundle is recorded before it is applied, so
// callers can audit how many round trips a piece of code issued.

import (
	"fmt"
	"io"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
)

// Journal commands.
const (
	CommandFind             = "find"
	CommandFindOne          = "findOne"
	CommandInsert           = "insert"
	CommandUpdate           = "update"
	CommandReplace          = "replace"
	CommandDelete           = "delete"
	CommandCount            = "count"
	CommandAggregate        = "aggregate"
	CommandListIndexes      = "listIndexes"
	CommandCreateIndexes    = "createIndexes"
	CommandDropIndex        = "dropIndex"
	CommandStartTransaction = "startTransaction"
	CommandCommit           = "commitTransaction"
	CommandAbort            = "abortTransaction"
)

// JournalEntry represents a single entry in the journal.
type JournalEntry struct {
	Timestamp time.Time
	Command   string
	Bundle    string
	Details   string
	// Payload is the filter, update or pipeline the command ran with.
	Payload bson.D
}

// Journal records every command issued against a Database.
type Journal struct {
	mu      sync.Mutex
	entries []JournalEntry
	out     io.Writer
}

// NewJournal creates a journal. A non-nil out receives one line per
// entry.
func NewJournal(out io.Writer) *Journal {
	return &Journal{out: out}
}

// AddEntry adds a new entry to the journal.
func (j *Journal) AddEntry(command, bundle string, payload bson.D) error {
	entry := JournalEntry{
		Timestamp: time.Now(),
		Command:   command,
		Bundle:    bundle,
		Payload:   payload,
	}
	if payload != nil {
		if details, err := bson.MarshalExtJSON(payload, false, false); err == nil {
			entry.Details = string(details)
		}
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, entry)

	if j.out == nil {
		return nil
	}
	line := fmt.Sprintf("%s | %s | %s | %s\n", entry.Timestamp.Format(time.RFC3339), entry.Command, entry.Bundle, entry.Details)
	if _, err := io.WriteString(j.out, line); err != nil {
		return fmt.Errorf("failed to write to journal: %w", err)
	}
	return nil
}

// Entries returns a copy of the recorded entries.
func (j *Journal) Entries() []JournalEntry {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]JournalEntry(nil), j.entries...)
}

// Filter returns the entries for command against bundle. An empty bundle
// matches every bundle.
func (j *Journal) Filter(command, bundle string) []JournalEntry {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []JournalEntry
	for _, e := range j.entries {
		if e.Command == command && (bundle == "" || e.Bundle == bundle) {
			out = append(out, e)
		}
	}
	return out
}

// Count returns the number of entries for command against bundle.
func (j *Journal) Count(command, bundle string) int {
	return len(j.Filter(command, bundle))
}

// Reset drops every recorded entry.
func (j *Journal) Reset() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = nil
}
