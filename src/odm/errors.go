package odm

import "errors"

var (
	// ErrNotFound is returned when an operation that expects exactly one
	// document matched none.
	ErrNotFound = errors.New("document not found")
	// ErrAlreadyCreated is returned when inserting a document whose id is
	// already set.
	ErrAlreadyCreated = errors.New("document already created")
	// ErrNotSaved is returned when replacing, updating or deleting a
	// document that has no id yet.
	ErrNotSaved = errors.New("document has not been saved")
	// ErrTypeMismatch covers malformed sort arguments and batched link
	// fetches across different collections.
	ErrTypeMismatch = errors.New("type mismatch")
	// ErrUnbound is returned for a document type that was never
	// registered.
	ErrUnbound = errors.New("document type is not bound to a collection")
	// ErrReplace is returned by ReplaceMany when some of the documents do
	// not exist.
	ErrReplace = errors.New("some documents are not in the collection")
)
