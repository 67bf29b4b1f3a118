// Package apperrors defines sentinel errors shared across the engine.
//
// Per-record failures during a batch run are classified with errors.Is
// against these sentinels so the ingestor can bucket them into run counters
// instead of aborting the batch.
package apperrors

import "errors"

var (
	// ErrNotFound is returned by repositories when a row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidIdentifier marks a malformed UIN or master-code. The record
	// carrying it is skipped; the batch continues.
	ErrInvalidIdentifier = errors.New("invalid identifier")

	// ErrProjectNotFound marks a record whose identifier resolves to no
	// known project. Fatal for that record only.
	ErrProjectNotFound = errors.New("project not found")

	// ErrUnknownMapping marks a feed label that cannot be classified into
	// any tracked attribute. The label and value are logged so taxonomy
	// mappings can be extended; the record's other fields still process.
	ErrUnknownMapping = errors.New("unknown taxonomy mapping")

	// ErrStaleUpdate marks an upsert whose edit timestamp is not strictly
	// newer than the stored one. A no-op outcome, not a failure.
	ErrStaleUpdate = errors.New("stale update")

	// ErrMissingField marks a record without a required field (identifier,
	// edit timestamp or actor).
	ErrMissingField = errors.New("missing required field")
)
