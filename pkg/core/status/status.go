// Copyright © 2018 One Concern

// Package status exports errors produced by the entity engine.
//
// All packages taking part in an update (codec, index, repository, transaction, retry)
// return these sentinels, so callers may test errors with errors.Is regardless of the layer
// that detected the problem.
package status

import (
	"github.com/oneconcern/refdb/pkg/errors"
)

var (
	// ErrNotFound indicates an entity has no ref
	ErrNotFound = errors.New("not found")

	// ErrExists indicates an entity ref already exists and cannot be created again
	ErrExists = errors.New("already exists")

	// ErrCorruptRecord indicates an existing revision fails to decode
	ErrCorruptRecord = errors.New("corrupt record")

	// ErrConflict indicates a secondary index key is already owned by another entity
	ErrConflict = errors.New("uniqueness conflict")

	// ErrLockFailure indicates a ref compare-and-swap mismatch: a concurrent writer won the race
	ErrLockFailure = errors.New("lock failure")

	// ErrRetryExhausted indicates the retry budget was exhausted while competing with concurrent writers
	ErrRetryExhausted = errors.New("retry budget exhausted")

	// ErrStorage indicates an I/O failure of the object store or of the ref database
	ErrStorage = errors.New("storage failure")

	// ErrInvalidKey indicates a malformed entity key
	ErrInvalidKey = errors.New("invalid key")

	// ErrInvalidDelta indicates an updater produced a delta that cannot be encoded
	ErrInvalidDelta = errors.New("invalid delta")

	// ErrInvalidBatch indicates a batch of operations is malformed, e.g. lists the same entity twice
	ErrInvalidBatch = errors.New("invalid batch")
)
