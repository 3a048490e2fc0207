// Copyright © 2018 One Concern

// Package refs defines the ref database: named pointers to the latest revision of an entity or index.
//
// Refs only move through compare-and-swap commands, applied as one all-or-nothing batch.
package refs

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/oneconcern/refdb/pkg/core/status"
	"github.com/oneconcern/refdb/pkg/model"
)

// Command is a compare-and-swap update of a ref.
//
// A zero Old revision requires the ref to be absent. A zero New revision deletes the ref.
type Command struct {
	Ref string
	Old model.RevisionID
	New model.RevisionID
}

// IsCreate tells if the command creates the ref
func (c Command) IsCreate() bool {
	return c.Old.IsZero() && !c.New.IsZero()
}

// IsDelete tells if the command deletes the ref
func (c Command) IsDelete() bool {
	return c.New.IsZero()
}

func (c Command) String() string {
	return fmt.Sprintf("%s: %s -> %s", c.Ref, display(c.Old), display(c.New))
}

func display(r model.RevisionID) string {
	if r.IsZero() {
		return "(none)"
	}
	return r.Short()
}

// Change reports the effect of the command
func (c Command) Change() model.RefChange {
	return model.RefChange{Ref: c.Ref, Old: c.Old, New: c.New}
}

// Database holds refs
type Database interface {
	// Get the current revision of a ref, zero when absent
	Get(ctx context.Context, ref string) (model.RevisionID, error)

	// GetMany reads several refs from one consistent snapshot. Absent refs are not in the result.
	GetMany(ctx context.Context, refs ...string) (map[string]model.RevisionID, error)

	// List all refs with some prefix, sorted by name
	List(ctx context.Context, prefix string) (map[string]model.RevisionID, error)

	// Commit applies all commands or none of them.
	//
	// When the current value of any ref does not match its expected old revision, no ref moves and
	// the returned error is a *LockFailureError.
	Commit(ctx context.Context, commands []Command) error

	Close() error
	String() string
}

// LockFailureError reports the refs whose compare-and-swap failed
type LockFailureError struct {
	Refs []string
}

func (e *LockFailureError) Error() string {
	return status.ErrLockFailure.Error() + ": " + strings.Join(e.Refs, ", ")
}

// Unwrap yields the lock failure sentinel
func (e *LockFailureError) Unwrap() error {
	return status.ErrLockFailure
}

// NewLockFailure builds a lock failure error for some refs
func NewLockFailure(refs ...string) *LockFailureError {
	sorted := append([]string(nil), refs...)
	sort.Strings(sorted)
	return &LockFailureError{Refs: sorted}
}

// Validate checks a batch of commands: no empty ref name, no ref listed twice, no command
// deleting an absent ref
func Validate(commands []Command) error {
	seen := make(map[string]struct{}, len(commands))
	for _, cmd := range commands {
		if cmd.Ref == "" {
			return status.ErrInvalidBatch.WrapMessage("empty ref name")
		}
		if _, ok := seen[cmd.Ref]; ok {
			return status.ErrInvalidBatch.WrapMessage("ref %q updated twice in the same batch", cmd.Ref)
		}
		if cmd.Old.IsZero() && cmd.New.IsZero() {
			return status.ErrInvalidBatch.WrapMessage("ref %q: nothing to update", cmd.Ref)
		}
		seen[cmd.Ref] = struct{}{}
	}
	return nil
}

// Hook is invoked by databases within a commit, after all compare-and-swap checks passed and before
// the batch is made durable. A hook returning an error aborts the whole batch.
type Hook func(ctx context.Context, commands []Command) error
