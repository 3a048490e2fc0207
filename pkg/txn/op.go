// Copyright © 2018 One Concern

package txn

import (
	"github.com/oneconcern/refdb/pkg/model"
	"github.com/oneconcern/refdb/pkg/refs"
	"github.com/oneconcern/refdb/pkg/repository"
)

// Kind of operation on an entity
type Kind uint8

const (
	// Update an existing entity
	Update Kind = iota

	// Create an entity which must not exist yet
	Create

	// Delete an entity and release its index keys
	Delete
)

func (k Kind) String() string {
	switch k {
	case Create:
		return "create"
	case Delete:
		return "delete"
	default:
		return "update"
	}
}

// Op is an operation on one entity of a batch.
//
// The updater is invoked on the current state of the entity at each attempt. It is ignored on delete.
type Op struct {
	Key     model.Key
	Kind    Kind
	Updater model.Updater
}

// Outcome of an operation
type Outcome uint8

const (
	// Unchanged entity: the delta did not alter its encoded form
	Unchanged Outcome = iota

	// Created entity
	Created

	// Updated entity
	Updated

	// Deleted entity
	Deleted

	// NotFound entity: update or delete of an entity with no ref
	NotFound
)

func (o Outcome) String() string {
	switch o {
	case Created:
		return "created"
	case Updated:
		return "updated"
	case Deleted:
		return "deleted"
	case NotFound:
		return "not found"
	default:
		return "unchanged"
	}
}

// Result of an operation
type Result struct {
	Key     model.Key
	Outcome Outcome

	// Entity is the state after the batch, nil when the entity does not exist
	Entity *model.Entity
}

// Batch is the fully staged set of commands of a transaction
type Batch struct {
	Commands []refs.Command
	Results  []Result

	// IndexCommands counts the commands moving index refs
	IndexCommands int

	versions []repository.Version
}

// IsEmpty tells if the batch moves no ref
func (b *Batch) IsEmpty() bool {
	return len(b.Commands) == 0
}

// Changes reported by the commands of the batch
func (b *Batch) Changes() []model.RefChange {
	changes := make([]model.RefChange, 0, len(b.Commands))
	for _, cmd := range b.Commands {
		changes = append(changes, cmd.Change())
	}
	return changes
}
