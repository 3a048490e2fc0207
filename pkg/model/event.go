// Copyright © 2018 One Concern

package model

import (
	"time"
)

// RefChange reports a ref moved by a commit.
//
// An empty Old revision means the ref was created, an empty New revision means it was deleted.
type RefChange struct {
	Ref string     `json:"ref" yaml:"ref"`
	Old RevisionID `json:"old,omitempty" yaml:"old,omitempty"`
	New RevisionID `json:"new,omitempty" yaml:"new,omitempty"`
}

// ChangeEvent is emitted once per successful batch commit
type ChangeEvent struct {
	ID         string      `json:"id" yaml:"id"`
	Repository string      `json:"repository" yaml:"repository"`
	Changes    []RefChange `json:"changes" yaml:"changes"`
	Actor      Contributor `json:"actor" yaml:"actor"`
	Timestamp  time.Time   `json:"timestamp" yaml:"timestamp"`
}

// Refs lists the names of the refs moved by this event
func (e ChangeEvent) Refs() []string {
	refs := make([]string, 0, len(e.Changes))
	for _, change := range e.Changes {
		refs = append(refs, change.Ref)
	}
	return refs
}
