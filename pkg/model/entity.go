// Copyright © 2018 One Concern

package model

import (
	"time"
)

// Entity is the unit of storage: an account or a group.
//
// Groups use Name, Description, Owner (a group UUID), Members (account ids) and Subgroups (group UUIDs).
// Accounts use Name, Email, Inactive and ExternalIDs (scheme:value).
type Entity struct {
	Key         Key        `json:"key" yaml:"key"`
	Name        string     `json:"name,omitempty" yaml:"name,omitempty"`
	Description string     `json:"description,omitempty" yaml:"description,omitempty"`
	Owner       string     `json:"owner,omitempty" yaml:"owner,omitempty"`
	Email       string     `json:"email,omitempty" yaml:"email,omitempty"`
	Inactive    bool       `json:"inactive,omitempty" yaml:"inactive,omitempty"`
	Members     []string   `json:"members,omitempty" yaml:"members,omitempty"`
	Subgroups   []string   `json:"subgroups,omitempty" yaml:"subgroups,omitempty"`
	ExternalIDs []string   `json:"externalIds,omitempty" yaml:"externalIds,omitempty"`
	Revision    RevisionID `json:"revision,omitempty" yaml:"revision,omitempty"`
	CreatedOn   time.Time  `json:"createdOn,omitempty" yaml:"createdOn,omitempty"`
	UpdatedOn   time.Time  `json:"updatedOn,omitempty" yaml:"updatedOn,omitempty"`
	_           struct{}
}

// Exists tells if the entity has been committed at least once
func (e Entity) Exists() bool {
	return !e.Revision.IsZero()
}

// Clone performs a deep copy of the entity
func (e Entity) Clone() Entity {
	c := e
	c.Members = cloneList(e.Members)
	c.Subgroups = cloneList(e.Subgroups)
	c.ExternalIDs = cloneList(e.ExternalIDs)
	return c
}

func cloneList(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
