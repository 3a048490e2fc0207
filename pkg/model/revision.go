// Copyright © 2018 One Concern

package model

import (
	"fmt"
	"time"
)

// ObjectID is the content address of an immutable object (blob, tree or commit)
type ObjectID string

// IsZero tells if the object id is empty
func (o ObjectID) IsZero() bool {
	return o == ""
}

func (o ObjectID) String() string {
	return string(o)
}

// RevisionID is the id of a commit object. The zero value means "no revision".
type RevisionID string

// ZeroRevision stands for an absent ref
const ZeroRevision RevisionID = ""

const shortIDLength = 10

// IsZero tells if the revision is absent
func (r RevisionID) IsZero() bool {
	return r == ZeroRevision
}

// Short representation of the revision id
func (r RevisionID) Short() string {
	if len(r) <= shortIDLength {
		return string(r)
	}
	return string(r[:shortIDLength])
}

func (r RevisionID) String() string {
	return string(r)
}

// Contributor who authored or committed a revision
type Contributor struct {
	Name  string `json:"name" yaml:"name"`
	Email string `json:"email" yaml:"email"`
}

func (c Contributor) String() string {
	return fmt.Sprintf("%s <%s>", c.Name, c.Email)
}

// IsZero tells if the contributor is not set
func (c Contributor) IsZero() bool {
	return c.Name == "" && c.Email == ""
}

// Revision describes an immutable commit on a ref
type Revision struct {
	ID        RevisionID  `json:"id" yaml:"id"`
	Parent    RevisionID  `json:"parent,omitempty" yaml:"parent,omitempty"`
	Tree      ObjectID    `json:"tree" yaml:"tree"`
	Author    Contributor `json:"author" yaml:"author"`
	Committer Contributor `json:"committer" yaml:"committer"`
	Timestamp time.Time   `json:"timestamp" yaml:"timestamp"`
	Message   string      `json:"message" yaml:"message"`
	_         struct{}
}

// Summary is the first line of the commit message
func (r Revision) Summary() string {
	for i, c := range r.Message {
		if c == '\n' {
			return r.Message[:i]
		}
	}
	return r.Message
}
