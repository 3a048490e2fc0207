// Copyright © 2018 One Concern

// Package model describes the base objects manipulated by refdb.
//
// The object model for refdb is composed of:
//
//	Entities:
//	  An entity is a mutable domain object: an account or a group. Each entity owns a dedicated ref,
//	  analogous to a git branch, named after its key: refs/<class>/<shard>/<id>.
//
//	Revisions:
//	  A revision is an immutable commit on an entity ref. Its tree holds a properties file and
//	  flat list files (members, subgroups, external ids). The first revision dates the entity creation.
//
//	Deltas:
//	  A delta is a set of optional field mutations computed by a caller-supplied updater against
//	  the latest state of an entity. List fields are changed through modification functions,
//	  so that retries recompute the delta against a fresh base.
//
//	Indexes:
//	  A secondary index is a shared ref (refs/meta/<index>) mapping external keys to their owner.
//
//	Change events:
//	  A change event reports all refs moved by one successful batch commit.
package model
