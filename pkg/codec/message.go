// Copyright © 2018 One Concern

package codec

import (
	"strings"

	"github.com/oneconcern/refdb/pkg/model"
)

// CommitMessage documents the human-readable delta between two states of an entity.
//
// The first line is a short imperative summary. It is followed by a footer block listing
// renames, additions and removals, e.g.
//
//	Update group
//
//	Rename: admins => operators
//	Add: 1000042
//	Remove: group 3f1b2c4d-5e6f-4a8b-9c0d-1e2f3a4b5c6d
func CommitMessage(created bool, base, next model.Entity) string {
	schema := MustSchemaFor(next.Key.Class)

	var b strings.Builder
	if created {
		b.WriteString("Create ")
	} else {
		b.WriteString("Update ")
	}
	b.WriteString(schema.Class.Singular())
	b.WriteByte('\n')

	var footers []string
	if !created && base.Name != "" && next.Name != "" && base.Name != next.Name {
		footers = append(footers, "Rename: "+base.Name+" => "+next.Name)
	}
	for _, list := range schema.Lists {
		added, removed := Diff(list.Entries(base), list.Entries(next))
		for _, entry := range added {
			footers = append(footers, "Add: "+list.Footer+entry)
		}
		for _, entry := range removed {
			footers = append(footers, "Remove: "+list.Footer+entry)
		}
	}

	if len(footers) > 0 {
		b.WriteByte('\n')
		for _, footer := range footers {
			b.WriteString(footer)
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// Diff two lists, yielding sorted additions and removals
func Diff(before, after []string) (added, removed []string) {
	before, after = model.NormalizeList(before), model.NormalizeList(after)
	old := make(map[string]struct{}, len(before))
	for _, entry := range before {
		old[entry] = struct{}{}
	}
	current := make(map[string]struct{}, len(after))
	for _, entry := range after {
		current[entry] = struct{}{}
		if _, ok := old[entry]; !ok {
			added = append(added, entry)
		}
	}
	for _, entry := range before {
		if _, ok := current[entry]; !ok {
			removed = append(removed, entry)
		}
	}
	return added, removed
}
