// Copyright © 2018 One Concern

package model

import (
	"sort"
	"strings"
)

// ListModification computes the new content of a list field from its current content.
//
// Modifications must not alter their input: they are invoked again on a fresh base whenever
// an update is retried.
type ListModification func(current []string) []string

// Delta is a set of optional mutations of an entity.
//
// A nil field leaves the corresponding property untouched. A pointer to an empty string unsets it.
type Delta struct {
	Name        *string
	Description *string
	Owner       *string
	Email       *string
	Inactive    *bool
	Members     ListModification
	Subgroups   ListModification
	ExternalIDs ListModification
}

// Updater computes a delta against the current state of an entity.
//
// On creation, the current state is an empty entity carrying only its key.
type Updater func(current Entity) (Delta, error)

// NoChange is an updater which never changes anything
func NoChange(Entity) (Delta, error) {
	return Delta{}, nil
}

// Static returns an updater always yielding the same delta
func Static(delta Delta) Updater {
	return func(Entity) (Delta, error) {
		return delta, nil
	}
}

// IsEmpty tells if the delta carries no mutation at all
func (d Delta) IsEmpty() bool {
	return d.Name == nil && d.Description == nil && d.Owner == nil && d.Email == nil &&
		d.Inactive == nil && d.Members == nil && d.Subgroups == nil && d.ExternalIDs == nil
}

// Apply the delta to a base entity, yielding the next state.
//
// Strings are trimmed and lists normalized (deduplicated and sorted). The base is not altered.
func (d Delta) Apply(base Entity) Entity {
	next := base.Clone()
	applyString(&next.Name, d.Name)
	applyString(&next.Description, d.Description)
	applyString(&next.Owner, d.Owner)
	applyString(&next.Email, d.Email)
	if d.Inactive != nil {
		next.Inactive = *d.Inactive
	}
	next.Members = applyList(base.Members, d.Members)
	next.Subgroups = applyList(base.Subgroups, d.Subgroups)
	next.ExternalIDs = applyList(base.ExternalIDs, d.ExternalIDs)
	return next
}

func applyString(field *string, value *string) {
	if value != nil {
		*field = strings.TrimSpace(*value)
	}
}

func applyList(base []string, modify ListModification) []string {
	if modify == nil {
		return NormalizeList(base)
	}
	return NormalizeList(modify(cloneList(base)))
}

// SetString yields a delta value setting a string property
func SetString(value string) *string {
	return &value
}

// Unset yields a delta value removing a string property
func Unset() *string {
	return SetString("")
}

// SetBool yields a delta value setting a boolean property
func SetBool(value bool) *bool {
	return &value
}

// AddTo adds items to a list
func AddTo(items ...string) ListModification {
	return func(current []string) []string {
		return append(current, items...)
	}
}

// RemoveFrom removes items from a list
func RemoveFrom(items ...string) ListModification {
	return func(current []string) []string {
		drop := make(map[string]struct{}, len(items))
		for _, item := range items {
			drop[strings.TrimSpace(item)] = struct{}{}
		}
		kept := make([]string, 0, len(current))
		for _, item := range current {
			if _, ok := drop[strings.TrimSpace(item)]; !ok {
				kept = append(kept, item)
			}
		}
		return kept
	}
}

// ReplaceWith replaces the whole content of a list
func ReplaceWith(items ...string) ListModification {
	return func([]string) []string {
		return cloneList(items)
	}
}

// Compose chains list modifications, applied in order
func Compose(modifications ...ListModification) ListModification {
	return func(current []string) []string {
		for _, modify := range modifications {
			if modify != nil {
				current = modify(current)
			}
		}
		return current
	}
}

// NormalizeList trims, deduplicates and sorts list entries. Empty lists are nil.
func NormalizeList(items []string) []string {
	if len(items) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	if len(out) == 0 {
		return nil
	}
	sort.Strings(out)
	return out
}
