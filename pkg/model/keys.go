// Copyright © 2018 One Concern

package model

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/oneconcern/refdb/pkg/core/status"
)

// Class of entity
type Class string

const (
	// Groups are identified by a UUID
	Groups Class = "groups"

	// Accounts are identified by a positive decimal number
	Accounts Class = "accounts"
)

const (
	refsPrefix  = "refs/"
	metaRefs    = refsPrefix + "meta/"
	shardLength = 2
)

var accountIDRe = regexp.MustCompile(`^[1-9][0-9]*$`)

// Classes lists all known entity classes
func Classes() []Class {
	return []Class{Accounts, Groups}
}

// Singular name of an entity of this class, e.g. "group"
func (c Class) Singular() string {
	return strings.TrimSuffix(string(c), "s")
}

// Valid class
func (c Class) Valid() bool {
	return c == Groups || c == Accounts
}

// RefPrefix is the common prefix of all refs for this class
func (c Class) RefPrefix() string {
	return refsPrefix + string(c) + "/"
}

// ParseClass resolves a class from its plural or singular name
func ParseClass(name string) (Class, error) {
	for _, c := range Classes() {
		if name == string(c) || name == c.Singular() {
			return c, nil
		}
	}
	return "", status.ErrInvalidKey.WrapMessage("unknown entity class %q", name)
}

// Key identifies an entity
type Key struct {
	Class Class  `json:"class" yaml:"class"`
	ID    string `json:"id" yaml:"id"`
}

// GroupKey builds the key of a group
func GroupKey(id string) Key {
	return Key{Class: Groups, ID: id}
}

// AccountKey builds the key of an account
func AccountKey(id string) Key {
	return Key{Class: Accounts, ID: id}
}

// NewGroupKey generates the key of a new group, with a random UUID
func NewGroupKey() Key {
	return GroupKey(uuid.NewString())
}

func (k Key) String() string {
	return string(k.Class) + "/" + k.ID
}

// Validate the key format, according to its class
func (k Key) Validate() error {
	if err := ValidateID(k.Class, k.ID); err != nil {
		return err
	}
	return nil
}

// ValidateID checks that an ID is well-formed for a class
func ValidateID(class Class, id string) error {
	switch class {
	case Groups:
		u, err := uuid.Parse(id)
		if err != nil || u.String() != id {
			return status.ErrInvalidKey.WrapMessage("group id must be a lowercase UUID: %q", id)
		}
	case Accounts:
		if !accountIDRe.MatchString(id) {
			return status.ErrInvalidKey.WrapMessage("account id must be a positive number: %q", id)
		}
	default:
		return status.ErrInvalidKey.WrapMessage("unknown entity class %q", class)
	}
	return nil
}

// Shard is the short prefix of the ID used to bound the fan-out of refs
func (k Key) Shard() string {
	id := k.ID
	if len(id) < shardLength {
		id = strings.Repeat("0", shardLength-len(id)) + id
	}
	return id[:shardLength]
}

// Ref is the name of the ref holding this entity: refs/<class>/<shard>/<id>
func (k Key) Ref() string {
	return fmt.Sprintf("%s%s/%s", k.Class.RefPrefix(), k.Shard(), k.ID)
}

// KeyFromRef parses an entity ref name back into a key
func KeyFromRef(ref string) (Key, error) {
	parts := strings.Split(strings.TrimPrefix(ref, refsPrefix), "/")
	if !strings.HasPrefix(ref, refsPrefix) || len(parts) != 3 {
		return Key{}, status.ErrInvalidKey.WrapMessage("not an entity ref: %q", ref)
	}
	key := Key{Class: Class(parts[0]), ID: parts[2]}
	if err := key.Validate(); err != nil {
		return Key{}, err
	}
	if key.Shard() != parts[1] {
		return Key{}, status.ErrInvalidKey.WrapMessage("ref %q is not in shard %q", ref, key.Shard())
	}
	return key, nil
}

// IndexName names a secondary index
type IndexName string

const (
	// ExternalIDs maps external identities (scheme:value) to their account
	ExternalIDs IndexName = "external-ids"

	// GroupNames maps group names to their group
	GroupNames IndexName = "group-names"
)

// Ref is the well-known ref holding this index: refs/meta/<index-name>
func (n IndexName) Ref() string {
	return metaRefs + string(n)
}

func (n IndexName) String() string {
	return string(n)
}

// IsIndexRef tells if a ref holds a secondary index
func IsIndexRef(ref string) bool {
	return strings.HasPrefix(ref, metaRefs)
}
