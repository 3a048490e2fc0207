// Copyright © 2018 One Concern

package codec

import (
	"regexp"
	"strings"

	"github.com/oneconcern/refdb/pkg/core/status"
	"github.com/oneconcern/refdb/pkg/errors"
	"github.com/oneconcern/refdb/pkg/model"
)

// Property is a string property stored in the config file
type Property struct {
	Name     string
	field    func(*model.Entity) *string
	validate func(string) error
}

// Flag is a boolean property stored in the config file, only when true
type Flag struct {
	Name  string
	field func(*model.Entity) *bool
}

// List is a flat list file, one entry per line
type List struct {
	File string

	// Footer prefixes entries in commit message footers, e.g. "group " yields "Add: group <uuid>"
	Footer string

	field    func(*model.Entity) *[]string
	validate func(string) error
}

// Entries of this list in an entity
func (l List) Entries(e model.Entity) []string {
	return *l.field(&e)
}

// IndexBinding declares that some entity values are keys of a secondary index
type IndexBinding struct {
	Index model.IndexName
	Keys  func(model.Entity) []string
}

// Schema describes how entities of a class are laid out in a revision tree
type Schema struct {
	Class      model.Class
	ConfigFile string
	Section    string
	Properties []Property
	Flags      []Flag
	Lists      []List
	Indexes    []IndexBinding
}

var (
	externalIDRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9+.\-]*:\S+$`)

	groupSchema = Schema{
		Class:      model.Groups,
		ConfigFile: "group.config",
		Section:    "group",
		Properties: []Property{
			{
				Name:  "name",
				field: func(e *model.Entity) *string { return &e.Name },
			},
			{
				Name:  "description",
				field: func(e *model.Entity) *string { return &e.Description },
			},
			{
				Name:     "owner",
				field:    func(e *model.Entity) *string { return &e.Owner },
				validate: validateGroupID,
			},
		},
		Lists: []List{
			{
				File:     "members",
				field:    func(e *model.Entity) *[]string { return &e.Members },
				validate: validateAccountID,
			},
			{
				File:     "subgroups",
				Footer:   "group ",
				field:    func(e *model.Entity) *[]string { return &e.Subgroups },
				validate: validateGroupID,
			},
		},
		Indexes: []IndexBinding{
			{
				Index: model.GroupNames,
				Keys: func(e model.Entity) []string {
					if e.Name == "" {
						return nil
					}
					return []string{e.Name}
				},
			},
		},
	}

	accountSchema = Schema{
		Class:      model.Accounts,
		ConfigFile: "account.config",
		Section:    "account",
		Properties: []Property{
			{
				Name:  "name",
				field: func(e *model.Entity) *string { return &e.Name },
			},
			{
				Name:     "email",
				field:    func(e *model.Entity) *string { return &e.Email },
				validate: validateEmail,
			},
		},
		Flags: []Flag{
			{
				Name:  "inactive",
				field: func(e *model.Entity) *bool { return &e.Inactive },
			},
		},
		Lists: []List{
			{
				File:     "external-ids",
				Footer:   "external-id ",
				field:    func(e *model.Entity) *[]string { return &e.ExternalIDs },
				validate: validateExternalID,
			},
		},
		Indexes: []IndexBinding{
			{
				Index: model.ExternalIDs,
				Keys:  func(e model.Entity) []string { return e.ExternalIDs },
			},
		},
	}
)

// SchemaFor resolves the schema of an entity class
func SchemaFor(class model.Class) (Schema, error) {
	switch class {
	case model.Groups:
		return groupSchema, nil
	case model.Accounts:
		return accountSchema, nil
	default:
		return Schema{}, status.ErrInvalidKey.WrapMessage("unknown entity class %q", class)
	}
}

// MustSchemaFor resolves the schema of an entity class, and panics if the class is unknown
func MustSchemaFor(class model.Class) Schema {
	s, err := SchemaFor(class)
	if err != nil {
		panic(err)
	}
	return s
}

// IndexNames lists the indexes bound to this class
func (s Schema) IndexNames() []model.IndexName {
	names := make([]model.IndexName, 0, len(s.Indexes))
	for _, binding := range s.Indexes {
		names = append(names, binding.Index)
	}
	return names
}

func validateAccountID(id string) error {
	return model.ValidateID(model.Accounts, id)
}

func validateGroupID(id string) error {
	return model.ValidateID(model.Groups, id)
}

func validateEmail(email string) error {
	if at := strings.LastIndex(email, "@"); at <= 0 || at == len(email)-1 || strings.ContainsAny(email, " \t") {
		return errors.New("malformed email").WrapMessage("%q", email)
	}
	return nil
}

func validateExternalID(id string) error {
	if !externalIDRe.MatchString(id) {
		return errors.New("external id must be scheme:value").WrapMessage("%q", id)
	}
	return nil
}
