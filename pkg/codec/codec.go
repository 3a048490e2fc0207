// Copyright © 2018 One Concern

// Package codec converts entities to and from the files of a revision tree.
//
// Properties are stored in a one-section ini file (<class>.config). List fields are stored in flat
// files, one entry per line, deduplicated and sorted. Empty properties and empty lists are absent
// from the tree.
package codec

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/go-ini/ini"
	"github.com/oneconcern/refdb/pkg/core/status"
	"github.com/oneconcern/refdb/pkg/model"
)

// values are written unquoted, so quotes around a value are part of it
var loadOptions = ini.LoadOptions{PreserveSurroundedQuote: true}

// CorruptRecordError reports a revision which cannot be decoded
type CorruptRecordError struct {
	Key      model.Key
	Revision model.RevisionID
	Reason   string
}

func (e *CorruptRecordError) Error() string {
	return fmt.Sprintf("%s: %s at revision %s: %s", status.ErrCorruptRecord, e.Key, e.Revision, e.Reason)
}

// Unwrap yields the corrupt record sentinel
func (e *CorruptRecordError) Unwrap() error {
	return status.ErrCorruptRecord
}

// Record is the encoded form of an entity
type Record struct {
	// Config holds the properties file content, empty when no property is set
	Config []byte

	// Lists holds the content of non-empty list files
	Lists map[string][]byte

	// State is the entity resulting from the encoded delta
	State model.Entity

	schema Schema
}

// Files yields the complete content of the revision tree
func (r Record) Files() map[string][]byte {
	files := make(map[string][]byte, len(r.Lists)+1)
	if len(r.Config) > 0 {
		files[r.schema.ConfigFile] = r.Config
	}
	for name, content := range r.Lists {
		files[name] = content
	}
	return files
}

// Encode applies a delta to a base entity and encodes the result.
//
// Encode is pure: the same base and delta always yield byte-identical files.
func Encode(base model.Entity, delta model.Delta) (Record, error) {
	schema, err := SchemaFor(base.Key.Class)
	if err != nil {
		return Record{}, err
	}
	if err = checkDelta(schema, delta); err != nil {
		return Record{}, err
	}

	next := delta.Apply(base)
	if err = validate(schema, next); err != nil {
		return Record{}, err
	}

	config, err := encodeConfig(schema, next)
	if err != nil {
		return Record{}, err
	}

	lists := make(map[string][]byte, len(schema.Lists))
	for _, list := range schema.Lists {
		if content := encodeList(list.Entries(next)); len(content) > 0 {
			lists[list.File] = content
		}
	}

	return Record{
		Config: config,
		Lists:  lists,
		State:  next,
		schema: schema,
	}, nil
}

// checkDelta rejects mutations of fields the class does not have
func checkDelta(schema Schema, delta model.Delta) error {
	allowed := make(map[string]bool)
	for _, p := range schema.Properties {
		allowed[p.Name] = true
	}
	for _, f := range schema.Flags {
		allowed[f.Name] = true
	}
	for _, l := range schema.Lists {
		allowed[l.File] = true
	}

	for _, field := range []struct {
		name string
		set  bool
	}{
		{"name", delta.Name != nil},
		{"description", delta.Description != nil},
		{"owner", delta.Owner != nil},
		{"email", delta.Email != nil},
		{"inactive", delta.Inactive != nil},
		{"members", delta.Members != nil},
		{"subgroups", delta.Subgroups != nil},
		{"external-ids", delta.ExternalIDs != nil},
	} {
		if field.set && !allowed[field.name] {
			return status.ErrInvalidDelta.WrapMessage("%s have no %s", schema.Class, field.name)
		}
	}
	return nil
}

func validate(schema Schema, e model.Entity) error {
	for _, p := range schema.Properties {
		value := *p.field(&e)
		if hasControl(value) {
			return status.ErrInvalidDelta.WrapMessage("%s contains control characters", p.Name)
		}
		if strings.TrimSpace(value) != value {
			return status.ErrInvalidDelta.WrapMessage("%s has leading or trailing spaces", p.Name)
		}
		if value != "" && p.validate != nil {
			if err := p.validate(value); err != nil {
				return status.ErrInvalidDelta.Wrap(err)
			}
		}
	}
	for _, l := range schema.Lists {
		for _, entry := range l.Entries(e) {
			if hasControl(entry) {
				return status.ErrInvalidDelta.WrapMessage("%s entry contains control characters", l.File)
			}
			if err := l.validate(entry); err != nil {
				return status.ErrInvalidDelta.Wrap(err)
			}
		}
	}
	if e.Key.Class == model.Groups {
		for _, sub := range e.Subgroups {
			if sub == e.Key.ID {
				return status.ErrInvalidDelta.WrapMessage("group %s cannot be its own subgroup", sub)
			}
		}
	}
	return nil
}

func hasControl(s string) bool {
	return strings.IndexFunc(s, unicode.IsControl) >= 0
}

func encodeConfig(schema Schema, e model.Entity) ([]byte, error) {
	cfg := ini.Empty()
	section, err := cfg.NewSection(schema.Section)
	if err != nil {
		return nil, status.ErrInvalidDelta.Wrap(err)
	}

	for _, p := range schema.Properties {
		if value := *p.field(&e); value != "" {
			if _, err = section.NewKey(p.Name, value); err != nil {
				return nil, status.ErrInvalidDelta.Wrap(err)
			}
		}
	}
	for _, f := range schema.Flags {
		if *f.field(&e) {
			if _, err = section.NewKey(f.Name, strconv.FormatBool(true)); err != nil {
				return nil, status.ErrInvalidDelta.Wrap(err)
			}
		}
	}
	if len(section.Keys()) == 0 {
		return nil, nil
	}

	var buf bytes.Buffer
	if _, err = cfg.WriteTo(&buf); err != nil {
		return nil, status.ErrInvalidDelta.Wrap(err)
	}
	return buf.Bytes(), nil
}

func encodeList(entries []string) []byte {
	if len(entries) == 0 {
		return nil
	}
	var buf bytes.Buffer
	for _, entry := range model.NormalizeList(entries) {
		buf.WriteString(entry)
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// Decode parses the files of a revision into an entity
func Decode(key model.Key, rev model.Revision, files map[string][]byte) (model.Entity, error) {
	schema, err := SchemaFor(key.Class)
	if err != nil {
		return model.Entity{}, err
	}
	corrupt := func(format string, args ...interface{}) error {
		return &CorruptRecordError{Key: key, Revision: rev.ID, Reason: fmt.Sprintf(format, args...)}
	}

	e := model.Entity{
		Key:       key,
		Revision:  rev.ID,
		UpdatedOn: rev.Timestamp,
	}

	if config, ok := files[schema.ConfigFile]; ok {
		cfg, err := ini.LoadSources(loadOptions, config)
		if err != nil {
			return model.Entity{}, corrupt("unreadable %s: %v", schema.ConfigFile, err)
		}
		section, err := cfg.GetSection(schema.Section)
		if err != nil {
			if len(cfg.Sections()) > 1 || len(cfg.Section(ini.DefaultSection).Keys()) > 0 {
				return model.Entity{}, corrupt("%s has no [%s] section", schema.ConfigFile, schema.Section)
			}
			// an empty properties file
			section = cfg.Section(ini.DefaultSection)
		}
		for _, p := range schema.Properties {
			if !section.HasKey(p.Name) {
				continue
			}
			value := strings.TrimSpace(section.Key(p.Name).String())
			if value != "" && p.validate != nil {
				if err := p.validate(value); err != nil {
					return model.Entity{}, corrupt("%s: %v", p.Name, err)
				}
			}
			*p.field(&e) = value
		}
		for _, f := range schema.Flags {
			if !section.HasKey(f.Name) {
				continue
			}
			value, err := strconv.ParseBool(strings.TrimSpace(section.Key(f.Name).String()))
			if err != nil {
				return model.Entity{}, corrupt("%s: %v", f.Name, err)
			}
			*f.field(&e) = value
		}
	}

	for _, list := range schema.Lists {
		content, ok := files[list.File]
		if !ok {
			continue
		}
		var entries []string
		scanner := bufio.NewScanner(bytes.NewReader(content))
		line := 0
		for scanner.Scan() {
			line++
			entry := strings.TrimSpace(scanner.Text())
			if entry == "" {
				continue
			}
			if err := list.validate(entry); err != nil {
				return model.Entity{}, corrupt("%s, line %d: %v", list.File, line, err)
			}
			entries = append(entries, entry)
		}
		if err := scanner.Err(); err != nil {
			return model.Entity{}, corrupt("%s: %v", list.File, err)
		}
		*list.field(&e) = model.NormalizeList(entries)
	}

	return e, nil
}
