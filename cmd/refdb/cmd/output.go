// Copyright © 2018 One Concern

package cmd

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/gosuri/uitable"
	jsoniter "github.com/json-iterator/go"
	"github.com/oneconcern/refdb/pkg/model"
	"gopkg.in/yaml.v2"
)

const (
	outputTable = "table"
	outputYAML  = "yaml"
	outputJSON  = "json"

	maxColWidth = 80
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// tabular values know how to render as a table
type tabular interface {
	table() *uitable.Table
}

// printData renders some value in the requested output format
func printData(w io.Writer, data interface{}) error {
	switch refdbFlags.root.output {
	case outputYAML:
		b, err := yaml.Marshal(data)
		if err != nil {
			return err
		}
		_, err = w.Write(b)
		return err

	case outputJSON:
		b, err := json.MarshalIndent(data, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(b))
		return err

	case outputTable, "":
		t, ok := data.(tabular)
		if !ok {
			return fmt.Errorf("no table format for %T", data)
		}
		_, err := fmt.Fprintln(w, t.table())
		return err

	default:
		return fmt.Errorf("unsupported output format %q", refdbFlags.root.output)
	}
}

func newTable() *uitable.Table {
	t := uitable.New()
	t.MaxColWidth = maxColWidth
	t.Wrap = true
	return t
}

func header(columns ...interface{}) []interface{} {
	cells := make([]interface{}, 0, len(columns))
	for _, c := range columns {
		cells = append(cells, color.New(color.Bold).Sprint(c))
	}
	return cells
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

type entityView struct {
	model.Entity `yaml:",inline"`
}

func (v entityView) table() *uitable.Table {
	e := v.Entity
	t := newTable()
	label := color.New(color.FgYellow).SprintFunc()
	t.AddRow(label("Key:"), e.Key.String())
	t.AddRow(label("Revision:"), color.MagentaString("%s", e.Revision))
	t.AddRow(label("Name:"), e.Name)
	switch e.Key.Class {
	case model.Groups:
		t.AddRow(label("Description:"), e.Description)
		t.AddRow(label("Owner:"), e.Owner)
		t.AddRow(label("Members:"), strings.Join(e.Members, ", "))
		t.AddRow(label("Subgroups:"), strings.Join(e.Subgroups, ", "))
	case model.Accounts:
		t.AddRow(label("Email:"), e.Email)
		t.AddRow(label("Inactive:"), strconv.FormatBool(e.Inactive))
		t.AddRow(label("External ids:"), strings.Join(e.ExternalIDs, ", "))
	}
	t.AddRow(label("Created on:"), formatTime(e.CreatedOn))
	t.AddRow(label("Updated on:"), formatTime(e.UpdatedOn))
	return t
}

type historyView []model.Revision

func (v historyView) table() *uitable.Table {
	t := newTable()
	t.AddRow(header("REVISION", "AUTHOR", "DATE", "MESSAGE")...)
	for _, rev := range v {
		t.AddRow(color.MagentaString("%s", rev.ID.Short()), rev.Author.String(), formatTime(rev.Timestamp), rev.Message)
	}
	return t
}

type keysView []model.Key

func (v keysView) table() *uitable.Table {
	t := newTable()
	t.AddRow(header("CLASS", "ID")...)
	for _, key := range v {
		t.AddRow(string(key.Class), key.ID)
	}
	return t
}

type ownerView struct {
	Index string    `json:"index" yaml:"index"`
	Key   string    `json:"key" yaml:"key"`
	Owner model.Key `json:"owner" yaml:"owner"`
}

func (v ownerView) table() *uitable.Table {
	t := newTable()
	t.AddRow(header("INDEX", "KEY", "OWNER")...)
	t.AddRow(v.Index, v.Key, v.Owner.String())
	return t
}

type journalView struct {
	Events []model.ChangeEvent `json:"events" yaml:"events"`
	Next   string              `json:"next,omitempty" yaml:"next,omitempty"`
}

func (v journalView) table() *uitable.Table {
	t := newTable()
	t.AddRow(header("TOKEN", "DATE", "ACTOR", "REFS")...)
	for _, ev := range v.Events {
		t.AddRow(color.MagentaString("%s", ev.ID), formatTime(ev.Timestamp), ev.Actor.String(), strings.Join(ev.Refs(), "\n"))
	}
	if v.Next != "" {
		t.AddRow("")
		t.AddRow(color.HiBlackString("next: %s", v.Next))
	}
	return t
}
