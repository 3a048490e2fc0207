// Copyright © 2018 One Concern

package objects

import (
	"bytes"
	"context"
	"strings"
	"time"

	"github.com/oneconcern/refdb/pkg/core/status"
	"github.com/oneconcern/refdb/pkg/model"
)

const (
	headerTree      = "tree"
	headerParent    = "parent"
	headerAuthor    = "author"
	headerCommitter = "committer"
)

var identityReplacer = strings.NewReplacer("<", "", ">", "", "\n", " ", "\r", " ")

func writeIdentity(buf *bytes.Buffer, header string, who model.Contributor, when time.Time) {
	buf.WriteString(header)
	buf.WriteByte(' ')
	buf.WriteString(strings.TrimSpace(identityReplacer.Replace(who.Name)))
	buf.WriteString(" <")
	buf.WriteString(strings.TrimSpace(identityReplacer.Replace(who.Email)))
	buf.WriteString("> ")
	buf.WriteString(when.UTC().Format(time.RFC3339Nano))
	buf.WriteByte('\n')
}

// EncodeCommit serializes a revision. The revision ID is ignored: it results from the encoding.
func EncodeCommit(rev model.Revision) []byte {
	var buf bytes.Buffer
	buf.WriteString(headerTree + " " + string(rev.Tree) + "\n")
	if !rev.Parent.IsZero() {
		buf.WriteString(headerParent + " " + string(rev.Parent) + "\n")
	}
	writeIdentity(&buf, headerAuthor, rev.Author, rev.Timestamp)
	writeIdentity(&buf, headerCommitter, rev.Committer, rev.Timestamp)
	buf.WriteByte('\n')
	buf.WriteString(rev.Message)
	return buf.Bytes()
}

func parseIdentity(id model.RevisionID, value string) (model.Contributor, time.Time, error) {
	open := strings.LastIndex(value, "<")
	closing := strings.LastIndex(value, ">")
	if open < 0 || closing < open || closing+2 > len(value) {
		return model.Contributor{}, time.Time{}, status.ErrCorruptRecord.WrapMessage("commit %s: malformed identity %q", id, value)
	}
	when, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(value[closing+1:]))
	if err != nil {
		return model.Contributor{}, time.Time{}, status.ErrCorruptRecord.WrapMessage("commit %s: malformed timestamp %q", id, value)
	}
	return model.Contributor{
		Name:  strings.TrimSpace(value[:open]),
		Email: value[open+1 : closing],
	}, when.UTC(), nil
}

// DecodeCommit parses a serialized revision
func DecodeCommit(id model.RevisionID, data []byte) (model.Revision, error) {
	rev := model.Revision{ID: id}
	text := string(data)
	sep := strings.Index(text, "\n\n")
	if sep < 0 {
		return model.Revision{}, status.ErrCorruptRecord.WrapMessage("commit %s: missing message", id)
	}
	rev.Message = text[sep+2:]

	for _, line := range strings.Split(text[:sep], "\n") {
		header, value, ok := strings.Cut(line, " ")
		if !ok {
			return model.Revision{}, status.ErrCorruptRecord.WrapMessage("commit %s: malformed header %q", id, line)
		}
		switch header {
		case headerTree:
			rev.Tree = model.ObjectID(value)
		case headerParent:
			rev.Parent = model.RevisionID(value)
		case headerAuthor:
			who, _, err := parseIdentity(id, value)
			if err != nil {
				return model.Revision{}, err
			}
			rev.Author = who
		case headerCommitter:
			who, when, err := parseIdentity(id, value)
			if err != nil {
				return model.Revision{}, err
			}
			rev.Committer = who
			rev.Timestamp = when
		default:
			return model.Revision{}, status.ErrCorruptRecord.WrapMessage("commit %s: unknown header %q", id, header)
		}
	}
	if rev.Tree.IsZero() {
		return model.Revision{}, status.ErrCorruptRecord.WrapMessage("commit %s: missing tree", id)
	}
	return rev, nil
}

// WriteCommit stores a revision and returns its id
func (s *Store) WriteCommit(ctx context.Context, rev model.Revision) (model.RevisionID, error) {
	id, err := s.Put(ctx, KindCommit, EncodeCommit(rev))
	if err != nil {
		return model.ZeroRevision, err
	}
	return model.RevisionID(id), nil
}

// ReadCommit retrieves a revision
func (s *Store) ReadCommit(ctx context.Context, id model.RevisionID) (model.Revision, error) {
	data, err := s.Get(ctx, KindCommit, model.ObjectID(id))
	if err != nil {
		return model.Revision{}, err
	}
	return DecodeCommit(id, data)
}
