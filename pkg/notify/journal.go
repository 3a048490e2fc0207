// Copyright © 2018 One Concern

package notify

import (
	"context"
	"strings"
	"sync"
	"time"

	iradix "github.com/hashicorp/go-immutable-radix"
	jsoniter "github.com/json-iterator/go"
	"github.com/oneconcern/refdb/pkg/core/status"
	"github.com/oneconcern/refdb/pkg/errors"
	"github.com/oneconcern/refdb/pkg/model"
	"github.com/oneconcern/refdb/pkg/storage"
	storagestatus "github.com/oneconcern/refdb/pkg/storage/status"
	"github.com/segmentio/ksuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	journalPrefix     = "journal/"
	journalName       = "journal"
	maxEntriesPerList = 1000
	maxConcurrency    = 16
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Journal is an append-only log of change events over some storage, keyed by K-sortable tokens.
//
// The journal keeps track of all changes to a repository: which contributor changed which refs, and when.
type Journal struct {
	store          storage.Store
	maxConcurrency int
	skew           time.Duration
	l              *zap.Logger
}

// NewJournal builds a journal stored on some storage
func NewJournal(store storage.Store, opts ...JournalOption) *Journal {
	j := &Journal{
		store:          store,
		maxConcurrency: maxConcurrency,
		l:              zap.NewNop(),
	}
	for _, apply := range opts {
		apply(j)
	}
	return j
}

// Name of the journal listener
func (j *Journal) Name() string {
	return journalName
}

// OnChange appends the event to the journal
func (j *Journal) OnChange(ctx context.Context, ev model.ChangeEvent) error {
	_, err := j.Append(ctx, ev)
	return err
}

// Append an event, and return its token. Events without an id are given a new one.
func (j *Journal) Append(ctx context.Context, ev model.ChangeEvent) (string, error) {
	if ev.ID == "" {
		ev.ID = ksuid.New().String()
	}
	if _, err := ksuid.Parse(ev.ID); err != nil {
		return "", status.ErrInvalidKey.WrapMessage("journal token %q", ev.ID)
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return "", status.ErrStorage.Wrap(err)
	}
	err = j.store.Put(ctx, journalPrefix+ev.ID, strings.NewReader(string(payload)), storage.NoOverWrite)
	switch {
	case err == nil:
	case errors.Is(err, storagestatus.ErrExists):
		// appending the same event twice is a no-op: delivery is at least once
		j.l.Debug("event already journaled", zap.String("token", ev.ID))
	default:
		return "", status.ErrStorage.WrapWithLog(j.l, err, zap.String("token", ev.ID))
	}

	j.l.Debug("journaled event", zap.String("token", ev.ID), zap.Strings("refs", ev.Refs()))
	return ev.ID, nil
}

// ListTokens lists at most max tokens after some token. An empty token lists from the beginning.
//
// It returns the token to resume from, empty when the listing is complete.
func (j *Journal) ListTokens(ctx context.Context, fromToken string, max int) ([]string, string, error) {
	if max <= 0 {
		return nil, "", status.ErrInvalidBatch.WrapMessage("max count needs to be greater than 0: %d", max)
	}
	if max > maxEntriesPerList {
		max = maxEntriesPerList
	}

	start := ""
	if fromToken != "" {
		k, err := ksuid.Parse(fromToken)
		if err != nil {
			return nil, "", status.ErrInvalidKey.WrapMessage("journal token %q", fromToken)
		}
		if j.skew > 0 {
			// go back in time to include events appended by writers with a lagging clock
			if k, err = ksuid.FromParts(k.Time().Add(-j.skew), make([]byte, 16)); err != nil {
				return nil, "", status.ErrInvalidKey.Wrap(err)
			}
		}
		start = journalPrefix + k.String()
	}

	keys, next, err := j.store.KeysPrefix(ctx, start, journalPrefix, "", max)
	if err != nil {
		return nil, "", status.ErrStorage.WrapWithLog(j.l, err, zap.String("token", fromToken))
	}
	tokens := make([]string, 0, len(keys))
	for _, key := range keys {
		tokens = append(tokens, strings.TrimPrefix(key, journalPrefix))
	}
	return tokens, strings.TrimPrefix(next, journalPrefix), nil
}

// List reads at most max events after some token, ordered by token
func (j *Journal) List(ctx context.Context, fromToken string, max int) ([]model.ChangeEvent, string, error) {
	tokens, next, err := j.ListTokens(ctx, fromToken, max)
	if err != nil {
		return nil, "", err
	}

	var mx sync.Mutex
	ordered := iradix.New().Txn()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.maxConcurrency)
	for _, token := range tokens {
		token := token
		g.Go(func() error {
			ev, err := j.read(gctx, token)
			if err != nil {
				return err
			}
			mx.Lock()
			ordered.Insert([]byte(token), ev)
			mx.Unlock()
			return nil
		})
	}
	if err = g.Wait(); err != nil {
		return nil, "", err
	}

	events := make([]model.ChangeEvent, 0, len(tokens))
	iterator := ordered.Commit().Root().Iterator()
	for _, v, ok := iterator.Next(); ok; _, v, ok = iterator.Next() {
		events = append(events, v.(model.ChangeEvent))
	}
	return events, next, nil
}

func (j *Journal) read(ctx context.Context, token string) (model.ChangeEvent, error) {
	data, err := storage.ReadAll(ctx, j.store, journalPrefix+token)
	if err != nil {
		return model.ChangeEvent{}, status.ErrStorage.WrapWithLog(j.l, err, zap.String("token", token))
	}
	var ev model.ChangeEvent
	if err = json.Unmarshal(data, &ev); err != nil {
		return model.ChangeEvent{}, status.ErrCorruptRecord.WrapMessage("journal entry %s: %v", token, err)
	}
	return ev, nil
}
