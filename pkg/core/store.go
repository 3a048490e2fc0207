// Copyright © 2018 One Concern

// Package core exposes the entity store: creating, updating and deleting accounts and groups kept in a
// versioned repository.
//
// Every mutation runs as a transaction: fresh reads, caller delta, one atomic compare-and-swap commit of
// all the refs it moves. Transactions which lose a race with a concurrent writer are retried with fresh
// reads. Change listeners are notified once per committed batch, before the call returns.
package core

import (
	"context"
	"time"

	"github.com/oneconcern/refdb/pkg/core/status"
	"github.com/oneconcern/refdb/pkg/errors"
	"github.com/oneconcern/refdb/pkg/index"
	"github.com/oneconcern/refdb/pkg/metrics"
	"github.com/oneconcern/refdb/pkg/model"
	"github.com/oneconcern/refdb/pkg/notify"
	"github.com/oneconcern/refdb/pkg/repository"
	"github.com/oneconcern/refdb/pkg/retry"
	"github.com/oneconcern/refdb/pkg/txn"
	"go.uber.org/zap"
)

// Update of one entity in a batch
type Update struct {
	Key     model.Key
	Updater model.Updater
}

// Store of entities
type Store struct {
	repo     *repository.Repository
	txn      *txn.Transaction
	retry    *retry.Driver
	notifier *notify.Notifier
	metrics  *metrics.Metrics
	actor    model.Contributor
	clock    func() time.Time
	l        *zap.Logger

	retryOptions []retry.Option
}

// New entity store over a repository
func New(repo *repository.Repository, opts ...Option) *Store {
	s := &Store{
		repo:  repo,
		actor: DefaultActor,
		clock: time.Now,
		l:     repo.Logger(),
	}
	for _, apply := range opts {
		apply(s)
	}
	if s.notifier == nil {
		s.notifier = notify.New(notify.Logger(s.l), notify.Metrics(s.metrics))
	}
	s.txn = txn.New(repo, txn.Author(s.actor), txn.Clock(s.clock), txn.Logger(s.l))
	s.retry = retry.New(append([]retry.Option{retry.Logger(s.l), retry.Metrics(s.metrics)}, s.retryOptions...)...)
	return s
}

// WithActor returns a store sharing the same repository and listeners, which records another
// contributor as the author of changes
func (s *Store) WithActor(actor model.Contributor) *Store {
	if actor.IsZero() {
		return s
	}
	c := *s
	c.actor = actor
	return &c
}

// Actor recorded as the author of changes
func (s *Store) Actor() model.Contributor {
	return s.actor
}

// Repository backing this store
func (s *Store) Repository() *repository.Repository {
	return s.repo
}

// Subscribe a change listener. The returned function unsubscribes it.
func (s *Store) Subscribe(listener notify.Listener) func() {
	return s.notifier.Subscribe(listener)
}

// Close the underlying repository
func (s *Store) Close() error {
	return s.repo.Close()
}

// Create an entity. A group key without id is given a new UUID.
//
// It fails with status.ErrExists when the entity already exists, and with status.ErrConflict when
// the new entity claims an index key owned by another entity.
func (s *Store) Create(ctx context.Context, key model.Key, updater model.Updater) (*model.Entity, error) {
	if key.Class == model.Groups && key.ID == "" {
		key = model.NewGroupKey()
	}
	results, err := s.run(ctx, "create "+key.String(), []txn.Op{{Key: key, Kind: txn.Create, Updater: updater}})
	if err != nil {
		return nil, err
	}
	s.l.Info("entity created", zap.Stringer("key", key), zap.Stringer("revision", results[0].Entity.Revision))
	return results[0].Entity, nil
}

// Update an existing entity. It fails with status.ErrNotFound when the entity does not exist.
//
// The updater is invoked on the current state of the entity, and invoked again on a fresh state
// whenever the update is retried.
func (s *Store) Update(ctx context.Context, key model.Key, updater model.Updater) (*model.Entity, error) {
	results, err := s.run(ctx, "update "+key.String(), []txn.Op{{Key: key, Kind: txn.Update, Updater: updater}})
	if err != nil {
		return nil, err
	}
	if results[0].Outcome == txn.NotFound {
		return nil, status.ErrNotFound.WrapMessage("%s", key)
	}
	return results[0].Entity, nil
}

// UpdateBatch updates several existing entities at once: either all changes are committed, or none.
//
// Results are returned in the order of updates. The slot of an entity which does not exist is nil.
func (s *Store) UpdateBatch(ctx context.Context, updates []Update) ([]*model.Entity, error) {
	ops := make([]txn.Op, 0, len(updates))
	for _, u := range updates {
		ops = append(ops, txn.Op{Key: u.Key, Kind: txn.Update, Updater: u.Updater})
	}
	results, err := s.run(ctx, "update batch", ops)
	if err != nil {
		return nil, err
	}
	entities := make([]*model.Entity, 0, len(results))
	for _, result := range results {
		entities = append(entities, result.Entity)
	}
	return entities, nil
}

// Delete an entity and release its index keys. It fails with status.ErrNotFound when the entity
// does not exist.
//
// The history of a deleted entity remains in the object store, but is no longer reachable from a ref.
func (s *Store) Delete(ctx context.Context, key model.Key) error {
	results, err := s.run(ctx, "delete "+key.String(), []txn.Op{{Key: key, Kind: txn.Delete}})
	if err != nil {
		return err
	}
	if results[0].Outcome == txn.NotFound {
		return status.ErrNotFound.WrapMessage("%s", key)
	}
	s.l.Info("entity deleted", zap.Stringer("key", key))
	return nil
}

// Get the current state of an entity
func (s *Store) Get(ctx context.Context, key model.Key) (*model.Entity, error) {
	entity, err := s.repo.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return &entity, nil
}

// History of an entity, latest revision first. A limit of 0 returns all revisions.
func (s *Store) History(ctx context.Context, key model.Key, limit int) ([]model.Revision, error) {
	return s.repo.History(ctx, key, limit)
}

// LookupIndex finds the entity owning a key of some secondary index
func (s *Store) LookupIndex(ctx context.Context, name model.IndexName, key string) (model.Key, error) {
	return s.repo.LookupIndex(ctx, name, key)
}

// List the keys of all entities of a class
func (s *Store) List(ctx context.Context, class model.Class) ([]model.Key, error) {
	return s.repo.List(ctx, class)
}

// run commits operations with retries, then notifies listeners when refs moved
func (s *Store) run(ctx context.Context, name string, ops []txn.Op) ([]txn.Result, error) {
	start := time.Now()

	var batch *txn.Batch
	err := s.retry.Run(ctx, name, func(ctx context.Context, _ int) error {
		b, err := s.txn.Run(ctx, s.actor, ops)
		if err != nil {
			return err
		}
		batch = b
		return nil
	})
	if err != nil {
		var conflict *index.ConflictError
		if errors.As(err, &conflict) {
			s.metrics.UniquenessConflict(conflict.Index.String())
		}
		return nil, err
	}

	elapsed := time.Since(start)
	if batch.IsEmpty() {
		s.metrics.Unchanged(elapsed)
		s.l.Debug("nothing to commit", zap.String("operation", name))
		return batch.Results, nil
	}
	s.metrics.Committed(len(batch.Commands), elapsed)

	ev := notify.NewEvent(s.repo.Name(), batch.Changes(), s.actor, s.clock())
	if failed := s.notifier.Notify(ctx, ev); failed > 0 {
		s.l.Debug("some change listeners failed", zap.String("event", ev.ID), zap.Int("failed", failed))
	}
	return batch.Results, nil
}
