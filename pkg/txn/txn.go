// Copyright © 2018 One Concern

// Package txn stages and commits batches of entity updates.
//
// A transaction reads all participating refs from one snapshot, computes every entity delta and the
// resulting secondary index changes, then stages one compare-and-swap command per moved ref. All
// commands are applied as a single all-or-nothing batch: when any ref moved since the snapshot, the
// commit fails with a lock failure and no ref moves.
package txn

import (
	"context"
	"sort"
	"time"

	"github.com/oneconcern/refdb/pkg/codec"
	"github.com/oneconcern/refdb/pkg/core/status"
	"github.com/oneconcern/refdb/pkg/index"
	"github.com/oneconcern/refdb/pkg/model"
	"github.com/oneconcern/refdb/pkg/objects"
	"github.com/oneconcern/refdb/pkg/refs"
	"github.com/oneconcern/refdb/pkg/repository"
	"go.uber.org/zap"
)

// Transaction builds and commits batches against a repository.
//
// A Transaction holds no state between calls and may be shared by concurrent callers: each Stage
// takes its own read snapshot.
type Transaction struct {
	repo   *repository.Repository
	author model.Contributor
	clock  func() time.Time
	l      *zap.Logger
}

// New transaction manager over a repository
func New(repo *repository.Repository, opts ...Option) *Transaction {
	t := &Transaction{
		repo:   repo,
		author: defaultAuthor,
		clock:  time.Now,
		l:      repo.Logger(),
	}
	for _, apply := range opts {
		apply(t)
	}
	return t
}

// planned is the staging plan of one operation
type planned struct {
	op      Op
	tip     model.RevisionID
	base    repository.Version
	record  codec.Record
	outcome Outcome
}

// Stage prepares the batch for some operations, without moving any ref.
//
// The author is recorded on all revisions. A zero author stands for the default one.
func (t *Transaction) Stage(ctx context.Context, author model.Contributor, ops []Op) (*Batch, error) {
	if author.IsZero() {
		author = t.author
	}
	when := t.clock().UTC()

	schemas, err := validateOps(ops)
	if err != nil {
		return nil, err
	}

	// 1. one read snapshot of all entity and index refs taking part
	names := make([]string, 0, len(ops)+2)
	indexNames := make(map[model.IndexName]struct{})
	for _, op := range ops {
		names = append(names, op.Key.Ref())
		for _, name := range schemas[op.Key.Class].IndexNames() {
			if _, ok := indexNames[name]; !ok {
				indexNames[name] = struct{}{}
				names = append(names, name.Ref())
			}
		}
	}
	tips, err := t.repo.Tips(ctx, names...)
	if err != nil {
		return nil, err
	}

	// 2. current states, deltas and encoded records
	plans := make([]*planned, 0, len(ops))
	for _, op := range ops {
		p, err := t.plan(ctx, op, tips[op.Key.Ref()])
		if err != nil {
			return nil, err
		}
		plans = append(plans, p)
	}

	// 3. net index deltas, validated against the snapshot
	builders := make(map[model.IndexName]*index.Builder)
	builder := func(name model.IndexName) (*index.Builder, error) {
		if b, ok := builders[name]; ok {
			return b, nil
		}
		snapshot, err := t.repo.ReadIndex(ctx, name, tips[name.Ref()])
		if err != nil {
			return nil, err
		}
		b := index.NewBuilder(snapshot)
		builders[name] = b
		return b, nil
	}
	for _, p := range plans {
		if p.outcome == Unchanged || p.outcome == NotFound {
			continue
		}
		for _, binding := range schemas[p.op.Key.Class].Indexes {
			before := binding.Keys(p.base.Entity)
			var after []string
			if p.outcome != Deleted {
				after = binding.Keys(p.record.State)
			}
			added, removed := codec.Diff(before, after)
			if len(added) == 0 && len(removed) == 0 {
				continue
			}
			b, err := builder(binding.Index)
			if err != nil {
				return nil, err
			}
			b.Add(p.op.Key, added...).Remove(p.op.Key, removed...)
		}
	}

	batch := &Batch{Results: make([]Result, 0, len(plans))}
	indexNamesSorted := make([]model.IndexName, 0, len(builders))
	for name := range builders {
		indexNamesSorted = append(indexNamesSorted, name)
	}
	sort.Slice(indexNamesSorted, func(i, j int) bool { return indexNamesSorted[i] < indexNamesSorted[j] })

	deltas := make(map[model.IndexName]index.Delta, len(builders))
	for _, name := range indexNamesSorted {
		delta, err := builders[name].Build()
		if err != nil {
			t.l.Info("index uniqueness violation", zap.Stringer("index", name), zap.Error(err))
			return nil, err
		}
		deltas[name] = delta
	}

	// 4. one command per moved ref, all expecting the snapshot tips
	for _, name := range indexNamesSorted {
		delta := deltas[name]
		if delta.IsEmpty() {
			continue
		}
		pending, err := t.repo.StageIndexUpdate(ctx, builders[name].Snapshot(), delta, author, when)
		if err != nil {
			return nil, err
		}
		batch.Commands = append(batch.Commands, pending.Command)
		batch.IndexCommands++
	}

	for _, p := range plans {
		result, err := t.stageEntity(ctx, batch, p, author, when)
		if err != nil {
			return nil, err
		}
		batch.Results = append(batch.Results, result)
	}

	if err := refs.Validate(batch.Commands); err != nil {
		return nil, err
	}
	sort.Slice(batch.Commands, func(i, j int) bool { return batch.Commands[i].Ref < batch.Commands[j].Ref })

	t.l.Debug("batch staged",
		zap.Int("operations", len(ops)),
		zap.Int("commands", len(batch.Commands)),
		zap.Int("index commands", batch.IndexCommands),
	)
	return batch, nil
}

func validateOps(ops []Op) (map[model.Class]codec.Schema, error) {
	if len(ops) == 0 {
		return nil, status.ErrInvalidBatch.WrapMessage("no operation")
	}
	schemas := make(map[model.Class]codec.Schema)
	seen := make(map[model.Key]struct{}, len(ops))
	for _, op := range ops {
		if err := op.Key.Validate(); err != nil {
			return nil, err
		}
		if _, ok := seen[op.Key]; ok {
			return nil, status.ErrInvalidBatch.WrapMessage("%s appears twice in the same batch", op.Key)
		}
		seen[op.Key] = struct{}{}

		if _, ok := schemas[op.Key.Class]; !ok {
			schema, err := codec.SchemaFor(op.Key.Class)
			if err != nil {
				return nil, err
			}
			schemas[op.Key.Class] = schema
		}
	}
	return schemas, nil
}

// plan reads the current state of an entity and encodes its next state
func (t *Transaction) plan(ctx context.Context, op Op, tip model.RevisionID) (*planned, error) {
	p := &planned{
		op:   op,
		tip:  tip,
		base: repository.Version{Entity: model.Entity{Key: op.Key}},
	}

	switch {
	case op.Kind == Create && !tip.IsZero():
		return nil, status.ErrExists.WrapMessage("%s", op.Key)
	case op.Kind != Create && tip.IsZero():
		p.outcome = NotFound
		return p, nil
	case !tip.IsZero():
		base, err := t.repo.ReadVersion(ctx, op.Key, tip)
		if err != nil {
			return nil, err
		}
		p.base = base
	}

	if op.Kind == Delete {
		p.outcome = Deleted
		return p, nil
	}

	updater := op.Updater
	if updater == nil {
		updater = model.NoChange
	}
	delta, err := updater(p.base.Entity.Clone())
	if err != nil {
		return nil, err
	}
	record, err := codec.Encode(p.base.Entity, delta)
	if err != nil {
		return nil, err
	}
	p.record = record

	switch {
	case op.Kind == Create:
		p.outcome = Created
	case objects.HashTree(record.Files()) == p.base.Revision.Tree:
		p.outcome = Unchanged
	default:
		p.outcome = Updated
	}
	return p, nil
}

// stageEntity writes the revision of a planned entity and appends its command to the batch
func (t *Transaction) stageEntity(ctx context.Context, batch *Batch, p *planned, author model.Contributor, when time.Time) (Result, error) {
	result := Result{Key: p.op.Key, Outcome: p.outcome}

	switch p.outcome {
	case NotFound:
		return result, nil

	case Unchanged:
		current := p.base.Entity.Clone()
		result.Entity = &current
		return result, nil

	case Deleted:
		batch.Commands = append(batch.Commands, refs.Command{Ref: p.op.Key.Ref(), Old: p.tip})
		return result, nil
	}

	message := codec.CommitMessage(p.outcome == Created, p.base.Entity, p.record.State)
	pending, err := t.repo.StageRefUpdate(ctx, p.op.Key, p.tip, p.record.Files(), message, author, when)
	if err != nil {
		return Result{}, err
	}
	batch.Commands = append(batch.Commands, pending.Command)

	next := p.record.State.Clone()
	next.Revision = pending.Revision.ID
	next.UpdatedOn = pending.Revision.Timestamp
	next.CreatedOn = p.base.Entity.CreatedOn
	if p.outcome == Created {
		next.CreatedOn = pending.Revision.Timestamp
	}
	result.Entity = &next
	batch.versions = append(batch.versions, repository.Version{Entity: next, Revision: pending.Revision})
	return result, nil
}

// Commit applies a staged batch, all or none. An empty batch is a no-op.
func (t *Transaction) Commit(ctx context.Context, batch *Batch) error {
	if batch.IsEmpty() {
		return nil
	}
	if err := t.repo.Commit(ctx, batch.Commands); err != nil {
		return err
	}
	for _, v := range batch.versions {
		t.repo.Remember(v)
	}

	if ce := t.l.Check(zap.DebugLevel, "batch committed"); ce != nil {
		refNames := make([]string, 0, len(batch.Commands))
		for _, cmd := range batch.Commands {
			refNames = append(refNames, cmd.String())
		}
		ce.Write(zap.Strings("commands", refNames))
	}
	return nil
}

// Run stages and commits a batch
func (t *Transaction) Run(ctx context.Context, author model.Contributor, ops []Op) (*Batch, error) {
	batch, err := t.Stage(ctx, author, ops)
	if err != nil {
		return nil, err
	}
	if err = t.Commit(ctx, batch); err != nil {
		return nil, err
	}
	return batch, nil
}
