// Copyright © 2018 One Concern

// Package sqldb implements the ref database on a SQL table, with SQLite (modernc.org/sqlite)
// or PostgreSQL (jackc/pgx) as the backing engine.
//
// A batch of ref commands runs in a single SQL transaction. Each command is a conditional
// statement; any statement affecting no row fails the whole batch with a lock failure.
package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	"github.com/oneconcern/refdb/pkg/core/status"
	"github.com/oneconcern/refdb/pkg/model"
	"github.com/oneconcern/refdb/pkg/refs"
	"go.uber.org/zap"
	_ "modernc.org/sqlite" // pure go sqlite driver
)

// Dialect of SQL
type Dialect string

const (
	// SQLite embedded database
	SQLite Dialect = "sqlite"

	// Postgres server
	Postgres Dialect = "postgres"
)

const (
	memoryDSN      = ":memory:"
	sqliteBusyWait = 5000 // ms

	createTable = `CREATE TABLE IF NOT EXISTS refs (
	name TEXT PRIMARY KEY,
	revision TEXT NOT NULL
)`
	insertRef = `INSERT INTO refs (name, revision) VALUES (?, ?) ON CONFLICT (name) DO NOTHING`
	updateRef = `UPDATE refs SET revision = ? WHERE name = ? AND revision = ?`
	deleteRef = `DELETE FROM refs WHERE name = ? AND revision = ?`
	selectRef = `SELECT revision FROM refs WHERE name = ?`
	listRefs  = `SELECT name, revision FROM refs WHERE substr(name, 1, ?) = ?`
)

var _ refs.Database = &DB{}

// DB is a ref database backed by a SQL table
type DB struct {
	*sqlOptions
	db      *sql.DB
	dialect Dialect
	dsn     string
}

// Open a SQL ref database and ensures the refs table exists.
//
// For SQLite, the DSN is a file path, or ":memory:" for a private in-memory database.
func Open(ctx context.Context, dialect Dialect, dsn string, opts ...Option) (*DB, error) {
	o := defaultOptions()
	for _, apply := range opts {
		apply(o)
	}

	var driver string
	switch dialect {
	case SQLite:
		driver = "sqlite"
		if dsn == "" {
			dsn = memoryDSN
		}
		if dsn != memoryDSN {
			if err := os.MkdirAll(filepath.Dir(dsn), 0700); err != nil {
				return nil, status.ErrStorage.Wrap(fmt.Errorf("sqlite: mkdir: %w", err))
			}
		}
	case Postgres:
		driver = "pgx"
	default:
		return nil, status.ErrStorage.WrapMessage("unsupported SQL dialect %q", dialect)
	}

	source := dsn
	if dialect == SQLite {
		source = sqliteSource(dsn)
	}
	db, err := sql.Open(driver, source)
	if err != nil {
		return nil, status.ErrStorage.Wrap(fmt.Errorf("open %s: %w", dialect, err))
	}
	if dialect == SQLite {
		// a single connection: in-memory databases are private to their connection, and
		// sqlite serializes writers anyway
		db.SetMaxOpenConns(1)
	}
	if err = db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, status.ErrStorage.Wrap(fmt.Errorf("ping %s: %w", dialect, err))
	}
	if _, err = db.ExecContext(ctx, createTable); err != nil {
		_ = db.Close()
		return nil, status.ErrStorage.Wrap(fmt.Errorf("create refs table: %w", err))
	}

	return &DB{
		sqlOptions: o,
		db:         db,
		dialect:    dialect,
		dsn:        dsn,
	}, nil
}

// sqliteSource appends connection pragmas to a sqlite DSN, so that every new connection of the pool applies them
func sqliteSource(dsn string) string {
	pragma := "_pragma=busy_timeout(" + strconv.Itoa(sqliteBusyWait) + ")"
	if strings.ContainsRune(dsn, '?') {
		return dsn + "&" + pragma
	}
	return dsn + "?" + pragma
}

// rebind rewrites ? placeholders for dialects using numbered parameters
func (d *DB) rebind(query string) string {
	if d.dialect != Postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, c := range query {
		if c == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}

// Get the current revision of a ref
func (d *DB) Get(ctx context.Context, ref string) (model.RevisionID, error) {
	var rev string
	err := d.db.QueryRowContext(ctx, d.rebind(selectRef), ref).Scan(&rev)
	if err != nil {
		if err == sql.ErrNoRows {
			return model.ZeroRevision, nil
		}
		return model.ZeroRevision, status.ErrStorage.Wrap(err)
	}
	return model.RevisionID(rev), nil
}

// GetMany reads several refs with a single statement, hence from a consistent snapshot
func (d *DB) GetMany(ctx context.Context, names ...string) (map[string]model.RevisionID, error) {
	result := make(map[string]model.RevisionID, len(names))
	if len(names) == 0 {
		return result, nil
	}
	args := make([]interface{}, 0, len(names))
	for _, name := range names {
		args = append(args, name)
	}
	query := "SELECT name, revision FROM refs WHERE name IN (" + strings.TrimSuffix(strings.Repeat("?, ", len(names)), ", ") + ")"
	if err := d.query(ctx, result, query, args...); err != nil {
		return nil, err
	}
	return result, nil
}

// List refs with some prefix
func (d *DB) List(ctx context.Context, prefix string) (map[string]model.RevisionID, error) {
	result := make(map[string]model.RevisionID)
	if err := d.query(ctx, result, listRefs, utf8.RuneCountInString(prefix), prefix); err != nil {
		return nil, err
	}
	return result, nil
}

func (d *DB) query(ctx context.Context, result map[string]model.RevisionID, query string, args ...interface{}) error {
	rows, err := d.db.QueryContext(ctx, d.rebind(query), args...)
	if err != nil {
		return status.ErrStorage.Wrap(err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var name, rev string
		if err := rows.Scan(&name, &rev); err != nil {
			return status.ErrStorage.Wrap(err)
		}
		result[name] = model.RevisionID(rev)
	}
	if err := rows.Err(); err != nil {
		return status.ErrStorage.Wrap(err)
	}
	return nil
}

func (d *DB) apply(ctx context.Context, tx *sql.Tx, cmd refs.Command) (bool, error) {
	var (
		res sql.Result
		err error
	)
	switch {
	case cmd.Old.IsZero():
		res, err = tx.ExecContext(ctx, d.rebind(insertRef), cmd.Ref, string(cmd.New))
	case cmd.New.IsZero():
		res, err = tx.ExecContext(ctx, d.rebind(deleteRef), cmd.Ref, string(cmd.Old))
	default:
		res, err = tx.ExecContext(ctx, d.rebind(updateRef), string(cmd.New), cmd.Ref, string(cmd.Old))
	}
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// Commit applies a batch of commands in one SQL transaction
func (d *DB) Commit(ctx context.Context, commands []refs.Command) (err error) {
	if err = refs.Validate(commands); err != nil {
		return err
	}
	if len(commands) == 0 {
		return nil
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return status.ErrStorage.Wrap(err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var mismatches []string
	for _, cmd := range commands {
		ok, e := d.apply(ctx, tx, cmd)
		if e != nil {
			return status.ErrStorage.WrapWithLog(d.l, e, zap.String("ref", cmd.Ref))
		}
		if !ok {
			mismatches = append(mismatches, cmd.Ref)
		}
	}
	if len(mismatches) > 0 {
		return refs.NewLockFailure(mismatches...)
	}

	if d.beforeCommit != nil {
		if e := d.beforeCommit(ctx, commands); e != nil {
			return status.ErrStorage.Wrap(e)
		}
	}

	if e := tx.Commit(); e != nil {
		return status.ErrStorage.WrapWithLog(d.l, e, zap.Int("commands", len(commands)))
	}
	d.l.Debug("refs committed", zap.Int("commands", len(commands)))
	return nil
}

// Close the database
func (d *DB) Close() error {
	if err := d.db.Close(); err != nil {
		return status.ErrStorage.Wrap(err)
	}
	return nil
}

func (d *DB) String() string {
	if d.dialect == SQLite {
		return "sqlite@" + d.dsn
	}
	return string(d.dialect)
}
