// Package dsqlite is the root of the library: it wires the schema
// reconciler, the HLC/LWW write path, the dirty-row journal, the reactive
// stream registry, and fileset/sync support into one embedded,
// offline-first relational data store over SQLite.
package dsqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/declarative-sqlite/dsqlite/engine"
	"github.com/declarative-sqlite/dsqlite/fileset"
	"github.com/declarative-sqlite/dsqlite/hlc"
	"github.com/declarative-sqlite/dsqlite/journal"
	"github.com/declarative-sqlite/dsqlite/schema"
	"github.com/declarative-sqlite/dsqlite/stream"
	dsync "github.com/declarative-sqlite/dsqlite/sync"
)

// ConstraintStrategy controls how BulkLoad handles a duplicate primary key
// on insert (spec.md §6 "Constraint violation strategies").
type ConstraintStrategy int

const (
	ConstraintThrow ConstraintStrategy = iota
	ConstraintSkip
)

// Options configures Open. Schema is the only required field; everything
// else has a workable default so a caller can get a database running with
// one line, matching the teacher's GeneratorConfig zero-value-is-usable
// style.
type Options struct {
	Schema              *schema.Schema
	FileRepository      fileset.Repository
	Log                 *slog.Logger
	StreamDebounce      time.Duration
	SyncConfig          dsync.Config
	BulkLoadOnDuplicate ConstraintStrategy
}

// Database is the library's public handle: one open SQLite connection, the
// declared schema, and the write-path/journal/registry state wired
// together. The zero value is not usable; construct with Open.
type Database struct {
	engine   *engine.Engine
	schema   *schema.Schema
	log      *slog.Logger
	fileRepo fileset.Repository

	clock    *hlc.Clock
	journal  *journal.Journal
	registry *stream.Registry
	sync     *dsync.Manager

	// writeMu serializes the full write sequence: value preparation, HLC
	// stamp, engine call, journal append, registry notify (spec.md §5).
	writeMu sync.Mutex

	bulkLoadStrategy ConstraintStrategy
}

// bootstrapDDL creates the library's internal bookkeeping tables, run once
// before the declared schema is reconciled.
var bootstrapDDL = []string{
	journal.CreateTableDDL,
	dsync.CreateTableDDL,
	`CREATE TABLE IF NOT EXISTS __node_identity (id INTEGER PRIMARY KEY CHECK (id = 1), node_id TEXT NOT NULL)`,
}

// Open opens (creating if necessary) the SQLite database at path, runs the
// internal bookkeeping bootstrap, reconciles the declared schema against
// what is actually on disk (spec.md §4.2), and returns a ready Database.
func Open(ctx context.Context, path string, opts Options) (*Database, error) {
	if opts.Schema == nil {
		return nil, fmt.Errorf("dsqlite: open: Schema is required")
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	fileRepo := opts.FileRepository
	if fileRepo == nil {
		fileRepo = fileset.NewMemoryRepository()
	}

	eng, err := engine.Open(path)
	if err != nil {
		return nil, err
	}

	for _, ddl := range bootstrapDDL {
		if _, err := eng.ExecContext(ctx, ddl); err != nil {
			eng.Close()
			return nil, newError(KindSchema, "", "", "bootstrap internal tables", err)
		}
	}

	nodeID, err := ensureNodeID(ctx, eng.DB())
	if err != nil {
		eng.Close()
		return nil, newError(KindSchema, "", "", "establish node identity", err)
	}

	if err := reconcile(ctx, eng.DB(), opts.Schema); err != nil {
		eng.Close()
		return nil, err
	}

	db := &Database{
		engine:           eng,
		schema:           opts.Schema,
		log:              log,
		fileRepo:         fileRepo,
		clock:            hlc.New(nodeID),
		journal:          journal.New(eng.DB(), log),
		registry:         stream.NewRegistry(opts.StreamDebounce, log),
		bulkLoadStrategy: opts.BulkLoadOnDuplicate,
	}
	db.sync = dsync.NewManager(eng.DB(), db.journal, opts.SyncConfig, log)
	return db, nil
}

// reconcile diffs declared against the live introspected schema and applies
// the resulting migration plan (spec.md §4.2).
func reconcile(ctx context.Context, db *sql.DB, declared *schema.Schema) error {
	withSystemCols := &schema.Schema{Views: declared.Views}
	for _, t := range declared.Tables {
		withSystemCols.Tables = append(withSystemCols.Tables, t.WithSystemColumns())
	}

	live, err := schema.NewIntrospector(db).Introspect(ctx)
	if err != nil {
		return newError(KindSchema, "", "", "introspect live schema", err)
	}
	userTables := live.Tables[:0]
	for _, t := range live.Tables {
		switch t.Name {
		case journal.TableName, dsync.TimestampsTable, "__node_identity":
			continue
		}
		userTables = append(userTables, t)
	}
	live.Tables = userTables
	plan, err := schema.Diff(withSystemCols, live)
	if err != nil {
		return newError(KindSchema, "", "", "compute migration plan", err)
	}
	if plan.Empty() {
		return nil
	}
	if err := plan.Execute(ctx, db); err != nil {
		return newError(KindSchema, "", "", "apply migration plan", err)
	}
	return nil
}

func ensureNodeID(ctx context.Context, db *sql.DB) (string, error) {
	row := db.QueryRowContext(ctx, `SELECT node_id FROM __node_identity WHERE id = 1`)
	var id string
	err := row.Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return "", err
	}
	id = uuid.NewString()
	_, err = db.ExecContext(ctx, `INSERT INTO __node_identity (id, node_id) VALUES (1, ?)`, id)
	if err != nil {
		return "", err
	}
	return id, nil
}

// Close disposes every live stream and closes the underlying connection
// (spec.md §4.6 "disposing the database completes all streams").
func (db *Database) Close() error {
	db.registry.CloseAll()
	return db.engine.Close()
}

// Schema returns the declared schema this database was opened with.
func (db *Database) Schema() *schema.Schema { return db.schema }

// Stats is a read-only introspection surface for host applications
// (SPEC_FULL.md §5 supplement): dirty-row count, per-table row counts, and
// active stream count.
type Stats struct {
	DirtyRowCount int
	TableCounts   map[string]int64
	ActiveStreams int
}

func (db *Database) Stats(ctx context.Context) (Stats, error) {
	dirty, err := db.journal.GetAll(ctx)
	if err != nil {
		return Stats{}, err
	}
	counts := map[string]int64{}
	for _, t := range db.schema.Tables {
		var n int64
		if err := db.engine.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM `+schema.QuoteIdent(t.Name)).Scan(&n); err != nil {
			return Stats{}, newError(KindRead, t.Name, "", "count rows", err)
		}
		counts[t.Name] = n
	}
	return Stats{
		DirtyRowCount: len(dirty),
		TableCounts:   counts,
		ActiveStreams: db.registry.Count(),
	}, nil
}

// Vacuum runs fileset garbage collection followed by a SQLite VACUUM
// (SPEC_FULL.md §5 supplement).
func (db *Database) Vacuum(ctx context.Context) error {
	live, liveFiles, err := db.liveFilesetIDs(ctx)
	if err != nil {
		return err
	}
	if err := fileset.GC(ctx, db.fileRepo, live, liveFiles); err != nil {
		return fmt.Errorf("dsqlite: vacuum: fileset gc: %w", err)
	}
	if _, err := db.engine.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("dsqlite: vacuum: %w", err)
	}
	return nil
}

// liveFilesetIDs scans every fileset column of every declared table and
// returns the set of fileset ids currently referenced by a row.
func (db *Database) liveFilesetIDs(ctx context.Context) (map[string]bool, map[string]map[string]bool, error) {
	live := map[string]bool{}
	for _, t := range db.schema.Tables {
		for _, c := range t.Columns {
			if c.Logical != schema.LogicalFileset {
				continue
			}
			rows, err := db.engine.QueryContext(ctx,
				`SELECT DISTINCT `+schema.QuoteIdent(c.Name)+` FROM `+schema.QuoteIdent(t.Name)+
					` WHERE `+schema.QuoteIdent(c.Name)+` IS NOT NULL AND `+schema.QuoteIdent(c.Name)+` != ''`)
			if err != nil {
				return nil, nil, newError(KindRead, t.Name, c.Name, "scan fileset column for gc", err)
			}
			for rows.Next() {
				var id string
				if err := rows.Scan(&id); err != nil {
					rows.Close()
					return nil, nil, err
				}
				live[id] = true
			}
			rows.Close()
		}
	}
	// File-level liveness is not tracked separately at this layer: every
	// file under a live fileset id is kept (fileset.GC treats a missing
	// map entry as "keep every file").
	return live, nil, nil
}

// ResetForTesting tears down the process-singleton-shaped state this
// Database owns (the HLC clock and the stream registry) so tests can open a
// fresh logical instance without restarting the process (spec.md §9
// "Global mutable state ... tests must be able to reset").
func (db *Database) ResetForTesting(nodeID string) {
	db.registry.CloseAll()
	db.registry = stream.NewRegistry(0, db.log)
	db.clock = hlc.New(nodeID)
}
