// Package sync orchestrates bi-directional exchange between the local
// journal and a remote server: batched upload of pending local mutations
// and fetch of remote changes into per-table high-water marks (spec.md
// §4.9).
package sync

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/declarative-sqlite/dsqlite/hlc"
	"github.com/declarative-sqlite/dsqlite/journal"
)

// TimestampsTable is the persistent table storing the last accepted server
// HLC per table (spec.md §4.9, §6).
const TimestampsTable = "sync_server_timestamps"

// CreateTableDDL bootstraps TimestampsTable, run once alongside the
// journal's own bookkeeping table before schema reconciliation.
const CreateTableDDL = `CREATE TABLE IF NOT EXISTS ` + TimestampsTable + ` (
	table_name TEXT PRIMARY KEY,
	server_timestamp TEXT NOT NULL
)`

// Outcome classifies how a send attempt concluded.
type Outcome int

const (
	// Accepted means the server durably applied the batch; it is removed
	// from the journal.
	Accepted Outcome = iota
	// HardFailure means the callback determined the batch can never
	// succeed (e.g. permanently rejected by the server); it is discarded
	// from the journal and logged rather than retried.
	HardFailure
	// SoftFailure means the send could not complete this attempt (e.g. a
	// transient network error); the batch is left in the journal for a
	// later retry.
	SoftFailure
)

// SendFunc uploads one batch of journal entries to the server.
type SendFunc func(ctx context.Context, batch []journal.Entry) (Outcome, error)

// FetchFunc pulls remote changes newer than highWater (per table) and is
// expected to apply them via the database's bulkLoad path, returning the
// new high-water mark for every table it advanced. Tables it leaves out of
// the returned map are left unchanged.
type FetchFunc func(ctx context.Context, db *sql.DB, highWater map[string]hlc.Timestamp) (map[string]hlc.Timestamp, error)

// Config controls batching and concurrency. Its fields carry yaml tags, but
// this package does not load or parse YAML itself; zero values fall back to
// defaults.
type Config struct {
	BatchSize      int `yaml:"batch_size"`
	MaxConcurrency int `yaml:"max_concurrency"`
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 4
	}
	return c
}

// Manager drives upload and fetch orchestration against one journal and
// one engine handle.
type Manager struct {
	db      *sql.DB
	journal *journal.Journal
	config  Config
	log     *slog.Logger
}

func NewManager(db *sql.DB, j *journal.Journal, config Config, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{db: db, journal: j, config: config.withDefaults(), log: log}
}

// Upload reads the journal, batches entries by size, and invokes send for
// each batch concurrently (bounded by config.MaxConcurrency), removing
// accepted and hard-failed batches from the journal. Soft failures are left
// untouched for a later retry (spec.md §4.9 "Upload").
func (m *Manager) Upload(ctx context.Context, send SendFunc) error {
	entries, err := m.journal.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("sync: upload: read journal: %w", err)
	}
	if len(entries) == 0 {
		return nil
	}

	batches := batchBySize(entries, m.config.BatchSize)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(m.config.MaxConcurrency)
	for _, batch := range batches {
		batch := batch
		eg.Go(func() error {
			return m.sendBatch(egCtx, batch, send)
		})
	}
	return eg.Wait()
}

func (m *Manager) sendBatch(ctx context.Context, batch []journal.Entry, send SendFunc) error {
	outcome, err := send(ctx, batch)
	switch {
	case err == nil && outcome == Accepted:
		return m.journal.Remove(ctx, batch)
	case outcome == HardFailure:
		m.log.Warn("sync: discarding batch after hard failure", "size", len(batch), "error", err)
		return m.journal.Remove(ctx, batch)
	default:
		// soft failure: leave entries in place for the next Upload call.
		m.log.Info("sync: upload batch failed, will retry", "size", len(batch), "error", err)
		return nil
	}
}

func batchBySize(entries []journal.Entry, size int) [][]journal.Entry {
	var batches [][]journal.Entry
	for i := 0; i < len(entries); i += size {
		end := i + size
		if end > len(entries) {
			end = len(entries)
		}
		batches = append(batches, entries[i:end])
	}
	return batches
}

// Fetch reads the current high-water mark for each of tables, invokes
// fetch, and persists whatever advanced marks it returns (spec.md §4.9
// "Fetch"). The fetch callback is trusted to have already applied the rows
// it pulled via bulkLoad before returning.
func (m *Manager) Fetch(ctx context.Context, tables []string, fetch FetchFunc) error {
	current, err := m.HighWaterMarks(ctx, tables)
	if err != nil {
		return fmt.Errorf("sync: fetch: read high-water marks: %w", err)
	}

	advanced, err := fetch(ctx, m.db, current)
	if err != nil {
		return fmt.Errorf("sync: fetch: %w", err)
	}
	for table, ts := range advanced {
		if err := m.setHighWaterMark(ctx, table, ts); err != nil {
			return fmt.Errorf("sync: fetch: persist high-water mark for %s: %w", table, err)
		}
	}
	return nil
}

// HighWaterMarks returns the last accepted server HLC for each of tables,
// defaulting to the zero timestamp for a table with no recorded mark yet.
func (m *Manager) HighWaterMarks(ctx context.Context, tables []string) (map[string]hlc.Timestamp, error) {
	out := make(map[string]hlc.Timestamp, len(tables))
	for _, t := range tables {
		out[t] = hlc.Timestamp{}
	}
	rows, err := m.db.QueryContext(ctx, `SELECT table_name, server_timestamp FROM `+TimestampsTable)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var table, hlcStr string
		if err := rows.Scan(&table, &hlcStr); err != nil {
			return nil, err
		}
		if _, wanted := out[table]; !wanted {
			continue
		}
		ts, err := hlc.Parse(hlcStr)
		if err != nil {
			return nil, err
		}
		out[table] = ts
	}
	return out, rows.Err()
}

func (m *Manager) setHighWaterMark(ctx context.Context, table string, ts hlc.Timestamp) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO `+TimestampsTable+` (table_name, server_timestamp) VALUES (?, ?)
		ON CONFLICT (table_name) DO UPDATE SET server_timestamp = excluded.server_timestamp
	`, table, ts.String())
	return err
}
