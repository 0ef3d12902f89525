// Package journal implements the dirty-row journal: a durable queue of
// pending local mutations awaiting upload, plus an in-memory broadcast
// notifier (spec.md §4.5).
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/declarative-sqlite/dsqlite/hlc"
)

// TableName is the internal table backing the journal (spec.md §6).
const TableName = "__dirty_rows"

// CreateTableDDL is executed once by the database opener before any user
// schema reconciliation runs, the way the teacher bootstraps its own
// bookkeeping tables ahead of the declared schema.
const CreateTableDDL = `CREATE TABLE IF NOT EXISTS ` + TableName + ` (
	table_name TEXT NOT NULL,
	row_id TEXT NOT NULL,
	hlc TEXT NOT NULL,
	is_full_row INTEGER NOT NULL,
	data_json TEXT,
	PRIMARY KEY (table_name, row_id)
)`

// Entry is one pending mutation. Data is nil for deletes.
type Entry struct {
	TableName string
	RowID     string
	HLC       hlc.Timestamp
	IsFullRow bool
	Data      map[string]any
}

func (e Entry) key() string { return e.TableName + "\x00" + e.RowID }

// Journal is the persistent queue plus its broadcast stream. Safe for
// concurrent use; callers append within the write mutex the database
// enforces (spec.md §5).
type Journal struct {
	db     *sql.DB
	log    *slog.Logger
	mu     sync.Mutex
	subsMu sync.Mutex
	subs   []*subscriber
}

const subscriberQueueDepth = 256

type subscriber struct {
	ch     chan Entry
	closed bool
}

func New(db *sql.DB, log *slog.Logger) *Journal {
	if log == nil {
		log = slog.Default()
	}
	return &Journal{db: db, log: log}
}

// Add upserts entry by (tableName, rowId): a partial entry merged with a
// later full entry stays full; two partial entries merge their data maps
// latest-wins per column; the stored HLC always advances monotonically
// (spec.md §4.5).
func (j *Journal) Add(ctx context.Context, entry Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	existing, found, err := j.get(ctx, entry.TableName, entry.RowID)
	if err != nil {
		return fmt.Errorf("journal: add: %w", err)
	}

	merged := entry
	if found {
		merged = mergeEntries(existing, entry)
	}

	data, err := json.Marshal(merged.Data)
	if err != nil {
		return fmt.Errorf("journal: marshal entry: %w", err)
	}
	_, err = j.db.ExecContext(ctx, `
		INSERT INTO `+TableName+` (table_name, row_id, hlc, is_full_row, data_json)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (table_name, row_id) DO UPDATE SET
			hlc = excluded.hlc, is_full_row = excluded.is_full_row, data_json = excluded.data_json
	`, merged.TableName, merged.RowID, merged.HLC.String(), boolToInt(merged.IsFullRow), string(data))
	if err != nil {
		return fmt.Errorf("journal: upsert: %w", err)
	}

	j.broadcast(merged)
	return nil
}

// mergeEntries implements spec.md §4.5's collapse rule: full beats partial,
// the HLC advances monotonically, and two partial payloads merge
// latest-wins per column.
func mergeEntries(existing, incoming Entry) Entry {
	out := incoming
	out.IsFullRow = existing.IsFullRow || incoming.IsFullRow
	if existing.HLC.After(incoming.HLC) {
		out.HLC = existing.HLC
	}
	if incoming.Data == nil {
		// delete always wins outright: nothing downstream of a delete
		// can be partially merged back in.
		out.Data = nil
		return out
	}
	if existing.Data != nil {
		merged := map[string]any{}
		for k, v := range existing.Data {
			merged[k] = v
		}
		for k, v := range incoming.Data {
			merged[k] = v
		}
		out.Data = merged
	}
	return out
}

func (j *Journal) get(ctx context.Context, table, rowID string) (Entry, bool, error) {
	row := j.db.QueryRowContext(ctx, `
		SELECT hlc, is_full_row, data_json FROM `+TableName+` WHERE table_name = ? AND row_id = ?
	`, table, rowID)
	var hlcStr string
	var isFull int
	var dataJSON sql.NullString
	if err := row.Scan(&hlcStr, &isFull, &dataJSON); err != nil {
		if err == sql.ErrNoRows {
			return Entry{}, false, nil
		}
		return Entry{}, false, err
	}
	ts, err := hlc.Parse(hlcStr)
	if err != nil {
		return Entry{}, false, err
	}
	entry := Entry{TableName: table, RowID: rowID, HLC: ts, IsFullRow: isFull != 0}
	if dataJSON.Valid && dataJSON.String != "null" && dataJSON.String != "" {
		var data map[string]any
		if err := json.Unmarshal([]byte(dataJSON.String), &data); err != nil {
			return Entry{}, false, err
		}
		entry.Data = data
	}
	return entry, true, nil
}

// GetAll returns a snapshot of every pending entry, ordered by HLC
// ascending.
func (j *Journal) GetAll(ctx context.Context) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx, `SELECT table_name, row_id, hlc, is_full_row, data_json FROM `+TableName)
	if err != nil {
		return nil, fmt.Errorf("journal: get all: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var table, rowID, hlcStr string
		var isFull int
		var dataJSON sql.NullString
		if err := rows.Scan(&table, &rowID, &hlcStr, &isFull, &dataJSON); err != nil {
			return nil, err
		}
		ts, err := hlc.Parse(hlcStr)
		if err != nil {
			return nil, err
		}
		entry := Entry{TableName: table, RowID: rowID, HLC: ts, IsFullRow: isFull != 0}
		if dataJSON.Valid && dataJSON.String != "null" && dataJSON.String != "" {
			var data map[string]any
			if err := json.Unmarshal([]byte(dataJSON.String), &data); err != nil {
				return nil, err
			}
			entry.Data = data
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, k int) bool { return entries[i].HLC.Less(entries[k].HLC) })
	return entries, nil
}

// Remove drops entries by (tableName, rowId). Idempotent: removing an
// already-absent key is not an error.
func (j *Journal) Remove(ctx context.Context, entries []Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("journal: remove: %w", err)
	}
	for _, e := range entries {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+TableName+` WHERE table_name = ? AND row_id = ?`,
			e.TableName, e.RowID); err != nil {
			tx.Rollback()
			return fmt.Errorf("journal: remove: %w", err)
		}
	}
	return tx.Commit()
}

// Clear deletes every pending entry.
func (j *Journal) Clear(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	_, err := j.db.ExecContext(ctx, `DELETE FROM `+TableName)
	return err
}

// OnRowAdded registers a listener for every accepted journal add, in append
// order. Each subscriber owns a bounded queue; a slow subscriber drops its
// oldest pending entry and logs a warning rather than blocking writers
// (spec.md §5, §9 "Broadcast stream").
func (j *Journal) OnRowAdded() (<-chan Entry, func()) {
	sub := &subscriber{ch: make(chan Entry, subscriberQueueDepth)}
	j.subsMu.Lock()
	j.subs = append(j.subs, sub)
	j.subsMu.Unlock()

	cancel := func() {
		j.subsMu.Lock()
		defer j.subsMu.Unlock()
		for i, s := range j.subs {
			if s == sub {
				j.subs = append(j.subs[:i], j.subs[i+1:]...)
				break
			}
		}
		if !sub.closed {
			sub.closed = true
			close(sub.ch)
		}
	}
	return sub.ch, cancel
}

func (j *Journal) broadcast(e Entry) {
	j.subsMu.Lock()
	defer j.subsMu.Unlock()
	for _, sub := range j.subs {
		select {
		case sub.ch <- e:
		default:
			select {
			case <-sub.ch:
				j.log.Warn("journal: subscriber queue full, dropped oldest entry",
					"table", e.TableName, "row_id", e.RowID)
			default:
			}
			select {
			case sub.ch <- e:
			default:
				j.log.Warn("journal: subscriber queue full, dropped entry",
					"table", e.TableName, "row_id", e.RowID)
			}
		}
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
