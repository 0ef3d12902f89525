// Package stream implements the reactive stream registry (spec.md §4.6):
// per-stream dependency tracking, debounced change dispatch, and a
// row-version cache that reuses mapped values across re-executions.
package stream

import (
	"log/slog"
	"sync"
	"time"
)

// WriteNotification describes one accepted write, reported by the database's
// write path once the write is applied, including bulk loads, which make no
// journal append (spec.md §4.6).
type WriteNotification struct {
	Table          string
	ColumnsWritten []string
	RowIDs         []string
	// MembershipChange is true for inserts and deletes, which affect stream
	// membership regardless of which columns were written.
	MembershipChange bool
}

// handle is the registry's non-generic view of a Stream[T], letting the
// registry hold streams of differing T in one map the way the teacher's
// generator keeps heterogeneous dialect outputs behind one interface.
type handle interface {
	impactedBy(w WriteNotification) bool
	scheduleReexec()
	isClosed() bool
}

// Registry is the reactive stream registry of one Database. Each Database
// creates its own on Open and tears it down with CloseAll on Close.
type Registry struct {
	mu       sync.Mutex
	handles  map[uint64]handle
	nextID   uint64
	log      *slog.Logger
	debounce time.Duration
}

const defaultDebounce = 25 * time.Millisecond

// NewRegistry builds a registry with the given debounce window. A zero
// debounce falls back to a 25ms default, within spec.md §4.6's 10-50ms
// range.
func NewRegistry(debounce time.Duration, log *slog.Logger) *Registry {
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	if log == nil {
		log = slog.Default()
	}
	return &Registry{handles: map[uint64]handle{}, log: log, debounce: debounce}
}

func (r *Registry) register(h handle) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	id := r.nextID
	r.handles[id] = h
	return id
}

func (r *Registry) unregister(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handles, id)
}

// Notify dispatches a write to every impacted stream, scheduling each for
// debounced re-execution (spec.md §4.6 "Change dispatch").
func (r *Registry) Notify(w WriteNotification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, h := range r.handles {
		if h.isClosed() {
			delete(r.handles, id)
			continue
		}
		if h.impactedBy(w) {
			h.scheduleReexec()
		}
	}
}

// Sweep removes streams whose sink has been cancelled (spec.md §4.6
// "Cleanup"). Nothing in this module calls Sweep on a timer; closed handles
// are otherwise pruned by Notify as it dispatches, and Close() removes a
// stream from the registry eagerly.
func (r *Registry) Sweep() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, h := range r.handles {
		if h.isClosed() {
			delete(r.handles, id)
		}
	}
}

// Count returns the number of live streams, for Database.Stats().
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

// CloseAll disposes every live stream; the database calls this on Close
// (spec.md §4.6 "disposing the database completes all streams").
func (r *Registry) CloseAll() {
	r.mu.Lock()
	handles := make([]handle, 0, len(r.handles))
	for _, h := range r.handles {
		handles = append(handles, h)
	}
	r.handles = map[uint64]handle{}
	r.mu.Unlock()

	for _, h := range handles {
		if closer, ok := h.(interface{ Close() }); ok {
			closer.Close()
		}
	}
}
