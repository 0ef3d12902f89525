package stream

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"github.com/declarative-sqlite/dsqlite/query"
	"github.com/declarative-sqlite/dsqlite/record"
	"github.com/declarative-sqlite/dsqlite/schema"
)

// QueryRunner is the subset of the database read path a stream needs to
// re-execute its query. Implemented by the root dsqlite.Database; kept as a
// narrow interface here so this package never imports the root package (the
// same narrow-collaborator shape as record.Mutator).
type QueryRunner interface {
	RunQuery(ctx context.Context, q *query.Query) ([]*record.Record, error)
}

// State is a stream's position in the spec.md §4.6 state machine:
// initializing -> active -> (reexecuting)* -> closed.
type State int32

const (
	StateInitializing State = iota
	StateActive
	StateReexecuting
	StateClosed
)

// Event is one emission on a stream's channel: either a freshly materialized
// list, or an error surfaced from a failed re-execution (spec.md §4.6
// "errors ... surface to the sink as an error event; the stream remains
// active").
type Event[T any] struct {
	Rows []T
	Err  error
}

type cacheEntry[T any] struct {
	version string
	value   T
}

const (
	cacheSize           = 4096
	eventQueueDepth     = 16
	forcedFlushInterval = 250 * time.Millisecond
	forcedFlushBurst    = 1
)

// Stream is a live reactive query (spec.md §4.6). Obtain one via New; the
// zero value is not usable.
type Stream[T any] struct {
	id       uint64
	registry *Registry
	runner   QueryRunner
	schema   *schema.Schema
	query    *query.Query
	deps     *query.Dependencies
	mapper   func(*record.Record) T

	cache *lru.Cache[string, cacheEntry[T]]

	state State32

	mu      sync.Mutex
	timer   *time.Timer
	limiter *rate.Limiter

	events    chan Event[T]
	closeOnce sync.Once
	done      chan struct{}
}

// State32 wraps atomic.Int32 to store a State.
type State32 struct{ v atomic.Int32 }

func (s *State32) Load() State           { return State(s.v.Load()) }
func (s *State32) Store(v State)         { s.v.Store(int32(v)) }
func (s *State32) CAS(old, new State) bool {
	return s.v.CompareAndSwap(int32(old), int32(new))
}

// New computes q's dependency set against schema s, runs it once to
// populate the initial materialized list and row cache, registers the
// stream with reg, and returns it already active (spec.md §4.6 "Creation").
func New[T any](ctx context.Context, reg *Registry, runner QueryRunner, s *schema.Schema, q *query.Query, mapper func(*record.Record) T) (*Stream[T], error) {
	deps, err := query.Analyze(s, q)
	if err != nil {
		return nil, err
	}
	cache, err := lru.New[string, cacheEntry[T]](cacheSize)
	if err != nil {
		return nil, err
	}
	st := &Stream[T]{
		registry: reg,
		runner:   runner,
		schema:   s,
		query:    q,
		deps:     deps,
		mapper:   mapper,
		cache:    cache,
		limiter:  rate.NewLimiter(rate.Every(forcedFlushInterval), forcedFlushBurst),
		events:   make(chan Event[T], eventQueueDepth),
		done:     make(chan struct{}),
	}
	st.state.Store(StateInitializing)

	rows, err := runner.RunQuery(ctx, q)
	if err != nil {
		return nil, err
	}
	out := st.mapRows(rows)
	st.state.Store(StateActive)
	st.emit(Event[T]{Rows: out})

	st.id = reg.register(st)
	return st, nil
}

// Events returns the stream's emission channel. Overflow drops the oldest
// undelivered event and logs a warning rather than blocking the writer that
// triggered re-execution (spec.md §5 "a slow sink does not block writes").
func (s *Stream[T]) Events() <-chan Event[T] { return s.events }

// Close detaches the stream atomically; an in-flight re-execution completes
// but its result is discarded (spec.md §4.6 "Cancellation").
func (s *Stream[T]) Close() {
	s.closeOnce.Do(func() {
		s.state.Store(StateClosed)
		s.mu.Lock()
		if s.timer != nil {
			s.timer.Stop()
		}
		s.mu.Unlock()
		s.registry.unregister(s.id)
		close(s.done)
	})
}

func (s *Stream[T]) isClosed() bool { return s.state.Load() == StateClosed }

// impactedBy implements spec.md §4.6's "Change dispatch" test.
func (s *Stream[T]) impactedBy(w WriteNotification) bool {
	if !s.deps.Tables[w.Table] {
		return false
	}
	if w.MembershipChange || s.deps.Aggregates {
		return true
	}
	if s.deps.WildcardTables[w.Table] {
		return true
	}
	for _, c := range w.ColumnsWritten {
		if s.deps.Columns[w.Table+"."+c] {
			return true
		}
	}
	return false
}

// scheduleReexec coalesces a burst of impacting writes into one re-emission
// via a trailing debounce window. A continuous burst could otherwise reset
// the timer forever, so a rate limiter caps how often the deadline may be
// pushed back, guaranteeing the pending timer eventually fires (spec.md
// §4.6 "Scheduling coalesces bursts").
func (s *Stream[T]) scheduleReexec() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Load() == StateClosed {
		return
	}
	if s.timer == nil {
		s.timer = time.AfterFunc(s.registry.debounce, s.fireReexec)
		return
	}
	if s.limiter.Allow() {
		s.timer.Reset(s.registry.debounce)
	}
}

func (s *Stream[T]) fireReexec() {
	s.mu.Lock()
	s.timer = nil
	s.mu.Unlock()
	s.reexecute(context.Background())
}

// reexecute reruns the query and reconciles the row cache (spec.md §4.6
// "Re-execution").
func (s *Stream[T]) reexecute(ctx context.Context) {
	if !s.state.CAS(StateActive, StateReexecuting) {
		return
	}
	rows, err := s.runner.RunQuery(ctx, s.query)
	if err != nil {
		if !s.state.CAS(StateReexecuting, StateActive) {
			return
		}
		s.emit(Event[T]{Err: err})
		return
	}
	out := s.mapRows(rows)
	if !s.state.CAS(StateReexecuting, StateActive) {
		return
	}
	s.emit(Event[T]{Rows: out})
}

// mapRows reuses cached mapped values when a row's system_version is
// unchanged (reference-equal per spec.md §4.6), runs the mapper otherwise,
// and evicts cache entries whose system_id no longer appears in the result.
func (s *Stream[T]) mapRows(rows []*record.Record) []T {
	seen := make(map[string]bool, len(rows))
	out := make([]T, len(rows))
	for i, r := range rows {
		id := r.SystemID()
		version := r.GetString(schema.SystemVersion)
		if id != "" {
			seen[id] = true
			if entry, ok := s.cache.Get(id); ok && entry.version == version {
				out[i] = entry.value
				continue
			}
		}
		v := s.mapper(r)
		out[i] = v
		if id != "" {
			s.cache.Add(id, cacheEntry[T]{version: version, value: v})
		}
	}
	for _, k := range s.cache.Keys() {
		if !seen[k] {
			s.cache.Remove(k)
		}
	}
	return out
}

func (s *Stream[T]) emit(e Event[T]) {
	select {
	case s.events <- e:
		return
	default:
	}
	select {
	case <-s.events:
		s.registry.log.Warn("stream: sink queue full, dropped oldest event")
	default:
	}
	select {
	case s.events <- e:
	default:
		s.registry.log.Warn("stream: sink queue full, dropped event")
	}
}
