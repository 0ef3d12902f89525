package query

import (
	"github.com/declarative-sqlite/dsqlite/schema"
)

// Dependencies is the fine-grained dependency fingerprint of a Query
// (spec.md §4.3), used by the reactive stream registry to gate
// re-emissions.
type Dependencies struct {
	Tables       map[string]bool
	Columns      map[string]bool // "table.column"
	UsesWildcard bool
	// WildcardTables is the subset of Tables selected with `*` or
	// `table.*`; the stream registry treats a write to any column of one of
	// these tables as membership-relevant regardless of which column was
	// written (spec.md §4.6).
	WildcardTables map[string]bool
	// Aggregates is true when the select list contains a bare aggregate with
	// no GROUP BY; such a query's result can change on any row mutation to
	// its source tables, so the stream registry treats it like a wildcard
	// dependency (SPEC_FULL.md §4).
	Aggregates bool
}

func newDependencies() *Dependencies {
	return &Dependencies{
		Tables:         map[string]bool{},
		Columns:        map[string]bool{},
		WildcardTables: map[string]bool{},
	}
}

func (d *Dependencies) addTable(t string) { d.Tables[t] = true }
func (d *Dependencies) addWildcard(t string) {
	d.UsesWildcard = true
	if t != "" {
		d.WildcardTables[t] = true
	}
}
func (d *Dependencies) addColumn(table, col string) {
	if table == "" || col == "" {
		return
	}
	d.Columns[table+"."+col] = true
}

// scopeFrame maps an in-scope alias (or bare table name) to the physical
// table names it ultimately reads from (after view expansion). A frame
// entry with an empty slice denotes a sub-query scope whose shape is opaque
// to unqualified-column resolution.
type scopeFrame struct {
	order   []string
	tables  map[string][]string
}

type scopeStack struct {
	frames []scopeFrame
}

func (s *scopeStack) push(f scopeFrame) { s.frames = append(s.frames, f) }
func (s *scopeStack) pop()              { s.frames = s.frames[:len(s.frames)-1] }

// resolve looks up an alias/table name, closest scope first.
func (s *scopeStack) resolve(name string) ([]string, bool) {
	for i := len(s.frames) - 1; i >= 0; i-- {
		if t, ok := s.frames[i].tables[name]; ok {
			return t, true
		}
	}
	return nil, false
}

// inScopeTablesInnermost returns the physical tables visible in the
// innermost frame, in declaration order, for unqualified column resolution.
func (s *scopeStack) inScopeTablesInnermost() []string {
	if len(s.frames) == 0 {
		return nil
	}
	frame := s.frames[len(s.frames)-1]
	var out []string
	for _, alias := range frame.order {
		out = append(out, frame.tables[alias]...)
	}
	return out
}

// Analyze computes the dependency set of q against the declared schema s,
// recursing through views and sub-queries.
func Analyze(s *schema.Schema, q *Query) (*Dependencies, error) {
	deps := newDependencies()
	stack := &scopeStack{}
	if err := analyzeQuery(s, q, deps, stack); err != nil {
		return nil, err
	}
	return deps, nil
}

func analyzeQuery(s *schema.Schema, q *Query, deps *Dependencies, stack *scopeStack) error {
	frame := scopeFrame{tables: map[string][]string{}}

	addSource := func(src Source) error {
		name := src.Name()
		if src.SubQuery != nil {
			if err := analyzeQuery(s, src.SubQuery, deps, stack); err != nil {
				return err
			}
			frame.order = append(frame.order, name)
			frame.tables[name] = nil
			return nil
		}
		physical, err := expandSource(s, src.Table, deps)
		if err != nil {
			return err
		}
		frame.order = append(frame.order, name)
		frame.tables[name] = physical
		if src.Alias != "" {
			frame.tables[src.Table] = physical
		}
		return nil
	}

	if err := addSource(q.From); err != nil {
		return err
	}
	for _, j := range q.Joins {
		if err := addSource(j.Source); err != nil {
			return err
		}
	}
	stack.push(frame)
	defer stack.pop()

	if len(q.Select) == 0 {
		markWildcardAll(stack, deps)
	}
	hasGroupBy := len(q.GroupBy) > 0
	hasBareAggregate := false
	for _, item := range q.Select {
		switch {
		case item.Wildcard:
			if item.Col.Table != "" {
				markWildcardQualified(stack, item.Col.Table, deps)
			} else {
				markWildcardAll(stack, deps)
			}
		case item.SubQuery != nil:
			if err := analyzeQuery(s, item.SubQuery, deps, stack); err != nil {
				return err
			}
		case item.Raw != "":
			if looksLikeBareAggregate(item.Raw) {
				hasBareAggregate = true
			}
			// raw expressions are an escape hatch: no structural column refs.
		default:
			resolveColumn(s, stack, item.Col, deps)
		}
	}
	if hasBareAggregate && !hasGroupBy {
		deps.Aggregates = true
	}

	for _, j := range q.Joins {
		if err := analyzeExpr(s, stack, j.On, deps); err != nil {
			return err
		}
	}
	if err := analyzeExpr(s, stack, q.Where, deps); err != nil {
		return err
	}
	if err := analyzeExpr(s, stack, q.Having, deps); err != nil {
		return err
	}
	for _, c := range q.GroupBy {
		resolveColumn(s, stack, c, deps)
	}
	for _, o := range q.OrderBy {
		resolveColumn(s, stack, o.Col, deps)
	}

	return nil
}

// looksLikeBareAggregate is a conservative structural check: the dependency
// analyzer does not parse SQL text (spec.md §1 Non-goals), so a raw select
// expression is only classified as an aggregate when it is unambiguously
// one of the standard SQL aggregate function calls.
func looksLikeBareAggregate(raw string) bool {
	prefixes := []string{"COUNT(", "SUM(", "AVG(", "MIN(", "MAX(",
		"count(", "sum(", "avg(", "min(", "max("}
	for _, p := range prefixes {
		if len(raw) >= len(p) && raw[:len(p)] == p {
			return true
		}
	}
	return false
}

func expandSource(s *schema.Schema, name string, deps *Dependencies) ([]string, error) {
	if s.Table(name) != nil {
		deps.addTable(name)
		return []string{name}, nil
	}
	tables, _, ok := s.ExpandView(name)
	if ok {
		for _, t := range tables {
			deps.addTable(t)
		}
		return tables, nil
	}
	// Unknown source: treated permissively, matching "unknown columns
	// referenced by name are excluded" — an unknown table contributes no
	// dependency rather than erroring, since it may be a CTE-like construct
	// the caller manages outside the schema.
	return nil, nil
}

func resolveQualifiedTable(stack *scopeStack, alias string, deps *Dependencies) {
	if tables, ok := stack.resolve(alias); ok {
		for _, t := range tables {
			deps.addTable(t)
		}
	}
}

// markWildcardQualified marks every physical table behind alias (a
// `table.*` or `alias.*` select item) as a wildcard dependency.
func markWildcardQualified(stack *scopeStack, alias string, deps *Dependencies) {
	if tables, ok := stack.resolve(alias); ok {
		for _, t := range tables {
			deps.addTable(t)
			deps.addWildcard(t)
		}
	}
}

// markWildcardAll marks every table in the innermost scope (a bare `*`
// select item) as a wildcard dependency.
func markWildcardAll(stack *scopeStack, deps *Dependencies) {
	for _, t := range stack.inScopeTablesInnermost() {
		deps.addTable(t)
		deps.addWildcard(t)
	}
}

// columnExistsOn reports whether table physically carries column, treating
// system columns as always present on every user table (spec.md §4.3).
func columnExistsOn(s *schema.Schema, table, column string) bool {
	if schema.IsSystemColumn(column) {
		return true
	}
	t := s.Table(table)
	if t == nil {
		return false
	}
	return t.Column(column) != nil
}

func resolveColumn(s *schema.Schema, stack *scopeStack, col Column, deps *Dependencies) {
	if col.Name == "" {
		return
	}
	if col.Table != "" {
		if tables, ok := stack.resolve(col.Table); ok {
			for _, t := range tables {
				deps.addColumn(t, col.Name)
			}
		}
		return
	}
	// Unqualified: ask "which in-scope table contains this column?",
	// closest-wins; if no in-scope table declares it, fall back to the
	// first in-scope table (spec.md §4.3).
	candidates := stack.inScopeTablesInnermost()
	if len(candidates) == 0 {
		return
	}
	for _, t := range candidates {
		if columnExistsOn(s, t, col.Name) {
			deps.addColumn(t, col.Name)
			return
		}
	}
	deps.addColumn(candidates[0], col.Name)
}

func analyzeExpr(s *schema.Schema, stack *scopeStack, e Expr, deps *Dependencies) error {
	if e == nil {
		return nil
	}
	switch x := e.(type) {
	case Cmp:
		resolveColumn(s, stack, x.Col, deps)
		if vc, ok := x.Val.(Column); ok {
			resolveColumn(s, stack, vc, deps)
		}
	case IsNull:
		resolveColumn(s, stack, x.Col, deps)
	case In:
		resolveColumn(s, stack, x.Col, deps)
		if x.SubQuery != nil {
			if err := analyzeQuery(s, x.SubQuery, deps, stack); err != nil {
				return err
			}
		}
	case Between:
		resolveColumn(s, stack, x.Col, deps)
	case Like:
		resolveColumn(s, stack, x.Col, deps)
	case Raw:
		// escape hatch: no structural column refs.
	case And:
		for _, sub := range x.Exprs {
			if err := analyzeExpr(s, stack, sub, deps); err != nil {
				return err
			}
		}
	case Or:
		for _, sub := range x.Exprs {
			if err := analyzeExpr(s, stack, sub, deps); err != nil {
				return err
			}
		}
	case Not:
		return analyzeExpr(s, stack, x.Expr, deps)
	}
	return nil
}
