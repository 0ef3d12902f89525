package query

// JoinKind enumerates the supported join types.
type JoinKind int

const (
	JoinInner JoinKind = iota
	JoinLeft
	JoinRight
	JoinFull
	JoinCross
)

// Source is the FROM clause: a table/view name, a sub-query, with an
// optional alias.
type Source struct {
	Table    string
	SubQuery *Query
	Alias    string
}

// Name returns the alias if set, else the table name.
func (s Source) Name() string {
	if s.Alias != "" {
		return s.Alias
	}
	return s.Table
}

// Join is one JOIN clause.
type Join struct {
	Kind JoinKind
	Source
	On Expr
}

// SelectItem is one entry of the select list.
type SelectItem struct {
	Col      Column
	SubQuery *Query
	Raw      string
	Alias    string
	Wildcard bool // true for `*` or `table.*`
}

// OrderItem is one ORDER BY entry.
type OrderItem struct {
	Col  Column
	Desc bool
}

// Query is the structured representation of a SELECT statement (spec.md
// §3). All fields must stay comparable with reflect.DeepEqual.
type Query struct {
	From Source

	Select []SelectItem
	Joins  []Join
	Where  Expr

	GroupBy []Column
	Having  Expr

	OrderBy []OrderItem
	Limit   int
	Offset  int
	HasLimit  bool
	HasOffset bool

	Distinct bool

	// ForUpdateTable authorizes CRUD on the result set, naming the table the
	// returned records may be saved/deleted against (spec.md §4.7).
	ForUpdateTable string
}

// New starts a builder rooted at the given table or view name.
func New(table string) *Query {
	return &Query{From: Source{Table: table}}
}

// FromSubQuery starts a builder rooted at a sub-query.
func FromSubQuery(sub *Query, alias string) *Query {
	return &Query{From: Source{SubQuery: sub, Alias: alias}}
}

func (q *Query) As(alias string) *Query {
	q.From.Alias = alias
	return q
}

func (q *Query) SelectColumns(cols ...string) *Query {
	for _, c := range cols {
		q.Select = append(q.Select, SelectItem{Col: Column{Name: c}})
	}
	return q
}

func (q *Query) SelectQualified(table, col string) *Query {
	q.Select = append(q.Select, SelectItem{Col: Column{Table: table, Name: col}})
	return q
}

func (q *Query) SelectAll() *Query {
	q.Select = append(q.Select, SelectItem{Wildcard: true})
	return q
}

func (q *Query) SelectAllFrom(table string) *Query {
	q.Select = append(q.Select, SelectItem{Wildcard: true, Col: Column{Table: table}})
	return q
}

func (q *Query) SelectRaw(sql, alias string) *Query {
	q.Select = append(q.Select, SelectItem{Raw: sql, Alias: alias})
	return q
}

func (q *Query) Join(kind JoinKind, table, alias string, on Expr) *Query {
	q.Joins = append(q.Joins, Join{Kind: kind, Source: Source{Table: table, Alias: alias}, On: on})
	return q
}

func (q *Query) WhereExpr(e Expr) *Query {
	q.Where = e
	return q
}

func (q *Query) GroupByColumns(cols ...Column) *Query {
	q.GroupBy = append(q.GroupBy, cols...)
	return q
}

func (q *Query) HavingExpr(e Expr) *Query {
	q.Having = e
	return q
}

func (q *Query) OrderByColumn(col Column, desc bool) *Query {
	q.OrderBy = append(q.OrderBy, OrderItem{Col: col, Desc: desc})
	return q
}

func (q *Query) WithLimit(n int) *Query {
	q.Limit = n
	q.HasLimit = true
	return q
}

func (q *Query) WithOffset(n int) *Query {
	q.Offset = n
	q.HasOffset = true
	return q
}

func (q *Query) ForUpdate(table string) *Query {
	q.ForUpdateTable = table
	return q
}
