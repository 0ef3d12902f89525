package query

// Expr is a node of the Where-expression AST (spec.md §3). Expr values must
// remain comparable with reflect.DeepEqual so that two structurally equal
// queries share a reactive stream's row cache (spec.md §4.6 "Mapper
// identity").
type Expr interface {
	isExpr()
}

// CmpOp is a comparison operator.
type CmpOp string

const (
	OpEq  CmpOp = "="
	OpNe  CmpOp = "!="
	OpLt  CmpOp = "<"
	OpLte CmpOp = "<="
	OpGt  CmpOp = ">"
	OpGte CmpOp = ">="
)

// Column references a (possibly qualified) column, used both as the left
// side of a comparison and as a value reference for join predicates across
// tables ("column of other tables").
type Column struct {
	Table string // empty means unqualified; resolved by scope
	Name  string
}

// Cmp is `column op value`, where Value may be a literal or another Column
// (enabling join predicates like a.id = b.a_id).
type Cmp struct {
	Col Column
	Op  CmpOp
	Val any
}

func (Cmp) isExpr() {}

// IsNull is `column IS [NOT] NULL`.
type IsNull struct {
	Col Column
	Not bool
}

func (IsNull) isExpr() {}

// In is `column IN (list)` or `column IN (subquery)`. Exactly one of List or
// SubQuery is set.
type In struct {
	Col      Column
	List     []any
	SubQuery *Query
	Not      bool
}

func (In) isExpr() {}

// Between is `column BETWEEN low AND high`.
type Between struct {
	Col  Column
	Low  any
	High any
	Not  bool
}

func (Between) isExpr() {}

// Like is `column LIKE pattern`.
type Like struct {
	Col     Column
	Pattern string
	Not     bool
}

func (Like) isExpr() {}

// Raw is an escape hatch for a fragment of SQL the builder cannot express
// structurally; it contributes no entries to the dependency analyzer's
// column set (spec.md §4.3 "Unknown columns ... excluded").
type Raw struct {
	SQL  string
	Args []any
}

func (Raw) isExpr() {}

// And/Or are n-ary boolean combinators.
type And struct{ Exprs []Expr }

func (And) isExpr() {}

type Or struct{ Exprs []Expr }

func (Or) isExpr() {}

// Not negates a single expression (distinct from the Not fields on IsNull/
// In/Between/Like, which render as the negated operator itself).
type Not struct{ Expr Expr }

func (Not) isExpr() {}
