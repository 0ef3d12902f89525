package query

import (
	"fmt"
	"strings"

	"github.com/declarative-sqlite/dsqlite/schema"
)

// Render compiles q into a parameterized SQL statement and its positional
// arguments. It is a pure structural translation: no SQL text is parsed,
// only emitted, keeping the builder's AST the single source of truth for
// both execution and dependency analysis (spec.md §1 Non-goals).
func Render(q *Query) (string, []any, error) {
	var b strings.Builder
	var args []any

	b.WriteString("SELECT ")
	if q.Distinct {
		b.WriteString("DISTINCT ")
	}
	cols, colArgs, err := renderSelectList(q.Select)
	if err != nil {
		return "", nil, err
	}
	b.WriteString(cols)
	args = append(args, colArgs...)

	b.WriteString(" FROM ")
	fromSQL, fromArgs, err := renderSource(q.From)
	if err != nil {
		return "", nil, err
	}
	b.WriteString(fromSQL)
	args = append(args, fromArgs...)

	for _, j := range q.Joins {
		b.WriteString(" ")
		b.WriteString(joinKeyword(j.Kind))
		b.WriteString(" ")
		joinSQL, joinArgs, err := renderSource(j.Source)
		if err != nil {
			return "", nil, err
		}
		b.WriteString(joinSQL)
		args = append(args, joinArgs...)
		if j.On != nil {
			onSQL, onArgs, err := renderExpr(j.On)
			if err != nil {
				return "", nil, err
			}
			b.WriteString(" ON ")
			b.WriteString(onSQL)
			args = append(args, onArgs...)
		}
	}

	if q.Where != nil {
		whereSQL, whereArgs, err := renderExpr(q.Where)
		if err != nil {
			return "", nil, err
		}
		b.WriteString(" WHERE ")
		b.WriteString(whereSQL)
		args = append(args, whereArgs...)
	}

	if len(q.GroupBy) > 0 {
		b.WriteString(" GROUP BY ")
		b.WriteString(joinColumns(q.GroupBy))
	}
	if q.Having != nil {
		havingSQL, havingArgs, err := renderExpr(q.Having)
		if err != nil {
			return "", nil, err
		}
		b.WriteString(" HAVING ")
		b.WriteString(havingSQL)
		args = append(args, havingArgs...)
	}
	if len(q.OrderBy) > 0 {
		var parts []string
		for _, o := range q.OrderBy {
			dir := "ASC"
			if o.Desc {
				dir = "DESC"
			}
			parts = append(parts, renderColumn(o.Col)+" "+dir)
		}
		b.WriteString(" ORDER BY ")
		b.WriteString(strings.Join(parts, ", "))
	}
	if q.HasLimit {
		fmt.Fprintf(&b, " LIMIT %d", q.Limit)
	}
	if q.HasOffset {
		fmt.Fprintf(&b, " OFFSET %d", q.Offset)
	}

	return b.String(), args, nil
}

func renderSelectList(items []SelectItem) (string, []any, error) {
	if len(items) == 0 {
		return "*", nil, nil
	}
	var parts []string
	var args []any
	for _, item := range items {
		switch {
		case item.Wildcard:
			if item.Col.Table != "" {
				parts = append(parts, schema.QuoteIdent(item.Col.Table)+".*")
			} else {
				parts = append(parts, "*")
			}
		case item.SubQuery != nil:
			sub, subArgs, err := Render(item.SubQuery)
			if err != nil {
				return "", nil, err
			}
			args = append(args, subArgs...)
			expr := "(" + sub + ")"
			if item.Alias != "" {
				expr += " AS " + schema.QuoteIdent(item.Alias)
			}
			parts = append(parts, expr)
		case item.Raw != "":
			expr := item.Raw
			if item.Alias != "" {
				expr += " AS " + schema.QuoteIdent(item.Alias)
			}
			parts = append(parts, expr)
		default:
			expr := renderColumn(item.Col)
			if item.Alias != "" {
				expr += " AS " + schema.QuoteIdent(item.Alias)
			}
			parts = append(parts, expr)
		}
	}
	return strings.Join(parts, ", "), args, nil
}

func renderSource(s Source) (string, []any, error) {
	if s.SubQuery != nil {
		sub, args, err := Render(s.SubQuery)
		if err != nil {
			return "", nil, err
		}
		sql := "(" + sub + ")"
		if s.Alias != "" {
			sql += " AS " + schema.QuoteIdent(s.Alias)
		}
		return sql, args, nil
	}
	sql := schema.QuoteIdent(s.Table)
	if s.Alias != "" {
		sql += " AS " + schema.QuoteIdent(s.Alias)
	}
	return sql, nil, nil
}

func joinKeyword(k JoinKind) string {
	switch k {
	case JoinLeft:
		return "LEFT JOIN"
	case JoinRight:
		return "RIGHT JOIN"
	case JoinFull:
		return "FULL JOIN"
	case JoinCross:
		return "CROSS JOIN"
	default:
		return "JOIN"
	}
}

func renderColumn(c Column) string {
	if c.Table != "" {
		return schema.QuoteIdent(c.Table) + "." + schema.QuoteIdent(c.Name)
	}
	return schema.QuoteIdent(c.Name)
}

func joinColumns(cols []Column) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = renderColumn(c)
	}
	return strings.Join(parts, ", ")
}

// RenderExpr renders a standalone Expr (e.g. a write path's WHERE clause)
// to SQL with `?` placeholders, returning the bound argument values in
// left-to-right order.
func RenderExpr(e Expr) (string, []any, error) {
	return renderExpr(e)
}

// renderExpr renders e to SQL with `?` placeholders, returning the bound
// argument values in left-to-right order.
func renderExpr(e Expr) (string, []any, error) {
	switch x := e.(type) {
	case Cmp:
		left := renderColumn(x.Col)
		if vc, ok := x.Val.(Column); ok {
			return fmt.Sprintf("%s %s %s", left, string(x.Op), renderColumn(vc)), nil, nil
		}
		return fmt.Sprintf("%s %s ?", left, string(x.Op)), []any{x.Val}, nil
	case IsNull:
		op := "IS NULL"
		if x.Not {
			op = "IS NOT NULL"
		}
		return fmt.Sprintf("%s %s", renderColumn(x.Col), op), nil, nil
	case In:
		col := renderColumn(x.Col)
		op := "IN"
		if x.Not {
			op = "NOT IN"
		}
		if x.SubQuery != nil {
			sub, args, err := Render(x.SubQuery)
			if err != nil {
				return "", nil, err
			}
			return fmt.Sprintf("%s %s (%s)", col, op, sub), args, nil
		}
		placeholders := make([]string, len(x.List))
		for i := range x.List {
			placeholders[i] = "?"
		}
		return fmt.Sprintf("%s %s (%s)", col, op, strings.Join(placeholders, ", ")), x.List, nil
	case Between:
		op := "BETWEEN"
		if x.Not {
			op = "NOT BETWEEN"
		}
		return fmt.Sprintf("%s %s ? AND ?", renderColumn(x.Col), op), []any{x.Low, x.High}, nil
	case Like:
		op := "LIKE"
		if x.Not {
			op = "NOT LIKE"
		}
		return fmt.Sprintf("%s %s ?", renderColumn(x.Col), op), []any{x.Pattern}, nil
	case Raw:
		return x.SQL, x.Args, nil
	case And:
		return renderBoolCombinator(x.Exprs, "AND")
	case Or:
		return renderBoolCombinator(x.Exprs, "OR")
	case Not:
		inner, args, err := renderExpr(x.Expr)
		if err != nil {
			return "", nil, err
		}
		return "NOT (" + inner + ")", args, nil
	default:
		return "", nil, fmt.Errorf("query: render: unsupported expression type %T", e)
	}
}

func renderBoolCombinator(exprs []Expr, joiner string) (string, []any, error) {
	if len(exprs) == 0 {
		return "1=1", nil, nil
	}
	var parts []string
	var args []any
	for _, sub := range exprs {
		sql, subArgs, err := renderExpr(sub)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, "("+sql+")")
		args = append(args, subArgs...)
	}
	return strings.Join(parts, " "+joiner+" "), args, nil
}
