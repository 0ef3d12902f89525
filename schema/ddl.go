package schema

import (
	"fmt"
	"strings"
)

// columnDDL renders a single column definition the way SQLite expects it in
// a CREATE TABLE statement.
func columnDDL(c Column) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", quoteIdent(c.Name), c.Storage.String())
	if c.NotNull {
		b.WriteString(" NOT NULL")
	}
	if c.Default != nil {
		fmt.Fprintf(&b, " DEFAULT %s", literal(c.Default))
	}
	return b.String()
}

func literal(v any) string {
	switch x := v.(type) {
	case string:
		return "'" + strings.ReplaceAll(x, "'", "''") + "'"
	case nil:
		return "NULL"
	default:
		return fmt.Sprintf("%v", x)
	}
}

// createTableDDL renders a full CREATE TABLE statement for t, including its
// keys and foreign key references but not its indexes (those are separate
// CREATE INDEX statements, via createIndexDDLs).
func createTableDDL(t Table) string {
	var cols []string
	for _, c := range t.Columns {
		cols = append(cols, "  "+columnDDL(c))
	}
	for _, k := range t.Keys {
		if k.Kind == KeyPrimary {
			cols = append(cols, fmt.Sprintf("  PRIMARY KEY (%s)", quoteIdentList(k.Columns)))
		}
	}
	for _, r := range t.References {
		refCol := r.RefColumn
		if refCol == "" {
			refCol = SystemID
		}
		clause := fmt.Sprintf("  FOREIGN KEY (%s) REFERENCES %s (%s)",
			quoteIdent(r.Column), quoteIdent(r.Referenced), quoteIdent(refCol))
		if r.Policy == CascadeCascade {
			clause += " ON DELETE CASCADE"
		} else {
			clause += " ON DELETE RESTRICT"
		}
		cols = append(cols, clause)
	}

	return fmt.Sprintf("CREATE TABLE %s (\n%s\n)", quoteIdent(t.Name), strings.Join(cols, ",\n"))
}

func createIndexDDLs(t Table) []string {
	var ddls []string
	for _, k := range t.Keys {
		switch k.Kind {
		case KeyUnique:
			name := k.Name
			if name == "" {
				name = fmt.Sprintf("%s_%s_key", t.Name, strings.Join(k.Columns, "_"))
			}
			ddls = append(ddls, fmt.Sprintf("CREATE UNIQUE INDEX %s ON %s (%s)",
				quoteIdent(name), quoteIdent(t.Name), quoteIdentList(k.Columns)))
		case KeyIndex:
			name := k.Name
			if name == "" {
				name = fmt.Sprintf("%s_%s_idx", t.Name, strings.Join(k.Columns, "_"))
			}
			ddls = append(ddls, fmt.Sprintf("CREATE INDEX %s ON %s (%s)",
				quoteIdent(name), quoteIdent(t.Name), quoteIdentList(k.Columns)))
		}
	}
	return ddls
}

func quoteIdentList(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = quoteIdent(n)
	}
	return strings.Join(quoted, ", ")
}

func createViewDDL(v View) string {
	return fmt.Sprintf("CREATE VIEW %s AS %s", quoteIdent(v.Name), v.Definition)
}
