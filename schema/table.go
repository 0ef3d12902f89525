package schema

// Key distinguishes the kinds of key declarable on a table.
type KeyKind int

const (
	KeyPrimary KeyKind = iota
	KeyUnique
	KeyIndex
)

// Key is a primary/unique/indexed key over one or more columns.
type Key struct {
	Kind    KeyKind
	Name    string
	Columns []string
}

// CascadePolicy governs what happens to dependent rows when a referenced row
// is deleted, per spec.md §9 "Cyclic graphs (relationships)".
type CascadePolicy int

const (
	CascadeRestrict CascadePolicy = iota
	CascadeCascade
)

// Reference is a foreign key from Table.Column to Referenced.Column.
type Reference struct {
	Column     string
	Referenced string // referenced table name
	RefColumn  string // referenced column name, defaults to system_id
	Policy     CascadePolicy
}

// Table is the declared shape of one relational table.
type Table struct {
	Name       string
	Columns    []Column
	Keys       []Key
	References []Reference
	// System marks a library-internal table (e.g. the dirty-row journal, the
	// fileset registry). System tables are not augmented with system columns
	// and are invisible to the query dependency analyzer's table enumeration
	// unless explicitly queried.
	System bool
}

// Column looks up a column by name, returning nil if absent.
func (t *Table) Column(name string) *Column {
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			return &t.Columns[i]
		}
	}
	return nil
}

// LWWColumns returns the names of all LWW-flagged columns, in declaration order.
func (t *Table) LWWColumns() []string {
	var names []string
	for _, c := range t.Columns {
		if c.LWW {
			names = append(names, c.Name)
		}
	}
	return names
}

// PrimaryKeyColumns returns the columns of the table's primary key, or nil if
// the table declares none (a library-augmented table always has one on
// system_id once WithSystemColumns runs).
func (t *Table) PrimaryKeyColumns() []string {
	for _, k := range t.Keys {
		if k.Kind == KeyPrimary {
			return k.Columns
		}
	}
	return nil
}

// WithSystemColumns returns a copy of t with the system columns and LWW
// shadow columns appended, and a primary key on system_id added if none of
// kind KeyPrimary is already declared. It is idempotent: calling it twice
// does not duplicate columns.
func (t Table) WithSystemColumns() Table {
	if t.System {
		return t
	}

	out := t
	out.Columns = append([]Column{}, t.Columns...)
	out.Keys = append([]Key{}, t.Keys...)

	for _, sc := range systemColumns() {
		if out.Column(sc.Name) == nil {
			out.Columns = append(out.Columns, sc)
		}
	}
	for _, name := range t.LWWColumns() {
		shadow := HLCShadowColumn(name)
		if out.Column(shadow) == nil {
			out.Columns = append(out.Columns, Column{Name: shadow, Storage: StorageText})
		}
	}

	hasPK := false
	for _, k := range out.Keys {
		if k.Kind == KeyPrimary {
			hasPK = true
			break
		}
	}
	if !hasPK {
		out.Keys = append(out.Keys, Key{Kind: KeyPrimary, Columns: []string{SystemID}})
	}
	return out
}

// View is a declared SQL view plus a structured column list used by the
// query dependency analyzer instead of parsing the view's SQL text.
type View struct {
	Name       string
	Definition string   // SQL SELECT statement, opaque to the library
	Columns    []string // structured column list for dependency analysis
	// Sources lists the tables/views this view reads, for the dependency
	// analyzer's transitive table-set computation (schema.ExpandView).
	Sources []string
}

// Schema is the full declared shape of a database: tables and views. View
// expansions are resolved from each View's Sources (see ExpandView) during
// dependency analysis and migration planning.
type Schema struct {
	Tables []Table
	Views  []View
}

// Table looks up a declared table by name.
func (s *Schema) Table(name string) *Table {
	for i := range s.Tables {
		if s.Tables[i].Name == name {
			return &s.Tables[i]
		}
	}
	return nil
}

// View looks up a declared view by name.
func (s *Schema) View(name string) *View {
	for i := range s.Views {
		if s.Views[i].Name == name {
			return &s.Views[i]
		}
	}
	return nil
}

// ExpandView returns the tables and columns read by a named view, resolved
// transitively through nested views. Unknown view names yield ok=false.
func (s *Schema) ExpandView(name string) (tables []string, columns []string, ok bool) {
	v := s.View(name)
	if v == nil {
		return nil, nil, false
	}

	seen := map[string]bool{}
	var tbls []string
	var walk func(n string)
	walk = func(n string) {
		if seen[n] {
			return
		}
		seen[n] = true
		if view := s.View(n); view != nil {
			for _, src := range view.Sources {
				walk(src)
			}
			return
		}
		tbls = append(tbls, n)
	}
	for _, src := range v.Sources {
		walk(src)
	}
	return tbls, v.Columns, true
}
