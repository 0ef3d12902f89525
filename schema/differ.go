package schema

// Diff compares a declared Schema against an introspected live Schema and
// produces an ordered, data-preserving migration Plan (spec.md §4.2).
//
// Diff is pure: it never touches the database. Running Diff(declared,
// introspect()) a second time after applying the first plan must yield an
// empty plan (idempotence).
func Diff(declared, live *Schema) (*Plan, error) {
	plan := &Plan{}

	declaredTables := map[string]Table{}
	for _, t := range declared.Tables {
		declaredTables[t.Name] = t.WithSystemColumns()
	}
	liveTables := map[string]Table{}
	for _, t := range live.Tables {
		liveTables[t.Name] = t
	}

	toCreate := []Table{}
	toAlter := []Table{}
	for name, dt := range declaredTables {
		if _, ok := liveTables[name]; ok {
			toAlter = append(toAlter, dt)
		} else {
			toCreate = append(toCreate, dt)
		}
	}
	toCreate = orderByDependencies(toCreate)

	for _, t := range toCreate {
		plan.Steps = append(plan.Steps, createTableStep{table: t})
	}

	declaredViews := map[string]View{}
	for _, v := range declared.Views {
		declaredViews[v.Name] = v
	}
	liveViews := map[string]View{}
	for _, v := range live.Views {
		liveViews[v.Name] = v
	}
	for _, v := range orderViewsByDependencies(declared.Views) {
		if _, ok := liveViews[v.Name]; !ok {
			plan.Steps = append(plan.Steps, createViewStep{view: v})
		}
	}

	for _, dt := range orderByName(toAlter) {
		lt := liveTables[dt.Name]
		steps, err := diffTable(dt, lt)
		if err != nil {
			return nil, err
		}
		plan.Steps = append(plan.Steps, steps...)
	}

	for name := range liveViews {
		if _, ok := declaredViews[name]; !ok {
			plan.Steps = append(plan.Steps, dropViewStep{name: name})
		}
	}

	toDrop := []Table{}
	for name, lt := range liveTables {
		if _, ok := declaredTables[name]; !ok {
			toDrop = append(toDrop, lt)
		}
	}
	toDrop = orderByDependencies(toDrop)
	for i := len(toDrop) - 1; i >= 0; i-- {
		plan.Steps = append(plan.Steps, dropTableStep{name: toDrop[i].Name})
	}

	return plan, nil
}

// diffTable computes the steps required to reconcile one surviving table.
// It either emits a sequence of ADD COLUMN steps, or — if any column was
// dropped or changed shape in a way SQLite cannot ALTER in place — a single
// recreateTableStep implementing the rename-recreate-copy-drop sequence.
func diffTable(declared, live Table) ([]Step, error) {
	needsRecreate := false

	var toAdd []Column
	for _, dc := range declared.Columns {
		lc := live.Column(dc.Name)
		if lc == nil {
			if dc.NotNull && dc.Default == nil {
				return nil, newColumnError(declared.Name, dc.Name,
					"new NOT NULL column has no declared default; migration cannot preserve existing rows")
			}
			toAdd = append(toAdd, dc)
			continue
		}
		if !columnShapeEqual(dc, *lc) {
			needsRecreate = true
		}
	}
	for _, lc := range live.Columns {
		if declared.Column(lc.Name) == nil {
			needsRecreate = true // column dropped
		}
	}
	if !primaryKeyEqual(declared.PrimaryKeyColumns(), live.PrimaryKeyColumns()) {
		needsRecreate = true
	}

	if needsRecreate {
		preserved := intersectColumnNames(declared, live)
		return []Step{recreateTableStep{newTable: declared, preserved: preserved}}, nil
	}

	var steps []Step
	for _, c := range toAdd {
		steps = append(steps, addColumnStep{table: declared.Name, column: c})
	}
	return steps, nil
}

func columnShapeEqual(a, b Column) bool {
	return a.Storage == b.Storage && a.NotNull == b.NotNull
}

func primaryKeyEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func intersectColumnNames(a, b Table) []string {
	var out []string
	for _, c := range a.Columns {
		if b.Column(c.Name) != nil {
			out = append(out, c.Name)
		}
	}
	return out
}

// orderByDependencies topologically sorts tables so that a table referenced
// by another table's foreign key is created (or dropped, by the caller
// reversing the result) before its dependent.
func orderByDependencies(tables []Table) []Table {
	deps := map[string][]string{}
	for _, t := range tables {
		for _, r := range t.References {
			deps[t.Name] = append(deps[t.Name], r.Referenced)
		}
	}
	return topologicalSort(tables, deps, func(t Table) string { return t.Name })
}

func orderViewsByDependencies(views []View) []View {
	deps := map[string][]string{}
	for _, v := range views {
		deps[v.Name] = append(deps[v.Name], v.Sources...)
	}
	return topologicalSort(views, deps, func(v View) string { return v.Name })
}

// orderByName gives alter steps a deterministic, stable order for tests and
// for idempotent re-planning (map iteration order is otherwise random).
func orderByName(tables []Table) []Table {
	out := append([]Table{}, tables...)
	for i := 1; i < len(out); i++ {
		j := i
		for j > 0 && out[j-1].Name > out[j].Name {
			out[j-1], out[j] = out[j], out[j-1]
			j--
		}
	}
	return out
}
