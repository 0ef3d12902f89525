package schema

// StorageType is the underlying SQLite storage class for a column, following
// SQLite's type affinity rules (integer/real/text/blob).
type StorageType int

const (
	StorageInteger StorageType = iota
	StorageReal
	StorageText
	StorageBlob
)

func (t StorageType) String() string {
	switch t {
	case StorageInteger:
		return "INTEGER"
	case StorageReal:
		return "REAL"
	case StorageText:
		return "TEXT"
	case StorageBlob:
		return "BLOB"
	default:
		return "TEXT"
	}
}

// LogicalType overlays richer semantics on top of a storage type without
// changing how the value is stored.
type LogicalType int

const (
	LogicalNone LogicalType = iota
	LogicalGUID
	LogicalDate
	LogicalFileset
)

// Column describes one declared column of a table.
type Column struct {
	Name    string
	Storage StorageType
	Logical LogicalType

	NotNull bool
	// Default is the static SQL-level default value, mutually exclusive with
	// DefaultFunc. Stored as a driver value (string, int64, float64, []byte, nil).
	Default any
	// DefaultFunc is invoked on insert when the caller omits the column. Takes
	// precedence over Default when both are present.
	DefaultFunc func() any

	// LWW marks the column as subject to last-writer-wins conflict resolution.
	// A shadow column "<Name>__hlc" is maintained for every LWW column.
	LWW bool

	// Parent marks the column as a foreign key reference to a parent row. It is
	// informational: cascade-delete traversal (PlanCascades) follows
	// Table.References only and does not read this flag.
	Parent bool

	MinLength *int
	MaxLength *int
}

// IsSystemColumn reports whether name is one of the library-owned system columns
// added to every non-system user table.
func IsSystemColumn(name string) bool {
	switch name {
	case SystemID, SystemCreatedAt, SystemVersion, SystemIsLocalOrigin:
		return true
	default:
		return false
	}
}

// Well-known system column names, stable across the library's lifetime.
const (
	SystemID            = "system_id"
	SystemCreatedAt      = "system_created_at"
	SystemVersion        = "system_version"
	SystemIsLocalOrigin  = "system_is_local_origin"
)

// HLCShadowColumn returns the shadow column name that stores the HLC of the
// last accepted write to an LWW column.
func HLCShadowColumn(column string) string {
	return column + "__hlc"
}

// systemColumns returns the system columns appended to every declared user
// table, in the order spec.md §4.2 requires them to be created (user columns
// first, then system columns, then LWW shadows are appended separately by the
// caller once LWW columns are known).
func systemColumns() []Column {
	return []Column{
		{Name: SystemID, Storage: StorageText, NotNull: true},
		{Name: SystemCreatedAt, Storage: StorageText, NotNull: true},
		{Name: SystemVersion, Storage: StorageText, NotNull: true},
		{Name: SystemIsLocalOrigin, Storage: StorageInteger, NotNull: true},
	}
}
