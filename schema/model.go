package schema

// RelationKind distinguishes base tables from views.
type RelationKind string

const (
	KindTable RelationKind = "table"
	KindView  RelationKind = "view"
)

// Table is one relation read from the catalog of a single schema.
type Table struct {
	Schema  string
	Name    string
	Kind    RelationKind
	Columns []Column
}

// QualifiedName returns schema.name.
func (t Table) QualifiedName() string {
	return t.Schema + "." + t.Name
}

// PrimaryKey returns the primary key columns in ordinal order.
func (t Table) PrimaryKey() []Column {
	var pk []Column
	for _, c := range t.Columns {
		if c.PrimaryKey {
			pk = append(pk, c)
		}
	}
	return pk
}

type Column struct {
	Name       string
	Ordinal    int
	DataType   string // information_schema data_type, e.g. "character varying", "ARRAY"
	UDTName    string // underlying type name, e.g. "varchar", "_int4"
	Nullable   bool
	PrimaryKey bool
	Default    *string
	MaxLength  *int
}

// TypeName returns the name used for type matching: the udt name when the
// catalog provides one, the data type otherwise.
func (c Column) TypeName() string {
	if c.UDTName != "" {
		return c.UDTName
	}
	return c.DataType
}
