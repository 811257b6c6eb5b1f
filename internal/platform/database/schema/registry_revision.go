package schema

// RevisionTable represents the 'registry.revision' table: a single row
// holding the monotonic counter the rest of the schema is versioned against.
type RevisionTable struct {
	Table string
	ID    string
	Value string
}

// Revision is the schema definition for registry.revision.
var Revision = RevisionTable{
	Table: "registry.revision",
	ID:    "id",
	Value: "value",
}

func (t RevisionTable) Columns() []string {
	return []string{t.ID, t.Value}
}
