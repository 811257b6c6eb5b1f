package schema

// PersonTable represents the 'registry.person' table.
type PersonTable struct {
	Table    string
	ID       string
	Name     string
	City     string
	SpouseID string
}

// Person is the schema definition for registry.person.
var Person = PersonTable{
	Table:    "registry.person",
	ID:       "id",
	Name:     "name",
	City:     "city",
	SpouseID: "spouse_id",
}

func (t PersonTable) Columns() []string {
	return []string{t.ID, t.Name, t.City, t.SpouseID}
}
