package schema

// LocationTable represents the 'registry.location' table, one row per city
// with residents, holding the derived population/married aggregates.
type LocationTable struct {
	Table   string
	City    string
	Total   string
	Married string
}

// Location is the schema definition for registry.location.
var Location = LocationTable{
	Table:   "registry.location",
	City:    "city",
	Total:   "total",
	Married: "married",
}

func (t LocationTable) Columns() []string {
	return []string{t.City, t.Total, t.Married}
}
