package schema

// LocationEventTable represents the 'registry.location_event' outbox table.
// Patch is a JSON object keyed by city name, mapping each affected city to
// its merge-patch value or null for deletion.
type LocationEventTable struct {
	Table     string
	Revision  string
	Patch     string
	CreatedAt string
}

// LocationEvent is the schema definition for registry.location_event.
var LocationEvent = LocationEventTable{
	Table:     "registry.location_event",
	Revision:  "revision",
	Patch:     "patch",
	CreatedAt: "created_at",
}

func (t LocationEventTable) Columns() []string {
	return []string{t.Revision, t.Patch, t.CreatedAt}
}
