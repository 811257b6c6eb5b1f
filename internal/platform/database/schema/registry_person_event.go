package schema

// PersonEventTable represents the 'registry.person_event' outbox table.
// Patch is a JSON object keyed by decimal person ID (not a single person's
// patch) so that a spouse transition can record both sides in one row.
type PersonEventTable struct {
	Table     string
	Revision  string
	Patch     string
	CreatedAt string
}

// PersonEvent is the schema definition for registry.person_event.
var PersonEvent = PersonEventTable{
	Table:     "registry.person_event",
	Revision:  "revision",
	Patch:     "patch",
	CreatedAt: "created_at",
}

func (t PersonEventTable) Columns() []string {
	return []string{t.Revision, t.Patch, t.CreatedAt}
}
