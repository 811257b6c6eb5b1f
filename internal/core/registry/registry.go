// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package registry implements the person/location consistency engine: a small
relational aggregate store that derives a JSON Merge Patch event for every
mutation and publishes it through an in-process broker and an SSE transport.

Architecture:

  - Aggregate state (Person, Location) and event state (PersonEvent,
    LocationEvent) are two views of the same underlying mutation, written
    atomically by the [Aggregator] in a single Store transaction.
  - Every write advances a single monotonic revision counter shared by
    both event streams, so a consumer that has seen person-events up to
    revision N and location-events up to revision N has a causally
    consistent snapshot of the whole registry.
  - The [Broker] is a wake-up signal, not a buffer: it never stores events
    itself. Subscribers always re-read the [Store] after being woken.
  - A PersonEvent's Patch is a JSON object keyed by person ID, not a patch
    for a single person: deleting someone clears their former spouse's
    SpouseID in the same revision, so one row can carry both sides.

This mirrors the comic catalogue's "aggregate + service + store" layering,
generalized to a domain with two related aggregates instead of one.
*/
package registry

import (
	"encoding/json"
	"time"
)

// # Aggregate Types

// Person is a single resident of the registry. ID is never serialized as a
// field: callers observe it only as the key of the person aggregate map
// (see [Handler.listPersons]).
//
// City and SpouseID are optional: a person may be unplaced (no city) and
// unmarried (no spouse). Name is always present — PATCH explicitly refuses
// to null it out (see [rejectsNameNull]).
type Person struct {
	ID       uint64  `json:"-"`
	Name     string  `json:"name"`
	City     *string `json:"city,omitempty"`
	SpouseID *uint64 `json:"spouseId,omitempty"`
}

// Location is the per-city aggregate derived from the set of persons
// currently residing there. City is never serialized as a field; it is the
// key of the location aggregate map.
type Location struct {
	City string `json:"-"`

	// Total is the number of persons whose City equals this Location's City.
	Total uint64 `json:"total"`

	// Married is the number of those residents who have a spouse. It is a
	// public, documented field exercised directly by the HTTP surface and
	// by [deriveLocationChange] — not an internal bookkeeping leftover.
	Married uint64 `json:"married"`
}

// PersonEvent is a single outbox row. Patch is a JSON object whose keys are
// decimal person IDs and whose values are either a merge-patch object
// (create/update) or JSON null (deletion) — never a patch for just one
// person, since a spouse transition touches both sides in one revision.
type PersonEvent struct {
	Revision  uint64          `json:"revision"`
	Patch     json.RawMessage `json:"patch"`
	CreatedAt time.Time       `json:"-"`
}

// LocationEvent is a single outbox row for the location aggregate, keyed by
// city name rather than a numeric ID. A command that leaves every affected
// city's total/married unchanged produces no LocationEvent row at all (see
// [deriveLocationChange]).
type LocationEvent struct {
	Revision  uint64          `json:"revision"`
	Patch     json.RawMessage `json:"patch"`
	CreatedAt time.Time       `json:"-"`
}

// # Commands

// CreatePersonCommand creates a new person. City and SpouseID are optional.
type CreatePersonCommand struct {
	Name     string  `json:"name"`
	City     *string `json:"city,omitempty"`
	SpouseID *uint64 `json:"spouseId,omitempty"`
}

// PatchPersonCommand applies an RFC 7396 JSON Merge Patch to an existing
// person. The raw patch is preserved verbatim: the Aggregator both applies
// it to compute the new aggregate state and, after validation, re-emits it
// unchanged as the PersonEvent payload for this id.
type PatchPersonCommand struct {
	PersonID uint64
	Patch    json.RawMessage
}

// DeletePersonCommand removes a person from the registry.
type DeletePersonCommand struct {
	PersonID uint64
}

// # Field Name Constants
//
// Used by command validation and by patch inspection (e.g. rejecting a
// PATCH that attempts to null out "name").

const (
	FieldName     = "name"
	FieldCity     = "city"
	FieldSpouseID = "spouseId"
)
