// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package registry's command processor. Aggregator wraps every mutating
command in exactly one [Store.RunInTransaction] call: bump revision, apply
the person mutation (and its spouse side effect), recompute every affected
location row, append the corresponding outbox events, commit, then notify
the [Broker]. This mirrors the comic catalogue's Service{repo, logger}
shape, generalized to a domain with two related aggregates instead of one.
*/
package registry

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"

	"github.com/taibuivan/registry/internal/platform/apperr"
	"github.com/taibuivan/registry/internal/platform/validate"
	"github.com/taibuivan/registry/pkg/pointer"
)

// Notifier is the subset of [Broker] the Aggregator depends on. Kept as an
// interface so unit tests can substitute a no-op.
type Notifier interface {
	Notify(revision uint64)
}

// Aggregator orchestrates person/location mutations and their event outbox.
type Aggregator struct {
	store    Store
	notifier Notifier
	logger   *slog.Logger
}

// NewAggregator constructs an [Aggregator] with its required collaborators.
func NewAggregator(store Store, notifier Notifier, logger *slog.Logger) *Aggregator {
	return &Aggregator{store: store, notifier: notifier, logger: logger}
}

// # Reads
//
// Reads never participate in a write transaction; they observe whatever
// committed state is current and report the revision it was taken at.

// ListPersons returns every person keyed by decimal ID, with the revision
// the snapshot was taken at.
func (a *Aggregator) ListPersons(ctx context.Context) (map[string]*Person, uint64, error) {
	revision, err := a.store.CurrentRevision(ctx)
	if err != nil {
		return nil, 0, err
	}
	persons, err := a.store.ListPersons(ctx)
	if err != nil {
		return nil, 0, err
	}

	result := make(map[string]*Person, len(persons))
	for _, person := range persons {
		result[strconv.FormatUint(person.ID, 10)] = person
	}
	return result, revision, nil
}

// ListLocations returns every location keyed by city name, with the
// revision the snapshot was taken at.
func (a *Aggregator) ListLocations(ctx context.Context) (map[string]*Location, uint64, error) {
	revision, err := a.store.CurrentRevision(ctx)
	if err != nil {
		return nil, 0, err
	}
	locations, err := a.store.ListLocations(ctx)
	if err != nil {
		return nil, 0, err
	}

	result := make(map[string]*Location, len(locations))
	for _, location := range locations {
		result[location.City] = location
	}
	return result, revision, nil
}

// # Commands

/*
CreatePerson inserts a new person, optionally pairing them with an existing,
unmarried spouse and/or growing a location's aggregate.

Protocol: validate the spouse reference, allocate a dense person ID,
install the spouse pairing if requested, upsert the person row, bump
revision, append the person event (always), recompute every affected city
and append location events for cities whose counts actually changed,
commit, then notify.
*/
func (a *Aggregator) CreatePerson(ctx context.Context, cmd CreatePersonCommand) (uint64, uint64, error) {
	validator := &validate.Validator{}
	validator.Required(FieldName, cmd.Name)
	if err := validator.Err(); err != nil {
		return 0, 0, err
	}

	var personID, revision uint64
	err := a.store.RunInTransaction(ctx, func(tx Tx) error {
		// Validate the spouse reference before allocating a person ID:
		// sequence advancement is not rolled back with the transaction, so
		// consuming an ID ahead of a validation failure would leave a gap
		// in the dense ID space.
		if cmd.SpouseID != nil {
			if _, err := validateSpouseCandidate(ctx, tx, 0, *cmd.SpouseID); err != nil {
				return err
			}
		}

		var err error
		personID, err = tx.NextPersonID(ctx)
		if err != nil {
			return err
		}

		after := &Person{ID: personID, Name: cmd.Name, City: cmd.City}

		entries := map[string]json.RawMessage{}
		cities := newCityTracker()
		cities.add(cmd.City)

		if cmd.SpouseID != nil {
			if err := a.applySpouseTransition(ctx, tx, personID, nil, cmd.SpouseID, entries, cities); err != nil {
				return err
			}
			after.SpouseID = cmd.SpouseID
		}

		if err := tx.UpsertPerson(ctx, after); err != nil {
			return err
		}

		personPatch, err := json.Marshal(struct {
			Name     string  `json:"name"`
			City     *string `json:"city,omitempty"`
			SpouseID *uint64 `json:"spouseId,omitempty"`
		}{Name: cmd.Name, City: cmd.City, SpouseID: cmd.SpouseID})
		if err != nil {
			return err
		}
		entries[strconv.FormatUint(personID, 10)] = personPatch

		revision, err = tx.NextRevision(ctx)
		if err != nil {
			return err
		}

		if err := a.appendPersonEvent(ctx, tx, revision, entries); err != nil {
			return err
		}

		for _, city := range cities.list() {
			if err := a.recomputeCity(ctx, tx, revision, city); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}

	a.logger.Info("person_created", slog.Uint64("person_id", personID), slog.Uint64("revision", revision))
	a.notifier.Notify(revision)
	return personID, revision, nil
}

/*
PatchPerson applies a JSON Merge Patch to an existing person, installing or
clearing a spouse pairing symmetrically when spouseId changes.
*/
func (a *Aggregator) PatchPerson(ctx context.Context, cmd PatchPersonCommand) (uint64, error) {
	if err := rejectsNameNull(cmd.Patch); err != nil {
		return 0, err
	}

	var revision uint64
	err := a.store.RunInTransaction(ctx, func(tx Tx) error {
		before, err := tx.GetPerson(ctx, cmd.PersonID)
		if err != nil {
			return err
		}

		after, err := applyPersonPatch(before, cmd.Patch)
		if err != nil {
			return err
		}
		after.ID = before.ID

		validator := &validate.Validator{}
		validator.Required(FieldName, after.Name)
		if err := validator.Err(); err != nil {
			return err
		}

		entries := map[string]json.RawMessage{strconv.FormatUint(cmd.PersonID, 10): cmd.Patch}
		cities := newCityTracker()
		cities.add(before.City)
		cities.add(after.City)

		if !sameSpouse(before.SpouseID, after.SpouseID) {
			if err := a.applySpouseTransition(ctx, tx, cmd.PersonID, before.SpouseID, after.SpouseID, entries, cities); err != nil {
				return err
			}
		}

		if err := tx.UpsertPerson(ctx, after); err != nil {
			return err
		}

		revision, err = tx.NextRevision(ctx)
		if err != nil {
			return err
		}

		if err := a.appendPersonEvent(ctx, tx, revision, entries); err != nil {
			return err
		}

		for _, city := range cities.list() {
			if err := a.recomputeCity(ctx, tx, revision, city); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	a.logger.Info("person_patched", slog.Uint64("person_id", cmd.PersonID), slog.Uint64("revision", revision))
	a.notifier.Notify(revision)
	return revision, nil
}

/*
DeletePerson removes a person and, if they were married, clears their
spouse's pairing in the same transaction.
*/
func (a *Aggregator) DeletePerson(ctx context.Context, cmd DeletePersonCommand) (uint64, error) {
	var revision uint64
	err := a.store.RunInTransaction(ctx, func(tx Tx) error {
		before, err := tx.GetPerson(ctx, cmd.PersonID)
		if err != nil {
			return err
		}

		entries := map[string]json.RawMessage{strconv.FormatUint(cmd.PersonID, 10): nullJSON}
		cities := newCityTracker()
		cities.add(before.City)

		if before.SpouseID != nil {
			if err := a.applySpouseTransition(ctx, tx, cmd.PersonID, before.SpouseID, nil, entries, cities); err != nil {
				return err
			}
		}

		if err := tx.DeletePerson(ctx, cmd.PersonID); err != nil {
			return err
		}

		revision, err = tx.NextRevision(ctx)
		if err != nil {
			return err
		}

		if err := a.appendPersonEvent(ctx, tx, revision, entries); err != nil {
			return err
		}

		for _, city := range cities.list() {
			if err := a.recomputeCity(ctx, tx, revision, city); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	a.logger.Warn("person_deleted", slog.Uint64("person_id", cmd.PersonID), slog.Uint64("revision", revision))
	a.notifier.Notify(revision)
	return revision, nil
}

// # Internal Helpers

// applySpouseTransition installs or clears a symmetric spouse pairing,
// folds the counterpart's own patch entry into entries, and records the
// counterpart's city in cities so its married count gets recomputed too.
func (a *Aggregator) applySpouseTransition(ctx context.Context, tx Tx, personID uint64, oldSpouse, newSpouse *uint64, entries map[string]json.RawMessage, cities *cityTracker) error {
	if oldSpouse != nil {
		former, err := tx.GetPerson(ctx, *oldSpouse)
		if err == nil {
			former.SpouseID = nil
			if err := tx.UpsertPerson(ctx, former); err != nil {
				return err
			}
			entries[strconv.FormatUint(former.ID, 10)] = spousePatch(nil)
			cities.add(former.City)
		} else if !apperr.IsNotFound(err) {
			return err
		}
	}

	if newSpouse == nil {
		return nil
	}

	candidate, err := validateSpouseCandidate(ctx, tx, personID, *newSpouse)
	if err != nil {
		return err
	}

	candidate.SpouseID = pointer.To(personID)
	if err := tx.UpsertPerson(ctx, candidate); err != nil {
		return err
	}
	entries[strconv.FormatUint(candidate.ID, 10)] = spousePatch(pointer.To(personID))
	cities.add(candidate.City)
	return nil
}

// validateSpouseCandidate loads spouseID and verifies it exists and is free
// to pair with personID (either unmarried, or already married to
// personID). personID == 0 is used by CreatePerson, where the acting
// person has no ID yet and so can never be the candidate's existing
// spouse.
func validateSpouseCandidate(ctx context.Context, tx Tx, personID, spouseID uint64) (*Person, error) {
	candidate, err := tx.GetPerson(ctx, spouseID)
	if err != nil {
		if apperr.IsNotFound(err) {
			return nil, apperr.ValidationError("spouseId does not reference an existing person",
				apperr.FieldError{Field: FieldSpouseID, Message: "person not found"})
		}
		return nil, err
	}
	if candidate.SpouseID != nil && *candidate.SpouseID != personID {
		return nil, apperr.Conflict("spouseId is already married to someone else")
	}
	return candidate, nil
}

// recomputeCity re-derives a city's Location row from the current person
// table and, if anything about it changed, upserts/deletes the row and
// appends a LocationEvent entry for this revision.
func (a *Aggregator) recomputeCity(ctx context.Context, tx Tx, revision uint64, city string) error {
	before, err := tx.GetLocation(ctx, city)
	if err != nil {
		if !apperr.IsNotFound(err) {
			return err
		}
		before = nil
	}

	total, married, err := a.countResidents(ctx, tx, city)
	if err != nil {
		return err
	}

	var after *Location
	if total > 0 {
		after = &Location{City: city, Total: total, Married: married}
	}

	changeValue, err := deriveLocationChange(before, after)
	if err != nil {
		return err
	}
	if changeValue == nil {
		return nil
	}

	if after == nil {
		if err := tx.DeleteLocation(ctx, city); err != nil {
			return err
		}
	} else if err := tx.UpsertLocation(ctx, after); err != nil {
		return err
	}

	return a.appendLocationEvent(ctx, tx, revision, map[string]json.RawMessage{city: changeValue})
}

// countResidents derives a city's total/married counts from the person
// table as it stands inside the current transaction, so a just-upserted
// or just-deleted row is reflected before commit.
func (a *Aggregator) countResidents(ctx context.Context, tx Tx, city string) (total, married uint64, err error) {
	persons, err := tx.ListPersons(ctx)
	if err != nil {
		return 0, 0, err
	}
	for _, person := range persons {
		if person.City == nil || *person.City != city {
			continue
		}
		total++
		if person.SpouseID != nil {
			married++
		}
	}
	return total, married, nil
}

func (a *Aggregator) appendPersonEvent(ctx context.Context, tx Tx, revision uint64, entries map[string]json.RawMessage) error {
	patch, err := buildEventPatch(entries)
	if err != nil {
		return err
	}
	return tx.AppendPersonEvent(ctx, PersonEvent{Revision: revision, Patch: patch})
}

func (a *Aggregator) appendLocationEvent(ctx context.Context, tx Tx, revision uint64, entries map[string]json.RawMessage) error {
	patch, err := buildEventPatch(entries)
	if err != nil {
		return err
	}
	return tx.AppendLocationEvent(ctx, LocationEvent{Revision: revision, Patch: patch})
}

func sameSpouse(a, b *uint64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// cityTracker accumulates the distinct, non-nil cities touched by a single
// command — the acting person's own city changes plus any spouse
// counterpart's city — in first-seen order so tests are deterministic.
type cityTracker struct {
	cities []string
	seen   map[string]bool
}

func newCityTracker() *cityTracker {
	return &cityTracker{seen: make(map[string]bool, 2)}
}

func (t *cityTracker) add(city *string) {
	if city == nil || t.seen[*city] {
		return
	}
	t.seen[*city] = true
	t.cities = append(t.cities, *city)
}

func (t *cityTracker) list() []string {
	return t.cities
}
