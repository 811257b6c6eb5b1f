// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package registry

import (
	"bytes"
	"encoding/json"

	jsonpatch "github.com/evanphx/json-patch"

	"github.com/taibuivan/registry/internal/platform/apperr"
)

// nullJSON is the RFC 7396 merge-patch tombstone used for PersonEvent and
// LocationEvent entries that record a deletion rather than a field change.
var nullJSON = json.RawMessage("null")

// emptyObjectJSON is what [jsonpatch.CreateMergePatch] returns when the two
// documents it compares are identical — treated the same as "no change".
var emptyObjectJSON = json.RawMessage("{}")

// rejectsNameNull inspects a raw PATCH payload for an explicit "name": null
// and rejects it before the Aggregator opens its transaction. A merge
// patch that nulls "name" would otherwise silently delete a field the
// domain requires every person to have.
func rejectsNameNull(patch json.RawMessage) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(patch, &fields); err != nil {
		return apperr.ValidationError("Patch body must be a JSON object")
	}

	raw, present := fields[FieldName]
	if present && bytes.Equal(bytes.TrimSpace(raw), nullJSON) {
		return apperr.ValidationError("name cannot be removed via PATCH",
			apperr.FieldError{Field: FieldName, Message: "must not be null"})
	}
	return nil
}

// applyPersonPatch merges a raw JSON Merge Patch onto the current person
// state and returns the resulting aggregate. A nil before is treated as an
// empty object.
//
// This is used to compute the *after* state for location recomputation; the
// persisted PersonEvent payload is the literal patch input, not a diff of
// this result (see [buildEventPatch]).
func applyPersonPatch(before *Person, patch json.RawMessage) (*Person, error) {
	beforeJSON := []byte(`{}`)
	if before != nil {
		var err error
		beforeJSON, err = json.Marshal(before)
		if err != nil {
			return nil, err
		}
	}

	mergedJSON, err := jsonpatch.MergePatch(beforeJSON, patch)
	if err != nil {
		return nil, apperr.ValidationError("Invalid JSON Merge Patch body")
	}

	after := &Person{}
	if err := json.Unmarshal(mergedJSON, after); err != nil {
		return nil, apperr.ValidationError("Invalid JSON Merge Patch body")
	}
	return after, nil
}

// spousePatch builds the synthetic single-field merge patch applied to a
// spouse counterpart: {"spouseId": id} to install the pairing, or
// {"spouseId": null} to clear it.
func spousePatch(spouseID *uint64) json.RawMessage {
	raw, err := json.Marshal(struct {
		SpouseID *uint64 `json:"spouseId"`
	}{SpouseID: spouseID})
	if err != nil {
		// Marshaling a fixed, small struct of primitive types cannot fail.
		panic(err)
	}
	return raw
}

// buildEventPatch assembles a PersonEvent or LocationEvent's Patch field: a
// JSON object keyed by decimal person ID or city name, mapping each touched
// key to either its merge-patch value or null for deletion. A single person
// command may touch up to two ids (self and spouse counterpart) in one
// revision.
func buildEventPatch(entries map[string]json.RawMessage) (json.RawMessage, error) {
	return json.Marshal(entries)
}

// deriveLocationChange computes the merge-patch value for one city's entry
// in a LocationEvent, or (nil, nil) if nothing about that city changed and
// no entry should be emitted at all.
//
//   - before == nil && after == nil: city was never touched; no entry.
//   - after == nil: the city's last resident left; entry is the deletion
//     tombstone.
//   - before == nil: the city just gained its first resident; entry is the
//     full {total, married} object.
//   - otherwise: entry is the subset of {total, married} that changed.
func deriveLocationChange(before, after *Location) (json.RawMessage, error) {
	switch {
	case before == nil && after == nil:
		return nil, nil
	case after == nil:
		return nullJSON, nil
	case before == nil:
		return json.Marshal(after)
	}

	beforeJSON, err := json.Marshal(before)
	if err != nil {
		return nil, err
	}
	afterJSON, err := json.Marshal(after)
	if err != nil {
		return nil, err
	}
	if bytes.Equal(beforeJSON, afterJSON) {
		return nil, nil
	}

	patch, err := jsonpatch.CreateMergePatch(beforeJSON, afterJSON)
	if err != nil {
		return nil, err
	}
	if bytes.Equal(bytes.TrimSpace(patch), emptyObjectJSON) {
		return nil, nil
	}
	return patch, nil
}
