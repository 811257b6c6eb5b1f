// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package registry_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taibuivan/registry/internal/core/registry"
	"github.com/taibuivan/registry/internal/platform/apperr"
	"github.com/taibuivan/registry/pkg/pointer"
)

func newAggregatorForTest(t *testing.T) (*registry.Aggregator, registry.Store, *registry.Broker) {
	t.Helper()
	store, err := registry.NewMemDBStore()
	require.NoError(t, err)

	broker := registry.NewBroker()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return registry.NewAggregator(store, broker, logger), store, broker
}

/*
TestAggregator_Scenarios walks an end-to-end scenario across revisions,
person aggregates, location aggregates, and the emitted event patches at
every step.
*/
func TestAggregator_Scenarios(t *testing.T) {
	aggregator, store, _ := newAggregatorForTest(t)
	ctx := context.Background()

	// S1: POST {name:"Hans",city:"Berlin"} [r=1]
	hansID, revision, err := aggregator.CreatePerson(ctx, registry.CreatePersonCommand{
		Name: "Hans", City: pointer.To("Berlin"),
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, hansID)
	assert.EqualValues(t, 1, revision)

	persons, personsRevision, err := aggregator.ListPersons(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, personsRevision)
	require.Contains(t, persons, "1")
	assert.Equal(t, "Hans", persons["1"].Name)
	assert.Equal(t, "Berlin", *persons["1"].City)

	locations, _, err := aggregator.ListLocations(ctx)
	require.NoError(t, err)
	require.Contains(t, locations, "Berlin")
	assert.EqualValues(t, 1, locations["Berlin"].Total)
	assert.EqualValues(t, 0, locations["Berlin"].Married)

	personEvents, err := store.ListPersonEvents(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, personEvents, 1)
	assert.JSONEq(t, `{"1":{"name":"Hans","city":"Berlin"}}`, string(personEvents[0].Patch))

	locationEvents, err := store.ListLocationEvents(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, locationEvents, 1)
	assert.JSONEq(t, `{"Berlin":{"total":1,"married":0}}`, string(locationEvents[0].Patch))

	// S2: POST {name:"Inge"} [r=2] — no location event.
	ingeID, revision, err := aggregator.CreatePerson(ctx, registry.CreatePersonCommand{Name: "Inge"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, ingeID)
	assert.EqualValues(t, 2, revision)

	personEvents, err = store.ListPersonEvents(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, personEvents, 1)
	assert.JSONEq(t, `{"2":{"name":"Inge"}}`, string(personEvents[0].Patch))

	locationEvents, err = store.ListLocationEvents(ctx, 1, 0)
	require.NoError(t, err)
	assert.Empty(t, locationEvents, "a command that does not touch any city must not append a LocationEvent")

	// S3: PATCH /persons/2 {"city":"Berlin"} [r=3]
	revision, err = aggregator.PatchPerson(ctx, registry.PatchPersonCommand{
		PersonID: ingeID,
		Patch:    json.RawMessage(`{"city":"Berlin"}`),
	})
	require.NoError(t, err)
	assert.EqualValues(t, 3, revision)

	locations, _, err = aggregator.ListLocations(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, locations["Berlin"].Total)
	assert.EqualValues(t, 0, locations["Berlin"].Married)

	personEvents, err = store.ListPersonEvents(ctx, 2, 0)
	require.NoError(t, err)
	assert.JSONEq(t, `{"2":{"city":"Berlin"}}`, string(personEvents[0].Patch))

	locationEvents, err = store.ListLocationEvents(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, locationEvents, 1)
	assert.JSONEq(t, `{"Berlin":{"total":2}}`, string(locationEvents[0].Patch))

	// S4: PATCH /persons/1 {"spouseId":2} [r=4]
	revision, err = aggregator.PatchPerson(ctx, registry.PatchPersonCommand{
		PersonID: hansID,
		Patch:    json.RawMessage(`{"spouseId":2}`),
	})
	require.NoError(t, err)
	assert.EqualValues(t, 4, revision)

	persons, _, err = aggregator.ListPersons(ctx)
	require.NoError(t, err)
	require.NotNil(t, persons["1"].SpouseID)
	require.NotNil(t, persons["2"].SpouseID)
	assert.EqualValues(t, 2, *persons["1"].SpouseID)
	assert.EqualValues(t, 1, *persons["2"].SpouseID)

	personEvents, err = store.ListPersonEvents(ctx, 3, 0)
	require.NoError(t, err)
	assert.JSONEq(t, `{"1":{"spouseId":2},"2":{"spouseId":1}}`, string(personEvents[0].Patch))

	locationEvents, err = store.ListLocationEvents(ctx, 3, 0)
	require.NoError(t, err)
	require.Len(t, locationEvents, 1)
	assert.JSONEq(t, `{"Berlin":{"married":2}}`, string(locationEvents[0].Patch))

	// S5: DELETE /persons/1 [r=5]
	revision, err = aggregator.DeletePerson(ctx, registry.DeletePersonCommand{PersonID: hansID})
	require.NoError(t, err)
	assert.EqualValues(t, 5, revision)

	persons, _, err = aggregator.ListPersons(ctx)
	require.NoError(t, err)
	assert.NotContains(t, persons, "1")
	require.Contains(t, persons, "2")
	assert.Nil(t, persons["2"].SpouseID)

	locations, _, err = aggregator.ListLocations(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, locations["Berlin"].Total)
	assert.EqualValues(t, 0, locations["Berlin"].Married)

	personEvents, err = store.ListPersonEvents(ctx, 4, 0)
	require.NoError(t, err)
	assert.JSONEq(t, `{"1":null,"2":{"spouseId":null}}`, string(personEvents[0].Patch))

	locationEvents, err = store.ListLocationEvents(ctx, 4, 0)
	require.NoError(t, err)
	assert.JSONEq(t, `{"Berlin":{"total":1,"married":0}}`, string(locationEvents[0].Patch))

	// Location disappears entirely once its last resident leaves.
	revision, err = aggregator.DeletePerson(ctx, registry.DeletePersonCommand{PersonID: ingeID})
	require.NoError(t, err)
	assert.EqualValues(t, 6, revision)

	locations, _, err = aggregator.ListLocations(ctx)
	require.NoError(t, err)
	assert.NotContains(t, locations, "Berlin")

	locationEvents, err = store.ListLocationEvents(ctx, 5, 0)
	require.NoError(t, err)
	require.Len(t, locationEvents, 1)
	assert.JSONEq(t, `{"Berlin":null}`, string(locationEvents[0].Patch))
}

func TestAggregator_CreatePersonRequiresName(t *testing.T) {
	aggregator, _, _ := newAggregatorForTest(t)

	_, _, err := aggregator.CreatePerson(context.Background(), registry.CreatePersonCommand{})
	ae := apperr.As(err)
	require.NotNil(t, ae)
	assert.Equal(t, "VALIDATION_ERROR", ae.Code)
}

func TestAggregator_PatchRejectsNameNull(t *testing.T) {
	aggregator, _, _ := newAggregatorForTest(t)
	ctx := context.Background()

	id, _, err := aggregator.CreatePerson(ctx, registry.CreatePersonCommand{Name: "Hans"})
	require.NoError(t, err)

	_, err = aggregator.PatchPerson(ctx, registry.PatchPersonCommand{
		PersonID: id,
		Patch:    json.RawMessage(`{"name":null}`),
	})
	ae := apperr.As(err)
	require.NotNil(t, ae)
	assert.Equal(t, "VALIDATION_ERROR", ae.Code)
}

func TestAggregator_PatchUnknownPersonReturnsNotFound(t *testing.T) {
	aggregator, _, _ := newAggregatorForTest(t)

	_, err := aggregator.PatchPerson(context.Background(), registry.PatchPersonCommand{
		PersonID: 999,
		Patch:    json.RawMessage(`{"city":"Berlin"}`),
	})
	assert.True(t, apperr.IsNotFound(err))
}

func TestAggregator_CreatePersonRejectsDanglingSpouse(t *testing.T) {
	aggregator, _, _ := newAggregatorForTest(t)

	_, _, err := aggregator.CreatePerson(context.Background(), registry.CreatePersonCommand{
		Name: "Hans", SpouseID: pointer.To(uint64(42)),
	})
	ae := apperr.As(err)
	require.NotNil(t, ae)
	assert.Equal(t, "VALIDATION_ERROR", ae.Code)
}

func TestAggregator_SpouseAlreadyMarriedReturnsConflict(t *testing.T) {
	aggregator, _, _ := newAggregatorForTest(t)
	ctx := context.Background()

	hansID, _, err := aggregator.CreatePerson(ctx, registry.CreatePersonCommand{Name: "Hans"})
	require.NoError(t, err)
	ingeID, _, err := aggregator.CreatePerson(ctx, registry.CreatePersonCommand{Name: "Inge"})
	require.NoError(t, err)
	otherID, _, err := aggregator.CreatePerson(ctx, registry.CreatePersonCommand{Name: "Otto"})
	require.NoError(t, err)

	_, err = aggregator.PatchPerson(ctx, registry.PatchPersonCommand{
		PersonID: hansID,
		Patch:    json.RawMessage(fmt.Sprintf(`{"spouseId":%d}`, ingeID)),
	})
	require.NoError(t, err)

	_, err = aggregator.PatchPerson(ctx, registry.PatchPersonCommand{
		PersonID: otherID,
		Patch:    json.RawMessage(fmt.Sprintf(`{"spouseId":%d}`, ingeID)),
	})
	ae := apperr.As(err)
	require.NotNil(t, ae)
	assert.Equal(t, "CONFLICT", ae.Code)
}

func TestAggregator_FailedCommandDoesNotAdvanceRevision(t *testing.T) {
	aggregator, store, _ := newAggregatorForTest(t)
	ctx := context.Background()

	_, _, err := aggregator.CreatePerson(ctx, registry.CreatePersonCommand{Name: "Hans"})
	require.NoError(t, err)

	before, err := store.CurrentRevision(ctx)
	require.NoError(t, err)

	_, err = aggregator.PatchPerson(ctx, registry.PatchPersonCommand{
		PersonID: 999,
		Patch:    json.RawMessage(`{"city":"Berlin"}`),
	})
	require.Error(t, err)

	after, err := store.CurrentRevision(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}
