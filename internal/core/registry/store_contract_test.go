// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
A shared behavioral suite exercised against every [Store] implementation,
so the in-memory backend is held to the exact same contract the
PostgreSQL-backed one would be. Only [NewMemDBStore] is wired here: the
pgx-backed store needs a live PostgreSQL instance and is exercised by
integration tooling outside this package's unit test scope.
*/
package registry_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taibuivan/registry/internal/core/registry"
	"github.com/taibuivan/registry/internal/platform/apperr"
)

func newStoreForContractTest(t *testing.T) registry.Store {
	t.Helper()
	store, err := registry.NewMemDBStore()
	require.NoError(t, err)
	return store
}

func TestStoreContract_RevisionStartsAtZero(t *testing.T) {
	store := newStoreForContractTest(t)
	ctx := context.Background()

	revision, err := store.CurrentRevision(ctx)
	require.NoError(t, err)
	assert.Zero(t, revision)
}

func TestStoreContract_NextRevisionIncrementsByOne(t *testing.T) {
	store := newStoreForContractTest(t)
	ctx := context.Background()

	// Tx allows at most one NextRevision call per transaction, so each bump
	// runs in its own transaction.
	var first, second uint64
	err := store.RunInTransaction(ctx, func(tx registry.Tx) error {
		var err error
		first, err = tx.NextRevision(ctx)
		require.NoError(t, err)
		return nil
	})
	require.NoError(t, err)
	err = store.RunInTransaction(ctx, func(tx registry.Tx) error {
		var err error
		second, err = tx.NextRevision(ctx)
		require.NoError(t, err)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, first+1, second)

	revision, err := store.CurrentRevision(ctx)
	require.NoError(t, err)
	assert.Equal(t, second, revision)
}

func TestStoreContract_RollbackDiscardsRevisionBump(t *testing.T) {
	store := newStoreForContractTest(t)
	ctx := context.Background()

	sentinel := assert.AnError
	err := store.RunInTransaction(ctx, func(tx registry.Tx) error {
		_, err := tx.NextRevision(ctx)
		require.NoError(t, err)
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)

	revision, err := store.CurrentRevision(ctx)
	require.NoError(t, err)
	assert.Zero(t, revision, "a rolled-back transaction must not consume a revision")
}

func TestStoreContract_PersonCRUD(t *testing.T) {
	store := newStoreForContractTest(t)
	ctx := context.Background()

	city := "Berlin"
	err := store.RunInTransaction(ctx, func(tx registry.Tx) error {
		id, err := tx.NextPersonID(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), id)

		return tx.UpsertPerson(ctx, &registry.Person{ID: id, Name: "Hans", City: &city})
	})
	require.NoError(t, err)

	person, err := store.GetPerson(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Hans", person.Name)
	assert.Equal(t, "Berlin", *person.City)

	err = store.RunInTransaction(ctx, func(tx registry.Tx) error {
		return tx.DeletePerson(ctx, 1)
	})
	require.NoError(t, err)

	_, err = store.GetPerson(ctx, 1)
	assert.True(t, apperr.IsNotFound(err))
}

func TestStoreContract_ListEventsSinceIsOrderedAndExclusive(t *testing.T) {
	store := newStoreForContractTest(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := store.RunInTransaction(ctx, func(tx registry.Tx) error {
			revision, err := tx.NextRevision(ctx)
			require.NoError(t, err)
			return tx.AppendPersonEvent(ctx, registry.PersonEvent{Revision: revision, Patch: []byte(`{}`)})
		})
		require.NoError(t, err)
	}

	events, err := store.ListPersonEvents(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, uint64(2), events[0].Revision)
	assert.Equal(t, uint64(3), events[1].Revision)
}

func TestStoreContract_ListEventsRespectsLimit(t *testing.T) {
	store := newStoreForContractTest(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		err := store.RunInTransaction(ctx, func(tx registry.Tx) error {
			revision, err := tx.NextRevision(ctx)
			require.NoError(t, err)
			return tx.AppendPersonEvent(ctx, registry.PersonEvent{Revision: revision, Patch: []byte(`{}`)})
		})
		require.NoError(t, err)
	}

	events, err := store.ListPersonEvents(ctx, 0, 2)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestStoreContract_DeleteEventsBeforeCutoffRevision(t *testing.T) {
	store := newStoreForContractTest(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		err := store.RunInTransaction(ctx, func(tx registry.Tx) error {
			revision, err := tx.NextRevision(ctx)
			require.NoError(t, err)
			if err := tx.AppendPersonEvent(ctx, registry.PersonEvent{Revision: revision, Patch: []byte(`{}`)}); err != nil {
				return err
			}
			return tx.AppendLocationEvent(ctx, registry.LocationEvent{Revision: revision, Patch: []byte(`{}`)})
		})
		require.NoError(t, err)
	}

	personDeleted, locationDeleted, err := store.DeleteEventsBefore(ctx, 4, true, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 3, personDeleted)
	assert.EqualValues(t, 3, locationDeleted)

	remaining, err := store.ListPersonEvents(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, remaining, 2)
	assert.Equal(t, uint64(4), remaining[0].Revision)
	assert.Equal(t, uint64(5), remaining[1].Revision)
}

func TestStoreContract_LocationCRUDKeyedByCity(t *testing.T) {
	store := newStoreForContractTest(t)
	ctx := context.Background()

	err := store.RunInTransaction(ctx, func(tx registry.Tx) error {
		return tx.UpsertLocation(ctx, &registry.Location{City: "Berlin", Total: 1, Married: 0})
	})
	require.NoError(t, err)

	location, err := store.GetLocation(ctx, "Berlin")
	require.NoError(t, err)
	assert.EqualValues(t, 1, location.Total)

	err = store.RunInTransaction(ctx, func(tx registry.Tx) error {
		return tx.DeleteLocation(ctx, "Berlin")
	})
	require.NoError(t, err)

	_, err = store.GetLocation(ctx, "Berlin")
	assert.True(t, apperr.IsNotFound(err))
}
