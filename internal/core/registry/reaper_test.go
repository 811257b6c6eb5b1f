// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package registry_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taibuivan/registry/internal/core/registry"
)

func newReaperStore(t *testing.T, revisions int) registry.Store {
	t.Helper()
	store, err := registry.NewMemDBStore()
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < revisions; i++ {
		err := store.RunInTransaction(ctx, func(tx registry.Tx) error {
			revision, err := tx.NextRevision(ctx)
			if err != nil {
				return err
			}
			return tx.AppendPersonEvent(ctx, registry.PersonEvent{Revision: revision, Patch: []byte(`{}`)})
		})
		require.NoError(t, err)
	}
	return store
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

/*
TestReaper_RetainsRevisionsWithinWindow verifies the retention safety
invariant: the reaper never deletes an event whose revision exceeds
current revision - retention.
*/
func TestReaper_RetainsRevisionsWithinWindow(t *testing.T) {
	store := newReaperStore(t, 10)
	ctx := context.Background()

	reaper := registry.NewReaper(store, discardLogger(), time.Hour, 3, 0)
	require.NoError(t, reaper.Sweep(ctx))

	events, err := store.ListPersonEvents(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, uint64(8), events[0].Revision)
	assert.Equal(t, uint64(10), events[2].Revision)
}

func TestReaper_NoOpWhenBelowRetentionWindow(t *testing.T) {
	store := newReaperStore(t, 2)
	ctx := context.Background()

	reaper := registry.NewReaper(store, discardLogger(), time.Hour, 10, 0)
	require.NoError(t, reaper.Sweep(ctx))

	events, err := store.ListPersonEvents(ctx, 0, 0)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestReaper_ZeroRetentionEventsDisablesCountBasedSweep(t *testing.T) {
	store := newReaperStore(t, 5)
	ctx := context.Background()

	reaper := registry.NewReaper(store, discardLogger(), time.Hour, 0, 0)
	require.NoError(t, reaper.Sweep(ctx))

	events, err := store.ListPersonEvents(ctx, 0, 0)
	require.NoError(t, err)
	assert.Len(t, events, 5, "retention-disabled reaper must not delete anything")
}

func TestReaper_RunStopsOnContextCancel(t *testing.T) {
	store := newReaperStore(t, 1)
	reaper := registry.NewReaper(store, discardLogger(), 10*time.Millisecond, 0, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- reaper.Run(ctx) }()

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("expected Run to return after context cancellation")
	}
}
