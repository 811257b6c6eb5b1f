// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package registry

import (
	"context"
	"time"
)

// Store is the persistence contract the [Aggregator], [Reaper], and HTTP
// handlers depend on. Two implementations exist: [NewPostgresStore] (pgx,
// for STORE_DSN pointing at PostgreSQL) and [NewMemDBStore] (go-memdb, for
// STORE_DSN == "memory"). Both satisfy the exact same read/write/reaper
// contract so the Aggregator never branches on backend.
type Store interface {
	// Ping verifies the backend is reachable, for the /ready probe.
	Ping(ctx context.Context) error

	// # Reads
	//
	// Reads run outside RunInTransaction and observe whatever committed
	// state is current at the moment they run. The in-memory backend makes
	// them wait while a write transaction is in progress.

	CurrentRevision(ctx context.Context) (uint64, error)
	GetPerson(ctx context.Context, id uint64) (*Person, error)
	ListPersons(ctx context.Context) ([]*Person, error)
	GetLocation(ctx context.Context, city string) (*Location, error)
	ListLocations(ctx context.Context) ([]*Location, error)

	// ListPersonEvents returns events with Revision > afterRevision, oldest
	// first, capped at limit (0 means unlimited).
	ListPersonEvents(ctx context.Context, afterRevision uint64, limit int) ([]PersonEvent, error)

	// ListLocationEvents returns events with Revision > afterRevision,
	// oldest first, capped at limit (0 means unlimited).
	ListLocationEvents(ctx context.Context, afterRevision uint64, limit int) ([]LocationEvent, error)

	// # Writes
	//
	// RunInTransaction executes fn with exclusive write access to the
	// store. Exactly one logical command (create/patch/delete) should run
	// per call: the Aggregator opens one transaction per command.
	RunInTransaction(ctx context.Context, fn func(Tx) error) error

	// # Retention
	//
	// DeleteEventsBefore removes person/location events by whichever
	// retention mode the [Reaper] has enabled. Count-based retention takes
	// precedence: when countBased is true, rows with Revision < cutoffRevision
	// are removed (cutoffRevision == 0 means "not enough history yet", i.e.
	// nothing is removed this sweep) and cutoffAge is ignored entirely.
	// Age-based retention only applies when countBased is false, removing
	// rows older than cutoffAge. It returns the number of rows removed from
	// each table.
	DeleteEventsBefore(ctx context.Context, cutoffRevision uint64, countBased bool, cutoffAge time.Duration) (personRows, locationRows int64, err error)
}

// Tx is the write-side contract available inside [Store.RunInTransaction].
// Every method observes and mutates the same uncommitted transaction; a
// non-nil error returned from the closure passed to RunInTransaction rolls
// back every change the closure made.
type Tx interface {
	// NextRevision increments and returns the shared revision counter. It
	// must be called at most once per transaction (step 2 of the
	// Aggregator's protocol).
	NextRevision(ctx context.Context) (uint64, error)

	// NextPersonID allocates the next dense person ID. Only called by the
	// create-person command.
	NextPersonID(ctx context.Context) (uint64, error)

	GetPerson(ctx context.Context, id uint64) (*Person, error)
	// ListPersons reads the person table as it stands inside this
	// transaction, including rows written earlier in the same
	// transaction — needed so location recomputation sees a just-upserted
	// person before commit.
	ListPersons(ctx context.Context) ([]*Person, error)
	UpsertPerson(ctx context.Context, person *Person) error
	DeletePerson(ctx context.Context, id uint64) error

	GetLocation(ctx context.Context, city string) (*Location, error)
	UpsertLocation(ctx context.Context, location *Location) error
	DeleteLocation(ctx context.Context, city string) error

	AppendPersonEvent(ctx context.Context, event PersonEvent) error
	AppendLocationEvent(ctx context.Context, event LocationEvent) error
}
