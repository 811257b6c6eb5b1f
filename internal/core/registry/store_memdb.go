// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
In-memory [Store] backend for local development and tests, built on
[hashicorp/go-memdb] the way the Kong state-reconciler package builds its
in-memory configuration tree: one [memdb.DBSchema] declared up front, one
write [memdb.Txn] per mutation.

Unlike the reconciler's per-collection transactions, a whole registry
command (create/patch/delete person, recompute location, append events)
must commit atomically, so [RunInTransaction] holds a single write
transaction open across every [Tx] call and a store-wide mutex serializes
commands the way Postgres's row locks do.
*/
package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	memdb "github.com/hashicorp/go-memdb"

	"github.com/taibuivan/registry/internal/platform/apperr"
)

const (
	tablePerson        = "person"
	tableLocation      = "location"
	tablePersonEvent   = "person_event"
	tableLocationEvent = "location_event"
)

func newMemDBSchema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			tablePerson: {
				Name: tablePerson,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.UintFieldIndex{Field: "ID"},
					},
				},
			},
			tableLocation: {
				Name: tableLocation,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "City"},
					},
				},
			},
			tablePersonEvent: {
				Name: tablePersonEvent,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.UintFieldIndex{Field: "Revision"},
					},
				},
			},
			tableLocationEvent: {
				Name: tableLocationEvent,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.UintFieldIndex{Field: "Revision"},
					},
				},
			},
		},
	}
}

// memDBStore implements [Store] entirely in process memory.
type memDBStore struct {
	mu        sync.RWMutex
	db        *memdb.MemDB
	revision  uint64
	personSeq uint64
}

// NewMemDBStore constructs a fresh in-memory [Store]. Used when
// [config.Config.UsesMemoryStore] reports true, so the service can run
// with no external dependency for local development and unit tests.
func NewMemDBStore() (Store, error) {
	db, err := memdb.NewMemDB(newMemDBSchema())
	if err != nil {
		return nil, err
	}
	return &memDBStore{db: db}, nil
}

func (s *memDBStore) Ping(ctx context.Context) error {
	return nil
}

func (s *memDBStore) CurrentRevision(ctx context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.revision, nil
}

func (s *memDBStore) GetPerson(ctx context.Context, id uint64) (*Person, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	txn := s.db.Txn(false)
	defer txn.Abort()
	return getPerson(txn, id)
}

func (s *memDBStore) ListPersons(ctx context.Context) ([]*Person, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	txn := s.db.Txn(false)
	defer txn.Abort()

	iter, err := txn.Get(tablePerson, "id")
	if err != nil {
		return nil, err
	}

	persons := make([]*Person, 0)
	for row := iter.Next(); row != nil; row = iter.Next() {
		person := row.(*Person)
		copied := *person
		persons = append(persons, &copied)
	}
	sort.Slice(persons, func(i, j int) bool { return persons[i].ID < persons[j].ID })
	return persons, nil
}

func (s *memDBStore) GetLocation(ctx context.Context, city string) (*Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	txn := s.db.Txn(false)
	defer txn.Abort()
	return getLocation(txn, city)
}

func (s *memDBStore) ListLocations(ctx context.Context) ([]*Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	txn := s.db.Txn(false)
	defer txn.Abort()

	iter, err := txn.Get(tableLocation, "id")
	if err != nil {
		return nil, err
	}

	locations := make([]*Location, 0)
	for row := iter.Next(); row != nil; row = iter.Next() {
		location := row.(*Location)
		copied := *location
		locations = append(locations, &copied)
	}
	sort.Slice(locations, func(i, j int) bool { return locations[i].City < locations[j].City })
	return locations, nil
}

func (s *memDBStore) ListPersonEvents(ctx context.Context, afterRevision uint64, limit int) ([]PersonEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	txn := s.db.Txn(false)
	defer txn.Abort()

	iter, err := txn.LowerBound(tablePersonEvent, "id", afterRevision+1)
	if err != nil {
		return nil, err
	}

	events := make([]PersonEvent, 0)
	for row := iter.Next(); row != nil; row = iter.Next() {
		event := row.(*PersonEvent)
		events = append(events, *event)
		if limit > 0 && len(events) >= limit {
			break
		}
	}
	return events, nil
}

func (s *memDBStore) ListLocationEvents(ctx context.Context, afterRevision uint64, limit int) ([]LocationEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	txn := s.db.Txn(false)
	defer txn.Abort()

	iter, err := txn.LowerBound(tableLocationEvent, "id", afterRevision+1)
	if err != nil {
		return nil, err
	}

	events := make([]LocationEvent, 0)
	for row := iter.Next(); row != nil; row = iter.Next() {
		event := row.(*LocationEvent)
		events = append(events, *event)
		if limit > 0 && len(events) >= limit {
			break
		}
	}
	return events, nil
}

func (s *memDBStore) RunInTransaction(ctx context.Context, fn func(Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	txn := s.db.Txn(true)
	defer txn.Abort()

	tx := &memDBTx{store: s, txn: txn}
	if err := fn(tx); err != nil {
		return err
	}

	txn.Commit()

	// Apply the counter deltas only now that the transaction is known to
	// commit: a rolled-back command must leave Revision unchanged, so
	// [memDBTx.NextRevision]/[memDBTx.NextPersonID] stage their bump here
	// rather than mutating the store directly.
	if tx.revisionBumped {
		s.revision = tx.nextRevision
	}
	s.personSeq += tx.personIDsAllocated
	return nil
}

func (s *memDBStore) DeleteEventsBefore(ctx context.Context, cutoffRevision uint64, countBased bool, cutoffAge time.Duration) (int64, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	txn := s.db.Txn(true)
	defer txn.Abort()

	var cutoffTime time.Time
	byAge := !countBased && cutoffAge > 0
	if byAge {
		cutoffTime = time.Now().Add(-cutoffAge)
	}

	personDeleted, err := deleteEventsBefore(txn, tablePersonEvent, func(row any) bool {
		event := row.(*PersonEvent)
		if byAge {
			return event.CreatedAt.Before(cutoffTime)
		}
		return countBased && event.Revision < cutoffRevision
	})
	if err != nil {
		return 0, 0, err
	}

	locationDeleted, err := deleteEventsBefore(txn, tableLocationEvent, func(row any) bool {
		event := row.(*LocationEvent)
		if byAge {
			return event.CreatedAt.Before(cutoffTime)
		}
		return countBased && event.Revision < cutoffRevision
	})
	if err != nil {
		return 0, 0, err
	}

	txn.Commit()
	return personDeleted, locationDeleted, nil
}

func deleteEventsBefore(txn *memdb.Txn, table string, before func(row any) bool) (int64, error) {
	iter, err := txn.Get(table, "id")
	if err != nil {
		return 0, err
	}

	var stale []any
	for row := iter.Next(); row != nil; row = iter.Next() {
		if before(row) {
			stale = append(stale, row)
		}
	}

	for _, row := range stale {
		if err := txn.Delete(table, row); err != nil {
			return 0, err
		}
	}
	return int64(len(stale)), nil
}

func getPerson(txn *memdb.Txn, id uint64) (*Person, error) {
	row, err := txn.First(tablePerson, "id", id)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, apperr.NotFound("Person")
	}
	person := row.(*Person)
	copied := *person
	return &copied, nil
}

func getLocation(txn *memdb.Txn, city string) (*Location, error) {
	row, err := txn.First(tableLocation, "id", city)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, apperr.NotFound("Location")
	}
	location := row.(*Location)
	copied := *location
	return &copied, nil
}

// # Transaction-Scoped Operations

// memDBTx implements [Tx] over a live write [memdb.Txn]. It stages the
// revision bump and any person ID allocations locally rather than mutating
// the parent store's counters directly, so a transaction that ultimately
// returns an error (and whose [memdb.Txn] is therefore aborted, never
// committed) leaves Revision untouched — see [memDBStore.RunInTransaction].
type memDBTx struct {
	store *memDBStore
	txn   *memdb.Txn

	revisionBumped     bool
	nextRevision       uint64
	personIDsAllocated uint64
}

// NextRevision must be called at most once per transaction (see [Tx]); a
// second call within the same transaction would silently stage the wrong
// value, so it is not guarded against here the way a public API would be.
func (t *memDBTx) NextRevision(ctx context.Context) (uint64, error) {
	t.nextRevision = t.store.revision + 1
	t.revisionBumped = true
	return t.nextRevision, nil
}

func (t *memDBTx) NextPersonID(ctx context.Context) (uint64, error) {
	t.personIDsAllocated++
	return t.store.personSeq + t.personIDsAllocated, nil
}

func (t *memDBTx) GetPerson(ctx context.Context, id uint64) (*Person, error) {
	return getPerson(t.txn, id)
}

func (t *memDBTx) ListPersons(ctx context.Context) ([]*Person, error) {
	iter, err := t.txn.Get(tablePerson, "id")
	if err != nil {
		return nil, err
	}

	persons := make([]*Person, 0)
	for row := iter.Next(); row != nil; row = iter.Next() {
		person := row.(*Person)
		copied := *person
		persons = append(persons, &copied)
	}
	sort.Slice(persons, func(i, j int) bool { return persons[i].ID < persons[j].ID })
	return persons, nil
}

func (t *memDBTx) UpsertPerson(ctx context.Context, person *Person) error {
	copied := *person
	return t.txn.Insert(tablePerson, &copied)
}

func (t *memDBTx) DeletePerson(ctx context.Context, id uint64) error {
	person, err := getPerson(t.txn, id)
	if err != nil {
		if apperr.IsNotFound(err) {
			return nil
		}
		return err
	}
	return t.txn.Delete(tablePerson, person)
}

func (t *memDBTx) GetLocation(ctx context.Context, city string) (*Location, error) {
	return getLocation(t.txn, city)
}

func (t *memDBTx) UpsertLocation(ctx context.Context, location *Location) error {
	copied := *location
	return t.txn.Insert(tableLocation, &copied)
}

func (t *memDBTx) DeleteLocation(ctx context.Context, city string) error {
	location, err := getLocation(t.txn, city)
	if err != nil {
		if apperr.IsNotFound(err) {
			return nil
		}
		return err
	}
	return t.txn.Delete(tableLocation, location)
}

func (t *memDBTx) AppendPersonEvent(ctx context.Context, event PersonEvent) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	return t.txn.Insert(tablePersonEvent, &event)
}

func (t *memDBTx) AppendLocationEvent(ctx context.Context, event LocationEvent) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	return t.txn.Insert(tableLocationEvent, &event)
}
