// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package registry's PostgreSQL backend, following the same transaction
discipline the catalogue's comic repository uses: one [pgxpool.Pool.Begin] /
[pgx.Tx.Commit] / deferred [pgx.Tx.Rollback] per command, no ORM, queries
built against the [schema] column-name constants so a renamed column is a
one-file change.
*/
package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taibuivan/registry/internal/platform/database/schema"
	"github.com/taibuivan/registry/internal/platform/dberr"
)

// postgresStore implements [Store] on top of a [pgxpool.Pool].
type postgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore constructs a PostgreSQL-backed [Store]. The caller is
// responsible for running migrations before first use (see
// internal/platform/migration).
func NewPostgresStore(pool *pgxpool.Pool) Store {
	return &postgresStore{pool: pool}
}

func (s *postgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *postgresStore) CurrentRevision(ctx context.Context) (uint64, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s = 1`, schema.Revision.Value, schema.Revision.Table, schema.Revision.ID)
	var value uint64
	if err := s.pool.QueryRow(ctx, query).Scan(&value); err != nil {
		return 0, dberr.Wrap(err, "current_revision")
	}
	return value, nil
}

func (s *postgresStore) GetPerson(ctx context.Context, id uint64) (*Person, error) {
	query := fmt.Sprintf(`SELECT %s, %s, %s, %s FROM %s WHERE %s = $1`,
		schema.Person.ID, schema.Person.Name, schema.Person.City, schema.Person.SpouseID,
		schema.Person.Table, schema.Person.ID)

	person := &Person{}
	err := s.pool.QueryRow(ctx, query, id).Scan(&person.ID, &person.Name, &person.City, &person.SpouseID)
	if err != nil {
		return nil, dberr.Wrap(err, "get_person")
	}
	return person, nil
}

func (s *postgresStore) ListPersons(ctx context.Context) ([]*Person, error) {
	query := fmt.Sprintf(`SELECT %s, %s, %s, %s FROM %s ORDER BY %s ASC`,
		schema.Person.ID, schema.Person.Name, schema.Person.City, schema.Person.SpouseID,
		schema.Person.Table, schema.Person.ID)

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, dberr.Wrap(err, "list_persons")
	}
	defer rows.Close()

	persons := make([]*Person, 0)
	for rows.Next() {
		person := &Person{}
		if err := rows.Scan(&person.ID, &person.Name, &person.City, &person.SpouseID); err != nil {
			return nil, dberr.Wrap(err, "scan_person")
		}
		persons = append(persons, person)
	}
	return persons, rows.Err()
}

func (s *postgresStore) GetLocation(ctx context.Context, city string) (*Location, error) {
	query := fmt.Sprintf(`SELECT %s, %s, %s FROM %s WHERE %s = $1`,
		schema.Location.City, schema.Location.Total, schema.Location.Married,
		schema.Location.Table, schema.Location.City)

	location := &Location{}
	err := s.pool.QueryRow(ctx, query, city).Scan(&location.City, &location.Total, &location.Married)
	if err != nil {
		return nil, dberr.Wrap(err, "get_location")
	}
	return location, nil
}

func (s *postgresStore) ListLocations(ctx context.Context) ([]*Location, error) {
	query := fmt.Sprintf(`SELECT %s, %s, %s FROM %s ORDER BY %s ASC`,
		schema.Location.City, schema.Location.Total, schema.Location.Married,
		schema.Location.Table, schema.Location.City)

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, dberr.Wrap(err, "list_locations")
	}
	defer rows.Close()

	locations := make([]*Location, 0)
	for rows.Next() {
		location := &Location{}
		if err := rows.Scan(&location.City, &location.Total, &location.Married); err != nil {
			return nil, dberr.Wrap(err, "scan_location")
		}
		locations = append(locations, location)
	}
	return locations, rows.Err()
}

func (s *postgresStore) ListPersonEvents(ctx context.Context, afterRevision uint64, limit int) ([]PersonEvent, error) {
	query := fmt.Sprintf(`SELECT %s, %s, %s FROM %s WHERE %s > $1 ORDER BY %s ASC`,
		schema.PersonEvent.Revision, schema.PersonEvent.Patch, schema.PersonEvent.CreatedAt,
		schema.PersonEvent.Table, schema.PersonEvent.Revision, schema.PersonEvent.Revision)
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, limit)
	}

	rows, err := s.pool.Query(ctx, query, afterRevision)
	if err != nil {
		return nil, dberr.Wrap(err, "list_person_events")
	}
	defer rows.Close()

	events := make([]PersonEvent, 0)
	for rows.Next() {
		event := PersonEvent{}
		if err := rows.Scan(&event.Revision, &event.Patch, &event.CreatedAt); err != nil {
			return nil, dberr.Wrap(err, "scan_person_event")
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func (s *postgresStore) ListLocationEvents(ctx context.Context, afterRevision uint64, limit int) ([]LocationEvent, error) {
	query := fmt.Sprintf(`SELECT %s, %s, %s FROM %s WHERE %s > $1 ORDER BY %s ASC`,
		schema.LocationEvent.Revision, schema.LocationEvent.Patch, schema.LocationEvent.CreatedAt,
		schema.LocationEvent.Table, schema.LocationEvent.Revision, schema.LocationEvent.Revision)
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, limit)
	}

	rows, err := s.pool.Query(ctx, query, afterRevision)
	if err != nil {
		return nil, dberr.Wrap(err, "list_location_events")
	}
	defer rows.Close()

	events := make([]LocationEvent, 0)
	for rows.Next() {
		event := LocationEvent{}
		if err := rows.Scan(&event.Revision, &event.Patch, &event.CreatedAt); err != nil {
			return nil, dberr.Wrap(err, "scan_location_event")
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func (s *postgresStore) RunInTransaction(ctx context.Context, fn func(Tx) error) error {
	transaction, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("registry/postgres: failed to begin transaction: %w", err)
	}
	defer transaction.Rollback(ctx)

	if err := fn(&postgresTx{tx: transaction}); err != nil {
		return err
	}

	if err := transaction.Commit(ctx); err != nil {
		return fmt.Errorf("registry/postgres: failed to commit transaction: %w", err)
	}
	return nil
}

func (s *postgresStore) DeleteEventsBefore(ctx context.Context, cutoffRevision uint64, countBased bool, cutoffAge time.Duration) (int64, int64, error) {
	var personQuery, locationQuery string
	var args []any

	switch {
	case countBased:
		personQuery = fmt.Sprintf(`DELETE FROM %s WHERE %s < $1`, schema.PersonEvent.Table, schema.PersonEvent.Revision)
		locationQuery = fmt.Sprintf(`DELETE FROM %s WHERE %s < $1`, schema.LocationEvent.Table, schema.LocationEvent.Revision)
		args = []any{cutoffRevision}
	case cutoffAge > 0:
		personQuery = fmt.Sprintf(`DELETE FROM %s WHERE %s < $1`, schema.PersonEvent.Table, schema.PersonEvent.CreatedAt)
		locationQuery = fmt.Sprintf(`DELETE FROM %s WHERE %s < $1`, schema.LocationEvent.Table, schema.LocationEvent.CreatedAt)
		args = []any{time.Now().Add(-cutoffAge)}
	default:
		return 0, 0, nil
	}

	personTag, err := s.pool.Exec(ctx, personQuery, args...)
	if err != nil {
		return 0, 0, dberr.Wrap(err, "reap_person_events")
	}

	locationTag, err := s.pool.Exec(ctx, locationQuery, args...)
	if err != nil {
		return 0, 0, dberr.Wrap(err, "reap_location_events")
	}

	return personTag.RowsAffected(), locationTag.RowsAffected(), nil
}

// # Transaction-Scoped Operations

// postgresTx implements [Tx] over a live [pgx.Tx].
type postgresTx struct {
	tx pgx.Tx
}

func (t *postgresTx) NextRevision(ctx context.Context) (uint64, error) {
	query := fmt.Sprintf(`UPDATE %s SET %s = %s + 1 WHERE %s = 1 RETURNING %s`,
		schema.Revision.Table, schema.Revision.Value, schema.Revision.Value, schema.Revision.ID, schema.Revision.Value)

	var value uint64
	if err := t.tx.QueryRow(ctx, query).Scan(&value); err != nil {
		return 0, dberr.Wrap(err, "next_revision")
	}
	return value, nil
}

func (t *postgresTx) NextPersonID(ctx context.Context) (uint64, error) {
	var id uint64
	if err := t.tx.QueryRow(ctx, `SELECT nextval('registry.person_id_seq')`).Scan(&id); err != nil {
		return 0, dberr.Wrap(err, "next_person_id")
	}
	return id, nil
}

func (t *postgresTx) GetPerson(ctx context.Context, id uint64) (*Person, error) {
	query := fmt.Sprintf(`SELECT %s, %s, %s, %s FROM %s WHERE %s = $1`,
		schema.Person.ID, schema.Person.Name, schema.Person.City, schema.Person.SpouseID,
		schema.Person.Table, schema.Person.ID)

	person := &Person{}
	err := t.tx.QueryRow(ctx, query, id).Scan(&person.ID, &person.Name, &person.City, &person.SpouseID)
	if err != nil {
		return nil, dberr.Wrap(err, "get_person_tx")
	}
	return person, nil
}

func (t *postgresTx) ListPersons(ctx context.Context) ([]*Person, error) {
	query := fmt.Sprintf(`SELECT %s, %s, %s, %s FROM %s ORDER BY %s ASC`,
		schema.Person.ID, schema.Person.Name, schema.Person.City, schema.Person.SpouseID,
		schema.Person.Table, schema.Person.ID)

	rows, err := t.tx.Query(ctx, query)
	if err != nil {
		return nil, dberr.Wrap(err, "list_persons_tx")
	}
	defer rows.Close()

	persons := make([]*Person, 0)
	for rows.Next() {
		person := &Person{}
		if err := rows.Scan(&person.ID, &person.Name, &person.City, &person.SpouseID); err != nil {
			return nil, dberr.Wrap(err, "scan_person_tx")
		}
		persons = append(persons, person)
	}
	return persons, rows.Err()
}

func (t *postgresTx) UpsertPerson(ctx context.Context, person *Person) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (%s, %s, %s, %s) VALUES ($1, $2, $3, $4)
		ON CONFLICT (%s) DO UPDATE SET %s = EXCLUDED.%s, %s = EXCLUDED.%s, %s = EXCLUDED.%s
	`,
		schema.Person.Table, schema.Person.ID, schema.Person.Name, schema.Person.City, schema.Person.SpouseID,
		schema.Person.ID,
		schema.Person.Name, schema.Person.Name,
		schema.Person.City, schema.Person.City,
		schema.Person.SpouseID, schema.Person.SpouseID,
	)

	_, err := t.tx.Exec(ctx, query, person.ID, person.Name, person.City, person.SpouseID)
	if err != nil {
		return dberr.Wrap(err, "upsert_person")
	}
	return nil
}

func (t *postgresTx) DeletePerson(ctx context.Context, id uint64) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE %s = $1`, schema.Person.Table, schema.Person.ID)
	if _, err := t.tx.Exec(ctx, query, id); err != nil {
		return dberr.Wrap(err, "delete_person")
	}
	return nil
}

func (t *postgresTx) GetLocation(ctx context.Context, city string) (*Location, error) {
	query := fmt.Sprintf(`SELECT %s, %s, %s FROM %s WHERE %s = $1`,
		schema.Location.City, schema.Location.Total, schema.Location.Married,
		schema.Location.Table, schema.Location.City)

	location := &Location{}
	err := t.tx.QueryRow(ctx, query, city).Scan(&location.City, &location.Total, &location.Married)
	if err != nil {
		return nil, dberr.Wrap(err, "get_location_tx")
	}
	return location, nil
}

func (t *postgresTx) UpsertLocation(ctx context.Context, location *Location) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (%s, %s, %s) VALUES ($1, $2, $3)
		ON CONFLICT (%s) DO UPDATE SET %s = EXCLUDED.%s, %s = EXCLUDED.%s
	`,
		schema.Location.Table, schema.Location.City, schema.Location.Total, schema.Location.Married,
		schema.Location.City,
		schema.Location.Total, schema.Location.Total,
		schema.Location.Married, schema.Location.Married,
	)

	_, err := t.tx.Exec(ctx, query, location.City, location.Total, location.Married)
	if err != nil {
		return dberr.Wrap(err, "upsert_location")
	}
	return nil
}

func (t *postgresTx) DeleteLocation(ctx context.Context, city string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE %s = $1`, schema.Location.Table, schema.Location.City)
	if _, err := t.tx.Exec(ctx, query, city); err != nil {
		return dberr.Wrap(err, "delete_location")
	}
	return nil
}

func (t *postgresTx) AppendPersonEvent(ctx context.Context, event PersonEvent) error {
	query := fmt.Sprintf(`INSERT INTO %s (%s, %s) VALUES ($1, $2)`,
		schema.PersonEvent.Table, schema.PersonEvent.Revision, schema.PersonEvent.Patch)

	_, err := t.tx.Exec(ctx, query, event.Revision, []byte(event.Patch))
	if err != nil {
		return dberr.Wrap(err, "append_person_event")
	}
	return nil
}

func (t *postgresTx) AppendLocationEvent(ctx context.Context, event LocationEvent) error {
	query := fmt.Sprintf(`INSERT INTO %s (%s, %s) VALUES ($1, $2)`,
		schema.LocationEvent.Table, schema.LocationEvent.Revision, schema.LocationEvent.Patch)

	_, err := t.tx.Exec(ctx, query, event.Revision, []byte(event.Patch))
	if err != nil {
		return dberr.Wrap(err, "append_location_event")
	}
	return nil
}
