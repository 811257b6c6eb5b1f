// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package registry's HTTP interface for the person/location aggregates:
GET/POST/PATCH/DELETE over the current snapshots. Event-stream endpoints
live in http_events.go.

The CRUD handlers translate web requests into [Aggregator] calls and never
touch the [Store] directly — the same layering the catalogue's comic
[Handler]/[Service] pair uses, generalized to two related aggregates
instead of one. The event-stream handlers read events from the [Store]
directly.
*/
package registry

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/taibuivan/registry/internal/platform/apperr"
	requestutil "github.com/taibuivan/registry/internal/platform/request"
	"github.com/taibuivan/registry/internal/platform/respond"
)

// Handler implements the HTTP layer over the [Aggregator] and [Broker].
type Handler struct {
	aggregator *Aggregator
	broker     *Broker
	store      Store
	opts       SSEOptions
}

// SSEOptions configures the event-stream endpoints (http_events.go).
type SSEOptions struct {
	// KeepAliveInterval is how often an idle connection receives an SSE
	// comment frame so intermediaries don't time out the connection.
	KeepAliveInterval time.Duration

	// DrainBatchLimit caps how many events a single drain reads from the
	// Store per iteration. Zero means unlimited.
	DrainBatchLimit int
}

// NewHandler constructs a [Handler] with its required collaborators.
func NewHandler(aggregator *Aggregator, broker *Broker, store Store, opts SSEOptions) *Handler {
	return &Handler{aggregator: aggregator, broker: broker, store: store, opts: opts}
}

// Routes returns a [chi.Router] mounting the full person/location surface.
func (h *Handler) Routes() chi.Router {
	router := chi.NewRouter()

	router.Post("/persons", h.createPerson)
	router.Patch("/persons/{id}", h.patchPerson)
	router.Delete("/persons/{id}", h.deletePerson)
	router.Get("/persons", h.listPersons)
	router.Get("/locations", h.listLocations)
	router.Get("/person-events", h.streamPersonEvents)
	router.Get("/location-events", h.streamLocationEvents)

	return router
}

// # Person Endpoints

// createPersonRequest is the POST /persons request body.
type createPersonRequest struct {
	Name     string  `json:"name"`
	City     *string `json:"city,omitempty"`
	SpouseID *uint64 `json:"spouseId,omitempty"`
}

/*
POST /persons.

Request body: {name, city?, spouseId?}. name is required; spouseId, if
given, must reference an existing, unmarried (or already-mutual) person.

Response: 201 {id}, or a 400/409 [apperr.AppError].
*/
func (h *Handler) createPerson(writer http.ResponseWriter, request *http.Request) {
	var input createPersonRequest
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, err)
		return
	}

	id, revision, err := h.aggregator.CreatePerson(request.Context(), CreatePersonCommand{
		Name:     input.Name,
		City:     input.City,
		SpouseID: input.SpouseID,
	})
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.SetRevisionHeader(writer, revision)
	respond.JSON(writer, http.StatusCreated, map[string]uint64{"id": id})
}

/*
PATCH /persons/{id}.

Request body: a raw RFC 7396 JSON Merge Patch over {name, city, spouseId}.
name:null is rejected — a person's name can be changed but never cleared.

Response: 200 with an empty JSON object body, or a 400/404/409
[apperr.AppError].
*/
func (h *Handler) patchPerson(writer http.ResponseWriter, request *http.Request) {
	id, err := parsePersonID(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	body, err := readRawBody(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	revision, err := h.aggregator.PatchPerson(request.Context(), PatchPersonCommand{
		PersonID: id,
		Patch:    body,
	})
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.SetRevisionHeader(writer, revision)
	respond.JSON(writer, http.StatusOK, map[string]string{})
}

/*
DELETE /persons/{id}.

Clears the spouse pairing on the counterpart, if any, in the same
transaction.

Response: 204, or a 404 [apperr.AppError].
*/
func (h *Handler) deletePerson(writer http.ResponseWriter, request *http.Request) {
	id, err := parsePersonID(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	revision, err := h.aggregator.DeletePerson(request.Context(), DeletePersonCommand{PersonID: id})
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.SetRevisionHeader(writer, revision)
	respond.NoContent(writer)
}

/*
GET /persons.

Response: 200, JSON {id: Person}, header X-Revision: the revision the
snapshot was taken at.
*/
func (h *Handler) listPersons(writer http.ResponseWriter, request *http.Request) {
	persons, revision, err := h.aggregator.ListPersons(request.Context())
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.SetRevisionHeader(writer, revision)
	writer.Header().Set("Content-Type", "application/json; charset=utf-8")
	writer.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(writer).Encode(persons)
}

/*
GET /locations.

Response: 200, JSON {city: LocationRow}, header X-Revision.
*/
func (h *Handler) listLocations(writer http.ResponseWriter, request *http.Request) {
	locations, revision, err := h.aggregator.ListLocations(request.Context())
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.SetRevisionHeader(writer, revision)
	writer.Header().Set("Content-Type", "application/json; charset=utf-8")
	writer.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(writer).Encode(locations)
}

// # Shared Helpers

func parsePersonID(request *http.Request) (uint64, error) {
	raw := requestutil.ID(request, "id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, apperr.ValidationError("id must be a positive integer")
	}
	return id, nil
}

func readRawBody(request *http.Request) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := json.NewDecoder(request.Body).Decode(&raw); err != nil {
		return nil, apperr.ValidationError("Invalid JSON payload")
	}
	return raw, nil
}
