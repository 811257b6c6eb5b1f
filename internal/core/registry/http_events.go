// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Server-Sent Events transport for the person-event and location-event
streams. Both handlers share [runSubscriberLoop]; the only difference is
which [Store] reader and JSON encoder they close over.

Subscriber loop:

 1. Read the starting cursor from the X-Revision request header (default 1).
 2. Register with the [Broker] at that cursor.
 3. Drain events from the [Store] in ascending revision order, emitting one
    SSE "data:" frame per event and advancing the cursor after each.
 4. Block on the broker's wake channel (racing a keep-alive timer) until
    drained again.
 5. On transport write error or client disconnect, deregister and return.

The [Broker] never buffers events: every wake re-reads the [Store] from the
subscriber's own cursor, so a coalesced wake or a missed tick never loses an
event, only batches more of them into the next drain.
*/
package registry

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/taibuivan/registry/internal/platform/ctxutil"
	"github.com/taibuivan/registry/internal/platform/respond"
)

const defaultStartRevision = 1

/*
GET /person-events.

Reads the X-Revision request header as the starting cursor (default 1) and
streams every PersonEvent with Revision >= cursor as it is appended,
indefinitely, until the client disconnects.
*/
func (h *Handler) streamPersonEvents(writer http.ResponseWriter, request *http.Request) {
	h.runSubscriberLoop(writer, request, func(ctx context.Context, after uint64, limit int) ([]any, uint64, error) {
		events, err := h.store.ListPersonEvents(ctx, after, limit)
		if err != nil {
			return nil, after, err
		}
		boxed := make([]any, len(events))
		next := after
		for i, event := range events {
			boxed[i] = event.Patch
			next = event.Revision + 1
		}
		if len(events) == 0 {
			return boxed, after, nil
		}
		return boxed, next, nil
	})
}

/*
GET /location-events.

Same contract as streamPersonEvents, over the LocationEvent table. Because
not every revision produces a LocationEvent row (a command that leaves
every city's counts unchanged appends no location event), the delivered
sequence is sparse with respect to the shared revision counter —
subscribers must not assume contiguity across the two streams, only within
each one.
*/
func (h *Handler) streamLocationEvents(writer http.ResponseWriter, request *http.Request) {
	h.runSubscriberLoop(writer, request, func(ctx context.Context, after uint64, limit int) ([]any, uint64, error) {
		events, err := h.store.ListLocationEvents(ctx, after, limit)
		if err != nil {
			return nil, after, err
		}
		boxed := make([]any, len(events))
		next := after
		for i, event := range events {
			boxed[i] = event.Patch
			next = event.Revision + 1
		}
		if len(events) == 0 {
			return boxed, after, nil
		}
		return boxed, next, nil
	})
}

// drainFunc reads every event with revision > after, up to limit (0 =
// unlimited), returning the raw patch payloads in ascending order and the
// next cursor to resume from. If no events are returned, next == after.
type drainFunc func(ctx context.Context, after uint64, limit int) (patches []any, next uint64, err error)

// runSubscriberLoop implements the subscriber protocol shared by both
// event-stream endpoints.
func (h *Handler) runSubscriberLoop(writer http.ResponseWriter, request *http.Request, drain drainFunc) {
	cursor := parseStartRevision(request)

	sse, err := respond.NewSSEWriter(writer)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	sub := h.broker.Subscribe(cursor)
	defer h.broker.Unsubscribe(sub)

	log := ctxutil.GetLogger(request.Context())

	keepAlive := h.opts.KeepAliveInterval
	if keepAlive <= 0 {
		keepAlive = 30 * time.Second
	}
	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()

	for {
		for {
			patches, next, err := drain(request.Context(), cursor-1, h.opts.DrainBatchLimit)
			if err != nil {
				log.ErrorContext(request.Context(), "event_stream_drain_failed", "error", err)
				return
			}
			if len(patches) == 0 {
				break
			}
			for _, patch := range patches {
				if err := sse.Event("", patch); err != nil {
					return
				}
			}
			cursor = next
			sub.Advance(cursor)
			if h.opts.DrainBatchLimit > 0 && len(patches) < h.opts.DrainBatchLimit {
				break
			}
		}

		select {
		case <-request.Context().Done():
			return
		case <-sub.Wake():
			continue
		case <-ticker.C:
			if err := sse.Comment("keep-alive"); err != nil {
				return
			}
		}
	}
}

// parseStartRevision reads the X-Revision request header, defaulting to 1
// when absent or unparsable.
func parseStartRevision(request *http.Request) uint64 {
	raw := request.Header.Get("X-Revision")
	if raw == "" {
		return defaultStartRevision
	}
	value, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return defaultStartRevision
	}
	if value == 0 {
		return defaultStartRevision
	}
	return value
}
