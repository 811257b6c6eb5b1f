// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package registry_test

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taibuivan/registry/internal/core/registry"
)

func newHandlerForTest(t *testing.T) *registry.Handler {
	t.Helper()
	store, err := registry.NewMemDBStore()
	require.NoError(t, err)

	broker := registry.NewBroker()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	aggregator := registry.NewAggregator(store, broker, logger)

	return registry.NewHandler(aggregator, broker, store, registry.SSEOptions{
		KeepAliveInterval: 20 * time.Millisecond,
		DrainBatchLimit:   0,
	})
}

func TestHTTP_CreatePersonRequiresName(t *testing.T) {
	handler := newHandlerForTest(t)

	request := httptest.NewRequest(http.MethodPost, "/persons", strings.NewReader(`{}`))
	recorder := httptest.NewRecorder()
	handler.Routes().ServeHTTP(recorder, request)

	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestHTTP_CreateThenGetPersonsReportsRevisionHeader(t *testing.T) {
	handler := newHandlerForTest(t)
	router := handler.Routes()

	createRequest := httptest.NewRequest(http.MethodPost, "/persons", strings.NewReader(`{"name":"Hans","city":"Berlin"}`))
	createRecorder := httptest.NewRecorder()
	router.ServeHTTP(createRecorder, createRequest)
	require.Equal(t, http.StatusCreated, createRecorder.Code)
	assert.Equal(t, "1", createRecorder.Header().Get("X-Revision"))

	listRequest := httptest.NewRequest(http.MethodGet, "/persons", nil)
	listRecorder := httptest.NewRecorder()
	router.ServeHTTP(listRecorder, listRequest)
	require.Equal(t, http.StatusOK, listRecorder.Code)
	assert.Equal(t, "1", listRecorder.Header().Get("X-Revision"))

	var persons map[string]registry.Person
	require.NoError(t, json.Unmarshal(listRecorder.Body.Bytes(), &persons))
	require.Contains(t, persons, "1")
	assert.Equal(t, "Hans", persons["1"].Name)
}

func TestHTTP_PatchUnknownPersonReturns404(t *testing.T) {
	handler := newHandlerForTest(t)

	request := httptest.NewRequest(http.MethodPatch, "/persons/999", strings.NewReader(`{"city":"Berlin"}`))
	recorder := httptest.NewRecorder()
	handler.Routes().ServeHTTP(recorder, request)

	assert.Equal(t, http.StatusNotFound, recorder.Code)
}

func TestHTTP_DeletePersonReturns204(t *testing.T) {
	handler := newHandlerForTest(t)
	router := handler.Routes()

	createRequest := httptest.NewRequest(http.MethodPost, "/persons", strings.NewReader(`{"name":"Hans"}`))
	createRecorder := httptest.NewRecorder()
	router.ServeHTTP(createRecorder, createRequest)
	require.Equal(t, http.StatusCreated, createRecorder.Code)

	var created struct {
		ID uint64 `json:"id"`
	}
	require.NoError(t, json.Unmarshal(createRecorder.Body.Bytes(), &created))

	deleteRequest := httptest.NewRequest(http.MethodDelete, "/persons/"+strconv.FormatUint(created.ID, 10), nil)
	deleteRecorder := httptest.NewRecorder()
	router.ServeHTTP(deleteRecorder, deleteRequest)

	assert.Equal(t, http.StatusNoContent, deleteRecorder.Code)
}

/*
TestHTTP_PersonEventStreamDeliversHistoricalEvents verifies the
event-stream contract: a subscriber opening /person-events with a starting
X-Revision receives every event at or after that cursor, framed as SSE
"data:" lines, in ascending revision order.
*/
func TestHTTP_PersonEventStreamDeliversHistoricalEvents(t *testing.T) {
	handler := newHandlerForTest(t)
	router := handler.Routes()

	for _, body := range []string{`{"name":"Hans","city":"Berlin"}`, `{"name":"Inge"}`} {
		createRequest := httptest.NewRequest(http.MethodPost, "/persons", strings.NewReader(body))
		createRecorder := httptest.NewRecorder()
		router.ServeHTTP(createRecorder, createRequest)
		require.Equal(t, http.StatusCreated, createRecorder.Code)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	streamRequest := httptest.NewRequest(http.MethodGet, "/person-events", nil).WithContext(ctx)
	streamRequest.Header.Set("X-Revision", "1")

	pipeReader, pipeWriter := io.Pipe()
	recorder := &streamingRecorder{ResponseRecorder: httptest.NewRecorder(), writer: pipeWriter}

	go func() {
		router.ServeHTTP(recorder, streamRequest)
		_ = pipeWriter.Close()
	}()

	scanner := bufio.NewScanner(pipeReader)
	var dataLines []string
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data: ") {
			dataLines = append(dataLines, strings.TrimPrefix(line, "data: "))
		}
		if len(dataLines) == 2 {
			break
		}
	}

	require.Len(t, dataLines, 2)
	assert.JSONEq(t, `{"1":{"name":"Hans","city":"Berlin"}}`, dataLines[0])
	assert.JSONEq(t, `{"2":{"name":"Inge"}}`, dataLines[1])
}

// streamingRecorder adapts [httptest.ResponseRecorder] to stream writes
// through an [io.Pipe] as they happen, since the recorder itself only
// buffers and never flushes to a reader a concurrent goroutine can drain.
type streamingRecorder struct {
	*httptest.ResponseRecorder
	writer      io.Writer
	wroteHeader bool
}

func (r *streamingRecorder) WriteHeader(status int) {
	r.wroteHeader = true
	r.ResponseRecorder.WriteHeader(status)
}

func (r *streamingRecorder) Write(p []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	return r.writer.Write(p)
}

func (r *streamingRecorder) Flush() {}
