package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitabwire/partnerhub/internal/idempotency"
	"github.com/pitabwire/partnerhub/internal/observability"
	"github.com/pitabwire/partnerhub/model"
)

type failingStore struct{}

func (failingStore) Check(context.Context, string, string) (*idempotency.Response, bool, error) {
	return nil, false, errors.New("redis: connection refused")
}

func (failingStore) Reserve(context.Context, string, string, time.Duration) (bool, error) {
	return false, errors.New("redis: connection refused")
}

func (failingStore) Release(context.Context, string, string) error {
	return errors.New("redis: connection refused")
}

func (failingStore) Save(context.Context, string, string, idempotency.Response, time.Duration) error {
	return errors.New("redis: connection refused")
}

// countingHandler returns 201 with a body naming the invocation count.
func countingHandler(calls *int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		*calls++
		WriteJSON(w, http.StatusCreated, map[string]int{"call": *calls})
	})
}

func idempotentRequest(body, key string) *http.Request {
	r := httptest.NewRequest("POST", "/api/v1/partners/p-1/onboarding/stage", strings.NewReader(body))
	if key != "" {
		r.Header.Set(IdempotencyKeyHeader, key)
	}
	rctx := &model.RequestContext{SubjectID: "user-1"}
	return r.WithContext(model.WithRequestContext(r.Context(), rctx))
}

func TestIdempotency_replaysStoredResponse(t *testing.T) {
	metrics := observability.InitMetrics(prometheus.NewRegistry())
	var calls int
	handler := Idempotency(idempotency.NewMemoryStore(), time.Hour, metrics)(countingHandler(&calls))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, idempotentRequest(`{"stage":"kyc"}`, "key-1"))
	require.Equal(t, http.StatusCreated, first.Code)

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, idempotentRequest(`{"stage":"kyc"}`, "key-1"))

	assert.Equal(t, 1, calls)
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))
	assert.Equal(t, "application/json; charset=utf-8", second.Header().Get("Content-Type"))
	assert.Equal(t, 1, testutil.CollectAndCount(metrics.IdempotentReplaysTotal))
}

func TestIdempotency_keyReuseWithDifferentBody(t *testing.T) {
	var calls int
	handler := Idempotency(idempotency.NewMemoryStore(), time.Hour, nil)(countingHandler(&calls))

	handler.ServeHTTP(httptest.NewRecorder(), idempotentRequest(`{"stage":"kyc"}`, "key-1"))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, idempotentRequest(`{"stage":"agreement"}`, "key-1"))

	assert.Equal(t, 1, calls)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestIdempotency_withoutKey(t *testing.T) {
	var calls int
	handler := Idempotency(idempotency.NewMemoryStore(), time.Hour, nil)(countingHandler(&calls))

	for range 2 {
		handler.ServeHTTP(httptest.NewRecorder(), idempotentRequest(`{"stage":"kyc"}`, ""))
	}
	assert.Equal(t, 2, calls)
}

func TestIdempotency_serverErrorsNotStored(t *testing.T) {
	var calls int
	handler := Idempotency(idempotency.NewMemoryStore(), time.Hour, nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		WriteError(w, model.NewInternalError())
	}))

	for range 2 {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, idempotentRequest(`{"stage":"kyc"}`, "key-1"))
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	}
	assert.Equal(t, 2, calls)
}

func TestIdempotency_concurrentRetryWhileInFlight(t *testing.T) {
	store := idempotency.NewMemoryStore()
	entered, finish := make(chan struct{}), make(chan struct{})
	var calls atomic.Int32
	handler := Idempotency(store, time.Hour, nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		close(entered)
		<-finish
		WriteJSON(w, http.StatusCreated, map[string]string{"status": "pending_approval"})
	}))

	first := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		defer close(done)
		handler.ServeHTTP(first, idempotentRequest(`{"stage":"kyc"}`, "key-1"))
	}()
	<-entered

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, idempotentRequest(`{"stage":"kyc"}`, "key-1"))
	assert.Equal(t, http.StatusConflict, second.Code)
	assert.Equal(t, model.ErrConflict, errorEnvelope(t, second).Code)

	close(finish)
	<-done
	require.Equal(t, http.StatusCreated, first.Code)

	third := httptest.NewRecorder()
	handler.ServeHTTP(third, idempotentRequest(`{"stage":"kyc"}`, "key-1"))
	assert.Equal(t, http.StatusCreated, third.Code)
	assert.Equal(t, "true", third.Header().Get("Idempotent-Replayed"))
	assert.Equal(t, int32(1), calls.Load())
}

func TestIdempotency_serverErrorReleasesKey(t *testing.T) {
	store := idempotency.NewMemoryStore()
	handler := Idempotency(store, time.Hour, nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		WriteError(w, model.NewInternalError())
	}))

	handler.ServeHTTP(httptest.NewRecorder(), idempotentRequest(`{"stage":"kyc"}`, "key-1"))

	assert.Equal(t, 0, store.Len())
}

func TestIdempotency_failsOpen(t *testing.T) {
	var calls int
	handler := Idempotency(failingStore{}, time.Hour, nil)(countingHandler(&calls))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, idempotentRequest(`{"stage":"kyc"}`, "key-1"))

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, 1, calls)
}

func TestIdempotency_keysScopedBySubject(t *testing.T) {
	var calls int
	handler := Idempotency(idempotency.NewMemoryStore(), time.Hour, nil)(countingHandler(&calls))

	handler.ServeHTTP(httptest.NewRecorder(), idempotentRequest(`{"stage":"kyc"}`, "key-1"))

	other := httptest.NewRequest("POST", "/api/v1/partners/p-1/onboarding/stage", strings.NewReader(`{"stage":"kyc"}`))
	other.Header.Set(IdempotencyKeyHeader, "key-1")
	other = other.WithContext(model.WithRequestContext(other.Context(), &model.RequestContext{SubjectID: "user-2"}))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, other)

	assert.Equal(t, 2, calls)
	assert.Empty(t, w.Header().Get("Idempotent-Replayed"))
}
