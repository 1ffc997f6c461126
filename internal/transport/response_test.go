package transport

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitabwire/partnerhub/model"
)

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	WriteJSON(w, http.StatusOK, map[string]string{"hello": "world"})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, map[string]string{"hello": "world"}, decodeInto[map[string]string](t, w))
}

func TestWriteError_statusCodes(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{model.NewNotFoundError("partner p-1 has no onboarding record"), http.StatusNotFound},
		{model.NewInvalidStateError("request req-1 is already approved"), http.StatusConflict},
		{model.NewConflictError("partner p-1 already has a pending reversal request"), http.StatusConflict},
		{model.NewRequiredFieldError("reason"), http.StatusUnprocessableEntity},
		{model.NewUnauthorizedError("Token expired"), http.StatusUnauthorized},
		{model.NewForbiddenError("missing capability"), http.StatusForbidden},
		{model.NewBadRequestError("invalid JSON body"), http.StatusBadRequest},
		{fmt.Errorf("decide: %w", model.NewNotFoundError("gone")), http.StatusNotFound},
		{fmt.Errorf("connection refused"), http.StatusInternalServerError},
		{&model.ErrorEnvelope{Code: "SOMETHING_NEW"}, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		WriteError(w, tt.err)
		assert.Equal(t, tt.want, w.Code, "WriteError(%v)", tt.err)
	}
}

func TestWriteError_body(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, model.NewNotFoundError("reversal request req-1 not found"))

	env := errorEnvelope(t, w)
	assert.Equal(t, model.ErrNotFound, env.Code)
	assert.Equal(t, "reversal request req-1 not found", env.Message)
}

func TestWriteError_hidesInternalDetails(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, fmt.Errorf("pq: password authentication failed"))

	env := errorEnvelope(t, w)
	assert.Equal(t, model.ErrInternalError, env.Code)
	assert.Equal(t, "An unexpected error occurred", env.Message)
}

func TestWriteValidationError(t *testing.T) {
	w := httptest.NewRecorder()
	WriteValidationError(w, []model.FieldError{
		{Field: "stage", Code: "enum", Message: "value is not one of the allowed values"},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	details := errorEnvelope(t, w).Details
	require.Len(t, details, 1)
	assert.Equal(t, "stage", details[0].Field)
}
