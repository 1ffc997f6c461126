package transport

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/pitabwire/partnerhub/internal/observability"
	"github.com/pitabwire/partnerhub/internal/openapi"
	"github.com/pitabwire/partnerhub/model"
)

// decodeBody reads the JSON request body, validates it against the API
// document's schema for operationID and decodes it into dst. A nil api
// skips schema validation.
func decodeBody(r *http.Request, api *openapi.Document, operationID string, dst any) error {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return model.NewBadRequestError("request body too large")
		}
		return model.NewBadRequestError("unreadable request body")
	}
	data = bytes.TrimSpace(data)

	var raw any
	if len(data) > 0 {
		if err := json.Unmarshal(data, &raw); err != nil {
			return model.NewBadRequestError("invalid JSON body")
		}
	}
	if logger := observability.LoggerFrom(r.Context(), zap.NewNop()); logger.Core().Enabled(zap.DebugLevel) {
		if obj, ok := raw.(map[string]any); ok {
			logger.Debug("request body",
				zap.String("operation", operationID),
				zap.Any("body", observability.RedactBody(obj, nil)),
			)
		}
	}
	if api != nil {
		if details := api.ValidateBody(operationID, raw); len(details) > 0 {
			return model.NewValidationError(details)
		}
	}
	if len(data) == 0 {
		return model.NewBadRequestError("request body is required")
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return model.NewBadRequestError("invalid JSON body")
	}
	return nil
}

// queryInt parses a positive integer query parameter, returning def when it
// is absent.
func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, model.NewFieldValidationError(key, key+" must be a non-negative integer")
	}
	return n, nil
}

// requestContext returns the caller's RequestContext or writes a 401.
func requestContext(w http.ResponseWriter, r *http.Request) (*model.RequestContext, bool) {
	rctx := model.RequestContextFrom(r.Context())
	if rctx == nil {
		WriteError(w, model.NewUnauthorizedError("missing request context"))
		return nil, false
	}
	return rctx, true
}
