// Package idempotency remembers the responses of mutating requests so that a
// client retrying with the same Idempotency-Key gets the original outcome
// instead of submitting a second stage change or reversal decision.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/pitabwire/partnerhub/model"
)

// Response is a stored HTTP response.
type Response struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body"`
}

// ReservationTTL caps how long a reserved key blocks retries when its
// holder never saves or releases it.
const ReservationTTL = time.Minute

// Store provides deduplication of mutating requests.
type Store interface {
	// Check looks up a previous response by key. If the key exists and the
	// input hash matches, it returns the stored response. If the key exists
	// but the hash differs, or the key is reserved by a request still in
	// flight, it returns a CONFLICT error.
	Check(ctx context.Context, key, inputHash string) (resp *Response, found bool, err error)

	// Reserve claims an unused key for a request about to run. It reports
	// false when the key is already reserved or holds a response.
	Reserve(ctx context.Context, key, inputHash string, ttl time.Duration) (bool, error)

	// Release drops a reservation that will not be completed. Stored
	// responses are left alone.
	Release(ctx context.Context, key, inputHash string) error

	// Save stores a response under the key with a TTL, completing any
	// reservation.
	Save(ctx context.Context, key, inputHash string, resp Response, ttl time.Duration) error
}

// entry is the stored value for an idempotency key. A pending entry marks a
// reservation and carries no response.
type entry struct {
	InputHash string   `json:"input_hash"`
	Pending   bool     `json:"pending,omitempty"`
	Response  Response `json:"response"`
}

// FormatKey builds the storage key. Keys are scoped to the caller and the
// route so two users cannot collide on the same client-chosen key.
func FormatKey(subjectID, route, key string) string {
	return fmt.Sprintf("idem:%s:%s:%s", subjectID, route, key)
}

// HashInput returns a stable digest of a request's method, path and body.
func HashInput(method, path string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{0})
	h.Write([]byte(path))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

func keyConflict(key string) *model.ErrorEnvelope {
	return model.NewConflictError(fmt.Sprintf("idempotency key %q already used with different input", key))
}

func inProgress(key string) *model.ErrorEnvelope {
	return model.NewConflictError(fmt.Sprintf("request with idempotency key %q is still in progress", key))
}

// lookup resolves a stored entry against the caller's input hash.
func (e entry) lookup(key, inputHash string) (*Response, error) {
	switch {
	case e.InputHash != inputHash:
		return nil, keyConflict(key)
	case e.Pending:
		return nil, inProgress(key)
	}
	resp := e.Response
	resp.Body = append([]byte(nil), resp.Body...)
	return &resp, nil
}
