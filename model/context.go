package model

import (
	"context"
	"errors"
)

// RequestContext identifies the authenticated caller. It is built once per
// request by the transport layer and is read-only afterwards.
type RequestContext struct {
	SubjectID     string
	Email         string
	Name          string
	Roles         []string
	Claims        map[string]any
	CorrelationID string
	TraceID       string
}

// Validate rejects a context without a subject.
func (rc *RequestContext) Validate() error {
	if rc.SubjectID == "" {
		return errors.New("request context: subject id is required")
	}
	return nil
}

// Actor returns the identifier recorded as requester or approver on ledger
// entries. The email is preferred when the identity provider supplies one.
func (rc *RequestContext) Actor() string {
	if rc.Email != "" {
		return rc.Email
	}
	return rc.SubjectID
}

type requestContextKey struct{}

// WithRequestContext attaches rctx to ctx.
func WithRequestContext(ctx context.Context, rctx *RequestContext) context.Context {
	return context.WithValue(ctx, requestContextKey{}, rctx)
}

// RequestContextFrom returns the caller attached to ctx, or nil.
func RequestContextFrom(ctx context.Context) *RequestContext {
	rctx, _ := ctx.Value(requestContextKey{}).(*RequestContext)
	return rctx
}
