package approval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pitabwire/partnerhub/model"
)

// uniquePendingIndex is the partial unique index that allows one pending
// request per partner.
const uniquePendingIndex = "idx_reversal_requests_one_pending"

const selectColumns = `
	id, partner_id, from_stage, to_stage, requested_by, requested_at,
	COALESCE(approved_by, ''), approved_at, status, reason,
	COALESCE(comments, ''), created_at, updated_at`

// PgStore is a PostgreSQL-backed Store using pgx/v5.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a new PostgreSQL request store.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// Insert persists a new request.
func (s *PgStore) Insert(ctx context.Context, req model.PartnerStageReversalRequest) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO partner_stage_reversal_requests (
			id, partner_id, from_stage, to_stage, requested_by, requested_at,
			approved_by, approved_at, status, reason, comments, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $9, $10, NULLIF($11, ''), $12, $13)`,
		req.ID, req.PartnerID, req.FromStage.String(), req.ToStage.String(),
		req.RequestedBy, req.RequestedAt, req.ApprovedBy, req.ApprovedAt,
		string(req.Status), req.Reason, req.Comments, req.CreatedAt, req.UpdatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		if pgErr.ConstraintName == uniquePendingIndex {
			return pendingConflict(req.PartnerID, "")
		}
		return model.NewConflictError(fmt.Sprintf("reversal request %q already exists", req.ID))
	}
	if err != nil {
		return fmt.Errorf("insert reversal request %q: %w", req.ID, err)
	}
	return nil
}

// Get retrieves a request by ID.
func (s *PgStore) Get(ctx context.Context, id string) (model.PartnerStageReversalRequest, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+selectColumns+` FROM partner_stage_reversal_requests WHERE id = $1`, id)
	req, err := scanRequest(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.PartnerStageReversalRequest{}, notFound(id)
	}
	if err != nil {
		return model.PartnerStageReversalRequest{}, fmt.Errorf("query reversal request %q: %w", id, err)
	}
	return req, nil
}

// FindPending returns pending requests, optionally filtered by partner.
func (s *PgStore) FindPending(ctx context.Context, partnerID string) ([]model.PartnerStageReversalRequest, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+selectColumns+`
		FROM partner_stage_reversal_requests
		WHERE status = 'pending' AND ($1 = '' OR partner_id = $1)
		ORDER BY requested_at ASC, id ASC`,
		partnerID,
	)
	if err != nil {
		return nil, fmt.Errorf("query pending reversal requests: %w", err)
	}
	defer rows.Close()

	var out []model.PartnerStageReversalRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reversal request: %w", err)
		}
		out = append(out, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reversal requests: %w", err)
	}
	return out, nil
}

// UpdateStatus resolves a pending request with a single conditional update,
// so at most one of several concurrent decisions succeeds.
func (s *PgStore) UpdateStatus(ctx context.Context, id string, update StatusUpdate) (model.PartnerStageReversalRequest, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE partner_stage_reversal_requests SET
			status = $1,
			approved_by = $2,
			approved_at = $3,
			comments = COALESCE($4, comments),
			updated_at = $3
		WHERE id = $5 AND status = 'pending'
		RETURNING `+selectColumns,
		string(update.Status), update.ApprovedBy, update.ApprovedAt, update.Comments, id,
	)
	req, err := scanRequest(row)
	if err == nil {
		return req, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return model.PartnerStageReversalRequest{}, fmt.Errorf("update reversal request %q: %w", id, err)
	}

	existing, err := s.Get(ctx, id)
	if err != nil {
		return model.PartnerStageReversalRequest{}, err
	}
	return model.PartnerStageReversalRequest{}, alreadyResolved(id, existing.Status)
}

// Reopen returns a resolved request to pending. The decision timestamp in
// the WHERE clause keeps a stale caller from undoing a later decision.
func (s *PgStore) Reopen(ctx context.Context, id string, resolvedAt, at time.Time) (model.PartnerStageReversalRequest, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE partner_stage_reversal_requests SET
			status = 'pending',
			approved_by = NULL,
			approved_at = NULL,
			updated_at = $1
		WHERE id = $2 AND status IN ('approved', 'denied') AND approved_at = $3
		RETURNING `+selectColumns,
		at, id, resolvedAt,
	)
	req, err := scanRequest(row)
	if err == nil {
		return req, nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		existing, getErr := s.Get(ctx, id)
		if getErr != nil {
			return model.PartnerStageReversalRequest{}, getErr
		}
		return model.PartnerStageReversalRequest{}, pendingConflict(existing.PartnerID, "")
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return model.PartnerStageReversalRequest{}, fmt.Errorf("reopen reversal request %q: %w", id, err)
	}

	if _, err := s.Get(ctx, id); err != nil {
		return model.PartnerStageReversalRequest{}, err
	}
	return model.PartnerStageReversalRequest{}, model.NewInvalidStateError(
		fmt.Sprintf("reversal request %q was not resolved at %s", id, resolvedAt.Format(time.RFC3339Nano)))
}

// UpdateComments replaces the comments of a request.
func (s *PgStore) UpdateComments(ctx context.Context, id, comments string, at time.Time) (model.PartnerStageReversalRequest, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE partner_stage_reversal_requests SET
			comments = NULLIF($1, ''),
			updated_at = $2
		WHERE id = $3
		RETURNING `+selectColumns,
		comments, at, id,
	)
	req, err := scanRequest(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.PartnerStageReversalRequest{}, notFound(id)
	}
	if err != nil {
		return model.PartnerStageReversalRequest{}, fmt.Errorf("update comments of reversal request %q: %w", id, err)
	}
	return req, nil
}

// HealthCheck pings the database.
func (s *PgStore) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func scanRequest(row pgx.Row) (model.PartnerStageReversalRequest, error) {
	var req model.PartnerStageReversalRequest
	var from, to, status string
	err := row.Scan(
		&req.ID, &req.PartnerID, &from, &to, &req.RequestedBy, &req.RequestedAt,
		&req.ApprovedBy, &req.ApprovedAt, &status, &req.Reason,
		&req.Comments, &req.CreatedAt, &req.UpdatedAt,
	)
	if err != nil {
		return model.PartnerStageReversalRequest{}, err
	}
	if req.FromStage, err = model.ParseStage(from); err != nil {
		return model.PartnerStageReversalRequest{}, fmt.Errorf("request %q: stored from_stage: %w", req.ID, err)
	}
	if req.ToStage, err = model.ParseStage(to); err != nil {
		return model.PartnerStageReversalRequest{}, fmt.Errorf("request %q: stored to_stage: %w", req.ID, err)
	}
	req.Status = model.ReversalStatus(status)
	return req, nil
}
