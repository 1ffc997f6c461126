package onboarding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pitabwire/partnerhub/model"
)

// PgStore is a PostgreSQL-backed Store using pgx/v5. Stage data is kept as a
// JSONB array indexed by stage ordinal.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a new PostgreSQL onboarding store.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// Create inserts a new onboarding record.
func (s *PgStore) Create(ctx context.Context, rec model.PartnerOnboarding) error {
	stagesJSON, err := json.Marshal(rec.Stages)
	if err != nil {
		return fmt.Errorf("marshal stages: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO partner_onboarding (
			partner_id, current_stage, overall_progress, started_at,
			expected_completion_date, last_activity, stages, version
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.PartnerID, rec.CurrentStage.String(), rec.OverallProgress, rec.StartedAt,
		rec.ExpectedCompletionDate, rec.LastActivity, stagesJSON, rec.Version,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return model.NewConflictError(
			fmt.Sprintf("onboarding for partner %q already exists", rec.PartnerID),
		)
	}
	if err != nil {
		return fmt.Errorf("insert onboarding for partner %q: %w", rec.PartnerID, err)
	}
	return nil
}

// Load retrieves the onboarding record of a partner.
func (s *PgStore) Load(ctx context.Context, partnerID string) (model.PartnerOnboarding, error) {
	var rec model.PartnerOnboarding
	var stage string
	var stagesJSON []byte

	err := s.pool.QueryRow(ctx, `
		SELECT partner_id, current_stage, overall_progress, started_at,
		       expected_completion_date, last_activity, stages, version
		FROM partner_onboarding
		WHERE partner_id = $1`,
		partnerID,
	).Scan(
		&rec.PartnerID, &stage, &rec.OverallProgress, &rec.StartedAt,
		&rec.ExpectedCompletionDate, &rec.LastActivity, &stagesJSON, &rec.Version,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.PartnerOnboarding{}, notFound(partnerID)
	}
	if err != nil {
		return model.PartnerOnboarding{}, fmt.Errorf("query onboarding for partner %q: %w", partnerID, err)
	}

	if rec.CurrentStage, err = model.ParseStage(stage); err != nil {
		return model.PartnerOnboarding{}, fmt.Errorf("partner %q: stored stage: %w", partnerID, err)
	}
	if err := json.Unmarshal(stagesJSON, &rec.Stages); err != nil {
		return model.PartnerOnboarding{}, fmt.Errorf("unmarshal stages for partner %q: %w", partnerID, err)
	}
	return rec, nil
}

// Save persists an updated record with optimistic locking.
func (s *PgStore) Save(ctx context.Context, rec model.PartnerOnboarding) error {
	stagesJSON, err := json.Marshal(rec.Stages)
	if err != nil {
		return fmt.Errorf("marshal stages: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE partner_onboarding SET
			current_stage = $1,
			overall_progress = $2,
			expected_completion_date = $3,
			last_activity = $4,
			stages = $5,
			version = $6,
			updated_at = $7
		WHERE partner_id = $8 AND version = $9`,
		rec.CurrentStage.String(), rec.OverallProgress, rec.ExpectedCompletionDate,
		rec.LastActivity, stagesJSON, rec.Version+1, time.Now().UTC(),
		rec.PartnerID, rec.Version,
	)
	if err != nil {
		return fmt.Errorf("update onboarding for partner %q: %w", rec.PartnerID, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM partner_onboarding WHERE partner_id = $1)`,
		rec.PartnerID,
	).Scan(&exists); err != nil {
		return fmt.Errorf("check onboarding for partner %q: %w", rec.PartnerID, err)
	}
	if !exists {
		return notFound(rec.PartnerID)
	}
	return model.NewConflictError(
		fmt.Sprintf("onboarding for partner %q version conflict (expected %d)", rec.PartnerID, rec.Version),
	)
}

// HealthCheck pings the database.
func (s *PgStore) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
