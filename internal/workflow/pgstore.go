package workflow

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pitabwire/partnerhub/model"
)

// PgEventStore is a PostgreSQL-backed EventStore using pgx/v5.
type PgEventStore struct {
	pool *pgxpool.Pool
}

// NewPgEventStore creates a new PostgreSQL event store.
func NewPgEventStore(pool *pgxpool.Pool) *PgEventStore {
	return &PgEventStore{pool: pool}
}

// Append adds an event to the partner's audit trail.
func (s *PgEventStore) Append(ctx context.Context, event model.OnboardingEvent) error {
	var dataJSON []byte
	if event.Data != nil {
		var err error
		dataJSON, err = json.Marshal(event.Data)
		if err != nil {
			return fmt.Errorf("marshal event data: %w", err)
		}
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO onboarding_events (
			id, partner_id, event, actor_id, from_stage, to_stage,
			request_id, data, comment, timestamp
		) VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, NULLIF($9, ''), $10)`,
		event.ID, event.PartnerID, event.Event, event.ActorID,
		stageName(event.FromStage), stageName(event.ToStage),
		event.RequestID, dataJSON, event.Comment, event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert onboarding event for partner %q: %w", event.PartnerID, err)
	}
	return nil
}

// List retrieves a partner's events ordered by timestamp.
func (s *PgEventStore) List(ctx context.Context, partnerID string, filters EventFilters) ([]model.OnboardingEvent, error) {
	query := `SELECT id, partner_id, event, actor_id, from_stage, to_stage,
	                 COALESCE(request_id, ''), data, COALESCE(comment, ''), timestamp
	          FROM onboarding_events
	          WHERE partner_id = $1`
	args := []any{partnerID}

	if filters.Event != "" {
		query += " AND event = $2"
		args = append(args, filters.Event)
	}
	query += " ORDER BY timestamp DESC, id DESC"
	if filters.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filters.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query onboarding events for partner %q: %w", partnerID, err)
	}
	defer rows.Close()

	var events []model.OnboardingEvent
	for rows.Next() {
		var e model.OnboardingEvent
		var from, to *string
		var dataJSON []byte
		if err := rows.Scan(
			&e.ID, &e.PartnerID, &e.Event, &e.ActorID, &from, &to,
			&e.RequestID, &dataJSON, &e.Comment, &e.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("scan onboarding event: %w", err)
		}
		if e.FromStage, err = parseStagePtr(from); err != nil {
			return nil, fmt.Errorf("event %q: from_stage: %w", e.ID, err)
		}
		if e.ToStage, err = parseStagePtr(to); err != nil {
			return nil, fmt.Errorf("event %q: to_stage: %w", e.ID, err)
		}
		if dataJSON != nil {
			if err := json.Unmarshal(dataJSON, &e.Data); err != nil {
				return nil, fmt.Errorf("event %q: unmarshal data: %w", e.ID, err)
			}
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate onboarding events: %w", err)
	}

	// Newest first from the query so LIMIT keeps the most recent; callers
	// get oldest first.
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events, nil
}

func stageName(s *model.Stage) *string {
	if s == nil {
		return nil
	}
	name := s.String()
	return &name
}

func parseStagePtr(name *string) (*model.Stage, error) {
	if name == nil {
		return nil, nil
	}
	s, err := model.ParseStage(*name)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
