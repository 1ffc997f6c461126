//go:build integration

package db_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/pitabwire/partnerhub/internal/approval"
	"github.com/pitabwire/partnerhub/internal/config"
	"github.com/pitabwire/partnerhub/internal/db"
	"github.com/pitabwire/partnerhub/internal/onboarding"
	"github.com/pitabwire/partnerhub/internal/workflow"
	"github.com/pitabwire/partnerhub/model"
)

func startPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("partnerhub"),
		tcpostgres.WithUsername("partnerhub"),
		tcpostgres.WithPassword("partnerhub"),
		tcpostgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(container) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := db.Connect(ctx, dsn, config.Defaults().Onboarding.Store)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, db.EnsureSchema(ctx, pool))
	// Running twice must be harmless.
	require.NoError(t, db.EnsureSchema(ctx, pool))
	return pool
}

func newPgController(pool *pgxpool.Pool) *workflow.Controller {
	svc := onboarding.NewService(onboarding.NewPgStore(pool))
	ledger := approval.NewLedger(approval.NewPgStore(pool))
	return workflow.NewController(svc, ledger, workflow.WithEventStore(workflow.NewPgEventStore(pool)))
}

func TestPostgres_reversalLifecycle(t *testing.T) {
	pool := startPostgres(t)
	ctrl := newPgController(pool)
	ctx := context.Background()

	_, err := ctrl.StartOnboarding(ctx, "p-1", "ops@example.com")
	require.NoError(t, err)
	_, err = ctrl.StartOnboarding(ctx, "p-1", "ops@example.com")
	assert.True(t, model.IsCode(err, model.ErrConflict))

	res, err := ctrl.RequestStageChange(ctx, "p-1", model.StageOnboarded, "ops@example.com", "")
	require.NoError(t, err)
	require.True(t, res.Applied)

	res, err = ctrl.RequestStageChange(ctx, "p-1", model.StageKYC, "ops@example.com", "Expired documents")
	require.NoError(t, err)
	require.False(t, res.Applied)

	_, err = ctrl.RequestStageChange(ctx, "p-1", model.StageAgreement, "ops@example.com", "Second request")
	assert.True(t, model.IsCode(err, model.ErrConflict), "one pending request per partner")

	pending, err := ctrl.ListPendingApprovals(ctx, "")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, res.RequestID, pending[0].ID)

	decision, err := ctrl.Decide(ctx, res.RequestID, model.ReversalStatusApproved, "reviewer@example.com", "ok")
	require.NoError(t, err)
	assert.Equal(t, model.ReversalStatusApproved, decision.Request.Status)
	require.NotNil(t, decision.Onboarding)
	assert.Equal(t, model.StageKYC, decision.Onboarding.CurrentStage)

	rec, err := ctrl.GetOnboarding(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, model.StageKYC, rec.CurrentStage)

	events, err := ctrl.History(ctx, "p-1", workflow.EventFilters{})
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, model.EventOnboardingStarted, events[0].Event)
}

func TestPostgres_concurrentDecisions(t *testing.T) {
	pool := startPostgres(t)
	ctrl := newPgController(pool)
	ctx := context.Background()

	_, err := ctrl.StartOnboarding(ctx, "p-2", "ops@example.com")
	require.NoError(t, err)
	_, err = ctrl.RequestStageChange(ctx, "p-2", model.StageOnboarded, "ops@example.com", "")
	require.NoError(t, err)
	res, err := ctrl.RequestStageChange(ctx, "p-2", model.StageOutreach, "ops@example.com", "Restart")
	require.NoError(t, err)

	const workers = 6
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			decision := model.ReversalStatusApproved
			if i%2 == 1 {
				decision = model.ReversalStatusDenied
			}
			if _, err := ctrl.Decide(ctx, res.RequestID, decision, "reviewer@example.com", ""); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, succeeded)

	req, err := ctrl.GetRequest(ctx, res.RequestID)
	require.NoError(t, err)
	assert.True(t, req.Status.Terminal())
}

func TestPostgres_taskToggleAndVersioning(t *testing.T) {
	pool := startPostgres(t)
	ctrl := newPgController(pool)
	ctx := context.Background()

	_, err := ctrl.StartOnboarding(ctx, "p-3", "ops@example.com")
	require.NoError(t, err)

	rec, err := ctrl.ToggleTask(ctx, "p-3", model.StageOutreach, "initial-contact", true, "ops@example.com")
	require.NoError(t, err)
	task := rec.Stages.Get(model.StageOutreach).Task("initial-contact")
	require.NotNil(t, task)
	assert.True(t, task.Completed)
	assert.WithinDuration(t, time.Now(), *task.CompletedAt, time.Minute)
	assert.Greater(t, rec.Version, 1)

	stored, err := onboarding.NewPgStore(pool).Load(ctx, "p-3")
	require.NoError(t, err)
	assert.Equal(t, rec.Version, stored.Version)

	stale := stored
	stale.Version--
	err = onboarding.NewPgStore(pool).Save(ctx, stale)
	assert.True(t, model.IsCode(err, model.ErrConflict))
}

func TestPostgres_reopenResolvedRequest(t *testing.T) {
	pool := startPostgres(t)
	ledger := approval.NewLedger(approval.NewPgStore(pool))
	ctx := context.Background()

	req, err := ledger.Submit(ctx, approval.SubmitInput{
		PartnerID:   "p-9",
		FromStage:   model.StageOnboarded,
		ToStage:     model.StageAgreement,
		RequestedBy: "ops@example.com",
		Reason:      "contract dispute",
	})
	require.NoError(t, err)
	resolved, err := ledger.Resolve(ctx, req.ID, model.ReversalStatusApproved, "reviewer@example.com", "")
	require.NoError(t, err)
	require.NotNil(t, resolved.ApprovedAt)

	_, err = ledger.Reopen(ctx, req.ID, resolved.ApprovedAt.Add(time.Second))
	assert.True(t, model.IsCode(err, model.ErrInvalidState), "error = %v", err)

	reopened, err := ledger.Reopen(ctx, req.ID, *resolved.ApprovedAt)
	require.NoError(t, err)
	assert.Equal(t, model.ReversalStatusPending, reopened.Status)
	assert.Nil(t, reopened.ApprovedAt)

	// The reopened request holds the partner's single pending slot again.
	_, err = ledger.Submit(ctx, approval.SubmitInput{
		PartnerID:   "p-9",
		FromStage:   model.StageOnboarded,
		ToStage:     model.StageKYC,
		RequestedBy: "ops@example.com",
		Reason:      "documents expired",
	})
	assert.True(t, model.IsCode(err, model.ErrConflict), "error = %v", err)
}
