package approval

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitabwire/partnerhub/model"
)

func testRequest(id, partnerID string) model.PartnerStageReversalRequest {
	now := time.Now().UTC()
	return model.PartnerStageReversalRequest{
		ID:          id,
		PartnerID:   partnerID,
		FromStage:   model.StageOnboarded,
		ToStage:     model.StageKYC,
		RequestedBy: "user1",
		RequestedAt: now,
		Status:      model.ReversalStatusPending,
		Reason:      "reason",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestMemoryStore_Insert_duplicateID(t *testing.T) {
	store := NewMemoryStore()
	_ = store.Insert(context.Background(), testRequest("r-1", "p-1"))

	req := testRequest("r-1", "p-2")
	err := store.Insert(context.Background(), req)
	assert.True(t, model.IsCode(err, model.ErrConflict), "error = %v", err)
}

func TestMemoryStore_Insert_resolvedDoesNotBlock(t *testing.T) {
	store := NewMemoryStore()
	resolved := testRequest("r-1", "p-1")
	resolved.Status = model.ReversalStatusDenied
	require.NoError(t, store.Insert(context.Background(), resolved))
	require.NoError(t, store.Insert(context.Background(), testRequest("r-2", "p-1")))
	assert.Equal(t, 2, store.Len())
}

func TestMemoryStore_UpdateStatus_keepsCommentsWhenNil(t *testing.T) {
	store := NewMemoryStore()
	_ = store.Insert(context.Background(), testRequest("r-1", "p-1"))
	_, _ = store.UpdateComments(context.Background(), "r-1", "early note", time.Now().UTC())

	got, err := store.UpdateStatus(context.Background(), "r-1", StatusUpdate{
		Status:     model.ReversalStatusApproved,
		ApprovedBy: "approver1",
		ApprovedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.Equal(t, "early note", got.Comments)
	require.NotNil(t, got.ApprovedAt)
	assert.True(t, got.UpdatedAt.Equal(*got.ApprovedAt), "UpdatedAt = %v, ApprovedAt = %v", got.UpdatedAt, got.ApprovedAt)
}

func TestMemoryStore_Get_returnsCopy(t *testing.T) {
	store := NewMemoryStore()
	_ = store.Insert(context.Background(), testRequest("r-1", "p-1"))
	_, _ = store.UpdateStatus(context.Background(), "r-1", StatusUpdate{
		Status:     model.ReversalStatusApproved,
		ApprovedBy: "approver1",
		ApprovedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	})

	got, _ := store.Get(context.Background(), "r-1")
	*got.ApprovedAt = time.Time{}

	again, _ := store.Get(context.Background(), "r-1")
	assert.False(t, again.ApprovedAt.IsZero(), "mutating a loaded request changed the stored approval time")
}
