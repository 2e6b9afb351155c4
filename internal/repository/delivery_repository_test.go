package repository

import (
	"context"
	"testing"
	"time"

	"github.com/finvault/lastwish-gateway/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeliveryRepository_Create(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewDeliveryRepository(db)
	ctx := context.Background()

	now := time.Now().UTC()
	created, err := repo.Create(ctx, &model.Delivery{
		SwitchID:       1,
		UserID:         "user-1",
		Epoch:          0,
		RecipientEmail: "alice@example.com",
		Status:         model.DeliveryStatusSent,
		SentAt:         &now,
	})
	require.NoError(t, err)
	assert.NotZero(t, created.ID)
	assert.Equal(t, model.DeliveryStatusSent, created.Status)
	assert.NotZero(t, created.CreatedAt)
}

func TestDeliveryRepository_List(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewDeliveryRepository(db)
	ctx := context.Background()

	userID := "user-1"
	now := time.Now().UTC()
	for i := 0; i < 3; i++ {
		_, err := repo.Create(ctx, &model.Delivery{
			SwitchID:       1,
			UserID:         userID,
			RecipientEmail: "alice@example.com",
			Status:         model.DeliveryStatusSent,
			SentAt:         &now,
		})
		require.NoError(t, err)
	}
	_, err := repo.Create(ctx, &model.Delivery{
		SwitchID:       1,
		UserID:         userID,
		RecipientEmail: "bob@example.com",
		Status:         model.DeliveryStatusFailed,
		ErrorMessage:   "connection refused",
	})
	require.NoError(t, err)
	_, err = repo.Create(ctx, &model.Delivery{
		SwitchID:       2,
		UserID:         "other-user",
		RecipientEmail: "eve@example.com",
		Status:         model.DeliveryStatusSent,
		SentAt:         &now,
	})
	require.NoError(t, err)

	t.Run("filter by user", func(t *testing.T) {
		items, total, err := repo.List(ctx, model.DeliveryFilter{UserID: &userID})
		require.NoError(t, err)
		assert.Equal(t, int64(4), total)
		assert.Len(t, items, 4)
	})

	t.Run("filter by status", func(t *testing.T) {
		failed := model.DeliveryStatusFailed
		items, total, err := repo.List(ctx, model.DeliveryFilter{UserID: &userID, Status: &failed})
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
		require.Len(t, items, 1)
		assert.Equal(t, "connection refused", items[0].ErrorMessage)
	})

	t.Run("pagination", func(t *testing.T) {
		items, total, err := repo.List(ctx, model.DeliveryFilter{UserID: &userID, Limit: 2, Offset: 3})
		require.NoError(t, err)
		assert.Equal(t, int64(4), total)
		assert.Len(t, items, 1)
	})
}
