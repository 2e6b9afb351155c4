package services

import (
	"context"
	"testing"
	"time"

	"github.com/finvault/lastwish-gateway/internal/countdown"
	"github.com/finvault/lastwish-gateway/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockSwitchRepository struct {
	mock.Mock
}

func (m *MockSwitchRepository) GetByUserID(ctx context.Context, userID string) (*model.Switch, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Switch), args.Error(1)
}

func (m *MockSwitchRepository) Upsert(ctx context.Context, p model.SwitchUpsertRequest) (*model.Switch, error) {
	args := m.Called(ctx, p)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Switch), args.Error(1)
}

func (m *MockSwitchRepository) CheckIn(ctx context.Context, userID string, now time.Time) (*model.Switch, error) {
	args := m.Called(ctx, userID, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Switch), args.Error(1)
}

func (m *MockSwitchRepository) Reset(ctx context.Context, userID string, now time.Time) (*model.Switch, error) {
	args := m.Called(ctx, userID, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Switch), args.Error(1)
}

type MockDeliveryRepository struct {
	mock.Mock
}

func (m *MockDeliveryRepository) List(ctx context.Context, f model.DeliveryFilter) ([]*model.Delivery, int64, error) {
	args := m.Called(ctx, f)
	if args.Get(0) == nil {
		return nil, args.Get(1).(int64), args.Error(2)
	}
	return args.Get(0).([]*model.Delivery), args.Get(1).(int64), args.Error(2)
}

func newTestService(switchRepo *MockSwitchRepository, deliveryRepo *MockDeliveryRepository, now time.Time) *SwitchService {
	svc := NewSwitchService(switchRepo, deliveryRepo)
	svc.now = func() time.Time { return now }
	return svc
}

func TestSwitchService_CheckIn(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	t.Run("passes the clock through", func(t *testing.T) {
		switchRepo := new(MockSwitchRepository)
		svc := newTestService(switchRepo, nil, now)

		expected := &model.Switch{UserID: "user-1", LastCheckIn: &now}
		switchRepo.On("CheckIn", ctx, "user-1", now).Return(expected, nil)

		sw, err := svc.CheckIn(ctx, "user-1")
		require.NoError(t, err)
		assert.Equal(t, expected, sw)
		switchRepo.AssertExpectations(t)
	})

	t.Run("surfaces terminal rejection", func(t *testing.T) {
		switchRepo := new(MockSwitchRepository)
		svc := newTestService(switchRepo, nil, now)

		switchRepo.On("CheckIn", ctx, "user-1", now).Return(nil, model.ErrAlreadyDelivered)

		_, err := svc.CheckIn(ctx, "user-1")
		assert.ErrorIs(t, err, model.ErrAlreadyDelivered)
	})
}

func TestSwitchService_UpdateSettings(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	valid := model.SwitchUpsertRequest{
		UserID:        "user-1",
		IsEnabled:     true,
		FrequencyDays: 30,
		Recipients:    []model.Recipient{{Name: "Alice", Email: "alice@example.com"}},
	}

	t.Run("rejects enabling without recipients", func(t *testing.T) {
		svc := newTestService(new(MockSwitchRepository), nil, now)

		_, err := svc.UpdateSettings(ctx, model.SwitchUpsertRequest{
			UserID:        "user-1",
			IsEnabled:     true,
			FrequencyDays: 30,
		})
		assert.ErrorIs(t, err, model.ErrNotEnabled)
	})

	t.Run("rejects non-positive frequency", func(t *testing.T) {
		svc := newTestService(new(MockSwitchRepository), nil, now)

		_, err := svc.UpdateSettings(ctx, model.SwitchUpsertRequest{
			UserID:     "user-1",
			Recipients: valid.Recipients,
		})
		assert.Error(t, err)
	})

	t.Run("rejects more than three recipients", func(t *testing.T) {
		svc := newTestService(new(MockSwitchRepository), nil, now)

		req := valid
		req.Recipients = []model.Recipient{
			{Email: "a@example.com"}, {Email: "b@example.com"},
			{Email: "c@example.com"}, {Email: "d@example.com"},
		}
		_, err := svc.UpdateSettings(ctx, req)
		assert.Error(t, err)
	})

	t.Run("rejects re-enabling a delivered switch", func(t *testing.T) {
		switchRepo := new(MockSwitchRepository)
		svc := newTestService(switchRepo, nil, now)

		epoch := 0
		delivered := &model.Switch{
			UserID:         "user-1",
			Epoch:          0,
			DeliveredEpoch: &epoch,
			DeliveredAt:    &now,
		}
		switchRepo.On("GetByUserID", ctx, "user-1").Return(delivered, nil)

		_, err := svc.UpdateSettings(ctx, valid)
		assert.ErrorIs(t, err, model.ErrAlreadyDelivered)
		switchRepo.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything)
	})

	t.Run("creates on first opt-in", func(t *testing.T) {
		switchRepo := new(MockSwitchRepository)
		svc := newTestService(switchRepo, nil, now)

		switchRepo.On("GetByUserID", ctx, "user-1").Return(nil, model.ErrSwitchNotFound)
		created := &model.Switch{UserID: "user-1", IsEnabled: true, FrequencyDays: 30}
		switchRepo.On("Upsert", ctx, valid).Return(created, nil)

		sw, err := svc.UpdateSettings(ctx, valid)
		require.NoError(t, err)
		assert.Equal(t, created, sw)
		switchRepo.AssertExpectations(t)
	})

	t.Run("disabling is always allowed", func(t *testing.T) {
		switchRepo := new(MockSwitchRepository)
		svc := newTestService(switchRepo, nil, now)

		req := valid
		req.IsEnabled = false
		req.Recipients = nil

		epoch := 0
		delivered := &model.Switch{UserID: "user-1", Epoch: 0, DeliveredEpoch: &epoch}
		switchRepo.On("GetByUserID", ctx, "user-1").Return(delivered, nil)
		switchRepo.On("Upsert", ctx, req).Return(&model.Switch{UserID: "user-1"}, nil)

		_, err := svc.UpdateSettings(ctx, req)
		require.NoError(t, err)
	})
}

func TestSwitchService_Status(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	switchRepo := new(MockSwitchRepository)
	svc := newTestService(switchRepo, nil, now)

	last := now.Add(-5 * 24 * time.Hour)
	sw := &model.Switch{
		UserID:        "user-1",
		IsEnabled:     true,
		FrequencyDays: 7,
		LastCheckIn:   &last,
	}
	switchRepo.On("GetByUserID", ctx, "user-1").Return(sw, nil)

	status, err := svc.Status(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 2, status.Evaluation.DaysLeft)
	assert.Equal(t, countdown.UrgencyCritical, status.Evaluation.Urgency)
	assert.False(t, status.Evaluation.IsOverdue)
}

func TestSwitchService_Deliveries(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	deliveryRepo := new(MockDeliveryRepository)
	svc := newTestService(new(MockSwitchRepository), deliveryRepo, now)

	userID := "user-1"
	filter := model.DeliveryFilter{UserID: &userID, Desc: true}
	expected := []*model.Delivery{{ID: 1, UserID: userID, Status: model.DeliveryStatusSent}}
	deliveryRepo.On("List", ctx, filter).Return(expected, int64(1), nil)

	items, total, err := svc.Deliveries(ctx, filter)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, expected, items)
}
