package handlers

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/finvault/lastwish-gateway/internal/countdown"
	"github.com/finvault/lastwish-gateway/internal/model"
	"github.com/finvault/lastwish-gateway/internal/services"
	xhttp "github.com/finvault/lastwish-gateway/pkg/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
)

type MockSwitchService struct {
	mock.Mock
}

func (m *MockSwitchService) CheckIn(ctx context.Context, userID string) (*model.Switch, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Switch), args.Error(1)
}

func (m *MockSwitchService) UpdateSettings(ctx context.Context, p model.SwitchUpsertRequest) (*model.Switch, error) {
	args := m.Called(ctx, p)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Switch), args.Error(1)
}

func (m *MockSwitchService) Status(ctx context.Context, userID string) (*services.SwitchStatus, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.SwitchStatus), args.Error(1)
}

func (m *MockSwitchService) Reset(ctx context.Context, userID string) (*model.Switch, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Switch), args.Error(1)
}

func (m *MockSwitchService) Deliveries(ctx context.Context, f model.DeliveryFilter) ([]*model.Delivery, int64, error) {
	args := m.Called(ctx, f)
	if args.Get(0) == nil {
		return nil, args.Get(1).(int64), args.Error(2)
	}
	return args.Get(0).([]*model.Delivery), args.Get(1).(int64), args.Error(2)
}

func setupTestContext(method, path string, body []byte) *xhttp.RequestCtx {
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.SetMethod(method)
	ctx.Request.SetRequestURI(path)
	if body != nil {
		ctx.Request.SetBody(body)
	}
	return ctx
}

func TestSwitchHandler_CheckIn(t *testing.T) {
	t.Run("successful check-in", func(t *testing.T) {
		svc := new(MockSwitchService)
		handler := NewSwitchHandler(svc)

		now := time.Now().UTC()
		expected := &model.Switch{ID: 1, UserID: "user-1", LastCheckIn: &now}
		svc.On("CheckIn", mock.Anything, "user-1").Return(expected, nil)

		body, _ := json.Marshal(checkInRequest{UserID: "user-1"})
		ctx := setupTestContext("POST", "/last-wish/check-in", body)
		handler.CheckIn(ctx)

		assert.Equal(t, 200, ctx.Response.StatusCode())

		var response model.Switch
		err := json.Unmarshal(ctx.Response.Body(), &response)
		require.NoError(t, err)
		assert.Equal(t, "user-1", response.UserID)
		assert.NotNil(t, response.LastCheckIn)

		svc.AssertExpectations(t)
	})

	t.Run("invalid JSON", func(t *testing.T) {
		svc := new(MockSwitchService)
		handler := NewSwitchHandler(svc)

		ctx := setupTestContext("POST", "/last-wish/check-in", []byte("not json"))
		handler.CheckIn(ctx)

		assert.Equal(t, 400, ctx.Response.StatusCode())
	})

	t.Run("missing user_id", func(t *testing.T) {
		svc := new(MockSwitchService)
		handler := NewSwitchHandler(svc)

		ctx := setupTestContext("POST", "/last-wish/check-in", []byte("{}"))
		handler.CheckIn(ctx)

		assert.Equal(t, 400, ctx.Response.StatusCode())
	})

	t.Run("terminal switch returns conflict", func(t *testing.T) {
		svc := new(MockSwitchService)
		handler := NewSwitchHandler(svc)

		svc.On("CheckIn", mock.Anything, "user-1").Return(nil, model.ErrAlreadyDelivered)

		body, _ := json.Marshal(checkInRequest{UserID: "user-1"})
		ctx := setupTestContext("POST", "/last-wish/check-in", body)
		handler.CheckIn(ctx)

		assert.Equal(t, 409, ctx.Response.StatusCode())
	})

	t.Run("unknown switch returns not found", func(t *testing.T) {
		svc := new(MockSwitchService)
		handler := NewSwitchHandler(svc)

		svc.On("CheckIn", mock.Anything, "nobody").Return(nil, model.ErrSwitchNotFound)

		body, _ := json.Marshal(checkInRequest{UserID: "nobody"})
		ctx := setupTestContext("POST", "/last-wish/check-in", body)
		handler.CheckIn(ctx)

		assert.Equal(t, 404, ctx.Response.StatusCode())
	})
}

func TestSwitchHandler_GetStatus(t *testing.T) {
	t.Run("returns evaluation", func(t *testing.T) {
		svc := new(MockSwitchService)
		handler := NewSwitchHandler(svc)

		last := time.Now().UTC().Add(-5 * 24 * time.Hour)
		status := &services.SwitchStatus{
			Switch: &model.Switch{UserID: "user-1", IsEnabled: true, FrequencyDays: 7, LastCheckIn: &last},
			Evaluation: countdown.Evaluation{
				DaysLeft: 2,
				Urgency:  countdown.UrgencyCritical,
				Progress: 71.4,
			},
		}
		svc.On("Status", mock.Anything, "user-1").Return(status, nil)

		ctx := setupTestContext("GET", "/last-wish/status?user_id=user-1", nil)
		handler.GetStatus(ctx)

		assert.Equal(t, 200, ctx.Response.StatusCode())

		var response services.SwitchStatus
		err := json.Unmarshal(ctx.Response.Body(), &response)
		require.NoError(t, err)
		assert.Equal(t, 2, response.Evaluation.DaysLeft)
		assert.Equal(t, countdown.UrgencyCritical, response.Evaluation.Urgency)
	})

	t.Run("missing user_id", func(t *testing.T) {
		svc := new(MockSwitchService)
		handler := NewSwitchHandler(svc)

		ctx := setupTestContext("GET", "/last-wish/status", nil)
		handler.GetStatus(ctx)

		assert.Equal(t, 400, ctx.Response.StatusCode())
	})
}

func TestSwitchHandler_UpdateSettings(t *testing.T) {
	t.Run("successful update", func(t *testing.T) {
		svc := new(MockSwitchService)
		handler := NewSwitchHandler(svc)

		req := model.SwitchUpsertRequest{
			UserID:        "user-1",
			IsEnabled:     true,
			FrequencyDays: 30,
			Recipients:    []model.Recipient{{Name: "Alice", Email: "alice@example.com"}},
		}
		expected := &model.Switch{ID: 1, UserID: "user-1", IsEnabled: true, FrequencyDays: 30}
		svc.On("UpdateSettings", mock.Anything, req).Return(expected, nil)

		body, _ := json.Marshal(req)
		ctx := setupTestContext("PUT", "/last-wish/settings", body)
		handler.UpdateSettings(ctx)

		assert.Equal(t, 200, ctx.Response.StatusCode())
		svc.AssertExpectations(t)
	})

	t.Run("validation failure surfaces as bad request", func(t *testing.T) {
		svc := new(MockSwitchService)
		handler := NewSwitchHandler(svc)

		req := model.SwitchUpsertRequest{UserID: "user-1", IsEnabled: true, FrequencyDays: 30}
		svc.On("UpdateSettings", mock.Anything, req).Return(nil, model.ErrNotEnabled)

		body, _ := json.Marshal(req)
		ctx := setupTestContext("PUT", "/last-wish/settings", body)
		handler.UpdateSettings(ctx)

		assert.Equal(t, 400, ctx.Response.StatusCode())
	})
}

func TestSwitchHandler_Reset(t *testing.T) {
	svc := new(MockSwitchService)
	handler := NewSwitchHandler(svc)

	fresh := &model.Switch{ID: 1, UserID: "user-1", IsEnabled: true, Epoch: 1}
	svc.On("Reset", mock.Anything, "user-1").Return(fresh, nil)

	body, _ := json.Marshal(checkInRequest{UserID: "user-1"})
	ctx := setupTestContext("POST", "/last-wish/reset", body)
	handler.Reset(ctx)

	assert.Equal(t, 200, ctx.Response.StatusCode())

	var response model.Switch
	err := json.Unmarshal(ctx.Response.Body(), &response)
	require.NoError(t, err)
	assert.Equal(t, 1, response.Epoch)
}

func TestSwitchHandler_ListDeliveries(t *testing.T) {
	svc := new(MockSwitchService)
	handler := NewSwitchHandler(svc)

	now := time.Now().UTC()
	items := []*model.Delivery{
		{ID: 1, UserID: "user-1", RecipientEmail: "alice@example.com", Status: model.DeliveryStatusSent, SentAt: &now},
	}
	svc.On("Deliveries", mock.Anything, mock.MatchedBy(func(f model.DeliveryFilter) bool {
		return f.UserID != nil && *f.UserID == "user-1" && f.Desc
	})).Return(items, int64(1), nil)

	ctx := setupTestContext("GET", "/last-wish/deliveries?user_id=user-1", nil)
	handler.ListDeliveries(ctx)

	assert.Equal(t, 200, ctx.Response.StatusCode())

	var response deliveryListResponse
	err := json.Unmarshal(ctx.Response.Body(), &response)
	require.NoError(t, err)
	assert.Equal(t, int64(1), response.Total)
	require.Len(t, response.Items, 1)
	assert.Equal(t, "alice@example.com", response.Items[0].RecipientEmail)
}
