package delivery

import (
	"context"
	"errors"
	"testing"
	"time"

	gateway "github.com/finvault/lastwish-gateway/internal/gateways"
	"github.com/finvault/lastwish-gateway/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockSwitchRepository struct {
	mock.Mock
}

func (m *MockSwitchRepository) GetByID(ctx context.Context, id int64) (*model.Switch, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Switch), args.Error(1)
}

func (m *MockSwitchRepository) MarkDelivered(ctx context.Context, id int64, now time.Time) error {
	args := m.Called(ctx, id, now)
	return args.Error(0)
}

func (m *MockSwitchRepository) ReleaseClaim(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

type MockDeliveryRepository struct {
	mock.Mock
}

func (m *MockDeliveryRepository) Create(ctx context.Context, d *model.Delivery) (*model.Delivery, error) {
	args := m.Called(ctx, d)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Delivery), args.Error(1)
}

type MockMailGateway struct {
	mock.Mock
}

func (m *MockMailGateway) SendEmail(ctx context.Context, req *gateway.SendRequest) (*gateway.SendResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.SendResponse), args.Error(1)
}

var triggerNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func newTestTrigger(switches *MockSwitchRepository, deliveries *MockDeliveryRepository, mail *MockMailGateway) *Trigger {
	idem := NewIdempotency(newMockRedisAdapter(), DefaultIdempotencyConfig())
	trigger := NewTrigger(switches, deliveries, mail, NewSummaryExporter(), idem)
	trigger.now = func() time.Time { return triggerNow }
	return trigger
}

func claimedSwitch(id int64, recipients ...model.Recipient) *model.Switch {
	last := triggerNow.Add(-10 * 24 * time.Hour)
	return &model.Switch{
		ID:            id,
		UserID:        "user-1",
		IsEnabled:     true,
		FrequencyDays: 7,
		LastCheckIn:   &last,
		Recipients:    recipients,
		Delivering:    true,
		Epoch:         0,
	}
}

func deliveredResponse() *gateway.SendResponse {
	return &gateway.SendResponse{Status: gateway.StatusDelivered, DeliveredAt: &triggerNow}
}

func job(switchID int64, epoch int) *model.DeliveryJob {
	return &model.DeliveryJob{
		SwitchID:  switchID,
		UserID:    "user-1",
		Epoch:     epoch,
		ClaimedAt: triggerNow.Add(-time.Minute),
	}
}

func TestTrigger_Deliver(t *testing.T) {
	t.Run("delivers to every recipient and marks the switch", func(t *testing.T) {
		switches := new(MockSwitchRepository)
		deliveries := new(MockDeliveryRepository)
		mail := new(MockMailGateway)
		trigger := newTestTrigger(switches, deliveries, mail)

		sw := claimedSwitch(1,
			model.Recipient{Name: "Alice", Email: "alice@example.com"},
			model.Recipient{Name: "Bob", Email: "bob@example.com"},
		)
		switches.On("GetByID", mock.Anything, int64(1)).Return(sw, nil)
		switches.On("MarkDelivered", mock.Anything, int64(1), triggerNow).Return(nil)
		mail.On("SendEmail", mock.Anything, mock.Anything).Return(deliveredResponse(), nil)

		var rows []*model.Delivery
		deliveries.On("Create", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
			rows = append(rows, args.Get(1).(*model.Delivery))
		}).Return(&model.Delivery{}, nil)

		err := trigger.Deliver(context.Background(), job(1, 0))
		require.NoError(t, err)

		mail.AssertNumberOfCalls(t, "SendEmail", 2)
		require.Len(t, rows, 2)
		for _, row := range rows {
			assert.Equal(t, model.DeliveryStatusSent, row.Status)
			assert.NotNil(t, row.SentAt)
			assert.Equal(t, "user-1", row.UserID)
		}
		switches.AssertCalled(t, "MarkDelivered", mock.Anything, int64(1), triggerNow)
	})

	t.Run("missing switch drops the job", func(t *testing.T) {
		switches := new(MockSwitchRepository)
		deliveries := new(MockDeliveryRepository)
		mail := new(MockMailGateway)
		trigger := newTestTrigger(switches, deliveries, mail)

		switches.On("GetByID", mock.Anything, int64(99)).Return(nil, model.ErrSwitchNotFound)

		err := trigger.Deliver(context.Background(), job(99, 0))
		require.NoError(t, err)

		mail.AssertNotCalled(t, "SendEmail", mock.Anything, mock.Anything)
	})

	t.Run("already delivered switch drops the job", func(t *testing.T) {
		switches := new(MockSwitchRepository)
		deliveries := new(MockDeliveryRepository)
		mail := new(MockMailGateway)
		trigger := newTestTrigger(switches, deliveries, mail)

		sw := claimedSwitch(1, model.Recipient{Name: "Alice", Email: "alice@example.com"})
		epoch := 0
		sw.DeliveredEpoch = &epoch
		sw.Delivering = false
		switches.On("GetByID", mock.Anything, int64(1)).Return(sw, nil)

		err := trigger.Deliver(context.Background(), job(1, 0))
		require.NoError(t, err)

		mail.AssertNotCalled(t, "SendEmail", mock.Anything, mock.Anything)
		switches.AssertNotCalled(t, "MarkDelivered", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("released claim drops the job", func(t *testing.T) {
		switches := new(MockSwitchRepository)
		deliveries := new(MockDeliveryRepository)
		mail := new(MockMailGateway)
		trigger := newTestTrigger(switches, deliveries, mail)

		sw := claimedSwitch(1, model.Recipient{Name: "Alice", Email: "alice@example.com"})
		sw.Delivering = false
		switches.On("GetByID", mock.Anything, int64(1)).Return(sw, nil)

		err := trigger.Deliver(context.Background(), job(1, 0))
		require.NoError(t, err)

		mail.AssertNotCalled(t, "SendEmail", mock.Anything, mock.Anything)
	})

	t.Run("epoch mismatch drops the job", func(t *testing.T) {
		switches := new(MockSwitchRepository)
		deliveries := new(MockDeliveryRepository)
		mail := new(MockMailGateway)
		trigger := newTestTrigger(switches, deliveries, mail)

		sw := claimedSwitch(1, model.Recipient{Name: "Alice", Email: "alice@example.com"})
		sw.Epoch = 2
		switches.On("GetByID", mock.Anything, int64(1)).Return(sw, nil)

		err := trigger.Deliver(context.Background(), job(1, 1))
		require.NoError(t, err)

		mail.AssertNotCalled(t, "SendEmail", mock.Anything, mock.Anything)
	})

	t.Run("partial failure releases the claim", func(t *testing.T) {
		switches := new(MockSwitchRepository)
		deliveries := new(MockDeliveryRepository)
		mail := new(MockMailGateway)
		trigger := newTestTrigger(switches, deliveries, mail)

		sw := claimedSwitch(1,
			model.Recipient{Name: "Alice", Email: "alice@example.com"},
			model.Recipient{Name: "Bob", Email: "bob@example.com"},
		)
		switches.On("GetByID", mock.Anything, int64(1)).Return(sw, nil)
		switches.On("ReleaseClaim", mock.Anything, int64(1)).Return(nil)
		mail.On("SendEmail", mock.Anything, mock.MatchedBy(func(req *gateway.SendRequest) bool {
			return req.To == "alice@example.com"
		})).Return(deliveredResponse(), nil)
		mail.On("SendEmail", mock.Anything, mock.MatchedBy(func(req *gateway.SendRequest) bool {
			return req.To == "bob@example.com"
		})).Return(nil, errors.New("provider timeout"))

		var rows []*model.Delivery
		deliveries.On("Create", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
			rows = append(rows, args.Get(1).(*model.Delivery))
		}).Return(&model.Delivery{}, nil)

		err := trigger.Deliver(context.Background(), job(1, 0))
		require.Error(t, err)
		assert.ErrorIs(t, err, model.ErrDeliveryFailed)

		switches.AssertCalled(t, "ReleaseClaim", mock.Anything, int64(1))
		switches.AssertNotCalled(t, "MarkDelivered", mock.Anything, mock.Anything, mock.Anything)

		require.Len(t, rows, 2)
		statuses := map[string]model.DeliveryStatus{}
		for _, row := range rows {
			statuses[row.RecipientEmail] = row.Status
		}
		assert.Equal(t, model.DeliveryStatusSent, statuses["alice@example.com"])
		assert.Equal(t, model.DeliveryStatusFailed, statuses["bob@example.com"])
	})

	t.Run("retry skips recipients already mailed", func(t *testing.T) {
		switches := new(MockSwitchRepository)
		deliveries := new(MockDeliveryRepository)
		mail := new(MockMailGateway)
		trigger := newTestTrigger(switches, deliveries, mail)

		sw := claimedSwitch(1,
			model.Recipient{Name: "Alice", Email: "alice@example.com"},
			model.Recipient{Name: "Bob", Email: "bob@example.com"},
		)
		switches.On("GetByID", mock.Anything, int64(1)).Return(sw, nil)
		switches.On("ReleaseClaim", mock.Anything, int64(1)).Return(nil)
		switches.On("MarkDelivered", mock.Anything, int64(1), triggerNow).Return(nil)
		deliveries.On("Create", mock.Anything, mock.Anything).Return(&model.Delivery{}, nil)

		mail.On("SendEmail", mock.Anything, mock.MatchedBy(func(req *gateway.SendRequest) bool {
			return req.To == "alice@example.com"
		})).Return(deliveredResponse(), nil)

		// bob fails on the first attempt, succeeds on the second
		bobCall := mail.On("SendEmail", mock.Anything, mock.MatchedBy(func(req *gateway.SendRequest) bool {
			return req.To == "bob@example.com"
		})).Return(nil, errors.New("provider timeout")).Once()
		mail.On("SendEmail", mock.Anything, mock.MatchedBy(func(req *gateway.SendRequest) bool {
			return req.To == "bob@example.com"
		})).Return(deliveredResponse(), nil).NotBefore(bobCall)

		err := trigger.Deliver(context.Background(), job(1, 0))
		require.Error(t, err)

		err = trigger.Deliver(context.Background(), job(1, 0))
		require.NoError(t, err)

		// alice was mailed exactly once across both attempts
		aliceCalls := 0
		for _, call := range mail.Calls {
			if req, ok := call.Arguments.Get(1).(*gateway.SendRequest); ok && req.To == "alice@example.com" {
				aliceCalls++
			}
		}
		assert.Equal(t, 1, aliceCalls)
		switches.AssertCalled(t, "MarkDelivered", mock.Anything, int64(1), triggerNow)
	})

	t.Run("held lock defers the job", func(t *testing.T) {
		switches := new(MockSwitchRepository)
		deliveries := new(MockDeliveryRepository)
		mail := new(MockMailGateway)

		idem := NewIdempotency(newMockRedisAdapter(), DefaultIdempotencyConfig())
		trigger := NewTrigger(switches, deliveries, mail, NewSummaryExporter(), idem)
		trigger.now = func() time.Time { return triggerNow }

		sw := claimedSwitch(1, model.Recipient{Name: "Alice", Email: "alice@example.com"})
		switches.On("GetByID", mock.Anything, int64(1)).Return(sw, nil)

		acquired, err := idem.AcquireLock(context.Background(), 1, 0)
		require.NoError(t, err)
		require.True(t, acquired)

		err = trigger.Deliver(context.Background(), job(1, 0))
		require.Error(t, err)
		mail.AssertNotCalled(t, "SendEmail", mock.Anything, mock.Anything)
	})

	t.Run("claim lost at mark time is not an error", func(t *testing.T) {
		switches := new(MockSwitchRepository)
		deliveries := new(MockDeliveryRepository)
		mail := new(MockMailGateway)
		trigger := newTestTrigger(switches, deliveries, mail)

		sw := claimedSwitch(1, model.Recipient{Name: "Alice", Email: "alice@example.com"})
		switches.On("GetByID", mock.Anything, int64(1)).Return(sw, nil)
		switches.On("MarkDelivered", mock.Anything, int64(1), triggerNow).Return(model.ErrClaimConflict)
		mail.On("SendEmail", mock.Anything, mock.Anything).Return(deliveredResponse(), nil)
		deliveries.On("Create", mock.Anything, mock.Anything).Return(&model.Delivery{}, nil)

		err := trigger.Deliver(context.Background(), job(1, 0))
		require.NoError(t, err)
	})

	t.Run("non delivered provider status counts as failure", func(t *testing.T) {
		switches := new(MockSwitchRepository)
		deliveries := new(MockDeliveryRepository)
		mail := new(MockMailGateway)
		trigger := newTestTrigger(switches, deliveries, mail)

		sw := claimedSwitch(1, model.Recipient{Name: "Alice", Email: "alice@example.com"})
		switches.On("GetByID", mock.Anything, int64(1)).Return(sw, nil)
		switches.On("ReleaseClaim", mock.Anything, int64(1)).Return(nil)
		mail.On("SendEmail", mock.Anything, mock.Anything).
			Return(&gateway.SendResponse{Status: gateway.StatusFailed}, nil)
		deliveries.On("Create", mock.Anything, mock.Anything).Return(&model.Delivery{}, nil)

		err := trigger.Deliver(context.Background(), job(1, 0))
		require.Error(t, err)
		assert.ErrorIs(t, err, model.ErrDeliveryFailed)
	})
}

func TestSummaryExporter_Export(t *testing.T) {
	exporter := NewSummaryExporter()
	exporter.now = func() time.Time { return triggerNow }

	last := triggerNow.Add(-10 * 24 * time.Hour)
	sw := &model.Switch{
		ID:            1,
		UserID:        "user-1",
		FrequencyDays: 7,
		LastCheckIn:   &last,
		Epoch:         2,
	}

	payload, err := exporter.Export(context.Background(), sw)
	require.NoError(t, err)
	assert.NotEmpty(t, payload.Subject)
	assert.Contains(t, payload.HTMLBody, "June 5, 2025")
	assert.Contains(t, string(payload.Attachment), `"user_id":"user-1"`)
	assert.Contains(t, string(payload.Attachment), `"epoch":2`)
}
