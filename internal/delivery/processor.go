package delivery

import (
	"context"
	"encoding/json"

	"github.com/finvault/lastwish-gateway/internal/model"
	"github.com/finvault/lastwish-gateway/internal/queue"
	"github.com/finvault/lastwish-gateway/pkg/logger"
)

// Processor adapts the Trigger to the queue consumer loop.
type Processor struct {
	trigger *Trigger
}

func NewProcessor(trigger *Trigger) *Processor {
	return &Processor{trigger: trigger}
}

func (p *Processor) GetType() string {
	return "delivery"
}

func (p *Processor) Process(ctx context.Context, queueMessage *queue.Message) error {
	var job model.DeliveryJob
	if err := json.Unmarshal(queueMessage.Data, &job); err != nil {
		logger.Error("Failed to unmarshal delivery job", "error", err)
		return err // move to DLQ, a malformed job never succeeds
	}

	return p.trigger.Deliver(ctx, &job)
}
