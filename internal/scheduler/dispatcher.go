package scheduler

import (
	"context"
	"strconv"

	"github.com/finvault/lastwish-gateway/internal/model"
	"github.com/finvault/lastwish-gateway/internal/queue"
)

// QueueDispatcher publishes delivery jobs onto the redis stream consumed
// by the delivery workers.
type QueueDispatcher struct {
	queue *queue.Queue
}

func NewQueueDispatcher(q *queue.Queue) *QueueDispatcher {
	return &QueueDispatcher{queue: q}
}

func (d *QueueDispatcher) Dispatch(ctx context.Context, job *model.DeliveryJob) error {
	_, err := d.queue.PublishJSON(ctx, job, map[string]string{
		"user_id":   job.UserID,
		"switch_id": strconv.FormatInt(job.SwitchID, 10),
	})
	return err
}
