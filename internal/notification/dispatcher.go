package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// TaskPush is the asynq task type delivering a stored notification to devices.
const TaskPush = "notification:push"

// PushPayload identifies the notification a push job delivers.
type PushPayload struct {
	NotificationID uuid.UUID `json:"notification_id"`
	RecipientID    string    `json:"recipient_id,omitempty"`
	RecipientRole  string    `json:"recipient_role,omitempty"`
	Title          string    `json:"title"`
	Message        string    `json:"message"`
	Priority       Priority  `json:"priority"`
}

// NewPushTask constructs an asynq task for push delivery.
func NewPushTask(n Notification) (*asynq.Task, error) {
	body, err := json.Marshal(PushPayload{
		NotificationID: n.ID,
		RecipientID:    n.RecipientID,
		RecipientRole:  string(n.RecipientRole),
		Title:          n.Title,
		Message:        n.Message,
		Priority:       n.Priority,
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPush, body, asynq.MaxRetry(5)), nil
}

// Enqueuer is satisfied by *asynq.Client.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Dispatcher persists notifications and schedules their push. It implements Sink.
type Dispatcher struct {
	store    Store
	enqueuer Enqueuer
	queue    string
	clock    func() time.Time
}

// NewDispatcher wires the dispatcher. enqueuer may be nil to store without pushing.
func NewDispatcher(store Store, enqueuer Enqueuer, queue string) *Dispatcher {
	return &Dispatcher{
		store:    store,
		enqueuer: enqueuer,
		queue:    queue,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Send stores n and enqueues its push.
func (d *Dispatcher) Send(ctx context.Context, n Notification) error {
	if n.RecipientID == "" && n.RecipientRole == "" {
		return fmt.Errorf("notification %q has no recipient", n.Title)
	}
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = d.clock()
	}
	if n.Priority == "" {
		n.Priority = PriorityNormal
	}
	if err := d.store.Insert(ctx, n); err != nil {
		return err
	}
	if d.enqueuer == nil {
		return nil
	}
	task, err := NewPushTask(n)
	if err != nil {
		return fmt.Errorf("build push task: %w", err)
	}
	opts := []asynq.Option{}
	if d.queue != "" {
		opts = append(opts, asynq.Queue(d.queue))
	}
	if _, err := d.enqueuer.EnqueueContext(ctx, task, opts...); err != nil {
		return fmt.Errorf("enqueue push %s: %w", n.ID, err)
	}
	return nil
}
