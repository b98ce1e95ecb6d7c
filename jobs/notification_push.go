package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-rfq/internal/jobs"
	"github.com/odyssey-erp/odyssey-rfq/internal/notification"
)

// Pusher delivers a notification to the recipient's devices.
type Pusher interface {
	Push(ctx context.Context, payload notification.PushPayload) error
}

// LogPusher records pushes in the worker log. It stands in until a device gateway is configured.
type LogPusher struct {
	Logger *slog.Logger
}

// Push logs the payload.
func (p LogPusher) Push(_ context.Context, payload notification.PushPayload) error {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("push notification",
		slog.String("notification_id", payload.NotificationID.String()),
		slog.String("recipient_id", payload.RecipientID),
		slog.String("recipient_role", payload.RecipientRole),
		slog.String("priority", string(payload.Priority)),
		slog.String("title", payload.Title))
	return nil
}

// NotificationPushJob handles notification.TaskPush tasks.
type NotificationPushJob struct {
	Pusher  Pusher
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewNotificationPushJob wires the push handler.
func NewNotificationPushJob(pusher Pusher, logger *slog.Logger, metrics *jobmetrics.Metrics) *NotificationPushJob {
	if pusher == nil {
		pusher = LogPusher{Logger: logger}
	}
	return &NotificationPushJob{Pusher: pusher, Logger: logger, Metrics: metrics}
}

// Handle delivers one push.
func (j *NotificationPushJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload notification.PushPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.NotificationID == uuid.Nil || (payload.RecipientID == "" && payload.RecipientRole == "") {
		return fmt.Errorf("notification push: incomplete payload: %w", asynq.SkipRetry)
	}
	metrics := j.Metrics
	if metrics == nil {
		metrics = defaultJobMetrics
	}
	tracker := metrics.Track(notification.TaskPush)
	if err := j.Pusher.Push(ctx, payload); err != nil {
		logger := j.Logger
		if logger == nil {
			logger = slog.Default()
		}
		logger.Warn("push notification failed",
			slog.String("notification_id", payload.NotificationID.String()),
			slog.Any("error", err))
		return tracker.End(err)
	}
	audience := "user"
	if payload.RecipientID == "" {
		audience = payload.RecipientRole
	}
	metrics.AddPushed(audience)
	return tracker.End(nil)
}
