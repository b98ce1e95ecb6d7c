package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-rfq/internal/jobs"
)

// TaskQuotationExpiry sweeps quoted quotations whose validity has ended.
const TaskQuotationExpiry = "quotation:expire"

// QuotationExpirer moves overdue quotes to expired and reports how many it moved.
type QuotationExpirer interface {
	ExpireDue(ctx context.Context, now time.Time) (int, error)
}

// QuotationExpiryPayload carries scheduling metadata. A zero AsOf means "now".
type QuotationExpiryPayload struct {
	AsOf time.Time `json:"as_of,omitempty"`
}

// NewQuotationExpiryTask constructs the sweep task.
func NewQuotationExpiryTask(asOf time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(QuotationExpiryPayload{AsOf: asOf})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskQuotationExpiry, body, asynq.Queue(QueueDefault), asynq.Unique(10*time.Minute)), nil
}

// QuotationExpiryJob runs the expiry sweep.
type QuotationExpiryJob struct {
	Expirer QuotationExpirer
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewQuotationExpiryJob wires the sweep handler.
func NewQuotationExpiryJob(expirer QuotationExpirer, logger *slog.Logger, metrics *jobmetrics.Metrics) *QuotationExpiryJob {
	return &QuotationExpiryJob{
		Expirer: expirer,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes one sweep.
func (j *QuotationExpiryJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Expirer == nil {
		return errors.New("quotation expiry: handler not configured")
	}
	var payload QuotationExpiryPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	asOf := payload.AsOf
	if asOf.IsZero() {
		asOf = j.now()
	}

	tracker := j.metrics().Track(TaskQuotationExpiry)
	logger := j.logger().With(slog.Time("as_of", asOf))
	start := time.Now()

	expired, err := j.Expirer.ExpireDue(ctx, asOf)
	j.metrics().AddExpired(expired)
	if err != nil {
		logger.Error("quotation expiry sweep incomplete", slog.Int("expired", expired), slog.Any("error", err))
		return tracker.End(err)
	}
	logger.Info("quotation expiry sweep completed",
		slog.Int("expired", expired),
		slog.Duration("duration", time.Since(start)))
	return tracker.End(nil)
}

func (j *QuotationExpiryJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskQuotationExpiry))
	}
	return slog.Default().With(slog.String("job", TaskQuotationExpiry))
}

func (j *QuotationExpiryJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *QuotationExpiryJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
