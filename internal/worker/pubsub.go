package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"github.com/rs/zerolog"
)

// Job types carried in JobMessage.JobType.
const (
	JobPositionRefresh = "position_refresh"
	JobHealthCheck     = "health_check"
)

// ErrUnknownJob is returned for messages with an unsupported job type.
var ErrUnknownJob = errors.New("unknown job type")

// JobMessage is the payload of a worker Pub/Sub message.
type JobMessage struct {
	JobType string `json:"job_type"`

	// MaxFailureRatio fails a position refresh when more than this share of
	// devices failed. Zero means half.
	MaxFailureRatio float64 `json:"max_failure_ratio,omitempty"`
}

// Dispatcher runs the job described by a message payload.
type Dispatcher struct {
	refreshJob  *RefreshJob
	healthCheck func(ctx context.Context) error
	logger      zerolog.Logger
}

// NewDispatcher creates a Dispatcher. healthCheck may be nil.
func NewDispatcher(refreshJob *RefreshJob, healthCheck func(ctx context.Context) error, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{refreshJob: refreshJob, healthCheck: healthCheck, logger: logger}
}

// Dispatch decodes data and runs the job. Unknown job types return
// ErrUnknownJob.
func (d *Dispatcher) Dispatch(ctx context.Context, data []byte) (string, error) {
	var msg JobMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return "", fmt.Errorf("decode message: %w", err)
	}

	switch msg.JobType {
	case JobPositionRefresh:
		return msg.JobType, d.positionRefresh(ctx, msg)
	case JobHealthCheck:
		return msg.JobType, d.runHealthCheck(ctx)
	default:
		return msg.JobType, fmt.Errorf("%w: %q", ErrUnknownJob, msg.JobType)
	}
}

func (d *Dispatcher) positionRefresh(ctx context.Context, msg JobMessage) error {
	result, err := d.refreshJob.Run(ctx)
	if err != nil {
		return err
	}

	ratio := msg.MaxFailureRatio
	if ratio <= 0 {
		ratio = 0.5
	}
	if result.Total > 0 && float64(result.Failed)/float64(result.Total) > ratio {
		return fmt.Errorf("too many refresh failures: %d/%d", result.Failed, result.Total)
	}
	return nil
}

func (d *Dispatcher) runHealthCheck(ctx context.Context) error {
	d.logger.Debug().Msg("running health check")
	if d.healthCheck == nil {
		return nil
	}
	if err := d.healthCheck(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

// PubSubHandler receives worker jobs from a Pub/Sub subscription.
type PubSubHandler struct {
	client           *pubsub.Client
	subscriber       *pubsub.Subscriber
	subscriptionName string
	dispatcher       *Dispatcher
	logger           zerolog.Logger
}

// PubSubConfig holds configuration for the Pub/Sub handler.
type PubSubConfig struct {
	ProjectID        string
	SubscriptionName string
	Dispatcher       *Dispatcher
	Logger           zerolog.Logger
}

// NewPubSubHandler creates a new Pub/Sub handler.
func NewPubSubHandler(ctx context.Context, cfg PubSubConfig) (*PubSubHandler, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	subscriber := client.Subscriber(cfg.SubscriptionName)
	subscriber.ReceiveSettings.MaxOutstandingMessages = 4
	subscriber.ReceiveSettings.MaxExtension = 5 * time.Minute

	return &PubSubHandler{
		client:           client,
		subscriber:       subscriber,
		subscriptionName: cfg.SubscriptionName,
		dispatcher:       cfg.Dispatcher,
		logger:           cfg.Logger,
	}, nil
}

// Start processes messages until ctx is done.
func (h *PubSubHandler) Start(ctx context.Context) error {
	h.logger.Info().
		Str("subscription", h.subscriptionName).
		Msg("starting pubsub handler")

	return h.subscriber.Receive(ctx, h.handleMessage)
}

// Close closes the Pub/Sub client.
func (h *PubSubHandler) Close() error {
	return h.client.Close()
}

func (h *PubSubHandler) handleMessage(ctx context.Context, msg *pubsub.Message) {
	startTime := time.Now()

	logger := h.logger.With().
		Str("message_id", msg.ID).
		Str("publish_time", msg.PublishTime.Format(time.RFC3339)).
		Logger()

	jobType, err := h.dispatcher.Dispatch(ctx, msg.Data)
	switch {
	case errors.Is(err, ErrUnknownJob):
		// Redelivery would not help.
		logger.Warn().Str("job_type", jobType).Msg("unknown job type")
		msg.Ack()
	case err != nil:
		logger.Error().Err(err).Str("job_type", jobType).Msg("job failed")
		msg.Nack()
	default:
		logger.Info().
			Str("job_type", jobType).
			Dur("duration", time.Since(startTime)).
			Msg("job completed successfully")
		msg.Ack()
	}
}
