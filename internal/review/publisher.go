package review

import (
	"context"
	"strconv"
	"time"

	"eventdesk/internal/broker"
	"eventdesk/internal/constants"
	"eventdesk/internal/domain"
	"eventdesk/pkg/logging"
	"eventdesk/pkg/models"
	"eventdesk/pkg/tracing"
)

// Publisher announces acknowledged verdicts on the broker. A Publisher
// without a producer or topic publishes nothing.
type Publisher struct {
	producer broker.Producer
	topic    string
	now      func() time.Time
}

func NewPublisher(producer broker.Producer, topic string) *Publisher {
	return &Publisher{producer: producer, topic: topic, now: time.Now}
}

// Publish sends an application_verdict_changed message keyed by the
// application ID.
func (p *Publisher) Publish(ctx context.Context, app domain.Application) error {
	if p == nil || p.producer == nil || p.topic == "" {
		return nil
	}

	payload := models.VerdictChanged{
		ApplicationID: app.ID,
		EventID:       app.EventID,
		Status:        app.Status.String(),
		Comment:       app.Comment,
		CommittedAt:   p.now(),
	}.Payload()

	traceID := tracing.TraceID(ctx)
	if traceID == "" {
		traceID = logging.GetTraceID(ctx)
	}

	envelope := models.NewMessageEnvelopeBuilder().
		WithType(models.EventTypeApplicationVerdictChanged).
		WithSource(constants.ServiceName).
		WithPayload(payload).
		WithTraceID(traceID).
		WithRequestID(logging.GetRequestID(ctx)).
		WithPartitionKey(strconv.FormatInt(app.ID, 10)).
		Build()

	return p.producer.Publish(ctx, p.topic, *envelope)
}
