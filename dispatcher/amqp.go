package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"interview-orchestrator/config"
	"interview-orchestrator/dto"
	"interview-orchestrator/pkg/rabbitmq"
)

type amqpTransport struct {
	conn      *amqp.Connection
	cfg       *config.RabbitMQ
	topology  rabbitmq.Topology
	workers   int
	publisher *rabbitmq.Publisher
}

// NewAMQPTransport publishes job messages to the broker and consumes them
// with a worker pool. Deliveries that keep failing end up in the DLQ.
func NewAMQPTransport(conn *amqp.Connection, cfg *config.RabbitMQ, workers int) Transport {
	topology := rabbitmq.JobTopology(cfg.ExchangeName)
	return &amqpTransport{
		conn:      conn,
		cfg:       cfg,
		topology:  topology,
		workers:   workers,
		publisher: rabbitmq.NewPublisher(conn, cfg, topology),
	}
}

func (t *amqpTransport) Publish(ctx context.Context, msg dto.JobMessage) error {
	return t.publisher.PublishJSON(ctx, msg)
}

func (t *amqpTransport) Run(ctx context.Context, deliver Handler) error {
	defer t.publisher.Close()
	consumer := rabbitmq.NewConsumer(t.conn, t.cfg, t.topology, t.workers, JobHandler)
	return consumer.Consume(ctx, deliver)
}

// JobHandler decodes a delivery and hands it to the dispatcher.
func JobHandler(ctx context.Context, msg amqp.Delivery, deliver Handler) error {
	var job dto.JobMessage
	if err := json.Unmarshal(msg.Body, &job); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to unmarshal job message")
		return errors.Join(rabbitmq.ErrNonRetryable, err)
	}

	zerolog.Ctx(ctx).Info().
		Str("kind", string(job.Kind)).
		Str("job_id", job.EntityID.String()).
		Int64("generation", job.Generation).
		Msg("received job message")

	return deliver(ctx, job)
}
