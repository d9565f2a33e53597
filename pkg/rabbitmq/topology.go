package rabbitmq

import (
	"context"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// Topology names the exchange, queue and dead letter pair a consumer uses.
type Topology struct {
	Exchange      string
	Queue         string
	RoutingKey    string
	DLX           string
	DLQ           string
	DLQRoutingKey string
}

func JobTopology(exchange string) Topology {
	if exchange == "" {
		exchange = "interview_jobs_exchange"
	}
	return Topology{
		Exchange:      exchange,
		Queue:         "interview_jobs_queue",
		RoutingKey:    "interview.job",
		DLX:           exchange + "_dlx",
		DLQ:           "interview_jobs_queue_dlq",
		DLQRoutingKey: "dlq.interview.job",
	}
}

func (t Topology) Declare(ctx context.Context, ch *amqp.Channel, kind string) error {
	if kind == "" {
		kind = amqp.ExchangeDirect
	}

	err := ch.ExchangeDeclare(t.Exchange, kind, true, false, false, false, nil)
	if err != nil {
		zerolog.Ctx(ctx).Error().Str("exchange", t.Exchange).Msg("failed to declare exchange")
		return err
	}

	var args amqp.Table
	if t.DLX != "" {
		err = ch.ExchangeDeclare(t.DLX, kind, true, false, false, false, nil)
		if err != nil {
			zerolog.Ctx(ctx).Error().Str("exchange", t.DLX).Msg("failed to declare dlx")
			return err
		}

		dlq, err := ch.QueueDeclare(t.DLQ, true, false, false, false, nil)
		if err != nil {
			zerolog.Ctx(ctx).Error().Str("queue", t.DLQ).Msg("failed to declare dlq")
			return err
		}

		err = ch.QueueBind(dlq.Name, t.DLQRoutingKey, t.DLX, false, nil)
		if err != nil {
			zerolog.Ctx(ctx).Error().Msg("failed to bind dlq")
			return err
		}

		args = amqp.Table{
			"x-dead-letter-exchange":    t.DLX,
			"x-dead-letter-routing-key": t.DLQRoutingKey,
		}
	}

	q, err := ch.QueueDeclare(t.Queue, true, false, false, false, args)
	if err != nil {
		zerolog.Ctx(ctx).Error().Str("queue", t.Queue).Msg("failed to declare queue")
		return err
	}

	err = ch.QueueBind(q.Name, t.RoutingKey, t.Exchange, false, nil)
	if err != nil {
		zerolog.Ctx(ctx).Error().Str("queue", t.Queue).Msg("failed to bind queue")
		return err
	}
	return nil
}
