package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	amqp "github.com/rabbitmq/amqp091-go"
	"interview-orchestrator/config"
	"sync"
	"time"
)

type Publisher struct {
	conn     *amqp.Connection
	cfg      *config.RabbitMQ
	topology Topology

	mu       sync.Mutex
	ch       *amqp.Channel
	declared bool
}

func NewPublisher(conn *amqp.Connection, cfg *config.RabbitMQ, topology Topology) *Publisher {
	return &Publisher{conn: conn, cfg: cfg, topology: topology}
}

// PublishJSON sends v as a persistent message on the topology's routing key.
// The channel is reopened if the broker closed it.
func (p *Publisher) PublishJSON(ctx context.Context, v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ch == nil || p.ch.IsClosed() {
		ch, err := p.conn.Channel()
		if err != nil {
			return fmt.Errorf("open channel: %w", err)
		}
		p.ch = ch
		p.declared = false
	}
	if !p.declared {
		if err := p.topology.Declare(ctx, p.ch, p.cfg.Kind); err != nil {
			return err
		}
		p.declared = true
	}

	return p.ch.PublishWithContext(ctx, p.topology.Exchange, p.topology.RoutingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	})
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == nil {
		return nil
	}
	return p.ch.Close()
}
