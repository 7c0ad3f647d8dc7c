package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange names an AMQP exchange.
type Exchange string

// Queue names an AMQP queue.
type Queue string

// RoutingKey is an AMQP routing key.
type RoutingKey string

const (
	ExchangeFlows Exchange = "uxflow.flows"
	ExchangeDLQ   Exchange = "uxflow.dlq"
)

const (
	QueueFlowJobs    Queue = "flows.jobs"    // flow.requested, consumed by workers
	QueueFlowResults Queue = "flows.results" // flow.completed and job.completed
	QueueDLQFlows    Queue = "dlq.flows"
)

const (
	RoutingKeyJob    RoutingKey = "job"
	RoutingKeyResult RoutingKey = "result"
	RoutingKeyDLQ    RoutingKey = "flows"
)

type binding struct {
	queue      Queue
	routingKey RoutingKey
	exchange   Exchange
	args       amqp.Table
}

func topology() []binding {
	dlqArgs := amqp.Table{
		"x-dead-letter-exchange":    string(ExchangeDLQ),
		"x-dead-letter-routing-key": string(RoutingKeyDLQ),
	}
	return []binding{
		{QueueFlowJobs, RoutingKeyJob, ExchangeFlows, dlqArgs},
		{QueueFlowResults, RoutingKeyResult, ExchangeFlows, nil},
		{QueueDLQFlows, RoutingKeyDLQ, ExchangeDLQ, nil},
	}
}

// SetupTopology declares the exchanges, queues and bindings. It is
// idempotent.
func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		for _, ex := range []Exchange{ExchangeFlows, ExchangeDLQ} {
			if err := ch.ExchangeDeclare(string(ex), "direct", true, false, false, false, nil); err != nil {
				return fmt.Errorf("declare exchange %s: %w", ex, err)
			}
		}

		for _, b := range topology() {
			if _, err := ch.QueueDeclare(string(b.queue), true, false, false, false, b.args); err != nil {
				return fmt.Errorf("declare queue %s: %w", b.queue, err)
			}
			if err := ch.QueueBind(string(b.queue), string(b.routingKey), string(b.exchange), false, nil); err != nil {
				return fmt.Errorf("bind queue %s to %s: %w", b.queue, b.exchange, err)
			}
		}
		return nil
	})
}
