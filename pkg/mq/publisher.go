package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/devicelab-dev/uxflow/pkg/core"
	"github.com/devicelab-dev/uxflow/pkg/flow"
)

// MessageType identifies the payload of a Message.
type MessageType string

const (
	MessageTypeFlowRequested MessageType = "flow.requested"
	MessageTypeFlowCompleted MessageType = "flow.completed"
	MessageTypeJobCompleted  MessageType = "job.completed"
	MessageTypeJobRejected   MessageType = "job.rejected"
)

// Message is the JSON envelope of every queue message.
type Message struct {
	ID        string          `json:"id"`
	Type      MessageType     `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// FlowJobPayload asks a worker to run one or more inline flows.
type FlowJobPayload struct {
	JobID string          `json:"job_id"`
	Flows []flow.Document `json:"flows"`
}

// FlowCompletedPayload carries one finished flow result.
type FlowCompletedPayload struct {
	JobID  string           `json:"job_id,omitempty"`
	Result *core.FlowResult `json:"result"`
}

// JobCompletedPayload summarizes a finished job.
type JobCompletedPayload struct {
	JobID       string `json:"job_id"`
	RunID       string `json:"run_id"`
	TotalFlows  int    `json:"total_flows"`
	PassedFlows int    `json:"passed_flows"`
	FailedFlows int    `json:"failed_flows"`
	DurationMs  int64  `json:"duration_ms"`
}

// JobRejectedPayload reports a job that could not be run at all.
type JobRejectedPayload struct {
	JobID string `json:"job_id"`
	Error string `json:"error"`
}

// NewMessage wraps payload in an envelope with a fresh ID.
func NewMessage(msgType MessageType, payload any) (*Message, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Message{
		ID:        uuid.NewString(),
		Type:      msgType,
		Payload:   body,
		Timestamp: time.Now().UTC(),
	}, nil
}

// ParsePayload decodes the payload of msg into T.
func ParsePayload[T any](msg *Message) (T, error) {
	var out T
	if len(msg.Payload) == 0 {
		return out, fmt.Errorf("empty payload")
	}
	if err := json.Unmarshal(msg.Payload, &out); err != nil {
		return out, fmt.Errorf("unmarshal payload: %w", err)
	}
	return out, nil
}

// Publisher publishes messages through a Connection.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher creates a Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{conn: conn, logger: logger}
}

// Publish sends msg as a persistent JSON message.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(ctx, string(exchange), string(routingKey), false, false,
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				MessageId:    msg.ID,
				Type:         string(msg.Type),
				Timestamp:    msg.Timestamp,
				Body:         body,
			},
		)
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
		}

		p.logger.Debug("published message",
			"exchange", exchange,
			"routing_key", routingKey,
			"message_id", msg.ID,
			"type", msg.Type,
		)
		return nil
	})
}

// PublishJSON wraps payload in a new envelope and publishes it.
func (p *Publisher) PublishJSON(ctx context.Context, exchange Exchange, routingKey RoutingKey, msgType MessageType, payload any) error {
	msg, err := NewMessage(msgType, payload)
	if err != nil {
		return err
	}
	return p.Publish(ctx, exchange, routingKey, msg)
}

// PublishFlowJob enqueues inline flows for a worker and returns the job ID.
func (p *Publisher) PublishFlowJob(ctx context.Context, docs []flow.Document) (string, error) {
	payload := FlowJobPayload{JobID: uuid.NewString(), Flows: docs}
	if err := p.PublishJSON(ctx, ExchangeFlows, RoutingKeyJob, MessageTypeFlowRequested, payload); err != nil {
		return "", err
	}
	return payload.JobID, nil
}

// jsonPublisher is the part of Publisher the worker and ResultSink need.
type jsonPublisher interface {
	PublishJSON(ctx context.Context, exchange Exchange, routingKey RoutingKey, msgType MessageType, payload any) error
}

// ResultSink publishes every finished flow result as flow.completed.
type ResultSink struct {
	pub jsonPublisher
}

// NewResultSink returns an executor.ResultSink publishing through p.
func NewResultSink(p *Publisher) *ResultSink {
	return &ResultSink{pub: p}
}

// WriteResult publishes res to the results queue.
func (s *ResultSink) WriteResult(ctx context.Context, res *core.FlowResult) error {
	return s.pub.PublishJSON(ctx, ExchangeFlows, RoutingKeyResult, MessageTypeFlowCompleted,
		FlowCompletedPayload{Result: res})
}
