package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/shaiso/Stellara/internal/domain"
)

// MessageType — тип сообщения в очереди.
type MessageType string

// Типы сообщений.
const (
	MessageTypeStepReady        MessageType = "step.ready"
	MessageTypeStepDeadLettered MessageType = "step.dead_lettered"
)

// Publisher публикует уведомления в RabbitMQ.
// Реализует orchestrator.Notifier.
type Publisher struct {
	conn   *Connection
	now    func() time.Time
	logger *slog.Logger
}

// NewPublisher создаёт новый Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		conn:   conn,
		now:    time.Now,
		logger: logger,
	}
}

// Message — конверт сообщения.
type Message struct {
	// ID — уникальный идентификатор сообщения.
	ID string `json:"id"`

	// Type — тип сообщения.
	Type MessageType `json:"type"`

	// Payload — полезная нагрузка.
	Payload any `json:"payload"`

	// Timestamp — время создания.
	Timestamp time.Time `json:"timestamp"`
}

// StepReadyPayload — задание шага стало видимым в очереди.
type StepReadyPayload struct {
	TaskID     uuid.UUID `json:"task_id"`
	StepID     uuid.UUID `json:"step_id"`
	WorkflowID uuid.UUID `json:"workflow_id"`
	Position   int       `json:"position"`
}

// StepDeadLetteredPayload — задание шага исчерпало попытки.
type StepDeadLetteredPayload struct {
	DeadLetterID uuid.UUID `json:"dead_letter_id"`
	TaskID       uuid.UUID `json:"task_id"`
	StepID       uuid.UUID `json:"step_id"`
	WorkflowID   uuid.UUID `json:"workflow_id"`
	Attempts     int       `json:"attempts"`
	Reason       string    `json:"reason"`
}

// NewMessage создаёт конверт с новым ID.
func NewMessage(msgType MessageType, payload any, ts time.Time) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Type:      msgType,
		Payload:   payload,
		Timestamp: ts,
	}
}

// Publish публикует сообщение в указанный exchange с routing key.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(
			ctx,
			string(exchange),   // exchange
			string(routingKey), // routing key
			false,
			false,
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

// StepReady публикует step.ready. Потребитель: Worker.
func (p *Publisher) StepReady(ctx context.Context, task *domain.QueueTask) error {
	msg := NewMessage(MessageTypeStepReady, StepReadyPayload{
		TaskID:     task.ID,
		StepID:     task.StepID,
		WorkflowID: task.WorkflowID,
		Position:   task.Position,
	}, p.now())

	return p.Publish(ctx, ExchangeSteps, RoutingKeyReady, msg)
}

// TaskDeadLettered публикует step.dead_lettered.
func (p *Publisher) TaskDeadLettered(ctx context.Context, dl *domain.DeadLetter) error {
	msg := NewMessage(MessageTypeStepDeadLettered, StepDeadLetteredPayload{
		DeadLetterID: dl.ID,
		TaskID:       dl.TaskID,
		StepID:       dl.StepID,
		WorkflowID:   dl.WorkflowID,
		Attempts:     dl.Attempts,
		Reason:       dl.Reason,
	}, p.now())

	return p.Publish(ctx, ExchangeDLQ, RoutingKeyDeadLettered, msg)
}
