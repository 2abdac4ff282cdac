package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

type (
	Exchange   string
	Queue      string
	RoutingKey string
)

const (
	// ExchangeSteps — уведомления о готовых заданиях.
	ExchangeSteps Exchange = "stellara.steps"
	// ExchangeDLQ — уведомления о dead-letter для алертинга.
	ExchangeDLQ Exchange = "stellara.dlq"

	QueueStepsReady Queue = "steps.ready"
	QueueDLQSteps   Queue = "dlq.steps"

	RoutingKeyReady        RoutingKey = "ready"
	RoutingKeyDeadLettered RoutingKey = "dead_lettered"
)

// readyTTL — через минуту воркеры уже опросили очередь сами.
const readyTTL = int32(60_000)

// binding — очередь, её аргументы и откуда она получает сообщения.
type binding struct {
	exchange Exchange
	key      RoutingKey
	queue    Queue
	args     amqp.Table
}

var topology = []binding{
	{ExchangeSteps, RoutingKeyReady, QueueStepsReady, amqp.Table{"x-message-ttl": readyTTL}},
	{ExchangeDLQ, RoutingKeyDeadLettered, QueueDLQSteps, nil},
}

// SetupTopology объявляет durable direct-обменники, очереди и привязки.
// Повторный вызов ничего не меняет.
func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		for _, b := range topology {
			if err := b.declare(ch); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b binding) declare(ch *amqp.Channel) error {
	// durable, без auto-delete, не internal, с ожиданием ответа
	if err := ch.ExchangeDeclare(string(b.exchange), amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", b.exchange, err)
	}
	// durable, не удаляется без потребителей, не exclusive
	if _, err := ch.QueueDeclare(string(b.queue), true, false, false, false, b.args); err != nil {
		return fmt.Errorf("declare queue %s: %w", b.queue, err)
	}
	if err := ch.QueueBind(string(b.queue), string(b.key), string(b.exchange), false, nil); err != nil {
		return fmt.Errorf("bind %s to %s/%s: %w", b.queue, b.exchange, b.key, err)
	}
	return nil
}
