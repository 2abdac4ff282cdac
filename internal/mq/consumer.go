package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// errDeliveriesClosed — брокер закрыл канал доставки (обрыв соединения или cancel).
var errDeliveriesClosed = errors.New("deliveries channel closed")

// Handler обрабатывает одно уведомление.
// При ошибке первая доставка возвращается в очередь, повторная отбрасывается.
type Handler func(ctx context.Context, msg *Delivery) error

// WakeHandler будит воркеров на каждое уведомление step.ready.
// Содержимое сообщения не читается: задание всё равно берётся через Lease.
func WakeHandler(wake func()) Handler {
	return func(context.Context, *Delivery) error {
		wake()
		return nil
	}
}

// Delivery — декодированное уведомление и исходная AMQP доставка.
type Delivery struct {
	Message Message
	Raw     amqp.Delivery
}

// ConsumerConfig — конфигурация Consumer.
type ConsumerConfig struct {
	Queue   Queue
	Handler Handler

	// Prefetch — лимит неподтверждённых сообщений на канал (default: 1).
	Prefetch int
}

// Consumer читает очередь и переживает переподключения Connection.
type Consumer struct {
	conn   *Connection
	cfg    ConsumerConfig
	logger *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewConsumer создаёт Consumer.
func NewConsumer(conn *Connection, logger *slog.Logger, cfg ConsumerConfig) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 1
	}
	return &Consumer{
		conn:   conn,
		cfg:    cfg,
		logger: logger.With("queue", string(cfg.Queue)),
	}
}

// Start блокируется до отмены ctx или вызова Stop.
// После обрыва соединения подписка восстанавливается по сигналу Connection.
func (c *Consumer) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
	defer cancel()

	for {
		deliveries, err := c.subscribe()
		if err == nil {
			c.logger.Info("consumer subscribed", "prefetch", c.cfg.Prefetch)
			err = c.drain(ctx, deliveries)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Warn("consumer interrupted, waiting for reconnect", "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.conn.ReconnectNotify():
		}
	}
}

// Stop прерывает Start.
func (c *Consumer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
}

func (c *Consumer) subscribe() (<-chan amqp.Delivery, error) {
	ch := c.conn.Channel()
	if ch == nil || ch.IsClosed() {
		return nil, ErrNoChannel
	}
	if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("set qos on %s: %w", c.cfg.Queue, err)
	}

	// Ручной ack, тег генерирует брокер.
	deliveries, err := ch.Consume(string(c.cfg.Queue), "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", c.cfg.Queue, err)
	}
	return deliveries, nil
}

func (c *Consumer) drain(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-deliveries:
			if !ok {
				return errDeliveriesClosed
			}
			c.settle(raw, c.dispatch(ctx, raw))
		}
	}
}

// dispatch декодирует конверт и вызывает обработчик.
func (c *Consumer) dispatch(ctx context.Context, raw amqp.Delivery) error {
	d := &Delivery{Raw: raw}
	if err := json.Unmarshal(raw.Body, &d.Message); err != nil {
		return fmt.Errorf("%w: %w", errMalformed, err)
	}
	c.logger.Debug("notification received", "message_id", d.Message.ID, "type", d.Message.Type)
	return c.cfg.Handler(ctx, d)
}

// errMalformed — тело сообщения не является конвертом Message.
var errMalformed = errors.New("malformed message")

// settle подтверждает или отклоняет доставку.
// Битые сообщения не возвращаются в очередь, остальные получают одну повторную доставку.
func (c *Consumer) settle(raw amqp.Delivery, err error) {
	if err == nil {
		if ackErr := raw.Ack(false); ackErr != nil {
			c.logger.Warn("ack failed", "error", ackErr)
		}
		return
	}

	requeue := !raw.Redelivered && !errors.Is(err, errMalformed)
	c.logger.Error("notification rejected",
		"redelivered", raw.Redelivered,
		"requeue", requeue,
		"error", err,
	)
	if nackErr := raw.Nack(false, requeue); nackErr != nil {
		c.logger.Warn("nack failed", "error", nackErr)
	}
}

// ParsePayload декодирует Payload конверта в T.
// После доставки Payload приходит как map, поэтому он перекодируется через JSON.
func ParsePayload[T any](msg *Message) (T, error) {
	var out T
	raw, err := json.Marshal(msg.Payload)
	if err != nil {
		return out, fmt.Errorf("marshal payload: %w", err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode %s payload: %w", msg.Type, err)
	}
	return out, nil
}
