package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"order-fulfillment/config"
	"order-fulfillment/events"
	"order-fulfillment/models"
)

type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

type RabbitMQ struct {
	Conn    *amqp.Connection
	Channel *amqp.Channel
	Cfg     *config.Config

	logger *zap.Logger
	mu     sync.Mutex
	pub    publisher
}

func NewRabbitMQ(cfg *config.Config, logger *zap.Logger) (*RabbitMQ, error) {
	conn, err := amqp.Dial(cfg.RabbitMQURL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	return &RabbitMQ{
		Conn:    conn,
		Channel: ch,
		Cfg:     cfg,
		logger:  logger,
		pub:     ch,
	}, nil
}

func (r *RabbitMQ) deadLetterExchange() string {
	return r.Cfg.DeadLetterQueue + "_exchange"
}

// SetupQueues declares the order exchange, the priority order queue with its
// dead letter queue and, when payment checks are enabled, the delayed exchange
// that feeds the same queue.
func (r *RabbitMQ) SetupQueues() error {
	if err := r.Channel.ExchangeDeclare(
		r.deadLetterExchange(),
		"direct",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		return fmt.Errorf("declare dead letter exchange: %w", err)
	}

	if _, err := r.Channel.QueueDeclare(
		r.Cfg.DeadLetterQueue,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		amqp.Table{"x-queue-type": "classic"},
	); err != nil {
		return fmt.Errorf("declare dead letter queue: %w", err)
	}

	if err := r.Channel.QueueBind(r.Cfg.DeadLetterQueue, r.Cfg.DeadLetterQueue, r.deadLetterExchange(), false, nil); err != nil {
		return fmt.Errorf("bind dead letter queue: %w", err)
	}

	if err := r.Channel.ExchangeDeclare(
		r.Cfg.OrderExchange,
		"direct",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		return fmt.Errorf("declare order exchange: %w", err)
	}

	if _, err := r.Channel.QueueDeclare(
		r.Cfg.OrderQueue,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		amqp.Table{
			"x-max-priority":            r.Cfg.MaxPriority,
			"x-dead-letter-exchange":    r.deadLetterExchange(),
			"x-dead-letter-routing-key": r.Cfg.DeadLetterQueue,
		},
	); err != nil {
		return fmt.Errorf("declare order queue: %w", err)
	}

	if err := r.Channel.QueueBind(r.Cfg.OrderQueue, "", r.Cfg.OrderExchange, false, nil); err != nil {
		return fmt.Errorf("bind order queue: %w", err)
	}

	if r.Cfg.PaymentTimeout <= 0 {
		return nil
	}

	// requires the rabbitmq_delayed_message_exchange plugin
	if err := r.Channel.ExchangeDeclare(
		r.Cfg.DelayExchange,
		"x-delayed-message",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		amqp.Table{"x-delayed-type": "direct"},
	); err != nil {
		return fmt.Errorf("declare delayed exchange: %w", err)
	}
	if err := r.Channel.QueueBind(r.Cfg.OrderQueue, "", r.Cfg.DelayExchange, false, nil); err != nil {
		return fmt.Errorf("bind order queue to delayed exchange: %w", err)
	}
	return nil
}

func newPublishing(event models.OrderEvent, now time.Time) (amqp.Publishing, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("encode order event: %w", err)
	}
	return amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		Timestamp:    now,
		ContentType:  "application/json",
		MessageId:    event.EventID,
		Type:         event.Type,
		Body:         body,
	}, nil
}

func (r *RabbitMQ) publish(ctx context.Context, exchange string, msg amqp.Publishing) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pub.PublishWithContext(ctx, exchange, "", false, false, msg)
}

// Publish sends event to the order exchange. Cancellations and large orders
// get the high priority.
func (r *RabbitMQ) Publish(ctx context.Context, event models.OrderEvent) error {
	msg, err := newPublishing(event, time.Now())
	if err != nil {
		return err
	}
	msg.Priority = events.Priority(event)

	if err := r.publish(ctx, r.Cfg.OrderExchange, msg); err != nil {
		return fmt.Errorf("publish %s event for order %d: %w", event.Type, event.OrderID, err)
	}
	r.logger.Debug("Published order event",
		zap.Int64("order_id", event.OrderID),
		zap.String("type", event.Type),
		zap.Uint8("priority", msg.Priority),
	)
	return nil
}

// SchedulePaymentCheck publishes a payment_check message that the delayed
// exchange holds back for delay.
func (r *RabbitMQ) SchedulePaymentCheck(ctx context.Context, orderID int64, delay time.Duration) error {
	now := time.Now()
	msg, err := newPublishing(models.OrderEvent{
		EventID:  "payment-check-" + strconv.FormatInt(orderID, 10),
		OrderID:  orderID,
		Type:     models.EventPaymentCheck,
		Occurred: now,
	}, now)
	if err != nil {
		return err
	}
	msg.Headers = amqp.Table{"x-delay": delay.Milliseconds()}

	if err := r.publish(ctx, r.Cfg.DelayExchange, msg); err != nil {
		return fmt.Errorf("schedule payment check for order %d: %w", orderID, err)
	}
	return nil
}

func (r *RabbitMQ) Close() error {
	var firstErr error
	if r.Channel != nil {
		if err := r.Channel.Close(); err != nil {
			firstErr = err
		}
	}
	if r.Conn != nil {
		if err := r.Conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
