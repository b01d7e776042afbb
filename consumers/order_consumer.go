package consumers

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"order-fulfillment/apperrors"
	"order-fulfillment/config"
	"order-fulfillment/models"
)

// PaymentChecker cancels an order that is still unpaid. It reports whether
// the order was cancelled.
type PaymentChecker interface {
	ExpireUnpaid(ctx context.Context, orderID int64) (bool, error)
}

type OrderConsumer struct {
	checker PaymentChecker
	logger  *zap.Logger
}

func NewOrderConsumer(checker PaymentChecker, logger *zap.Logger) *OrderConsumer {
	return &OrderConsumer{checker: checker, logger: logger}
}

// Start consumes the order queue and the dead letter queue until ctx is done
// or the channel closes.
func (c *OrderConsumer) Start(ctx context.Context, ch *amqp.Channel, cfg *config.Config) error {
	msgs, err := ch.Consume(
		cfg.OrderQueue,
		config.ServiceName, // consumer tag
		false,              // auto-ack
		false,              // exclusive
		false,              // no-local
		false,              // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("register order consumer: %w", err)
	}

	dlqMsgs, err := ch.Consume(
		cfg.DeadLetterQueue,
		config.ServiceName+"-dlq",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("register dead letter consumer: %w", err)
	}

	go c.drain(ctx, msgs, c.processOrderMessage)
	go c.drain(ctx, dlqMsgs, c.processDeadLetterMessage)
	return nil
}

func (c *OrderConsumer) drain(ctx context.Context, msgs <-chan amqp.Delivery, handle func(context.Context, amqp.Delivery)) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			handle(ctx, msg)
		}
	}
}

func (c *OrderConsumer) processOrderMessage(ctx context.Context, msg amqp.Delivery) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Recovered from panic in message processing", zap.Any("panic", r))
			_ = msg.Nack(false, false)
		}
	}()

	var event models.OrderEvent
	if err := json.Unmarshal(msg.Body, &event); err != nil || event.OrderID <= 0 {
		c.logger.Warn("Invalid order message", zap.ByteString("body", msg.Body), zap.Error(err))
		_ = msg.Nack(false, false) // dead-lettered, not requeued
		return
	}

	log := c.logger.With(zap.Int64("order_id", event.OrderID), zap.String("type", event.Type))
	switch event.Type {
	case models.EventPaymentCheck:
		cancelled, err := c.checker.ExpireUnpaid(ctx, event.OrderID)
		switch {
		case err != nil && apperrors.IsDomain(err):
			log.Warn("Payment check skipped", zap.Error(err))
		case err != nil:
			log.Error("Payment check failed", zap.Error(err))
			_ = msg.Nack(false, false)
			return
		case cancelled:
			log.Info("Auto-cancelled order due to non-payment")
		default:
			log.Debug("Order paid or already progressed, nothing to expire")
		}
	case models.EventOrderCreated, models.EventStatusUpdated, models.EventPaymentUpdated, models.EventOrderCancelled:
		log.Info("Order event received", zap.String("status", string(event.Status)))
	default:
		log.Warn("Unknown event type")
	}

	if err := msg.Ack(false); err != nil {
		log.Error("Failed to ack message", zap.Error(err))
	}
}

func (c *OrderConsumer) processDeadLetterMessage(_ context.Context, msg amqp.Delivery) {
	c.logger.Warn("Received dead letter", zap.ByteString("body", msg.Body))
	if err := msg.Ack(false); err != nil {
		c.logger.Error("Failed to ack dead letter", zap.Error(err))
	}
}
