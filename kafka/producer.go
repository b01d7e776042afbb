// Package kafka publishes order events to a Kafka topic with trace context
// propagated in the message headers.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	otelkafka "github.com/Trendyol/otel-kafka-konsumer"
	kafkago "github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"order-fulfillment/config"
	"order-fulfillment/models"
)

const (
	batchTimeout = 10 * time.Millisecond
	batchSize    = 1
)

type Producer interface {
	WriteMessage(ctx context.Context, msg kafkago.Message) error
	Close() error
}

// NewWriter builds a traced writer for cfg.KafkaOrderTopic. A nil tp falls
// back to the global tracer provider.
func NewWriter(cfg *config.Config, tp trace.TracerProvider) (Producer, error) {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	base := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBroker),
		Topic:        cfg.KafkaOrderTopic,
		Balancer:     &kafkago.Hash{},
		BatchTimeout: batchTimeout,
		BatchSize:    batchSize,
	}

	writer, err := otelkafka.NewWriter(base,
		otelkafka.WithTracerProvider(tp),
		otelkafka.WithPropagator(propagation.TraceContext{}),
		otelkafka.WithAttributes(
			[]attribute.KeyValue{
				semconv.MessagingDestinationNameKey.String(cfg.KafkaOrderTopic),
				attribute.String("messaging.kafka.client_id", config.ServiceName),
			},
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka writer: %w", err)
	}
	return writer, nil
}

// Publisher sends order events keyed by order id, so every event of one order
// lands on the same partition in order.
type Publisher struct {
	producer Producer
	logger   *zap.Logger
}

func NewPublisher(producer Producer, logger *zap.Logger) *Publisher {
	return &Publisher{producer: producer, logger: logger}
}

func (p *Publisher) Publish(ctx context.Context, event models.OrderEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode order event: %w", err)
	}

	msg := kafkago.Message{
		Key:   []byte(strconv.FormatInt(event.OrderID, 10)),
		Value: body,
		Headers: []kafkago.Header{
			{Key: "event_type", Value: []byte(event.Type)},
			{Key: "event_id", Value: []byte(event.EventID)},
		},
		Time: event.Occurred,
	}
	if err := p.producer.WriteMessage(ctx, msg); err != nil {
		return fmt.Errorf("publish %s event for order %d: %w", event.Type, event.OrderID, err)
	}
	p.logger.Debug("Published order event",
		zap.Int64("order_id", event.OrderID),
		zap.String("type", event.Type),
	)
	return nil
}

func (p *Publisher) Close() error {
	return p.producer.Close()
}
