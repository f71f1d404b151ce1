package messaging

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/streadway/amqp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var ErrNotConnected = errors.New("there is no connection to RabbitMQ")

type amqpChannel interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

type channelProvider interface {
	IsConnected() bool
	Exchange() string
	publishChannel() amqpChannel
}

func (r *RabbitMQClient) publishChannel() amqpChannel {
	ch := r.Channel()
	if ch == nil {
		return nil
	}
	return ch
}

// Publisher sends JSON events to the product exchange, one routing key per
// event type, with persistent delivery.
type Publisher struct {
	client      channelProvider
	serviceName string
	maxRetries  int
	retryDelay  time.Duration
	logger      *zap.Logger
}

func NewPublisher(client *RabbitMQClient, serviceName string, maxRetries int, logger *zap.Logger) *Publisher {
	return newPublisher(client, serviceName, maxRetries, logger)
}

func newPublisher(client channelProvider, serviceName string, maxRetries int, logger *zap.Logger) *Publisher {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &Publisher{
		client:      client,
		serviceName: serviceName,
		maxRetries:  maxRetries,
		retryDelay:  time.Second,
		logger:      logger.Named("publisher"),
	}
}

// PublishOnce makes a single publish attempt.
func (p *Publisher) PublishOnce(ctx context.Context, eventType string, payload interface{}) error {
	if !p.client.IsConnected() {
		return ErrNotConnected
	}
	channel := p.client.publishChannel()
	if channel == nil {
		return ErrNotConnected
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "event serialization error")
	}

	headers := amqp.Table{
		"service":    p.serviceName,
		"event_type": eventType,
	}
	otel.GetTextMapPropagator().Inject(ctx, tableCarrier(headers))

	err = channel.Publish(
		p.client.Exchange(),
		eventType,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			MessageId:    uuid.New().String(),
			Timestamp:    time.Now().UTC(),
			AppId:        p.serviceName,
			Type:         eventType,
			Headers:      headers,
		},
	)
	if err != nil {
		return errors.Wrap(err, "event publish error")
	}

	p.logger.Info("Event published", zap.String("event_type", eventType))
	return nil
}

// Publish retries PublishOnce with a growing delay until it succeeds, the
// attempts run out or ctx is done.
func (p *Publisher) Publish(ctx context.Context, eventType string, payload interface{}) error {
	var lastErr error

	for i := 0; i < p.maxRetries; i++ {
		if lastErr = p.PublishOnce(ctx, eventType, payload); lastErr == nil {
			return nil
		}
		p.logger.Warn("Publish error",
			zap.String("event_type", eventType),
			zap.Int("attempt", i+1),
			zap.Int("max_attempts", p.maxRetries),
			zap.Error(lastErr))

		if i == p.maxRetries-1 {
			break
		}
		select {
		case <-time.After(p.retryDelay * time.Duration(i+1)):
		case <-ctx.Done():
			return errors.Wrapf(ctx.Err(), "publish %s abandoned: %v", eventType, lastErr)
		}
	}

	return errors.Wrapf(lastErr, "publish %s failed after %d attempts", eventType, p.maxRetries)
}

// tableCarrier lets the otel propagator read and write AMQP headers.
type tableCarrier amqp.Table

func (t tableCarrier) Get(key string) string {
	if v, ok := t[key].(string); ok {
		return v
	}
	return ""
}

func (t tableCarrier) Set(key, value string) {
	t[key] = value
}

func (t tableCarrier) Keys() []string {
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	return keys
}
