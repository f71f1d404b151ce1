package messaging

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/streadway/amqp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

const (
	retryCountHeader        = "x-retry-count"
	deadLetterSuffix        = ".dead"
	defaultExchange         = ""
	deadLetterExchangeArg   = "x-dead-letter-exchange"
	deadLetterRoutingKeyArg = "x-dead-letter-routing-key"
)

type queueDeclarer interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
}

// EventHandler processes one delivery. A nil error acknowledges it.
type EventHandler func(ctx context.Context, eventType string, body []byte) error

type Consumer struct {
	client          *RabbitMQClient
	publisher       channelProvider
	queueName       string
	serviceName     string
	maxRedeliveries int
	retryDelay      time.Duration
	logger          *zap.Logger
	resubscribe     sync.Once
}

func NewConsumer(client *RabbitMQClient, queueName, serviceName string, maxRedeliveries int, logger *zap.Logger) *Consumer {
	return &Consumer{
		client:          client,
		publisher:       client,
		queueName:       queueName,
		serviceName:     serviceName,
		maxRedeliveries: maxRedeliveries,
		retryDelay:      2 * time.Second,
		logger:          logger.Named("consumer").With(zap.String("queue", queueName)),
	}
}

func (c *Consumer) ConsumeEvents(routingKeys []string, handler EventHandler) error {
	if err := c.subscribe(routingKeys, handler); err != nil {
		return err
	}

	c.resubscribe.Do(func() {
		c.client.OnReconnect(func() {
			if err := c.subscribe(routingKeys, handler); err != nil {
				c.logger.Error("Resubscribe failed", zap.Error(err))
			}
		})
	})
	return nil
}

func (c *Consumer) subscribe(routingKeys []string, handler EventHandler) error {
	if !c.client.IsConnected() {
		return ErrNotConnected
	}

	channel := c.client.Channel()

	queue, err := c.declareQueues(channel)
	if err != nil {
		return err
	}

	for _, routingKey := range routingKeys {
		err = channel.QueueBind(
			queue.Name,          // queue name
			routingKey,          // routing key
			c.client.Exchange(), // exchange
			false,               // no-wait
			nil,                 // arguments
		)
		if err != nil {
			return errors.Wrapf(err, "queue bind error (%s)", routingKey)
		}
		c.logger.Info("Queue bound", zap.String("routing_key", routingKey))
	}

	messages, err := channel.Consume(
		queue.Name,    // queue
		c.serviceName, // consumer
		false,         // auto-ack
		false,         // exclusive
		false,         // no-local
		false,         // no-wait
		nil,           // args
	)
	if err != nil {
		return errors.Wrap(err, "consume start error")
	}

	c.logger.Info("Consuming events")

	go func() {
		for {
			select {
			case msg, ok := <-messages:
				if !ok {
					c.logger.Info("Delivery channel closed")
					return
				}
				c.handleMessage(msg, handler)
			case <-c.client.Done():
				c.logger.Info("Consumer stopped")
				return
			}
		}
	}()

	return nil
}

// DeadLetterQueue is where deliveries land once redeliveries run out.
func (c *Consumer) DeadLetterQueue() string {
	return c.queueName + deadLetterSuffix
}

// declareQueues declares the parking queue first, then the work queue with
// the default exchange as its dead-letter target.
func (c *Consumer) declareQueues(channel queueDeclarer) (amqp.Queue, error) {
	if _, err := channel.QueueDeclare(
		c.DeadLetterQueue(), // name
		true,                // durable
		false,               // delete when unused
		false,               // exclusive
		false,               // no-wait
		nil,                 // arguments
	); err != nil {
		return amqp.Queue{}, errors.Wrap(err, "dead letter queue declare error")
	}

	queue, err := channel.QueueDeclare(
		c.queueName, // name
		true,        // durable
		false,       // delete when unused
		false,       // exclusive
		false,       // no-wait
		amqp.Table{
			deadLetterExchangeArg:   defaultExchange,
			deadLetterRoutingKeyArg: c.DeadLetterQueue(),
		},
	)
	if err != nil {
		return amqp.Queue{}, errors.Wrap(err, "queue declare error")
	}
	return queue, nil
}

func (c *Consumer) handleMessage(msg amqp.Delivery, handler EventHandler) {
	ctx := otel.GetTextMapPropagator().Extract(context.Background(), tableCarrier(msg.Headers))
	eventType := msg.RoutingKey

	if err := handler(ctx, eventType, msg.Body); err != nil {
		c.logger.Warn("Event process error", zap.String("event_type", eventType), zap.Error(err))

		if retryCount(msg.Headers) < c.maxRedeliveries {
			c.republishWithRetry(msg)
		} else {
			c.logger.Error("Max redeliveries reached, dead-lettering",
				zap.String("event_type", eventType),
				zap.String("dead_letter_queue", c.DeadLetterQueue()))
			msg.Nack(false, false)
		}
		return
	}

	msg.Ack(false)
}

func (c *Consumer) republishWithRetry(msg amqp.Delivery) {
	time.Sleep(c.retryDelay)

	channel := c.publisher.publishChannel()
	if channel == nil {
		msg.Nack(false, true)
		return
	}

	headers := amqp.Table{}
	for k, v := range msg.Headers {
		headers[k] = v
	}
	headers[retryCountHeader] = int32(retryCount(msg.Headers) + 1)

	err := channel.Publish(
		msg.Exchange,
		msg.RoutingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  msg.ContentType,
			Body:         msg.Body,
			DeliveryMode: msg.DeliveryMode,
			MessageId:    msg.MessageId,
			Type:         msg.Type,
			AppId:        msg.AppId,
			Headers:      headers,
		},
	)
	if err != nil {
		c.logger.Error("Retry publish error", zap.Error(err))
		msg.Nack(false, true)
		return
	}

	msg.Ack(false)
	c.logger.Info("Re-published", zap.String("event_type", msg.RoutingKey), zap.Any("retry", headers[retryCountHeader]))
}

func retryCount(headers amqp.Table) int {
	switch v := headers[retryCountHeader].(type) {
	case int8:
		return int(v)
	case int16:
		return int(v)
	case int32:
		return int(v)
	case int64:
		return int(v)
	default:
		return 0
	}
}
