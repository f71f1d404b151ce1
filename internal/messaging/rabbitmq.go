package messaging

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

// RabbitMQClient owns one broker connection and channel. It is built and
// closed by the process entry point and shared by the publisher and
// consumers it hands out.
type RabbitMQClient struct {
	config      *RabbitMQConfig
	logger      *zap.Logger
	connection  *amqp.Connection
	channel     *amqp.Channel
	mu          sync.RWMutex
	isClosing   bool
	onReconnect []func()
	ctx         context.Context
	cancel      context.CancelFunc
}

func NewRabbitMQClient(config *RabbitMQConfig, logger *zap.Logger) *RabbitMQClient {
	ctx, cancel := context.WithCancel(context.Background())

	return &RabbitMQClient{
		config: config,
		logger: logger.Named("rabbitmq"),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (r *RabbitMQClient) Connect() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	attempts := r.config.attempts()

	var err error
	for i := 0; i < attempts; i++ {
		r.connection, err = amqp.DialConfig(r.config.ConnectionURL(), amqp.Config{
			Heartbeat: r.config.heartbeat(),
			Dial:      amqp.DefaultDial(r.config.ConnectionTimeout),
			Properties: amqp.Table{
				"connection_name": r.config.ServiceName,
			},
		})
		if err != nil {
			r.logger.Warn("RabbitMQ connection error",
				zap.Int("attempt", i+1),
				zap.Int("max_attempts", attempts),
				zap.Error(err))
			if i < attempts-1 {
				time.Sleep(r.config.RetryDelay)
				continue
			}
			return errors.Wrap(err, "failed to connect to RabbitMQ")
		}

		r.channel, err = r.connection.Channel()
		if err != nil {
			r.connection.Close()
			return errors.Wrap(err, "failed to open RabbitMQ channel")
		}

		err = r.channel.ExchangeDeclare(
			r.config.Exchange, // name
			"topic",           // type
			true,              // durable
			false,             // auto-deleted
			false,             // internal
			false,             // no-wait
			nil,               // arguments
		)
		if err != nil {
			r.channel.Close()
			r.connection.Close()
			return errors.Wrap(err, "failed to declare exchange")
		}

		r.logger.Info("Connected to RabbitMQ",
			zap.String("host", r.config.Host),
			zap.String("exchange", r.config.Exchange))

		go r.handleReconnection(r.connection)

		return nil
	}

	return err
}

func (r *RabbitMQClient) handleReconnection(conn *amqp.Connection) {
	notifyClose := conn.NotifyClose(make(chan *amqp.Error, 1))

	select {
	case err, ok := <-notifyClose:
		if !ok || r.closing() {
			return
		}
		r.logger.Warn("RabbitMQ connection lost, reconnecting", zap.Error(err))
		time.Sleep(r.config.RetryDelay)
		if reconnectErr := r.Connect(); reconnectErr != nil {
			r.logger.Error("RabbitMQ reconnect failed", zap.Error(reconnectErr))
			return
		}
		for _, fn := range r.reconnectHooks() {
			fn()
		}
	case <-r.ctx.Done():
	}
}

// OnReconnect registers fn to run after the connection has been rebuilt,
// so consumers can redeclare their queues.
func (r *RabbitMQClient) OnReconnect(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onReconnect = append(r.onReconnect, fn)
}

func (r *RabbitMQClient) reconnectHooks() []func() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]func(){}, r.onReconnect...)
}

func (r *RabbitMQClient) closing() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.isClosing
}

func (r *RabbitMQClient) Channel() *amqp.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.channel
}

func (r *RabbitMQClient) Exchange() string {
	return r.config.Exchange
}

// Done is closed once Close has been called.
func (r *RabbitMQClient) Done() <-chan struct{} {
	return r.ctx.Done()
}

func (r *RabbitMQClient) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.isClosing {
		return nil
	}

	r.isClosing = true
	r.cancel()

	var closeErr error

	if r.channel != nil {
		if err := r.channel.Close(); err != nil {
			closeErr = errors.Wrap(err, "channel close error")
			r.logger.Warn("Failed to close channel", zap.Error(err))
		}
	}

	if r.connection != nil {
		if err := r.connection.Close(); err != nil {
			if closeErr != nil {
				closeErr = errors.Wrapf(closeErr, "connection close error: %v", err)
			} else {
				closeErr = errors.Wrap(err, "connection close error")
			}
			r.logger.Warn("Failed to close connection", zap.Error(err))
		}
	}

	if closeErr == nil {
		r.logger.Info("RabbitMQ connection closed")
	}

	return closeErr
}

func (r *RabbitMQClient) IsConnected() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.connection != nil && !r.connection.IsClosed()
}
