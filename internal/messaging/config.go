package messaging

import (
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// RabbitMQConfig describes the broker connection and the product exchange.
type RabbitMQConfig struct {
	Host              string
	Port              int
	Username          string
	Password          string
	VHost             string
	Exchange          string
	ServiceName       string
	RetryCount        int
	RetryDelay        time.Duration
	ConnectionTimeout time.Duration
	Heartbeat         time.Duration
}

// ConnectionURL renders the AMQP URI with credentials escaped.
func (c *RabbitMQConfig) ConnectionURL() string {
	u := url.URL{
		Scheme: "amqp",
		User:   url.UserPassword(c.Username, c.Password),
		Host:   net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:   "/" + strings.TrimPrefix(c.VHost, "/"),
	}
	return u.String()
}

func (c *RabbitMQConfig) attempts() int {
	if c.RetryCount < 1 {
		return 1
	}
	return c.RetryCount
}

func (c *RabbitMQConfig) heartbeat() time.Duration {
	if c.Heartbeat <= 0 {
		return 10 * time.Second
	}
	return c.Heartbeat
}
