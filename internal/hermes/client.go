package hermes

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// Config describes how to reach the event bus. Zero fields take the defaults below.
type Config struct {
	URL           string
	Token         string
	Name          string
	MaxReconnects int
	ReconnectWait time.Duration
	DrainTimeout  time.Duration
}

const (
	defaultName          = "surveyor"
	defaultMaxReconnects = 60
	defaultReconnectWait = 2 * time.Second
	defaultDrainTimeout  = 5 * time.Second
)

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = defaultName
	}
	if c.MaxReconnects == 0 {
		c.MaxReconnects = defaultMaxReconnects
	}
	if c.ReconnectWait <= 0 {
		c.ReconnectWait = defaultReconnectWait
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = defaultDrainTimeout
	}
	return c
}

func (c Config) options(logger *slog.Logger, closed chan<- struct{}) []nats.Option {
	opts := []nats.Option{
		nats.Name(c.Name),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(c.MaxReconnects),
		nats.ReconnectWait(c.ReconnectWait),
		nats.DrainTimeout(c.DrainTimeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("event bus disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("event bus reconnected", "url", nc.ConnectedUrlRedacted())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			close(closed)
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			logger.Error("event bus async error", "subject", subject, "error", err)
		}),
	}
	if c.Token != "" {
		opts = append(opts, nats.Token(c.Token))
	}
	return opts
}

// Client publishes and consumes JSON events for one surveyor instance.
type Client struct {
	conn         *nats.Conn
	closed       chan struct{}
	drainTimeout time.Duration
	logger       *slog.Logger
}

// NewClient connects to the bus. The connection keeps retrying in the background,
// so an unreachable server at startup is not an error.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("event bus url is empty")
	}
	cfg = cfg.withDefaults()

	closed := make(chan struct{})
	nc, err := nats.Connect(cfg.URL, cfg.options(logger, closed)...)
	if err != nil {
		return nil, fmt.Errorf("connect event bus: %w", err)
	}
	return &Client{
		conn:         nc,
		closed:       closed,
		drainTimeout: cfg.DrainTimeout,
		logger:       logger.With("component", "hermes"),
	}, nil
}

// Publish sends data as a JSON message on subject.
func (c *Client) Publish(subject string, data any) error {
	msg, err := newJSONMsg(subject, data)
	if err != nil {
		return err
	}
	if err := c.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

func newJSONMsg(subject string, data any) (*nats.Msg, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", subject, err)
	}
	msg := nats.NewMsg(subject)
	msg.Header.Set("Content-Type", "application/json")
	msg.Data = payload
	return msg, nil
}

// Subscribe joins the instance queue group on subject. A handler panic is logged
// and the message dropped; the subscription stays up.
func (c *Client) Subscribe(subject string, handler func(subject string, data []byte)) error {
	_, err := c.conn.QueueSubscribe(subject, QueueGroup, func(msg *nats.Msg) {
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("event handler panicked", "subject", msg.Subject, "panic", r)
			}
		}()
		handler(msg.Subject, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	c.logger.Info("subscribed", "subject", subject, "queue", QueueGroup)
	return nil
}

// Connected reports whether the connection is currently up.
func (c *Client) Connected() bool {
	return c.conn.IsConnected()
}

// Close drains in-flight messages and waits for the connection to close, up to the
// drain timeout. Draining a connection that never came up fails, in which case it is
// closed outright.
func (c *Client) Close() {
	if err := c.conn.Drain(); err != nil {
		c.logger.Warn("drain event bus", "error", err)
		c.conn.Close()
		return
	}
	select {
	case <-c.closed:
	case <-time.After(c.drainTimeout + time.Second):
		c.logger.Warn("event bus drain timed out")
		c.conn.Close()
	}
}
