// Package messaging connects the engine to NATS: session events are published
// per participant and accepted chat messages arrive from the chat service.
package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/OrsiniBr/DoTrust/internal/domain/notification"
)

const (
	SubjectNotify          = "stake.notify" // + .<participant>
	SubjectMessageAccepted = "chat.message.accepted"
)

var ErrEmptyMessageID = errors.New("accepted message carries no message_id")

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string
	Name          string
	ReconnectWait time.Duration
	MaxReconnects int
}

func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		Name:          "dotrust",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}

// NATSClient wraps the NATS connection.
type NATSClient struct {
	conn   *nats.Conn
	mu     sync.Mutex
	subs   map[string]*nats.Subscription
	logger zerolog.Logger
}

func NewNATSClient(config NATSConfig, logger zerolog.Logger) (*NATSClient, error) {
	logger = logger.With().Str("component", "nats").Logger()
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			logger.Info().Msg("connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	logger.Info().Str("url", nc.ConnectedUrl()).Msg("connected")

	return &NATSClient{
		conn:   nc,
		subs:   make(map[string]*nats.Subscription),
		logger: logger,
	}, nil
}

func (c *NATSClient) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

func (c *NATSClient) Subscribe(subject string, handler func(msg *nats.Msg)) error {
	sub, err := c.conn.Subscribe(subject, handler)
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}
	c.mu.Lock()
	c.subs[subject] = sub
	c.mu.Unlock()
	return nil
}

// NotifySubject is the per-participant event subject.
func NotifySubject(participant string) string {
	return SubjectNotify + "." + strings.ToLower(participant)
}

// Notify implements notification.Notifier.
func (c *NATSClient) Notify(ctx context.Context, participant string, event notification.Event, payload any) error {
	_ = ctx
	msg, err := notification.Encode(event, payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return c.Publish(NotifySubject(participant), data)
}

// AcceptedMessage is published by the chat service once a message is stored.
type AcceptedMessage struct {
	MessageID string `json:"message_id"`
}

// DecodeAccepted parses an accepted-message payload.
func DecodeAccepted(data []byte) (string, error) {
	var m AcceptedMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return "", fmt.Errorf("decode accepted message: %w", err)
	}
	if strings.TrimSpace(m.MessageID) == "" {
		return "", ErrEmptyMessageID
	}
	return m.MessageID, nil
}

// SubscribeAccepted feeds accepted message ids to handle. Each message is
// handled with its own timeout so a slow store cannot stall the subscription.
func (c *NATSClient) SubscribeAccepted(timeout time.Duration, handle func(ctx context.Context, messageID string) error) error {
	return c.Subscribe(SubjectMessageAccepted, func(msg *nats.Msg) {
		messageID, err := DecodeAccepted(msg.Data)
		if err != nil {
			c.logger.Warn().Err(err).Msg("dropping accepted message")
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := handle(ctx, messageID); err != nil {
			c.logger.Warn().Err(err).Str("message_id", messageID).Msg("failed to handle accepted message")
		}
	})
}

// Close drains all active subscriptions and closes the NATS connection.
func (c *NATSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for subject, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			c.logger.Warn().Err(err).Str("subject", subject).Msg("drain failed")
		}
	}
	c.subs = make(map[string]*nats.Subscription)
	if err := c.conn.Drain(); err != nil {
		c.logger.Warn().Err(err).Msg("connection drain failed")
	}
}
