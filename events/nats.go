// Package events provides a NATS client wrapper for publishing login
// lifecycle events.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// ErrNotConnected is returned when publishing without a live connection.
var ErrNotConnected = errors.New("not connected to NATS")

// Config holds NATS client configuration.
type Config struct {
	URL           string        `mapstructure:"url"`
	Name          string        `mapstructure:"name"`
	MaxReconnects int           `mapstructure:"max_reconnects"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
	Timeout       time.Duration `mapstructure:"timeout"`
	DrainTimeout  time.Duration `mapstructure:"drain_timeout"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		URL:           "nats://localhost:4222",
		Name:          "kauthd",
		MaxReconnects: 10,
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
		DrainTimeout:  30 * time.Second,
	}
}

// Client wraps the NATS connection.
type Client struct {
	conn     *nats.Conn
	config   Config
	mu       sync.RWMutex
	handlers map[string]*nats.Subscription
}

// Event is the envelope published for every login lifecycle event.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Source    string         `json:"source"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// NewEvent creates a new event with the given type and source.
func NewEvent(eventType, source string, data map[string]any) Event {
	return Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// New creates a new NATS client.
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		cfg.URL = "nats://localhost:4222"
	}
	if cfg.MaxReconnects == 0 {
		cfg.MaxReconnects = 10
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 2 * time.Second
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DrainTimeout(cfg.DrainTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &Client{
		conn:     conn,
		config:   cfg,
		handlers: make(map[string]*nats.Subscription),
	}, nil
}

// Close drains and closes the NATS connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return c.conn.Drain()
	}
	return nil
}

// IsConnected returns whether the client is connected.
func (c *Client) IsConnected() bool {
	return c.conn != nil && c.conn.IsConnected()
}

// Publish publishes a message to a subject.
func (c *Client) Publish(ctx context.Context, subject string, data []byte) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return c.conn.Publish(subject, data)
}

// PublishJSON publishes a JSON-encoded message to a subject.
func (c *Client) PublishJSON(ctx context.Context, subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return c.Publish(ctx, subject, data)
}

// Handler is a function that handles incoming messages.
type Handler func(ctx context.Context, msg *nats.Msg) error

// Subscribe subscribes to a subject with a handler.
func (c *Client) Subscribe(subject string, handler Handler) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		_ = handler(context.Background(), msg)
	})
	if err != nil {
		return err
	}

	c.handlers[subject] = sub
	return nil
}

// Subject prefix for kauth events.
const SubjectPrefix = "kauth."

// Event types.
const (
	EventUserCreated    = "user.created"
	EventUserLinked     = "user.linked"
	EventLoginSucceeded = "login.succeeded"
	EventLoginFailed    = "login.failed"
)

// PublishLoginEvent publishes a login lifecycle event. The data map must
// not contain tokens or secrets.
func (c *Client) PublishLoginEvent(ctx context.Context, eventType, providerKey string, data map[string]any) error {
	if data == nil {
		data = make(map[string]any)
	}
	data["provider"] = providerKey

	event := NewEvent(eventType, "kauthd", data)
	return c.PublishJSON(ctx, SubjectPrefix+eventType, event)
}
