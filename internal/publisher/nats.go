// Package publisher forwards progress events to NATS JetStream.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/blockedby/tgsaver/internal/events"
	"github.com/blockedby/tgsaver/internal/logger"
)

// stream layout
const (
	StreamName    = "TGSAVER_EVENTS"
	SubjectPrefix = "tgsaver.events"
)

// Subject returns the subject events of a phase are published on.
func Subject(phase events.Phase) string {
	return SubjectPrefix + "." + string(phase)
}

// Client wraps nats connection and jetstream context.
type Client struct {
	Conn *nats.Conn
	js   jetstream.JetStream
}

// Connect creates a nats client with jetstream support.
func Connect(_ context.Context, natsURL string) (*Client, error) {
	conn, err := nats.Connect(natsURL, nats.Name("tgsaver"))
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	return &Client{Conn: conn, js: js}, nil
}

// EnsureStream creates the events stream if it doesn't exist.
func (c *Client) EnsureStream(ctx context.Context) error {
	_, err := c.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     StreamName,
		Subjects: []string{SubjectPrefix + ".>"},
	})
	if err != nil {
		return fmt.Errorf("create stream %s: %w", StreamName, err)
	}
	return nil
}

// Publish publishes raw data to a subject.
func (c *Client) Publish(ctx context.Context, subject string, data []byte) error {
	if _, err := c.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	return nil
}

// Close closes the nats connection.
func (c *Client) Close() {
	c.Conn.Close()
}

// IsConnected returns true if connected to nats.
func (c *Client) IsConnected() bool {
	return c.Conn.IsConnected()
}

// NATSClient interface to allow mocking
type NATSClient interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// NATSPublisher sends events to tgsaver.events.<phase>.
type NATSPublisher struct {
	js  NATSClient
	log *logger.Logger

	published atomic.Uint64
	failed    atomic.Uint64
}

// NewNATSPublisher creates a new publisher
func NewNATSPublisher(js NATSClient) *NATSPublisher {
	return &NATSPublisher{js: js, log: logger.Get().With("publisher")}
}

// PublishEvent publishes a single event.
func (p *NATSPublisher) PublishEvent(ctx context.Context, ev events.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if err := p.js.Publish(ctx, Subject(ev.Phase), data); err != nil {
		p.failed.Add(1)
		return fmt.Errorf("publish event: %w", err)
	}
	p.published.Add(1)
	return nil
}

// Forward publishes every bus event until ctx is done. Publish failures are
// logged and never stop forwarding.
func (p *NATSPublisher) Forward(ctx context.Context, bus *events.Bus, buffer int) {
	bus.Pipe(ctx, buffer, func(ev events.Event) {
		if err := p.PublishEvent(ctx, ev); err != nil {
			p.log.Warn().Err(err).Str("phase", string(ev.Phase)).Uint64("seq", ev.Seq).Msg("publisher: event dropped")
		}
	})
}

// Stats returns published and failed counts.
func (p *NATSPublisher) Stats() (published, failed uint64) {
	return p.published.Load(), p.failed.Load()
}
