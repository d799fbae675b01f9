package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/lectio/messenger/internal/metrics"
)

// NATSFeedConfig holds NATS feed settings.
type NATSFeedConfig struct {
	URL           string        // nats://broker:4222
	Token         string        // bearer token for broker auth
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultNATSFeedConfig returns sensible defaults. URL and Token must be
// set by the caller.
func DefaultNATSFeedConfig() NATSFeedConfig {
	return NATSFeedConfig{
		Name:          "messenger",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}

// NATSFeed delivers push events over a NATS subject, for deployments
// whose backend fans out messenger events through NATS instead of the
// websocket gateway. The per-user channel maps to the subject
// messenger.<userID>.
type NATSFeed struct {
	config NATSFeedConfig

	mu   sync.Mutex
	conn *nats.Conn
	sub  *nats.Subscription
}

// NewNATSFeed creates a NATS push feed.
func NewNATSFeed(config NATSFeedConfig) *NATSFeed {
	return &NATSFeed{config: config}
}

// Subscribe connects to the broker with token auth and subscribes to the
// user's subject.
func (f *NATSFeed) Subscribe(ctx context.Context, userID string, handler Handler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sub != nil {
		return errors.New("push: feed already subscribed")
	}

	opts := []nats.Option{
		nats.Name(f.config.Name),
		nats.Token(f.config.Token),
		nats.ReconnectWait(f.config.ReconnectWait),
		nats.MaxReconnects(f.config.MaxReconnects),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			metrics.PushReconnectsTotal.Inc()
			log.Printf("[push] nats reconnected to %s", nc.ConnectedUrl())
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[push] nats disconnected: %v", err)
			}
		}),
	}
	conn, err := nats.Connect(f.config.URL, opts...)
	if err != nil {
		return fmt.Errorf("push: nats connect: %w", err)
	}

	subject := "messenger." + userID
	sub, err := conn.Subscribe(subject, func(msg *nats.Msg) {
		var frame struct {
			Event string          `json:"event"`
			Data  json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(msg.Data, &frame); err != nil {
			log.Printf("[push] bad nats frame on %s: %v", subject, err)
			return
		}
		payload, err := decodePayload(frame.Data)
		if err != nil {
			log.Printf("[push] bad %s payload: %v", frame.Event, err)
			return
		}
		handler(Event{Type: frame.Event, Message: payload.Message, User: payload.User})
	})
	if err != nil {
		conn.Close()
		return fmt.Errorf("push: nats subscribe %s: %w", subject, err)
	}

	f.conn = conn
	f.sub = sub
	log.Printf("[push] subscribed to %s", subject)
	return nil
}

// Unsubscribe drains the subscription and closes the connection.
func (f *NATSFeed) Unsubscribe() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sub == nil {
		return nil
	}
	if err := f.sub.Drain(); err != nil {
		log.Printf("[push] nats drain: %v", err)
	}
	f.conn.Close()
	f.sub = nil
	f.conn = nil
	return nil
}
