package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/lectio/messenger/internal/metrics"
)

// Gateway protocol frame names.
const (
	frameConnEstablished = "pusher:connection_established"
	frameSubscribe       = "pusher:subscribe"
	frameSubscribed      = "pusher_internal:subscription_succeeded"
	framePing            = "pusher:ping"
	framePong            = "pusher:pong"
	frameError           = "pusher:error"
)

// Authorizer performs the token-bearing channel auth handshake against
// the broker auth endpoint.
type Authorizer interface {
	AuthorizeChannel(ctx context.Context, socketID, channel string) (string, error)
}

// WSFeedConfig holds websocket feed settings.
type WSFeedConfig struct {
	URL              string        // ws(s)://gateway/app/<key>
	HandshakeTimeout time.Duration // per-attempt subscribe deadline
	ReconnectWait    time.Duration // initial wait between reconnect attempts
	MaxReconnectWait time.Duration // backoff ceiling
}

// DefaultWSFeedConfig returns sensible defaults. URL must be set.
func DefaultWSFeedConfig() WSFeedConfig {
	return WSFeedConfig{
		HandshakeTimeout: 10 * time.Second,
		ReconnectWait:    1 * time.Second,
		MaxReconnectWait: 30 * time.Second,
	}
}

// WSFeed subscribes to the push gateway over a websocket. On read errors
// it reconnects and resubscribes with exponential backoff until
// Unsubscribe is called; while disconnected the client degrades to
// polling-only and no events are delivered.
type WSFeed struct {
	config WSFeedConfig
	auth   Authorizer

	mu      sync.Mutex
	conn    net.Conn
	userID  string
	handler Handler
	done    chan struct{}
	closed  bool
}

// NewWSFeed creates a websocket push feed.
func NewWSFeed(config WSFeedConfig, auth Authorizer) *WSFeed {
	return &WSFeed{config: config, auth: auth}
}

// gatewayFrame is the wire envelope for every gateway message.
type gatewayFrame struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Subscribe dials the gateway, completes the channel auth handshake, and
// starts the read loop. It returns after the subscription is confirmed.
func (f *WSFeed) Subscribe(ctx context.Context, userID string, handler Handler) error {
	f.mu.Lock()
	if f.done != nil {
		f.mu.Unlock()
		return errors.New("push: feed already subscribed")
	}
	f.userID = userID
	f.handler = handler
	f.closed = false
	f.done = make(chan struct{})
	done := f.done
	f.mu.Unlock()

	conn, err := f.connect(ctx, userID)
	if err != nil {
		f.mu.Lock()
		f.done = nil
		f.mu.Unlock()
		return err
	}

	f.mu.Lock()
	f.conn = conn
	f.mu.Unlock()

	go f.readLoop(conn, done)
	return nil
}

// Unsubscribe tears down the connection and stops reconnecting.
func (f *WSFeed) Unsubscribe() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.done == nil {
		return nil
	}
	f.closed = true
	close(f.done)
	f.done = nil
	if f.conn != nil {
		f.conn.Close()
		f.conn = nil
	}
	return nil
}

// connect dials the gateway and joins the user channel: the gateway
// assigns a socket ID, the auth endpoint signs it for the channel, and
// the subscribe frame carries the signature.
func (f *WSFeed) connect(ctx context.Context, userID string) (net.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, f.config.HandshakeTimeout)
	defer cancel()

	conn, _, _, err := ws.Dial(dialCtx, f.config.URL)
	if err != nil {
		return nil, fmt.Errorf("push: dial gateway: %w", err)
	}

	socketID, err := f.awaitEstablished(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}

	channel := ChannelName(userID)
	signature, err := f.auth.AuthorizeChannel(ctx, socketID, channel)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("push: channel auth for %s: %w", channel, err)
	}

	sub, _ := json.Marshal(map[string]any{
		"event": frameSubscribe,
		"data": map[string]string{
			"channel": channel,
			"auth":    signature,
		},
	})
	if err := wsutil.WriteClientMessage(conn, ws.OpText, sub); err != nil {
		conn.Close()
		return nil, fmt.Errorf("push: send subscribe: %w", err)
	}

	if err := f.awaitSubscribed(conn, channel); err != nil {
		conn.Close()
		return nil, err
	}
	log.Printf("[push] subscribed to %s", channel)
	return conn, nil
}

// awaitEstablished reads frames until the gateway reports the connection
// and returns the assigned socket ID.
func (f *WSFeed) awaitEstablished(conn net.Conn) (string, error) {
	conn.SetReadDeadline(time.Now().Add(f.config.HandshakeTimeout))
	defer conn.SetReadDeadline(time.Time{})

	frame, err := readFrame(conn)
	if err != nil {
		return "", fmt.Errorf("push: await connection: %w", err)
	}
	if frame.Event != frameConnEstablished {
		return "", fmt.Errorf("push: unexpected handshake frame %q", frame.Event)
	}
	var data struct {
		SocketID string `json:"socket_id"`
	}
	raw := frame.Data
	if len(raw) > 0 && raw[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return "", fmt.Errorf("push: unwrap handshake data: %w", err)
		}
		raw = json.RawMessage(inner)
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return "", fmt.Errorf("push: decode handshake data: %w", err)
	}
	if data.SocketID == "" {
		return "", errors.New("push: gateway sent no socket_id")
	}
	return data.SocketID, nil
}

// awaitSubscribed reads until the subscription is confirmed or rejected.
func (f *WSFeed) awaitSubscribed(conn net.Conn, channel string) error {
	conn.SetReadDeadline(time.Now().Add(f.config.HandshakeTimeout))
	defer conn.SetReadDeadline(time.Time{})

	for {
		frame, err := readFrame(conn)
		if err != nil {
			return fmt.Errorf("push: await subscription: %w", err)
		}
		switch frame.Event {
		case frameSubscribed:
			return nil
		case frameError:
			return fmt.Errorf("push: gateway rejected subscription to %s: %s", channel, string(frame.Data))
		default:
			// Events for other channels may interleave; skip them.
		}
	}
}

// readLoop delivers events until the connection drops or Unsubscribe is
// called. On a dropped connection it reconnects with backoff.
func (f *WSFeed) readLoop(conn net.Conn, done chan struct{}) {
	for {
		frame, err := readFrame(conn)
		if err != nil {
			select {
			case <-done:
				return
			default:
			}
			log.Printf("[push] connection lost: %v", err)
			conn = f.reconnect(done)
			if conn == nil {
				return
			}
			continue
		}
		f.dispatch(conn, frame)
	}
}

// reconnect redials until it succeeds or the feed is unsubscribed.
func (f *WSFeed) reconnect(done chan struct{}) net.Conn {
	wait := f.config.ReconnectWait
	for {
		select {
		case <-done:
			return nil
		case <-time.After(wait):
		}

		metrics.PushReconnectsTotal.Inc()
		f.mu.Lock()
		userID := f.userID
		f.mu.Unlock()

		conn, err := f.connect(context.Background(), userID)
		if err == nil {
			f.mu.Lock()
			if f.closed {
				f.mu.Unlock()
				conn.Close()
				return nil
			}
			f.conn = conn
			f.mu.Unlock()
			log.Printf("[push] reconnected")
			return conn
		}
		log.Printf("[push] reconnect failed: %v (retrying in %s)", err, wait)
		if wait < f.config.MaxReconnectWait {
			wait *= 2
			if wait > f.config.MaxReconnectWait {
				wait = f.config.MaxReconnectWait
			}
		}
	}
}

// dispatch routes one inbound frame.
func (f *WSFeed) dispatch(conn net.Conn, frame gatewayFrame) {
	switch frame.Event {
	case framePing:
		pong, _ := json.Marshal(gatewayFrame{Event: framePong})
		if err := wsutil.WriteClientMessage(conn, ws.OpText, pong); err != nil {
			log.Printf("[push] pong failed: %v", err)
		}
	case EventNewMessage, EventTyping:
		payload, err := decodePayload(frame.Data)
		if err != nil {
			log.Printf("[push] bad %s payload: %v", frame.Event, err)
			return
		}
		f.deliver(Event{Type: frame.Event, Message: payload.Message, User: payload.User})
	case EventMemberUp, EventMemberDown:
		payload, err := decodePayload(frame.Data)
		if err != nil {
			log.Printf("[push] bad presence payload: %v", err)
			return
		}
		f.deliver(Event{Type: frame.Event, User: payload.User})
	}
}

func (f *WSFeed) deliver(event Event) {
	f.mu.Lock()
	handler := f.handler
	f.mu.Unlock()
	if handler != nil {
		handler(event)
	}
}

func readFrame(conn net.Conn) (gatewayFrame, error) {
	data, err := wsutil.ReadServerText(conn)
	if err != nil {
		return gatewayFrame{}, err
	}
	var frame gatewayFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return gatewayFrame{}, fmt.Errorf("decode frame: %w", err)
	}
	return frame, nil
}
