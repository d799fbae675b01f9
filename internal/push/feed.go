// Package push implements the real-time feed transports. A Feed delivers
// events for exactly one user channel; the realtime bridge owns the
// subscription lifecycle and routing. Two transports exist: a websocket
// push gateway (wsfeed.go) and a NATS subject feed (natsfeed.go) for
// deployments whose backend fans out over NATS.
package push

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lectio/messenger/internal/model"
)

// Event names carried on the user channel.
const (
	EventNewMessage = "new-message"
	EventTyping     = "client-typing"
	EventMemberUp   = "member-added"
	EventMemberDown = "member-removed"
)

// Event is one inbound push event.
type Event struct {
	Type    string
	Message model.Message
	User    model.Participant
}

// Handler receives inbound events. Handlers run on the feed's read
// goroutine and must not block for long.
type Handler func(Event)

// Feed is a push transport bound to one user channel.
type Feed interface {
	// Subscribe joins the user's channel and starts delivering events to
	// handler. It returns once the subscription is established.
	Subscribe(ctx context.Context, userID string, handler Handler) error

	// Unsubscribe leaves the channel and releases the connection. Safe to
	// call when not subscribed.
	Unsubscribe() error
}

// ChannelName returns the per-user channel name by convention.
func ChannelName(userID string) string {
	return "Messenger." + userID
}

// eventPayload is the wire shape of new-message and typing events.
type eventPayload struct {
	Message model.Message     `json:"message"`
	User    model.Participant `json:"user"`
}

// decodePayload parses an event payload that may arrive either as a JSON
// object or as a string-encoded JSON object (the gateway double-encodes).
func decodePayload(data json.RawMessage) (eventPayload, error) {
	raw := data
	if len(raw) > 0 && raw[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return eventPayload{}, fmt.Errorf("push: unwrap event data: %w", err)
		}
		raw = json.RawMessage(inner)
	}
	var payload eventPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return eventPayload{}, fmt.Errorf("push: decode event data: %w", err)
	}
	return payload, nil
}
