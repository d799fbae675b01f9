// Package realtime routes inbound push events into the conversation store
// and thread buffer. The bridge owns the per-user subscription as an
// explicit state machine (Unsubscribed -> Subscribing -> Subscribed),
// decoupled from any view lifecycle: subscribing twice for the same user
// is a no-op, and teardown happens only at logout.
package realtime

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/lectio/messenger/internal/metrics"
	"github.com/lectio/messenger/internal/model"
	"github.com/lectio/messenger/internal/push"
	"github.com/lectio/messenger/internal/sound"
)

// State is the subscription lifecycle state.
type State int

const (
	StateUnsubscribed State = iota
	StateSubscribing
	StateSubscribed
)

func (s State) String() string {
	switch s {
	case StateSubscribing:
		return "subscribing"
	case StateSubscribed:
		return "subscribed"
	default:
		return "unsubscribed"
	}
}

// ConversationStore is the slice of the conversation store the bridge
// routes background messages to.
type ConversationStore interface {
	ApplyIncomingMessage(conversationID string, msg model.Message)
	MarkRead(ctx context.Context, conversationID string)
}

// ThreadBuffer is the slice of the thread buffer the bridge appends open-
// thread messages to.
type ThreadBuffer interface {
	Append(msg model.Message) bool
	IsOpen(conversationID string) bool
}

// Bridge maintains the push subscription for the authenticated user and
// dispatches its events.
type Bridge struct {
	feed   push.Feed
	store  ConversationStore
	buffer ThreadBuffer
	player sound.Player

	mu     sync.Mutex
	state  State
	userID string

	// OnTyping, when set, receives typing indicator events. Typing events
	// are never stored.
	OnTyping func(conversationID string, user model.Participant)

	// OnPresence, when set, receives participant online/offline changes
	// from the presence channel.
	OnPresence func(user model.Participant, online bool)
}

// NewBridge creates a bridge over the given feed. player may not be nil;
// use sound.Nop for silent operation.
func NewBridge(feed push.Feed, store ConversationStore, buffer ThreadBuffer, player sound.Player) *Bridge {
	return &Bridge{
		feed:   feed,
		store:  store,
		buffer: buffer,
		player: player,
	}
}

// Subscribe joins the user's push channel. Calling it again for the same
// user while subscribing or subscribed is a no-op, which prevents
// duplicate listener registration across view remounts. Subscribing for a
// different user without an intervening Unsubscribe is an error.
func (b *Bridge) Subscribe(ctx context.Context, userID string) error {
	b.mu.Lock()
	if b.state != StateUnsubscribed {
		sameUser := b.userID == userID
		b.mu.Unlock()
		if sameUser {
			return nil
		}
		return fmt.Errorf("realtime: subscription active for user %s", b.userID)
	}
	b.state = StateSubscribing
	b.userID = userID
	b.mu.Unlock()

	if err := b.feed.Subscribe(ctx, userID, b.handleEvent); err != nil {
		b.mu.Lock()
		b.state = StateUnsubscribed
		b.userID = ""
		b.mu.Unlock()
		// Badge polling keeps unread counts flowing, so a failed join
		// degrades silently to polling-only.
		log.Printf("[realtime] subscription failed for user=%s, polling only: %v", userID, err)
		return fmt.Errorf("realtime: subscribe user %s: %w", userID, err)
	}

	b.mu.Lock()
	b.state = StateSubscribed
	b.mu.Unlock()
	metrics.PushSubscriptions.Set(1)
	return nil
}

// Unsubscribe leaves the channel. Called only at logout; view navigation
// keeps the subscription alive so unread counts stay accurate.
func (b *Bridge) Unsubscribe() error {
	b.mu.Lock()
	if b.state == StateUnsubscribed {
		b.mu.Unlock()
		return nil
	}
	b.state = StateUnsubscribed
	b.userID = ""
	b.mu.Unlock()

	metrics.PushSubscriptions.Set(0)
	return b.feed.Unsubscribe()
}

// CurrentState returns the subscription state.
func (b *Bridge) CurrentState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// handleEvent runs on the feed's read goroutine.
func (b *Bridge) handleEvent(event push.Event) {
	switch event.Type {
	case push.EventNewMessage:
		b.handleNewMessage(event)
	case push.EventTyping:
		if b.OnTyping != nil {
			b.OnTyping(event.Message.ConversationID, event.User)
		}
	case push.EventMemberUp:
		if b.OnPresence != nil {
			b.OnPresence(event.User, true)
		}
	case push.EventMemberDown:
		if b.OnPresence != nil {
			b.OnPresence(event.User, false)
		}
	}
}

func (b *Bridge) handleNewMessage(event push.Event) {
	b.mu.Lock()
	currentUser := b.userID
	b.mu.Unlock()

	msg := event.Message
	if msg.AuthorID == currentUser {
		// Our own echo; the send pipeline already reconciled it.
		metrics.MessagesReceivedTotal.WithLabelValues("own_echo").Inc()
		return
	}

	if b.buffer.IsOpen(msg.ConversationID) {
		if !b.buffer.Append(msg) {
			metrics.MessagesReceivedTotal.WithLabelValues("duplicate").Inc()
			return
		}
		metrics.MessagesReceivedTotal.WithLabelValues("open_thread").Inc()
		b.store.ApplyIncomingMessage(msg.ConversationID, msg)
		b.store.MarkRead(context.Background(), msg.ConversationID)
	} else {
		metrics.MessagesReceivedTotal.WithLabelValues("background").Inc()
		b.store.ApplyIncomingMessage(msg.ConversationID, msg)
	}

	// Fire-and-forget: autoplay restrictions or a missing audio device
	// must never affect message handling.
	go func() {
		if err := b.player.Play(); err != nil {
			log.Printf("[realtime] notification sound: %v", err)
		}
	}()
}
