// Package readsync pushes read receipts to the server when a thread is
// opened or a badge is cleared, and zeroes the matching local counters.
// Receipt calls are best-effort: a failure is logged and the receipt is
// retried implicitly the next time the same trigger fires.
package readsync

import (
	"context"
	"fmt"
	"log"
)

// Kind selects which aggregate a badge clear applies to.
type Kind string

const (
	KindMessages      Kind = "messages"
	KindNotifications Kind = "notifications"
)

// API is the slice of the REST client the synchronizer needs.
type API interface {
	MarkAllMessagesRead(ctx context.Context) error
	MarkNotificationsRead(ctx context.Context) error
}

// ConversationStore zeroes local unread counters.
type ConversationStore interface {
	MarkRead(ctx context.Context, conversationID string)
	MarkAllRead()
}

// Badges zeroes the polled badge counters.
type Badges interface {
	ZeroMessages()
	ZeroNotifications()
}

// Synchronizer coordinates read receipts between the server, the
// conversation store, and the badge counters.
type Synchronizer struct {
	api    API
	store  ConversationStore
	badges Badges
}

// New creates a synchronizer.
func New(api API, store ConversationStore, badges Badges) *Synchronizer {
	return &Synchronizer{api: api, store: store, badges: badges}
}

// OnThreadOpen marks the conversation read. The store zeroes the local
// counter immediately and reports the receipt to the server best-effort.
func (s *Synchronizer) OnThreadOpen(ctx context.Context, conversationID string) {
	s.store.MarkRead(ctx, conversationID)
}

// OnBadgeClear bulk-marks the given aggregate read and zeroes its local
// counter. The local clear happens regardless of the server call's
// outcome so the badge reflects the user's action immediately.
func (s *Synchronizer) OnBadgeClear(ctx context.Context, kind Kind) error {
	switch kind {
	case KindMessages:
		s.store.MarkAllRead()
		s.badges.ZeroMessages()
		if err := s.api.MarkAllMessagesRead(ctx); err != nil {
			log.Printf("[readsync] bulk mark messages read failed: %v", err)
		}
		return nil
	case KindNotifications:
		s.badges.ZeroNotifications()
		if err := s.api.MarkNotificationsRead(ctx); err != nil {
			log.Printf("[readsync] mark notifications read failed: %v", err)
		}
		return nil
	default:
		return fmt.Errorf("readsync: unknown badge kind %q", kind)
	}
}
