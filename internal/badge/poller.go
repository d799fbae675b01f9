// Package badge polls the backend for unread notification and message
// counts. Polling runs independently of the push feed, so badges stay
// accurate even when the push subscription could not be established.
package badge

import (
	"context"
	"log"
	"sync"
	"time"
)

// Poll cadences. Messages poll fast because the badge backs the messenger
// icon; notifications are cheaper to keep slow.
const (
	NotificationInterval = 30 * time.Second
	MessageInterval      = 1 * time.Second
)

// API is the slice of the REST client the poller needs.
type API interface {
	NotificationCount(ctx context.Context) (int, error)
	MessageCount(ctx context.Context) (int, error)
}

// Poller keeps the two badge counters fresh.
type Poller struct {
	api API

	mu            sync.RWMutex
	notifications int
	messages      int

	notificationInterval time.Duration
	messageInterval      time.Duration
}

// NewPoller creates a poller with the standard cadences.
func NewPoller(api API) *Poller {
	return &Poller{
		api:                  api,
		notificationInterval: NotificationInterval,
		messageInterval:      MessageInterval,
	}
}

// Start launches both polling loops. They stop when ctx is cancelled.
func (p *Poller) Start(ctx context.Context) {
	go p.loop(ctx, p.notificationInterval, p.pollNotifications)
	go p.loop(ctx, p.messageInterval, p.pollMessages)
}

func (p *Poller) loop(ctx context.Context, interval time.Duration, poll func(ctx context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			poll(ctx)
		}
	}
}

// pollNotifications refreshes the notification badge. Failures leave the
// last known value displayed.
func (p *Poller) pollNotifications(ctx context.Context) {
	count, err := p.api.NotificationCount(ctx)
	if err != nil {
		log.Printf("[badge] notification count poll failed: %v", err)
		return
	}
	p.mu.Lock()
	p.notifications = count
	p.mu.Unlock()
}

// pollMessages refreshes the message badge.
func (p *Poller) pollMessages(ctx context.Context) {
	count, err := p.api.MessageCount(ctx)
	if err != nil {
		log.Printf("[badge] message count poll failed: %v", err)
		return
	}
	p.mu.Lock()
	p.messages = count
	p.mu.Unlock()
}

// Notifications returns the unread notification count.
func (p *Poller) Notifications() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.notifications
}

// Messages returns the unread message count.
func (p *Poller) Messages() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.messages
}

// ZeroNotifications clears the notification badge locally, ahead of the
// next poll confirming it.
func (p *Poller) ZeroNotifications() {
	p.mu.Lock()
	p.notifications = 0
	p.mu.Unlock()
}

// ZeroMessages clears the message badge locally.
func (p *Poller) ZeroMessages() {
	p.mu.Lock()
	p.messages = 0
	p.mu.Unlock()
}
