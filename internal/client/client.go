// Package client wires the messenger components into one session-scoped
// facade: conversation list, open thread, optimistic sends, push routing,
// read receipts, and badge polling. The facade owns the session lifecycle
// from Start to Logout.
package client

import (
	"context"
	"fmt"
	"log"

	"github.com/lectio/messenger/internal/api"
	"github.com/lectio/messenger/internal/attach"
	"github.com/lectio/messenger/internal/badge"
	"github.com/lectio/messenger/internal/cache"
	"github.com/lectio/messenger/internal/conversation"
	"github.com/lectio/messenger/internal/model"
	"github.com/lectio/messenger/internal/push"
	"github.com/lectio/messenger/internal/readsync"
	"github.com/lectio/messenger/internal/realtime"
	"github.com/lectio/messenger/internal/send"
	"github.com/lectio/messenger/internal/sound"
	"github.com/lectio/messenger/internal/thread"
)

// Client is one authenticated messenger session.
type Client struct {
	userID string

	api      *api.Client
	lookups  *cache.Cache
	store    *conversation.Store
	buffer   *thread.Buffer
	bridge   *realtime.Bridge
	pipeline *send.Pipeline
	receipts *readsync.Synchronizer
	badges   *badge.Poller

	stopPolling context.CancelFunc
}

// New assembles a session for the given user. feed is the push transport
// (websocket gateway or NATS); player may be sound.Nop.
func New(apiClient *api.Client, feed push.Feed, userID string, player sound.Player) *Client {
	lookups := cache.New(0)
	store := conversation.NewStore(apiClient, apiClient, lookups)
	buffer := thread.NewBuffer(apiClient)
	badges := badge.NewPoller(apiClient)

	bridge := realtime.NewBridge(feed, store, buffer, player)
	bridge.OnPresence = func(user model.Participant, online bool) {
		store.SetParticipantOnline(user.ID, online)
	}

	return &Client{
		userID:   userID,
		api:      apiClient,
		lookups:  lookups,
		store:    store,
		buffer:   buffer,
		bridge:   bridge,
		pipeline: send.NewPipeline(apiClient, buffer, store, userID),
		receipts: readsync.New(apiClient, store, badges),
		badges:   badges,
	}
}

// Start joins the push channel and begins badge polling. A failed channel
// join is not fatal: polling keeps the badges accurate, so the session
// continues in polling-only mode.
func (c *Client) Start(ctx context.Context) {
	if err := c.bridge.Subscribe(ctx, c.userID); err != nil {
		log.Printf("[client] continuing without push: %v", err)
	}

	pollCtx, cancel := context.WithCancel(context.Background())
	c.stopPolling = cancel
	c.badges.Start(pollCtx)
}

// OpenMessenger loads the first page of the conversation list. Returns
// whether more pages exist.
func (c *Client) OpenMessenger(ctx context.Context) (bool, error) {
	return c.store.LoadPage(ctx, 1)
}

// LoadMoreConversations appends the given page to the list.
func (c *Client) LoadMoreConversations(ctx context.Context, page int) (bool, error) {
	return c.store.LoadPage(ctx, page)
}

// OpenConversation loads the thread for the given conversation, marks it
// read, and pins its unread counter at zero while it stays open.
func (c *Client) OpenConversation(ctx context.Context, conversationID string) error {
	c.store.SetOpen(conversationID)
	if err := c.buffer.LoadInitial(ctx, conversationID); err != nil {
		return fmt.Errorf("client: open conversation %s: %w", conversationID, err)
	}
	c.receipts.OnThreadOpen(ctx, conversationID)
	return nil
}

// CloseConversation clears the open thread. The push subscription stays
// live so unread counts keep flowing while the user browses elsewhere.
func (c *Client) CloseConversation() {
	c.buffer.PruneOnClose()
	c.store.SetOpen("")
}

// LoadOlderMessages prepends the next older page of the open thread.
func (c *Client) LoadOlderMessages(ctx context.Context) error {
	return c.buffer.LoadOlder(ctx)
}

// SendText sends a text message to the open conversation.
func (c *Client) SendText(ctx context.Context, text string) (model.Message, error) {
	return c.pipeline.Send(ctx, c.buffer.ConversationID(), text, nil)
}

// SendFile stages the file at path and sends it, with optional caption
// text, to the open conversation.
func (c *Client) SendFile(ctx context.Context, text, path string) (model.Message, error) {
	staged, err := attach.Stage(path)
	if err != nil {
		return model.Message{}, err
	}
	return c.pipeline.Send(ctx, c.buffer.ConversationID(), text, &staged)
}

// ClearBadge bulk-marks an aggregate read.
func (c *Client) ClearBadge(ctx context.Context, kind readsync.Kind) error {
	return c.receipts.OnBadgeClear(ctx, kind)
}

// Conversations returns the current conversation list.
func (c *Client) Conversations() []model.Conversation {
	return c.store.Conversations()
}

// Messages returns the open thread's messages, oldest first.
func (c *Client) Messages() []model.Message {
	return c.buffer.Messages()
}

// TotalUnread returns the unread aggregate for the badge.
func (c *Client) TotalUnread() int {
	return c.store.TotalUnread()
}

// BadgeCounts returns the polled (messages, notifications) badge values.
func (c *Client) BadgeCounts() (int, int) {
	return c.badges.Messages(), c.badges.Notifications()
}

// Bridge exposes the realtime bridge for typing/presence callbacks.
func (c *Client) Bridge() *realtime.Bridge {
	return c.bridge
}

// Logout tears the session down: push subscription, polling, caches, and
// stores are all released.
func (c *Client) Logout() {
	if err := c.bridge.Unsubscribe(); err != nil {
		log.Printf("[client] unsubscribe on logout: %v", err)
	}
	if c.stopPolling != nil {
		c.stopPolling()
		c.stopPolling = nil
	}
	c.buffer.PruneOnClose()
	c.store.Clear()
	c.lookups.Clear()
}
