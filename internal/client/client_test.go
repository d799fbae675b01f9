package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/lectio/messenger/internal/api"
	"github.com/lectio/messenger/internal/model"
	"github.com/lectio/messenger/internal/push"
	"github.com/lectio/messenger/internal/sound"
)

// fakeFeed lets tests emit push events without a broker.
type fakeFeed struct {
	mu            sync.Mutex
	handler       push.Handler
	unsubscribed  bool
	subscribeUser string
}

func (f *fakeFeed) Subscribe(ctx context.Context, userID string, handler push.Handler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = handler
	f.subscribeUser = userID
	return nil
}

func (f *fakeFeed) Unsubscribe() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = nil
	f.unsubscribed = true
	return nil
}

func (f *fakeFeed) emit(event push.Event) {
	f.mu.Lock()
	handler := f.handler
	f.mu.Unlock()
	if handler != nil {
		handler(event)
	}
}

// newBackend serves a small canned messenger API and records read calls.
func newBackend(t *testing.T) (*api.Client, *struct {
	mu        sync.Mutex
	readPaths []string
}) {
	t.Helper()
	recorded := &struct {
		mu        sync.Mutex
		readPaths []string
	}{}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /conversations", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"data": [
				{"id":"7","unread_count":3,"last_message":{"id":"5","conversation_id":"7","message":"see you"}},
				{"id":"8","unread_count":0}
			],
			"next_page_url": ""
		}`))
	})
	mux.HandleFunc("GET /conversations/{id}/messages", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"messages": {
				"data": [
					{"id":"4","conversation_id":"7","user_id":"partner","message":"hi"},
					{"id":"5","conversation_id":"7","user_id":"partner","message":"see you"}
				],
				"prev_page_url": ""
			}
		}`))
	})
	mux.HandleFunc("PUT /conversations/{id}/read", func(w http.ResponseWriter, r *http.Request) {
		recorded.mu.Lock()
		recorded.readPaths = append(recorded.readPaths, r.URL.Path)
		recorded.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("POST /messages", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Write([]byte(`{"message":{"id":"42","conversation_id":"` +
			r.FormValue("conversation_id") + `","user_id":"me","message":"` +
			r.FormValue("message") + `"}}`))
	})
	mux.HandleFunc("GET /notifications/count", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"count":0}`))
	})
	mux.HandleFunc("GET /count-messages", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"count":3}`))
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	config := api.DefaultConfig()
	config.BaseURL = server.URL
	config.Token = "t"
	return api.New(config), recorded
}

func TestOpenMessengerAggregatesUnread(t *testing.T) {
	apiClient, _ := newBackend(t)
	c := New(apiClient, &fakeFeed{}, "me", sound.Nop{})

	if _, err := c.OpenMessenger(context.Background()); err != nil {
		t.Fatalf("OpenMessenger: %v", err)
	}
	if got := c.TotalUnread(); got != 3 {
		t.Errorf("expected total unread 3, got %d", got)
	}
}

func TestOpenConversationLoadsAndMarksRead(t *testing.T) {
	apiClient, recorded := newBackend(t)
	c := New(apiClient, &fakeFeed{}, "me", sound.Nop{})

	if _, err := c.OpenMessenger(context.Background()); err != nil {
		t.Fatalf("OpenMessenger: %v", err)
	}
	if err := c.OpenConversation(context.Background(), "7"); err != nil {
		t.Fatalf("OpenConversation: %v", err)
	}

	if got := len(c.Messages()); got != 2 {
		t.Fatalf("expected 2 messages loaded, got %d", got)
	}
	recorded.mu.Lock()
	defer recorded.mu.Unlock()
	if len(recorded.readPaths) != 1 || recorded.readPaths[0] != "/conversations/7/read" {
		t.Errorf("expected read receipt for 7, got %v", recorded.readPaths)
	}
	if c.TotalUnread() != 0 {
		t.Errorf("opening the unread conversation must zero the aggregate, got %d", c.TotalUnread())
	}
}

func TestPushWhileThreadOpenKeepsUnreadZero(t *testing.T) {
	apiClient, _ := newBackend(t)
	feed := &fakeFeed{}
	c := New(apiClient, feed, "me", sound.Nop{})

	ctx := context.Background()
	c.Start(ctx)
	defer c.Logout()
	if _, err := c.OpenMessenger(ctx); err != nil {
		t.Fatalf("OpenMessenger: %v", err)
	}
	if err := c.OpenConversation(ctx, "7"); err != nil {
		t.Fatalf("OpenConversation: %v", err)
	}

	feed.emit(push.Event{
		Type:    push.EventNewMessage,
		Message: model.Message{ID: "6", ConversationID: "7", AuthorID: "partner", Body: model.TextBody("new")},
	})

	if got := len(c.Messages()); got != 3 {
		t.Fatalf("expected pushed message in the open thread, got %d entries", got)
	}
	if c.TotalUnread() != 0 {
		t.Errorf("open conversation must stay at unread 0, got %d", c.TotalUnread())
	}
}

func TestPushForBackgroundConversationIncrementsUnread(t *testing.T) {
	apiClient, _ := newBackend(t)
	feed := &fakeFeed{}
	c := New(apiClient, feed, "me", sound.Nop{})

	ctx := context.Background()
	c.Start(ctx)
	defer c.Logout()
	if _, err := c.OpenMessenger(ctx); err != nil {
		t.Fatalf("OpenMessenger: %v", err)
	}
	if err := c.OpenConversation(ctx, "7"); err != nil {
		t.Fatalf("OpenConversation: %v", err)
	}

	feed.emit(push.Event{
		Type:    push.EventNewMessage,
		Message: model.Message{ID: "9", ConversationID: "8", AuthorID: "partner", Body: model.TextBody("psst")},
	})

	conversations := c.Conversations()
	for _, conv := range conversations {
		if conv.ID == "8" {
			if conv.UnreadCount != 1 {
				t.Errorf("expected unread 1 for background conversation, got %d", conv.UnreadCount)
			}
			if conv.LastMessage == nil || conv.LastMessage.ID != "9" {
				t.Errorf("expected last message 9, got %+v", conv.LastMessage)
			}
		}
	}
	if got := len(c.Messages()); got != 2 {
		t.Errorf("background message must not enter the open thread, got %d entries", got)
	}
}

func TestSendThroughFacade(t *testing.T) {
	apiClient, _ := newBackend(t)
	c := New(apiClient, &fakeFeed{}, "me", sound.Nop{})

	ctx := context.Background()
	if _, err := c.OpenMessenger(ctx); err != nil {
		t.Fatalf("OpenMessenger: %v", err)
	}
	if err := c.OpenConversation(ctx, "7"); err != nil {
		t.Fatalf("OpenConversation: %v", err)
	}

	msg, err := c.SendText(ctx, "hello")
	if err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if msg.ID != "42" {
		t.Errorf("expected canonical id 42, got %s", msg.ID)
	}
	for _, m := range c.Messages() {
		if m.IsTemporary {
			t.Errorf("no temporary entries may remain: %+v", m)
		}
	}

	// The self-echo push for id 42 must not duplicate it.
	// (The bridge drops it by author before the buffer is even consulted.)
	count := 0
	for _, m := range c.Messages() {
		if m.ID == "42" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("expected exactly one entry with id 42, got %d", count)
	}
}

func TestLogoutTearsDownSession(t *testing.T) {
	apiClient, _ := newBackend(t)
	feed := &fakeFeed{}
	c := New(apiClient, feed, "me", sound.Nop{})

	ctx := context.Background()
	c.Start(ctx)
	if _, err := c.OpenMessenger(ctx); err != nil {
		t.Fatalf("OpenMessenger: %v", err)
	}

	c.Logout()

	feed.mu.Lock()
	defer feed.mu.Unlock()
	if !feed.unsubscribed {
		t.Error("logout must tear down the push subscription")
	}
	if len(c.Conversations()) != 0 || c.TotalUnread() != 0 {
		t.Error("logout must clear the conversation store")
	}
}
