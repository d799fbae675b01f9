package push

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/lectio/messenger/internal/model"
)

type fakeAuthorizer struct {
	mu       sync.Mutex
	socketID string
	channel  string
}

func (a *fakeAuthorizer) AuthorizeChannel(ctx context.Context, socketID, channel string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.socketID = socketID
	a.channel = channel
	return "key:signature", nil
}

// startGateway runs a minimal push gateway that performs the handshake
// and then writes every frame from outbound to the client.
func startGateway(t *testing.T, outbound <-chan string) string {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		go func() {
			defer conn.Close()

			est := `{"event":"pusher:connection_established","data":"{\"socket_id\":\"81.9\"}"}`
			if err := wsutil.WriteServerMessage(conn, ws.OpText, []byte(est)); err != nil {
				t.Errorf("write established: %v", err)
				return
			}

			data, err := wsutil.ReadClientText(conn)
			if err != nil {
				t.Errorf("read subscribe: %v", err)
				return
			}
			var sub struct {
				Event string `json:"event"`
				Data  struct {
					Channel string `json:"channel"`
					Auth    string `json:"auth"`
				} `json:"data"`
			}
			if err := json.Unmarshal(data, &sub); err != nil {
				t.Errorf("decode subscribe: %v", err)
				return
			}
			if sub.Event != "pusher:subscribe" || sub.Data.Auth != "key:signature" {
				t.Errorf("unexpected subscribe frame: %s", data)
				return
			}

			ok := `{"event":"pusher_internal:subscription_succeeded","channel":"` + sub.Data.Channel + `"}`
			if err := wsutil.WriteServerMessage(conn, ws.OpText, []byte(ok)); err != nil {
				t.Errorf("write succeeded: %v", err)
				return
			}

			for frame := range outbound {
				if err := wsutil.WriteServerMessage(conn, ws.OpText, []byte(frame)); err != nil {
					return
				}
			}
		}()
	}))
	t.Cleanup(server.Close)

	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestWSFeedSubscribeAndReceive(t *testing.T) {
	outbound := make(chan string, 4)
	url := startGateway(t, outbound)

	auth := &fakeAuthorizer{}
	config := DefaultWSFeedConfig()
	config.URL = url
	feed := NewWSFeed(config, auth)

	events := make(chan Event, 4)
	err := feed.Subscribe(context.Background(), "u1", func(event Event) {
		events <- event
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer feed.Unsubscribe()

	auth.mu.Lock()
	if auth.socketID != "81.9" || auth.channel != "Messenger.u1" {
		t.Errorf("auth handshake got socket=%q channel=%q", auth.socketID, auth.channel)
	}
	auth.mu.Unlock()

	// Double-encoded data, as the gateway sends it.
	outbound <- `{"event":"new-message","channel":"Messenger.u1","data":"{\"message\":{\"id\":\"42\",\"conversation_id\":\"7\",\"user_id\":\"p\",\"message\":\"hi\"},\"user\":{\"id\":\"p\",\"name\":\"Ana\"}}"}`

	select {
	case event := <-events:
		if event.Type != EventNewMessage {
			t.Errorf("expected new-message, got %q", event.Type)
		}
		if event.Message.ID != "42" || event.Message.Body.Text != "hi" {
			t.Errorf("unexpected message: %+v", event.Message)
		}
		if event.User.DisplayName != "Ana" {
			t.Errorf("unexpected user: %+v", event.User)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no event delivered")
	}
}

func TestWSFeedSecondSubscribeRejected(t *testing.T) {
	outbound := make(chan string)
	defer close(outbound)
	url := startGateway(t, outbound)

	config := DefaultWSFeedConfig()
	config.URL = url
	feed := NewWSFeed(config, &fakeAuthorizer{})

	if err := feed.Subscribe(context.Background(), "u1", func(Event) {}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer feed.Unsubscribe()

	if err := feed.Subscribe(context.Background(), "u1", func(Event) {}); err == nil {
		t.Fatal("second subscribe on a live feed must fail; the bridge enforces idempotency above it")
	}
}

func TestWSFeedUnsubscribeStopsDelivery(t *testing.T) {
	outbound := make(chan string, 1)
	url := startGateway(t, outbound)

	config := DefaultWSFeedConfig()
	config.URL = url
	feed := NewWSFeed(config, &fakeAuthorizer{})

	if err := feed.Subscribe(context.Background(), "u1", func(Event) {}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := feed.Unsubscribe(); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}
	// A second unsubscribe is a no-op.
	if err := feed.Unsubscribe(); err != nil {
		t.Fatalf("second Unsubscribe: %v", err)
	}
}

func TestDecodePayloadPlainObject(t *testing.T) {
	payload, err := decodePayload(json.RawMessage(`{"message":{"id":"1","message":"x"},"user":{"id":"u"}}`))
	if err != nil {
		t.Fatalf("decodePayload: %v", err)
	}
	if payload.Message.ID != "1" || payload.User.ID != "u" {
		t.Errorf("unexpected payload: %+v", payload)
	}
	if payload.Message.Body.Kind != model.BodyText {
		t.Errorf("expected text body, got %q", payload.Message.Body.Kind)
	}
}

func TestDecodePayloadRejectsGarbage(t *testing.T) {
	if _, err := decodePayload(json.RawMessage(`"not json inside"`)); err == nil {
		t.Fatal("expected decode error")
	}
}
