// Command messenger is a terminal client for the Lectio messenger API.
// It demonstrates the full session flow: REST bootstrap, push
// subscription with polling fallback, optimistic sends, and read
// receipts. Configuration comes from the environment (optionally via a
// .env file).
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/lectio/messenger/internal/api"
	"github.com/lectio/messenger/internal/client"
	"github.com/lectio/messenger/internal/metrics"
	"github.com/lectio/messenger/internal/model"
	"github.com/lectio/messenger/internal/push"
	"github.com/lectio/messenger/internal/readsync"
	"github.com/lectio/messenger/internal/sound"
)

func main() {
	// Missing .env is fine; plain environment variables still apply.
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:           "messenger",
		Short:         "Lectio messenger terminal client",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(watchCmd(), sendCmd(), readCmd())

	if err := root.Execute(); err != nil {
		log.Fatalf("messenger: %v", err)
	}
}

// newSession builds a Client from the environment.
func newSession() (*client.Client, error) {
	apiConfig := api.DefaultConfig()
	apiConfig.BaseURL = os.Getenv("MESSENGER_API_URL")
	apiConfig.Token = os.Getenv("MESSENGER_TOKEN")
	if apiConfig.BaseURL == "" || apiConfig.Token == "" {
		return nil, fmt.Errorf("MESSENGER_API_URL and MESSENGER_TOKEN must be set")
	}
	userID := os.Getenv("MESSENGER_USER_ID")
	if userID == "" {
		return nil, fmt.Errorf("MESSENGER_USER_ID must be set")
	}

	apiClient := api.New(apiConfig)

	var feed push.Feed
	switch transport := os.Getenv("PUSH_TRANSPORT"); transport {
	case "nats":
		natsConfig := push.DefaultNATSFeedConfig()
		natsConfig.URL = os.Getenv("NATS_URL")
		natsConfig.Token = apiConfig.Token
		feed = push.NewNATSFeed(natsConfig)
	case "", "ws":
		wsConfig := push.DefaultWSFeedConfig()
		wsConfig.URL = os.Getenv("PUSH_URL")
		feed = push.NewWSFeed(wsConfig, apiClient)
	default:
		return nil, fmt.Errorf("unknown PUSH_TRANSPORT %q (want ws or nats)", transport)
	}

	var player sound.Player = sound.Nop{}
	if cmd := os.Getenv("SOUND_CMD"); cmd != "" {
		player = sound.CommandPlayer{Command: cmd, File: os.Getenv("SOUND_FILE")}
	}

	return client.New(apiClient, feed, userID, player), nil
}

// watchCmd tails the conversation list and badge counters.
func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Follow conversations, unread counts, and incoming messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := newSession()
			if err != nil {
				return err
			}
			defer session.Logout()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if addr := os.Getenv("METRICS_ADDR"); addr != "" {
				go func() {
					mux := http.NewServeMux()
					mux.Handle("/metrics", metrics.Handler())
					log.Printf("[main] metrics on %s/metrics", addr)
					if err := http.ListenAndServe(addr, mux); err != nil {
						log.Printf("[main] metrics server: %v", err)
					}
				}()
			}

			session.Start(ctx)
			session.Bridge().OnTyping = func(conversationID string, user model.Participant) {
				fmt.Printf("%s is typing in %s...\n", user.DisplayName, conversationID)
			}

			hasMore, err := session.OpenMessenger(ctx)
			if err != nil {
				return err
			}
			printConversations(session.Conversations(), hasMore)

			ticker := time.NewTicker(5 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					msgs, notifs := session.BadgeCounts()
					fmt.Printf("unread: %d conversations aggregate, %d messages badge, %d notifications badge\n",
						session.TotalUnread(), msgs, notifs)
				}
			}
		},
	}
}

// sendCmd sends one message to a conversation.
func sendCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "send <conversation-id> [text]",
		Short: "Send a message, optionally with an attachment",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := newSession()
			if err != nil {
				return err
			}
			defer session.Logout()

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			if err := session.OpenConversation(ctx, args[0]); err != nil {
				return err
			}
			text := ""
			if len(args) == 2 {
				text = args[1]
			}

			var msg model.Message
			if filePath != "" {
				msg, err = session.SendFile(ctx, text, filePath)
			} else {
				msg, err = session.SendText(ctx, text)
			}
			if err != nil {
				return err
			}
			fmt.Printf("sent message %s\n", msg.ID)
			return nil
		},
	}
	cmd.Flags().StringVarP(&filePath, "file", "f", "", "path of a file to attach")
	return cmd
}

// readCmd clears a badge aggregate.
func readCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "read <messages|notifications>",
		Short:     "Bulk-mark an aggregate as read",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"messages", "notifications"},
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := newSession()
			if err != nil {
				return err
			}
			defer session.Logout()

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return session.ClearBadge(ctx, readsync.Kind(args[0]))
		},
	}
}

func printConversations(conversations []model.Conversation, hasMore bool) {
	for _, conv := range conversations {
		label := conv.ContextLabel
		if label == "" {
			label = "-"
		}
		last := ""
		if conv.LastMessage != nil {
			switch conv.LastMessage.Body.Kind {
			case model.BodyAttachment:
				last = "[" + conv.LastMessage.Body.Attachment.FileName + "]"
			default:
				last = conv.LastMessage.Body.Text
			}
		}
		fmt.Printf("%-12s unread=%-3d %-24s %s\n", conv.ID, conv.UnreadCount, label, last)
	}
	if hasMore {
		fmt.Println("(more pages available)")
	}
}
