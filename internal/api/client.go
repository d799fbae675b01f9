// Package api implements the messenger REST client. Every call carries the
// user's bearer token, respects the caller's context, and classifies
// failures into the three buckets the rest of the client cares about:
// network failures, auth failures, and server rejections (see errors.go).
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/lectio/messenger/internal/model"
)

// Config holds REST client settings.
type Config struct {
	BaseURL string        // https://api.example.com
	Token   string        // bearer token for the authenticated user
	Timeout time.Duration // per-request timeout
}

// DefaultConfig returns sensible defaults. BaseURL and Token must be set
// by the caller.
func DefaultConfig() Config {
	return Config{
		Timeout: 15 * time.Second,
	}
}

// Client talks to the messenger backend.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New creates a REST client from config.
func New(config Config) *Client {
	return &Client{
		baseURL: config.BaseURL,
		token:   config.Token,
		http:    &http.Client{Timeout: config.Timeout},
	}
}

// ConversationPage is one page of the user's conversation list.
type ConversationPage struct {
	Conversations []model.Conversation
	HasMore       bool
}

// MessagePage is one page of a conversation's messages, oldest first.
// HasOlder reports whether an earlier page exists.
type MessagePage struct {
	Messages []model.Message
	HasOlder bool
}

// Notification is one entry in the user's notification feed.
type Notification struct {
	ID        string     `json:"id"`
	Text      string     `json:"text"`
	ReadAt    *time.Time `json:"read_at"`
	CreatedAt time.Time  `json:"created_at"`
}

// CourseInfo is the subset of course details used for context labels.
type CourseInfo struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// LectureInfo is the subset of lecture details used for context labels.
type LectureInfo struct {
	ID       string `json:"id"`
	CourseID string `json:"course_id"`
	Title    string `json:"title"`
}

// Upload carries attachment bytes into SendMessage.
type Upload struct {
	FileName string
	MimeType string
	Reader   io.Reader
}

// Conversations fetches one page of the conversation list.
func (c *Client) Conversations(ctx context.Context, page int) (ConversationPage, error) {
	var resp struct {
		Data        []model.Conversation `json:"data"`
		NextPageURL string               `json:"next_page_url"`
	}
	path := "/conversations?page=" + strconv.Itoa(page)
	if err := c.get(ctx, path, &resp); err != nil {
		return ConversationPage{}, err
	}
	return ConversationPage{
		Conversations: resp.Data,
		HasMore:       resp.NextPageURL != "",
	}, nil
}

// Messages fetches one page of a conversation's messages.
func (c *Client) Messages(ctx context.Context, conversationID string, page int) (MessagePage, error) {
	var resp struct {
		Messages struct {
			Data        []model.Message `json:"data"`
			PrevPageURL string          `json:"prev_page_url"`
		} `json:"messages"`
	}
	path := "/conversations/" + url.PathEscape(conversationID) + "/messages?page=" + strconv.Itoa(page)
	if err := c.get(ctx, path, &resp); err != nil {
		return MessagePage{}, err
	}
	return MessagePage{
		Messages: resp.Messages.Data,
		HasOlder: resp.Messages.PrevPageURL != "",
	}, nil
}

// SendMessage posts a new message as multipart form data. Either text or
// upload may be empty/nil, but not both; the server enforces the same
// rule. Returns the canonical message the server created.
func (c *Client) SendMessage(ctx context.Context, conversationID, text string, upload *Upload) (model.Message, error) {
	body, contentType, err := encodeSendForm(conversationID, text, upload)
	if err != nil {
		return model.Message{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", body)
	if err != nil {
		return model.Message{}, fmt.Errorf("api: build send request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	var resp struct {
		Message model.Message `json:"message"`
	}
	if err := c.do(req, &resp); err != nil {
		return model.Message{}, err
	}
	return resp.Message, nil
}

// MarkConversationRead marks every message in the conversation as read.
func (c *Client) MarkConversationRead(ctx context.Context, conversationID string) error {
	return c.put(ctx, "/conversations/"+url.PathEscape(conversationID)+"/read")
}

// MarkNotificationsRead marks the whole notification feed as read.
func (c *Client) MarkNotificationsRead(ctx context.Context) error {
	return c.put(ctx, "/notifications/read_at")
}

// MarkAllMessagesRead marks every conversation as read.
func (c *Client) MarkAllMessagesRead(ctx context.Context) error {
	return c.put(ctx, "/messages/mark-all-read")
}

// NotificationCount returns the number of unread notifications.
func (c *Client) NotificationCount(ctx context.Context) (int, error) {
	var resp struct {
		Count int `json:"count"`
	}
	if err := c.get(ctx, "/notifications/count", &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

// Notifications fetches one page of the notification feed.
func (c *Client) Notifications(ctx context.Context, page int) ([]Notification, error) {
	var resp struct {
		Data []Notification `json:"data"`
	}
	if err := c.get(ctx, "/notifications?page="+strconv.Itoa(page), &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// MessageCount returns the number of unread messages across all
// conversations.
func (c *Client) MessageCount(ctx context.Context) (int, error) {
	var resp struct {
		Count int `json:"count"`
	}
	if err := c.get(ctx, "/count-messages", &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

// CourseDetails fetches course metadata for context labels.
func (c *Client) CourseDetails(ctx context.Context, courseID string) (CourseInfo, error) {
	var info CourseInfo
	err := c.get(ctx, "/course-details/"+url.PathEscape(courseID), &info)
	return info, err
}

// LectureDetails fetches lecture metadata for context labels.
func (c *Client) LectureDetails(ctx context.Context, courseID, lectureID string) (LectureInfo, error) {
	var info LectureInfo
	path := "/showLecture/" + url.PathEscape(courseID) + "/" + url.PathEscape(lectureID)
	err := c.get(ctx, path, &info)
	return info, err
}

// AuthorizeChannel performs the broker auth handshake for a private or
// presence channel subscription. socketID identifies the websocket
// connection the gateway assigned.
func (c *Client) AuthorizeChannel(ctx context.Context, socketID, channel string) (string, error) {
	form := url.Values{}
	form.Set("socket_id", socketID)
	form.Set("channel_name", channel)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/broadcasting/auth",
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("api: build channel auth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var resp struct {
		Auth string `json:"auth"`
	}
	if err := c.do(req, &resp); err != nil {
		return "", err
	}
	return resp.Auth, nil
}

// ---------------------------------------------------------------------------
// Internals
// ---------------------------------------------------------------------------

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("api: build request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) put(ctx context.Context, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("api: build request: %w", err)
	}
	return c.do(req, nil)
}

// do executes the request with auth headers and decodes a 2xx JSON body
// into out. Non-2xx responses become *Error with the server's message
// when one was provided.
func (c *Client) do(req *http.Request, out interface{}) error {
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("api: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("api: decode %s response: %w", req.URL.Path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := &Error{StatusCode: resp.StatusCode}
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&body); err == nil {
		if body.Message != "" {
			apiErr.Message = body.Message
		} else {
			apiErr.Message = body.Error
		}
	}
	return apiErr
}

// encodeSendForm builds the multipart body for POST /messages.
func encodeSendForm(conversationID, text string, upload *Upload) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	if err := w.WriteField("conversation_id", conversationID); err != nil {
		return nil, "", fmt.Errorf("api: encode send form: %w", err)
	}
	if text != "" {
		if err := w.WriteField("message", text); err != nil {
			return nil, "", fmt.Errorf("api: encode send form: %w", err)
		}
	}
	if upload != nil {
		part, err := w.CreateFormFile("attachment", upload.FileName)
		if err != nil {
			return nil, "", fmt.Errorf("api: encode attachment part: %w", err)
		}
		if _, err := io.Copy(part, upload.Reader); err != nil {
			return nil, "", fmt.Errorf("api: copy attachment bytes: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("api: finalize send form: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}
