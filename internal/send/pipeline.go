// Package send orchestrates outgoing messages: it inserts an optimistic
// temporary message into the thread buffer before the network round-trip,
// performs the (possibly multipart) send, and reconciles the temporary
// entry with the server's canonical record exactly once, rolling back on
// failure.
package send

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lectio/messenger/internal/api"
	"github.com/lectio/messenger/internal/attach"
	"github.com/lectio/messenger/internal/metrics"
	"github.com/lectio/messenger/internal/model"
)

var (
	// ErrEmptyMessage is returned when neither text nor a file is given.
	ErrEmptyMessage = errors.New("send: message needs text or an attachment")

	// ErrSendInFlight is returned when a send is already outstanding.
	// Re-sending is a new user action once the first settles; this guard
	// absorbs double-clicks.
	ErrSendInFlight = errors.New("send: a send is already in flight")
)

// Sender is the slice of the REST client the pipeline needs.
type Sender interface {
	SendMessage(ctx context.Context, conversationID, text string, upload *api.Upload) (model.Message, error)
}

// ThreadBuffer is the mutation surface of the open thread.
type ThreadBuffer interface {
	Append(msg model.Message) bool
	ReplaceTemporary(tempID string, canonical model.Message) bool
	RemoveByID(id string) bool
}

// ConversationStore is the slice of the conversation store the pipeline
// needs for the optimistic last-message summary.
type ConversationStore interface {
	SetLastMessage(conversationID string, msg *model.Message) *model.Message
}

// Pipeline sends messages for one authenticated user.
type Pipeline struct {
	sender Sender
	buffer ThreadBuffer
	store  ConversationStore
	userID string

	mu       sync.Mutex
	inFlight bool

	now func() time.Time // injectable for tests
}

// NewPipeline creates a send pipeline for the given user.
func NewPipeline(sender Sender, buffer ThreadBuffer, store ConversationStore, userID string) *Pipeline {
	return &Pipeline{
		sender: sender,
		buffer: buffer,
		store:  store,
		userID: userID,
		now:    time.Now,
	}
}

// Send delivers a message with optional text and an optional staged file.
// The temporary message is visible in the buffer before this call blocks
// on the network; on success it is swapped in place for the canonical
// message, on failure it is removed and the conversation's last-message
// summary restored. At most one send may be outstanding at a time.
func (p *Pipeline) Send(ctx context.Context, conversationID, text string, file *attach.Staged) (model.Message, error) {
	if text == "" && file == nil {
		return model.Message{}, ErrEmptyMessage
	}

	p.mu.Lock()
	if p.inFlight {
		p.mu.Unlock()
		return model.Message{}, ErrSendInFlight
	}
	p.inFlight = true
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.inFlight = false
		p.mu.Unlock()
	}()

	started := p.now()
	temp := p.temporaryMessage(conversationID, text, file)
	p.buffer.Append(temp)
	prevLast := p.store.SetLastMessage(conversationID, &temp)

	canonical, err := p.dispatch(ctx, conversationID, text, file)
	if err != nil {
		p.buffer.RemoveByID(temp.ID)
		p.store.SetLastMessage(conversationID, prevLast)
		metrics.MessagesSentTotal.WithLabelValues("rolled_back").Inc()
		return model.Message{}, err
	}

	p.buffer.ReplaceTemporary(temp.ID, canonical)
	p.store.SetLastMessage(conversationID, &canonical)
	metrics.MessagesSentTotal.WithLabelValues("confirmed").Inc()
	metrics.SendLatency.Observe(p.now().Sub(started).Seconds())
	return canonical, nil
}

// temporaryMessage builds the optimistic placeholder. The ID carries a
// uuid rather than a timestamp so two rapid sends can never collide.
func (p *Pipeline) temporaryMessage(conversationID, text string, file *attach.Staged) model.Message {
	body := model.TextBody(text)
	if file != nil {
		body = model.AttachmentBody(file.Descriptor())
	}
	return model.Message{
		ID:             "temp-" + uuid.NewString(),
		ConversationID: conversationID,
		AuthorID:       p.userID,
		Body:           body,
		CreatedAt:      p.now(),
		IsTemporary:    true,
	}
}

func (p *Pipeline) dispatch(ctx context.Context, conversationID, text string, file *attach.Staged) (model.Message, error) {
	var upload *api.Upload
	if file != nil {
		r, err := file.Open()
		if err != nil {
			return model.Message{}, fmt.Errorf("send: %w", err)
		}
		defer r.Close()
		upload = &api.Upload{
			FileName: file.FileName,
			MimeType: file.MimeType,
			Reader:   r,
		}
	}
	canonical, err := p.sender.SendMessage(ctx, conversationID, text, upload)
	if err != nil {
		return model.Message{}, fmt.Errorf("send: deliver to conversation %s: %w", conversationID, err)
	}
	return canonical, nil
}
