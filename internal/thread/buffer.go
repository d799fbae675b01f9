// Package thread maintains the ordered message list for the currently open
// conversation. The buffer is the only mutation surface for messages:
// pagination, push events, and the send pipeline all go through Append,
// ReplaceTemporary, and RemoveByID, which makes the dedup and
// reconciliation rules testable without any rendering concern.
package thread

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/lectio/messenger/internal/api"
	"github.com/lectio/messenger/internal/model"
)

// MessageFetcher is the slice of the REST client the buffer needs.
type MessageFetcher interface {
	Messages(ctx context.Context, conversationID string, page int) (api.MessagePage, error)
}

// Buffer holds the open conversation's messages in chronological order
// (oldest first). Message ID is the sole dedup key: a message appears in
// the buffer at most once at any time, regardless of whether it arrived
// via fetch, push, or an optimistic send.
type Buffer struct {
	mu             sync.RWMutex
	conversationID string
	messages       []model.Message
	index          map[string]int // message ID -> position in messages
	page           int            // highest fetched page (1 = most recent)
	hasMoreOlder   bool

	fetcher MessageFetcher
}

// NewBuffer creates an empty buffer backed by the given fetcher.
func NewBuffer(fetcher MessageFetcher) *Buffer {
	return &Buffer{
		index:   make(map[string]int),
		fetcher: fetcher,
	}
}

// LoadInitial opens a conversation: it replaces the buffer contents with
// the most recent page of messages. If the user opens a different
// conversation while the fetch is in flight, the stale result is
// discarded at commit time rather than by aborting the request.
func (b *Buffer) LoadInitial(ctx context.Context, conversationID string) error {
	b.mu.Lock()
	b.conversationID = conversationID
	b.messages = nil
	b.index = make(map[string]int)
	b.page = 0
	b.hasMoreOlder = false
	b.mu.Unlock()

	page, err := b.fetcher.Messages(ctx, conversationID, 1)
	if err != nil {
		return fmt.Errorf("thread: load conversation %s: %w", conversationID, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conversationID != conversationID {
		log.Printf("[thread] discarding stale initial load for conversation=%s (open=%s)", conversationID, b.conversationID)
		return nil
	}
	for _, msg := range page.Messages {
		b.appendLocked(msg)
	}
	b.page = 1
	b.hasMoreOlder = page.HasOlder
	return nil
}

// LoadOlder prepends the next older page. Scroll anchoring is the
// caller's concern; the buffer only guarantees that existing entries keep
// their relative order. A no-op when no older page exists or no
// conversation is open.
func (b *Buffer) LoadOlder(ctx context.Context) error {
	b.mu.RLock()
	conversationID := b.conversationID
	nextPage := b.page + 1
	hasMore := b.hasMoreOlder
	b.mu.RUnlock()

	if conversationID == "" || !hasMore {
		return nil
	}

	page, err := b.fetcher.Messages(ctx, conversationID, nextPage)
	if err != nil {
		return fmt.Errorf("thread: load older page %d: %w", nextPage, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conversationID != conversationID {
		log.Printf("[thread] discarding stale page %d for conversation=%s", nextPage, conversationID)
		return nil
	}

	// Skip anything already present so an overlapping page cannot
	// introduce duplicates.
	fresh := make([]model.Message, 0, len(page.Messages))
	for _, msg := range page.Messages {
		if _, ok := b.index[msg.ID]; ok {
			continue
		}
		fresh = append(fresh, msg)
	}
	b.messages = append(fresh, b.messages...)
	b.reindexLocked()
	b.page = nextPage
	b.hasMoreOlder = page.HasOlder
	return nil
}

// Append adds a message at the tail. It reports whether the message was
// inserted; a message whose ID is already present is ignored, which is
// what absorbs a push echo of the receiver's own reconciled send.
func (b *Buffer) Append(msg model.Message) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.appendLocked(msg)
}

// ReplaceTemporary swaps the temporary entry tempID for the canonical
// server message, preserving list position. If the canonical ID is
// already present (the push path won the race), the temporary entry is
// removed instead so the message still appears exactly once. Reports
// whether the temporary entry was found.
func (b *Buffer) ReplaceTemporary(tempID string, canonical model.Message) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	pos, ok := b.index[tempID]
	if !ok {
		return false
	}
	if existing, dup := b.index[canonical.ID]; dup && existing != pos {
		b.removeAtLocked(pos)
		return true
	}
	canonical.IsTemporary = false
	b.messages[pos] = canonical
	delete(b.index, tempID)
	b.index[canonical.ID] = pos
	return true
}

// RemoveByID deletes the message with the given ID, reporting whether it
// existed. Used for rolling back a failed optimistic send.
func (b *Buffer) RemoveByID(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	pos, ok := b.index[id]
	if !ok {
		return false
	}
	b.removeAtLocked(pos)
	return true
}

// PruneOnClose clears the buffer when the thread view closes.
func (b *Buffer) PruneOnClose() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.conversationID = ""
	b.messages = nil
	b.index = make(map[string]int)
	b.page = 0
	b.hasMoreOlder = false
}

// ConversationID returns the ID of the open conversation, or "" when no
// thread is open.
func (b *Buffer) ConversationID() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.conversationID
}

// IsOpen reports whether the given conversation is the open thread.
func (b *Buffer) IsOpen(conversationID string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.conversationID != "" && b.conversationID == conversationID
}

// Messages returns a copy of the buffer contents, oldest first.
func (b *Buffer) Messages() []model.Message {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]model.Message, len(b.messages))
	copy(out, b.messages)
	return out
}

// Contains reports whether a message with the given ID is buffered.
func (b *Buffer) Contains(id string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.index[id]
	return ok
}

// Len returns the number of buffered messages.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.messages)
}

// HasMoreOlder reports whether an older page can still be fetched.
func (b *Buffer) HasMoreOlder() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.hasMoreOlder
}

func (b *Buffer) appendLocked(msg model.Message) bool {
	if _, ok := b.index[msg.ID]; ok {
		return false
	}
	b.index[msg.ID] = len(b.messages)
	b.messages = append(b.messages, msg)
	return true
}

func (b *Buffer) removeAtLocked(pos int) {
	delete(b.index, b.messages[pos].ID)
	b.messages = append(b.messages[:pos], b.messages[pos+1:]...)
	for i := pos; i < len(b.messages); i++ {
		b.index[b.messages[i].ID] = i
	}
}

func (b *Buffer) reindexLocked() {
	b.index = make(map[string]int, len(b.messages))
	for i, msg := range b.messages {
		b.index[msg.ID] = i
	}
}
