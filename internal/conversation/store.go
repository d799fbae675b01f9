// Package conversation holds the ordered conversation list for the
// current user, the per-conversation unread counters, and the unread
// aggregate shown on the badge. The store is a process-wide singleton for
// the authenticated session; all mutation goes through the operations
// defined here.
package conversation

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/lectio/messenger/internal/api"
	"github.com/lectio/messenger/internal/cache"
	"github.com/lectio/messenger/internal/metrics"
	"github.com/lectio/messenger/internal/model"
)

// Fetcher is the slice of the REST client the store needs for list
// loading and read receipts.
type Fetcher interface {
	Conversations(ctx context.Context, page int) (api.ConversationPage, error)
	MarkConversationRead(ctx context.Context, conversationID string) error
}

// Lookup resolves course and lecture metadata for context labels.
type Lookup interface {
	CourseDetails(ctx context.Context, courseID string) (api.CourseInfo, error)
	LectureDetails(ctx context.Context, courseID, lectureID string) (api.LectureInfo, error)
}

// Store manages the conversation list in memory.
type Store struct {
	mu            sync.RWMutex
	conversations []model.Conversation
	index         map[string]int // conversation ID -> position
	openID        string         // conversation whose thread is open, "" if none
	hasMore       bool

	fetcher Fetcher
	lookup  Lookup
	labels  *cache.Cache
}

// NewStore creates an empty store. labels caches course/lecture lookups
// for the session so repeated pages do not refetch the same metadata.
func NewStore(fetcher Fetcher, lookup Lookup, labels *cache.Cache) *Store {
	return &Store{
		index:   make(map[string]int),
		fetcher: fetcher,
		lookup:  lookup,
		labels:  labels,
	}
}

// LoadPage fetches one page of conversations, resolves their context
// labels, and merges them into the list: page 1 replaces, later pages
// append. Returns whether more pages exist.
func (s *Store) LoadPage(ctx context.Context, page int) (bool, error) {
	result, err := s.fetcher.Conversations(ctx, page)
	if err != nil {
		return false, fmt.Errorf("conversation: load page %d: %w", page, err)
	}

	for i := range result.Conversations {
		s.resolveLabel(ctx, &result.Conversations[i])
	}

	s.mu.Lock()
	if page == 1 {
		s.conversations = nil
		s.index = make(map[string]int)
	}
	for _, conv := range result.Conversations {
		if _, ok := s.index[conv.ID]; ok {
			continue
		}
		s.index[conv.ID] = len(s.conversations)
		s.conversations = append(s.conversations, conv)
	}
	s.hasMore = result.HasMore
	s.publishUnreadLocked()
	s.mu.Unlock()

	return result.HasMore, nil
}

// ApplyIncomingMessage records a pushed message against its conversation:
// the last-message summary is updated, and the unread counter increments
// unless that conversation's thread is currently open, in which case it
// is pinned at zero.
func (s *Store) ApplyIncomingMessage(conversationID string, msg model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.index[conversationID]
	if !ok {
		log.Printf("[conversation] incoming message for unknown conversation=%s, ignoring", conversationID)
		return
	}
	s.conversations[pos].LastMessage = &msg
	if s.openID == conversationID {
		s.conversations[pos].UnreadCount = 0
	} else {
		s.conversations[pos].UnreadCount++
	}
	s.publishUnreadLocked()
}

// MarkRead zeroes the conversation's unread counter locally and tells the
// server. The server call is best-effort: a failure is logged and the
// receipt is effectively retried the next time the thread opens.
func (s *Store) MarkRead(ctx context.Context, conversationID string) {
	s.mu.Lock()
	if pos, ok := s.index[conversationID]; ok {
		s.conversations[pos].UnreadCount = 0
	}
	s.publishUnreadLocked()
	s.mu.Unlock()

	if err := s.fetcher.MarkConversationRead(ctx, conversationID); err != nil {
		log.Printf("[conversation] mark read failed for conversation=%s: %v", conversationID, err)
	}
}

// MarkAllRead zeroes every unread counter locally. The bulk server call
// is owned by the read-receipt synchronizer.
func (s *Store) MarkAllRead() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.conversations {
		s.conversations[i].UnreadCount = 0
	}
	s.publishUnreadLocked()
}

// SetOpen records which conversation's thread is open and zeroes its
// unread counter. Pass "" to record that no thread is open.
func (s *Store) SetOpen(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.openID = conversationID
	if pos, ok := s.index[conversationID]; ok {
		s.conversations[pos].UnreadCount = 0
	}
	s.publishUnreadLocked()
}

// SetLastMessage optimistically replaces a conversation's last-message
// summary and returns the previous value so a failed send can restore it.
func (s *Store) SetLastMessage(conversationID string, msg *model.Message) *model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.index[conversationID]
	if !ok {
		return nil
	}
	prev := s.conversations[pos].LastMessage
	s.conversations[pos].LastMessage = msg
	return prev
}

// SetParticipantOnline updates the presence flag for the participant in
// every conversation they appear in.
func (s *Store) SetParticipantOnline(userID string, online bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.conversations {
		for j := range s.conversations[i].Participants {
			if s.conversations[i].Participants[j].ID == userID {
				s.conversations[i].Participants[j].IsOnline = online
			}
		}
	}
}

// TotalUnread returns the sum of per-conversation unread counts.
func (s *Store) TotalUnread() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.totalUnreadLocked()
}

// Get returns the conversation with the given ID.
func (s *Store) Get(conversationID string) (model.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pos, ok := s.index[conversationID]
	if !ok {
		return model.Conversation{}, false
	}
	return s.conversations[pos], true
}

// Conversations returns a copy of the ordered conversation list.
func (s *Store) Conversations() []model.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Conversation, len(s.conversations))
	copy(out, s.conversations)
	return out
}

// HasMore reports whether another page of conversations exists.
func (s *Store) HasMore() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hasMore
}

// Clear empties the store at logout.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations = nil
	s.index = make(map[string]int)
	s.openID = ""
	s.hasMore = false
	s.publishUnreadLocked()
}

// resolveLabel fills in the conversation's context label from the cached
// course/lecture lookups. Failures are non-fatal: the label stays empty
// and the conversation still renders.
func (s *Store) resolveLabel(ctx context.Context, conv *model.Conversation) {
	if conv.ContextLabel != "" || s.lookup == nil {
		return
	}
	switch {
	case conv.LectureID != "" && conv.CourseID != "":
		key := "lecture:" + conv.CourseID + ":" + conv.LectureID
		val, err := s.cached(ctx, key, func(ctx context.Context) (any, error) {
			info, err := s.lookup.LectureDetails(ctx, conv.CourseID, conv.LectureID)
			if err != nil {
				return nil, err
			}
			return info.Title, nil
		})
		if err != nil {
			log.Printf("[conversation] lecture lookup failed for %s: %v", key, err)
			return
		}
		conv.ContextLabel = val.(string)
	case conv.CourseID != "":
		key := "course:" + conv.CourseID
		val, err := s.cached(ctx, key, func(ctx context.Context) (any, error) {
			info, err := s.lookup.CourseDetails(ctx, conv.CourseID)
			if err != nil {
				return nil, err
			}
			return info.Title, nil
		})
		if err != nil {
			log.Printf("[conversation] course lookup failed for %s: %v", key, err)
			return
		}
		conv.ContextLabel = val.(string)
	}
}

func (s *Store) cached(ctx context.Context, key string, fetch func(ctx context.Context) (any, error)) (any, error) {
	if val, ok := s.labels.Peek(key); ok {
		metrics.CacheLookupsTotal.WithLabelValues("hit").Inc()
		return val, nil
	}
	metrics.CacheLookupsTotal.WithLabelValues("miss").Inc()
	return s.labels.GetOrFetch(ctx, key, fetch)
}

func (s *Store) totalUnreadLocked() int {
	total := 0
	for _, conv := range s.conversations {
		total += conv.UnreadCount
	}
	return total
}

func (s *Store) publishUnreadLocked() {
	metrics.UnreadTotal.Set(float64(s.totalUnreadLocked()))
}
