// Package model defines the core messenger data types shared by the
// conversation store, thread buffer, and send pipeline: participants,
// conversations, messages, and the tagged message body. All wire decoding
// happens here so the rest of the code never probes JSON shapes at runtime.
package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// BodyKind discriminates the two message body variants.
type BodyKind string

const (
	BodyText       BodyKind = "text"
	BodyAttachment BodyKind = "attachment"
)

// Attachment describes an uploaded file as the server reports it.
type Attachment struct {
	FileName  string `json:"file_name"`
	SizeBytes int64  `json:"size"`
	MimeType  string `json:"mime_type"`
	Path      string `json:"path"`
}

// IsImage reports whether the attachment can be rendered as an inline
// image preview.
func (a Attachment) IsImage() bool {
	return strings.HasPrefix(a.MimeType, "image/")
}

// Body is the message payload: either plain text or an attachment
// descriptor. The variant is decided once, at parse time, from the wire
// shape (the backend sends a bare string for text and an object for
// attachments).
type Body struct {
	Kind       BodyKind
	Text       string
	Attachment Attachment
}

// TextBody returns a text-variant body.
func TextBody(text string) Body {
	return Body{Kind: BodyText, Text: text}
}

// AttachmentBody returns an attachment-variant body.
func AttachmentBody(a Attachment) Body {
	return Body{Kind: BodyAttachment, Attachment: a}
}

// UnmarshalJSON decides the variant from the raw shape: a JSON string is
// text, a JSON object is an attachment descriptor.
func (b *Body) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		*b = Body{Kind: BodyText}
		return nil
	}
	if strings.HasPrefix(trimmed, "\"") {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("model: decode text body: %w", err)
		}
		*b = Body{Kind: BodyText, Text: s}
		return nil
	}
	var a Attachment
	if err := json.Unmarshal(data, &a); err != nil {
		return fmt.Errorf("model: decode attachment body: %w", err)
	}
	*b = Body{Kind: BodyAttachment, Attachment: a}
	return nil
}

// MarshalJSON writes the body back in the wire shape it was parsed from.
func (b Body) MarshalJSON() ([]byte, error) {
	if b.Kind == BodyAttachment {
		return json.Marshal(b.Attachment)
	}
	return json.Marshal(b.Text)
}

// Message is a single chat message. Temporary messages carry a
// client-generated ID and exist only until the server echoes the
// canonical record (or the send fails and they are rolled back).
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	AuthorID       string    `json:"user_id"`
	Body           Body      `json:"message"`
	CreatedAt      time.Time `json:"created_at"`
	IsTemporary    bool      `json:"-"`
}

// Participant is a snapshot of a chat peer, refreshed on conversation
// fetch. IsOnline additionally tracks presence events between fetches.
type Participant struct {
	ID          string `json:"id"`
	DisplayName string `json:"name"`
	AvatarURL   string `json:"avatar"`
	IsOnline    bool   `json:"is_online"`
}

// Conversation is one thread in the user's conversation list.
// ContextLabel names the lecture or course the discussion is attached to.
type Conversation struct {
	ID           string        `json:"id"`
	Participants []Participant `json:"participants"`
	LastMessage  *Message      `json:"last_message"`
	UnreadCount  int           `json:"unread_count"`
	ContextLabel string        `json:"context_label"`
	CourseID     string        `json:"course_id"`
	LectureID    string        `json:"lecture_id"`
}
