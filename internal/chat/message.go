// Package chat defines the message record carried by the shared feed and the
// rules every record must satisfy before it is rendered or appended.
package chat

import (
	"errors"
	"fmt"
)

// Anonymous is the display name used while no user is signed in.
const Anonymous = "anonymous"

// ErrMalformed is returned for records that carry both text and a photo URL,
// or neither.
var ErrMalformed = errors.New("chat: record must set exactly one of text and photoUrl")

// Message is one entry of the feed. Key is assigned by the backend on append
// and is empty for messages that have not been appended yet.
type Message struct {
	Key      string  `json:"-"`
	Text     *string `json:"text"`
	PhotoURL *string `json:"photoUrl"`
	Name     string  `json:"name"`
}

// NewText builds a text message stamped with the sender's display name.
func NewText(body, name string) Message {
	return Message{Text: &body, Name: name}
}

// NewPhoto builds a photo message pointing at an uploaded object.
func NewPhoto(location, name string) Message {
	return Message{PhotoURL: &location, Name: name}
}

// IsPhoto reports whether the message carries a photo URL.
func (m Message) IsPhoto() bool {
	return m.PhotoURL != nil
}

// Body returns the text or photo URL, whichever is set.
func (m Message) Body() string {
	switch {
	case m.Text != nil:
		return *m.Text
	case m.PhotoURL != nil:
		return *m.PhotoURL
	}
	return ""
}

// Validate checks the text/photoUrl exclusivity invariant.
func (m Message) Validate() error {
	if (m.Text == nil) == (m.PhotoURL == nil) {
		if m.Key != "" {
			return fmt.Errorf("%w (key=%s)", ErrMalformed, m.Key)
		}
		return ErrMalformed
	}
	return nil
}

// WithKey returns a copy of m carrying the backend-assigned key.
func (m Message) WithKey(key string) Message {
	m.Key = key
	return m
}
