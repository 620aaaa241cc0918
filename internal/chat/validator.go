package chat

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// LengthKey is the remote config key holding the maximum message length.
const LengthKey = "friendly_msg_length"

// DefaultMaxLength is the compiled-in message length limit in characters.
const DefaultMaxLength = 1000

var (
	ErrEmptyText   = errors.New("chat: message text is empty")
	ErrTooLong     = errors.New("chat: message text too long")
	ErrInvalidUTF8 = errors.New("chat: message contains invalid UTF-8")
)

// CanSend reports whether text would enable sending: it must contain something
// other than whitespace.
func CanSend(text string) bool {
	return strings.TrimSpace(text) != ""
}

// ValidateText checks that a text body meets content requirements. maxChars
// is counted in runes; a non-positive limit falls back to DefaultMaxLength.
func ValidateText(text string, maxChars int) error {
	if maxChars <= 0 {
		maxChars = DefaultMaxLength
	}
	if !CanSend(text) {
		return ErrEmptyText
	}
	if !utf8.ValidString(text) {
		return ErrInvalidUTF8
	}
	if n := utf8.RuneCountInString(text); n > maxChars {
		return fmt.Errorf("%w: %d characters, limit %d", ErrTooLong, n, maxChars)
	}
	return nil
}
