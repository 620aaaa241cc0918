package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/friendlychat/chat-app/internal/chat"
)

// EncodeRecord serializes a message the way it is stored in the feed:
// {"text": ..., "photoUrl": ..., "name": ...}. The key is not part of the
// record; backends assign it.
func EncodeRecord(m chat.Message) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode record: %w", err)
	}
	return data, nil
}

// DecodeRecord parses a stored record. It does not enforce the text/photoUrl
// invariant; subscribers validate what they render.
func DecodeRecord(key string, data []byte) (chat.Message, error) {
	var m chat.Message
	if err := json.Unmarshal(data, &m); err != nil {
		return chat.Message{Key: key}, fmt.Errorf("protocol: decode record %s: %w", key, err)
	}
	m.Key = key
	return m, nil
}

// RecordFields flattens a message into string fields for hash- or
// stream-shaped stores. Absent optional fields are omitted.
func RecordFields(m chat.Message) map[string]interface{} {
	fields := map[string]interface{}{"name": m.Name}
	if m.Text != nil {
		fields["text"] = *m.Text
	}
	if m.PhotoURL != nil {
		fields["photoUrl"] = *m.PhotoURL
	}
	return fields
}

// FromFields is the inverse of RecordFields.
func FromFields(key string, fields map[string]interface{}) chat.Message {
	m := chat.Message{Key: key}
	if v, ok := fields["name"].(string); ok {
		m.Name = v
	}
	if v, ok := fields["text"].(string); ok {
		m.Text = &v
	}
	if v, ok := fields["photoUrl"].(string); ok {
		m.PhotoURL = &v
	}
	return m
}
