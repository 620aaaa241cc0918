// Package session tracks who is using the feed. On the client, Gate turns
// identity changes into subscription and view-model transitions. On the
// gateway, Store keeps an ephemeral record of each connected session in
// Redis.
package session

import "github.com/friendlychat/chat-app/internal/chat"

// Session is the client's view of the signed-in user. While signed out the
// display name is chat.Anonymous.
type Session struct {
	SignedIn    bool
	DisplayName string
}

// SignedOut returns the initial session.
func SignedOut() Session {
	return Session{DisplayName: chat.Anonymous}
}
