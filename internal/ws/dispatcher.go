package ws

import (
	"log"

	"github.com/friendlychat/chat-app/internal/protocol"
)

// MessageHandler is the callback signature for handling a parsed client message.
// The msg parameter is the concrete struct returned by protocol.ParseClientMessage
// (e.g., protocol.AppendMsg, protocol.SubscribeMsg, etc.).
type MessageHandler func(conn *Connection, msg interface{})

// MessageDispatcher routes incoming WebSocket messages to registered handlers
// based on the message type. It handles the built-in ping/pong keepalive
// internally and sends structured error responses for malformed or unsupported
// messages.
type MessageDispatcher struct {
	handlers map[string]MessageHandler
}

// NewMessageDispatcher creates an empty MessageDispatcher.
func NewMessageDispatcher() *MessageDispatcher {
	return &MessageDispatcher{handlers: make(map[string]MessageHandler)}
}

// Register associates a MessageHandler with a message type. If a handler was
// already registered for the given type, it is silently replaced.
func (d *MessageDispatcher) Register(msgType string, handler MessageHandler) {
	d.handlers[msgType] = handler
}

// Dispatch is the onMessage callback implementation. It parses the raw bytes
// into a typed message, handles ping internally, and routes all other types to
// the registered handler. Parse errors and unregistered types result in an
// error message sent back to the client.
func (d *MessageDispatcher) Dispatch(conn *Connection, data []byte) {
	msgType, msg, err := protocol.ParseClientMessage(data)
	if err != nil {
		log.Printf("ws: dispatch parse error session=%s: %v", conn.ID, err)
		SendError(conn, "", "parse_error", "invalid message format")
		return
	}

	if msgType == protocol.TypePing {
		sendPong(conn)
		return
	}

	handler, ok := d.handlers[msgType]
	if !ok {
		log.Printf("ws: unsupported message type=%q session=%s", msgType, conn.ID)
		SendError(conn, "", "unsupported_type", "unsupported message type")
		return
	}

	handler(conn, msg)
}

// Send encodes payload as a msgType message and writes it to conn. Errors are
// logged but not propagated; a broken connection is cleaned up by its reader.
func Send(conn *Connection, msgType string, payload interface{}) {
	data, err := protocol.NewMessage(msgType, payload)
	if err != nil {
		log.Printf("ws: failed to build %s message session=%s: %v", msgType, conn.ID, err)
		return
	}
	if err := conn.WriteMessage(data); err != nil {
		log.Printf("ws: failed to send %s message session=%s: %v", msgType, conn.ID, err)
	}
}

// SendError sends a structured error message back to the client. ref ties
// the error to a request and may be empty.
func SendError(conn *Connection, ref, code, message string) {
	Send(conn, protocol.TypeError, protocol.ErrorMsg{Ref: ref, Code: code, Message: message})
}

// sendPong responds to a client ping with a pong message.
func sendPong(conn *Connection) {
	conn.Touch()
	Send(conn, protocol.TypePong, protocol.PongMsg{})
}
