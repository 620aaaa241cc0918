package feed

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"net"
	"sync"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"

	"github.com/friendlychat/chat-app/internal/chat"
	"github.com/friendlychat/chat-app/internal/protocol"
)

// RemoteFeed talks to a feed gateway over WebSocket. One connection carries
// at most one subscription; deliveries are tagged with a subscription ID so
// events from a closed subscription are discarded.
type RemoteFeed struct {
	conn      net.Conn
	sessionID string
	name      string

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan appendResult
	sub     *remoteSub
	err     error // set once the read loop has exited
	authErr error // set when the gateway refused the auth message

	done      chan struct{}
	closeOnce sync.Once
}

type appendResult struct {
	key string
	err error
}

// DialRemote connects to the gateway at url and authenticates with either a
// Firebase ID token or, when the gateway allows it, a plain display name.
func DialRemote(ctx context.Context, url string, auth protocol.AuthMsg) (*RemoteFeed, error) {
	conn, br, _, err := ws.Dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("feed: dial %s: %w", url, err)
	}
	if br != nil {
		// The server spoke first; keep the bytes already buffered.
		conn = &bufferedConn{Conn: conn, r: br}
	}

	f := &RemoteFeed{
		conn:    conn,
		pending: make(map[string]chan appendResult),
		done:    make(chan struct{}),
	}

	ready := make(chan protocol.ReadyMsg, 1)
	go f.readLoop(ready)

	if err := f.send(protocol.TypeAuth, auth); err != nil {
		f.Close()
		return nil, err
	}

	select {
	case msg := <-ready:
		f.sessionID = msg.SessionID
		f.name = msg.Name
		log.Printf("[feed] gateway session=%s name=%s", msg.SessionID, msg.Name)
		return f, nil
	case <-f.done:
		f.mu.Lock()
		authErr := f.authErr
		f.mu.Unlock()
		if authErr != nil {
			return nil, authErr
		}
		return nil, fmt.Errorf("feed: gateway closed before ready: %w", f.closeErr())
	case <-ctx.Done():
		f.Close()
		return nil, ctx.Err()
	}
}

// SessionID returns the gateway-assigned session ID.
func (f *RemoteFeed) SessionID() string {
	return f.sessionID
}

// Name returns the display name the gateway attached to this connection.
func (f *RemoteFeed) Name() string {
	return f.name
}

// Append sends an append request and waits for the acknowledgement.
func (f *RemoteFeed) Append(ctx context.Context, m chat.Message) (string, error) {
	ref := uuid.NewString()
	ch := make(chan appendResult, 1)

	f.mu.Lock()
	if f.err != nil {
		f.mu.Unlock()
		return "", f.err
	}
	f.pending[ref] = ch
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		delete(f.pending, ref)
		f.mu.Unlock()
	}()

	err := f.send(protocol.TypeAppend, protocol.AppendMsg{
		Ref:      ref,
		Text:     m.Text,
		PhotoURL: m.PhotoURL,
		Name:     m.Name,
	})
	if err != nil {
		return "", err
	}

	select {
	case res := <-ch:
		return res.key, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Subscribe asks the gateway for the whole feed followed by new entries.
func (f *RemoteFeed) Subscribe(ctx context.Context, l Listener) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s := &remoteSub{feed: f, id: uuid.NewString(), listener: l}

	f.mu.Lock()
	if f.err != nil {
		f.mu.Unlock()
		return nil, f.err
	}
	if f.sub != nil {
		f.mu.Unlock()
		return nil, ErrBusy
	}
	f.sub = s
	f.mu.Unlock()

	if err := f.send(protocol.TypeSubscribe, protocol.SubscribeMsg{Sub: s.id}); err != nil {
		f.clearSub(s)
		return nil, err
	}
	return s, nil
}

// Close closes the connection. Pending appends fail with ErrClosed and an
// active subscription is cancelled.
func (f *RemoteFeed) Close() error {
	var err error
	f.closeOnce.Do(func() {
		close(f.done)
		err = f.conn.Close()
	})
	return err
}

func (f *RemoteFeed) send(msgType string, payload interface{}) error {
	data, err := protocol.NewMessage(msgType, payload)
	if err != nil {
		return err
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	if err := wsutil.WriteClientMessage(f.conn, ws.OpText, data); err != nil {
		return fmt.Errorf("feed: gateway write: %w", err)
	}
	return nil
}

func (f *RemoteFeed) clearSub(s *remoteSub) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sub != s {
		return false
	}
	f.sub = nil
	return true
}

func (f *RemoteFeed) closeErr() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err == nil {
		return ErrClosed
	}
	return f.err
}

// readLoop reads server messages until the connection fails. It is the only
// goroutine that calls the subscription listener.
func (f *RemoteFeed) readLoop(ready chan<- protocol.ReadyMsg) {
	defer f.shutdown()

	for {
		data, err := wsutil.ReadServerText(f.conn)
		if err != nil {
			select {
			case <-f.done:
			default:
				log.Printf("[feed] gateway read: %v", err)
			}
			return
		}

		msgType, msg, err := protocol.ParseServerMessage(data)
		if err != nil {
			log.Printf("[feed] gateway: %v", err)
			continue
		}

		switch msgType {
		case protocol.TypeReady:
			select {
			case ready <- msg.(protocol.ReadyMsg):
			default:
			}

		case protocol.TypeAppended:
			m := msg.(protocol.AppendedMsg)
			f.resolve(m.Ref, appendResult{key: m.Key})

		case protocol.TypeRateLimited:
			m := msg.(protocol.RateLimitedMsg)
			f.resolve(m.Ref, appendResult{err: fmt.Errorf("%w: retry after %ds", ErrRateLimited, m.RetryAfter)})

		case protocol.TypeError:
			m := msg.(protocol.ErrorMsg)
			if m.Ref != "" {
				f.resolve(m.Ref, appendResult{err: fmt.Errorf("%w: %s: %s", ErrRejected, m.Code, m.Message)})
				continue
			}
			if m.Code == "auth_failed" {
				f.mu.Lock()
				f.authErr = fmt.Errorf("%w: %s", ErrRejected, m.Message)
				f.mu.Unlock()
			}
			log.Printf("[feed] gateway error code=%s: %s", m.Code, m.Message)

		case protocol.TypeChildAdded:
			m := msg.(protocol.ChildAddedMsg)
			f.deliver(m.Sub, chat.Event{Kind: chat.ChildAdded, Message: m.Message()})

		case protocol.TypeCancelled:
			m := msg.(protocol.CancelledMsg)
			s := f.current(m.Sub)
			if s != nil && f.clearSub(s) {
				s.listener(chat.Event{Kind: chat.Cancelled, Err: fmt.Errorf("feed: gateway cancelled: %s", m.Reason)})
			}

		case protocol.TypePong:
		}
	}
}

func (f *RemoteFeed) resolve(ref string, res appendResult) {
	f.mu.Lock()
	ch, ok := f.pending[ref]
	f.mu.Unlock()
	if ok {
		select {
		case ch <- res:
		default:
		}
	}
}

func (f *RemoteFeed) current(subID string) *remoteSub {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sub == nil || f.sub.id != subID {
		return nil
	}
	return f.sub
}

func (f *RemoteFeed) deliver(subID string, ev chat.Event) {
	if s := f.current(subID); s != nil {
		s.listener(ev)
	}
}

// shutdown fails everything still waiting on the connection.
func (f *RemoteFeed) shutdown() {
	f.Close()

	f.mu.Lock()
	f.err = fmt.Errorf("feed: gateway connection lost: %w", ErrClosed)
	pending := f.pending
	f.pending = make(map[string]chan appendResult)
	s := f.sub
	f.sub = nil
	err := f.err
	f.mu.Unlock()

	for _, ch := range pending {
		select {
		case ch <- appendResult{err: err}:
		default:
		}
	}
	if s != nil {
		s.listener(chat.Event{Kind: chat.Cancelled, Err: err})
	}
}

type remoteSub struct {
	feed     *RemoteFeed
	id       string
	listener Listener
}

func (s *remoteSub) Close() error {
	if !s.feed.clearSub(s) {
		return nil
	}
	err := s.feed.send(protocol.TypeUnsubscribe, protocol.UnsubscribeMsg{})
	select {
	case <-s.feed.done:
		return nil
	default:
	}
	return err
}

// bufferedConn drains bytes the handshake reader buffered before reading
// from the connection itself.
type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func (c *bufferedConn) Read(p []byte) (int, error) {
	return c.r.Read(p)
}
