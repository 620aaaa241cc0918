package ws

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/friendlychat/chat-app/internal/chat"
	"github.com/friendlychat/chat-app/internal/feed"
	"github.com/friendlychat/chat-app/internal/identity"
	"github.com/friendlychat/chat-app/internal/metrics"
	"github.com/friendlychat/chat-app/internal/protocol"
	"github.com/friendlychat/chat-app/internal/ratelimit"
	"github.com/friendlychat/chat-app/internal/session"
)

// Authenticator verifies the token a client sends in its auth message.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (identity.State, error)
}

// FirebaseAuthenticator verifies Firebase ID tokens.
type FirebaseAuthenticator struct {
	Client identity.AuthClient
}

// Authenticate implements Authenticator.
func (a FirebaseAuthenticator) Authenticate(ctx context.Context, token string) (identity.State, error) {
	return identity.Verify(ctx, a.Client, token)
}

// GatewayConfig holds the gateway's per-connection limits.
type GatewayConfig struct {
	AppendRate    float64       // sustained appends per second per connection
	AppendBurst   int           // appends allowed in a burst
	MaxLength     int           // text limit in characters
	AppendTimeout time.Duration // bound on one feed append
}

// DefaultGatewayConfig returns sensible defaults.
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		AppendRate:    1,
		AppendBurst:   5,
		MaxLength:     chat.DefaultMaxLength,
		AppendTimeout: 10 * time.Second,
	}
}

// Gateway exposes a feed.Service to WebSocket clients. Each connection must
// authenticate before it can append or subscribe, and carries at most one
// subscription.
type Gateway struct {
	server  *Server
	feed    feed.Service
	auth    Authenticator // nil accepts the client's display name as is
	limiter ratelimit.Checker
	config  GatewayConfig

	mu    sync.Mutex
	peers map[string]*peer
}

type peer struct {
	name     string
	uid      string
	verified bool
	limiter  *rate.Limiter

	mu    sync.Mutex
	sub   feed.Subscription
	subID string
}

// NewGateway binds a gateway to server. auth may be nil.
func NewGateway(server *Server, f feed.Service, auth Authenticator, config GatewayConfig) *Gateway {
	g := &Gateway{
		server: server,
		feed:   f,
		auth:   auth,
		config: config,
		peers:  make(map[string]*peer),
	}
	server.SetOnDisconnect(g.disconnect)
	return g
}

// SetAppendLimiter adds a budget shared across gateway instances, keyed by
// the sender's UID or name.
func (g *Gateway) SetAppendLimiter(l ratelimit.Checker) {
	g.limiter = l
}

// Register installs the gateway's handlers on d.
func (g *Gateway) Register(d *MessageDispatcher) {
	d.Register(protocol.TypeAuth, g.handleAuth)
	d.Register(protocol.TypeAppend, g.handleAppend)
	d.Register(protocol.TypeSubscribe, g.handleSubscribe)
	d.Register(protocol.TypeUnsubscribe, g.handleUnsubscribe)
}

func (g *Gateway) peer(id string) *peer {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.peers[id]
}

// -----------------------------------------------------------------------
// auth
// -----------------------------------------------------------------------

func (g *Gateway) handleAuth(conn *Connection, msg interface{}) {
	authMsg, ok := msg.(protocol.AuthMsg)
	if !ok {
		return
	}
	if g.peer(conn.ID) != nil {
		SendError(conn, "", "already_authenticated", "connection is already authenticated")
		return
	}

	p := &peer{limiter: rate.NewLimiter(rate.Limit(g.config.AppendRate), g.config.AppendBurst)}

	if g.auth != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		st, err := g.auth.Authenticate(ctx, authMsg.Token)
		cancel()
		if err != nil {
			log.Printf("[gateway] auth failed session=%s: %v", conn.ID, err)
			SendError(conn, "", "auth_failed", "could not verify token")
			g.server.RemoveConnection(conn)
			return
		}
		p.name, p.uid, p.verified = st.DisplayName, st.UID, true
	} else {
		p.name = strings.TrimSpace(authMsg.Name)
		if p.name == "" {
			p.name = chat.Anonymous
		}
	}

	g.mu.Lock()
	g.peers[conn.ID] = p
	g.mu.Unlock()

	if store := g.server.SessionStore(); store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := store.Create(ctx, conn.ID, p.name, p.uid); err != nil {
			log.Printf("[gateway] failed to create redis session for %s: %v", conn.ID, err)
		}
		cancel()
	}

	Send(conn, protocol.TypeReady, protocol.ReadyMsg{SessionID: conn.ID, Name: p.name})
	log.Printf("[gateway] ready session=%s name=%s verified=%v", conn.ID, p.name, p.verified)
}

// -----------------------------------------------------------------------
// append
// -----------------------------------------------------------------------

func (g *Gateway) handleAppend(conn *Connection, msg interface{}) {
	appendMsg, ok := msg.(protocol.AppendMsg)
	if !ok {
		return
	}
	p := g.peer(conn.ID)
	if p == nil {
		SendError(conn, appendMsg.Ref, "unauthenticated", "send auth first")
		return
	}

	if !p.limiter.Allow() {
		metrics.MessagesTotal.WithLabelValues("rate_limited").Inc()
		Send(conn, protocol.TypeRateLimited, protocol.RateLimitedMsg{Ref: appendMsg.Ref, RetryAfter: 1})
		return
	}

	m := appendMsg.Message()
	if p.verified {
		m.Name = p.name
	}

	if g.limiter != nil {
		key := p.uid
		if key == "" {
			key = m.Name
		}
		if ok, _ := g.limiter.Allow(context.Background(), key, ratelimit.RuleAppend); !ok {
			metrics.MessagesTotal.WithLabelValues("rate_limited").Inc()
			Send(conn, protocol.TypeRateLimited, protocol.RateLimitedMsg{
				Ref:        appendMsg.Ref,
				RetryAfter: g.retryAfter(key),
			})
			return
		}
	}

	if err := m.Validate(); err != nil {
		SendError(conn, appendMsg.Ref, "malformed", err.Error())
		return
	}
	if m.Text != nil {
		if err := chat.ValidateText(*m.Text, g.config.MaxLength); err != nil {
			SendError(conn, appendMsg.Ref, "invalid_message", err.Error())
			return
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), g.config.AppendTimeout)
	defer cancel()

	start := time.Now()
	key, err := g.feed.Append(ctx, m)
	if err != nil {
		log.Printf("[gateway] append session=%s: %v", conn.ID, err)
		metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		SendError(conn, appendMsg.Ref, "write_rejected", "the feed rejected the message")
		return
	}
	metrics.AppendLatency.Observe(time.Since(start).Seconds())
	metrics.MessagesTotal.WithLabelValues("appended").Inc()

	if store := g.server.SessionStore(); store != nil {
		if err := store.RecordAppend(ctx, conn.ID); err != nil {
			log.Printf("[gateway] record append session=%s: %v", conn.ID, err)
		}
	}

	Send(conn, protocol.TypeAppended, protocol.AppendedMsg{Ref: appendMsg.Ref, Key: key})
}

// retryAfter asks the shared limiter how long the window has left when it
// can tell.
func (g *Gateway) retryAfter(key string) int {
	if rl, ok := g.limiter.(interface {
		RetryAfter(ctx context.Context, identifier string, rule ratelimit.Rule) int
	}); ok {
		return rl.RetryAfter(context.Background(), key, ratelimit.RuleAppend)
	}
	return int(ratelimit.RuleAppend.Window.Seconds())
}

// -----------------------------------------------------------------------
// subscribe / unsubscribe
// -----------------------------------------------------------------------

func (g *Gateway) handleSubscribe(conn *Connection, msg interface{}) {
	subMsg, ok := msg.(protocol.SubscribeMsg)
	if !ok {
		return
	}
	p := g.peer(conn.ID)
	if p == nil {
		SendError(conn, "", "unauthenticated", "send auth first")
		return
	}
	if subMsg.Sub == "" {
		SendError(conn, "", "invalid_subscription", "sub is required")
		return
	}

	// A new subscription replaces the old one.
	p.closeSub()

	subID := subMsg.Sub
	sub, err := g.feed.Subscribe(context.Background(), func(ev chat.Event) {
		switch ev.Kind {
		case chat.ChildAdded:
			Send(conn, protocol.TypeChildAdded, protocol.NewChildAdded(subID, ev.Message))
		case chat.Cancelled:
			p.clearSub(subID)
			reason := "cancelled"
			if ev.Err != nil {
				reason = ev.Err.Error()
			}
			Send(conn, protocol.TypeCancelled, protocol.CancelledMsg{Sub: subID, Reason: reason})
		}
	})
	if err != nil {
		log.Printf("[gateway] subscribe session=%s: %v", conn.ID, err)
		Send(conn, protocol.TypeCancelled, protocol.CancelledMsg{Sub: subID, Reason: "subscribe failed"})
		return
	}

	p.mu.Lock()
	p.sub, p.subID = sub, subID
	p.mu.Unlock()

	g.setStatus(conn.ID, session.StatusSubscribed)
	log.Printf("[gateway] subscribed session=%s sub=%s", conn.ID, subID)
}

func (g *Gateway) handleUnsubscribe(conn *Connection, msg interface{}) {
	p := g.peer(conn.ID)
	if p == nil {
		return
	}
	if p.closeSub() {
		g.setStatus(conn.ID, session.StatusConnected)
	}
}

func (g *Gateway) setStatus(connID, status string) {
	store := g.server.SessionStore()
	if store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := store.UpdateStatus(ctx, connID, status); err != nil {
		log.Printf("[gateway] update status session=%s: %v", connID, err)
	}
}

func (g *Gateway) disconnect(connID string) {
	g.mu.Lock()
	p := g.peers[connID]
	delete(g.peers, connID)
	g.mu.Unlock()

	if p != nil {
		p.closeSub()
	}
}

// closeSub closes the active subscription and reports whether there was one.
func (p *peer) closeSub() bool {
	p.mu.Lock()
	sub := p.sub
	p.sub, p.subID = nil, ""
	p.mu.Unlock()

	if sub == nil {
		return false
	}
	if err := sub.Close(); err != nil && !errors.Is(err, feed.ErrClosed) {
		log.Printf("[gateway] close subscription: %v", err)
	}
	return true
}

// clearSub forgets the subscription if it is still the one identified by
// subID. The backend has already ended it.
func (p *peer) clearSub(subID string) {
	p.mu.Lock()
	if p.subID == subID {
		p.sub, p.subID = nil, ""
	}
	p.mu.Unlock()
}
