// Package messaging provides a NATS client wrapper shared by the feed
// backends and the gateway. It handles connection lifecycle, JetStream stream
// provisioning and tracked subscriptions that are drained on close.
package messaging

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// Subject and stream names used for the message feed.
const (
	SubjectFeed         = "feed"         // + .<feed name>
	StreamFeed          = "FRIENDLYCHAT" // JetStream stream holding every feed subject
	SubjectFeedWildcard = SubjectFeed + ".>"
)

// FeedSubject returns the subject a named feed is published on.
func FeedSubject(name string) string {
	return SubjectFeed + "." + name
}

// Client wraps the NATS connection and its JetStream context.
type Client struct {
	conn *nats.Conn
	js   nats.JetStreamContext
	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
	MaxAge        time.Duration // feed retention, 0 keeps everything
	Replicas      int           // stream replicas
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           "nats://localhost:4222",
		Name:          "friendlychat",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
		Replicas:      1,
	}
}

// Connect dials NATS, opens a JetStream context and makes sure the feed
// stream exists.
func Connect(config NATSConfig) (*Client, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[nats] disconnected: %v", err)
			} else {
				log.Printf("[nats] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[nats] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("nats jetstream: %w", err)
	}

	c := &Client{
		conn: nc,
		js:   js,
		subs: make(map[string]*nats.Subscription),
	}
	if err := c.ensureStream(config); err != nil {
		nc.Close()
		return nil, err
	}

	log.Printf("[nats] connected to %s", nc.ConnectedUrl())
	return c, nil
}

// ensureStream creates the feed stream on first use. An existing stream is
// left as configured by the operator.
func (c *Client) ensureStream(config NATSConfig) error {
	_, err := c.js.StreamInfo(StreamFeed)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("nats stream info %s: %w", StreamFeed, err)
	}

	replicas := config.Replicas
	if replicas <= 0 {
		replicas = 1
	}
	_, err = c.js.AddStream(&nats.StreamConfig{
		Name:      StreamFeed,
		Subjects:  []string{SubjectFeedWildcard},
		Storage:   nats.FileStorage,
		Retention: nats.LimitsPolicy,
		MaxAge:    config.MaxAge,
		Replicas:  replicas,
	})
	if err != nil {
		return fmt.Errorf("nats add stream %s: %w", StreamFeed, err)
	}
	log.Printf("[nats] created stream %s (%s)", StreamFeed, SubjectFeedWildcard)
	return nil
}

// JetStream returns the JetStream context used by the feed backend.
func (c *Client) JetStream() nats.JetStreamContext {
	return c.js
}

// Track stores a subscription under key so Close can drain it. A previous
// subscription under the same key is unsubscribed.
func (c *Client) Track(key string, sub *nats.Subscription) {
	c.mu.Lock()
	prev := c.subs[key]
	c.subs[key] = sub
	c.mu.Unlock()

	if prev != nil && prev != sub {
		_ = prev.Unsubscribe()
	}
}

// Untrack unsubscribes and forgets the subscription stored under key.
func (c *Client) Untrack(key string) error {
	c.mu.Lock()
	sub, ok := c.subs[key]
	if !ok {
		c.mu.Unlock()
		return nil
	}
	delete(c.subs, key)
	c.mu.Unlock()

	if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) && !errors.Is(err, nats.ErrBadSubscription) {
		return fmt.Errorf("nats unsubscribe %s: %w", key, err)
	}
	return nil
}

// Close drains all tracked subscriptions and closes the NATS connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			log.Printf("[nats] drain %s: %v", key, err)
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		log.Printf("[nats] connection drain: %v", err)
	}

	log.Printf("[nats] client closed")
}
