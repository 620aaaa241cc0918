package app

import (
	"context"
	"fmt"
	"log"
	"sync"

	firebase "firebase.google.com/go/v4"
	"github.com/redis/go-redis/v9"

	"github.com/friendlychat/chat-app/internal/config"
	"github.com/friendlychat/chat-app/internal/feed"
	"github.com/friendlychat/chat-app/internal/messaging"
	"github.com/friendlychat/chat-app/internal/orphan"
	"github.com/friendlychat/chat-app/internal/protocol"
	"github.com/friendlychat/chat-app/internal/remoteconfig"
	"github.com/friendlychat/chat-app/internal/storage"
)

// Backends opens shared clients on first use and closes them together.
type Backends struct {
	cfg config.Config

	mu       sync.Mutex
	redis    *redis.Client
	nats     *messaging.Client
	firebase *firebase.App
	closers  []func()
}

// NewBackends returns an empty set of clients for cfg.
func NewBackends(cfg config.Config) *Backends {
	return &Backends{cfg: cfg}
}

// Redis returns the shared Redis client, connecting on first use.
func (b *Backends) Redis(ctx context.Context) (*redis.Client, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.redis != nil {
		return b.redis, nil
	}

	client := redis.NewClient(&redis.Options{Addr: b.cfg.Redis.Addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("app: redis ping %s: %w", b.cfg.Redis.Addr, err)
	}
	b.redis = client
	b.closers = append(b.closers, func() {
		if err := client.Close(); err != nil {
			log.Printf("[app] redis close: %v", err)
		}
	})
	return client, nil
}

// NATS returns the shared NATS client, connecting on first use.
func (b *Backends) NATS() (*messaging.Client, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.nats != nil {
		return b.nats, nil
	}

	natsConfig := messaging.DefaultNATSConfig()
	natsConfig.URL = b.cfg.NATS.URL
	client, err := messaging.Connect(natsConfig)
	if err != nil {
		return nil, err
	}
	b.nats = client
	b.closers = append(b.closers, client.Close)
	return client, nil
}

// Firebase returns the shared Firebase app.
func (b *Backends) Firebase(ctx context.Context) (*firebase.App, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.firebase != nil {
		return b.firebase, nil
	}

	fb, err := config.NewFirebaseApp(ctx, b.cfg.Firebase)
	if err != nil {
		return nil, err
	}
	b.firebase = fb
	return fb, nil
}

// Close releases every client opened so far, newest first.
func (b *Backends) Close() {
	b.mu.Lock()
	closers := b.closers
	b.closers = nil
	b.mu.Unlock()

	for i := len(closers) - 1; i >= 0; i-- {
		closers[i]()
	}
}

// OpenFeed builds the feed for backend. auth is only used by the gateway
// backend.
func (b *Backends) OpenFeed(ctx context.Context, backend string, auth protocol.AuthMsg) (feed.Service, error) {
	switch backend {
	case config.BackendMemory:
		return feed.NewMemoryFeed(), nil

	case config.BackendRedis:
		client, err := b.Redis(ctx)
		if err != nil {
			return nil, err
		}
		return feed.NewRedisFeed(client, b.cfg.Redis.Stream), nil

	case config.BackendJetStream:
		client, err := b.NATS()
		if err != nil {
			return nil, err
		}
		return feed.NewJetStreamFeed(client, b.cfg.NATS.FeedName), nil

	case config.BackendFirebase:
		fb, err := b.Firebase(ctx)
		if err != nil {
			return nil, err
		}
		dbc, err := fb.Database(ctx)
		if err != nil {
			return nil, fmt.Errorf("app: firebase database: %w", err)
		}
		return feed.NewFirebaseFeed(dbc, b.cfg.Firebase.MessagesPath, feed.DefaultPollInterval), nil

	case config.BackendGateway:
		rf, err := feed.DialRemote(ctx, b.cfg.Gateway.URL, auth)
		if err != nil {
			return nil, err
		}
		b.mu.Lock()
		b.closers = append(b.closers, func() { rf.Close() })
		b.mu.Unlock()
		return rf, nil
	}
	return nil, fmt.Errorf("app: unknown feed backend %q", backend)
}

// OpenObjectStore returns Firebase Storage when a bucket is configured and a
// local directory otherwise.
func (b *Backends) OpenObjectStore(ctx context.Context) (storage.ObjectStore, error) {
	if b.cfg.Firebase.Enabled() && b.cfg.Firebase.StorageBucket != "" {
		fb, err := b.Firebase(ctx)
		if err != nil {
			return nil, err
		}
		client, err := fb.Storage(ctx)
		if err != nil {
			return nil, fmt.Errorf("app: firebase storage: %w", err)
		}
		bucket, err := client.Bucket(b.cfg.Firebase.StorageBucket)
		if err != nil {
			return nil, fmt.Errorf("app: bucket %s: %w", b.cfg.Firebase.StorageBucket, err)
		}
		return storage.NewFirebaseStore(bucket, b.cfg.Firebase.StorageBucket), nil
	}
	local, err := storage.NewLocalStore(b.cfg.Photos.Dir, b.cfg.Photos.BaseURL)
	if err != nil {
		return nil, err
	}
	return local, nil
}

// OpenOrphanLedger returns the configured ledger, or nil when none is.
func (b *Backends) OpenOrphanLedger() (orphan.Store, error) {
	var (
		store orphan.Store
		err   error
	)
	switch b.cfg.Orphans.Driver {
	case "":
		return nil, nil
	case "sqlite":
		store, err = orphan.NewSQLite(b.cfg.Orphans.DSN)
	case "postgres":
		store, err = orphan.NewPostgres(b.cfg.Orphans.DSN)
	default:
		return nil, fmt.Errorf("app: unknown orphan ledger driver %q", b.cfg.Orphans.Driver)
	}
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	b.closers = append(b.closers, func() {
		if err := store.Close(); err != nil {
			log.Printf("[app] orphan ledger close: %v", err)
		}
	})
	b.mu.Unlock()
	return store, nil
}

// OpenRemoteConfig picks the config source: a YAML file when configured, the
// Redis hash when Redis is reachable, or defaults only.
func (b *Backends) OpenRemoteConfig(ctx context.Context) *remoteconfig.Config {
	if b.cfg.RemoteConfigFile != "" {
		return remoteconfig.New(remoteconfig.NewFileSource(b.cfg.RemoteConfigFile), remoteconfig.Defaults())
	}
	if b.cfg.Backend == config.BackendRedis {
		if client, err := b.Redis(ctx); err == nil {
			return remoteconfig.New(remoteconfig.NewRedisSource(client, b.cfg.Redis.ConfigKey), remoteconfig.Defaults())
		}
	}
	return remoteconfig.New(nil, remoteconfig.Defaults())
}
