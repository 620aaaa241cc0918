package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/friendlychat/chat-app/internal/app"
	"github.com/friendlychat/chat-app/internal/config"
	"github.com/friendlychat/chat-app/internal/orphan"
	"github.com/friendlychat/chat-app/internal/protocol"
	"github.com/friendlychat/chat-app/internal/ratelimit"
	"github.com/friendlychat/chat-app/internal/session"
	"github.com/friendlychat/chat-app/internal/ws"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	serverConfig := ws.DefaultServerConfig()
	serverConfig.ListenAddr = cfg.Gateway.ListenAddr
	if v := os.Getenv("MAX_CONNECTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			serverConfig.MaxConnections = n
		}
	}
	if v := os.Getenv("WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			serverConfig.WriteTimeout = d
		}
	}
	if v := os.Getenv("HEARTBEAT_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			serverConfig.Heartbeat.Interval = d
		}
	}

	gatewayConfig := ws.DefaultGatewayConfig()
	if v := os.Getenv("APPEND_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			gatewayConfig.AppendBurst = n
		}
	}

	serverName, _ := os.Hostname()
	if cfg.Gateway.ServerName != "" {
		serverName = cfg.Gateway.ServerName
	}
	if serverName == "" {
		serverName = "gateway-1"
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backends := app.NewBackends(cfg)
	defer backends.Close()

	// --- Feed ---
	if cfg.Gateway.Store == config.BackendGateway {
		log.Fatalf("gateway cannot serve another gateway")
	}
	chatFeed, err := backends.OpenFeed(ctx, cfg.Gateway.Store, protocol.AuthMsg{})
	if err != nil {
		log.Fatalf("feed %s: %v", cfg.Gateway.Store, err)
	}

	// --- Redis: sessions, remote config, shared limits ---
	var sessionStore *session.Store
	var limiter ratelimit.Checker = ratelimit.NewLocalLimiter()
	if client, err := backends.Redis(ctx); err == nil {
		if sessionStore, err = session.NewStore(client, serverName); err != nil {
			log.Printf("sessions disabled: %v", err)
		}
		limiter = ratelimit.NewLimiter(client)
	} else {
		log.Printf("redis unavailable, sessions and shared limits disabled: %v", err)
	}

	// Remote config can tighten the gateway's length limit at startup.
	rc := backends.OpenRemoteConfig(ctx)
	if err := rc.Fetch(ctx, 0); err != nil {
		log.Printf("remote config: %v", err)
	}
	gatewayConfig.MaxLength = rc.MaxMessageLength()

	// --- Auth ---
	var auth ws.Authenticator
	if cfg.Gateway.RequireToken {
		fb, err := backends.Firebase(ctx)
		if err != nil {
			log.Fatalf("firebase: %v", err)
		}
		authClient, err := fb.Auth(ctx)
		if err != nil {
			log.Fatalf("firebase auth: %v", err)
		}
		auth = ws.FirebaseAuthenticator{Client: authClient}
	}

	// --- Orphan sweeper ---
	ledger, err := backends.OpenOrphanLedger()
	if err != nil {
		log.Fatalf("orphan ledger: %v", err)
	}
	if ledger != nil {
		objects, err := backends.OpenObjectStore(ctx)
		if err != nil {
			log.Fatalf("object store: %v", err)
		}
		go orphan.NewSweeper(ledger, objects).WithInterval(cfg.Orphans.SweepInterval).Run(ctx)
	}

	log.Printf("FriendlyChat feed gateway starting")
	log.Printf("  listen_addr:     %s", serverConfig.ListenAddr)
	log.Printf("  max_connections: %d", serverConfig.MaxConnections)
	log.Printf("  write_timeout:   %s", serverConfig.WriteTimeout)
	log.Printf("  feed_store:      %s", cfg.Gateway.Store)
	log.Printf("  require_token:   %v", cfg.Gateway.RequireToken)
	log.Printf("  max_length:      %d", gatewayConfig.MaxLength)
	log.Printf("  server_name:     %s", serverName)

	dispatcher := ws.NewMessageDispatcher()
	server := ws.NewServer(serverConfig, sessionStore, dispatcher.Dispatch)
	server.SetConnectLimiter(limiter)

	gateway := ws.NewGateway(server, chatFeed, auth, gatewayConfig)
	gateway.SetAppendLimiter(limiter)
	gateway.Register(dispatcher)

	// Graceful shutdown.
	go func() {
		<-ctx.Done()
		log.Printf("received shutdown signal, closing connections...")
		if err := server.Shutdown(); err != nil {
			log.Printf("shutdown error: %v", err)
		}
	}()

	if err := server.Start(); err != nil {
		backends.Close()
		log.Fatalf("server error: %v", err)
	}
}
