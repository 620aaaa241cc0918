package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/friendlychat/chat-app/internal/app"
	"github.com/friendlychat/chat-app/internal/config"
	"github.com/friendlychat/chat-app/internal/identity"
	"github.com/friendlychat/chat-app/internal/metrics"
	"github.com/friendlychat/chat-app/internal/orphan"
	"github.com/friendlychat/chat-app/internal/protocol"
	"github.com/friendlychat/chat-app/internal/ratelimit"
	"github.com/friendlychat/chat-app/internal/sender"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backends := app.NewBackends(cfg)
	defer backends.Close()

	// --- Identity ---
	// With a Firebase project the credential is an ID token obtained by the
	// platform sign-in flow; otherwise it is the display name itself.
	var (
		provider   identity.Provider
		signIn     func(context.Context, string) error
		credential = cfg.DisplayName
		idToken    = os.Getenv("FIREBASE_ID_TOKEN")
	)
	if cfg.Firebase.Enabled() {
		fb, err := backends.Firebase(ctx)
		if err != nil {
			log.Fatalf("firebase: %v", err)
		}
		authClient, err := fb.Auth(ctx)
		if err != nil {
			log.Fatalf("firebase auth: %v", err)
		}
		p := identity.NewFirebaseProvider(authClient)
		provider, signIn, credential = p, p.SignIn, idToken
	} else {
		p := identity.NewLocalProvider()
		provider, signIn = p, p.SignIn
	}

	// --- Feed ---
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	chatFeed, err := backends.OpenFeed(dialCtx, cfg.Backend, protocol.AuthMsg{Token: idToken, Name: cfg.DisplayName})
	cancel()
	if err != nil {
		log.Fatalf("feed %s: %v", cfg.Backend, err)
	}

	// --- Photos ---
	objects, err := backends.OpenObjectStore(ctx)
	if err != nil {
		log.Printf("photos disabled: %v", err)
	}
	ledger, err := backends.OpenOrphanLedger()
	if err != nil {
		log.Fatalf("orphan ledger: %v", err)
	}

	// --- Send throttling ---
	var limiter ratelimit.Checker = ratelimit.NewLocalLimiter()
	if cfg.Backend == config.BackendRedis {
		if client, err := backends.Redis(ctx); err == nil {
			limiter = ratelimit.NewLimiter(client)
		}
	}

	senderOpts := []sender.Option{
		sender.WithRateLimit(limiter, ratelimit.RuleAppend),
		sender.WithMaxDimension(cfg.Photos.MaxDimension),
	}
	if ledger != nil {
		senderOpts = append(senderOpts, sender.WithOrphanLedger(ledger))
		if objects != nil {
			go orphan.NewSweeper(ledger, objects).WithInterval(cfg.Orphans.SweepInterval).Run(ctx)
		}
	}

	if cfg.MetricsAddr != "" {
		go func() {
			if err := http.ListenAndServe(cfg.MetricsAddr, metrics.Handler()); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("metrics server: %v", err)
			}
		}()
	}

	log.Printf("FriendlyChat client starting")
	log.Printf("  feed_backend:    %s", cfg.Backend)
	log.Printf("  firebase:        %v", cfg.Firebase.Enabled())
	log.Printf("  photos:          %v", objects != nil)
	log.Printf("  orphan_ledger:   %s", orDash(cfg.Orphans.Driver))
	log.Printf("  developer_mode:  %v", cfg.DeveloperMode)

	client := app.New(app.Options{
		Feed:          chatFeed,
		Objects:       objects,
		Identity:      provider,
		SignIn:        signIn,
		Credential:    credential,
		RemoteConfig:  backends.OpenRemoteConfig(ctx),
		DeveloperMode: cfg.DeveloperMode,
		SenderOptions: senderOpts,
		In:            os.Stdin,
		Out:           os.Stdout,
	})

	if err := client.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		backends.Close()
		log.Fatalf("friendlychat: %v", err)
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
