// Package main is the entry point for the stranger-chat coordination
// core. It wires config, storage adapters, the core.Root, and the HTTP/WS
// transport together and runs them until a shutdown signal arrives.
// Grounded on the teacher's cmd/api/main.go (dependency construction
// order, signal.NotifyContext, graceful srv.Shutdown).
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"chatcore/internal/auth"
	"chatcore/internal/config"
	"chatcore/internal/core"
	"chatcore/internal/httpapi"
	"chatcore/internal/store/memory"
	"chatcore/internal/store/postgres"
	storeredis "chatcore/internal/store/redis"
	"chatcore/internal/transport/ws"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Critical error loading configuration: %v", err)
	}

	messages, reports, closeStores := mustStores(cfg)
	defer closeStores()

	hot, closeHot := mustHotStore(cfg)
	defer closeHot()

	issuer, err := auth.NewSessionIssuer(cfg.JWTSecret)
	if err != nil {
		log.Fatalf("Critical error: failed to create session issuer: %v", err)
	}

	root := core.NewRoot(core.Config{
		GracePeriod:           cfg.GracePeriod,
		PingInterval:          cfg.PingInterval,
		MaxMissedPings:        cfg.MaxMissedPings,
		StarvationBonus:       cfg.StarvationBonus,
		QueueSweepPeriod:      cfg.QueueSweepPeriod,
		ModerationURL:         cfg.ModerationURL,
		ModerationThreshold:   cfg.ModerationThreshold,
		ModerationTimeout:     cfg.ModerationTimeout,
		ModerationBlockOnFail: cfg.ModerationBlockOnFail,
		MaxFlagsBeforeWarn:    cfg.MaxFlagsBeforeWarn,
		MaxFlagsBeforeKick:    cfg.MaxFlagsBeforeKick,
		MessageExpiry:         cfg.MessageExpiry,
	}, messages, hot, reports)

	transport := ws.New(root.Presence, root.Dispatcher, cfg.CORSAllowedOrigins, cfg.PongTimeout+cfg.PingInterval)
	router := httpapi.NewRouter(root, issuer, transport, cfg.CORSAllowedOrigins)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go root.Run(ctx)
	go runExpiryLoop(ctx, messages, cfg.MessageExpiry)

	srv := &http.Server{Addr: cfg.ServerAddr, Handler: router}
	go func() {
		log.Printf("chatcore listening on %s", cfg.ServerAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server failed: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutdown signal received, draining connections...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("error during graceful shutdown: %v", err)
	}
	log.Println("exiting.")
}

// mustStores connects to Postgres and runs migrations when DATABASE_URL
// is set, falling back to in-memory MessageStore/ReportStore for local
// development without a database (SPEC_FULL.md §4's store/memory).
func mustStores(cfg *config.Config) (core.MessageStore, core.ReportStore, func()) {
	if cfg.DatabaseURL == "" {
		log.Println("DATABASE_URL not set; using in-memory MessageStore/ReportStore")
		return memory.NewMessageStore(), memory.NewReportStore(), func() {}
	}

	db, err := postgres.New(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Critical error! Failed to connect to the database: %v", err)
	}
	if err := db.Migrate(cfg.DatabaseURL, cfg.MigrationsPath); err != nil {
		log.Fatalf("Critical error during database migration: %v", err)
	}
	return postgres.NewMessageStore(db), postgres.NewReportStore(db), func() { db.Close() }
}

func mustHotStore(cfg *config.Config) (core.HotStore, func()) {
	if cfg.RedisAddr == "" {
		log.Println("REDIS_ADDR not set; using in-memory HotStore")
		return memory.NewHotStore(), func() {}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	hot, err := storeredis.New(ctx, cfg.RedisAddr)
	if err != nil {
		log.Printf("WARNING: redis unreachable (%v); falling back to in-memory HotStore", err)
		return memory.NewHotStore(), func() {}
	}
	return hot, func() { hot.Close() }
}

// expirySweepInterval is how often runExpiryLoop purges rooms whose TTL
// (scheduled by PairRegistry dissolve, spec.md §4.3/§4.7) has passed.
const expirySweepInterval = 1 * time.Hour

// expirableStore is satisfied by postgres.MessageStore; the in-memory
// store has no background sweep since its process lifetime is the TTL.
type expirableStore interface {
	DeleteExpired(ctx context.Context) (int, error)
}

// runExpiryLoop periodically purges messages past their scheduled TTL.
// A no-op when messages doesn't implement expirableStore (local/dev mode
// backed by store/memory).
func runExpiryLoop(ctx context.Context, messages core.MessageStore, _ time.Duration) {
	store, ok := messages.(expirableStore)
	if !ok {
		return
	}
	ticker := time.NewTicker(expirySweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			n, err := store.DeleteExpired(ctx)
			if err != nil {
				log.Printf("[expiry] sweep failed: %v", err)
				continue
			}
			if n > 0 {
				log.Printf("[expiry] purged %d expired messages", n)
			}
		case <-ctx.Done():
			return
		}
	}
}
