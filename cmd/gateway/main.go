package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/terminal-bench/revguard/internal/auth"
	"github.com/terminal-bench/revguard/internal/gateway"
	"github.com/terminal-bench/revguard/internal/guarantee"
	"github.com/terminal-bench/revguard/internal/pool"
	"github.com/terminal-bench/revguard/internal/protocol"
	"github.com/terminal-bench/revguard/internal/token"
	"github.com/terminal-bench/revguard/internal/vault"
	"github.com/terminal-bench/revguard/internal/venue"
	"github.com/terminal-bench/revguard/pkg/circuit"
	"github.com/terminal-bench/revguard/pkg/messaging"
	"github.com/terminal-bench/revguard/shared/events"
)

type config struct {
	Port            string
	NATSUrl         string
	RedisURL        string
	JWTSecret       string
	PoolAddress     string
	TreasuryAddress string
	AdminEmail      string
	AdminPassword   string
	ProtocolFeeBPS  int64
	RateLimitMax    int
	RateLimitWindow time.Duration
}

func loadConfig() config {
	return config{
		Port:            getEnv("PORT", "8000"),
		NATSUrl:         getEnv("NATS_URL", ""),
		RedisURL:        getEnv("REDIS_URL", ""),
		JWTSecret:       getEnv("JWT_SECRET", "dev-secret"),
		PoolAddress:     getEnv("POOL_ADDRESS", "pool"),
		TreasuryAddress: getEnv("TREASURY_ADDRESS", "treasury"),
		AdminEmail:      getEnv("ADMIN_EMAIL", "admin@revguard.local"),
		AdminPassword:   getEnv("ADMIN_PASSWORD", "change-me-now"),
		ProtocolFeeBPS:  getEnvInt64("PROTOCOL_FEE_BPS", 500),
		RateLimitMax:    int(getEnvInt64("RATE_LIMIT_MAX", 100)),
		RateLimitWindow: time.Minute,
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt64(key string, defaultVal int64) int64 {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			return n
		}
	}
	return defaultVal
}

func main() {
	cfg := loadConfig()

	// Event bus is optional; without NATS the gateway still streams events
	// to WebSocket clients.
	var remote events.Publisher
	if cfg.NATSUrl != "" {
		msgClient, err := messaging.NewClient(messaging.Config{
			URL:            cfg.NATSUrl,
			Name:           "gateway",
			ReconnectWait:  time.Second,
			MaxReconnects:  60,
			ConnectTimeout: 10 * time.Second,
		})
		if err != nil {
			log.Fatalf("Failed to connect to NATS: %v", err)
		}
		defer msgClient.Close()
		remote = msgClient
	}

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("Invalid REDIS_URL: %v", err)
		}
		rdb = redis.NewClient(opts)
		defer rdb.Close()
	}

	hub := gateway.NewHub()
	breakers := circuit.NewBreakerGroup(circuit.Config{
		MaxFailures: 5,
		Timeout:     30 * time.Second,
		HalfOpenMax: 3,
	})
	publisher := gateway.NewEventTee(remote, hub, breakers)

	authSvc := auth.NewService(cfg.JWTSecret, 24*time.Hour)
	admin, err := authSvc.Register(context.Background(), cfg.AdminEmail, cfg.AdminPassword)
	if err != nil {
		log.Fatalf("Failed to seed admin account: %v", err)
	}
	log.Printf("Admin account %s has address %s", admin.Email, admin.Address)

	tok := token.New()
	venues := venue.NewRegistry(rdb)
	vaults := vault.NewDirectory()

	ledger := pool.NewLedger(pool.Config{
		Address:        cfg.PoolAddress,
		Treasury:       cfg.TreasuryAddress,
		ProtocolFeeBPS: cfg.ProtocolFeeBPS,
	}, tok, venues, vaults, publisher)

	engines := guarantee.NewService(guarantee.Config{
		Admin:          admin.Address,
		Treasury:       cfg.TreasuryAddress,
		ProtocolFeeBPS: cfg.ProtocolFeeBPS,
	}, ledger, tok, venues, vaults, publisher)

	gw := gateway.New(gateway.Config{
		Port:            cfg.Port,
		RateLimitMax:    cfg.RateLimitMax,
		RateLimitWindow: cfg.RateLimitWindow,
	}, gateway.Deps{
		Auth:    authSvc,
		Token:   tok,
		Venues:  venues,
		Vaults:  vaults,
		Pool:    ledger,
		Engines: engines,
		Serial:  protocol.NewSerializer(),
		Hub:     hub,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      gw.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		log.Printf("Gateway starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start gateway: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down gateway...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Gateway shutdown error: %v", err)
	}

	log.Println("Gateway stopped")
}
