package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	_ "github.com/lib/pq"
	"golang.org/x/sync/errgroup"

	"github.com/terminal-bench/revguard/internal/alerts"
	"github.com/terminal-bench/revguard/internal/archive"
	"github.com/terminal-bench/revguard/pkg/dlock"
	"github.com/terminal-bench/revguard/pkg/messaging"
	"github.com/terminal-bench/revguard/shared/events"
)

type config struct {
	NATSUrl        string
	DatabaseURL    string
	InfluxURL      string
	InfluxToken    string
	InfluxOrg      string
	InfluxBucket   string
	EtcdEndpoints  []string
	AlertThreshold int64
}

func loadConfig() config {
	cfg := config{
		NATSUrl:        getEnv("NATS_URL", "nats://localhost:4222"),
		DatabaseURL:    getEnv("DATABASE_URL", "postgres://localhost/revguard?sslmode=disable"),
		InfluxURL:      getEnv("INFLUX_URL", ""),
		InfluxToken:    getEnv("INFLUX_TOKEN", ""),
		InfluxOrg:      getEnv("INFLUX_ORG", "revguard"),
		InfluxBucket:   getEnv("INFLUX_BUCKET", "venue_metrics"),
		AlertThreshold: getEnvInt64("ALERT_THRESHOLD", 0),
	}
	if eps := os.Getenv("ETCD_ENDPOINTS"); eps != "" {
		cfg.EtcdEndpoints = strings.Split(eps, ",")
	}
	return cfg
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	msgClient, err := messaging.NewClient(messaging.Config{
		URL:            cfg.NATSUrl,
		Name:           "archiver",
		ReconnectWait:  time.Second,
		MaxReconnects:  60,
		ConnectTimeout: 10 * time.Second,
	})
	if err != nil {
		log.Fatalf("Failed to connect to NATS: %v", err)
	}
	defer msgClient.Close()

	var influxClient influxdb2.Client
	if cfg.InfluxURL != "" {
		influxClient = influxdb2.NewClient(cfg.InfluxURL, cfg.InfluxToken)
		defer influxClient.Close()
	}

	// With etcd configured, only one archiver replica consumes at a time.
	var lock *dlock.Lock
	if len(cfg.EtcdEndpoints) > 0 {
		lock, err = dlock.New(dlock.Config{Endpoints: cfg.EtcdEndpoints}, "/revguard/archiver")
		if err != nil {
			log.Fatalf("Failed to connect to etcd: %v", err)
		}
		defer lock.Close()

		log.Println("Waiting for archiver lock...")
		if err := lock.Acquire(ctx); err != nil {
			log.Fatalf("Failed to acquire archiver lock: %v", err)
		}
		log.Println("Archiver lock acquired")
	}

	archiver := archive.New(db, influxClient, cfg.InfluxOrg, cfg.InfluxBucket)
	if err := archiver.Start(msgClient); err != nil {
		log.Fatalf("Failed to subscribe archiver: %v", err)
	}

	watcher := alerts.NewWatcher(msgClient, cfg.AlertThreshold)
	watcher.Start(ctx)
	defer watcher.Stop()
	if err := msgClient.Subscribe(events.ReportSubmitted, watcher.HandleMessage); err != nil {
		log.Fatalf("Failed to subscribe alert watcher: %v", err)
	}

	log.Println("Archiver running")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})
	if lock != nil {
		g.Go(func() error {
			select {
			case <-lock.Lost():
				log.Println("Archiver lock lost, shutting down")
				stop()
			case <-gctx.Done():
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		log.Printf("Archiver error: %v", err)
	}
	log.Println("Archiver stopped")
}
