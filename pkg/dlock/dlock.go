// Package dlock provides an etcd-backed lock for single-writer deployments.
// The archiver takes the lock on startup so that only one replica consumes
// and persists the event stream at a time.
package dlock

import (
	"context"
	"fmt"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
)

// Config holds etcd connection parameters.
type Config struct {
	Endpoints   []string
	DialTimeout time.Duration
	// SessionTTL is the lease TTL in seconds. The lock is released
	// automatically if the holder stops keeping the lease alive.
	SessionTTL int
}

// Lock is a mutex held under an etcd lease.
type Lock struct {
	client  *clientv3.Client
	session *concurrency.Session
	mutex   *concurrency.Mutex
}

// New connects to etcd and prepares a lock on the given key prefix.
func New(cfg Config, prefix string) (*Lock, error) {
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.SessionTTL == 0 {
		cfg.SessionTTL = 15
	}

	client, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("connect etcd: %w", err)
	}

	session, err := concurrency.NewSession(client, concurrency.WithTTL(cfg.SessionTTL))
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("create etcd session: %w", err)
	}

	return &Lock{
		client:  client,
		session: session,
		mutex:   concurrency.NewMutex(session, prefix),
	}, nil
}

// Acquire blocks until the lock is held or ctx is done.
func (l *Lock) Acquire(ctx context.Context) error {
	if err := l.mutex.Lock(ctx); err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	return nil
}

// Release unlocks the mutex.
func (l *Lock) Release(ctx context.Context) error {
	return l.mutex.Unlock(ctx)
}

// Lost is closed when the underlying lease expires. Holders should treat
// this as loss of exclusivity and shut down.
func (l *Lock) Lost() <-chan struct{} {
	return l.session.Done()
}

// Close releases the session and connection.
func (l *Lock) Close() error {
	l.session.Close()
	return l.client.Close()
}
