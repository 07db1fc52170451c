package venue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/terminal-bench/revguard/internal/protocol"
)

// Venue is the registry record for one venue: identity plus the address of
// its revenue vault.
type Venue struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Owner     string    `json:"owner"`
	VaultAddr string    `json:"vault_addr"`
	CreatedAt time.Time `json:"created_at"`
}

// Registry is the venue identity store. The in-memory map is the source of
// truth; an optional Redis client serves read-through caching for the
// gateway's lookup endpoints.
type Registry struct {
	mu     sync.RWMutex
	venues map[string]*Venue
	redis  *redis.Client
	ttl    time.Duration
}

func NewRegistry(rdb *redis.Client) *Registry {
	return &Registry{
		venues: make(map[string]*Venue),
		redis:  rdb,
		ttl:    5 * time.Minute,
	}
}

// Create registers a new venue and returns its record.
func (r *Registry) Create(ctx context.Context, name, owner, vaultAddr string) (*Venue, error) {
	if name == "" || owner == "" || vaultAddr == "" {
		return nil, fmt.Errorf("%w: venue needs name, owner and vault address", protocol.ErrValidation)
	}
	v := &Venue{
		ID:        uuid.New().String(),
		Name:      name,
		Owner:     owner,
		VaultAddr: vaultAddr,
		CreatedAt: time.Now(),
	}
	r.mu.Lock()
	r.venues[v.ID] = v
	r.mu.Unlock()

	r.cache(ctx, v)
	return v, nil
}

// Get resolves a venue, consulting Redis before the local map.
func (r *Registry) Get(ctx context.Context, id string) (*Venue, error) {
	if r.redis != nil {
		if cached, err := r.redis.Get(ctx, cacheKey(id)).Result(); err == nil {
			var v Venue
			if json.Unmarshal([]byte(cached), &v) == nil {
				return &v, nil
			}
		}
	}

	r.mu.RLock()
	v, ok := r.venues[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: venue %s", protocol.ErrNotFound, id)
	}

	r.cache(ctx, v)
	return v, nil
}

// Exists reports whether a venue id is registered.
func (r *Registry) Exists(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.venues[id]
	return ok
}

// OwnerOf returns the identity that owns the venue.
func (r *Registry) OwnerOf(id string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.venues[id]
	if !ok {
		return "", fmt.Errorf("%w: venue %s", protocol.ErrNotFound, id)
	}
	return v.Owner, nil
}

// VaultOf returns the venue's revenue vault address.
func (r *Registry) VaultOf(id string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.venues[id]
	if !ok {
		return "", fmt.Errorf("%w: venue %s", protocol.ErrNotFound, id)
	}
	return v.VaultAddr, nil
}

func (r *Registry) cache(ctx context.Context, v *Venue) {
	if r.redis == nil {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return
	}
	// Cache writes are best effort; a miss just falls back to memory.
	r.redis.Set(ctx, cacheKey(v.ID), payload, r.ttl)
}

func cacheKey(id string) string { return "venue:" + id }
