package guarantee

import (
	"fmt"
	"sync"

	"github.com/terminal-bench/revguard/internal/protocol"
	"github.com/terminal-bench/revguard/shared/events"
)

// Service owns the per-venue engines. Venue registration creates exactly one
// engine; every later operation routes through it.
type Service struct {
	cfg      Config
	pool     PoolLedger
	token    Token
	registry Registry
	vaults   Vaults
	pub      events.Publisher

	mu      sync.RWMutex
	engines map[string]*Engine
}

func NewService(cfg Config, pool PoolLedger, tok Token, reg Registry, vaults Vaults, pub events.Publisher) *Service {
	return &Service{
		cfg:      cfg,
		pool:     pool,
		token:    tok,
		registry: reg,
		vaults:   vaults,
		pub:      pub,
		engines:  make(map[string]*Engine),
	}
}

// CreateEngine builds the guarantee engine for a freshly registered venue.
// The escrow address is derived from the venue id.
func (s *Service) CreateEngine(venueID string) (*Engine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.engines[venueID]; ok {
		return nil, fmt.Errorf("%w: engine for venue %s already exists", protocol.ErrState, venueID)
	}
	e, err := newEngine(venueID, "escrow:"+venueID, s.cfg, s.pool, s.token, s.registry, s.vaults, s.pub)
	if err != nil {
		return nil, err
	}
	s.engines[venueID] = e
	return e, nil
}

// Engine resolves the engine guarding a venue.
func (s *Service) Engine(venueID string) (*Engine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.engines[venueID]
	if !ok {
		return nil, fmt.Errorf("%w: no engine for venue %s", protocol.ErrNotFound, venueID)
	}
	return e, nil
}
