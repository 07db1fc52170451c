package protocol

import "sync"

// Serializer runs protocol operations one at a time. Every state-changing
// call chain (guarantee engine -> pool ledger -> vault) executes inside a
// single Do so no interleaving from other requests is observable. Individual
// components still carry their own re-entrancy guards; the serializer only
// provides cross-request ordering.
type Serializer struct {
	mu sync.Mutex
}

func NewSerializer() *Serializer {
	return &Serializer{}
}

// Do executes fn while holding the serializer lock.
func (s *Serializer) Do(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn()
}
