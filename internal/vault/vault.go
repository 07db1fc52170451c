package vault

import (
	"fmt"
	"sync"

	"github.com/terminal-bench/revguard/internal/protocol"
)

// Vault holds a venue's investor funds. The protocol treats it as the
// destination of owner revenue deposits and liability settlements; the
// token-sale mechanics that fill it with buyer funds live outside this repo.
type Vault struct {
	Address         string
	VenueID         string
	PromisedRevenue int64 // per reporting period
	TotalMonths     int

	mu            sync.Mutex
	totalReceived int64
}

// RecordDeposit notes funds that arrived on the vault address. Token movement
// happens separately; this is pure bookkeeping.
func (v *Vault) RecordDeposit(amount int64) {
	v.mu.Lock()
	v.totalReceived += amount
	v.mu.Unlock()
}

func (v *Vault) TotalReceived() int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.totalReceived
}

// Directory indexes vaults by address so the pool ledger can resolve a
// venue's vault without knowing anything beyond the address from the
// registry.
type Directory struct {
	mu     sync.RWMutex
	vaults map[string]*Vault
}

func NewDirectory() *Directory {
	return &Directory{vaults: make(map[string]*Vault)}
}

// Create registers a vault for a venue. Address collisions are a caller bug.
func (d *Directory) Create(venueID, address string, promisedRevenue int64, totalMonths int) (*Vault, error) {
	if promisedRevenue <= 0 || totalMonths <= 0 {
		return nil, fmt.Errorf("%w: vault needs positive promised revenue and months", protocol.ErrValidation)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.vaults[address]; ok {
		return nil, fmt.Errorf("%w: vault %s already exists", protocol.ErrState, address)
	}
	v := &Vault{
		Address:         address,
		VenueID:         venueID,
		PromisedRevenue: promisedRevenue,
		TotalMonths:     totalMonths,
	}
	d.vaults[address] = v
	return v, nil
}

func (d *Directory) ByAddress(address string) (*Vault, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	v, ok := d.vaults[address]
	return v, ok
}

// PromisedRevenue resolves the per-period revenue promise for a vault.
func (d *Directory) PromisedRevenue(address string) (int64, error) {
	v, ok := d.ByAddress(address)
	if !ok {
		return 0, fmt.Errorf("%w: vault %s", protocol.ErrNotFound, address)
	}
	return v.PromisedRevenue, nil
}

// TotalMonths resolves the contract length for a vault.
func (d *Directory) TotalMonths(address string) (int, error) {
	v, ok := d.ByAddress(address)
	if !ok {
		return 0, fmt.Errorf("%w: vault %s", protocol.ErrNotFound, address)
	}
	return v.TotalMonths, nil
}

// RecordDeposit books an inbound amount against a vault.
func (d *Directory) RecordDeposit(address string, amount int64) error {
	v, ok := d.ByAddress(address)
	if !ok {
		return fmt.Errorf("%w: vault %s", protocol.ErrNotFound, address)
	}
	v.RecordDeposit(amount)
	return nil
}
