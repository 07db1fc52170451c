package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/terminal-bench/revguard/internal/protocol"
	"github.com/terminal-bench/revguard/pkg/money"
	"github.com/terminal-bench/revguard/shared/events"
)

// Token is the collateral asset the pool moves. Boolean results must be
// checked; false aborts the enclosing operation.
type Token interface {
	Transfer(from, to string, amount int64) bool
	TransferFrom(spender, from, to string, amount int64) bool
}

// Registry resolves venue identity and vault addresses.
type Registry interface {
	Exists(id string) bool
	OwnerOf(id string) (string, error)
	VaultOf(id string) (string, error)
}

// Vaults resolves vault terms and books inbound settlements.
type Vaults interface {
	PromisedRevenue(addr string) (int64, error)
	TotalMonths(addr string) (int, error)
	RecordDeposit(addr string, amount int64) error
}

// Account is one underwriter's collateral triple. Total == Available + Locked
// holds at all times; records are created on first registration and never
// deleted.
type Account struct {
	Address   string `json:"address"`
	Total     int64  `json:"total"`
	Available int64  `json:"available"`
	Locked    int64  `json:"locked"`
}

// Config carries the ledger's fixed parameters.
type Config struct {
	// Address is the pool's own token address; all registered collateral
	// sits there until settled, claimed or withdrawn.
	Address string
	// Treasury receives the protocol cut of distributed fees.
	Treasury string
	// ProtocolFeeBPS is the protocol cut in basis points.
	ProtocolFeeBPS int64
	// PeriodLength is one reporting period; maturity is
	// assignment time + totalMonths * PeriodLength.
	PeriodLength time.Duration
	// Clock supplies the current time. Defaults to time.Now.
	Clock func() time.Time
}

// Ledger is the global underwriter collateral pool: the single place
// collateral numbers change. Per-venue stakes live in a composite-keyed index
// next to an ordered roster, so iteration order is always the roster order.
type Ledger struct {
	cfg      Config
	token    Token
	registry Registry
	vaults   Vaults
	pub      events.Publisher

	// guard rejects re-entrant invocation of state-changing operations:
	// a nested call while one is executing gets ErrState instead of a
	// deadlock or a double spend.
	guard chan struct{}

	mu          sync.RWMutex
	accounts    map[string]*Account
	assignments map[string]*Assignment
	stakes      map[stakeKey]int64
	// settled is the portion of each commitment already paid out through
	// liability settlements; maturity releases stake minus settled.
	settled map[stakeKey]int64
	claimed map[stakeKey]bool
}

type stakeKey struct {
	venue       string
	underwriter string
}

// DefaultPeriodLength approximates one calendar month.
const DefaultPeriodLength = 30 * 24 * time.Hour

func NewLedger(cfg Config, tok Token, reg Registry, vaults Vaults, pub events.Publisher) *Ledger {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.PeriodLength == 0 {
		cfg.PeriodLength = DefaultPeriodLength
	}
	if pub == nil {
		pub = events.Nop{}
	}
	return &Ledger{
		cfg:         cfg,
		token:       tok,
		registry:    reg,
		vaults:      vaults,
		pub:         pub,
		guard:       make(chan struct{}, 1),
		accounts:    make(map[string]*Account),
		assignments: make(map[string]*Assignment),
		stakes:      make(map[stakeKey]int64),
		settled:     make(map[stakeKey]int64),
		claimed:     make(map[stakeKey]bool),
	}
}

func (l *Ledger) enter() error {
	select {
	case l.guard <- struct{}{}:
		return nil
	default:
		return fmt.Errorf("%w: re-entrant pool operation", protocol.ErrState)
	}
}

func (l *Ledger) exit() { <-l.guard }

// Register deposits collateral for the caller. The first call creates the
// account; later calls add to both total and available. There is no upper
// bound on repeated registration.
func (l *Ledger) Register(ctx context.Context, caller string, amount int64) error {
	if err := money.ValidateAmount(amount); err != nil {
		return fmt.Errorf("%w: %v", protocol.ErrValidation, err)
	}
	if err := l.enter(); err != nil {
		return err
	}
	defer l.exit()

	if !l.token.TransferFrom(l.cfg.Address, caller, l.cfg.Address, amount) {
		return fmt.Errorf("%w: collateral deposit from %s", protocol.ErrTransferFailed, caller)
	}

	l.mu.Lock()
	acct, ok := l.accounts[caller]
	if !ok {
		acct = &Account{Address: caller}
		l.accounts[caller] = acct
	}
	acct.Total += amount
	acct.Available += amount
	snapshot := *acct
	l.mu.Unlock()

	_ = l.pub.Publish(ctx, events.UnderwriterRegistered, events.StakeEvent{
		ID:          uuid.New(),
		Underwriter: caller,
		Amount:      amount,
		Total:       snapshot.Total,
		Available:   snapshot.Available,
		Locked:      snapshot.Locked,
		Timestamp:   l.cfg.Clock(),
	})
	return nil
}

// Withdraw returns available collateral to the caller, shrinking both total
// and available.
func (l *Ledger) Withdraw(ctx context.Context, caller string, amount int64) error {
	if err := money.ValidateAmount(amount); err != nil {
		return fmt.Errorf("%w: %v", protocol.ErrValidation, err)
	}
	if err := l.enter(); err != nil {
		return err
	}
	defer l.exit()

	l.mu.Lock()
	acct, ok := l.accounts[caller]
	if !ok {
		l.mu.Unlock()
		return fmt.Errorf("%w: underwriter %s", protocol.ErrNotFound, caller)
	}
	if amount > acct.Available {
		l.mu.Unlock()
		return fmt.Errorf("%w: withdraw %d exceeds available %d", protocol.ErrInsufficientStake, amount, acct.Available)
	}
	acct.Total -= amount
	acct.Available -= amount
	snapshot := *acct
	l.mu.Unlock()

	if !l.token.Transfer(l.cfg.Address, caller, amount) {
		// The pool always holds at least the sum of accounts, so this
		// indicates external tampering. Restore the triple and abort.
		l.mu.Lock()
		acct.Total += amount
		acct.Available += amount
		l.mu.Unlock()
		return fmt.Errorf("%w: withdraw payout to %s", protocol.ErrTransferFailed, caller)
	}

	_ = l.pub.Publish(ctx, events.UnderwriterWithdrawn, events.StakeEvent{
		ID:          uuid.New(),
		Underwriter: caller,
		Amount:      amount,
		Total:       snapshot.Total,
		Available:   snapshot.Available,
		Locked:      snapshot.Locked,
		Timestamp:   l.cfg.Clock(),
	})
	return nil
}

// IsRegistered reports whether addr has ever deposited collateral.
func (l *Ledger) IsRegistered(addr string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.accounts[addr]
	return ok
}

// Account returns a copy of an underwriter's collateral triple.
func (l *Ledger) Account(addr string) (Account, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	acct, ok := l.accounts[addr]
	if !ok {
		return Account{}, false
	}
	return *acct, true
}
