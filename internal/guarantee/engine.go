package guarantee

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

// PoolLedger is the slice of the underwriter pool the engine needs.
type PoolLedger interface {
	IsRegistered(addr string) bool
	SettleLiability(ctx context.Context, venueID string, month int, missing int64) error
}

// Token moves the collateral asset. False aborts the operation.
type Token interface {
	Transfer(from, to string, amount int64) bool
	TransferFrom(spender, from, to string, amount int64) bool
}

// Registry resolves venue ownership and vault addresses.
type Registry interface {
	OwnerOf(id string) (string, error)
	VaultOf(id string) (string, error)
}

// Vaults resolves vault terms and books inbound revenue.
type Vaults interface {
	PromisedRevenue(addr string) (int64, error)
	TotalMonths(addr string) (int, error)
	RecordDeposit(addr string, amount int64) error
}

// Report is one month's revenue attestation.
type Report struct {
	Month         int       `json:"month"`
	Expected      int64     `json:"expected"`
	Actual        int64     `json:"actual"`
	Missing       int64     `json:"missing"`
	LiabilityPaid bool      `json:"liability_paid"`
	Timestamp     time.Time `json:"timestamp"`
}

// member is one entry of the engine's local underwriter roster.
type member struct {
	stake      int64
	approved   bool
	feeClaimed bool
}

// Config carries engine parameters shared across venues.
type Config struct {
	// Admin manages the operator set. Immutable.
	Admin string
	// Treasury receives the protocol cut of fee payouts.
	Treasury string
	// ProtocolFeeBPS is the protocol cut in basis points.
	ProtocolFeeBPS int64
	// PeriodLength is one reporting period.
	PeriodLength time.Duration
	// Clock supplies the current time. Defaults to time.Now.
	Clock func() time.Time
}

// Engine runs one venue's guarantee lifecycle: the monthly report ledger,
// liability settlement and fee-escrow distribution. All role checks are
// explicit capability checks against the caller identity argument.
type Engine struct {
	venueID string
	// address is the escrow's token address.
	address string
	cfg     Config

	pool     PoolLedger
	token    Token
	registry Registry
	vaults   Vaults
	pub      events.Publisher

	guard chan struct{}
	mu    sync.RWMutex

	operators map[string]bool

	roster     []string
	members    map[string]*member
	totalStake int64

	fee          int64
	feeDeposited bool
	escrow       int64
	// escrowBase is the deposited fee amount; payout shares are computed
	// against it so earlier individual claims do not shrink later shares.
	escrowBase      int64
	feesDistributed bool

	currentMonth       int
	reports            []Report
	totalExpected      int64
	totalCollected     int64
	totalLiabilityPaid int64
	totalOwnerDeposits int64

	createdAt   time.Time
	totalMonths int
	vaultAddr   string
}

func newEngine(venueID, address string, cfg Config, pool PoolLedger, tok Token, reg Registry, vaults Vaults, pub events.Publisher) (*Engine, error) {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.PeriodLength == 0 {
		cfg.PeriodLength = 30 * 24 * time.Hour
	}
	if pub == nil {
		pub = events.Nop{}
	}
	vaultAddr, err := reg.VaultOf(venueID)
	if err != nil {
		return nil, err
	}
	months, err := vaults.TotalMonths(vaultAddr)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		venueID:      venueID,
		address:      address,
		cfg:          cfg,
		pool:         pool,
		token:        tok,
		registry:     reg,
		vaults:       vaults,
		pub:          pub,
		guard:        make(chan struct{}, 1),
		operators:    map[string]bool{cfg.Admin: true},
		members:      make(map[string]*member),
		currentMonth: 1,
		createdAt:    cfg.Clock(),
		totalMonths:  months,
		vaultAddr:    vaultAddr,
	}
	return e, nil
}

func (e *Engine) enter() error {
	select {
	case e.guard <- struct{}{}:
		return nil
	default:
		return fmt.Errorf("%w: re-entrant engine operation", protocol.ErrState)
	}
}

func (e *Engine) exit() { <-e.guard }

func (e *Engine) requireOperator(caller string) error {
	e.mu.RLock()
	ok := e.operators[caller]
	e.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s is not an operator", protocol.ErrUnauthorized, caller)
	}
	return nil
}

func (e *Engine) requireAdmin(caller string) error {
	if caller != e.cfg.Admin {
		return fmt.Errorf("%w: %s is not the admin", protocol.ErrUnauthorized, caller)
	}
	return nil
}

func (e *Engine) requireOwner(caller string) error {
	owner, err := e.registry.OwnerOf(e.venueID)
	if err != nil {
		return err
	}
	if caller != owner {
		return fmt.Errorf("%w: %s", protocol.ErrNotVenueOwner, caller)
	}
	return nil
}

// AddOperator grants an identity the operator role. Admin only.
func (e *Engine) AddOperator(caller, addr string) error {
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.operators[addr] = true
	return nil
}

// RemoveOperator revokes the operator role. Admin only; the admin itself
// cannot be removed.
func (e *Engine) RemoveOperator(caller, addr string) error {
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	if addr == e.cfg.Admin {
		return fmt.Errorf("%w: cannot remove the admin", protocol.ErrValidation)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.operators, addr)
	return nil
}

// SetFeeAmount configures the guarantee fee. Venue owner only, and only
// before the escrow deposit.
func (e *Engine) SetFeeAmount(caller string, amount int64) error {
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	if err := money.ValidateAmount(amount); err != nil {
		return fmt.Errorf("%w: %v", protocol.ErrValidation, err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.feeDeposited {
		return fmt.Errorf("%w: fee already deposited", protocol.ErrState)
	}
	e.fee = amount
	return nil
}

// AddUnderwriter appends a pool-registered underwriter to the local roster.
// Operator only.
func (e *Engine) AddUnderwriter(caller, addr string, stake int64) error {
	if err := e.requireOperator(caller); err != nil {
		return err
	}
	if err := money.ValidateAmount(stake); err != nil {
		return fmt.Errorf("%w: %v", protocol.ErrValidation, err)
	}
	if !e.pool.IsRegistered(addr) {
		return fmt.Errorf("%w: %s is not registered in the pool", protocol.ErrUnauthorized, addr)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.members[addr]; ok {
		return fmt.Errorf("%w: %s already on the roster", protocol.ErrState, addr)
	}
	e.members[addr] = &member{stake: stake, approved: true}
	e.roster = append(e.roster, addr)
	e.totalStake += stake
	return nil
}

// DepositFee pulls the configured fee from the venue owner into escrow.
// Venue owner only; requires a configured fee and a nonempty roster.
func (e *Engine) DepositFee(ctx context.Context, caller string) error {
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	if err := e.enter(); err != nil {
		return err
	}
	defer e.exit()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fee == 0 {
		return fmt.Errorf("%w: fee amount not configured", protocol.ErrState)
	}
	if len(e.roster) == 0 {
		return fmt.Errorf("%w: empty underwriter roster", protocol.ErrState)
	}
	if e.feeDeposited {
		return fmt.Errorf("%w: fee already deposited", protocol.ErrState)
	}
	if !e.token.TransferFrom(e.address, caller, e.address, e.fee) {
		return fmt.Errorf("%w: fee deposit from %s", protocol.ErrTransferFailed, caller)
	}
	e.escrow += e.fee
	e.escrowBase += e.fee
	e.feeDeposited = true

	_ = e.pub.Publish(ctx, events.FeeDeposited, events.DepositEvent{
		ID:      uuid.New(),
		VenueID: e.venueID,
		From:    caller,
		Amount:  e.fee,
	})
	return nil
}

// SubmitMonthlyReport records the current month's actual revenue against the
// vault's promise and advances the month. Operator only. Months are strictly
// sequential; a report can be neither skipped nor resubmitted.
func (e *Engine) SubmitMonthlyReport(ctx context.Context, caller string, actual int64) error {
	if err := e.requireOperator(caller); err != nil {
		return err
	}
	if actual < 0 {
		return fmt.Errorf("%w: negative revenue", protocol.ErrValidation)
	}
	if err := e.enter(); err != nil {
		return err
	}
	defer e.exit()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.feesDistributed {
		return fmt.Errorf("%w: fees already distributed", protocol.ErrState)
	}
	if e.currentMonth > e.totalMonths {
		return fmt.Errorf("%w: contract covers %d months", protocol.ErrState, e.totalMonths)
	}

	expected, err := e.vaults.PromisedRevenue(e.vaultAddr)
	if err != nil {
		return err
	}
	missing := expected - actual
	if missing < 0 {
		missing = 0
	}

	report := Report{
		Month:     e.currentMonth,
		Expected:  expected,
		Actual:    actual,
		Missing:   missing,
		Timestamp: e.cfg.Clock(),
	}
	e.reports = append(e.reports, report)
	e.totalExpected += expected
	e.totalCollected += actual
	e.currentMonth++

	_ = e.pub.Publish(ctx, events.ReportSubmitted, events.ReportEvent{
		ID:         uuid.New(),
		VenueID:    e.venueID,
		Month:      report.Month,
		Expected:   expected,
		Actual:     actual,
		Missing:    missing,
		ReportedAt: report.Timestamp,
	})
	return nil
}

// ProcessLiability settles a month's shortfall from locked pool stake.
// Operator only; each month settles at most once.
func (e *Engine) ProcessLiability(ctx context.Context, caller string, month int) error {
	if err := e.requireOperator(caller); err != nil {
		return err
	}
	if err := e.enter(); err != nil {
		return err
	}
	defer e.exit()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.feesDistributed {
		return fmt.Errorf("%w: fees already distributed", protocol.ErrState)
	}
	if month < 1 || month > len(e.reports) {
		return fmt.Errorf("%w: no report for month %d", protocol.ErrNotFound, month)
	}
	report := &e.reports[month-1]
	if report.Missing == 0 {
		return fmt.Errorf("%w %d", protocol.ErrNoShortfall, month)
	}
	if report.LiabilityPaid {
		return fmt.Errorf("%w: month %d already settled", protocol.ErrState, month)
	}

	if err := e.pool.SettleLiability(ctx, e.venueID, month, report.Missing); err != nil {
		return err
	}
	report.LiabilityPaid = true
	e.totalLiabilityPaid += report.Missing
	return nil
}

// OwnerDepositRevenue forwards owner funds straight to the vault. This path
// is bookkeeping-separate from SubmitMonthlyReport: the attested actual
// revenue and the funds actually moved are intentionally not reconciled here.
func (e *Engine) OwnerDepositRevenue(ctx context.Context, caller string, month int, amount int64) error {
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	if err := money.ValidateAmount(amount); err != nil {
		return fmt.Errorf("%w: %v", protocol.ErrValidation, err)
	}
	if month < 1 {
		return fmt.Errorf("%w: month must be positive", protocol.ErrValidation)
	}
	if err := e.enter(); err != nil {
		return err
	}
	defer e.exit()

	if !e.token.TransferFrom(e.address, caller, e.vaultAddr, amount) {
		return fmt.Errorf("%w: revenue deposit from %s", protocol.ErrTransferFailed, caller)
	}
	if err := e.vaults.RecordDeposit(e.vaultAddr, amount); err != nil {
		return err
	}

	e.mu.Lock()
	e.totalOwnerDeposits += amount
	e.mu.Unlock()

	_ = e.pub.Publish(ctx, events.RevenueDeposited, events.DepositEvent{
		ID:      uuid.New(),
		VenueID: e.venueID,
		From:    caller,
		Month:   month,
		Amount:  amount,
	})
	return nil
}

// DistributeFees pays every approved, unclaimed roster member their share of
// the escrowed fee net of the protocol cut. Operator only, one shot.
func (e *Engine) DistributeFees(ctx context.Context, caller string) error {
	if err := e.requireOperator(caller); err != nil {
		return err
	}
	if err := e.enter(); err != nil {
		return err
	}
	defer e.exit()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.feesDistributed {
		return fmt.Errorf("%w: fees already distributed", protocol.ErrState)
	}
	if e.escrow == 0 {
		return fmt.Errorf("%w: nothing escrowed", protocol.ErrInsufficientEscrow)
	}

	// Validate every payout before any transfer.
	type payout struct {
		addr     string
		net, cut int64
	}
	var payouts []payout
	var needed int64
	for _, addr := range e.roster {
		m := e.members[addr]
		if !m.approved || m.feeClaimed {
			continue
		}
		share := money.ProRata(e.escrowBase, m.stake, e.totalStake)
		net, cut := money.TakeCut(share, e.cfg.ProtocolFeeBPS)
		payouts = append(payouts, payout{addr: addr, net: net, cut: cut})
		needed += share
	}
	if needed > e.escrow {
		return fmt.Errorf("%w: escrow %d cannot cover %d", protocol.ErrInsufficientEscrow, e.escrow, needed)
	}

	// Each payout settles fully (member share, treasury cut, escrow
	// decrement) before the next starts, so a mid-loop transfer failure
	// leaves escrow equal to the funds actually held and the already paid
	// members marked claimed.
	var totalCut, totalNet int64
	for _, p := range payouts {
		if p.net > 0 && !e.token.Transfer(e.address, p.addr, p.net) {
			return fmt.Errorf("%w: fee payout to %s", protocol.ErrTransferFailed, p.addr)
		}
		if p.cut > 0 && !e.token.Transfer(e.address, e.cfg.Treasury, p.cut) {
			e.escrow -= p.net
			e.members[p.addr].feeClaimed = true
			return fmt.Errorf("%w: protocol cut to treasury", protocol.ErrTransferFailed)
		}
		e.escrow -= p.net + p.cut
		e.members[p.addr].feeClaimed = true
		totalCut += p.cut
		totalNet += p.net
	}
	e.feesDistributed = true

	_ = e.pub.Publish(ctx, events.FeesDistributed, events.PayoutEvent{
		ID:        uuid.New(),
		VenueID:   e.venueID,
		Amount:    totalNet,
		Cut:       totalCut,
		Timestamp: e.cfg.Clock(),
	})
	return nil
}

// ClaimFee pays the calling roster member their own share once the venue's
// contract period has elapsed. The maturity check is a lazy predicate against
// the clock, not a stored flag.
func (e *Engine) ClaimFee(ctx context.Context, caller string) error {
	if err := e.enter(); err != nil {
		return err
	}
	defer e.exit()

	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.members[caller]
	if !ok || !m.approved {
		return fmt.Errorf("%w: %s is not an approved underwriter", protocol.ErrUnauthorized, caller)
	}
	if !e.matured() {
		return fmt.Errorf("%w: contract period has not elapsed", protocol.ErrState)
	}
	if m.feeClaimed {
		return fmt.Errorf("%w: fee already claimed", protocol.ErrState)
	}

	share := money.ProRata(e.escrowBase, m.stake, e.totalStake)
	if share > e.escrow {
		return fmt.Errorf("%w: escrow %d cannot cover share %d", protocol.ErrInsufficientEscrow, e.escrow, share)
	}
	net, cut := money.TakeCut(share, e.cfg.ProtocolFeeBPS)

	if net > 0 && !e.token.Transfer(e.address, caller, net) {
		return fmt.Errorf("%w: fee payout to %s", protocol.ErrTransferFailed, caller)
	}
	if cut > 0 && !e.token.Transfer(e.address, e.cfg.Treasury, cut) {
		return fmt.Errorf("%w: protocol cut to treasury", protocol.ErrTransferFailed)
	}
	m.feeClaimed = true
	e.escrow -= share

	_ = e.pub.Publish(ctx, events.VenueFeeClaimed, events.PayoutEvent{
		ID:        uuid.New(),
		VenueID:   e.venueID,
		Recipient: caller,
		Amount:    net,
		Cut:       cut,
		Timestamp: e.cfg.Clock(),
	})
	return nil
}

func (e *Engine) matured() bool {
	elapsed := e.cfg.Clock().Sub(e.createdAt)
	return elapsed >= time.Duration(e.totalMonths)*e.cfg.PeriodLength
}

// Matured reports whether the venue's contract period has elapsed.
func (e *Engine) Matured() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.matured()
}

// Report returns the report for a month.
func (e *Engine) Report(month int) (Report, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if month < 1 || month > len(e.reports) {
		return Report{}, fmt.Errorf("%w: no report for month %d", protocol.ErrNotFound, month)
	}
	return e.reports[month-1], nil
}

// Summary is the venue's aggregate performance.
type Summary struct {
	TotalExpected      int64 `json:"total_expected"`
	TotalCollected     int64 `json:"total_collected"`
	Gap                int64 `json:"gap"`
	TotalLiabilityPaid int64 `json:"total_liability_paid"`
}

// PerformanceSummary returns the venue's running totals.
func (e *Engine) PerformanceSummary() Summary {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return Summary{
		TotalExpected:      e.totalExpected,
		TotalCollected:     e.totalCollected,
		Gap:                e.totalExpected - e.totalCollected,
		TotalLiabilityPaid: e.totalLiabilityPaid,
	}
}

// RosterEntry is a read-only view of one local roster member.
type RosterEntry struct {
	Address    string `json:"address"`
	Stake      int64  `json:"stake"`
	Approved   bool   `json:"approved"`
	FeeClaimed bool   `json:"fee_claimed"`
}

// Roster returns the local roster in insertion order.
func (e *Engine) Roster() []RosterEntry {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]RosterEntry, 0, len(e.roster))
	for _, addr := range e.roster {
		m := e.members[addr]
		out = append(out, RosterEntry{Address: addr, Stake: m.stake, Approved: m.approved, FeeClaimed: m.feeClaimed})
	}
	return out
}

// CurrentMonth is the next month awaiting a report.
func (e *Engine) CurrentMonth() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.currentMonth
}

// Escrow is the undistributed fee balance.
func (e *Engine) Escrow() int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.escrow
}

// FeesDistributed reports whether the one-shot distribution already ran.
func (e *Engine) FeesDistributed() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.feesDistributed
}

// TotalOwnerDeposits is the cumulative revenue the owner pushed to the vault
// through this engine.
func (e *Engine) TotalOwnerDeposits() int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.totalOwnerDeposits
}

// Address returns the engine's escrow token address.
func (e *Engine) Address() string { return e.address }

// VenueID returns the venue this engine guards.
func (e *Engine) VenueID() string { return e.venueID }
