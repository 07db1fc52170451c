package pool

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/terminal-bench/revguard/internal/protocol"
	"github.com/terminal-bench/revguard/pkg/money"
	"github.com/terminal-bench/revguard/shared/events"
)

// Assignment is the frozen underwriting of one venue: the ordered roster, its
// aggregate commitment, the escrowed assignment fee and the maturity date.
// The roster never changes after creation; per-underwriter commitments live
// in the ledger's composite-keyed stake index.
type Assignment struct {
	VenueID         string    `json:"venue_id"`
	Roster          []string  `json:"roster"`
	TotalCommitted  int64     `json:"total_committed"`
	Fee             int64     `json:"fee"`
	PromisedRevenue int64     `json:"promised_revenue"`
	EndDate         time.Time `json:"end_date"`
	Active          bool      `json:"active"`
}

// StakeRequest is one (underwriter, amount) pair of an assignment request.
type StakeRequest struct {
	Underwriter string `json:"underwriter"`
	Amount      int64  `json:"amount"`
}

// MinUnderwriters is the smallest roster an assignment accepts.
const MinUnderwriters = 2

// AssignVenue freezes the underwriting for a venue: it locks each requested
// stake, records the roster, pulls the assignment fee from the owner into the
// pool and activates the assignment with its maturity date. Only the venue
// owner may call it, and only once per venue.
func (l *Ledger) AssignVenue(ctx context.Context, caller, venueID string, reqs []StakeRequest, fee int64) error {
	if !l.registry.Exists(venueID) {
		return fmt.Errorf("%w: venue %s", protocol.ErrNotFound, venueID)
	}
	owner, err := l.registry.OwnerOf(venueID)
	if err != nil {
		return err
	}
	if caller != owner {
		return fmt.Errorf("%w: %s", protocol.ErrNotVenueOwner, caller)
	}
	if len(reqs) < MinUnderwriters {
		return fmt.Errorf("%w: need at least %d underwriters, got %d", protocol.ErrValidation, MinUnderwriters, len(reqs))
	}
	if fee < 0 {
		return fmt.Errorf("%w: negative fee", protocol.ErrValidation)
	}

	if err := l.enter(); err != nil {
		return err
	}
	defer l.exit()

	l.mu.Lock()
	defer l.mu.Unlock()

	if existing, ok := l.assignments[venueID]; ok && existing.Active {
		return fmt.Errorf("%w: venue %s already assigned", protocol.ErrState, venueID)
	}

	vaultAddr, err := l.registry.VaultOf(venueID)
	if err != nil {
		return err
	}
	promised, err := l.vaults.PromisedRevenue(vaultAddr)
	if err != nil {
		return err
	}
	months, err := l.vaults.TotalMonths(vaultAddr)
	if err != nil {
		return err
	}

	// Validate every leg before touching any balance.
	seen := make(map[string]bool, len(reqs))
	var total int64
	for _, req := range reqs {
		if req.Amount <= 0 {
			return fmt.Errorf("%w: zero stake for %s", protocol.ErrValidation, req.Underwriter)
		}
		if seen[req.Underwriter] {
			return fmt.Errorf("%w: duplicate underwriter %s", protocol.ErrValidation, req.Underwriter)
		}
		seen[req.Underwriter] = true

		acct, ok := l.accounts[req.Underwriter]
		if !ok {
			return fmt.Errorf("%w: underwriter %s is not registered", protocol.ErrUnauthorized, req.Underwriter)
		}
		if req.Amount > acct.Available {
			return fmt.Errorf("%w: %s has %d available, requested %d",
				protocol.ErrInsufficientStake, req.Underwriter, acct.Available, req.Amount)
		}
		total += req.Amount
	}
	if total < promised {
		return fmt.Errorf("%w: committed %d below promised revenue %d",
			protocol.ErrInsufficientStake, total, promised)
	}

	if fee > 0 && !l.token.TransferFrom(l.cfg.Address, owner, l.cfg.Address, fee) {
		return fmt.Errorf("%w: assignment fee from %s", protocol.ErrTransferFailed, owner)
	}

	roster := make([]string, 0, len(reqs))
	stakes := make([]int64, 0, len(reqs))
	for _, req := range reqs {
		acct := l.accounts[req.Underwriter]
		acct.Available -= req.Amount
		acct.Locked += req.Amount
		l.stakes[stakeKey{venueID, req.Underwriter}] = req.Amount
		roster = append(roster, req.Underwriter)
		stakes = append(stakes, req.Amount)
	}

	a := &Assignment{
		VenueID:         venueID,
		Roster:          roster,
		TotalCommitted:  total,
		Fee:             fee,
		PromisedRevenue: promised,
		EndDate:         l.cfg.Clock().Add(time.Duration(months) * l.cfg.PeriodLength),
		Active:          true,
	}
	l.assignments[venueID] = a

	_ = l.pub.Publish(ctx, events.VenueAssigned, events.AssignmentEvent{
		ID:              uuid.New(),
		VenueID:         venueID,
		Roster:          roster,
		Stakes:          stakes,
		TotalCommitted:  total,
		PromisedRevenue: promised,
		Fee:             fee,
		EndDate:         a.EndDate,
	})
	return nil
}

// SettleLiability covers a venue's revenue shortfall for one reported month
// from locked stake. Every roster member pays
// floor(missing * stake / totalCommitted); the truncation residual stays with
// the underwriters and is not redistributed. Funds move in one aggregated
// transfer from the pool to the venue's vault, and each member's settled
// total is recorded so maturity releases only what is still held.
func (l *Ledger) SettleLiability(ctx context.Context, venueID string, month int, missing int64) error {
	if err := money.ValidateAmount(missing); err != nil {
		return fmt.Errorf("%w: %v", protocol.ErrValidation, err)
	}
	if err := l.enter(); err != nil {
		return err
	}
	defer l.exit()

	l.mu.Lock()
	defer l.mu.Unlock()

	a, ok := l.assignments[venueID]
	if !ok {
		return fmt.Errorf("%w: no assignment for venue %s", protocol.ErrNotFound, venueID)
	}
	if !a.Active {
		return fmt.Errorf("%w: assignment for venue %s is not active", protocol.ErrState, venueID)
	}

	vaultAddr, err := l.registry.VaultOf(venueID)
	if err != nil {
		return err
	}

	// Compute and validate every share before any balance moves. A share
	// exceeding the member's locked stake means a duplicate or re-entrant
	// settlement slipped past the caller; refuse the whole operation.
	shares := make([]int64, len(a.Roster))
	var paid int64
	for i, member := range a.Roster {
		share := money.ProRata(missing, l.stakes[stakeKey{venueID, member}], a.TotalCommitted)
		acct := l.accounts[member]
		if share > acct.Locked {
			return fmt.Errorf("%w: share %d exceeds locked stake %d of %s",
				protocol.ErrInsufficientStake, share, acct.Locked, member)
		}
		shares[i] = share
		paid += share
	}

	if paid > 0 && !l.token.Transfer(l.cfg.Address, vaultAddr, paid) {
		return fmt.Errorf("%w: settlement to vault %s", protocol.ErrTransferFailed, vaultAddr)
	}

	for i, member := range a.Roster {
		acct := l.accounts[member]
		acct.Locked -= shares[i]
		acct.Total -= shares[i]
		l.settled[stakeKey{venueID, member}] += shares[i]
	}
	if err := l.vaults.RecordDeposit(vaultAddr, paid); err != nil {
		return err
	}

	_ = l.pub.Publish(ctx, events.LiabilitySettled, events.SettlementEvent{
		ID:        uuid.New(),
		VenueID:   venueID,
		Month:     month,
		Missing:   missing,
		Paid:      paid,
		Residual:  missing - paid,
		Timestamp: l.cfg.Clock(),
	})
	return nil
}

// ClaimFee releases the caller's locked commitment for a matured venue back
// to available and pays out their share of the assignment fee net of the
// protocol cut. Callable once per underwriter per venue.
func (l *Ledger) ClaimFee(ctx context.Context, caller, venueID string) error {
	if err := l.enter(); err != nil {
		return err
	}
	defer l.exit()

	l.mu.Lock()
	defer l.mu.Unlock()

	a, ok := l.assignments[venueID]
	if !ok {
		return fmt.Errorf("%w: no assignment for venue %s", protocol.ErrNotFound, venueID)
	}
	if l.cfg.Clock().Before(a.EndDate) {
		return fmt.Errorf("%w: venue %s matures at %s", protocol.ErrState, venueID, a.EndDate.Format(time.RFC3339))
	}
	key := stakeKey{venueID, caller}
	if l.claimed[key] {
		return fmt.Errorf("%w: %s already claimed for venue %s", protocol.ErrState, caller, venueID)
	}
	if !l.memberOf(a, caller) {
		return fmt.Errorf("%w: %s is not on the roster of venue %s", protocol.ErrUnauthorized, caller, venueID)
	}

	stake := l.stakes[key]
	// The fee share stays pro rata on the original commitment; settlements
	// reduce only what is still locked and comes back at maturity.
	release := stake - l.settled[key]
	feeShare := money.ProRata(a.Fee, stake, a.TotalCommitted)
	net, cut := money.TakeCut(feeShare, l.cfg.ProtocolFeeBPS)

	acct := l.accounts[caller]
	if release > acct.Locked {
		return fmt.Errorf("%w: release %d exceeds locked stake %d", protocol.ErrInsufficientStake, release, acct.Locked)
	}

	if net > 0 && !l.token.Transfer(l.cfg.Address, caller, net) {
		return fmt.Errorf("%w: fee payout to %s", protocol.ErrTransferFailed, caller)
	}
	if cut > 0 && !l.token.Transfer(l.cfg.Address, l.cfg.Treasury, cut) {
		return fmt.Errorf("%w: protocol cut to treasury", protocol.ErrTransferFailed)
	}

	acct.Locked -= release
	acct.Available += release
	l.stakes[key] = 0
	l.claimed[key] = true

	_ = l.pub.Publish(ctx, events.VenueFeeClaimed, events.PayoutEvent{
		ID:        uuid.New(),
		VenueID:   venueID,
		Recipient: caller,
		Amount:    net,
		Cut:       cut,
		Timestamp: l.cfg.Clock(),
	})
	return nil
}

func (l *Ledger) memberOf(a *Assignment, addr string) bool {
	for _, m := range a.Roster {
		if m == addr {
			return true
		}
	}
	return false
}

// Assignment returns a copy of the venue's assignment record.
func (l *Ledger) Assignment(venueID string) (Assignment, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	a, ok := l.assignments[venueID]
	if !ok {
		return Assignment{}, false
	}
	cp := *a
	cp.Roster = append([]string(nil), a.Roster...)
	return cp, true
}

// StakeAt returns an underwriter's current commitment at a venue.
func (l *Ledger) StakeAt(venueID, addr string) int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.stakes[stakeKey{venueID, addr}]
}

// Roster returns the venue's ordered roster.
func (l *Ledger) Roster(venueID string) ([]string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	a, ok := l.assignments[venueID]
	if !ok {
		return nil, false
	}
	return append([]string(nil), a.Roster...), true
}

// Matured reports whether the venue's contract period has elapsed.
func (l *Ledger) Matured(venueID string) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	a, ok := l.assignments[venueID]
	if !ok {
		return false, fmt.Errorf("%w: no assignment for venue %s", protocol.ErrNotFound, venueID)
	}
	return !l.cfg.Clock().Before(a.EndDate), nil
}

// CoverageRatio returns committed stake over promised revenue for a venue.
func (l *Ledger) CoverageRatio(venueID string) (float64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	a, ok := l.assignments[venueID]
	if !ok {
		return 0, fmt.Errorf("%w: no assignment for venue %s", protocol.ErrNotFound, venueID)
	}
	if a.PromisedRevenue == 0 {
		return 0, nil
	}
	return float64(a.TotalCommitted) / float64(a.PromisedRevenue), nil
}
