package pool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terminal-bench/revguard/internal/protocol"
	"github.com/terminal-bench/revguard/shared/events"
)

// capturePublisher records settlement events for payload assertions.
type capturePublisher struct {
	settlements []events.SettlementEvent
}

func (p *capturePublisher) Publish(_ context.Context, subject string, data interface{}) error {
	if subject == events.LiabilitySettled {
		p.settlements = append(p.settlements, data.(events.SettlementEvent))
	}
	return nil
}

// setupVenue registers a venue with a vault promising 1200 per month over 12
// months, owned by "owner".
func (f *fixture) setupVenue(t *testing.T) string {
	t.Helper()
	return f.setupVenueWith(t, 1200, 12)
}

func (f *fixture) setupVenueWith(t *testing.T, promised int64, months int) string {
	t.Helper()
	v, err := f.registry.Create(context.Background(), "club-aurora", "owner", "vault-aurora")
	require.NoError(t, err)
	_, err = f.vaults.Create(v.ID, "vault-aurora", promised, months)
	require.NoError(t, err)
	return v.ID
}

func TestAssignVenue(t *testing.T) {
	t.Run("locks stake and activates the assignment", func(t *testing.T) {
		f := newFixture(t)
		f.register(t, "uw1", 1000)
		f.register(t, "uw2", 1000)
		venueID := f.setupVenue(t)

		err := f.ledger.AssignVenue(context.Background(), "owner", venueID, []StakeRequest{
			{Underwriter: "uw1", Amount: 600},
			{Underwriter: "uw2", Amount: 700},
		}, 0)
		require.NoError(t, err)

		a, ok := f.ledger.Assignment(venueID)
		require.True(t, ok)
		assert.True(t, a.Active)
		assert.Equal(t, []string{"uw1", "uw2"}, a.Roster)
		assert.Equal(t, int64(1300), a.TotalCommitted)
		assert.Equal(t, int64(1200), a.PromisedRevenue)
		assert.Equal(t, f.now.Add(12*DefaultPeriodLength), a.EndDate)

		acct1, _ := f.ledger.Account("uw1")
		assert.Equal(t, int64(400), acct1.Available)
		assert.Equal(t, int64(600), acct1.Locked)
		assert.Equal(t, int64(600), f.ledger.StakeAt(venueID, "uw1"))
		checkInvariant(t, f.ledger, "uw1", "uw2")
	})

	t.Run("aggregate below promised revenue fails with no balance change", func(t *testing.T) {
		f := newFixture(t)
		f.register(t, "uw1", 1000)
		f.register(t, "uw2", 1000)
		venueID := f.setupVenue(t)

		err := f.ledger.AssignVenue(context.Background(), "owner", venueID, []StakeRequest{
			{Underwriter: "uw1", Amount: 600},
			{Underwriter: "uw2", Amount: 500},
		}, 0)
		assert.ErrorIs(t, err, protocol.ErrInsufficientStake)

		acct1, _ := f.ledger.Account("uw1")
		assert.Equal(t, int64(1000), acct1.Available)
		assert.Equal(t, int64(0), acct1.Locked)
		_, ok := f.ledger.Assignment(venueID)
		assert.False(t, ok)
	})

	t.Run("fewer than two underwriters", func(t *testing.T) {
		f := newFixture(t)
		f.register(t, "uw1", 2000)
		venueID := f.setupVenue(t)

		err := f.ledger.AssignVenue(context.Background(), "owner", venueID, []StakeRequest{
			{Underwriter: "uw1", Amount: 2000},
		}, 0)
		assert.ErrorIs(t, err, protocol.ErrValidation)
	})

	t.Run("unregistered underwriter", func(t *testing.T) {
		f := newFixture(t)
		f.register(t, "uw1", 1000)
		venueID := f.setupVenue(t)

		err := f.ledger.AssignVenue(context.Background(), "owner", venueID, []StakeRequest{
			{Underwriter: "uw1", Amount: 600},
			{Underwriter: "ghost", Amount: 700},
		}, 0)
		assert.ErrorIs(t, err, protocol.ErrUnauthorized)
	})

	t.Run("insufficient available stake", func(t *testing.T) {
		f := newFixture(t)
		f.register(t, "uw1", 500)
		f.register(t, "uw2", 1000)
		venueID := f.setupVenue(t)

		err := f.ledger.AssignVenue(context.Background(), "owner", venueID, []StakeRequest{
			{Underwriter: "uw1", Amount: 600},
			{Underwriter: "uw2", Amount: 700},
		}, 0)
		assert.ErrorIs(t, err, protocol.ErrInsufficientStake)
	})

	t.Run("only the venue owner may assign", func(t *testing.T) {
		f := newFixture(t)
		f.register(t, "uw1", 1000)
		f.register(t, "uw2", 1000)
		venueID := f.setupVenue(t)

		err := f.ledger.AssignVenue(context.Background(), "mallory", venueID, []StakeRequest{
			{Underwriter: "uw1", Amount: 600},
			{Underwriter: "uw2", Amount: 700},
		}, 0)
		assert.ErrorIs(t, err, protocol.ErrNotVenueOwner)
	})

	t.Run("at most one active assignment per venue", func(t *testing.T) {
		f := newFixture(t)
		f.register(t, "uw1", 2000)
		f.register(t, "uw2", 2000)
		venueID := f.setupVenue(t)

		stakes := []StakeRequest{
			{Underwriter: "uw1", Amount: 600},
			{Underwriter: "uw2", Amount: 700},
		}
		require.NoError(t, f.ledger.AssignVenue(context.Background(), "owner", venueID, stakes, 0))
		err := f.ledger.AssignVenue(context.Background(), "owner", venueID, stakes, 0)
		assert.ErrorIs(t, err, protocol.ErrState)
	})

	t.Run("unknown venue", func(t *testing.T) {
		f := newFixture(t)
		err := f.ledger.AssignVenue(context.Background(), "owner", "missing", nil, 0)
		assert.ErrorIs(t, err, protocol.ErrNotFound)
	})
}

func TestSettleLiability(t *testing.T) {
	setup := func(t *testing.T) (*fixture, string) {
		f := newFixture(t)
		f.register(t, "uw1", 1000)
		f.register(t, "uw2", 1000)
		venueID := f.setupVenueWith(t, 900, 12)
		require.NoError(t, f.ledger.AssignVenue(context.Background(), "owner", venueID, []StakeRequest{
			{Underwriter: "uw1", Amount: 600},
			{Underwriter: "uw2", Amount: 300},
		}, 0))
		return f, venueID
	}

	t.Run("debits locked stake proportionally", func(t *testing.T) {
		f, venueID := setup(t)

		require.NoError(t, f.ledger.SettleLiability(context.Background(), venueID, 1, 90))

		acct1, _ := f.ledger.Account("uw1")
		acct2, _ := f.ledger.Account("uw2")
		assert.Equal(t, int64(540), acct1.Locked)
		assert.Equal(t, int64(270), acct2.Locked)
		assert.Equal(t, int64(90), f.token.BalanceOf("vault-aurora"))
		checkInvariant(t, f.ledger, "uw1", "uw2")

		v, _ := f.vaults.ByAddress("vault-aurora")
		assert.Equal(t, int64(90), v.TotalReceived())
	})

	t.Run("floor division leaves the residual with underwriters", func(t *testing.T) {
		f, venueID := setup(t)

		require.NoError(t, f.ledger.SettleLiability(context.Background(), venueID, 1, 91))

		acct1, _ := f.ledger.Account("uw1")
		acct2, _ := f.ledger.Account("uw2")
		assert.Equal(t, int64(540), acct1.Locked)
		assert.Equal(t, int64(270), acct2.Locked)
		// only 90 of the 91 moved; the residual is not redistributed
		assert.Equal(t, int64(90), f.token.BalanceOf("vault-aurora"))
	})

	t.Run("no active assignment", func(t *testing.T) {
		f := newFixture(t)
		err := f.ledger.SettleLiability(context.Background(), "missing", 1, 90)
		assert.ErrorIs(t, err, protocol.ErrNotFound)
	})

	t.Run("share exceeding locked stake aborts with no movement", func(t *testing.T) {
		f, venueID := setup(t)

		// exhaust uw1's locked stake first
		require.NoError(t, f.ledger.SettleLiability(context.Background(), venueID, 1, 900))
		acct1, _ := f.ledger.Account("uw1")
		require.Equal(t, int64(0), acct1.Locked)

		err := f.ledger.SettleLiability(context.Background(), venueID, 2, 900)
		assert.ErrorIs(t, err, protocol.ErrInsufficientStake)

		acct1, _ = f.ledger.Account("uw1")
		acct2, _ := f.ledger.Account("uw2")
		assert.Equal(t, int64(0), acct1.Locked)
		assert.Equal(t, int64(0), acct2.Locked)
		assert.Equal(t, int64(900), f.token.BalanceOf("vault-aurora"))
	})

	t.Run("settlement event carries the settled month", func(t *testing.T) {
		f := newFixture(t)
		pub := &capturePublisher{}
		ledger := NewLedger(Config{
			Address:      poolAddr,
			Treasury:     treasury,
			PeriodLength: DefaultPeriodLength,
			Clock:        func() time.Time { return *f.now },
		}, f.token, f.registry, f.vaults, pub)

		f.fund(t, "uw1", 1000)
		f.fund(t, "uw2", 1000)
		require.NoError(t, ledger.Register(context.Background(), "uw1", 1000))
		require.NoError(t, ledger.Register(context.Background(), "uw2", 1000))
		venueID := f.setupVenueWith(t, 900, 12)
		require.NoError(t, ledger.AssignVenue(context.Background(), "owner", venueID, []StakeRequest{
			{Underwriter: "uw1", Amount: 600},
			{Underwriter: "uw2", Amount: 300},
		}, 0))

		require.NoError(t, ledger.SettleLiability(context.Background(), venueID, 3, 90))

		require.Len(t, pub.settlements, 1)
		ev := pub.settlements[0]
		assert.Equal(t, venueID, ev.VenueID)
		assert.Equal(t, 3, ev.Month)
		assert.Equal(t, int64(90), ev.Paid)
	})
}

func TestClaimFee(t *testing.T) {
	setup := func(t *testing.T) (*fixture, string) {
		f := newFixture(t)
		f.register(t, "uw1", 1000)
		f.register(t, "uw2", 1000)
		venueID := f.setupVenueWith(t, 900, 12)
		// owner funds the 100 assignment fee
		f.fund(t, "owner", 100)
		require.NoError(t, f.ledger.AssignVenue(context.Background(), "owner", venueID, []StakeRequest{
			{Underwriter: "uw1", Amount: 600},
			{Underwriter: "uw2", Amount: 300},
		}, 100))
		return f, venueID
	}

	t.Run("before maturity", func(t *testing.T) {
		f, venueID := setup(t)
		err := f.ledger.ClaimFee(context.Background(), "uw1", venueID)
		assert.ErrorIs(t, err, protocol.ErrState)
	})

	t.Run("after maturity releases stake and pays the net share", func(t *testing.T) {
		f, venueID := setup(t)
		*f.now = f.now.Add(12*DefaultPeriodLength + time.Second)

		require.NoError(t, f.ledger.ClaimFee(context.Background(), "uw1", venueID))

		acct1, _ := f.ledger.Account("uw1")
		assert.Equal(t, int64(0), acct1.Locked)
		assert.Equal(t, int64(1000), acct1.Available)
		checkInvariant(t, f.ledger, "uw1")

		// fee share: floor(100*600/900)=66, 5% cut floor(66*500/10000)=3
		assert.Equal(t, int64(63), f.token.BalanceOf("uw1"))
		assert.Equal(t, int64(3), f.token.BalanceOf(treasury))
		assert.Equal(t, int64(0), f.ledger.StakeAt(venueID, "uw1"))
	})

	t.Run("second claim is rejected", func(t *testing.T) {
		f, venueID := setup(t)
		*f.now = f.now.Add(12*DefaultPeriodLength + time.Second)

		require.NoError(t, f.ledger.ClaimFee(context.Background(), "uw1", venueID))
		err := f.ledger.ClaimFee(context.Background(), "uw1", venueID)
		assert.ErrorIs(t, err, protocol.ErrState)
	})

	t.Run("non-member cannot claim", func(t *testing.T) {
		f, venueID := setup(t)
		*f.now = f.now.Add(12*DefaultPeriodLength + time.Second)

		err := f.ledger.ClaimFee(context.Background(), "mallory", venueID)
		assert.ErrorIs(t, err, protocol.ErrUnauthorized)
	})

	t.Run("after a settlement releases only the unsettled remainder", func(t *testing.T) {
		f, venueID := setup(t)
		// month 1 shortfall: uw1 pays 60 of 90, uw2 pays 30
		require.NoError(t, f.ledger.SettleLiability(context.Background(), venueID, 1, 90))
		*f.now = f.now.Add(12*DefaultPeriodLength + time.Second)

		require.NoError(t, f.ledger.ClaimFee(context.Background(), "uw1", venueID))

		acct1, _ := f.ledger.Account("uw1")
		assert.Equal(t, int64(0), acct1.Locked)
		assert.Equal(t, int64(940), acct1.Available)
		assert.Equal(t, int64(940), acct1.Total)
		checkInvariant(t, f.ledger, "uw1")

		// the fee share still keys off the original 600 commitment
		assert.Equal(t, int64(63), f.token.BalanceOf("uw1"))
	})

	t.Run("settlement at one venue never unlocks another venue's stake", func(t *testing.T) {
		f := newFixture(t)
		f.register(t, "uw1", 1000)
		f.register(t, "uw2", 1000)
		venueA := f.setupVenueWith(t, 900, 12)
		vB, err := f.registry.Create(context.Background(), "club-borealis", "owner", "vault-borealis")
		require.NoError(t, err)
		_, err = f.vaults.Create(vB.ID, "vault-borealis", 900, 12)
		require.NoError(t, err)

		require.NoError(t, f.ledger.AssignVenue(context.Background(), "owner", venueA, []StakeRequest{
			{Underwriter: "uw1", Amount: 600},
			{Underwriter: "uw2", Amount: 300},
		}, 0))
		require.NoError(t, f.ledger.AssignVenue(context.Background(), "owner", vB.ID, []StakeRequest{
			{Underwriter: "uw1", Amount: 300},
			{Underwriter: "uw2", Amount: 600},
		}, 0))

		// uw1 pays 40 of the 60 shortfall at venue A
		require.NoError(t, f.ledger.SettleLiability(context.Background(), venueA, 1, 60))
		acct1, _ := f.ledger.Account("uw1")
		require.Equal(t, int64(860), acct1.Locked)

		*f.now = f.now.Add(12*DefaultPeriodLength + time.Second)
		require.NoError(t, f.ledger.ClaimFee(context.Background(), "uw1", venueA))

		// 600 - 40 settled came back; the 300 backing venue B stays locked
		acct1, _ = f.ledger.Account("uw1")
		assert.Equal(t, int64(300), acct1.Locked)
		assert.Equal(t, int64(660), acct1.Available)
		checkInvariant(t, f.ledger, "uw1", "uw2")
	})

	t.Run("maturity predicate", func(t *testing.T) {
		f, venueID := setup(t)

		matured, err := f.ledger.Matured(venueID)
		require.NoError(t, err)
		assert.False(t, matured)

		*f.now = f.now.Add(12 * DefaultPeriodLength)
		matured, err = f.ledger.Matured(venueID)
		require.NoError(t, err)
		assert.True(t, matured)
	})
}

func TestCoverageRatio(t *testing.T) {
	f := newFixture(t)
	f.register(t, "uw1", 1000)
	f.register(t, "uw2", 1000)
	venueID := f.setupVenueWith(t, 1000, 6)
	require.NoError(t, f.ledger.AssignVenue(context.Background(), "owner", venueID, []StakeRequest{
		{Underwriter: "uw1", Amount: 800},
		{Underwriter: "uw2", Amount: 700},
	}, 0))

	ratio, err := f.ledger.CoverageRatio(venueID)
	require.NoError(t, err)
	assert.InDelta(t, 1.5, ratio, 1e-9)
}
