package lrc

import (
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/stretchr/testify/require"
)

var (
	chan1 = lnwire.NewShortChanIDFromInt(1)
	chan2 = lnwire.NewShortChanIDFromInt(2)
	chan3 = lnwire.NewShortChanIDFromInt(3)
)

// newTestManager returns a manager with channels 1 and 2
// registered, along with the test clock that drives it.
func newTestManager(t *testing.T) (*ResourceManager, *clock.TestClock) {
	t.Helper()

	testClock := clock.NewTestClock(testTime)

	cfg := DefaultManagerConfig()
	cfg.Clock = testClock

	manager, err := NewResourceManager(cfg)
	require.NoError(t, err)

	chanInfo := &ChannelInfo{
		InFlightHTLCLimit:      483,
		InFlightLiquidityLimit: 100_000_000,
	}
	require.NoError(t, manager.AddChannel(chan1, chanInfo))
	require.NoError(t, manager.AddChannel(chan2, chanInfo))

	return manager, testClock
}

// TestManagerConfigValidation tests rejection of configurations that cannot
// produce well defined reputation values.
func TestManagerConfigValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		mutate      func(*ManagerConfig)
		expectedErr error
	}{
		{
			name: "protected percentage",
			mutate: func(cfg *ManagerConfig) {
				cfg.ProtectedPercentage = 101
			},
			expectedErr: ErrProtectedPercentage,
		},
		{
			name: "zero resolution period",
			mutate: func(cfg *ManagerConfig) {
				cfg.ResolutionPeriod = 0
			},
			expectedErr: ErrResolutionPeriod,
		},
		{
			name: "zero block time",
			mutate: func(cfg *ManagerConfig) {
				cfg.BlockTime = 0
			},
			expectedErr: ErrBlockTime,
		},
		{
			name: "zero revenue window",
			mutate: func(cfg *ManagerConfig) {
				cfg.RevenueWindow = 0
			},
			expectedErr: ErrRevenueWindow,
		},
		{
			name: "zero reputation multiplier",
			mutate: func(cfg *ManagerConfig) {
				cfg.ReputationMultiplier = 0
			},
			expectedErr: ErrRevenueWindow,
		},
	}

	for _, testCase := range tests {
		testCase := testCase

		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			cfg := DefaultManagerConfig()
			testCase.mutate(cfg)

			_, err := NewResourceManager(cfg)
			require.ErrorIs(t, err, testCase.expectedErr)
		})
	}
}

// TestManagerAddChannel tests channel registration with the manager.
func TestManagerAddChannel(t *testing.T) {
	t.Parallel()

	manager, _ := newTestManager(t)

	err := manager.AddChannel(chan1, &ChannelInfo{
		InFlightHTLCLimit:      483,
		InFlightLiquidityLimit: 100_000_000,
	})
	require.ErrorIs(t, err, ErrChannelExists)

	// Channel restrictions are validated when the bucket is created.
	err = manager.AddChannel(chan3, &ChannelInfo{
		InFlightHTLCLimit:      500,
		InFlightLiquidityLimit: 100_000_000,
	})
	require.ErrorIs(t, err, ErrProtocolLimit)
}

// TestManagerForwardGuards tests the guards applied to proposed HTLCs
// before any decision is made.
func TestManagerForwardGuards(t *testing.T) {
	t.Parallel()

	manager, _ := newTestManager(t)

	// Amounts above the protocol maximum are rejected outright.
	htlc := testProposedHTLC(0, EndorsementFalse)
	htlc.OutgoingAmount = MaxMilliSatoshi + 1
	_, err := manager.ForwardHTLC(htlc, nil)
	require.ErrorIs(t, err, ErrAmountAboveMax)

	// Both the incoming and outgoing channel must be registered.
	htlc = testProposedHTLC(0, EndorsementFalse)
	htlc.IncomingChannel = chan3
	_, err = manager.ForwardHTLC(htlc, nil)
	require.ErrorIs(t, err, ErrChannelNotFound)

	htlc = testProposedHTLC(0, EndorsementFalse)
	htlc.OutgoingChannel = chan3
	_, err = manager.ForwardHTLC(htlc, nil)
	require.ErrorIs(t, err, ErrChannelNotFound)
}

// TestManagerForwardResolve tests the lifecycle of forwards through the
// manager, and that resolved fees feed the incoming link's reputation.
func TestManagerForwardResolve(t *testing.T) {
	t.Parallel()

	manager, testClock := newTestManager(t)

	// A fresh channel has no reputation, so even an endorsed HTLC is
	// forwarded unendorsed.
	htlc := testProposedHTLC(0, EndorsementTrue)
	decision, err := manager.ForwardHTLC(htlc, nil)
	require.NoError(t, err)
	require.Equal(t, ForwardOutcomeUnendorsed, decision.ForwardOutcome)

	// An instant endorsed settle books the fee twice over (2000 msat)
	// as incoming revenue.
	inFlight, err := manager.ResolveHTLC(&ResolvedHTLC{
		TimestampSettled: testClock.Now(),
		IncomingIndex:    0,
		IncomingChannel:  chan1,
		OutgoingChannel:  chan2,
		Success:          true,
	})
	require.NoError(t, err)
	require.Equal(t, htlc, inFlight.ProposedHTLC)

	// A small endorsed HTLC now clears the reputation bar: revenue of
	// 2000 msat against 1000 msat of outgoing revenue plus 400 msat of
	// risk.
	smallHTLC := testProposedHTLC(1, EndorsementTrue)
	smallHTLC.IncomingAmount = 1001
	smallHTLC.OutgoingAmount = 1000
	smallHTLC.CltvExpiryDelta = 1

	decision, err = manager.ForwardHTLC(smallHTLC, nil)
	require.NoError(t, err)
	require.Equal(t, ForwardOutcomeEndorsed, decision.ForwardOutcome)
	require.InDelta(t, 2000, decision.IncomingRevenue, 1e-6)
	require.InDelta(t, 400, decision.HTLCRisk, 1e-6)

	_, err = manager.ResolveHTLC(&ResolvedHTLC{
		TimestampSettled: testClock.Now(),
		IncomingIndex:    1,
		IncomingChannel:  chan1,
		OutgoingChannel:  chan2,
		Success:          true,
	})
	require.NoError(t, err)
}

// TestManagerResolveIntegrity tests the cross-checks applied to HTLC
// resolutions.
func TestManagerResolveIntegrity(t *testing.T) {
	t.Parallel()

	manager, testClock := newTestManager(t)

	// Resolving a HTLC that was never admitted fails.
	_, err := manager.ResolveHTLC(&ResolvedHTLC{
		TimestampSettled: testClock.Now(),
		IncomingIndex:    99,
		IncomingChannel:  chan1,
		OutgoingChannel:  chan2,
		Success:          true,
	})
	require.ErrorIs(t, err, ErrResolutionNotFound)

	// Resolutions must reference the channel the HTLC was forwarded on.
	htlc := testProposedHTLC(5, EndorsementFalse)
	_, err = manager.ForwardHTLC(htlc, nil)
	require.NoError(t, err)

	_, err = manager.ResolveHTLC(&ResolvedHTLC{
		TimestampSettled: testClock.Now(),
		IncomingIndex:    5,
		IncomingChannel:  chan1,
		OutgoingChannel:  chan3,
		Success:          true,
	})
	require.ErrorIs(t, err, ErrChannelMismatch)
}

// TestManagerResolveDropped tests that HTLCs dropped for lack of resources
// must still be cleared from the incoming link's state, but cannot settle
// against the outgoing channel.
func TestManagerResolveDropped(t *testing.T) {
	t.Parallel()

	manager, testClock := newTestManager(t)

	// Register a channel whose general bucket cannot hold the proposed
	// HTLC's amount.
	require.NoError(t, manager.AddChannel(chan3, &ChannelInfo{
		InFlightHTLCLimit:      2,
		InFlightLiquidityLimit: 1_000,
	}))

	htlc := testProposedHTLC(0, EndorsementFalse)
	htlc.OutgoingChannel = chan3

	decision, err := manager.ForwardHTLC(htlc, nil)
	require.NoError(t, err)
	require.Equal(t, ForwardOutcomeNoResources, decision.ForwardOutcome)

	_, err = manager.ResolveHTLC(&ResolvedHTLC{
		TimestampSettled: testClock.Now(),
		IncomingIndex:    0,
		IncomingChannel:  chan1,
		OutgoingChannel:  chan3,
		Success:          false,
	})
	require.ErrorIs(t, err, ErrResolveDroppedHTLC)
}

// TestManagerReputationDecay tests that reputation earned by an incoming
// link decays over time.
func TestManagerReputationDecay(t *testing.T) {
	t.Parallel()

	manager, testClock := newTestManager(t)

	htlc := testProposedHTLC(0, EndorsementFalse)
	_, err := manager.ForwardHTLC(htlc, nil)
	require.NoError(t, err)

	_, err = manager.ResolveHTLC(&ResolvedHTLC{
		TimestampSettled: testClock.Now(),
		IncomingIndex:    0,
		IncomingChannel:  chan1,
		OutgoingChannel:  chan2,
		Success:          true,
	})
	require.NoError(t, err)

	// Half of the reputation window halves the earned revenue.
	testClock.SetTime(testTime.Add(
		DefaultRevenueWindow * DefaultReputationMultiplier / 2,
	))

	decision, err := manager.ForwardHTLC(
		testProposedHTLC(1, EndorsementFalse), nil,
	)
	require.NoError(t, err)
	require.InDelta(t, 500, decision.IncomingRevenue, 1e-6)
}

// TestManagerStartStop tests the manager's lifecycle with a summary ticker.
func TestManagerStartStop(t *testing.T) {
	t.Parallel()

	testClock := clock.NewTestClock(testTime)
	summaryTicker := ticker.NewForce(time.Hour)

	cfg := DefaultManagerConfig()
	cfg.Clock = testClock
	cfg.SummaryTicker = summaryTicker

	manager, err := NewResourceManager(cfg)
	require.NoError(t, err)

	require.NoError(t, manager.AddChannel(chan1, &ChannelInfo{
		InFlightHTLCLimit:      483,
		InFlightLiquidityLimit: 100_000_000,
	}))

	require.NoError(t, manager.Start())
	summaryTicker.Force <- testTime
	require.NoError(t, manager.Stop())
}
