package lrc

import (
	"errors"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	lfn "github.com/lightningnetwork/lnd/fn"
)

// ErrResolveDroppedHTLC is returned when a HTLC that was dropped for lack
// of resources is resolved against an outgoing channel. Such HTLCs never
// occupied the outgoing channel's resources.
var ErrResolveDroppedHTLC = errors.New("htlc dropped for lack of " +
	"resources was never added to outgoing channel")

// TargetChannelTracker tracks the revenue that an outgoing channel earns
// the local node, and allocates its forwarding resources between protected
// and general buckets.
//
// The tracker is not internally synchronized; the resource manager
// serializes access per channel. The bucketer it holds carries its own
// synchronization, so a single bucketer may be shared by multiple trackers.
type TargetChannelTracker struct {
	// revenue tracks the forwarding fees that the channel has booked,
	// decayed over the revenue window.
	revenue *DecayingAverage

	// blockTime is the expected time to find a block.
	blockTime time.Duration

	// resolutionPeriod is the amount of time that we reasonably expect
	// a HTLC to resolve in.
	resolutionPeriod time.Duration

	// resourceBuckets allocates the channel's forwarding capacity.
	resourceBuckets ResourceBucketer
}

// newTargetChannelTracker creates a revenue tracker for an outgoing channel
// with the resource bucketer provided, optionally starting from a
// previously tracked revenue value.
func newTargetChannelTracker(clock clock.Clock, revenueWindow time.Duration,
	blockTime, resolutionPeriod time.Duration,
	startValue lfn.Option[DecayingAverageStart],
	resourceBuckets ResourceBucketer) *TargetChannelTracker {

	return &TargetChannelTracker{
		revenue: NewDecayingAverage(
			clock, revenueWindow, startValue,
		),
		blockTime:        blockTime,
		resolutionPeriod: resolutionPeriod,
		resourceBuckets:  resourceBuckets,
	}
}

// AddInFlight poses a HTLC to the outgoing channel, checking the incoming
// link's reputation against the value of the outgoing channel to determine
// whether it qualifies for protected resources. The returned decision
// carries the values used in the check for the sake of debugging.
func (t *TargetChannelTracker) AddInFlight(
	incomingReputation IncomingReputation,
	proposed *ProposedHTLC) (*ForwardDecision, error) {

	reputationCheck := ReputationCheck{
		IncomingReputation: incomingReputation,
		OutgoingRevenue:    t.revenue.Value(),
		HTLCRisk: outstandingRisk(
			t.blockTime, proposed, t.resolutionPeriod,
		),
	}

	// Only HTLCs that were forwarded to us as endorsed may access the
	// protected bucket, and only when the incoming link's reputation
	// covers the total risk of the forward.
	htlcProtected := reputationCheck.SufficientReputation() &&
		proposed.IncomingEndorsed == EndorsementTrue

	canForward := t.resourceBuckets.AddHTLC(
		htlcProtected, proposed.OutgoingAmount,
	)

	var outcome ForwardOutcome
	switch {
	case !canForward:
		outcome = ForwardOutcomeNoResources

	case htlcProtected:
		outcome = ForwardOutcomeEndorsed

	default:
		outcome = ForwardOutcomeUnendorsed
	}

	return &ForwardDecision{
		ReputationCheck: reputationCheck,
		ForwardOutcome:  outcome,
	}, nil
}

// ResolveInFlight removes a HTLC from the outgoing channel, booking its
// forwarding fee as revenue if it settled and releasing the resources it
// occupied. HTLCs that were dropped for lack of resources were never added
// to the channel, so resolving one here fails.
func (t *TargetChannelTracker) ResolveInFlight(resolved *ResolvedHTLC,
	inFlight *InFlightHTLC) error {

	if inFlight.OutgoingDecision == ForwardOutcomeNoResources {
		return ErrResolveDroppedHTLC
	}

	if resolved.Success {
		t.revenue.Add(float64(inFlight.ForwardingFee()))
	}

	// Endorsed HTLCs were admitted against the protected bucket, so
	// their release is a no-op, mirroring their admission.
	return t.resourceBuckets.RemoveHTLC(
		inFlight.OutgoingDecision == ForwardOutcomeEndorsed,
		inFlight.OutgoingAmount,
	)
}

// rollbackInFlight releases the resources that were just booked for a HTLC
// whose forward did not complete, restoring the bucket to its prior state.
func (t *TargetChannelTracker) rollbackInFlight(proposed *ProposedHTLC,
	outcome ForwardOutcome) error {

	return t.resourceBuckets.RemoveHTLC(
		outcome == ForwardOutcomeEndorsed, proposed.OutgoingAmount,
	)
}

// A compile-time check to ensure that TargetChannelTracker fully implements
// the TargetMonitor interface.
var _ TargetMonitor = (*TargetChannelTracker)(nil)
