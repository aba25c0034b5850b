package lrc

import (
	"errors"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	lfn "github.com/lightningnetwork/lnd/fn"
)

// ErrResolutionNotFound is returned when a HTLC is resolved against an
// incoming channel that has no matching in-flight entry for it.
var ErrResolutionNotFound = errors.New("resolved htlc not found in flight")

// ReputationTracker tracks the reputation that a single incoming channel has
// accrued with the local node, along with the set of HTLCs it currently has
// in flight.
//
// The tracker is not internally synchronized; the resource manager
// serializes access per channel.
type ReputationTracker struct {
	clock clock.Clock

	// revenue tracks the effective fees that the channel has earned the
	// local node, decayed over the reputation window.
	revenue *DecayingAverage

	// inFlightHTLCs holds the HTLCs that have been admitted but not yet
	// resolved, keyed by their index on the incoming channel.
	inFlightHTLCs map[uint32]*InFlightHTLC

	// blockTime is the expected time to find a block, surfaced to
	// account for simulation scenarios where this isn't 10 minutes.
	blockTime time.Duration

	// resolutionPeriod is the amount of time that we reasonably expect
	// a HTLC to resolve in.
	resolutionPeriod time.Duration
}

// newReputationTracker creates a reputation tracker that assesses fees over
// the reputation window provided, optionally starting from a previously
// tracked revenue value.
func newReputationTracker(clock clock.Clock, reputationWindow time.Duration,
	blockTime, resolutionPeriod time.Duration,
	startValue lfn.Option[DecayingAverageStart]) *ReputationTracker {

	return &ReputationTracker{
		clock: clock,
		revenue: NewDecayingAverage(
			clock, reputationWindow, startValue,
		),
		inFlightHTLCs:    make(map[uint32]*InFlightHTLC),
		blockTime:        blockTime,
		resolutionPeriod: resolutionPeriod,
	}
}

// outstandingRisk returns the notional cost of a forward being held until
// its full expiry: the HTLC's fee scaled by its maximum hold time, expressed
// in terms of resolution periods.
func outstandingRisk(blockTime time.Duration, htlc *ProposedHTLC,
	resolutionPeriod time.Duration) float64 {

	return (float64(htlc.ForwardingFee()) *
		float64(htlc.CltvExpiryDelta) * blockTime.Seconds() * 60) /
		resolutionPeriod.Seconds()
}

// inFlightHTLCRisk returns the total outstanding risk of the channel's
// currently in-flight HTLCs. Only endorsed HTLCs contribute risk; the
// incoming link did not stake its reputation on unendorsed forwards.
func (r *ReputationTracker) inFlightHTLCRisk() float64 {
	var inFlightRisk float64
	for _, htlc := range r.inFlightHTLCs {
		if htlc.IncomingEndorsed != EndorsementTrue {
			continue
		}

		inFlightRisk += outstandingRisk(
			r.blockTime, htlc.ProposedHTLC, r.resolutionPeriod,
		)
	}

	return inFlightRisk
}

// effectiveFees returns the fees that a resolved HTLC contributes to the
// channel's reputation, accounting for the opportunity cost of the time it
// was held:
//   - Endorsed HTLCs always pay their opportunity cost, as the incoming
//     link staked its reputation on them; fast endorsed settles earn a
//     bonus because the cost goes negative.
//   - Unendorsed HTLCs only earn their fee when they settle within the
//     resolution period, and are never penalized.
func effectiveFees(resolutionPeriod time.Duration, timestampSettled time.Time,
	htlc *InFlightHTLC, success bool) float64 {

	resolutionSeconds := timestampSettled.Sub(
		htlc.TimestampAdded,
	).Seconds()
	periodSeconds := resolutionPeriod.Seconds()
	fee := float64(htlc.ForwardingFee())

	opportunityCost := (resolutionSeconds - periodSeconds) /
		periodSeconds * fee

	switch {
	case htlc.IncomingEndorsed == EndorsementTrue && success:
		return fee - opportunityCost

	case htlc.IncomingEndorsed == EndorsementTrue:
		return -opportunityCost

	case success && resolutionSeconds <= periodSeconds:
		return fee

	default:
		return 0
	}
}

// AddInFlight records a HTLC that has been admitted on the incoming channel
// along with the resource allocation assigned to it. If an entry already
// exists for the HTLC's incoming index, it is replaced; the caller is
// responsible for index uniqueness at the protocol layer.
func (r *ReputationTracker) AddInFlight(proposed *ProposedHTLC,
	outgoingDecision ForwardOutcome) error {

	r.inFlightHTLCs[proposed.IncomingIndex] = &InFlightHTLC{
		TimestampAdded:   r.clock.Now(),
		OutgoingDecision: outgoingDecision,
		ProposedHTLC:     proposed,
	}

	return nil
}

// ResolveInFlight removes a HTLC from the tracker's in-flight state, adding
// the effective fees of its resolution to the channel's reputation. It
// returns the in-flight HTLC that was removed, failing if no entry is found
// for the resolution's incoming index.
func (r *ReputationTracker) ResolveInFlight(resolved *ResolvedHTLC) (
	*InFlightHTLC, error) {

	inFlight, ok := r.inFlightHTLCs[resolved.IncomingIndex]
	if !ok {
		return nil, ErrResolutionNotFound
	}
	delete(r.inFlightHTLCs, resolved.IncomingIndex)

	r.revenue.Add(effectiveFees(
		r.resolutionPeriod, resolved.TimestampSettled, inFlight,
		resolved.Success,
	))

	return inFlight, nil
}

// IncomingReputation returns the channel's current reputation standing.
func (r *ReputationTracker) IncomingReputation() IncomingReputation {
	return IncomingReputation{
		IncomingRevenue: r.revenue.Value(),
		InFlightRisk:    r.inFlightHTLCRisk(),
	}
}

// A compile-time check to ensure that ReputationTracker fully implements the
// ReputationMonitor interface.
var _ ReputationMonitor = (*ReputationTracker)(nil)
