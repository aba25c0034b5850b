package lrc

import (
	"github.com/lightningnetwork/lnd/lnwire"
)

// LocalResourceManager is an interface representing an entity that tracks
// the reputation of channel peers based on HTLC forwarding behavior.
type LocalResourceManager interface {
	// ForwardHTLC updates the reputation manager to reflect that a
	// proposed HTLC has been forwarded. It requires the forwarding
	// restrictions of the outgoing channel to implement bucketing
	// appropriately.
	ForwardHTLC(proposed *ProposedHTLC, chanInfo *ChannelInfo) (
		*ForwardDecision, error)

	// ResolveHTLC updates the reputation manager to reflect that an
	// in-flight HTLC has been resolved. It returns the in-flight HTLC as
	// tracked by the manager, and will error if the HTLC is not found.
	//
	// Note that this API expects resolutions to be reported for *all*
	// HTLCs, even if the forwarding decision was that we have no
	// resources for the forward - this function must still be used to
	// indicate that the HTLC has been cleared from our state (as it would
	// have been locked in on our incoming link).
	ResolveHTLC(resolved *ResolvedHTLC) (*InFlightHTLC, error)
}

// ResourceBucketer implements basic resource bucketing for local resource
// conservation.
type ResourceBucketer interface {
	// AddHTLC poses a HTLC to the resource manager for addition to its
	// appropriate bucket. If there is space for the HTLC, this call will
	// update internal state and return true. If the bucket is full, it
	// will return false and state will remain unchanged.
	AddHTLC(protected bool, amount lnwire.MilliSatoshi) bool

	// RemoveHTLC updates the resource manager to remove an in-flight
	// HTLC from its appropriate bucket. Note that this must *only* be
	// called for HTLCs that were added with a true response from AddHTLC.
	RemoveHTLC(protected bool, amount lnwire.MilliSatoshi) error
}

// ReputationMonitor represents the tracking of reputation for links
// forwarding HTLCs.
type ReputationMonitor interface {
	// AddInFlight updates the reputation monitor for an incoming link to
	// reflect that it currently has an outstanding forwarded HTLC.
	AddInFlight(proposed *ProposedHTLC,
		outgoingDecision ForwardOutcome) error

	// ResolveInFlight updates the reputation monitor to resolve a
	// previously in-flight HTLC.
	ResolveInFlight(resolved *ResolvedHTLC) (*InFlightHTLC, error)

	// IncomingReputation returns the details of a reputation monitor's
	// current standing.
	IncomingReputation() IncomingReputation
}

// TargetMonitor represents the tracking of forwarding revenue for targeted
// outgoing links.
type TargetMonitor interface {
	// AddInFlight proposes the addition of a HTLC to the outgoing
	// channel, returning a forwarding decision for the HTLC based on its
	// endorsement and the reputation of the incoming link.
	AddInFlight(incomingReputation IncomingReputation,
		proposed *ProposedHTLC) (*ForwardDecision, error)

	// ResolveInFlight removes a HTLC from the outgoing channel.
	ResolveInFlight(resolved *ResolvedHTLC, inFlight *InFlightHTLC) error
}

// ForwardDecision contains the action that should be taken for forwarding a
// HTLC and debugging details of the values used.
type ForwardDecision struct {
	// ReputationCheck contains the numerical values used in making a
	// reputation decision.
	ReputationCheck

	// ForwardOutcome is the action that the caller should take.
	ForwardOutcome
}

// ReputationCheck provides the reputation scores that are used to make a
// forwarding decision for a HTLC. These are surfaced for the sake of
// debugging and simulation, and wouldn't be used much in a production
// implementation.
type ReputationCheck struct {
	// IncomingReputation represents the reputation that has been built
	// up by the incoming link, and any outstanding risk that it poses to
	// us.
	IncomingReputation

	// OutgoingRevenue represents the cost of using the outgoing link,
	// evaluated based on how valuable it has been to us in the past.
	OutgoingRevenue float64

	// HTLCRisk represents the risk of the newly proposed HTLC, should it
	// be used to jam our channel for its full expiry time.
	HTLCRisk float64
}

// SufficientReputation returns a boolean indicating whether a HTLC meets the
// reputation bar to be forwarded with endorsement.
func (r *ReputationCheck) SufficientReputation() bool {
	return r.IncomingRevenue > r.OutgoingRevenue+r.InFlightRisk+
		r.HTLCRisk
}

// IncomingReputation describes the reputation standing of an incoming link.
type IncomingReputation struct {
	// IncomingRevenue represents the reputation that the forwarding
	// channel has accrued over time.
	IncomingRevenue float64

	// InFlightRisk represents the outstanding risk of all of the
	// forwarding party's currently in-flight HTLCs.
	InFlightRisk float64
}

// ForwardOutcome represents the various forwarding outcomes for a proposed
// HTLC forward.
type ForwardOutcome int

const (
	// ForwardOutcomeNoResources means that a HTLC should be dropped
	// because the resource bucket that it qualifies for is full.
	ForwardOutcomeNoResources ForwardOutcome = iota

	// ForwardOutcomeUnendorsed means that the HTLC should be forwarded
	// but not endorsed.
	ForwardOutcomeUnendorsed

	// ForwardOutcomeEndorsed means that the HTLC should be forwarded
	// with a positive endorsement signal.
	ForwardOutcomeEndorsed
)

// String returns a human readable representation of a forward outcome.
func (f ForwardOutcome) String() string {
	switch f {
	case ForwardOutcomeNoResources:
		return "no resources"

	case ForwardOutcomeUnendorsed:
		return "unendorsed"

	case ForwardOutcomeEndorsed:
		return "endorsed"

	default:
		return "unknown"
	}
}
