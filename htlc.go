package lrc

import (
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/lightningnetwork/lnd/lnwire"
)

const (
	// MaxHTLCSlots is the largest number of HTLC slots a channel may
	// expose for in-flight HTLCs, as bounded by the protocol's commitment
	// transaction limits.
	MaxHTLCSlots = 483
)

var (
	// MaxMilliSatoshi is the largest HTLC amount that we will accept for
	// forwarding, expressed in milli-satoshi.
	MaxMilliSatoshi = lnwire.NewMSatFromSatoshis(
		btcutil.Amount(21_000_000),
	)
)

// Endorsement represents the endorsement signaling that is passed along with
// a HTLC.
type Endorsement uint8

const (
	// EndorsementNone indicates that the TLV was not present.
	EndorsementNone Endorsement = iota

	// EndorsementFalse indicates that the TLV was present with a zero
	// value.
	EndorsementFalse

	// EndorsementTrue indicates that the TLV was present with a non-zero
	// value.
	EndorsementTrue
)

// NewEndorsementSignal returns the endorsement value that we should signal
// for an outgoing HTLC.
func NewEndorsementSignal(endorse bool) Endorsement {
	if endorse {
		return EndorsementTrue
	}

	return EndorsementFalse
}

// String returns a human readable representation of an endorsement signal.
func (e Endorsement) String() string {
	switch e {
	case EndorsementNone:
		return "none"

	case EndorsementFalse:
		return "false"

	case EndorsementTrue:
		return "true"

	default:
		return "unknown"
	}
}

// ProposedHTLC provides information about a HTLC that has been locked in on
// our incoming channel, but not yet forwarded.
type ProposedHTLC struct {
	// IncomingChannel is the channel that has sent this HTLC to the local
	// node for forwarding.
	IncomingChannel lnwire.ShortChannelID

	// OutgoingChannel is the outgoing channel that the sending node has
	// requested.
	OutgoingChannel lnwire.ShortChannelID

	// IncomingIndex is the HTLC index on the incoming channel.
	IncomingIndex uint32

	// IncomingEndorsed indicates whether the incoming channel forwarded
	// this HTLC as endorsed.
	IncomingEndorsed Endorsement

	// IncomingAmount is the amount of the HTLC on the incoming channel.
	IncomingAmount lnwire.MilliSatoshi

	// OutgoingAmount is the amount of the HTLC on the outgoing channel.
	OutgoingAmount lnwire.MilliSatoshi

	// CltvExpiryDelta is the difference between the block height at which
	// the HTLC was forwarded and its outgoing CLTV expiry.
	CltvExpiryDelta uint32
}

// ForwardingFee returns the fee paid by a HTLC to be forwarded by the local
// node.
func (p *ProposedHTLC) ForwardingFee() lnwire.MilliSatoshi {
	return p.IncomingAmount - p.OutgoingAmount
}

// InFlightHTLC tracks a HTLC forward that is currently in flight.
type InFlightHTLC struct {
	// TimestampAdded is the time at which the incoming HTLC was added to
	// the incoming channel.
	TimestampAdded time.Time

	// OutgoingDecision indicates what resource allocation was assigned to
	// the outgoing HTLC.
	OutgoingDecision ForwardOutcome

	// ProposedHTLC contains the original details of the HTLC that was
	// forwarded to us.
	*ProposedHTLC
}

// ResolvedHTLC summarizes the resolution of an in-flight HTLC.
type ResolvedHTLC struct {
	// TimestampSettled is the time at which the HTLC was resolved.
	TimestampSettled time.Time

	// IncomingIndex is the HTLC ID on the incoming link.
	IncomingIndex uint32

	// IncomingChannel is the short channel ID of the channel that
	// originally forwarded the incoming HTLC.
	IncomingChannel lnwire.ShortChannelID

	// OutgoingIndex is the HTLC ID on the outgoing link. Note that HTLCs
	// that fail locally won't have this value assigned.
	OutgoingIndex uint32

	// OutgoingChannel is the short channel ID of the channel that
	// forwarded the outgoing HTLC.
	OutgoingChannel lnwire.ShortChannelID

	// Success is true if the HTLC was fulfilled.
	Success bool
}

// ChannelInfo provides information about a channel's routing restrictions.
type ChannelInfo struct {
	// InFlightHTLCLimit is the total number of HTLCs allowed in-flight.
	InFlightHTLCLimit uint64

	// InFlightLiquidityLimit is the total amount of liquidity allowed
	// in-flight.
	InFlightLiquidityLimit lnwire.MilliSatoshi
}
