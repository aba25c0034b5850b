package lrc

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	lfn "github.com/lightningnetwork/lnd/fn"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/ticker"
)

var (
	// ErrChannelNotFound is returned when a HTLC references a channel
	// that has not been registered with the manager.
	ErrChannelNotFound = errors.New("channel not registered with manager")

	// ErrChannelExists is returned when a channel is registered with the
	// manager more than once.
	ErrChannelExists = errors.New("channel already registered with " +
		"manager")

	// ErrAmountAboveMax is returned when a proposed HTLC's outgoing
	// amount exceeds the protocol maximum.
	ErrAmountAboveMax = errors.New("htlc amount exceeds maximum " +
		"milli-satoshi")

	// ErrChannelMismatch is returned when a HTLC is resolved with an
	// outgoing channel that does not match its in-flight record.
	ErrChannelMismatch = errors.New("resolved htlc outgoing channel " +
		"does not match in-flight record")

	// ErrResolutionPeriod is returned when a manager is created with a
	// zero resolution period.
	ErrResolutionPeriod = errors.New("resolution period must be non-zero")

	// ErrBlockTime is returned when a manager is created with a zero
	// expected block time.
	ErrBlockTime = errors.New("block time must be non-zero")

	// ErrRevenueWindow is returned when a manager is created with a zero
	// revenue window or reputation multiplier, either of which leaves
	// the decay rate undefined.
	ErrRevenueWindow = errors.New("revenue window and reputation " +
		"multiplier must be non-zero")
)

const (
	// DefaultRevenueWindow is the default period over which the revenue
	// of outgoing links is examined.
	DefaultRevenueWindow = time.Hour

	// DefaultReputationMultiplier is the default multiplier on the
	// revenue window used to assess incoming link reputation.
	DefaultReputationMultiplier = 24

	// DefaultProtectedPercentage is the default percentage of liquidity
	// and slots that are reserved for high reputation, endorsed HTLCs.
	DefaultProtectedPercentage = 50

	// DefaultResolutionPeriod is the default amount of time that we
	// reasonably expect HTLCs to complete within.
	DefaultResolutionPeriod = time.Second * 90

	// DefaultBlockTime is the default expected block time.
	DefaultBlockTime = time.Minute * 10
)

// ManagerConfig contains the configuration for a resource manager.
type ManagerConfig struct {
	// RevenueWindow is the amount of time that we examine the revenue of
	// outgoing links over.
	RevenueWindow time.Duration

	// ReputationMultiplier is the multiplier on RevenueWindow that is
	// used to determine the longer period of time that incoming links'
	// reputation is assessed over.
	ReputationMultiplier uint8

	// ProtectedPercentage is the percentage of liquidity and slots that
	// are reserved for high reputation, endorsed HTLCs.
	ProtectedPercentage uint64

	// ResolutionPeriod is the amount of time that we reasonably expect
	// HTLCs to complete within.
	ResolutionPeriod time.Duration

	// BlockTime is the expected block time.
	BlockTime time.Duration

	// Clock provides the time source for reputation decay. If nil, the
	// wall clock is used.
	Clock clock.Clock

	// NewResourceBucketer creates the resource bucketer for a newly
	// registered channel. If nil, a BucketResourceManager sized to the
	// channel's restrictions is used. This is surfaced so that tests and
	// alternative bucketing policies can be substituted without touching
	// the decision algebra.
	NewResourceBucketer func(chanInfo *ChannelInfo) (ResourceBucketer,
		error)

	// SummaryTicker optionally drives periodic logging of each tracked
	// channel's reputation standing. If nil, no summaries are logged.
	SummaryTicker ticker.Ticker
}

// DefaultManagerConfig returns the manager configuration that is appropriate
// for nodes on the public network.
func DefaultManagerConfig() *ManagerConfig {
	return &ManagerConfig{
		RevenueWindow:        DefaultRevenueWindow,
		ReputationMultiplier: DefaultReputationMultiplier,
		ProtectedPercentage:  DefaultProtectedPercentage,
		ResolutionPeriod:     DefaultResolutionPeriod,
		BlockTime:            DefaultBlockTime,
	}
}

// validate checks that a configuration can produce well defined reputation
// values.
func (c *ManagerConfig) validate() error {
	if c.ProtectedPercentage > 100 {
		return ErrProtectedPercentage
	}

	if c.ResolutionPeriod == 0 {
		return ErrResolutionPeriod
	}

	if c.BlockTime == 0 {
		return ErrBlockTime
	}

	if c.RevenueWindow == 0 || c.ReputationMultiplier == 0 {
		return ErrRevenueWindow
	}

	return nil
}

// reputationWindow returns the period over which incoming links' reputation
// is assessed.
func (c *ManagerConfig) reputationWindow() time.Duration {
	return c.RevenueWindow * time.Duration(c.ReputationMultiplier)
}

// ResourceManager tracks the reputation of incoming channels and the revenue
// of outgoing channels, combining the two to allocate forwarding resources
// to proposed HTLCs.
type ResourceManager struct {
	started sync.Once
	stopped sync.Once

	cfg *ManagerConfig

	clock clock.Clock

	// channelReputation tracks the reputation of channels in their role
	// as the incoming link for forwards.
	channelReputation map[lnwire.ShortChannelID]*ReputationTracker

	// targetChannels tracks the revenue and resource allocation of
	// channels in their role as the outgoing link for forwards.
	targetChannels map[lnwire.ShortChannelID]*TargetChannelTracker

	// mtx serializes all access to tracker state. The bucketers carry
	// their own locks, so they remain safe when shared more widely.
	mtx sync.Mutex

	wg   sync.WaitGroup
	quit chan struct{}
}

// NewResourceManager creates a resource manager with the configuration
// provided, failing if the configuration cannot produce well defined
// reputation values.
func NewResourceManager(cfg *ManagerConfig) (*ResourceManager, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	managerClock := cfg.Clock
	if managerClock == nil {
		managerClock = clock.NewDefaultClock()
	}

	return &ResourceManager{
		cfg:   cfg,
		clock: managerClock,
		channelReputation: make(
			map[lnwire.ShortChannelID]*ReputationTracker,
		),
		targetChannels: make(
			map[lnwire.ShortChannelID]*TargetChannelTracker,
		),
		quit: make(chan struct{}),
	}, nil
}

// Start begins any background operation of the manager. The manager's entry
// points are usable whether or not it has been started.
func (m *ResourceManager) Start() error {
	m.started.Do(func() {
		log.Info("Starting local resource manager")

		if m.cfg.SummaryTicker != nil {
			m.cfg.SummaryTicker.Resume()

			m.wg.Add(1)
			go m.summaryLoop()
		}
	})

	return nil
}

// Stop signals the manager's background operation to gracefully exit.
func (m *ResourceManager) Stop() error {
	m.stopped.Do(func() {
		log.Info("Stopping local resource manager")

		close(m.quit)
		m.wg.Wait()

		if m.cfg.SummaryTicker != nil {
			m.cfg.SummaryTicker.Stop()
		}
	})

	return nil
}

// summaryLoop periodically logs the reputation standing of each tracked
// channel until the manager is stopped.
func (m *ResourceManager) summaryLoop() {
	defer m.wg.Done()

	for {
		select {
		case <-m.cfg.SummaryTicker.Ticks():
			m.logReputationSummary()

		case <-m.quit:
			return
		}
	}
}

// logReputationSummary logs the current standing of every incoming channel
// tracked by the manager.
func (m *ResourceManager) logReputationSummary() {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	for chanID, tracker := range m.channelReputation {
		reputation := tracker.IncomingReputation()

		log.Debugf("Channel %v: revenue=%.2f, in_flight_risk=%.2f, "+
			"in_flight_count=%v", chanID.ToUint64(),
			reputation.IncomingRevenue, reputation.InFlightRisk,
			len(tracker.inFlightHTLCs))
	}
}

// AddChannel registers a channel with the manager, creating the trackers
// that assess it as an incoming and an outgoing link. Forwards referencing
// identifiers that have not been registered will fail.
func (m *ResourceManager) AddChannel(channel lnwire.ShortChannelID,
	chanInfo *ChannelInfo) error {

	m.mtx.Lock()
	defer m.mtx.Unlock()

	_, haveReputation := m.channelReputation[channel]
	_, haveTarget := m.targetChannels[channel]
	if haveReputation || haveTarget {
		return fmt.Errorf("%w: %v", ErrChannelExists,
			channel.ToUint64())
	}

	buckets, err := m.newResourceBucketer(chanInfo)
	if err != nil {
		return err
	}

	m.channelReputation[channel] = newReputationTracker(
		m.clock, m.cfg.reputationWindow(), m.cfg.BlockTime,
		m.cfg.ResolutionPeriod,
		lfn.None[DecayingAverageStart](),
	)

	m.targetChannels[channel] = newTargetChannelTracker(
		m.clock, m.cfg.RevenueWindow, m.cfg.BlockTime,
		m.cfg.ResolutionPeriod,
		lfn.None[DecayingAverageStart](), buckets,
	)

	log.Debugf("Registered channel %v: liquidity_limit=%v, "+
		"htlc_limit=%v", channel.ToUint64(),
		chanInfo.InFlightLiquidityLimit, chanInfo.InFlightHTLCLimit)

	return nil
}

// newResourceBucketer creates the resource bucketer for a channel, using
// the configured constructor when one was provided.
func (m *ResourceManager) newResourceBucketer(chanInfo *ChannelInfo) (
	ResourceBucketer, error) {

	if m.cfg.NewResourceBucketer != nil {
		return m.cfg.NewResourceBucketer(chanInfo)
	}

	return NewBucketResourceManager(
		chanInfo.InFlightLiquidityLimit, chanInfo.InFlightHTLCLimit,
		m.cfg.ProtectedPercentage,
	)
}

// ForwardHTLC returns a forwarding decision for a proposed HTLC, recording
// it as in flight on the incoming channel whatever the outcome, including
// HTLCs that were dropped for lack of resources. The chanInfo
// argument surfaces the outgoing channel's forwarding restrictions per the
// LocalResourceManager contract; this implementation sizes its buckets when
// channels are registered and does not consult it again.
func (m *ResourceManager) ForwardHTLC(proposed *ProposedHTLC,
	chanInfo *ChannelInfo) (*ForwardDecision, error) {

	if proposed.OutgoingAmount > MaxMilliSatoshi {
		return nil, fmt.Errorf("%w: %v", ErrAmountAboveMax,
			proposed.OutgoingAmount)
	}

	m.mtx.Lock()
	defer m.mtx.Unlock()

	incoming, ok := m.channelReputation[proposed.IncomingChannel]
	if !ok {
		return nil, fmt.Errorf("%w: incoming %v",
			ErrChannelNotFound,
			proposed.IncomingChannel.ToUint64())
	}

	target, ok := m.targetChannels[proposed.OutgoingChannel]
	if !ok {
		return nil, fmt.Errorf("%w: outgoing %v",
			ErrChannelNotFound,
			proposed.OutgoingChannel.ToUint64())
	}

	decision, err := target.AddInFlight(
		incoming.IncomingReputation(), proposed,
	)
	if err != nil {
		return nil, err
	}

	// If we can't track the HTLC on the incoming side, release the
	// resources that were just booked for it so that the forward leaves
	// no state behind.
	err = incoming.AddInFlight(proposed, decision.ForwardOutcome)
	if err != nil {
		if decision.ForwardOutcome != ForwardOutcomeNoResources {
			if rollbackErr := target.rollbackInFlight(
				proposed, decision.ForwardOutcome,
			); rollbackErr != nil {
				log.Errorf("Unable to roll back resources "+
					"for %v(%v): %v",
					proposed.IncomingChannel.ToUint64(),
					proposed.IncomingIndex, rollbackErr)
			}
		}

		return nil, err
	}

	log.Debugf("Forward %v(%v) -> %v: %v",
		proposed.IncomingChannel.ToUint64(), proposed.IncomingIndex,
		proposed.OutgoingChannel.ToUint64(),
		decision.ForwardOutcome)

	return decision, nil
}

// ResolveHTLC updates the manager to reflect that an in-flight HTLC has
// been resolved, returning the HTLC as it was tracked. The resolution is
// cross-checked against the in-flight record: it must reference the
// outgoing channel the HTLC was forwarded on, and the HTLC must have had
// resources allocated to it.
func (m *ResourceManager) ResolveHTLC(resolved *ResolvedHTLC) (
	*InFlightHTLC, error) {

	m.mtx.Lock()
	defer m.mtx.Unlock()

	incoming, ok := m.channelReputation[resolved.IncomingChannel]
	if !ok {
		return nil, fmt.Errorf("%w: incoming %v",
			ErrChannelNotFound,
			resolved.IncomingChannel.ToUint64())
	}

	inFlight, err := incoming.ResolveInFlight(resolved)
	if err != nil {
		return nil, err
	}

	if inFlight.OutgoingDecision == ForwardOutcomeNoResources {
		return nil, ErrResolveDroppedHTLC
	}

	if inFlight.OutgoingChannel != resolved.OutgoingChannel {
		return nil, fmt.Errorf("%w: in-flight %v, resolved %v",
			ErrChannelMismatch,
			inFlight.OutgoingChannel.ToUint64(),
			resolved.OutgoingChannel.ToUint64())
	}

	// If no tracker is registered for the outgoing channel, the incoming
	// side has already settled and there is nothing left to release.
	target, ok := m.targetChannels[inFlight.OutgoingChannel]
	if ok {
		err := target.ResolveInFlight(resolved, inFlight)
		if err != nil {
			return nil, err
		}
	}

	log.Debugf("Resolved %v(%v): success=%v",
		resolved.IncomingChannel.ToUint64(), resolved.IncomingIndex,
		resolved.Success)

	return inFlight, nil
}

// A compile-time check to ensure that ResourceManager fully implements the
// LocalResourceManager interface.
var _ LocalResourceManager = (*ResourceManager)(nil)
