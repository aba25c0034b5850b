package lrc

import (
	"errors"
	"math"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	lfn "github.com/lightningnetwork/lnd/fn"
)

// ErrUpdateInPast is returned when a value is added to a decaying average
// with a timestamp that precedes its last update.
var ErrUpdateInPast = errors.New("cannot add value before last update")

// DecayingAverageStart provides an optional starting state for a decaying
// average, used to warm-start reputation from previously observed values.
type DecayingAverageStart struct {
	// LastUpdate is the timestamp that the value was last updated at.
	LastUpdate time.Time

	// Value is the value of the average at LastUpdate.
	Value float64
}

// DecayingAverage tracks a value that is exponentially discounted over time,
// halving every period/2 seconds. Decay is applied lazily, whenever the
// value is read or written.
//
// The average is not internally synchronized; writes must be serialized by
// the caller so that its last update timestamp is monotonically
// non-decreasing. All time arithmetic is performed at second granularity.
type DecayingAverage struct {
	clock      clock.Clock
	lastUpdate time.Time
	value      float64
	decayRate  float64
}

// NewDecayingAverage creates a decaying average over the period provided,
// optionally starting off from a previously tracked value.
func NewDecayingAverage(clock clock.Clock, period time.Duration,
	startValue lfn.Option[DecayingAverageStart]) *DecayingAverage {

	average := &DecayingAverage{
		clock:      clock,
		lastUpdate: clock.Now(),
		decayRate:  calculateDecayRate(period),
	}

	startValue.WhenSome(func(start DecayingAverageStart) {
		if start.Value == 0 {
			return
		}

		average.lastUpdate = start.LastUpdate
		average.value = start.Value
	})

	return average
}

// calculateDecayRate returns the per-second rate at which a value tracked
// over the period provided loses relevance. The rate is chosen so that a
// value halves every period/2 seconds.
func calculateDecayRate(period time.Duration) float64 {
	return math.Pow(0.5, 2/period.Seconds())
}

// update applies decay for the seconds elapsed between the average's last
// update and the timestamp provided. Updates of less than a second are a
// no-op.
func (d *DecayingAverage) update(updateTime time.Time) {
	elapsed := updateTime.Sub(d.lastUpdate) / time.Second
	if elapsed <= 0 {
		return
	}

	d.value *= math.Pow(d.decayRate, float64(elapsed))
	d.lastUpdate = updateTime
}

// Value returns the current value of the average, decayed to the present.
func (d *DecayingAverage) Value() float64 {
	d.update(d.clock.Now())
	return d.value
}

// Add updates the current value of the average, applying any decay since the
// last update. The value added may be negative.
func (d *DecayingAverage) Add(value float64) {
	// The present can never precede our last update, so this cannot fail.
	_ = d.AddAtTime(value, d.clock.Now())
}

// AddAtTime updates the value of the average at a specific timestamp,
// applying decay for the time elapsed since the last update. It fails with
// ErrUpdateInPast if the timestamp provided precedes the last update.
func (d *DecayingAverage) AddAtTime(value float64,
	timestamp time.Time) error {

	if timestamp.Before(d.lastUpdate) {
		return ErrUpdateInPast
	}

	d.update(timestamp)
	d.value += value
	d.lastUpdate = timestamp

	return nil
}
