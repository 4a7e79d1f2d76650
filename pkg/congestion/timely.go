// Package congestion implements the Timely RTT-gradient congestion
// controller used to pace outbound request/response traffic per session
// (spec.md §4.4).
//
// Timely adjusts a per-session sending rate from the gradient of measured
// RTT samples: rates climb additively while RTT stays below T_low, are cut
// multiplicatively once RTT exceeds T_high (or its gradient turns sharply
// positive), and a weighted-EWMA gradient smooths the HW-timestamped RTT
// samples against packet-processing jitter.
package congestion

import (
	"math"
	"sync"
	"time"
)

// Params are the Timely control-loop parameters (spec.md §12 decided
// defaults: T_low=50µs, T_high=1ms, additive increase=10Mbps, β=0.8,
// gain=0.25).
type Params struct {
	TLow                   time.Duration
	THigh                  time.Duration
	AdditiveIncreaseMbps   float64
	MultiplicativeDecrease float64
	Gain                   float64
	MinRateMbps            float64
	MaxRateMbps            float64
}

// DefaultParams returns the decided Timely defaults.
func DefaultParams() Params {
	return Params{
		TLow:                   50 * time.Microsecond,
		THigh:                  1 * time.Millisecond,
		AdditiveIncreaseMbps:   10,
		MultiplicativeDecrease: 0.8,
		Gain:                   0.25,
		MinRateMbps:            10,
		MaxRateMbps:            100_000,
	}
}

// Controller is a single session's Timely rate controller. It is safe for
// concurrent use.
type Controller struct {
	params Params

	mu         sync.Mutex
	rateMbps   float64
	lastRTT    time.Duration
	avgGradient float64
	lastUpdate time.Time
}

// NewController creates a Controller starting at the maximum configured
// rate, matching Timely's "start fast, back off on congestion" posture.
func NewController(params Params) *Controller {
	return &Controller{
		params:   params,
		rateMbps: params.MaxRateMbps,
	}
}

// RateMbps returns the current sending rate in megabits per second.
func (c *Controller) RateMbps() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rateMbps
}

// OnRTTSample feeds a new RTT measurement into the controller, updating the
// sending rate in place.
func (c *Controller) OnRTTSample(rtt time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()

	var gradient float64
	if !c.lastUpdate.IsZero() && c.lastRTT > 0 {
		gradient = float64(rtt-c.lastRTT) / float64(c.lastRTT)
	}
	c.avgGradient = (1-c.params.Gain)*c.avgGradient + c.params.Gain*gradient
	c.lastRTT = rtt
	c.lastUpdate = now

	switch {
	case rtt < c.params.TLow:
		c.rateMbps += c.params.AdditiveIncreaseMbps
	case rtt > c.params.THigh:
		// Scale the cut by how far RTT has overshot T_high rather than
		// applying a flat factor, so a marginal overshoot backs off gently
		// and a severe one backs off hard (spec.md §4.4: "multiplicative
		// decrease proportional to (RTT - T_high)/RTT").
		overshoot := math.Min(1, float64(rtt-c.params.THigh)/float64(rtt))
		c.rateMbps *= 1 - overshoot*c.params.MultiplicativeDecrease
	case c.avgGradient > 0:
		c.rateMbps *= 1 - c.params.MultiplicativeDecrease*math.Min(c.avgGradient, 1)
	default:
		c.rateMbps += c.params.AdditiveIncreaseMbps * (1 - math.Abs(c.avgGradient))
	}

	c.rateMbps = clamp(c.rateMbps, c.params.MinRateMbps, c.params.MaxRateMbps)
}

// IntervalFor returns the minimum inter-packet send interval implied by the
// current rate for a packet of the given size in bytes.
func (c *Controller) IntervalFor(sizeBytes int) time.Duration {
	rate := c.RateMbps()
	if rate <= 0 {
		return 0
	}
	bitsPerSecond := rate * 1e6
	seconds := float64(sizeBytes*8) / bitsPerSecond
	return time.Duration(seconds * float64(time.Second))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
