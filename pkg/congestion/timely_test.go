package congestion

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewController_StartsAtMaxRate(t *testing.T) {
	p := DefaultParams()
	c := NewController(p)
	assert.Equal(t, p.MaxRateMbps, c.RateMbps())
}

func TestOnRTTSample_LowRTTIncreasesRate(t *testing.T) {
	p := DefaultParams()
	p.MaxRateMbps = 1000
	c := NewController(p)
	c.rateMbps = 500

	c.OnRTTSample(10 * time.Microsecond)
	assert.Greater(t, c.RateMbps(), 500.0)
}

func TestOnRTTSample_HighRTTDecreasesRate(t *testing.T) {
	p := DefaultParams()
	c := NewController(p)

	before := c.RateMbps()
	c.OnRTTSample(5 * time.Millisecond)
	assert.Less(t, c.RateMbps(), before)
}

func TestOnRTTSample_RateNeverBelowMin(t *testing.T) {
	p := DefaultParams()
	c := NewController(p)

	for i := 0; i < 100; i++ {
		c.OnRTTSample(10 * time.Millisecond)
	}
	assert.GreaterOrEqual(t, c.RateMbps(), p.MinRateMbps)
}

func TestOnRTTSample_RateNeverAboveMax(t *testing.T) {
	p := DefaultParams()
	c := NewController(p)

	for i := 0; i < 1000; i++ {
		c.OnRTTSample(1 * time.Microsecond)
	}
	assert.LessOrEqual(t, c.RateMbps(), p.MaxRateMbps)
}

func TestIntervalFor_ZeroRateIsZeroInterval(t *testing.T) {
	c := NewController(DefaultParams())
	c.rateMbps = 0
	assert.Equal(t, time.Duration(0), c.IntervalFor(1000))
}

func TestIntervalFor_ScalesWithSize(t *testing.T) {
	c := NewController(DefaultParams())
	c.rateMbps = 100

	small := c.IntervalFor(100)
	large := c.IntervalFor(1000)
	assert.Less(t, small, large)
}
