package monitor

import "math"

// Overload reasons
const (
	OverloadCPU    = "cpu"
	OverloadRAM    = "ram"
	OverloadCPURAM = "cpu+ram"
)

// OverloadTracker watches machine-wide cpu and ram totals and fires once
// per episode after window consecutive breaching cycles. An episode ends on
// the first cycle below both thresholds. A zero threshold never breaches.
type OverloadTracker struct {
	cpuThreshold float64
	ramThreshold float64
	window       uint64
	count        uint64
	active       bool
}

// NewOverloadTracker creates a tracker. A window below 1 is treated as 1.
func NewOverloadTracker(cpuThreshold, ramThreshold float64, window uint64) *OverloadTracker {
	if window < 1 {
		window = 1
	}
	return &OverloadTracker{cpuThreshold: cpuThreshold, ramThreshold: ramThreshold, window: window}
}

// Observe records one cycle's totals. fire is true on the cycle an episode
// is first confirmed.
func (o *OverloadTracker) Observe(cpuPct, ramPct float64) (reason string, fire bool) {
	cpuHigh := o.cpuThreshold > 0 && cpuPct >= o.cpuThreshold
	ramHigh := o.ramThreshold > 0 && ramPct >= o.ramThreshold
	if !cpuHigh && !ramHigh {
		o.count = 0
		o.active = false
		return "", false
	}

	if o.count < math.MaxUint64 {
		o.count++
	}
	if o.active || o.count < o.window {
		return "", false
	}

	o.active = true
	switch {
	case cpuHigh && ramHigh:
		return OverloadCPURAM, true
	case cpuHigh:
		return OverloadCPU, true
	default:
		return OverloadRAM, true
	}
}

// Active reports whether an episode is in progress.
func (o *OverloadTracker) Active() bool {
	return o.active
}
