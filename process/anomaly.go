package process

import (
	"math"
)

// Anomaly reasons
const (
	ReasonSpikeSustained = "spike+sustained"
	ReasonSpike          = "spike"
	ReasonSustained      = "sustained"
	ReasonThreshold      = "threshold"
)

// DetectorConfig holds the thresholds the detector classifies against.
type DetectorConfig struct {
	IntervalMs    uint64
	CPUThreshold  float64 // percent
	RAMThreshold  float64 // percent
	SpikeDelta    float64 // percentage points between consecutive cycles
	SustainWindow uint64  // consecutive breaching cycles; 0 disables sustained
}

// State is what the detector remembers about a pid between cycles.
type State struct {
	PrevCPUTime  uint64
	PrevCPUPct   float64
	SustainCount uint64
}

// Observation is the per-cycle classification of one sample.
type Observation struct {
	PID          uint32
	CPUPct       float64
	RAMPct       float64
	Spike        bool
	Sustained    bool
	SustainCount uint64
	First        bool
}

// Anomalous reports whether the observation should be reported.
func (o Observation) Anomalous() bool {
	return o.Spike || o.Sustained
}

// Reason labels the observation.
func (o Observation) Reason() string {
	switch {
	case o.Spike && o.Sustained:
		return ReasonSpikeSustained
	case o.Spike:
		return ReasonSpike
	case o.Sustained:
		return ReasonSustained
	default:
		return ReasonThreshold
	}
}

// Detector tracks per-pid cpu/ram history and classifies each new sample.
// It is owned by a single polling loop and is not safe for concurrent use.
type Detector struct {
	cfg    DetectorConfig
	sys    SystemInfo
	states map[uint32]State
}

func NewDetector(cfg DetectorConfig, sys SystemInfo) *Detector {
	return &Detector{
		cfg:    cfg,
		sys:    sys,
		states: make(map[uint32]State),
	}
}

// Observe classifies a sample and stores the resulting state. The first
// sample for a pid only establishes a baseline and is never anomalous.
func (d *Detector) Observe(s Sample) Observation {
	obs := Observation{
		PID:    s.PID,
		RAMPct: ramPercent(s.RSSBytes, d.sys.MemoryBytes),
	}

	prev, tracked := d.states[s.PID]
	if !tracked {
		obs.First = true
		d.states[s.PID] = State{PrevCPUTime: s.CPUTime}
		return obs
	}

	var delta uint64
	if s.CPUTime > prev.PrevCPUTime {
		delta = s.CPUTime - prev.PrevCPUTime
	}
	obs.CPUPct = cpuPercent(delta, d.cfg.IntervalMs, d.sys.NumCPU)
	obs.Spike = obs.CPUPct-prev.PrevCPUPct >= d.cfg.SpikeDelta

	if obs.CPUPct >= d.cfg.CPUThreshold || obs.RAMPct >= d.cfg.RAMThreshold {
		obs.SustainCount = prev.SustainCount
		if obs.SustainCount < math.MaxUint64 {
			obs.SustainCount++
		}
	}
	obs.Sustained = d.cfg.SustainWindow > 0 && obs.SustainCount >= d.cfg.SustainWindow

	d.states[s.PID] = State{
		PrevCPUTime:  s.CPUTime,
		PrevCPUPct:   obs.CPUPct,
		SustainCount: obs.SustainCount,
	}
	return obs
}

// Evict drops state for every pid not in alive and returns how many went.
func (d *Detector) Evict(alive map[uint32]struct{}) int {
	n := 0
	for pid := range d.states {
		if _, ok := alive[pid]; !ok {
			delete(d.states, pid)
			n++
		}
	}
	return n
}

// State returns the stored state for pid.
func (d *Detector) State(pid uint32) (State, bool) {
	s, ok := d.states[pid]
	return s, ok
}

// Len returns the number of tracked pids.
func (d *Detector) Len() int {
	return len(d.states)
}

func cpuPercent(deltaNs, intervalMs uint64, numCPU int) float64 {
	intervalNs := float64(intervalMs) * 1e6
	if intervalNs <= 0 || numCPU <= 0 {
		return 0
	}
	pct := float64(deltaNs) / (intervalNs * float64(numCPU)) * 100
	if pct < 0 {
		return 0
	}
	return pct
}

func ramPercent(rss, total uint64) float64 {
	if total == 0 {
		return 0
	}
	return float64(rss) / float64(total) * 100
}

// ResolveSustainWindow converts an optional seconds-based window into a
// cycle count for the given interval. Without seconds, or with a zero
// interval, the fixed count is used.
func ResolveSustainWindow(intervalMs, count uint64, seconds *uint64) uint64 {
	if seconds == nil || intervalMs == 0 {
		return count
	}
	if *seconds > math.MaxUint64/1000 {
		return ceilDiv(math.MaxUint64, intervalMs)
	}
	return ceilDiv(*seconds*1000, intervalMs)
}

func ceilDiv(a, b uint64) uint64 {
	q := a / b
	if a%b != 0 {
		q++
	}
	return q
}
