package monitor

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/jnesss/proc-enforcer/binary"
	"github.com/jnesss/proc-enforcer/platform"
	"github.com/jnesss/proc-enforcer/process"
	"github.com/jnesss/proc-enforcer/sigma"
	"github.com/jnesss/proc-enforcer/types"
)

// Sink receives every emitted event in order.
type Sink interface {
	Name() string
	Write(ev *types.Event) error
}

// Policy decides whether a process is trusted.
type Policy interface {
	IsAllowed(rec *process.Record) bool
}

// RuleEngine reports detection rule hits. Observe returns each
// (pid, rule) pair once while the pid stays alive.
type RuleEngine interface {
	PollReload() bool
	Observe(ctx context.Context, rec *process.Record, parent *process.Record) []sigma.Match
	Evict(alive map[uint32]struct{})
}

// Quarantine keeps a copy of an executable before it is terminated.
type Quarantine interface {
	Put(sourcePath, hash string) (string, error)
}

// Config controls one orchestrator.
type Config struct {
	Interval     time.Duration
	Detector     process.DetectorConfig
	ExemptSystem bool
	Enforce      bool
	Stealth      bool // anomaly detection only, no policy
	ExportAll    bool // emit a sample event for every reading
	SelfPID      uint32

	// Machine-wide thresholds over the summed per-process percentages.
	// Zero disables that dimension; both zero disables overload tracking.
	OverloadCPU float64
	OverloadRAM float64
}

// Deps are the collaborators of an orchestrator. Only Directory is
// required; Policy is required unless Stealth is set.
type Deps struct {
	Directory  platform.Directory
	Policy     Policy
	Rules      RuleEngine
	Quarantine Quarantine
	Hashes     *binary.HashCache
	Sinks      []Sink
	Metrics    *Metrics
}

// Orchestrator runs the polling loop. All state is owned by the goroutine
// calling Run or Cycle.
type Orchestrator struct {
	cfg  Config
	deps Deps

	detector *process.Detector
	overload *OverloadTracker
	reported map[uint32]struct{}
}

// New creates an orchestrator. sys must come from a single startup query.
func New(cfg Config, sys process.SystemInfo, deps Deps) (*Orchestrator, error) {
	if deps.Directory == nil {
		return nil, fmt.Errorf("process directory is required")
	}
	if !cfg.Stealth && deps.Policy == nil {
		return nil, fmt.Errorf("policy is required unless running in stealth mode")
	}
	if deps.Quarantine != nil && deps.Hashes == nil {
		deps.Hashes = binary.NewHashCache()
	}

	o := &Orchestrator{
		cfg:      cfg,
		deps:     deps,
		detector: process.NewDetector(cfg.Detector, sys),
		reported: make(map[uint32]struct{}),
	}
	if cfg.OverloadCPU > 0 || cfg.OverloadRAM > 0 {
		o.overload = NewOverloadTracker(cfg.OverloadCPU, cfg.OverloadRAM, cfg.Detector.SustainWindow)
	}
	return o, nil
}

// Run polls until ctx is cancelled. Enumeration failures are logged and the
// cycle is skipped. Cycles that overrun the interval start the next one
// immediately.
func (o *Orchestrator) Run(ctx context.Context) error {
	log.WithFields(log.Fields{
		"interval": o.cfg.Interval,
		"enforce":  o.cfg.Enforce,
		"stealth":  o.cfg.Stealth,
	}).Info("Process monitoring started")

	for {
		start := time.Now()
		if err := o.Cycle(ctx); err != nil {
			log.WithError(err).Error("Cycle skipped")
		}

		wait := o.cfg.Interval - time.Since(start)
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Info("Process monitoring stopped")
			return nil
		case <-timer.C:
		}
	}
}

// cycleTotals accumulates machine-wide usage over one walk.
type cycleTotals struct {
	cpu float64
	ram float64
}

// Cycle runs one full pass. It fails only when processes cannot be listed,
// in which case nothing is evaluated.
func (o *Orchestrator) Cycle(ctx context.Context) error {
	start := time.Now()

	if o.deps.Rules != nil && !o.cfg.Stealth {
		if o.deps.Rules.PollReload() {
			log.Info("Sigma rules reloaded")
		}
	}

	records, err := o.deps.Directory.ListProcesses()
	if err != nil {
		if m := o.deps.Metrics; m != nil {
			m.CycleErrors.Inc()
		}
		return fmt.Errorf("failed to list processes: %w", err)
	}

	tree := process.BuildTree(records)
	alive := make(map[uint32]struct{}, tree.Len())
	for _, rec := range records {
		alive[rec.PID] = struct{}{}
	}

	var totals cycleTotals
	for _, rec := range tree.Walk() {
		if rec.PID == o.cfg.SelfPID {
			continue
		}
		o.evaluate(ctx, tree, &rec, &totals)
	}

	if o.overload != nil {
		if reason, fire := o.overload.Observe(totals.cpu, totals.ram); fire {
			log.WithFields(log.Fields{
				"cpu":    fmt.Sprintf("%.2f", totals.cpu),
				"ram":    fmt.Sprintf("%.2f", totals.ram),
				"reason": reason,
			}).Warn("System overload")
			o.emit(overloadEvent(totals.cpu, totals.ram, reason))
		}
	}

	o.evict(alive)

	if m := o.deps.Metrics; m != nil {
		m.Cycles.Inc()
		m.CycleDuration.Observe(time.Since(start).Seconds())
		m.Processes.Set(float64(len(alive)))
		m.Tracked.Set(float64(o.detector.Len()))
		m.SystemCPU.Set(totals.cpu)
		m.SystemRAM.Set(totals.ram)
	}
	return nil
}

func (o *Orchestrator) evaluate(ctx context.Context, tree *process.Tree, rec *process.Record, totals *cycleTotals) {
	o.observeResources(rec, totals)

	if o.cfg.Stealth {
		return
	}
	if o.cfg.ExemptSystem && o.deps.Directory.IsSystemOwned(rec) {
		return
	}

	if o.deps.Rules != nil {
		var parent *process.Record
		if node, ok := tree.Node(rec.PPID); ok && rec.PPID != rec.PID {
			parent = &node.Record
		}
		for _, m := range o.deps.Rules.Observe(ctx, rec, parent) {
			log.WithFields(log.Fields{
				"pid":   rec.PID,
				"name":  rec.Name,
				"rule":  m.RuleID,
				"title": m.Title,
				"level": m.Level,
			}).Warn("Sigma rule matched")
			o.emit(ruleMatchEvent(rec, m))
		}
	}

	if o.deps.Policy.IsAllowed(rec) {
		return
	}
	if _, seen := o.reported[rec.PID]; seen {
		return
	}
	o.reported[rec.PID] = struct{}{}

	log.WithFields(processFields(rec)).Warn("Unknown process")
	o.emit(unknownEvent(rec))

	action := types.ActionLogged
	if o.cfg.Enforce {
		o.quarantine(rec)
		if err := o.deps.Directory.Terminate(rec.PID); err != nil {
			log.WithFields(processFields(rec)).WithError(err).Error("Kill failed")
			o.countTermination("failed")
		} else {
			log.WithFields(processFields(rec)).Warn("Killed process")
			o.countTermination("killed")
			action = types.ActionKilled
		}
	}
	o.emit(auditEvent(rec, action))
}

// observeResources samples rec and runs anomaly detection. A failed read
// skips the pid for this cycle and leaves its history untouched.
func (o *Orchestrator) observeResources(rec *process.Record, totals *cycleTotals) {
	sample, err := o.deps.Directory.Sample(rec.PID)
	if err != nil {
		log.WithField("pid", rec.PID).WithError(err).Debug("Sample failed")
		if m := o.deps.Metrics; m != nil {
			m.SampleFailures.Inc()
		}
		return
	}

	obs := o.detector.Observe(sample)
	totals.cpu += obs.CPUPct
	totals.ram += obs.RAMPct

	if o.cfg.ExportAll {
		o.emit(sampleEvent(rec, obs))
	}
	if obs.Anomalous() {
		fields := processFields(rec)
		fields["cpu"] = fmt.Sprintf("%.2f", obs.CPUPct)
		fields["ram"] = fmt.Sprintf("%.2f", obs.RAMPct)
		fields["reason"] = obs.Reason()
		log.WithFields(fields).Warn("Anomaly")
		o.emit(anomalyEvent(rec, obs))
	}
}

func (o *Orchestrator) quarantine(rec *process.Record) {
	if o.deps.Quarantine == nil || !rec.HasPath() {
		return
	}
	digest := o.deps.Hashes.Digest(rec.Path)
	if digest == "" {
		log.WithFields(processFields(rec)).Debug("Executable unreadable, not quarantined")
		return
	}
	dest, err := o.deps.Quarantine.Put(rec.Path, digest)
	if err != nil {
		log.WithFields(processFields(rec)).WithError(err).Warn("Quarantine copy failed")
		return
	}
	log.WithFields(processFields(rec)).WithField("copy", dest).Info("Quarantined executable")
}

func (o *Orchestrator) countTermination(result string) {
	if m := o.deps.Metrics; m != nil {
		m.Terminations.WithLabelValues(result).Inc()
	}
}

// emit writes ev to every sink. Sink failures are logged and never stop
// the cycle.
func (o *Orchestrator) emit(ev *types.Event) {
	if m := o.deps.Metrics; m != nil {
		m.Events.WithLabelValues(ev.Kind).Inc()
	}
	for _, sink := range o.deps.Sinks {
		if err := sink.Write(ev); err != nil {
			log.WithFields(log.Fields{"sink": sink.Name(), "kind": ev.Kind}).WithError(err).Error("Export failed")
			if m := o.deps.Metrics; m != nil {
				m.SinkErrors.WithLabelValues(sink.Name()).Inc()
			}
		}
	}
}

// evict drops every piece of per-pid state for pids that are gone.
func (o *Orchestrator) evict(alive map[uint32]struct{}) {
	o.detector.Evict(alive)
	for pid := range o.reported {
		if _, ok := alive[pid]; !ok {
			delete(o.reported, pid)
		}
	}
	if o.deps.Rules != nil {
		o.deps.Rules.Evict(alive)
	}
}

// Detector exposes anomaly state for inspection.
func (o *Orchestrator) Detector() *process.Detector {
	return o.detector
}

// Reported reports whether pid is in the unknown-process dedupe set.
func (o *Orchestrator) Reported(pid uint32) bool {
	_, ok := o.reported[pid]
	return ok
}

func processFields(rec *process.Record) log.Fields {
	path := rec.Path
	if path == "" {
		path = "-"
	}
	return log.Fields{
		"pid":  rec.PID,
		"uid":  rec.UID,
		"ppid": rec.PPID,
		"name": rec.Name,
		"path": path,
	}
}
