package monitor

import (
	"github.com/jnesss/proc-enforcer/process"
	"github.com/jnesss/proc-enforcer/sigma"
	"github.com/jnesss/proc-enforcer/types"
)

func optPath(rec *process.Record) *string {
	if !rec.HasPath() {
		return nil
	}
	return types.Ptr(rec.Path)
}

func identity(kind string, rec *process.Record) *types.Event {
	return &types.Event{
		TS:   types.Timestamp(),
		Kind: kind,
		PID:  types.Ptr(rec.PID),
		UID:  types.Ptr(rec.UID),
		PPID: types.Ptr(rec.PPID),
		Name: types.Ptr(rec.Name),
		Path: optPath(rec),
	}
}

func unknownEvent(rec *process.Record) *types.Event {
	return identity(types.KindUnknown, rec)
}

func auditEvent(rec *process.Record, action string) *types.Event {
	ev := identity(types.KindAudit, rec)
	ev.Reason = types.Ptr(action)
	return ev
}

func ruleMatchEvent(rec *process.Record, m sigma.Match) *types.Event {
	ev := identity(types.KindRuleMatch, rec)
	ev.Reason = types.Ptr(m.Title)
	return ev
}

func sampleEvent(rec *process.Record, obs process.Observation) *types.Event {
	ev := identity(types.KindSample, rec)
	ev.CPU = types.Ptr(obs.CPUPct)
	ev.RAM = types.Ptr(obs.RAMPct)
	return ev
}

// anomalyEvent carries no uid/ppid.
func anomalyEvent(rec *process.Record, obs process.Observation) *types.Event {
	return &types.Event{
		TS:     types.Timestamp(),
		Kind:   types.KindAnomaly,
		PID:    types.Ptr(rec.PID),
		Name:   types.Ptr(rec.Name),
		Path:   optPath(rec),
		CPU:    types.Ptr(obs.CPUPct),
		RAM:    types.Ptr(obs.RAMPct),
		Reason: types.Ptr(obs.Reason()),
	}
}

func overloadEvent(cpu, ram float64, reason string) *types.Event {
	return &types.Event{
		TS:     types.Timestamp(),
		Kind:   types.KindSystemOverload,
		CPU:    types.Ptr(cpu),
		RAM:    types.Ptr(ram),
		Reason: types.Ptr(reason),
	}
}
