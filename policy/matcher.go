package policy

import (
	"strings"

	"github.com/expr-lang/expr"
	log "github.com/sirupsen/logrus"

	"github.com/jnesss/proc-enforcer/binary"
	"github.com/jnesss/proc-enforcer/process"
)

// Tier is the rule class that trusted a process.
type Tier int

const (
	TierNone Tier = iota
	TierName
	TierPath
	TierUID
	TierPPID
	TierArg
	TierHash
	TierExpr
)

func (t Tier) String() string {
	switch t {
	case TierName:
		return "name"
	case TierPath:
		return "path"
	case TierUID:
		return "uid"
	case TierPPID:
		return "ppid"
	case TierArg:
		return "arg"
	case TierHash:
		return "hash"
	case TierExpr:
		return "expr"
	default:
		return "none"
	}
}

// Matcher evaluates records against an allowlist. The verdict is
// recomputed on every call; only file digests are cached.
type Matcher struct {
	list   *Allowlist
	hashes *binary.HashCache
}

func NewMatcher(list *Allowlist, hashes *binary.HashCache) *Matcher {
	return &Matcher{list: list, hashes: hashes}
}

// IsAllowed reports whether any rule trusts rec.
func (m *Matcher) IsAllowed(rec *process.Record) bool {
	return m.Match(rec) != TierNone
}

// Match returns the first tier that trusts rec, checked in order name,
// path, uid, ppid, arg, hash, expr.
func (m *Matcher) Match(rec *process.Record) Tier {
	l := m.list

	if _, ok := l.Names[rec.Name]; ok {
		return TierName
	}
	if rec.HasPath() {
		if _, ok := l.Paths[rec.Path]; ok {
			return TierPath
		}
	}
	if _, ok := l.UIDs[rec.UID]; ok {
		return TierUID
	}
	if _, ok := l.PPIDs[rec.PPID]; ok {
		return TierPPID
	}

	if len(l.Args) > 0 && len(rec.Args) > 0 {
		joined := rec.CmdLine()
		for _, arg := range l.Args {
			if strings.Contains(joined, arg) {
				return TierArg
			}
		}
	}

	// hashing reads the whole executable, so only pay for it when needed
	if len(l.Hashes) > 0 && rec.HasPath() {
		if digest := m.hashes.Digest(rec.Path); digest != "" {
			if _, ok := l.Hashes[digest]; ok {
				return TierHash
			}
		}
	}

	if len(l.Exprs) > 0 && m.matchExpr(rec) {
		return TierExpr
	}
	return TierNone
}

func (m *Matcher) matchExpr(rec *process.Record) bool {
	args := rec.Args
	if args == nil {
		args = []string{}
	}
	env := map[string]interface{}{
		"pid":     int(rec.PID),
		"ppid":    int(rec.PPID),
		"uid":     int(rec.UID),
		"name":    rec.Name,
		"path":    rec.Path,
		"args":    args,
		"cmdline": rec.CmdLine(),
	}

	for _, rule := range m.list.Exprs {
		out, err := expr.Run(rule.program, env)
		if err != nil {
			log.WithFields(log.Fields{"pid": rec.PID, "rule": rule.Source}).WithError(err).Debug("Expression rule failed")
			continue
		}
		if ok, _ := out.(bool); ok {
			return true
		}
	}
	return false
}
