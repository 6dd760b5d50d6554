package types

import "time"

// Event kinds
const (
	KindUnknown        = "unknown"         // Policy rejection
	KindAnomaly        = "anomaly"         // CPU spike and/or sustained overload
	KindSample         = "sample"          // Raw per-cycle reading (export-all-samples mode)
	KindAudit          = "audit"           // Action taken for an unknown process
	KindRuleMatch      = "rule_match"      // Sigma rule hit
	KindSystemOverload = "system_overload" // Machine-wide aggregate breach
)

// Audit actions
const (
	ActionLogged = "logged"
	ActionKilled = "killed"
)

// Event is the single record shape handed to every sink. A nil field is not
// applicable to the event's kind and is written as empty (CSV) or null (JSONL).
type Event struct {
	TS     uint64
	Kind   string
	PID    *uint32
	UID    *uint32
	PPID   *uint32
	Name   *string
	Path   *string
	CPU    *float64
	RAM    *float64
	Reason *string
}

// Timestamp returns the current unix time in seconds.
func Timestamp() uint64 {
	ts := time.Now().Unix()
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

// Ptr returns a pointer to v, for filling optional Event fields.
func Ptr[T any](v T) *T {
	return &v
}
