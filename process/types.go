package process

import "strings"

// Record is one process as seen by a single poll. Records are rebuilt every
// cycle and never mutated after the collector hands them out.
type Record struct {
	PID  uint32
	PPID uint32
	UID  uint32
	Name string
	Path string // empty when the executable path could not be resolved
	Args []string
}

// HasPath reports whether the executable path is known.
func (r *Record) HasPath() bool {
	return r.Path != ""
}

// CmdLine joins the argument vector with single spaces.
func (r *Record) CmdLine() string {
	return strings.Join(r.Args, " ")
}

// Sample is a point-in-time resource reading for one pid.
type Sample struct {
	PID      uint32
	CPUTime  uint64 // cumulative cpu time in nanoseconds
	RSSBytes uint64
}

// SystemInfo holds machine-wide constants queried once at startup.
type SystemInfo struct {
	NumCPU      int
	MemoryBytes uint64
}
