package platform

import (
	"errors"

	"github.com/jnesss/proc-enforcer/process"
)

var (
	// ErrNotFound is returned for a pid that does not exist (anymore).
	ErrNotFound = errors.New("process not found")
	// ErrPermissionDenied is returned when the caller may not inspect or signal a pid.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrUnsupported is returned by New on targets without a collector.
	ErrUnsupported = errors.New("process directory not supported on this platform")
)

// Directory is the OS process collector. Implementations are per target OS.
type Directory interface {
	// ListProcesses returns every process visible to the caller. Processes
	// that exit during enumeration are left out. It fails only when
	// enumeration itself is impossible.
	ListProcesses() ([]process.Record, error)

	// Sample reads cumulative cpu time and resident memory for pid.
	// Errors wrap ErrNotFound or ErrPermissionDenied.
	Sample(pid uint32) (process.Sample, error)

	// SystemInfo returns cpu count and physical memory size.
	SystemInfo() (process.SystemInfo, error)

	// Terminate sends SIGKILL without waiting for the process to exit.
	Terminate(pid uint32) error

	// IsSystemOwned reports whether the executable lives under an OS install prefix.
	IsSystemOwned(rec *process.Record) bool
}
