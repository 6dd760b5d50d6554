//go:build linux || darwin

package platform

import (
	"errors"
	"fmt"
	"io/fs"
	"math"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	gops "github.com/shirou/gopsutil/v3/process"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/jnesss/proc-enforcer/process"
)

type unixDirectory struct {
	system SystemPaths
}

// New returns the collector for the running OS.
func New() (Directory, error) {
	return &unixDirectory{system: DefaultSystemPaths}, nil
}

func (d *unixDirectory) ListProcesses() ([]process.Record, error) {
	procs, err := gops.Processes()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate processes: %w", err)
	}

	records := make([]process.Record, 0, len(procs))
	for _, p := range procs {
		rec, err := d.record(p)
		if err != nil {
			// exited or hidden from us while we were enumerating
			log.WithField("pid", p.Pid).WithError(err).Trace("Skipping process")
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

func (d *unixDirectory) record(p *gops.Process) (process.Record, error) {
	ppid, err := p.Ppid()
	if err != nil {
		return process.Record{}, mapError(err)
	}
	name, err := p.Name()
	if err != nil {
		return process.Record{}, mapError(err)
	}
	uids, err := p.Uids()
	if err != nil {
		return process.Record{}, mapError(err)
	}

	rec := process.Record{
		PID:  uint32(p.Pid),
		PPID: uint32(ppid),
		UID:  effectiveUID(uids),
		Name: name,
	}

	// path and args need more privilege than the rest; missing is fine
	if exe, err := p.Exe(); err == nil {
		rec.Path = exe
	}
	rec.Args = readArgs(p)
	return rec, nil
}

// effectiveUID picks the effective uid from [real, effective, saved, fs].
func effectiveUID(uids []int32) uint32 {
	switch {
	case len(uids) >= 2:
		return uint32(uids[1])
	case len(uids) == 1:
		return uint32(uids[0])
	default:
		return 0
	}
}

func (d *unixDirectory) Sample(pid uint32) (process.Sample, error) {
	if pid > math.MaxInt32 {
		return process.Sample{}, fmt.Errorf("pid %d: %w", pid, ErrNotFound)
	}
	p, err := gops.NewProcess(int32(pid))
	if err != nil {
		return process.Sample{}, fmt.Errorf("pid %d: %w", pid, mapError(err))
	}

	times, err := p.Times()
	if err != nil {
		return process.Sample{}, fmt.Errorf("pid %d cpu times: %w", pid, mapError(err))
	}
	memInfo, err := p.MemoryInfo()
	if err != nil {
		return process.Sample{}, fmt.Errorf("pid %d memory: %w", pid, mapError(err))
	}

	return process.Sample{
		PID:      pid,
		CPUTime:  secondsToNanos(times.User + times.System),
		RSSBytes: memInfo.RSS,
	}, nil
}

func secondsToNanos(s float64) uint64 {
	if s <= 0 {
		return 0
	}
	return uint64(s * 1e9)
}

func (d *unixDirectory) SystemInfo() (process.SystemInfo, error) {
	n, err := cpu.Counts(true)
	if err != nil {
		return process.SystemInfo{}, fmt.Errorf("failed to query cpu count: %w", err)
	}
	if n <= 0 {
		return process.SystemInfo{}, fmt.Errorf("invalid cpu count %d", n)
	}

	vm, err := mem.VirtualMemory()
	if err != nil {
		return process.SystemInfo{}, fmt.Errorf("failed to query memory size: %w", err)
	}
	if vm.Total == 0 {
		return process.SystemInfo{}, errors.New("invalid memory size 0")
	}

	return process.SystemInfo{NumCPU: n, MemoryBytes: vm.Total}, nil
}

func (d *unixDirectory) Terminate(pid uint32) error {
	// kill(0) and negative pids address process groups
	if pid == 0 || pid > math.MaxInt32 {
		return fmt.Errorf("pid %d: %w", pid, ErrNotFound)
	}
	if err := unix.Kill(int(pid), unix.SIGKILL); err != nil {
		return fmt.Errorf("kill %d: %w", pid, mapError(err))
	}
	return nil
}

func (d *unixDirectory) IsSystemOwned(rec *process.Record) bool {
	return d.system.Owns(rec.Path)
}

// mapError folds OS and gopsutil errors into ErrNotFound/ErrPermissionDenied.
func mapError(err error) error {
	switch {
	case errors.Is(err, gops.ErrorProcessNotRunning),
		errors.Is(err, unix.ESRCH),
		errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case errors.Is(err, unix.EPERM),
		errors.Is(err, unix.EACCES),
		errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	default:
		return err
	}
}
