//go:build darwin

package platform

import (
	gops "github.com/shirou/gopsutil/v3/process"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// readArgs fetches kern.procargs2 for the pid and decodes it. The block is
// read fresh on every call.
func readArgs(p *gops.Process) []string {
	buf, err := unix.SysctlRaw("kern.procargs2", int(p.Pid))
	if err != nil {
		return nil
	}
	block, err := DecodeArgBlock(buf)
	if err != nil {
		log.WithField("pid", p.Pid).WithError(err).Debug("Undecodable argument block")
		return nil
	}
	if block.Truncated || block.Dropped > 0 {
		log.WithFields(log.Fields{
			"pid":       p.Pid,
			"argc":      block.Argc,
			"recovered": len(block.Args),
			"dropped":   block.Dropped,
		}).Debug("Partial argument vector")
	}
	return block.Args
}
