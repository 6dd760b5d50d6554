//go:build linux

package platform

import (
	"unicode/utf8"

	gops "github.com/shirou/gopsutil/v3/process"
)

// readArgs returns the argument vector from /proc/<pid>/cmdline. Arguments
// that are not valid UTF-8 are dropped one by one.
func readArgs(p *gops.Process) []string {
	raw, err := p.CmdlineSlice()
	if err != nil {
		return nil
	}
	args := raw[:0]
	for _, a := range raw {
		if utf8.ValidString(a) {
			args = append(args, a)
		}
	}
	return args
}
