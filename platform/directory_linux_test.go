//go:build linux

package platform

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jnesss/proc-enforcer/process"
)

func TestDirectory_ListIncludesSelf(t *testing.T) {
	dir, err := New()
	require.NoError(t, err)

	records, err := dir.ListProcesses()
	require.NoError(t, err)

	self := uint32(os.Getpid())
	var found bool
	for _, r := range records {
		if r.PID == self {
			found = true
			assert.Equal(t, uint32(os.Getppid()), r.PPID)
			assert.Equal(t, uint32(os.Geteuid()), r.UID)
			assert.NotEmpty(t, r.Name)
			assert.NotEmpty(t, r.Args)
		}
	}
	assert.True(t, found, "own pid missing from listing")
}

func TestDirectory_SampleSelf(t *testing.T) {
	dir, err := New()
	require.NoError(t, err)

	s, err := dir.Sample(uint32(os.Getpid()))

	require.NoError(t, err)
	assert.Equal(t, uint32(os.Getpid()), s.PID)
	assert.NotZero(t, s.RSSBytes)
}

func TestDirectory_SystemInfo(t *testing.T) {
	dir, err := New()
	require.NoError(t, err)

	info, err := dir.SystemInfo()

	require.NoError(t, err)
	assert.Positive(t, info.NumCPU)
	assert.NotZero(t, info.MemoryBytes)
}

func TestDirectory_TerminateRefusesPIDZero(t *testing.T) {
	dir, err := New()
	require.NoError(t, err)

	assert.ErrorIs(t, dir.Terminate(0), ErrNotFound)
}

func TestDirectory_IsSystemOwned(t *testing.T) {
	dir, err := New()
	require.NoError(t, err)

	assert.True(t, dir.IsSystemOwned(&process.Record{Path: "/usr/sbin/cron"}))
	assert.False(t, dir.IsSystemOwned(&process.Record{Path: "/opt/app/bin/app"}))
	assert.False(t, dir.IsSystemOwned(&process.Record{}))
}
