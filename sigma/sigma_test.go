package sigma

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jnesss/proc-enforcer/process"
)

const curlRule = `title: Curl To Suspicious Host
id: 0f6b1e52-6b5c-4a3c-9a43-3b0c1b7c0001
status: test
logsource:
  category: process_creation
  product: linux
detection:
  selection:
    Image|endswith: '/curl'
    CommandLine|contains: 'evil.example'
  condition: selection
level: high
`

const shellFromWebRule = `title: Shell Spawned By Web Server
id: 0f6b1e52-6b5c-4a3c-9a43-3b0c1b7c0002
status: test
logsource:
  category: process_creation
  product: linux
detection:
  selection:
    ParentImage|endswith: '/nginx'
    Image|endswith: '/sh'
  condition: selection
`

func newTestDetector(t *testing.T, rules map[string]string) *Detector {
	t.Helper()
	dir := t.TempDir()
	enabled := filepath.Join(dir, enabledDir)
	require.NoError(t, os.MkdirAll(enabled, 0755))
	for name, body := range rules {
		require.NoError(t, os.WriteFile(filepath.Join(enabled, name), []byte(body), 0644))
	}

	d, err := NewDetector(dir, func(uid uint32) string { return "svc" })
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func TestNewDetector_CreatesDirectoriesAndLoads(t *testing.T) {
	d := newTestDetector(t, map[string]string{
		"curl.yml":   curlRule,
		"notes.txt":  "not a rule",
		"broken.yml": "title: [unterminated",
	})

	assert.Equal(t, 1, d.RuleCount())
	assert.DirExists(t, filepath.Join(d.RulesDir, disabledDir))
}

func TestDetector_Check(t *testing.T) {
	d := newTestDetector(t, map[string]string{"curl.yml": curlRule, "web.yml": shellFromWebRule})
	ctx := context.Background()

	hit := &process.Record{PID: 10, Name: "curl", Path: "/usr/bin/curl", Args: []string{"curl", "https://evil.example/x"}}
	matches := d.Check(ctx, hit, nil)
	require.Len(t, matches, 1)
	assert.Equal(t, "Curl To Suspicious Host", matches[0].Title)
	assert.Equal(t, "high", matches[0].Level)

	miss := &process.Record{PID: 11, Name: "curl", Path: "/usr/bin/curl", Args: []string{"curl", "https://example.org"}}
	assert.Empty(t, d.Check(ctx, miss, nil))

	parent := &process.Record{PID: 1, Name: "nginx", Path: "/usr/sbin/nginx"}
	shell := &process.Record{PID: 12, PPID: 1, Name: "sh", Path: "/bin/sh"}
	matches = d.Check(ctx, shell, parent)
	require.Len(t, matches, 1)
	assert.Equal(t, "medium", matches[0].Level)
}

func TestDetector_ObserveReportsOncePerPID(t *testing.T) {
	d := newTestDetector(t, map[string]string{"curl.yml": curlRule})
	ctx := context.Background()
	rec := &process.Record{PID: 20, Name: "curl", Path: "/usr/bin/curl", Args: []string{"curl", "evil.example"}}

	assert.Len(t, d.Observe(ctx, rec, nil), 1)
	assert.Empty(t, d.Observe(ctx, rec, nil))

	d.Evict(map[uint32]struct{}{})
	assert.Len(t, d.Observe(ctx, rec, nil), 1)
}

func TestDetector_PollReload(t *testing.T) {
	d := newTestDetector(t, nil)
	assert.Zero(t, d.RuleCount())

	require.NoError(t, os.WriteFile(filepath.Join(d.RulesDir, enabledDir, "curl.yaml"), []byte(curlRule), 0644))
	d.ReloadRules()

	assert.True(t, d.PollReload())
	assert.Equal(t, 1, d.RuleCount())
}

func TestDetector_PollReloadWithoutRequest(t *testing.T) {
	d := newTestDetector(t, nil)

	// drain anything the watcher queued while the test directory was set up
	d.PollReload()
	assert.False(t, d.PollReload())
}

func TestDetector_EventFields(t *testing.T) {
	d := newTestDetector(t, nil)

	ev := d.Event(&process.Record{PID: 5, PPID: 1, UID: 33, Name: "kworker"}, nil)

	assert.Equal(t, "kworker", ev["Image"])
	assert.Equal(t, "svc", ev["Username"])
	assert.Equal(t, int64(5), ev["ProcessId"])
	assert.NotContains(t, ev, "ParentImage")
}
