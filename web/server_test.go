package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jnesss/proc-enforcer/database"
	"github.com/jnesss/proc-enforcer/types"
)

type fakeStore struct {
	rows      []database.EventRow
	counts    map[string]int64
	err       error
	lastKind  string
	lastLimit int
}

func (f *fakeStore) RunID() string { return "run-1" }

func (f *fakeStore) Recent(kind string, limit int) ([]database.EventRow, error) {
	f.lastKind = kind
	f.lastLimit = limit
	return f.rows, f.err
}

func (f *fakeStore) CountByKind() (map[string]int64, error) {
	return f.counts, f.err
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestHealthz(t *testing.T) {
	rec := get(t, NewServer(nil, nil, "", "").Handler(), "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok\n", rec.Body.String())
}

func TestEvents_EmptyIsArray(t *testing.T) {
	store := &fakeStore{}
	rec := get(t, NewServer(store, nil, "", "").Handler(), "/api/events")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "[]\n", rec.Body.String())
	assert.Equal(t, defaultLimit, store.lastLimit)
	assert.Equal(t, "", store.lastKind)
}

func TestEvents_KindAndLimit(t *testing.T) {
	store := &fakeStore{rows: []database.EventRow{
		{ID: 2, RunID: "run-1", TS: 1700000000, Kind: types.KindUnknown, PID: types.Ptr(uint32(42)), Name: types.Ptr("miner")},
	}}
	rec := get(t, NewServer(store, nil, "", "").Handler(), "/api/events?kind=unknown&limit=5")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "unknown", store.lastKind)
	assert.Equal(t, 5, store.lastLimit)

	var rows []database.EventRow
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, uint32(42), *rows[0].PID)
	assert.Nil(t, rows[0].Path)
}

func TestEvents_LimitValidation(t *testing.T) {
	store := &fakeStore{}
	h := NewServer(store, nil, "", "").Handler()

	for _, bad := range []string{"abc", "0", "-3"} {
		rec := get(t, h, "/api/events?limit="+bad)
		assert.Equal(t, http.StatusBadRequest, rec.Code, bad)
	}

	rec := get(t, h, "/api/events?limit=50000")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, maxLimit, store.lastLimit)
}

func TestEvents_StoreError(t *testing.T) {
	store := &fakeStore{err: errors.New("database is locked")}
	rec := get(t, NewServer(store, nil, "", "").Handler(), "/api/events")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestEvents_MethodNotAllowed(t *testing.T) {
	rec := httptest.NewRecorder()
	NewServer(&fakeStore{}, nil, "", "").Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/events", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestSummary(t *testing.T) {
	store := &fakeStore{counts: map[string]int64{"unknown": 3, "audit": 3}}
	rec := get(t, NewServer(store, nil, "", "").Handler(), "/api/summary")

	require.Equal(t, http.StatusOK, rec.Code)
	var sum Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sum))
	assert.Equal(t, "run-1", sum.RunID)
	assert.Equal(t, int64(3), sum.Counts["unknown"])
}

func TestRoutesWithoutStore(t *testing.T) {
	h := NewServer(nil, nil, "", "").Handler()
	assert.Equal(t, http.StatusNotFound, get(t, h, "/api/events").Code)
	assert.Equal(t, http.StatusNotFound, get(t, h, "/metrics").Code)
	assert.Equal(t, http.StatusNotFound, get(t, h, "/api/rules").Code)
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "proc_enforcer_cycles_total", Help: "Cycles."})
	reg.MustRegister(c)
	c.Add(4)

	rec := get(t, NewServer(nil, reg, "", "").Handler(), "/metrics")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "proc_enforcer_cycles_total 4")
}

const webShellRule = `title: Shell Spawned By Web Server
id: web-shell
description: A shell started by a web server process
author: ops
level: high
tags:
  - attack.persistence
logsource:
  category: process_creation
detection:
  selection:
    ParentImage|endswith: '/nginx'
  condition: selection
`

func TestRules(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "enabled_rules"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "disabled_rules"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "enabled_rules", "web_shell.yml"), []byte(webShellRule), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "enabled_rules", "notes.txt"), []byte("ignored"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "disabled_rules", "old.yml"),
		[]byte(strings.Replace(webShellRule, "id: web-shell", "id: old-shell", 1)), 0644))

	rec := get(t, NewServer(nil, nil, dir, "").Handler(), "/api/rules")

	require.Equal(t, http.StatusOK, rec.Code)
	var rules []RuleRow
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rules))
	require.Len(t, rules, 2)
	assert.Equal(t, "web-shell", rules[0].ID)
	assert.True(t, rules[0].Enabled)
	assert.Equal(t, "high", rules[0].Level)
	assert.Equal(t, []string{"attack.persistence"}, rules[0].Tags)
	assert.Equal(t, "old-shell", rules[1].ID)
	assert.False(t, rules[1].Enabled)
}

func TestRules_MissingDirectories(t *testing.T) {
	rec := get(t, NewServer(nil, nil, t.TempDir(), "").Handler(), "/api/rules")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())
}
