package database

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jnesss/proc-enforcer/types"
)

type staticUsers map[uint32]string

func (s staticUsers) Username(uid uint32) string { return s[uid] }

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "data", "events.db"), "run-1", staticUsers{501: "alice"})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestDB_WriteAndRecent(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, db.Write(&types.Event{
		TS:   100,
		Kind: types.KindUnknown,
		PID:  types.Ptr(uint32(42)),
		UID:  types.Ptr(uint32(501)),
		PPID: types.Ptr(uint32(1)),
		Name: types.Ptr("miner"),
	}))
	require.NoError(t, db.Write(&types.Event{
		TS:     101,
		Kind:   types.KindSystemOverload,
		CPU:    types.Ptr(95.5),
		RAM:    types.Ptr(12.0),
		Reason: types.Ptr("cpu"),
	}))

	rows, err := db.Recent("", 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	overload := rows[0]
	assert.Equal(t, types.KindSystemOverload, overload.Kind)
	assert.Nil(t, overload.PID)
	assert.Nil(t, overload.Username)
	require.NotNil(t, overload.CPU)
	assert.Equal(t, 95.5, *overload.CPU)

	unknown := rows[1]
	assert.Equal(t, "run-1", unknown.RunID)
	assert.Equal(t, uint64(100), unknown.TS)
	require.NotNil(t, unknown.PID)
	assert.Equal(t, uint32(42), *unknown.PID)
	require.NotNil(t, unknown.Username)
	assert.Equal(t, "alice", *unknown.Username)
	assert.Nil(t, unknown.Path)
	assert.Nil(t, unknown.CPU)
}

func TestDB_RecentFiltersByKind(t *testing.T) {
	db := openTestDB(t)
	for _, kind := range []string{types.KindSample, types.KindAnomaly, types.KindSample} {
		require.NoError(t, db.Write(&types.Event{TS: 1, Kind: kind}))
	}

	rows, err := db.Recent(types.KindSample, 0)
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	rows, err = db.Recent("", 1)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestDB_CountByKind(t *testing.T) {
	db := openTestDB(t)
	for _, kind := range []string{types.KindAudit, types.KindAudit, types.KindRuleMatch} {
		require.NoError(t, db.Write(&types.Event{TS: 1, Kind: kind}))
	}

	counts, err := db.CountByKind()

	require.NoError(t, err)
	assert.Equal(t, map[string]int64{types.KindAudit: 2, types.KindRuleMatch: 1}, counts)
}

func TestOpen_PersistsAcrossRuns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")

	first, err := Open(path, "a", nil)
	require.NoError(t, err)
	require.NoError(t, first.Write(&types.Event{TS: 1, Kind: types.KindAudit, UID: types.Ptr(uint32(0))}))
	require.NoError(t, first.Close())

	second, err := Open(path, "b", nil)
	require.NoError(t, err)
	defer second.Close()

	rows, err := second.Recent("", 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "a", rows[0].RunID)
	assert.Nil(t, rows[0].Username)
}
