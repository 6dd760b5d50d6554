package process

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rec(pid, ppid uint32) Record {
	return Record{PID: pid, PPID: ppid, Name: "p"}
}

func walkPIDs(t *Tree) []uint32 {
	var pids []uint32
	for _, r := range t.Walk() {
		pids = append(pids, r.PID)
	}
	return pids
}

func TestBuildTree_ParentBeforeChildren(t *testing.T) {
	tree := BuildTree([]Record{
		rec(30, 1),
		rec(1, 0),
		rec(31, 30),
		rec(20, 1),
		rec(21, 20),
	})

	assert.Equal(t, []uint32{1}, tree.Roots())
	assert.Equal(t, []uint32{1, 20, 21, 30, 31}, walkPIDs(tree))
}

func TestBuildTree_AbsentParentIsRoot(t *testing.T) {
	tree := BuildTree([]Record{rec(500, 400), rec(7, 0), rec(501, 500)})

	assert.Equal(t, []uint32{7, 500}, tree.Roots())
	assert.Equal(t, []uint32{7, 500, 501}, walkPIDs(tree))
}

func TestBuildTree_ZeroPPIDAlwaysRoot(t *testing.T) {
	// pid 0 exists in the snapshot but ppid 0 must still mean "root"
	tree := BuildTree([]Record{rec(0, 0), rec(1, 0), rec(2, 0)})

	assert.Equal(t, []uint32{0, 1, 2}, tree.Roots())
	node, ok := tree.Node(0)
	require.True(t, ok)
	assert.Empty(t, node.Children)
}

func TestBuildTree_SelfParent(t *testing.T) {
	tree := BuildTree([]Record{rec(5, 5)})

	assert.Equal(t, []uint32{5}, tree.Roots())
	assert.Equal(t, []uint32{5}, walkPIDs(tree))
}

func TestBuildTree_DuplicatePIDFirstWins(t *testing.T) {
	first := Record{PID: 9, PPID: 0, Name: "first"}
	second := Record{PID: 9, PPID: 0, Name: "second"}

	tree := BuildTree([]Record{first, second})

	require.Equal(t, 1, tree.Len())
	node, _ := tree.Node(9)
	assert.Equal(t, "first", node.Record.Name)
}

func TestBuildTree_CycleIsBroken(t *testing.T) {
	tree := BuildTree([]Record{rec(10, 20), rec(20, 10), rec(5, 10), rec(1, 0)})

	pids := walkPIDs(tree)
	assert.ElementsMatch(t, []uint32{1, 5, 10, 20}, pids)
	assert.Equal(t, []uint32{1, 10}, tree.Roots())
	assert.Equal(t, []uint32{1, 10, 5, 20}, pids)
}

func TestBuildTree_Invariants(t *testing.T) {
	records := []Record{
		rec(1, 0), rec(2, 1), rec(3, 1), rec(4, 2), rec(5, 99),
		rec(6, 5), rec(7, 7), rec(8, 9), rec(9, 8), rec(10, 3),
	}
	tree := BuildTree(records)

	seen := make(map[uint32]int)
	parentOf := make(map[uint32]uint32)
	for _, r := range records {
		node, ok := tree.Node(r.PID)
		require.True(t, ok)
		for _, child := range node.Children {
			_, dup := parentOf[child]
			assert.False(t, dup, "pid %d has two parents", child)
			parentOf[child] = r.PID
		}
	}

	for i, r := range tree.Walk() {
		_, visited := seen[r.PID]
		require.False(t, visited, "pid %d visited twice", r.PID)
		seen[r.PID] = i
		if parent, ok := parentOf[r.PID]; ok {
			assert.Less(t, seen[parent], i, "pid %d visited before parent %d", r.PID, parent)
			assert.Equal(t, parent, r.PPID)
		}
	}
	assert.Len(t, seen, len(records))
}

func TestBuildTree_StableOrder(t *testing.T) {
	a := []Record{rec(1, 0), rec(4, 1), rec(3, 1), rec(2, 1)}
	b := []Record{rec(2, 1), rec(3, 1), rec(1, 0), rec(4, 1)}

	assert.Equal(t, walkPIDs(BuildTree(a)), walkPIDs(BuildTree(b)))
}

func TestBuildTree_Empty(t *testing.T) {
	tree := BuildTree(nil)

	assert.Equal(t, 0, tree.Len())
	assert.Empty(t, tree.Walk())
}
