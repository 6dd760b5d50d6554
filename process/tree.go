package process

import "sort"

// Node is a tree entry. Children are pids resolved through the owning Tree.
type Node struct {
	Record   Record
	Children []uint32
}

// Tree is a parent/child forest built from a single snapshot.
type Tree struct {
	nodes map[uint32]*Node
	roots []uint32
}

// BuildTree indexes records by pid and links each to its parent. A record is
// a root when its ppid is zero, names itself, or is absent from the snapshot.
// When two records share a pid the first one wins. Children and roots are
// ordered by ascending pid so traversal is reproducible.
func BuildTree(records []Record) *Tree {
	t := &Tree{nodes: make(map[uint32]*Node, len(records))}
	order := make([]uint32, 0, len(records))

	for _, rec := range records {
		if _, dup := t.nodes[rec.PID]; dup {
			continue
		}
		t.nodes[rec.PID] = &Node{Record: rec}
		order = append(order, rec.PID)
	}

	for _, pid := range order {
		node := t.nodes[pid]
		ppid := node.Record.PPID
		parent, ok := t.nodes[ppid]
		if ppid == 0 || ppid == pid || !ok {
			t.roots = append(t.roots, pid)
			continue
		}
		parent.Children = append(parent.Children, pid)
	}

	for _, node := range t.nodes {
		sortPIDs(node.Children)
	}
	sortPIDs(t.roots)

	t.breakCycles()
	return t
}

// breakCycles promotes nodes that no root reaches. Such nodes can only exist
// when parent links form a loop, which a racy snapshot can produce.
func (t *Tree) breakCycles() {
	reached := make(map[uint32]bool, len(t.nodes))
	t.mark(t.roots, reached)
	if len(reached) == len(t.nodes) {
		return
	}

	pending := make([]uint32, 0, len(t.nodes)-len(reached))
	for pid := range t.nodes {
		if !reached[pid] {
			pending = append(pending, pid)
		}
	}
	sortPIDs(pending)

	for _, pid := range pending {
		if reached[pid] {
			continue
		}
		root := t.cycleMin(pid)
		parent := t.nodes[t.nodes[root].Record.PPID]
		parent.Children = removePID(parent.Children, root)
		t.roots = append(t.roots, root)
		t.mark([]uint32{root}, reached)
	}
	sortPIDs(t.roots)
}

// cycleMin follows parent links from an unreached pid until they loop and
// returns the smallest pid on the loop.
func (t *Tree) cycleMin(pid uint32) uint32 {
	seen := make(map[uint32]bool)
	cur := pid
	for !seen[cur] {
		seen[cur] = true
		cur = t.nodes[cur].Record.PPID
	}

	lowest := cur
	for next := t.nodes[cur].Record.PPID; next != cur; next = t.nodes[next].Record.PPID {
		if next < lowest {
			lowest = next
		}
	}
	return lowest
}

func (t *Tree) mark(start []uint32, reached map[uint32]bool) {
	stack := append([]uint32(nil), start...)
	for len(stack) > 0 {
		pid := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if reached[pid] {
			continue
		}
		reached[pid] = true
		stack = append(stack, t.nodes[pid].Children...)
	}
}

// Walk returns every record depth-first, parents before descendants.
func (t *Tree) Walk() []Record {
	out := make([]Record, 0, len(t.nodes))
	stack := make([]uint32, 0, len(t.roots))
	for i := len(t.roots) - 1; i >= 0; i-- {
		stack = append(stack, t.roots[i])
	}

	for len(stack) > 0 {
		pid := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		node := t.nodes[pid]
		out = append(out, node.Record)
		for i := len(node.Children) - 1; i >= 0; i-- {
			stack = append(stack, node.Children[i])
		}
	}
	return out
}

// Node returns the node for pid.
func (t *Tree) Node(pid uint32) (*Node, bool) {
	n, ok := t.nodes[pid]
	return n, ok
}

// Roots returns root pids in ascending order.
func (t *Tree) Roots() []uint32 {
	return append([]uint32(nil), t.roots...)
}

func (t *Tree) Len() int {
	return len(t.nodes)
}

func sortPIDs(pids []uint32) {
	sort.Slice(pids, func(i, j int) bool { return pids[i] < pids[j] })
}

func removePID(pids []uint32, pid uint32) []uint32 {
	for i, p := range pids {
		if p == pid {
			return append(pids[:i], pids[i+1:]...)
		}
	}
	return pids
}
