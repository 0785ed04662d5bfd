package lockmgr

import (
	"sort"
	"time"
)

// detectionInterval matches spec.md §4.5's "runs roughly every 50ms".
const detectionInterval = 50 * time.Millisecond

// StartDeadlockDetection launches the background wait-for-graph
// detector; calling it while the detector runs is a no-op.
// storageengine.Open starts it once, so it runs for the engine's whole
// lifetime and covers implicit and explicit transactions alike.
func (m *Manager) StartDeadlockDetection() {
	m.mu.Lock()
	if m.detectorOn {
		m.mu.Unlock()
		return
	}
	m.detectorOn = true
	m.detectorStop = make(chan struct{})
	stop := m.detectorStop
	m.mu.Unlock()

	go m.runDetector(stop)
}

func (m *Manager) StopDeadlockDetection() {
	m.mu.Lock()
	if !m.detectorOn {
		m.mu.Unlock()
		return
	}
	m.detectorOn = false
	close(m.detectorStop)
	m.mu.Unlock()
}

func (m *Manager) runDetector(stop chan struct{}) {
	ticker := time.NewTicker(detectionInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.detectOnce()
		}
	}
}

// waitForGraph maps a waiting txn_id to the sorted set of txn_ids
// holding locks it is blocked behind, built fresh on every detector
// tick from each table's queue (pending -> granted edges).
func (m *Manager) buildWaitForGraph() map[int32][]int32 {
	m.waitMu.Lock()
	waiters := make(map[int32]*queue, len(m.waitForQueue))
	for txnID, q := range m.waitForQueue {
		waiters[txnID] = q
	}
	m.waitMu.Unlock()

	graph := make(map[int32][]int32, len(waiters))
	for txnID, q := range waiters {
		q.mu.Lock()
		var edges []int32
		for _, g := range q.granted {
			if g.txn.ID() != txnID {
				edges = append(edges, g.txn.ID())
			}
		}
		q.mu.Unlock()
		sort.Slice(edges, func(i, j int) bool { return edges[i] < edges[j] })
		graph[txnID] = edges
	}
	return graph
}

// detectOnce runs one round of cycle detection, aborting the youngest
// (max txn_id) transaction on each cycle found, then rebuilding the
// graph and repeating until no cycle remains — per spec.md §4.5 step 4.
func (m *Manager) detectOnce() {
	for {
		graph := m.buildWaitForGraph()
		cycle := findCycle(graph)
		if cycle == nil {
			return
		}
		victim := maxInPath(cycle)
		m.abortVictim(victim)
	}
}

// findCycle runs DFS from every node with sorted adjacency lists for
// deterministic traversal, returning the first cycle's node path, or
// nil if the graph is acyclic.
func findCycle(graph map[int32][]int32) []int32 {
	nodes := make([]int32, 0, len(graph))
	for n := range graph {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i] < nodes[j] })

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[int32]int, len(nodes))
	var stack []int32

	var visit func(n int32) []int32
	visit = func(n int32) []int32 {
		color[n] = gray
		stack = append(stack, n)
		for _, next := range graph[n] {
			switch color[next] {
			case white:
				if cyc := visit(next); cyc != nil {
					return cyc
				}
			case gray:
				start := 0
				for i, v := range stack {
					if v == next {
						start = i
						break
					}
				}
				return append([]int32(nil), stack[start:]...)
			}
		}
		stack = stack[:len(stack)-1]
		color[n] = black
		return nil
	}

	for _, n := range nodes {
		if color[n] == white {
			if cyc := visit(n); cyc != nil {
				return cyc
			}
		}
	}
	return nil
}

func maxInPath(path []int32) int32 {
	max := path[0]
	for _, v := range path[1:] {
		if v > max {
			max = v
		}
	}
	return max
}

// abortVictim marks the victim transaction ABORTED and wakes every
// queue it might be waiting in so it observes the state change and
// unwinds out of LockOnTable.
func (m *Manager) abortVictim(victimID int32) {
	m.waitMu.Lock()
	q, ok := m.waitForQueue[victimID]
	m.waitMu.Unlock()
	if !ok {
		return
	}

	q.mu.Lock()
	for _, p := range q.pending {
		if p.txn.ID() == victimID {
			p.txn.MarkAborted()
			break
		}
	}
	q.cond.Broadcast()
	q.mu.Unlock()
}
