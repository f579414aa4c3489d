package scheduler

import (
	"container/heap"

	"github.com/me/kernsim/pkg/model"
)

// runQueue holds the READY processes ordered by dispatch preference:
// highest priority first, then the one dispatched longest ago (never
// dispatched counts as oldest), then lowest pid.
type runQueue struct {
	items []*model.Process
	index map[uint32]int
}

func newRunQueue(capacity int) *runQueue {
	return &runQueue{
		items: make([]*model.Process, 0, capacity),
		index: make(map[uint32]int, capacity),
	}
}

func (q *runQueue) Len() int { return len(q.items) }

func (q *runQueue) Less(i, j int) bool {
	a, b := q.items[i], q.items[j]
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if a.LastDispatch != b.LastDispatch {
		return a.LastDispatch < b.LastDispatch
	}
	return a.PID < b.PID
}

func (q *runQueue) Swap(i, j int) {
	q.items[i], q.items[j] = q.items[j], q.items[i]
	q.index[q.items[i].PID] = i
	q.index[q.items[j].PID] = j
}

func (q *runQueue) Push(x any) {
	p := x.(*model.Process)
	q.index[p.PID] = len(q.items)
	q.items = append(q.items, p)
}

func (q *runQueue) Pop() any {
	n := len(q.items)
	p := q.items[n-1]
	q.items[n-1] = nil
	q.items = q.items[:n-1]
	delete(q.index, p.PID)
	return p
}

// enqueue adds a READY process; a process already queued is left alone.
func (q *runQueue) enqueue(p *model.Process) {
	if _, ok := q.index[p.PID]; ok {
		return
	}
	heap.Push(q, p)
}

// dequeue removes and returns the preferred process, nil when empty.
func (q *runQueue) dequeue() *model.Process {
	if len(q.items) == 0 {
		return nil
	}
	return heap.Pop(q).(*model.Process)
}

// fix restores heap order after p's priority changed.
func (q *runQueue) fix(p *model.Process) {
	if i, ok := q.index[p.PID]; ok {
		heap.Fix(q, i)
	}
}

// remove drops pid from the queue if present.
func (q *runQueue) remove(pid uint32) {
	if i, ok := q.index[pid]; ok {
		heap.Remove(q, i)
	}
}
