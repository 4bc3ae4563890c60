package sim

import "container/heap"

// EventKind discriminates what a scheduled event does when it fires.
type EventKind int

const (
	EventJoin EventKind = iota
	EventLeave
	EventRouteProbe
)

// Event is one scheduled occurrence at a logical tick. Seq breaks ties
// between events scheduled for the same tick in insertion order, so the
// same schedule always replays identically regardless of heap internals.
type Event struct {
	Tick int64
	Kind EventKind
	Peer string
	Key  string
	seq  int64
}

type eventQueue []*Event

func (q eventQueue) Len() int { return len(q) }
func (q eventQueue) Less(i, j int) bool {
	if q[i].Tick != q[j].Tick {
		return q[i].Tick < q[j].Tick
	}
	return q[i].seq < q[j].seq
}
func (q eventQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *eventQueue) Push(x any)   { *q = append(*q, x.(*Event)) }
func (q *eventQueue) Pop() any {
	old := *q
	n := len(old)
	e := old[n-1]
	*q = old[:n-1]
	return e
}

// Scheduler is a deterministic event-driven priority queue: events fire
// in (Tick, insertion order), never by wall-clock or goroutine
// scheduling, so a run is fully reproducible given its seed and schedule.
type Scheduler struct {
	q   eventQueue
	seq int64
}

// NewScheduler returns an empty scheduler.
func NewScheduler() *Scheduler {
	s := &Scheduler{}
	heap.Init(&s.q)
	return s
}

// Schedule enqueues an event to fire at the given logical tick.
func (s *Scheduler) Schedule(tick int64, kind EventKind, peer, key string) {
	s.seq++
	heap.Push(&s.q, &Event{Tick: tick, Kind: kind, Peer: peer, Key: key, seq: s.seq})
}

// Next pops the earliest-scheduled event, or returns false if the queue
// is empty.
func (s *Scheduler) Next() (*Event, bool) {
	if s.q.Len() == 0 {
		return nil, false
	}
	return heap.Pop(&s.q).(*Event), true
}

// Len reports the number of events still pending.
func (s *Scheduler) Len() int { return s.q.Len() }
