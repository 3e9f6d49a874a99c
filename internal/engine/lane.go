package engine

import "sync"

// TriggerKind distinguishes what a trigger asks the engine to run.
type TriggerKind int

const (
	// TriggerRule runs one rule by id.
	TriggerRule TriggerKind = iota + 1
	// TriggerSet runs one rule set by id.
	TriggerSet
	// TriggerAll runs every stored rule.
	TriggerAll
	// TriggerDue runs the listed rules as one scheduled pass.
	TriggerDue
)

// Trigger is one unit of work for the run lane.
type Trigger struct {
	Kind    TriggerKind
	ID      string
	RuleIDs []string // TriggerDue only
	Opts    RunOptions

	// done, when non-nil, receives the pass result; used by the
	// synchronous Run* entry points. Fire-and-forget triggers
	// (scheduler ticks) leave it nil.
	done chan laneResult
}

type laneResult struct {
	pass *PassResult
	err  error
}

// runLane is the single serialized execution lane: a thread-safe FIFO
// of triggers consumed by exactly one worker goroutine, so no two
// passes ever overlap.
//
// The lane is unbounded; scheduler ticks and manual triggers may
// arrive while a slow pass is running without blocking the caller.
// A channel signals availability so the worker can wait
// context-aware, and fire-and-forget duplicates of an already-queued
// trigger coalesce instead of piling up.
type runLane struct {
	mu       sync.Mutex
	triggers []Trigger
	closed   bool
	signal   chan struct{} // Signals trigger availability (buffered, size 1)
}

func newRunLane() *runLane {
	return &runLane{
		triggers: make([]Trigger, 0, 16),
		signal:   make(chan struct{}, 1),
	}
}

// Enqueue adds a trigger to the back of the lane.
// Thread-safe: may be called from any goroutine.
// Returns false if the lane is closed or the trigger coalesced away.
func (l *runLane) Enqueue(t Trigger) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return false
	}

	// Fire-and-forget triggers coalesce: a tick asking for work that
	// is already queued identically adds nothing.
	if t.done == nil {
		for _, queued := range l.triggers {
			if queued.done == nil && sameTrigger(queued, t) {
				return false
			}
		}
	}

	l.triggers = append(l.triggers, t)

	// Non-blocking signal - buffer of 1 coalesces multiple signals.
	select {
	case l.signal <- struct{}{}:
	default:
	}
	return true
}

func sameTrigger(a, b Trigger) bool {
	if a.Kind != b.Kind || a.ID != b.ID {
		return false
	}
	if len(a.RuleIDs) != len(b.RuleIDs) {
		return false
	}
	for i := range a.RuleIDs {
		if a.RuleIDs[i] != b.RuleIDs[i] {
			return false
		}
	}
	return a.Opts.equal(b.Opts)
}

// TryDequeue attempts to dequeue without blocking.
// Returns (Trigger{}, false) if the lane is empty.
func (l *runLane) TryDequeue() (Trigger, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.triggers) == 0 {
		return Trigger{}, false
	}

	t := l.triggers[0]

	// Nil out the slot so the backing array doesn't retain the
	// trigger's channel and slices.
	l.triggers[0] = Trigger{}
	if len(l.triggers) == 1 {
		l.triggers = l.triggers[:0]
	} else {
		l.triggers = l.triggers[1:]
	}
	return t, true
}

// Wait returns a channel that signals when triggers may be available.
// Use with select for context-aware waiting.
func (l *runLane) Wait() <-chan struct{} {
	return l.signal
}

// Len returns the current queue length.
func (l *runLane) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.triggers)
}

// Close signals that no more triggers will be enqueued and wakes any
// blocked waiters.
func (l *runLane) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}
	l.closed = true
	close(l.signal)
}
