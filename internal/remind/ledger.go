package remind

import (
	"time"

	"attendbot/internal/schedule"
)

// ledgerRetention keeps marks long enough to cover any same-day retry, and
// no longer. Day-scoped keys make older marks unreachable anyway.
const ledgerRetention = 24 * time.Hour

// ledger records which (window, day, event) combinations were already
// served, giving each at most one delivery per day.
//
// It is deliberately unsynchronized: only the engine's pass goroutine may
// touch it. The response path and the command handlers have no business
// here, and no reference to it.
type ledger struct {
	marks map[string]time.Time
}

func newLedger() *ledger {
	return &ledger{marks: make(map[string]time.Time)}
}

// sentKey scopes a mark to the window kind, the day it fired, and (for
// per-event windows) the event identity, so a rescheduled session is
// served again.
func sentKey(kind WindowKind, day time.Time, ev string) string {
	return kind.String() + "|" + day.Format(schedule.DateLayout) + "|" + ev
}

func (l *ledger) Sent(key string) bool {
	_, ok := l.marks[key]
	return ok
}

func (l *ledger) Mark(key string, at time.Time) {
	l.marks[key] = at
}

// Sweep evicts expired marks and reports how many went.
func (l *ledger) Sweep(now time.Time) int {
	removed := 0
	for key, at := range l.marks {
		if now.Sub(at) > ledgerRetention {
			delete(l.marks, key)
			removed++
		}
	}
	return removed
}

func (l *ledger) Len() int { return len(l.marks) }
