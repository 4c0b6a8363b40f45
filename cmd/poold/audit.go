// audit.go - Gap-free audit trail fed by a pool subscription
package main

import (
	"github.com/rs/zerolog"

	"github.com/HamzaZF/shieldpool/internal/pool"
)

// eventLog is the part of the pool the auditor reads back from.
type eventLog interface {
	Events(after uint64, limit int) []pool.Event
}

// auditor writes events to sink in sequence order. The subscription it reads may drop events
// under load; any gap is filled from the pool's event log before the next event is written.
type auditor struct {
	events eventLog
	sink   func(pool.Event)
	log    zerolog.Logger
	last   uint64
}

// newAuditor resumes after sequence number last, which must be read before subscribing.
func newAuditor(events eventLog, sink func(pool.Event), log zerolog.Logger, last uint64) *auditor {
	return &auditor{events: events, sink: sink, log: log, last: last}
}

// run consumes ch until it is closed, then writes whatever the log holds beyond the last
// recorded event.
func (a *auditor) run(ch <-chan pool.Event) {
	for ev := range ch {
		a.record(ev)
	}
	a.catchUp()
}

func (a *auditor) record(ev pool.Event) {
	if ev.Seq <= a.last {
		return
	}
	if gap := ev.Seq - a.last - 1; gap > 0 {
		missed := a.events.Events(a.last, int(gap))
		a.log.Warn().
			Uint64("from", a.last+1).
			Uint64("to", ev.Seq-1).
			Int("recovered", len(missed)).
			Msg("audit subscription fell behind, backfilling")
		for _, m := range missed {
			a.write(m)
		}
	}
	a.write(ev)
}

func (a *auditor) catchUp() {
	for _, ev := range a.events.Events(a.last, 0) {
		a.write(ev)
	}
}

func (a *auditor) write(ev pool.Event) {
	a.sink(ev)
	a.last = ev.Seq
}
