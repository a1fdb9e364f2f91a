// Package catchup implements the sample-catchup session (spec §4.4): a
// thin read-since-last-seq wrapper that collapses whatever arrived since
// the previous tick with the aggregation operator and forwards the
// result to a sink. The remember-a-position-and-resume shape is the same
// one a reconnecting network client uses to resume from a remembered
// offset, redirected here from a socket offset to a ring sequence.
package catchup

import (
	"github.com/SystemGarden/habitat-sub003/agg"
	"github.com/SystemGarden/habitat-sub003/ring"
	"github.com/SystemGarden/habitat-sub003/store"
	"github.com/SystemGarden/habitat-sub003/table"
)

func isNoData(err error) bool { return store.Is(err, store.KindNotFound) }

// Sink receives the result of one tick.
type Sink interface {
	Write(t *table.Table) error
}

// Session is one source-ring catchup wrapper. It is not safe for
// concurrent use by multiple goroutines (the engine handles it wraps
// carry the same restriction, spec §5).
type Session struct {
	fn     agg.Func
	source *ring.Handle
	sink   Sink

	lastSeq int64
}

// New creates a session over an already-open source handle, remembering
// its current youngest+1 as the starting point (spec §4.4: "remembers the
// last-read sequence, initialized to the ring's youngest + 1 at
// creation").
func New(fn agg.Func, source *ring.Handle, sink Sink) *Session {
	return &Session{
		fn:      fn,
		source:  source,
		sink:    sink,
		lastSeq: source.Youngest() + 1,
	}
}

// Tick implements spec §4.4 steps 1-4: reads everything new since the
// remembered sequence, collapses it if there is more than one sample, and
// forwards the result.
func (s *Session) Tick() error {
	s.source.GotoSeq(s.lastSeq)

	collected, samples, err := collectAll(s.source)
	if err != nil {
		return err
	}
	if samples == 0 {
		return nil
	}

	result := collected
	if samples >= 2 {
		result, err = agg.Apply(s.fn, collected)
		if err != nil {
			return err
		}
	}

	if err := s.sink.Write(result); err != nil {
		return err
	}

	s.lastSeq = s.source.Cursor()
	return nil
}

// collectAll drains every sample from the cursor to the ring's end into
// one merged table, synthesizing meta columns so the aggregation operator
// has _time/_dur to work with. It also returns the number of samples read,
// which can be smaller than the number of rows.
func collectAll(h *ring.Handle) (*table.Table, int, error) {
	var out *table.Table
	samples := 0
	for {
		row, err := h.Get(true)
		if err != nil {
			if isNoData(err) {
				break
			}
			return nil, 0, err
		}
		samples++
		if out == nil {
			out = row
			continue
		}
		out.Rows = append(out.Rows, row.Rows...)
	}
	if out == nil {
		out = table.New()
	}
	return out, samples, nil
}
