// Package pattern implements the pattern operator interface of spec
// §4.5: periodic change detection over backend-agnostic, URL-addressed
// sources, with regular-expression matching and per-pattern embargoes.
// Execution of the raised event is out of scope (spec §1); only
// detection and embargo bookkeeping are implemented here.
package pattern

import (
	"bytes"
	"regexp"
	"time"
)

// Stat is a source's change-detection fingerprint: modification time,
// sequence (for sources with one, e.g. a ring), and size.
type Stat struct {
	ModTime time.Time
	Seq     int64
	Size    int64
}

// Changed reports whether s differs from prev in any field Watcher tracks.
func (s Stat) Changed(prev Stat) bool {
	return !s.ModTime.Equal(prev.ModTime) || s.Seq != prev.Seq || s.Size != prev.Size
}

// Source is one watched, backend-agnostic collaborator, addressed by URL
// (spec §4.5: "backend-agnostic, addressed by URL"). Implementations wrap
// a file, a ring, or any other byte-addressable store.
type Source interface {
	URL() string
	Stat() (Stat, error)
	DeltaReader
}

// DeltaReader reads the bytes appended since a previously observed Stat.
// On source shrinkage (the new size is smaller than what was last seen),
// implementations must return the entire current content rather than
// erroring: a shrink means rotation, not a partial write (spec §4.5,
// grounded on original_source/src/iiab/pattern.c's truncated-log
// handling).
type DeltaReader interface {
	ReadDelta(since Stat) ([]byte, error)
}

// Embargo bounds how often a pattern may raise an event: at least
// MinInterval must have elapsed since the last raise, and at least
// MinRepeats matching lines must have been seen since then. Every matching
// line counts, including several in one tick; a tick with no matching line
// resets the count, and so does a raise.
type Embargo struct {
	MinInterval time.Duration
	MinRepeats  int
}

// Pattern pairs a regular expression with its embargo and the
// mutable state Watcher needs to enforce it.
type Pattern struct {
	name    string
	re      *regexp.Regexp
	embargo Embargo

	lastRaised   time.Time
	repeatStreak int
}

// NewPattern compiles expr and pairs it with embargo under name.
func NewPattern(name, expr string, embargo Embargo) (*Pattern, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, err
	}
	return &Pattern{name: name, re: re, embargo: embargo}, nil
}

// Event is raised when a pattern matches and clears its embargo.
type Event struct {
	SourceURL string
	Pattern   string
	Line      string
	At        time.Time
}

// Raiser is called once per raised Event. Execution of the event is out
// of scope (spec §1); Raiser is the caller's hook to dispatch it
// elsewhere (e.g. into an event.Dispatcher's instruction queue).
type Raiser func(Event)

// watchedSource pairs a Source with the last Stat observed for it.
type watchedSource struct {
	src      Source
	lastStat Stat
	seen     bool
}

// Watcher periodically stats its sources and, on change, scans the delta
// against its compiled patterns (spec §4.5).
type Watcher struct {
	sources  []*watchedSource
	patterns []*Pattern
	raise    Raiser
}

// NewWatcher returns a Watcher over patterns, dispatching matches to
// raise.
func NewWatcher(patterns []*Pattern, raise Raiser) *Watcher {
	return &Watcher{patterns: patterns, raise: raise}
}

// Add registers a source to watch.
func (w *Watcher) Add(src Source) {
	w.sources = append(w.sources, &watchedSource{src: src})
}

// Tick stats every source once and scans any that changed.
func (w *Watcher) Tick() error {
	now := time.Now()
	for _, ws := range w.sources {
		st, err := ws.src.Stat()
		if err != nil {
			return err
		}
		if ws.seen && !st.Changed(ws.lastStat) {
			continue
		}

		delta, err := ws.src.ReadDelta(ws.lastStat)
		if err != nil {
			return err
		}
		ws.lastStat = st
		ws.seen = true

		w.scan(ws.src.URL(), delta, now)
	}
	return nil
}

// scan applies every compiled pattern to each line of delta, raising an
// event for each match that clears its embargo.
func (w *Watcher) scan(url string, delta []byte, now time.Time) {
	if len(delta) == 0 {
		return
	}
	lines := bytes.Split(delta, []byte("\n"))
	for _, p := range w.patterns {
		matched := false
		for _, line := range lines {
			if len(line) == 0 {
				continue
			}
			if p.re.Match(line) {
				matched = true
				if p.allows(now) {
					w.raise(Event{SourceURL: url, Pattern: p.name, Line: string(line), At: now})
				}
			}
		}
		if !matched {
			p.repeatStreak = 0
		}
	}
}

// allows reports whether p's embargo permits a raise now, and updates its
// bookkeeping (repeat streak, last-raised time) as a side effect.
func (p *Pattern) allows(now time.Time) bool {
	p.repeatStreak++
	if p.repeatStreak < p.embargo.MinRepeats {
		return false
	}
	if !p.lastRaised.IsZero() && now.Sub(p.lastRaised) < p.embargo.MinInterval {
		return false
	}
	p.lastRaised = now
	p.repeatStreak = 0
	return true
}
