package pattern_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SystemGarden/habitat-sub003/pattern"
)

// memSource is a fake byte-addressable source: content grows (or shrinks,
// simulating rotation) between ticks.
type memSource struct {
	url     string
	content []byte
}

func (s *memSource) URL() string { return s.url }

func (s *memSource) Stat() (pattern.Stat, error) {
	return pattern.Stat{Size: int64(len(s.content))}, nil
}

func (s *memSource) ReadDelta(since pattern.Stat) ([]byte, error) {
	if int64(len(s.content)) < since.Size {
		// shrinkage: treat the whole content as new.
		return s.content, nil
	}
	return s.content[since.Size:], nil
}

func TestWatcherRaisesOnMatch(t *testing.T) {
	src := &memSource{url: "mem:1"}
	p, err := pattern.NewPattern("err", `ERROR`, pattern.Embargo{MinRepeats: 1})
	require.NoError(t, err)

	var raised []pattern.Event
	w := pattern.NewWatcher([]*pattern.Pattern{p}, func(e pattern.Event) { raised = append(raised, e) })
	w.Add(src)

	src.content = append(src.content, []byte("hello\nERROR disk full\n")...)
	require.NoError(t, w.Tick())

	require.Len(t, raised, 1)
	assert.Equal(t, "mem:1", raised[0].SourceURL)
	assert.Contains(t, raised[0].Line, "ERROR")
}

func TestWatcherTreatsShrinkageAsNewContent(t *testing.T) {
	src := &memSource{url: "mem:1", content: []byte("line one\nline two\n")}
	p, err := pattern.NewPattern("any", `line`, pattern.Embargo{MinRepeats: 1})
	require.NoError(t, err)

	var raised []pattern.Event
	w := pattern.NewWatcher([]*pattern.Pattern{p}, func(e pattern.Event) { raised = append(raised, e) })
	w.Add(src)
	require.NoError(t, w.Tick())
	require.Len(t, raised, 2)

	// simulate rotation: file shrinks back to a single short line.
	raised = nil
	src.content = []byte("line three\n")
	require.NoError(t, w.Tick())
	require.Len(t, raised, 1, "shrinkage should re-scan the entire new content, not error")
}

func TestEmbargoSuppressesRepeatWithinMinInterval(t *testing.T) {
	src := &memSource{url: "mem:1"}
	p, err := pattern.NewPattern("err", `ERROR`, pattern.Embargo{MinInterval: time.Hour, MinRepeats: 1})
	require.NoError(t, err)

	var raised []pattern.Event
	w := pattern.NewWatcher([]*pattern.Pattern{p}, func(e pattern.Event) { raised = append(raised, e) })
	w.Add(src)

	src.content = append(src.content, []byte("ERROR one\n")...)
	require.NoError(t, w.Tick())
	require.Len(t, raised, 1)

	src.content = append(src.content, []byte("ERROR two\n")...)
	require.NoError(t, w.Tick())
	assert.Len(t, raised, 1, "second raise within MinInterval should be suppressed")
}
