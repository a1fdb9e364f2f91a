package catchup_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SystemGarden/habitat-sub003/agg"
	"github.com/SystemGarden/habitat-sub003/catchup"
	"github.com/SystemGarden/habitat-sub003/ring"
	"github.com/SystemGarden/habitat-sub003/store/bolt"
	"github.com/SystemGarden/habitat-sub003/table"
)

type recordingSink struct {
	writes []*table.Table
}

func (s *recordingSink) Write(t *table.Table) error {
	s.writes = append(s.writes, t)
	return nil
}

func openTestRing(t *testing.T) *ring.Handle {
	t.Helper()
	path := t.TempDir() + "/test.rs"
	h, err := ring.Open(ring.OpenOptions{
		Backend:      bolt.New(),
		Path:         path,
		Perm:         0o600,
		Name:         "R",
		SlotCapacity: 100,
		Duration:     1,
		Create:       true,
	})
	require.NoError(t, err)
	return h
}

func TestTickDoesNothingWhenNoNewSamples(t *testing.T) {
	h := openTestRing(t)
	defer h.Close()

	sink := &recordingSink{}
	sess := catchup.New(agg.LAST, h, sink)

	require.NoError(t, sess.Tick())
	assert.Empty(t, sink.writes)
}

func TestTickPassesThroughSingleSample(t *testing.T) {
	h := openTestRing(t)
	defer h.Close()

	sink := &recordingSink{}
	sess := catchup.New(agg.LAST, h, sink)

	tb := table.New("v")
	tb.AddRow("1.00")
	require.NoError(t, h.Put(tb))

	require.NoError(t, sess.Tick())
	require.Len(t, sink.writes, 1)
	assert.Equal(t, "1.00", sink.writes[0].Value(0, "v"))
}

func TestTickAggregatesTwoOrMoreSamples(t *testing.T) {
	h := openTestRing(t)
	defer h.Close()

	sink := &recordingSink{}
	sess := catchup.New(agg.SUM, h, sink)

	for _, v := range []string{"1.00", "2.00", "3.00"} {
		tb := table.New("v")
		tb.AddRow(v)
		require.NoError(t, h.Put(tb))
	}

	require.NoError(t, sess.Tick())
	require.Len(t, sink.writes, 1)
	assert.Equal(t, "6.00", sink.writes[0].Value(0, "v"))

	require.NoError(t, sess.Tick())
	assert.Len(t, sink.writes, 1, "second tick with no new samples should not write again")
}
