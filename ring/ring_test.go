package ring_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SystemGarden/habitat-sub003/ring"
	"github.com/SystemGarden/habitat-sub003/store"
	"github.com/SystemGarden/habitat-sub003/store/bolt"
	"github.com/SystemGarden/habitat-sub003/table"
)

func openRing(t *testing.T, name string, capacity, dur int64) (*ring.Handle, string) {
	t.Helper()
	path := t.TempDir() + "/test.rs"
	h, err := ring.Open(ring.OpenOptions{
		Backend:      bolt.New(),
		Path:         path,
		Perm:         0o600,
		Name:         name,
		Long:         name,
		About:        "test ring",
		SlotCapacity: capacity,
		Duration:     dur,
		Create:       true,
	})
	require.NoError(t, err)
	return h, path
}

func singleRow(columns []string, values ...string) *table.Table {
	tb := table.New(columns...)
	tb.AddRow(values...)
	return tb
}

// scenario 1
func TestPutGetSingleRowWithMeta(t *testing.T) {
	h, _ := openRing(t, "R", 5, 5)
	defer h.Close()

	in := singleRow([]string{"tom", "dick", "harry"}, "1", "2", "3")
	require.NoError(t, h.Put(in))

	got, err := h.Get(true)
	require.NoError(t, err)
	assert.Equal(t, []string{"tom", "dick", "harry", table.SeqCol, table.TimeCol, table.DurCol}, got.Columns)
	require.Equal(t, 1, got.NRows())
	assert.Equal(t, "0", got.Value(0, table.SeqCol))
	assert.Equal(t, "5", got.Value(0, table.DurCol))
	assert.Equal(t, "1", got.Value(0, "tom"))
	assert.Equal(t, "3", got.Value(0, "harry"))
}

// scenario 2
func TestPutThreeSeparateRowsGetSequentially(t *testing.T) {
	h, _ := openRing(t, "R", 5, 1)
	defer h.Close()

	for _, v := range []string{"10", "20", "30"} {
		require.NoError(t, h.Put(singleRow([]string{"v"}, v)))
	}

	for i, want := range []string{"10", "20", "30"} {
		got, err := h.Get(true)
		require.NoError(t, err)
		assert.Equal(t, want, got.Value(0, "v"))
		assert.Equal(t, int64(i), seqOf(t, got))
	}

	_, err := h.Get(false)
	require.Error(t, err)
	assert.True(t, store.Is(err, store.KindNotFound))
}

// scenario 3
func TestPutMultiSeqTableThenSequentialGets(t *testing.T) {
	h, _ := openRing(t, "R", 5, 1)
	defer h.Close()

	tb := table.New("_seq", "v")
	tb.AddRow("0", "a")
	tb.AddRow("1", "b")
	tb.AddRow("2", "c")
	require.NoError(t, h.Put(tb))

	for i, want := range []string{"a", "b", "c"} {
		got, err := h.Get(true)
		require.NoError(t, err)
		assert.Equal(t, want, got.Value(0, "v"))
		assert.Equal(t, int64(i), seqOf(t, got))
	}
}

// scenario 4
func TestEvictionAdvancesOldestAndGotoSeq(t *testing.T) {
	h, _ := openRing(t, "R", 5, 1)
	defer h.Close()

	for i := 0; i < 7; i++ {
		require.NoError(t, h.Put(singleRow([]string{"v"}, string(rune('a'+i)))))
	}

	assert.Equal(t, int64(2), h.Oldest())
	assert.Equal(t, int64(6), h.Youngest())

	h.GotoSeq(0)
	got, err := h.Get(true)
	require.NoError(t, err)
	assert.Equal(t, "c", got.Value(0, "v")) // originally seq 2
}

func TestGetOnEmptyRingReturnsNoData(t *testing.T) {
	h, _ := openRing(t, "R", 5, 1)
	defer h.Close()

	_, err := h.Get(false)
	require.Error(t, err)
	assert.True(t, store.Is(err, store.KindNotFound))
}

func TestPutEmptyTableIsNoOp(t *testing.T) {
	h, _ := openRing(t, "R", 5, 1)
	defer h.Close()

	require.NoError(t, h.Put(table.New("v")))
	assert.Equal(t, int64(-1), h.Youngest())
}

func TestPurgeAllThenPutSequenceNeverRewinds(t *testing.T) {
	h, _ := openRing(t, "R", 0, 1)
	defer h.Close()

	for i := 0; i < 3; i++ {
		require.NoError(t, h.Put(singleRow([]string{"v"}, "x")))
	}

	n, err := h.Purge(10)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	require.NoError(t, h.Put(singleRow([]string{"v"}, "y")))
	got, err := h.Get(true)
	require.NoError(t, err)
	assert.Equal(t, int64(3), seqOf(t, got))
}

func TestDestroyNonexistentRingFails(t *testing.T) {
	path := t.TempDir() + "/test.rs"
	b := bolt.New()
	conn, err := b.Open(path, 0o600, true)
	require.NoError(t, err)
	conn.Close()

	err = ring.Destroy(b, path, "nope", 1)
	require.Error(t, err)
	assert.True(t, store.Is(err, store.KindNotFound))
}

func TestDestroyRemovesRingAndRevokesHandle(t *testing.T) {
	b := bolt.New()
	h, path := openRing(t, "R", 5, 1)
	require.NoError(t, h.Put(singleRow([]string{"v"}, "z")))

	require.NoError(t, ring.Destroy(b, path, "R", 1))

	_, err := h.Get(false)
	require.Error(t, err)
	assert.True(t, store.Is(err, store.KindRingRevoked))
}

func seqOf(t *testing.T, tb *table.Table) int64 {
	t.Helper()
	v, ok := tb.NumericValue(0, table.SeqCol)
	require.True(t, ok)
	return int64(v)
}
