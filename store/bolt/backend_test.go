package bolt

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SystemGarden/habitat-sub003/store"
)

func openTemp(t *testing.T) store.Conn {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.rs")
	conn, err := New().Open(path, 0o600, true)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestOpenRejectsMissingWithoutCreate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nope.rs")
	_, err := New().Open(path, 0o600, false)
	require.Error(t, err)
	assert.True(t, store.Is(err, store.KindNotFound))
}

func TestOpenWritesFreshSuperblock(t *testing.T) {
	conn := openTemp(t)
	super, err := conn.ReadSuper()
	require.NoError(t, err)
	assert.Equal(t, store.Magic, super.Magic)
	assert.Equal(t, int64(0), super.Generation)
	assert.Equal(t, int64(0), super.RingCounter)
}

func TestOpenRejectsBadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.rs")
	conn, err := New().Open(path, 0o600, true)
	require.NoError(t, err)
	super, err := conn.ReadSuper()
	require.NoError(t, err)
	super.Magic = "NOPE"
	require.NoError(t, conn.WriteSuper(super))
	conn.Close()

	_, err = New().Open(path, 0o600, false)
	require.Error(t, err)
	assert.True(t, store.Is(err, store.KindWrongFormat))
}

func TestRingDirRoundTrip(t *testing.T) {
	conn := openTemp(t)
	dir := store.RingDir{
		{Name: "cpu", Dur: 5, ID: 1, Long: "CPU usage", About: "desc", NSlots: 100},
		{Name: "cpu", Dur: 60, ID: 2, Long: "CPU usage hourly", NSlots: 0},
	}
	require.NoError(t, conn.WriteRingDir(dir))
	got, err := conn.ReadRingDir()
	require.NoError(t, err)
	assert.Equal(t, dir, got)

	row, ok := got.Find("cpu", 5)
	require.True(t, ok)
	assert.Equal(t, int64(1), row.ID)

	byName := got.FindByName("cpu")
	assert.Len(t, byName, 2)
}

func TestHeaderDictRoundTrip(t *testing.T) {
	conn := openTemp(t)
	dict := store.HeaderDict{
		1: "a\tb\tc",
		2: "d\te\tf",
	}
	require.NoError(t, conn.WriteHeaders(dict))
	got, err := conn.ReadHeaders()
	require.NoError(t, err)
	assert.Equal(t, dict, got)
}

func TestIndexAndDataBlocksRoundTrip(t *testing.T) {
	conn := openTemp(t)
	const ringID = 7

	idx := store.Index{
		{Seq: 0, Time: 100, HeaderHash: 42},
		{Seq: 1, Time: 105, HeaderHash: 42},
	}
	require.NoError(t, conn.WriteIndex(ringID, idx))
	got, err := conn.ReadIndex(ringID)
	require.NoError(t, err)
	assert.Equal(t, idx, got)

	blocks := []store.DataBlock{
		{Time: 100, HeaderHash: 42, Body: []byte("1\t2\t3")},
		{Time: 105, HeaderHash: 42, Body: []byte("4\t5\t6")},
	}
	n, err := conn.AppendDataBlocks(ringID, 0, blocks)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	read, err := conn.ReadDataBlocks(ringID, 0, 2)
	require.NoError(t, err)
	require.Len(t, read, 2)
	assert.Equal(t, int64(0), read[0].Seq)
	assert.Equal(t, []byte("1\t2\t3"), read[0].Body)

	// missing block is silently skipped, not an error.
	read, err = conn.ReadDataBlocks(ringID, 0, 3)
	require.NoError(t, err)
	assert.Len(t, read, 2)

	removed, err := conn.ExpireDataBlocks(ringID, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	read, err = conn.ReadDataBlocks(ringID, 0, 2)
	require.NoError(t, err)
	require.Len(t, read, 1)
	assert.Equal(t, int64(1), read[0].Seq)

	require.NoError(t, conn.RemoveIndex(ringID))
	got, err = conn.ReadIndex(ringID)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestCommitAppendWritesBlocksAndIndexTogether(t *testing.T) {
	conn := openTemp(t)
	const ringID = 9

	idx := store.Index{
		{Seq: 0, Time: 100, HeaderHash: 1},
		{Seq: 1, Time: 105, HeaderHash: 1},
	}
	blocks := []store.DataBlock{
		{Time: 100, HeaderHash: 1, Body: []byte("1")},
		{Time: 105, HeaderHash: 1, Body: []byte("2")},
	}

	n, err := conn.CommitAppend(ringID, 0, blocks, idx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	gotIdx, err := conn.ReadIndex(ringID)
	require.NoError(t, err)
	assert.Equal(t, idx, gotIdx)

	gotBlocks, err := conn.ReadDataBlocks(ringID, 0, 2)
	require.NoError(t, err)
	require.Len(t, gotBlocks, 2)
	assert.Equal(t, []byte("1"), gotBlocks[0].Body)
	assert.Equal(t, []byte("2"), gotBlocks[1].Body)
}

func TestLockModes(t *testing.T) {
	conn := openTemp(t)

	require.NoError(t, conn.Lock(store.LockRead, "t1"))
	require.NoError(t, conn.Lock(store.LockRead, "t2"))
	require.NoError(t, conn.Unlock())
	require.NoError(t, conn.Unlock())

	require.NoError(t, conn.Lock(store.LockWrite, "writer"))
	err := conn.TryLock(store.LockWrite, "other")
	require.Error(t, err)
	assert.True(t, store.Is(err, store.KindLocked))
	require.NoError(t, conn.Unlock())

	require.NoError(t, conn.TryLock(store.LockWrite, "writer2"))
	require.NoError(t, conn.Unlock())
}
