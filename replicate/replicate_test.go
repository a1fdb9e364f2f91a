package replicate_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SystemGarden/habitat-sub003/replicate"
	"github.com/SystemGarden/habitat-sub003/ring"
	"github.com/SystemGarden/habitat-sub003/store/bolt"
	"github.com/SystemGarden/habitat-sub003/table"
)

func TestParseDirectiveInbound(t *testing.T) {
	d, err := replicate.ParseDirective("local<remote")
	require.NoError(t, err)
	assert.Equal(t, "local", d.Local)
	assert.Equal(t, "remote", d.Remote)
	assert.Equal(t, replicate.Inbound, d.Direction)
}

func TestParseDirectiveOutbound(t *testing.T) {
	d, err := replicate.ParseDirective("local>remote")
	require.NoError(t, err)
	assert.Equal(t, "local", d.Local)
	assert.Equal(t, "remote", d.Remote)
	assert.Equal(t, replicate.Outbound, d.Direction)
}

func TestParseDirectiveMalformed(t *testing.T) {
	_, err := replicate.ParseDirective("local-remote")
	assert.Error(t, err)
}

// fakeTransport is an in-memory Transport stand-in so tests never dial a
// real socket.
type fakeTransport struct {
	remoteSamples *table.Table
	remoteSeq     int64
	remoteTime    int64

	written *table.Table
}

func (f *fakeTransport) ReadSince(addr string, seq int64) (*table.Table, int64, int64, error) {
	if f.remoteSamples == nil || f.remoteSamples.NRows() == 0 {
		return nil, f.remoteTime, f.remoteSeq, nil
	}
	return f.remoteSamples, f.remoteTime, f.remoteSeq, nil
}

func (f *fakeTransport) Write(addr string, t *table.Table) (int64, int64, error) {
	f.written = t
	f.remoteSeq++
	f.remoteTime = 1000
	return f.remoteSeq, f.remoteTime, nil
}

func openStateRing(t *testing.T) *ring.Handle {
	t.Helper()
	path := t.TempDir() + "/state.rs"
	h, err := ring.Open(ring.OpenOptions{
		Backend:      bolt.New(),
		Path:         path,
		Perm:         0o600,
		Name:         "replication_state",
		SlotCapacity: 1,
		Duration:     1,
		Create:       true,
	})
	require.NoError(t, err)
	return h
}

func TestTickInboundWritesLocalSamplesAndAdvancesState(t *testing.T) {
	state := openStateRing(t)
	defer state.Close()

	localPath := t.TempDir() + "/local.rs"
	engine := ring.NewEngine(bolt.New())
	defer engine.CloseAll()

	remote := table.New("v")
	remote.AddRow("1.00")
	remote.AddRow("2.00")

	transport := &fakeTransport{remoteSamples: remote, remoteSeq: 5, remoteTime: 500}
	r := replicate.New(state, engine, localPath, transport)

	directives := []replicate.Directive{{Local: "mirror", Remote: "http://peer/mirror", Direction: replicate.Inbound}}
	errs := r.Tick(directives)
	assert.Empty(t, errs)

	local, err := engine.Open(ring.OpenOptions{Path: localPath, Name: "mirror", Duration: 1, Create: false})
	require.NoError(t, err)
	got, err := local.MgetRange(ring.Wildcard, ring.Wildcard, ring.Wildcard, ring.Wildcard)
	require.NoError(t, err)
	assert.Equal(t, 2, got.NRows())

	saved, err := state.MgetRange(ring.Wildcard, ring.Wildcard, ring.Wildcard, ring.Wildcard)
	require.NoError(t, err)
	assert.Equal(t, "5", saved.Value(0, "last_remote_seq"))
}

func TestTickOutboundWritesRemoteAndAdvancesState(t *testing.T) {
	state := openStateRing(t)
	defer state.Close()

	localPath := t.TempDir() + "/local.rs"
	engine := ring.NewEngine(bolt.New())
	defer engine.CloseAll()

	local, err := engine.Open(ring.OpenOptions{Path: localPath, Name: "mirror", Duration: 1, Create: true})
	require.NoError(t, err)

	tb := table.New("v")
	tb.AddRow("9.00")
	require.NoError(t, local.Put(tb))

	transport := &fakeTransport{}
	r := replicate.New(state, engine, localPath, transport)

	directives := []replicate.Directive{{Local: "mirror", Remote: "http://peer/mirror", Direction: replicate.Outbound}}
	errs := r.Tick(directives)
	assert.Empty(t, errs)
	require.NotNil(t, transport.written)
	assert.Equal(t, 1, transport.written.NRows())

	// a second tick with no new local samples should not re-send.
	transport.written = nil
	errs = r.Tick(directives)
	assert.Empty(t, errs)
	assert.Nil(t, transport.written)
}

func TestTickCollectsErrorsWithoutAbortingBatch(t *testing.T) {
	state := openStateRing(t)
	defer state.Close()

	localPath := t.TempDir() + "/local.rs"
	engine := ring.NewEngine(bolt.New())
	defer engine.CloseAll()

	transport := &fakeTransport{}
	r := replicate.New(state, engine, localPath, transport)

	// outbound directive against a ring that doesn't exist yet: Open with
	// Create:false should fail, producing one error, while a second,
	// healthy directive in the same batch still succeeds.
	local, err := engine.Open(ring.OpenOptions{Path: localPath, Name: "healthy", Duration: 1, Create: true})
	require.NoError(t, err)
	tb := table.New("v")
	tb.AddRow("1.00")
	require.NoError(t, local.Put(tb))

	directives := []replicate.Directive{
		{Local: "missing", Remote: "http://peer/missing", Direction: replicate.Outbound},
		{Local: "healthy", Remote: "http://peer/healthy", Direction: replicate.Outbound},
	}
	errs := r.Tick(directives)
	require.Len(t, errs, 1)
	assert.NotNil(t, transport.written, "the healthy directive must still run despite the other's failure")
}
