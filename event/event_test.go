package event_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SystemGarden/habitat-sub003/event"
	"github.com/SystemGarden/habitat-sub003/ring"
	"github.com/SystemGarden/habitat-sub003/store/bolt"
	"github.com/SystemGarden/habitat-sub003/table"
)

func openSourceRing(t *testing.T) *ring.Handle {
	t.Helper()
	path := t.TempDir() + "/test.rs"
	h, err := ring.Open(ring.OpenOptions{
		Backend:      bolt.New(),
		Path:         path,
		Perm:         0o600,
		Name:         "events",
		SlotCapacity: 100,
		Duration:     1,
		Create:       true,
	})
	require.NoError(t, err)
	return h
}

func putInstruction(t *testing.T, h *ring.Handle, method string) {
	t.Helper()
	tb := table.New("instruction")
	tb.AddRow(`{"method":"` + method + `","value":1}`)
	require.NoError(t, h.Put(tb))
}

func TestDispatcherExecutesInOrderAndAdvances(t *testing.T) {
	h := openSourceRing(t)
	defer h.Close()

	putInstruction(t, h, "restart")
	putInstruction(t, h, "sample")
	putInstruction(t, h, "snap")

	var executed []string
	d := event.NewDispatcher(h, func(i event.Instruction) error {
		executed = append(executed, i.Method)
		return nil
	})

	require.NoError(t, d.Poll())
	require.NoError(t, d.Drain())

	assert.Equal(t, []string{"restart", "sample", "snap"}, executed)

	// a second poll with nothing new should drain nothing further.
	executed = nil
	require.NoError(t, d.Poll())
	require.NoError(t, d.Drain())
	assert.Empty(t, executed)
}

func TestDispatcherAdvancesPastFailingInstruction(t *testing.T) {
	h := openSourceRing(t)
	defer h.Close()

	putInstruction(t, h, "bad")
	putInstruction(t, h, "good")

	var executed []string
	d := event.NewDispatcher(h, func(i event.Instruction) error {
		executed = append(executed, i.Method)
		if i.Method == "bad" {
			return assert.AnError
		}
		return nil
	})

	require.NoError(t, d.Poll())
	err := d.Drain()
	require.Error(t, err)

	assert.Equal(t, []string{"bad", "good"}, executed, "a failing instruction must not block later ones")
}
