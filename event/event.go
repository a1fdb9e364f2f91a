// Package event implements the event operator interface of spec §4.5: an
// ordered, at-least-once consumer of instructions decoded from a ring's
// sample rows, dispatched by a method tag. Execution of an instruction is
// out of scope (spec §1); instructions are queued in ring order and
// executed in that order, and the source cursor advances as samples are
// read (see Dispatcher).
package event

import (
	"encoding/json"

	"github.com/eapache/queue"
	"github.com/tidwall/gjson"

	"github.com/SystemGarden/habitat-sub003/ring"
	"github.com/SystemGarden/habitat-sub003/store"
	"github.com/SystemGarden/habitat-sub003/table"
)

// Instruction is one decoded unit of work pulled from a source ring's
// sample rows.
type Instruction struct {
	Method string
	Args   json.RawMessage
	Seq    int64
}

// Executor runs one instruction. An error does not cause a retry: Drain
// removes the instruction from the queue and goes on with the next one.
type Executor func(Instruction) error

// Dispatcher drains instructions from a source ring in order (spec §4.5).
// Poll moves the source handle's cursor past each sample as it queues the
// sample's instructions, so the cursor tracks what has been read, not what
// has been executed; a queued instruction is not read from the ring again.
// The method tag is read out of each raw payload with gjson and the
// payload itself is passed on undecoded as Args, the same role a type tag
// plays in a typed envelope of {Type string; Payload json.RawMessage}.
type Dispatcher struct {
	source   *ring.Handle
	executor Executor
	pending  *queue.Queue
}

// NewDispatcher wraps source, dispatching drained instructions to
// executor.
func NewDispatcher(source *ring.Handle, executor Executor) *Dispatcher {
	return &Dispatcher{source: source, executor: executor, pending: queue.New()}
}

// instructionColumn is the reserved column an event-operator ring stores
// its raw JSON instruction payload under.
const instructionColumn = "instruction"

// Poll reads any new samples from the source ring and enqueues the
// instructions they carry, without executing them yet.
func (d *Dispatcher) Poll() error {
	for {
		row, err := d.source.Get(true)
		if err != nil {
			if isNoData(err) {
				return nil
			}
			return err
		}
		for r := 0; r < row.NRows(); r++ {
			raw := []byte(row.Value(r, instructionColumn))
			if len(raw) == 0 {
				continue
			}
			seq, _ := row.NumericValue(r, table.SeqCol)
			d.pending.Add(Instruction{
				Method: gjson.GetBytes(raw, "method").String(),
				Args:   json.RawMessage(raw),
				Seq:    int64(seq),
			})
		}
	}
}

// Drain executes every pending instruction in FIFO order, advancing past
// each one regardless of whether its executor returns an error.
func (d *Dispatcher) Drain() error {
	var firstErr error
	for d.pending.Length() > 0 {
		inst := d.pending.Remove().(Instruction)
		if err := d.executor(inst); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func isNoData(err error) bool { return store.Is(err, store.KindNotFound) }
