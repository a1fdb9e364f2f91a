package ring

import (
	"strconv"

	"github.com/SystemGarden/habitat-sub003/store"
	"github.com/SystemGarden/habitat-sub003/table"
)

// noData is returned by Get and the mget family when a read found nothing
// to return; callers distinguish it from a hard error with
// store.Is(err, store.KindNotFound).
func noData(op string) error {
	return store.New(store.KindNotFound, op, nil)
}

// Get implements the stateful read cursor (spec §4.2.3). includeMeta
// synthesizes _seq/_time/_dur columns into the returned table.
func (h *Handle) Get(includeMeta bool) (*table.Table, error) {
	if err := h.checkRevoked("ring.Get"); err != nil {
		return nil, err
	}

	if err := h.conn.Lock(store.LockRead, "ring.Get"); err != nil {
		return nil, err
	}
	defer h.conn.Unlock()

	h.clampCursor()

	blocks, err := h.conn.ReadDataBlocks(h.ringID, h.cursor, 1)
	if err != nil {
		return nil, err
	}
	if len(blocks) == 1 {
		h.cursor++
		return h.buildRow(blocks[0], includeMeta)
	}

	// Slow path (spec §4.2.3 step 3): the block is absent.
	dir, err := h.conn.ReadRingDir()
	if err != nil {
		return nil, err
	}
	if _, found := dir.FindByID(h.ringID); !found {
		h.ringID = revokedRingID
		return nil, store.New(store.KindRingRevoked, "ring.Get", nil)
	}

	idx, err := h.conn.ReadIndex(h.ringID)
	if err != nil {
		return nil, err
	}
	if len(idx) == 0 {
		h.oldest, h.youngest = 0, -1
		return nil, noData("ring.Get")
	}
	h.oldest = idx[0].Seq
	h.youngest = idx[len(idx)-1].Seq
	// Only a cursor left behind by eviction moves forward; a cursor already
	// past the youngest sample stays put, so reading off the end reports
	// no data rather than wrapping back to the oldest sample.
	if h.cursor < h.oldest {
		h.cursor = h.oldest
	}

	blocks, err = h.conn.ReadDataBlocks(h.ringID, h.cursor, 1)
	if err != nil {
		return nil, err
	}
	if len(blocks) != 1 {
		return nil, noData("ring.Get")
	}
	h.cursor++
	return h.buildRow(blocks[0], includeMeta)
}

// clampCursor implements spec §4.2.3 step 1.
func (h *Handle) clampCursor() {
	if h.cursor == cursorUnset || h.cursor < h.oldest {
		h.cursor = h.oldest
	}
	if h.cursor > h.youngest+1 {
		h.cursor = h.youngest + 1
	}
}

// buildRow decodes one data block into a table, resolving its header
// through the interning cache (with one reload-on-miss, spec §4.2.3 step
// 2) and optionally synthesizing the _seq/_time/_dur meta columns.
func (h *Handle) buildRow(blk store.DataBlock, includeMeta bool) (*table.Table, error) {
	headerText, err := h.resolveHeader(blk.HeaderHash)
	if err != nil {
		return nil, err
	}
	columns, info, err := table.ParseHeaderText(headerText)
	if err != nil {
		return nil, store.New(store.KindCorrupt, "ring.buildRow", err)
	}

	t := &table.Table{Columns: columns, Info: info}
	t.Rows = table.ParseBody(columns, blk.Body)

	if includeMeta {
		t = withMeta(t, blk.Seq, blk.Time, h.dur)
	}
	return t, nil
}

// withMeta returns a copy of t with _seq, _time and _dur columns appended
// to every row, all carrying the same block-level values (spec §3: these
// columns are carried out-of-band and only synthesized on request).
func withMeta(t *table.Table, seq, blockTime, dur int64) *table.Table {
	n := t.NRows()
	seqs := make([]string, n)
	times := make([]string, n)
	durs := make([]string, n)
	for i := 0; i < n; i++ {
		seqs[i] = strconv.FormatInt(seq, 10)
		times[i] = strconv.FormatInt(blockTime, 10)
		durs[i] = strconv.FormatInt(dur, 10)
	}
	out := t.WithColumn(table.SeqCol, seqs)
	out = out.WithColumn(table.TimeCol, times)
	out = out.WithColumn(table.DurCol, durs)
	return out
}
