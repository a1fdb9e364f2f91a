package ring

import (
	"strconv"
	"time"

	"github.com/SystemGarden/habitat-sub003/store"
	"github.com/SystemGarden/habitat-sub003/table"
)

// block is one partitioned write unit produced from an input table before
// it reaches the backend (spec §4.2.2 step 2).
type block struct {
	time int64
	body *table.Table
}

// Put appends one or more samples from t (spec §4.2.2).
func (h *Handle) Put(t *table.Table) error {
	if err := h.checkRevoked("ring.Put"); err != nil {
		return err
	}

	// The interned header describes the stored body, which never carries
	// the meta columns (they travel out-of-band, step 2 below).
	headerText := t.DropColumns(table.SeqCol, table.TimeCol, table.DurCol).HeaderText()
	hash, err := h.internHeader(headerText)
	if err != nil {
		return err
	}

	blocks := partition(t)
	if len(blocks) == 0 {
		return nil
	}

	if err := h.conn.Lock(store.LockWrite, "ring.Put"); err != nil {
		return err
	}
	defer h.conn.Unlock()

	idx, err := h.conn.ReadIndex(h.ringID)
	if err != nil {
		return err
	}

	// The next sequence to allocate is the handle's own high-water mark,
	// not merely "index last + 1": a ring purged down to zero live rows
	// still must not reuse sequence numbers (spec §8 boundary law,
	// "sequences never rewind"), and the index alone cannot distinguish
	// a freshly created ring from one purged empty.
	nextSeq := h.youngest + 1
	if len(idx) > 0 && idx[len(idx)-1].Seq+1 > nextSeq {
		nextSeq = idx[len(idx)-1].Seq + 1
	}

	dataBlocks := make([]store.DataBlock, len(blocks))
	for i, b := range blocks {
		dataBlocks[i] = store.DataBlock{
			Time:       b.time,
			HeaderHash: hash,
			Body:       b.body.EncodeBody(),
		}
		idx = append(idx, store.IndexRow{Seq: nextSeq + int64(i), Time: b.time, HeaderHash: hash})
	}

	// The data blocks and the index entries that name them are committed
	// in one transaction (store.Conn.CommitAppend), so a crash between
	// writing a block and recording it in the index is structurally
	// impossible rather than merely tolerated on read.
	n, err := h.conn.CommitAppend(h.ringID, nextSeq, dataBlocks, idx)
	if err != nil {
		return err
	}

	h.youngest = nextSeq + int64(n) - 1
	if h.oldest < 0 {
		h.oldest = 0
	}

	if h.nslots > 0 && h.youngest-h.oldest+1 > h.nslots {
		oldOldest := h.oldest
		newOldest := h.youngest - h.nslots + 1

		kept := idx[:0]
		for _, row := range idx {
			if row.Seq >= newOldest {
				kept = append(kept, row)
			}
		}
		idx = kept

		if _, err := h.conn.ExpireDataBlocks(h.ringID, oldOldest, newOldest-1); err != nil {
			return err
		}
		h.oldest = newOldest

		return h.conn.WriteIndex(h.ringID, idx)
	}

	return nil
}

// partition splits t into per-block writes per spec §4.2.2 step 2: one
// block per distinct _seq if present, else one per distinct _time, else
// the whole table as a single block stamped with the current time.
func partition(t *table.Table) []block {
	switch {
	case t.HasColumn(table.SeqCol):
		return partitionByColumn(t, table.SeqCol)
	case t.HasColumn(table.TimeCol):
		return partitionByColumn(t, table.TimeCol)
	default:
		stripped := t.DropColumns(table.SeqCol, table.TimeCol, table.DurCol)
		if stripped.NRows() == 0 {
			return nil
		}
		return []block{{time: nowUnix(), body: stripped}}
	}
}

// partitionByColumn groups rows sharing the same value of col (read in
// first-occurrence order) into one block each, stamped with that group's
// _time value (or now() if the group has none).
func partitionByColumn(t *table.Table, col string) []block {
	order := make([]string, 0)
	groups := make(map[string][]int)
	for r := 0; r < t.NRows(); r++ {
		v := t.Value(r, col)
		if _, seen := groups[v]; !seen {
			order = append(order, v)
		}
		groups[v] = append(groups[v], r)
	}

	stripped := t.DropColumns(table.SeqCol, table.TimeCol, table.DurCol)

	blocks := make([]block, 0, len(order))
	for _, key := range order {
		rows := groups[key]
		b := &table.Table{Columns: stripped.Columns, Info: stripped.Info}
		for _, r := range rows {
			b.Rows = append(b.Rows, stripped.Rows[r])
		}

		blockTime := nowUnix()
		if tv := t.Value(rows[0], table.TimeCol); tv != "" {
			if parsed, err := strconv.ParseInt(tv, 10, 64); err == nil {
				blockTime = parsed
			}
		}
		blocks = append(blocks, block{time: blockTime, body: b})
	}
	return blocks
}

func nowUnix() int64 { return time.Now().Unix() }
