package ring

import (
	"sort"

	"github.com/SystemGarden/habitat-sub003/store"
	"github.com/SystemGarden/habitat-sub003/table"
)

// wildcard bound sentinels for MgetRange (spec §4.2.4).
const Wildcard = int64(-1)

// MgetN returns up to n consecutive samples from the cursor and advances
// it (spec §4.2.4).
func (h *Handle) MgetN(n int) (*table.Table, error) {
	if err := h.checkRevoked("ring.MgetN"); err != nil {
		return nil, err
	}
	if err := h.conn.Lock(store.LockRead, "ring.MgetN"); err != nil {
		return nil, err
	}
	defer h.conn.Unlock()

	h.clampCursor()
	return h.mgetRangeLocked(h.cursor, h.cursor+int64(n)-1, Wildcard, Wildcard, true)
}

// MgetToTime returns all samples from the cursor up to and including those
// whose time is <= t, and advances the cursor past them.
func (h *Handle) MgetToTime(t int64) (*table.Table, error) {
	if err := h.checkRevoked("ring.MgetToTime"); err != nil {
		return nil, err
	}
	if err := h.conn.Lock(store.LockRead, "ring.MgetToTime"); err != nil {
		return nil, err
	}
	defer h.conn.Unlock()

	h.clampCursor()
	return h.mgetRangeLocked(h.cursor, Wildcard, Wildcard, t, true)
}

// MgetRange is the stateless range read (spec §4.2.4). Any bound may be
// Wildcard.
func (h *Handle) MgetRange(fromSeq, toSeq, fromTime, toTime int64) (*table.Table, error) {
	if err := h.checkRevoked("ring.MgetRange"); err != nil {
		return nil, err
	}
	if err := h.conn.Lock(store.LockRead, "ring.MgetRange"); err != nil {
		return nil, err
	}
	defer h.conn.Unlock()

	return h.mgetRangeLocked(fromSeq, toSeq, fromTime, toTime, false)
}

// mgetRangeLocked must be called with the read lock already held. When
// advanceCursor is true the handle's cursor is moved past the last
// selected row (used by MgetN/MgetToTime, which are defined as stateful
// wrappers over this stateless selection).
func (h *Handle) mgetRangeLocked(fromSeq, toSeq, fromTime, toTime int64, advanceCursor bool) (*table.Table, error) {
	idx, err := h.conn.ReadIndex(h.ringID)
	if err != nil {
		return nil, err
	}

	var matched []store.IndexRow
	for _, row := range idx {
		if fromSeq != Wildcard && row.Seq < fromSeq {
			continue
		}
		if toSeq != Wildcard && row.Seq > toSeq {
			continue
		}
		if fromTime != Wildcard && row.Time < fromTime {
			continue
		}
		if toTime != Wildcard && row.Time > toTime {
			continue
		}
		matched = append(matched, row)
	}
	if len(matched) == 0 {
		return nil, noData("ring.mget")
	}

	startSeq := matched[0].Seq
	n := int(matched[len(matched)-1].Seq-startSeq) + 1
	blocks, err := h.conn.ReadDataBlocks(h.ringID, startSeq, n)
	if err != nil {
		return nil, err
	}

	wanted := make(map[int64]bool, len(matched))
	for _, row := range matched {
		wanted[row.Seq] = true
	}

	var out *table.Table
	for _, blk := range blocks {
		if !wanted[blk.Seq] {
			continue
		}
		row, err := h.buildRow(blk, true)
		if err != nil {
			return nil, err
		}
		out = mergeTable(out, row)
	}
	if out == nil {
		return nil, noData("ring.mget")
	}

	if advanceCursor {
		h.cursor = matched[len(matched)-1].Seq + 1
	}
	return out, nil
}

// mergeTable appends next's rows onto acc, adopting next's schema when acc
// is nil. Used to accumulate single-block tables from mget and
// consolidation into one result.
func mergeTable(acc, next *table.Table) *table.Table {
	if acc == nil {
		return next
	}
	for _, row := range next.Rows {
		acc.Rows = append(acc.Rows, row)
	}
	return acc
}

// MgetCons performs consolidation across all rings sharing ringName,
// regardless of duration (spec §4.2.4 mget_cons). It opens the file
// standalone rather than operating on an existing Handle, since it spans
// rings a single handle cannot represent.
func MgetCons(backend store.Backend, path string, ringName string, fromTime, toTime int64) (*table.Table, error) {
	conn, err := backend.Open(path, 0, false)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if err := conn.Lock(store.LockRead, "ring.MgetCons"); err != nil {
		return nil, err
	}
	defer conn.Unlock()

	dir, err := conn.ReadRingDir()
	if err != nil {
		return nil, err
	}
	rows := dir.FindByName(ringName)
	if len(rows) == 0 {
		return nil, noData("ring.MgetCons")
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Dur < rows[j].Dur })

	headers := make(map[uint32]string)
	windowTo := toTime

	var result *table.Table
	for _, row := range rows {
		if fromTime != Wildcard && windowTo != Wildcard && windowTo < fromTime {
			break
		}

		idx, err := conn.ReadIndex(row.ID)
		if err != nil {
			return nil, err
		}

		var matched []store.IndexRow
		for _, r := range idx {
			if fromTime != Wildcard && r.Time < fromTime {
				continue
			}
			if windowTo != Wildcard && r.Time > windowTo {
				continue
			}
			matched = append(matched, r)
		}
		if len(matched) == 0 {
			continue
		}

		startSeq := matched[0].Seq
		n := int(matched[len(matched)-1].Seq-startSeq) + 1
		blocks, err := conn.ReadDataBlocks(row.ID, startSeq, n)
		if err != nil {
			return nil, err
		}
		wanted := make(map[int64]bool, len(matched))
		oldestMatchedTime := matched[0].Time
		for _, r := range matched {
			wanted[r.Seq] = true
			if r.Time < oldestMatchedTime {
				oldestMatchedTime = r.Time
			}
		}

		for _, blk := range blocks {
			if !wanted[blk.Seq] {
				continue
			}
			headerText, err := resolveHeaderStandalone(conn, headers, blk.HeaderHash)
			if err != nil {
				return nil, err
			}
			columns, info, err := table.ParseHeaderText(headerText)
			if err != nil {
				return nil, store.New(store.KindCorrupt, "ring.MgetCons", err)
			}
			t := &table.Table{Columns: columns, Info: info}
			t.Rows = table.ParseBody(columns, blk.Body)
			t = withMeta(t, blk.Seq, blk.Time, row.Dur)
			result = mergeTable(result, t)
		}

		// Finer (lower-duration) rings win: shrink the window so the next,
		// coarser ring only contributes data strictly older than what this
		// ring already covered.
		windowTo = oldestMatchedTime - 1
	}

	if result == nil {
		return nil, noData("ring.MgetCons")
	}
	result.SortByTimeAscending()
	return result, nil
}

func resolveHeaderStandalone(conn store.Conn, cache map[uint32]string, hash uint32) (string, error) {
	if text, ok := cache[hash]; ok {
		return text, nil
	}
	dict, err := conn.ReadHeaders()
	if err != nil {
		return "", err
	}
	for h, text := range dict {
		cache[h] = text
	}
	text, ok := cache[hash]
	if !ok {
		return "", store.New(store.KindCorrupt, "ring.MgetCons", nil)
	}
	return text, nil
}
