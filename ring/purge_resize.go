package ring

import "github.com/SystemGarden/habitat-sub003/store"

// Purge removes min(n, live_count) samples from the oldest end (spec
// §4.2.5).
func (h *Handle) Purge(n int64) (int64, error) {
	if err := h.checkRevoked("ring.Purge"); err != nil {
		return 0, err
	}
	if err := h.conn.Lock(store.LockWrite, "ring.Purge"); err != nil {
		return 0, err
	}
	defer h.conn.Unlock()
	return h.purgeLocked(n)
}

// purgeLocked implements the purge algorithm assuming the write lock is
// already held by the caller (Resize calls this directly to avoid
// double-locking).
func (h *Handle) purgeLocked(n int64) (int64, error) {
	idx, err := h.conn.ReadIndex(h.ringID)
	if err != nil {
		return 0, err
	}
	if len(idx) == 0 {
		return 0, nil
	}

	liveCount := int64(len(idx))
	actual := n
	if actual > liveCount {
		actual = liveCount
	}
	if actual <= 0 {
		return 0, nil
	}

	oldOldest := h.oldest
	newOldest := oldOldest + actual

	if _, err := h.conn.ExpireDataBlocks(h.ringID, oldOldest, newOldest-1); err != nil {
		return 0, err
	}

	kept := idx[:0]
	for _, row := range idx {
		if row.Seq >= newOldest {
			kept = append(kept, row)
		}
	}
	if err := h.conn.WriteIndex(h.ringID, kept); err != nil {
		return 0, err
	}

	h.oldest = newOldest
	if h.cursor < h.oldest {
		h.cursor = h.oldest
	}
	return actual, nil
}

// Resize rewrites the ring's slot capacity, purging from the oldest end if
// the new capacity is smaller than the live sample count (spec §4.2.5).
func (h *Handle) Resize(newCapacity int64) error {
	if err := h.checkRevoked("ring.Resize"); err != nil {
		return err
	}
	if err := h.conn.Lock(store.LockWrite, "ring.Resize"); err != nil {
		return err
	}
	defer h.conn.Unlock()

	dir, err := h.conn.ReadRingDir()
	if err != nil {
		return err
	}
	if _, found := dir.FindByID(h.ringID); !found {
		h.ringID = revokedRingID
		return store.New(store.KindRingRevoked, "ring.Resize", nil)
	}

	for i := range dir {
		if dir[i].ID == h.ringID {
			dir[i].NSlots = newCapacity
		}
	}
	if err := h.conn.WriteRingDir(dir); err != nil {
		return err
	}
	h.nslots = newCapacity

	if newCapacity > 0 {
		liveCount := h.youngest - h.oldest + 1
		if liveCount > newCapacity {
			if _, err := h.purgeLocked(liveCount - newCapacity); err != nil {
				return err
			}
		}
	}
	return nil
}
