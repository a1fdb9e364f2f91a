package ring

import (
	"fmt"

	"github.com/SystemGarden/habitat-sub003/store"
)

// internHeader returns the hash under which headerText is (or becomes)
// stored in the file's shared header dictionary (spec §4.2.6). Identical
// text always interns to the same hash; a hash collision between distinct
// texts is resolved by linear probing (hash+1, hash+2, ...), bounded by
// maxProbe to fail Corrupt on a pathological chain rather than loop
// forever (spec §9).
//
// The handle's own h.headers is consulted first as a read-through cache;
// on a miss it is refreshed from the backend exactly once before treating
// the slot as a genuine miss eligible for insertion, so that a header
// interned by a concurrent writer after this handle was opened is not
// reinserted as a duplicate under a different hash.
func (h *Handle) internHeader(headerText string) (uint32, error) {
	base := hashHeader(headerText)

	if hash, ok := h.lookupCached(base, headerText); ok {
		return hash, nil
	}

	reloaded := false
	for attempt := 0; attempt < maxProbe; attempt++ {
		hash := base + uint32(attempt)

		existing, ok := h.headers[hash]
		if !ok && !reloaded {
			if err := h.reloadHeaders(); err != nil {
				return 0, err
			}
			reloaded = true
			existing, ok = h.headers[hash]
		}

		if !ok {
			if err := h.insertHeader(hash, headerText); err != nil {
				return 0, err
			}
			return hash, nil
		}
		if existing == headerText {
			return hash, nil
		}
		// collision: distinct text at this slot, probe the next one.
	}

	return 0, store.New(store.KindCorrupt, "ring.internHeader",
		fmt.Errorf("header dictionary probe exceeded %d attempts", maxProbe))
}

// lookupCached searches the handle's in-memory header cache starting at
// base, following the same probe sequence internHeader would use, without
// touching the backend. It stops at the first empty cache slot: a slot
// this handle has never seen locally is not proof the backend doesn't
// have it, so callers must fall back to a reload rather than treat this
// as authoritative.
func (h *Handle) lookupCached(base uint32, headerText string) (uint32, bool) {
	for attempt := 0; attempt < maxProbe; attempt++ {
		hash := base + uint32(attempt)
		text, ok := h.headers[hash]
		if !ok {
			return 0, false
		}
		if text == headerText {
			return hash, true
		}
	}
	return 0, false
}

// reloadHeaders refreshes the handle's header cache from the backend's
// shared dictionary under a read lock.
func (h *Handle) reloadHeaders() error {
	if err := h.conn.Lock(store.LockRead, "ring.reloadHeaders"); err != nil {
		return err
	}
	defer h.conn.Unlock()

	dict, err := h.conn.ReadHeaders()
	if err != nil {
		return err
	}
	for hash, text := range dict {
		h.headers[hash] = text
	}
	return nil
}

// insertHeader writes a new dictionary entry under hash, escalating to a
// write lock and re-checking for a concurrent insert at the same slot
// before committing (spec §4.2.7: any view held across escalation must be
// re-read).
func (h *Handle) insertHeader(hash uint32, headerText string) error {
	if err := h.conn.Lock(store.LockWrite, "ring.insertHeader"); err != nil {
		return err
	}
	defer h.conn.Unlock()

	dict, err := h.conn.ReadHeaders()
	if err != nil {
		return err
	}
	if dict == nil {
		dict = make(store.HeaderDict)
	}
	if existing, ok := dict[hash]; ok {
		h.headers[hash] = existing
		if existing == headerText {
			return nil
		}
		return store.New(store.KindCorrupt, "ring.insertHeader",
			fmt.Errorf("slot %d occupied by a concurrent insert", hash))
	}

	dict[hash] = headerText
	if err := h.conn.WriteHeaders(dict); err != nil {
		return err
	}
	h.headers[hash] = headerText
	return nil
}

// resolveHeader returns the header text for hash, reloading the shared
// dictionary once if the handle's cache has not seen it yet (spec
// §4.2.3/§4.2.6: a reader opened before a header was interned must still
// be able to resolve it).
func (h *Handle) resolveHeader(hash uint32) (string, error) {
	if text, ok := h.headers[hash]; ok {
		return text, nil
	}
	if err := h.reloadHeaders(); err != nil {
		return "", err
	}
	text, ok := h.headers[hash]
	if !ok {
		return "", store.New(store.KindCorrupt, "ring.resolveHeader",
			fmt.Errorf("unknown header hash %d", hash))
	}
	return text, nil
}
