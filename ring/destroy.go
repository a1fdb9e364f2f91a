package ring

import "github.com/SystemGarden/habitat-sub003/store"

// Destroy removes a ring by name and duration (spec §4.2.8). It opens the
// file standalone: destroying a ring does not require an existing handle
// on it, and any handle a caller does hold open becomes revoked the next
// time it touches the backend (spec §4.2.9).
func Destroy(backend store.Backend, path string, name string, dur int64) error {
	conn, err := backend.Open(path, 0, false)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.Lock(store.LockWrite, "ring.Destroy"); err != nil {
		return err
	}
	defer conn.Unlock()

	dir, err := conn.ReadRingDir()
	if err != nil {
		return err
	}
	row, found := dir.Find(name, dur)
	if !found {
		return store.New(store.KindNotFound, "ring.Destroy", nil)
	}

	newDir := make(store.RingDir, 0, len(dir)-1)
	for _, r := range dir {
		if r.ID == row.ID {
			continue
		}
		newDir = append(newDir, r)
	}
	if err := conn.WriteRingDir(newDir); err != nil {
		return err
	}

	super, err := conn.ReadSuper()
	if err != nil {
		return err
	}
	super.Generation++
	if err := conn.WriteSuper(super); err != nil {
		_ = conn.MarkDamaged()
		return store.New(store.KindCorrupt, "ring.Destroy", err)
	}

	idx, idxErr := conn.ReadIndex(row.ID)
	_ = conn.RemoveIndex(row.ID)
	if idxErr == nil && len(idx) > 0 {
		_, _ = conn.ExpireDataBlocks(row.ID, idx[0].Seq, idx[len(idx)-1].Seq)
	}

	return nil
}
