// Package ring implements the public ring engine API (spec §4.2): opening,
// closing and destroying rings, a stateful read cursor, put/get/mget,
// purge/resize and the header-interning scheme that backs them all.
package ring

import (
	"fmt"
	"os"
	"sync"

	"github.com/SystemGarden/habitat-sub003/store"
)

// revokedRingID marks a Handle whose ring has been destroyed out from under
// it (spec §4.2.9).
const revokedRingID = -1

// cursorUnset means "refresh on first read" (spec §4.2.1 step 6).
const cursorUnset = -1

// OpenOptions are the inputs to Open (spec §4.2.1).
type OpenOptions struct {
	Backend      store.Backend
	Path         string
	Perm         os.FileMode
	Name         string
	Long         string
	About        string
	SlotCapacity int64
	Duration     int64
	Create       bool
}

// Handle is the in-memory ring handle of spec §3: it wraps an open backend
// descriptor it does not own, and caches the ring's id, capacity, duration,
// header-intern table, cursor position and oldest/youngest sequences. A
// Handle must not be shared across goroutines without external
// synchronization (spec §5).
type Handle struct {
	backend store.Backend
	conn    store.Conn
	path    string

	name string
	dur  int64

	ringID   int64
	nslots   int64
	long     string
	about    string
	cursor   int64
	oldest   int64
	youngest int64

	headers map[uint32]string
}

// Revoked reports whether this handle's ring has been destroyed (spec
// §4.2.9).
func (h *Handle) Revoked() bool { return h.ringID == revokedRingID }

func (h *Handle) checkRevoked(op string) error {
	if h.Revoked() {
		return store.New(store.KindRingRevoked, op, nil)
	}
	return nil
}

// Open implements spec §4.2.1.
func Open(opts OpenOptions) (*Handle, error) {
	conn, err := opts.Backend.Open(opts.Path, opts.Perm, opts.Create)
	if err != nil {
		return nil, err
	}

	if err := conn.Lock(store.LockRead, "ring.Open"); err != nil {
		conn.Close()
		return nil, err
	}

	dir, err := conn.ReadRingDir()
	if err != nil {
		conn.Unlock()
		conn.Close()
		return nil, err
	}

	row, found := dir.Find(opts.Name, opts.Duration)
	if !found {
		conn.Unlock()
		if !opts.Create {
			conn.Close()
			return nil, store.New(store.KindNotFound, "ring.Open",
				fmt.Errorf("ring %q/%d not found", opts.Name, opts.Duration))
		}

		row, err = createRing(conn, opts)
		if err != nil {
			conn.Close()
			return nil, err
		}
	} else {
		conn.Unlock()
	}

	h := &Handle{
		backend:  opts.Backend,
		conn:     conn,
		path:     opts.Path,
		name:     row.Name,
		dur:      row.Dur,
		ringID:   row.ID,
		nslots:   row.NSlots,
		long:     row.Long,
		about:    row.About,
		cursor:   cursorUnset,
		oldest:   -1,
		youngest: -2,
		headers:  make(map[uint32]string),
	}

	if err := h.refreshBounds(); err != nil {
		conn.Close()
		return nil, err
	}
	return h, nil
}

// createRing implements spec §4.2.1 step 5: escalate to a write lock,
// allocate the next ring id from ring_counter (post-incremented), append
// the new row, persist ringdir and superblock, marking the file damaged if
// the superblock write fails after the ringdir write has already
// succeeded.
func createRing(conn store.Conn, opts OpenOptions) (store.RingRow, error) {
	if err := conn.Lock(store.LockWriteCreate, "ring.Open.create"); err != nil {
		return store.RingRow{}, err
	}
	defer conn.Unlock()

	// Re-validate: another writer may have created this ring while the
	// lock was being escalated (spec §4.2.7: any view held across
	// escalation must be re-read).
	dir, err := conn.ReadRingDir()
	if err != nil {
		return store.RingRow{}, err
	}
	if row, found := dir.Find(opts.Name, opts.Duration); found {
		return row, nil
	}

	super, err := conn.ReadSuper()
	if err != nil {
		return store.RingRow{}, err
	}

	id := super.RingCounter
	super.RingCounter++

	row := store.RingRow{
		Name:   opts.Name,
		Dur:    opts.Duration,
		ID:     id,
		Long:   opts.Long,
		About:  opts.About,
		NSlots: opts.SlotCapacity,
	}
	newDir := append(append(store.RingDir(nil), dir...), row)

	if err := conn.WriteRingDir(newDir); err != nil {
		return store.RingRow{}, store.New(store.KindIO, "ring.Open.create", err)
	}

	super.Generation++
	if err := conn.WriteSuper(super); err != nil {
		_ = conn.MarkDamaged()
		return store.RingRow{}, store.New(store.KindCorrupt, "ring.Open.create", err)
	}

	return row, nil
}

// refreshBounds reloads oldest/youngest from the ring's index. It is called
// once, at Open; Get's slow path (spec §4.2.3 step 3) performs the same
// reload inline.
func (h *Handle) refreshBounds() error {
	if err := h.conn.Lock(store.LockRead, "ring.refreshBounds"); err != nil {
		return err
	}
	defer h.conn.Unlock()

	dir, err := h.conn.ReadRingDir()
	if err != nil {
		return err
	}
	if _, found := dir.FindByID(h.ringID); !found {
		h.ringID = revokedRingID
		return store.New(store.KindRingRevoked, "ring.refreshBounds", nil)
	}

	idx, err := h.conn.ReadIndex(h.ringID)
	if err != nil {
		return err
	}
	if len(idx) == 0 {
		h.oldest = 0
		h.youngest = -1
		return nil
	}
	h.oldest = idx[0].Seq
	h.youngest = idx[len(idx)-1].Seq
	return nil
}

// Close releases the handle's backend descriptor. It owns no data once
// closed (spec §3).
func (h *Handle) Close() error {
	return h.conn.Close()
}

// Name, Duration, RingID, SlotCapacity, Oldest, Youngest and Cursor expose
// the handle's cached attributes.
func (h *Handle) Name() string         { return h.name }
func (h *Handle) Duration() int64      { return h.dur }
func (h *Handle) RingID() int64        { return h.ringID }
func (h *Handle) SlotCapacity() int64  { return h.nslots }
func (h *Handle) Oldest() int64        { return h.oldest }
func (h *Handle) Youngest() int64      { return h.youngest }
func (h *Handle) Cursor() int64        { return h.cursor }

// GotoSeq repositions the stateful read cursor without performing a read.
func (h *Handle) GotoSeq(seq int64) {
	h.cursor = seq
}

// handleKey identifies a cached Handle by the (path, name, duration)
// triple that spec §3 calls unique within a file.
type handleKey struct {
	path string
	name string
	dur  int64
}

// Engine is a per-file cache of open handles, so that a caller that
// reuses handles across ticks need not reopen the backend each time
// (spec §9: "the ring engine needs none beyond a per-file cache of open
// handles if callers reuse them"), the same way a long-lived connection
// is kept open across many calls instead of reconnecting each time.
type Engine struct {
	backend store.Backend

	mu      sync.Mutex
	handles map[handleKey]*Handle
}

// NewEngine returns an Engine over backend.
func NewEngine(backend store.Backend) *Engine {
	return &Engine{backend: backend, handles: make(map[handleKey]*Handle)}
}

// Open returns a cached Handle for (path, name, duration) if one is open
// and not revoked, otherwise opens and caches a fresh one.
func (e *Engine) Open(opts OpenOptions) (*Handle, error) {
	opts.Backend = e.backend
	key := handleKey{opts.Path, opts.Name, opts.Duration}

	e.mu.Lock()
	if h, ok := e.handles[key]; ok && !h.Revoked() {
		e.mu.Unlock()
		return h, nil
	}
	e.mu.Unlock()

	h, err := Open(opts)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.handles[key] = h
	e.mu.Unlock()
	return h, nil
}

// Destroy removes a ring and evicts it from the handle cache.
func (e *Engine) Destroy(path, name string, dur int64) error {
	if err := Destroy(e.backend, path, name, dur); err != nil {
		return err
	}
	e.mu.Lock()
	delete(e.handles, handleKey{path, name, dur})
	e.mu.Unlock()
	return nil
}

// CloseAll closes every cached handle, for orderly process shutdown.
func (e *Engine) CloseAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for k, h := range e.handles {
		h.Close()
		delete(e.handles, k)
	}
}
