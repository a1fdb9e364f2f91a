package store

// Magic identifies a valid ringstore file (spec §6): any file whose
// "superblock" key either does not exist or whose first pipe-separated
// token does not equal Magic is rejected without modification.
const Magic = "RSv1"

// SuperVersion is the on-disk superblock format version this module
// writes.
const SuperVersion = 1

// Superblock is the single per-file record described in spec §3/§6.
type Superblock struct {
	Magic       string
	Version     int
	Created     int64
	OSName      string
	OSRelease   string
	OSVersion   string
	Host        string
	Domain      string
	Machine     string
	TZOffsetSec int
	Generation  int64
	RingCounter int64
}

// RingRow is one row of the ring directory table (spec §3/§6).
type RingRow struct {
	Name   string
	Dur    int64
	ID     int64
	Long   string
	About  string
	NSlots int64
}

// RingDir is the full ring directory table.
type RingDir []RingRow

// Find returns the row matching (name, dur), if any.
func (d RingDir) Find(name string, dur int64) (RingRow, bool) {
	for _, r := range d {
		if r.Name == name && r.Dur == dur {
			return r, true
		}
	}
	return RingRow{}, false
}

// FindByName returns every row with the given name, in the order they
// appear in the directory. mget_cons (spec §4.2.4) relies on the caller
// then sorting by Dur ascending.
func (d RingDir) FindByName(name string) []RingRow {
	var out []RingRow
	for _, r := range d {
		if r.Name == name {
			out = append(out, r)
		}
	}
	return out
}

// FindByID returns the row for ringID, if any.
func (d RingDir) FindByID(ringID int64) (RingRow, bool) {
	for _, r := range d {
		if r.ID == ringID {
			return r, true
		}
	}
	return RingRow{}, false
}

// HeaderDict is the interning table: 32-bit hash -> serialized header text
// (spec §3/§4.2.6).
type HeaderDict map[uint32]string

// IndexRow is one row of a ring's index (spec §3).
type IndexRow struct {
	Seq        int64
	Time       int64
	HeaderHash uint32
}

// Index is a ring's full, seq-ordered index.
type Index []IndexRow

// DataBlock is the persisted body of one sample at (ring_id, seq) (spec §3),
// carrying its own time and header hash redundantly for index-free fast-path
// reads.
type DataBlock struct {
	Seq        int64
	Time       int64
	HeaderHash uint32
	Body       []byte
}
